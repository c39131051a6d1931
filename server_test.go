package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	b := newTestJSONBackend(t)
	tools := &Toolbox{
		Backend:        b,
		Engine:         NewRuleEngine(b.Spots(), testLogger()),
		Learner:        NewPatternLearner(b.Sessions(), b.Patterns(), testLogger()),
		MinOccurrences: DefaultMinOccurrences,
	}
	ts := httptest.NewServer(NewServer(tools, testLogger()).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postRPC(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/mcp", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func call(t *testing.T, ts *httptest.Server, method string, params any) rpcReply {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)
	resp := postRPC(t, ts, string(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply rpcReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	return reply
}

func callTool(t *testing.T, ts *httptest.Server, name string, args map[string]any) ToolResult {
	t.Helper()
	reply := call(t, ts, "tools/call", map[string]any{"name": name, "arguments": args})
	require.Nil(t, reply.Error)
	var result ToolResult
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	require.NotEmpty(t, result.Content)
	return result
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)
	callTool(t, ts, "suggest_lures", map[string]any{"species": "bass", "date": "2026-07-01"})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "lure_advisor_suggestions_total")
}

func TestServer_InitializeAndList(t *testing.T) {
	ts := newTestServer(t)

	reply := call(t, ts, "initialize", map[string]any{})
	require.Nil(t, reply.Error)
	assert.Contains(t, string(reply.Result), "lure-advisor-mcp")

	reply = call(t, ts, "tools/list", map[string]any{})
	require.Nil(t, reply.Error)
	var list struct {
		Tools []Tool `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &list))
	assert.Len(t, list.Tools, len(GetTools()))
}

func TestServer_UnknownMethod(t *testing.T) {
	ts := newTestServer(t)
	reply := call(t, ts, "resources/list", map[string]any{})
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32601, reply.Error.Code)
}

func TestServer_ParseError(t *testing.T) {
	ts := newTestServer(t)
	resp := postRPC(t, ts, "{nope")
	var reply rpcReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32700, reply.Error.Code)
}

func TestServer_NotificationIsAccepted(t *testing.T) {
	ts := newTestServer(t)
	resp := postRPC(t, ts, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestServer_Batch(t *testing.T) {
	ts := newTestServer(t)
	resp := postRPC(t, ts, `[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":2,"method":"tools/list"}
	]`)
	var replies []rpcReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&replies))
	assert.Len(t, replies, 2)
}

func TestTools_SuggestLures(t *testing.T) {
	ts := newTestServer(t)

	res := callTool(t, ts, "suggest_lures", map[string]any{
		"species":     "perche",
		"structure":   []string{},
		"conditions":  []string{"nuages"},
		"spot_type":   "étang",
		"temperature": 8,
		"date":        "2026-01-10",
	})
	require.False(t, res.IsError)
	text := res.Content[0].Text
	assert.Contains(t, text, "Season: hiver")
	assert.Contains(t, text, "Dropshot")
	assert.Contains(t, text, "6-10 m")

	res = callTool(t, ts, "list_spots", nil)
	assert.Contains(t, res.Content[0].Text, "étang")
}

func TestTools_SuggestLuresBadDate(t *testing.T) {
	ts := newTestServer(t)
	res := callTool(t, ts, "suggest_lures", map[string]any{"species": "perche", "date": "10/01/2026"})
	assert.True(t, res.IsError)
}

func TestTools_LogLearnAndList(t *testing.T) {
	ts := newTestServer(t)
	session := map[string]any{
		"species":     "Brochet",
		"spot_type":   "rivière",
		"conditions":  []string{"pluie"},
		"lure_used":   "Jerk-Minnow",
		"result_fish": "brochet",
		"date":        "2026-10-01",
	}

	for i := 0; i < 2; i++ {
		res := callTool(t, ts, "log_session", session)
		require.False(t, res.IsError, res.Content[0].Text)
	}

	res := callTool(t, ts, "learn_patterns", map[string]any{})
	require.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "Learned 1 new pattern")
	assert.Contains(t, res.Content[0].Text, "brochet | rivière | [pluie] | Jerk-Minnow")

	res = callTool(t, ts, "learn_patterns", map[string]any{})
	assert.Equal(t, "No new patterns learned.", res.Content[0].Text)

	res = callTool(t, ts, "list_patterns", nil)
	assert.Contains(t, res.Content[0].Text, "Learned patterns (1)")

	res = callTool(t, ts, "get_stats", nil)
	assert.Regexp(t, `sessions\s+2`, res.Content[0].Text)
}

func TestTools_LogSessionValidation(t *testing.T) {
	ts := newTestServer(t)

	res := callTool(t, ts, "log_session", map[string]any{"species": "perche", "spot_type": "étang"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "LureUsed")

	res = callTool(t, ts, "log_session", map[string]any{
		"species": "perche", "spot_type": "étang", "lure_used": "Dropshot", "conditions": []string{" "},
	})
	assert.True(t, res.IsError)
}

var revisionRe = regexp.MustCompile(`revision: (\S+)`)

func TestTools_DeleteSession(t *testing.T) {
	ts := newTestServer(t)
	for _, sp := range []string{"perche", "sandre"} {
		res := callTool(t, ts, "log_session", map[string]any{"species": sp, "spot_type": "rivière", "lure_used": "Shad"})
		require.False(t, res.IsError)
	}

	listed := callTool(t, ts, "list_sessions", nil).Content[0].Text
	m := revisionRe.FindStringSubmatch(listed)
	require.Len(t, m, 2, listed)
	revision := m[1]
	assert.Contains(t, listed, "[1]")
	assert.Contains(t, listed, "no catch")

	res := callTool(t, ts, "delete_session", map[string]any{"index": 0, "revision": revision})
	require.False(t, res.IsError, res.Content[0].Text)
	assert.Contains(t, res.Content[0].Text, "perche")

	res = callTool(t, ts, "delete_session", map[string]any{"index": 0, "revision": revision})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "list_sessions again")

	res = callTool(t, ts, "delete_session", map[string]any{"revision": revision})
	assert.True(t, res.IsError)
}

func TestTools_UnknownTool(t *testing.T) {
	ts := newTestServer(t)
	res := callTool(t, ts, "sponsor_crud", nil)
	assert.True(t, res.IsError)
	assert.Equal(t, fmt.Sprintf("unknown tool: %s", "sponsor_crud"), res.Content[0].Text)
}
