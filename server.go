package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ── JSON-RPC types ────────────────────────────────────────────────────────────

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ── Server ────────────────────────────────────────────────────────────────────

type Server struct {
	tools   *Toolbox
	logger  zerolog.Logger
	version string
}

func NewServer(tools *Toolbox, logger zerolog.Logger) *Server {
	return &Server{
		tools:   tools,
		logger:  logger.With().Str("component", "mcp").Logger(),
		version: "1.0.0",
	}
}

// Handler returns the router serving the MCP endpoint, health and metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	// Chat front-ends are usually on another origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", "Mcp-Session-Id"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	}))

	// Streamable HTTP: POST carries JSON-RPC, GET holds an SSE stream
	r.Post("/mcp", s.handlePost)
	r.Get("/mcp", s.handleSSEStream)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// Support both single request and batch (array)
	trimmed := trimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		s.handleBatch(r.Context(), w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, -32700, "parse error")
		return
	}

	result, rpcErr := s.dispatch(r.Context(), &req)
	resp := Response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}

	// Notifications have no ID and expect no response body
	if req.ID == nil && rpcErr == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleBatch(ctx context.Context, w http.ResponseWriter, body []byte) {
	var reqs []Request
	if err := json.Unmarshal(body, &reqs); err != nil {
		writeError(w, nil, -32700, "parse error")
		return
	}

	responses := []Response{}
	for _, req := range reqs {
		result, rpcErr := s.dispatch(ctx, &req)
		resp := Response{JSONRPC: "2.0", ID: req.ID}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}
		if req.ID != nil {
			responses = append(responses, resp)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// handleSSEStream keeps an idle event stream open for clients that insist
// on one; nothing is pushed on it.
func (s *Server) handleSSEStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: {}\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	<-r.Context().Done()
}

// ── JSON-RPC dispatch ─────────────────────────────────────────────────────────

func (s *Server) dispatch(ctx context.Context, req *Request) (any, *RPCError) {
	s.logger.Debug().Str("method", req.Method).Interface("id", req.ID).Msg("rpc")

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req.Params)
	case "notifications/initialized":
		return nil, nil
	case "ping":
		return map[string]string{}, nil
	case "tools/list":
		return map[string]any{"tools": GetTools()}, nil
	case "tools/call":
		return s.handleToolCall(ctx, req.Params)
	default:
		return nil, &RPCError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
}

func (s *Server) handleInitialize(params json.RawMessage) (any, *RPCError) {
	return map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "lure-advisor-mcp",
			"version": s.version,
		},
		"instructions": `This is a fishing lure advisor.
Call 'suggest_lures' with the species, structure, conditions and spot type to get recommendations.
When rephrasing the answer keep every lure and technique exactly as returned and do not add new ones.
Record outings with 'log_session'; 'learn_patterns' turns repeated outings into learned patterns.`,
	}, nil
}

func (s *Server) handleToolCall(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var p struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: -32602, Message: "invalid params"}
	}

	s.logger.Info().Str("tool", p.Name).Msg("tool call")
	result := s.tools.HandleTool(ctx, p.Name, p.Arguments)
	if result.IsError {
		s.logger.Warn().Str("tool", p.Name).Str("error", result.Content[0].Text).Msg("tool failed")
	}
	return result, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func writeError(w http.ResponseWriter, id any, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: msg},
	})
}

func trimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\t' || b[start] == '\n' || b[start] == '\r') {
		start++
	}
	return b[start:]
}
