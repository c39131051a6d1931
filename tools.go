package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// ── MCP protocol types ───────────────────────────────────────────────────────

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Items       *Property `json:"items,omitempty"`
	Default     any       `json:"default,omitempty"`
}

type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func textResult(text string) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

var stringList = &Property{Type: "string"}

var validate = validator.New()

// ── Tool definitions ─────────────────────────────────────────────────────────

func GetTools() []Tool {
	return []Tool{
		{
			Name: "suggest_lures",
			Description: `Recommend lures and techniques for a fishing context.
The season is taken from 'date' when given, otherwise from today's date.
Every returned lure and technique must be passed on to the angler verbatim.`,
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"species":     {Type: "string", Description: "Target species, free text (perche, brochet, bass, chevesne, sandre)"},
					"structure":   {Type: "array", Items: stringList, Description: "Structure tokens (e.g. herbiers, bois, rochers, fond)"},
					"conditions":  {Type: "array", Items: stringList, Description: "Weather/water tokens (e.g. soleil, nuages, pluie, clair, trouble)"},
					"spot_type":   {Type: "string", Description: "Spot type (e.g. étang, rivière)"},
					"temperature": {Type: "number", Description: "Optional water temperature in °C, enables depth advice"},
					"date":        {Type: "string", Description: "Optional date (YYYY-MM-DD or RFC3339) used to pick the season"},
				},
				Required: []string{"species"},
			},
		},
		{
			Name:        "log_session",
			Description: "Record a fishing session. Repeated sessions are later learned as patterns.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"species":     {Type: "string", Description: "Species targeted"},
					"spot_type":   {Type: "string", Description: "Spot type fished"},
					"conditions":  {Type: "array", Items: stringList, Description: "Condition tokens, order is kept"},
					"lure_used":   {Type: "string", Description: "Lure used"},
					"result_fish": {Type: "string", Description: "Catch description (default 'no catch')"},
					"date":        {Type: "string", Description: "Session date (YYYY-MM-DD or RFC3339, default now)"},
				},
				Required: []string{"species", "spot_type", "lure_used"},
			},
		},
		{
			Name:        "list_sessions",
			Description: "List logged sessions with their index and the log revision needed by delete_session.",
			InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
		},
		{
			Name:        "delete_session",
			Description: "Delete a session by its index in the list returned by list_sessions. Fails if the log changed since.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"index":    {Type: "integer", Description: "Index from list_sessions"},
					"revision": {Type: "string", Description: "Revision from the same list_sessions call"},
				},
				Required: []string{"index", "revision"},
			},
		},
		{
			Name:        "learn_patterns",
			Description: "Scan the session log and learn combinations that occur at least min_occurrences times.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"min_occurrences": {Type: "integer", Description: "Occurrence threshold (default from config)"},
				},
			},
		},
		{
			Name:        "list_patterns",
			Description: "List learned patterns.",
			InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
		},
		{
			Name:        "list_spots",
			Description: "List every spot type seen so far.",
			InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
		},
		{
			Name:        "get_stats",
			Description: "Count sessions, learned patterns and spot types.",
			InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
		},
	}
}

// Toolbox holds what the tool handlers operate on.
type Toolbox struct {
	Backend        Backend
	Engine         *RuleEngine
	Learner        *PatternLearner
	MinOccurrences int
}

// ── Dispatch ─────────────────────────────────────────────────────────────────

func (tb *Toolbox) HandleTool(ctx context.Context, name string, args json.RawMessage) ToolResult {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	switch name {
	case "suggest_lures":
		return tb.handleSuggest(ctx, args)
	case "log_session":
		return tb.handleLogSession(ctx, args)
	case "list_sessions":
		return tb.handleListSessions(ctx)
	case "delete_session":
		return tb.handleDeleteSession(ctx, args)
	case "learn_patterns":
		return tb.handleLearn(ctx, args)
	case "list_patterns":
		return tb.handleListPatterns(ctx)
	case "list_spots":
		return tb.handleListSpots(ctx)
	case "get_stats":
		return tb.handleStats(ctx)
	default:
		return errorResult(fmt.Sprintf("unknown tool: %s", name))
	}
}

// ── Handlers ─────────────────────────────────────────────────────────────────

func (tb *Toolbox) handleSuggest(ctx context.Context, args json.RawMessage) ToolResult {
	var p struct {
		Species     string   `json:"species"`
		Structure   []string `json:"structure"`
		Conditions  []string `json:"conditions"`
		SpotType    string   `json:"spot_type"`
		Temperature *float64 `json:"temperature"`
		Date        string   `json:"date"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	at, err := parseDate(p.Date)
	if err != nil {
		return errorResult(err.Error())
	}
	if at.IsZero() {
		at = tb.Engine.now()
	}

	rec := tb.Engine.Suggest(ctx, SuggestRequest{
		Species:     p.Species,
		Structure:   p.Structure,
		Conditions:  p.Conditions,
		SpotType:    p.SpotType,
		Temperature: p.Temperature,
		At:          at,
	})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Season: %s\n", SeasonAt(at)))
	sb.WriteString(fmt.Sprintf("Suggested lures (%d):\n", len(rec.Lures)))
	for i, l := range rec.Lures {
		sb.WriteString(fmt.Sprintf("  %d. %s : %s\n", i+1, l.Lure, l.Technique))
	}
	if len(rec.DepthAdvice) > 0 {
		sb.WriteString("Depth advice:\n")
		for _, d := range rec.DepthAdvice {
			sb.WriteString("  - " + d + "\n")
		}
	}
	return textResult(sb.String())
}

type logSessionArgs struct {
	Species    string   `json:"species" validate:"required"`
	SpotType   string   `json:"spot_type" validate:"required"`
	Conditions []string `json:"conditions" validate:"dive,required"`
	LureUsed   string   `json:"lure_used" validate:"required"`
	ResultFish string   `json:"result_fish"`
	Date       string   `json:"date"`
}

func (tb *Toolbox) handleLogSession(ctx context.Context, args json.RawMessage) ToolResult {
	var p logSessionArgs
	if err := json.Unmarshal(args, &p); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	p.Species = normalizeToken(p.Species)
	p.SpotType = normalizeToken(p.SpotType)
	p.LureUsed = strings.TrimSpace(p.LureUsed)
	p.ResultFish = strings.TrimSpace(p.ResultFish)
	conditions := make([]string, 0, len(p.Conditions))
	for _, c := range p.Conditions {
		conditions = append(conditions, normalizeToken(c))
	}
	p.Conditions = conditions
	if err := validate.Struct(p); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	if p.ResultFish == "" {
		p.ResultFish = "no catch"
	}
	date, err := parseDate(p.Date)
	if err != nil {
		return errorResult(err.Error())
	}
	if date.IsZero() {
		date = time.Now().UTC()
	}

	sess := Session{
		Species:    p.Species,
		SpotType:   p.SpotType,
		Conditions: p.Conditions,
		LureUsed:   p.LureUsed,
		ResultFish: p.ResultFish,
		Date:       date,
	}
	if err := tb.Backend.Sessions().Append(ctx, sess); err != nil {
		return errorResult("failed to log session: " + err.Error())
	}
	sessionsLogged.Inc()
	return textResult(fmt.Sprintf("Session logged: %s at %s with %s (%s).", sess.Species, sess.SpotType, sess.LureUsed, sess.ResultFish))
}

func (tb *Toolbox) handleListSessions(ctx context.Context) ToolResult {
	snap, err := tb.Backend.Sessions().Snapshot(ctx)
	if err != nil {
		return errorResult("list failed: " + err.Error())
	}
	if len(snap.Sessions) == 0 {
		return textResult(fmt.Sprintf("No sessions logged yet.\nrevision: %s\n", snap.Revision))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Sessions (%d), revision: %s\n\n", len(snap.Sessions), snap.Revision))
	for i, s := range snap.Sessions {
		sb.WriteString(fmt.Sprintf("[%d] %s | %s | %s | [%s] | %s -> %s\n",
			i, s.Date.Format("2006-01-02"), s.Species, s.SpotType,
			strings.Join(s.Conditions, ", "), s.LureUsed, s.ResultFish))
	}
	return textResult(sb.String())
}

func (tb *Toolbox) handleDeleteSession(ctx context.Context, args json.RawMessage) ToolResult {
	var p struct {
		Index    *int   `json:"index"`
		Revision string `json:"revision"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	if p.Index == nil || p.Revision == "" {
		return errorResult("invalid arguments: index and revision are required")
	}
	removed, err := tb.Backend.Sessions().DeleteAt(ctx, *p.Index, p.Revision)
	switch {
	case errors.Is(err, ErrStaleSnapshot):
		return errorResult("session log changed since it was listed; call list_sessions again")
	case err != nil:
		return errorResult("delete failed: " + err.Error())
	}
	return textResult(fmt.Sprintf("Session %d deleted (%s at %s with %s).", *p.Index, removed.Species, removed.SpotType, removed.LureUsed))
}

func (tb *Toolbox) handleLearn(ctx context.Context, args json.RawMessage) ToolResult {
	var p struct {
		MinOccurrences int `json:"min_occurrences"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	if p.MinOccurrences < 1 {
		p.MinOccurrences = tb.MinOccurrences
	}
	promoted, err := tb.Learner.Analyze(ctx, p.MinOccurrences)
	if err != nil {
		return errorResult("learning failed: " + err.Error())
	}
	if len(promoted) == 0 {
		return textResult("No new patterns learned.")
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Learned %d new pattern(s):\n", len(promoted)))
	writePatterns(&sb, promoted)
	return textResult(sb.String())
}

func (tb *Toolbox) handleListPatterns(ctx context.Context) ToolResult {
	patterns, err := tb.Backend.Patterns().Patterns(ctx)
	if err != nil {
		return errorResult("list failed: " + err.Error())
	}
	if len(patterns) == 0 {
		return textResult("No patterns learned yet.")
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Learned patterns (%d):\n", len(patterns)))
	writePatterns(&sb, patterns)
	return textResult(sb.String())
}

func (tb *Toolbox) handleListSpots(ctx context.Context) ToolResult {
	spots, err := tb.Backend.Spots().Spots(ctx)
	if err != nil {
		return errorResult("list failed: " + err.Error())
	}
	if len(spots) == 0 {
		return textResult("No spot types seen yet.")
	}
	return textResult(fmt.Sprintf("Spot types (%d): %s", len(spots), strings.Join(spots, ", ")))
}

func (tb *Toolbox) handleStats(ctx context.Context) ToolResult {
	snap, err := tb.Backend.Sessions().Snapshot(ctx)
	if err != nil {
		return errorResult("stats failed: " + err.Error())
	}
	patterns, err := tb.Backend.Patterns().Patterns(ctx)
	if err != nil {
		return errorResult("stats failed: " + err.Error())
	}
	spots, err := tb.Backend.Spots().Spots(ctx)
	if err != nil {
		return errorResult("stats failed: " + err.Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %-20s %d\n", "sessions", len(snap.Sessions)))
	sb.WriteString(fmt.Sprintf("  %-20s %d\n", "learned patterns", len(patterns)))
	sb.WriteString(fmt.Sprintf("  %-20s %d\n", "spot types", len(spots)))
	return textResult(sb.String())
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func writePatterns(sb *strings.Builder, patterns []LearnedPattern) {
	for _, p := range patterns {
		sb.WriteString(fmt.Sprintf("  - %s | %s | [%s] | %s\n", p.Species, p.SpotType, strings.Join(p.Conditions, ", "), p.LureUsed))
	}
}

// parseDate accepts RFC3339 or a bare date. Empty input yields the zero
// time.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t, nil
}
