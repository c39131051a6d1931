package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultMinOccurrences is how many identical sessions it takes to
// promote a pattern when no threshold is configured.
const DefaultMinOccurrences = 2

// PatternLearner promotes session combinations that recur often enough
// into the learned pattern store.
type PatternLearner struct {
	sessions SessionStore
	patterns PatternStore
	logger   zerolog.Logger

	// mu keeps analysis passes from interleaving.
	mu sync.Mutex
}

func NewPatternLearner(sessions SessionStore, patterns PatternStore, logger zerolog.Logger) *PatternLearner {
	return &PatternLearner{
		sessions: sessions,
		patterns: patterns,
		logger:   logger.With().Str("component", "learner").Logger(),
	}
}

// occurrence groups sessions sharing the full counting key.
type occurrence struct {
	pattern LearnedPattern
	count   int
}

// Analyze scans the session log and returns the patterns promoted by
// this call. Sessions are counted by species, spot type, ordered
// conditions, lure and result; promotion is deduplicated on the pattern
// identity alone, so the result never creates a second pattern.
// minOccurrences below 1 means DefaultMinOccurrences.
func (l *PatternLearner) Analyze(ctx context.Context, minOccurrences int) ([]LearnedPattern, error) {
	if minOccurrences < 1 {
		minOccurrences = DefaultMinOccurrences
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	snap, err := l.sessions.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}

	var order []string
	groups := make(map[string]*occurrence)
	skipped := 0
	for _, s := range snap.Sessions {
		key, ok := occurrenceKey(s)
		if !ok {
			skipped++
			continue
		}
		g, seen := groups[key]
		if !seen {
			g = &occurrence{pattern: LearnedPattern{
				Species:    s.Species,
				SpotType:   s.SpotType,
				Conditions: append([]string{}, s.Conditions...),
				LureUsed:   s.LureUsed,
			}}
			groups[key] = g
			order = append(order, key)
		}
		g.count++
	}
	if skipped > 0 {
		l.logger.Warn().Int("skipped", skipped).Msg("malformed sessions ignored")
	}

	promoted, err := l.patterns.Promote(ctx, func(existing []LearnedPattern) ([]LearnedPattern, error) {
		var fresh []LearnedPattern
		known := existing
		for _, key := range order {
			g := groups[key]
			if g.count < minOccurrences || containsPattern(known, g.pattern) {
				continue
			}
			fresh = append(fresh, g.pattern)
			known = append(known, g.pattern)
		}
		return fresh, nil
	})
	if err != nil {
		return nil, fmt.Errorf("promoting patterns: %w", err)
	}
	if promoted == nil {
		promoted = []LearnedPattern{}
	}

	patternsPromoted.Add(float64(len(promoted)))
	l.logger.Info().
		Int("sessions", len(snap.Sessions)).
		Int("groups", len(order)).
		Int("promoted", len(promoted)).
		Int("min_occurrences", minOccurrences).
		Msg("pattern analysis done")
	return promoted, nil
}

// occurrenceKey builds the exact counting key. Conditions keep their
// order: ["pluie","vent"] and ["vent","pluie"] are different keys.
func occurrenceKey(s Session) (string, bool) {
	if strings.TrimSpace(s.Species) == "" || strings.TrimSpace(s.SpotType) == "" || strings.TrimSpace(s.LureUsed) == "" {
		return "", false
	}
	var b strings.Builder
	for _, part := range []string{s.Species, s.SpotType, strings.Join(s.Conditions, "\x1f"), s.LureUsed, s.ResultFish} {
		b.WriteString(part)
		b.WriteByte(0)
	}
	return b.String(), true
}

func containsPattern(patterns []LearnedPattern, p LearnedPattern) bool {
	for _, q := range patterns {
		if q.SameIdentity(p) {
			return true
		}
	}
	return false
}
