package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

// Session is one logged fishing outing. Sessions are appended and never
// mutated.
type Session struct {
	Species    string    `json:"species"`
	SpotType   string    `json:"spotType"`
	Conditions []string  `json:"conditions"`
	LureUsed   string    `json:"lureUsed"`
	ResultFish string    `json:"resultFish"`
	Date       time.Time `json:"date"`
}

// LearnedPattern is a combination seen often enough in sessions to be
// kept as knowledge. Patterns are append-only.
type LearnedPattern struct {
	Species    string   `json:"species"`
	SpotType   string   `json:"spotType"`
	Conditions []string `json:"conditions"`
	LureUsed   string   `json:"lureUsed"`
}

// SameIdentity reports whether two patterns share the full identity tuple.
// Conditions must match in order.
func (p LearnedPattern) SameIdentity(o LearnedPattern) bool {
	return p.Species == o.Species &&
		p.SpotType == o.SpotType &&
		p.LureUsed == o.LureUsed &&
		slices.Equal(p.Conditions, o.Conditions)
}

// SessionSnapshot is the full session log as read at one moment.
// Revision identifies the contents; positional deletes must present it.
type SessionSnapshot struct {
	Sessions []Session `json:"sessions"`
	Revision string    `json:"revision"`
}

var (
	ErrIndexOutOfRange = errors.New("session index out of range")
	ErrStaleSnapshot   = errors.New("session log changed since snapshot was read")
)

// SessionStore is the durable ordered session log.
type SessionStore interface {
	// Append adds a session at the end of the log.
	Append(ctx context.Context, s Session) error

	// Snapshot returns every session in submission order.
	Snapshot(ctx context.Context) (SessionSnapshot, error)

	// DeleteAt removes the session at index, provided the log still has
	// the given revision.
	DeleteAt(ctx context.Context, index int, revision string) (Session, error)
}

// PatternStore is the durable, append-only learned pattern collection.
type PatternStore interface {
	// Patterns returns every learned pattern in promotion order.
	Patterns(ctx context.Context) ([]LearnedPattern, error)

	// Promote runs fn with the current patterns while holding the store's
	// write lock and appends whatever fn returns. Nothing is written when
	// fn returns no patterns.
	Promote(ctx context.Context, fn func(existing []LearnedPattern) ([]LearnedPattern, error)) ([]LearnedPattern, error)
}

// SpotRegistry is the durable deduplicated set of spot types seen.
type SpotRegistry interface {
	// Register records spotType, persisting only if it is new.
	Register(ctx context.Context, spotType string) (bool, error)

	// Spots returns the registered spot types in insertion order.
	Spots(ctx context.Context) ([]string, error)
}

// Backend bundles the three durable collections.
type Backend interface {
	Sessions() SessionStore
	Patterns() PatternStore
	Spots() SpotRegistry

	// Close releases any resources held by the backend.
	Close() error
}

// NewBackend constructs the appropriate backend from config.
func NewBackend(cfg *Config, logger zerolog.Logger) (Backend, error) {
	switch cfg.Backend.Type {
	case "json", "":
		return NewJSONBackend(cfg.JSON.Dir, logger)
	case "sqlite":
		return NewSQLiteBackend(cfg.SQLite.Path, logger)
	default:
		return nil, fmt.Errorf("unknown backend type %q (must be 'json' or 'sqlite')", cfg.Backend.Type)
	}
}

// sessionsRevision digests a session log so that two reads can be
// compared without keeping the first one around.
func sessionsRevision(sessions []Session) string {
	d := xxhash.New()
	for _, s := range sessions {
		d.WriteString(s.Species)
		d.Write([]byte{0})
		d.WriteString(s.SpotType)
		d.Write([]byte{0})
		for _, c := range s.Conditions {
			d.WriteString(c)
			d.Write([]byte{1})
		}
		d.Write([]byte{0})
		d.WriteString(s.LureUsed)
		d.Write([]byte{0})
		d.WriteString(s.ResultFish)
		d.Write([]byte{0})
		d.WriteString(s.Date.UTC().Format(time.RFC3339Nano))
		d.Write([]byte{2})
	}
	return strconv.FormatUint(d.Sum64(), 16) + "-" + strconv.Itoa(len(sessions))
}

// checkDelete validates a positional delete against the snapshot it is
// about to be applied to.
func checkDelete(sessions []Session, index int, revision string) error {
	if revision != sessionsRevision(sessions) {
		return ErrStaleSnapshot
	}
	if index < 0 || index >= len(sessions) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(sessions))
	}
	return nil
}
