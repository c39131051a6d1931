package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	sessionsFile = "sessions.json"
	patternsFile = "patterns.json"
	spotsFile    = "spots.json"
)

// JSONBackend keeps each collection in its own JSON file, loaded whole on
// first access and rewritten whole on every mutation.
type JSONBackend struct {
	sessions *jsonSessionStore
	patterns *jsonPatternStore
	spots    *jsonSpotRegistry
}

func NewJSONBackend(dir string, logger zerolog.Logger) (*JSONBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dir, err)
	}
	logger = logger.With().Str("backend", "json").Logger()
	logger.Info().Str("dir", dir).Msg("json backend ready")
	return &JSONBackend{
		sessions: &jsonSessionStore{c: newJSONCollection[Session](filepath.Join(dir, sessionsFile), logger)},
		patterns: &jsonPatternStore{c: newJSONCollection[LearnedPattern](filepath.Join(dir, patternsFile), logger)},
		spots:    &jsonSpotRegistry{c: newJSONCollection[string](filepath.Join(dir, spotsFile), logger)},
	}, nil
}

func (b *JSONBackend) Sessions() SessionStore { return b.sessions }
func (b *JSONBackend) Patterns() PatternStore { return b.patterns }
func (b *JSONBackend) Spots() SpotRegistry    { return b.spots }
func (b *JSONBackend) Close() error           { return nil }

// jsonCollection is one file-backed ordered collection. mu serialises
// every load-mutate-save cycle so concurrent writers cannot lose updates.
type jsonCollection[T any] struct {
	path   string
	logger zerolog.Logger

	mu     sync.Mutex
	loaded bool
	items  []T
}

func newJSONCollection[T any](path string, logger zerolog.Logger) *jsonCollection[T] {
	return &jsonCollection[T]{
		path:   path,
		logger: logger.With().Str("file", filepath.Base(path)).Logger(),
	}
}

// loadLocked reads the file once. A missing file is an empty collection.
func (c *jsonCollection[T]) loadLocked() error {
	if c.loaded {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.items = []T{}
			c.loaded = true
			return nil
		}
		return fmt.Errorf("reading %s: %w", c.path, err)
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("parsing %s: %w", c.path, err)
	}
	if items == nil {
		items = []T{}
	}
	c.items = items
	c.loaded = true
	return nil
}

// saveLocked rewrites the whole file through a temp file and rename.
func (c *jsonCollection[T]) saveLocked(items []T) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", c.path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing %s: %w", c.path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", c.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", c.path, err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", c.path, err)
	}
	return nil
}

// read returns a copy of the current items.
func (c *jsonCollection[T]) read() ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(); err != nil {
		return nil, err
	}
	return slices.Clone(c.items), nil
}

// update hands fn a copy of the items. If fn reports a change, the
// returned slice is persisted and only then becomes the in-memory state.
func (c *jsonCollection[T]) update(fn func(items []T) ([]T, bool, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(); err != nil {
		return err
	}
	next, changed, err := fn(slices.Clone(c.items))
	if err != nil || !changed {
		return err
	}
	if err := c.saveLocked(next); err != nil {
		storeWriteErrors.WithLabelValues(filepath.Base(c.path)).Inc()
		c.logger.Error().Err(err).Msg("persist failed")
		return err
	}
	c.items = next
	return nil
}

type jsonSessionStore struct {
	c *jsonCollection[Session]
}

func (s *jsonSessionStore) Append(_ context.Context, sess Session) error {
	return s.c.update(func(items []Session) ([]Session, bool, error) {
		return append(items, sess), true, nil
	})
}

func (s *jsonSessionStore) Snapshot(_ context.Context) (SessionSnapshot, error) {
	items, err := s.c.read()
	if err != nil {
		return SessionSnapshot{}, err
	}
	return SessionSnapshot{Sessions: items, Revision: sessionsRevision(items)}, nil
}

func (s *jsonSessionStore) DeleteAt(_ context.Context, index int, revision string) (Session, error) {
	var removed Session
	err := s.c.update(func(items []Session) ([]Session, bool, error) {
		if err := checkDelete(items, index, revision); err != nil {
			return nil, false, err
		}
		removed = items[index]
		return slices.Delete(items, index, index+1), true, nil
	})
	return removed, err
}

type jsonPatternStore struct {
	c *jsonCollection[LearnedPattern]
}

func (s *jsonPatternStore) Patterns(_ context.Context) ([]LearnedPattern, error) {
	return s.c.read()
}

func (s *jsonPatternStore) Promote(_ context.Context, fn func([]LearnedPattern) ([]LearnedPattern, error)) ([]LearnedPattern, error) {
	var added []LearnedPattern
	err := s.c.update(func(items []LearnedPattern) ([]LearnedPattern, bool, error) {
		fresh, err := fn(slices.Clone(items))
		if err != nil || len(fresh) == 0 {
			return nil, false, err
		}
		added = fresh
		return append(items, fresh...), true, nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

type jsonSpotRegistry struct {
	c *jsonCollection[string]
}

func (r *jsonSpotRegistry) Register(_ context.Context, spotType string) (bool, error) {
	added := false
	err := r.c.update(func(items []string) ([]string, bool, error) {
		if slices.Contains(items, spotType) {
			return nil, false, nil
		}
		added = true
		return append(items, spotType), true, nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

func (r *jsonSpotRegistry) Spots(_ context.Context) ([]string, error) {
	return r.c.read()
}
