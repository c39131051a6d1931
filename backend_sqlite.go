package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteBackend stores the three collections as tables in one database.
type SQLiteBackend struct {
	db     *sql.DB
	logger zerolog.Logger

	sessions *sqliteSessionStore
	patterns *sqlitePatternStore
	spots    *sqliteSpotRegistry
}

func NewSQLiteBackend(path string, logger zerolog.Logger) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps every statement on the same database file
	// handle and serialises writes at the driver level as well.
	db.SetMaxOpenConns(1)

	s := &SQLiteBackend{db: db, logger: logger.With().Str("backend", "sqlite").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	s.sessions = &sqliteSessionStore{db: db}
	s.patterns = &sqlitePatternStore{db: db}
	s.spots = &sqliteSpotRegistry{db: db}
	s.logger.Info().Str("path", path).Msg("sqlite backend ready")
	return s, nil
}

func (s *SQLiteBackend) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			species     TEXT NOT NULL,
			spot_type   TEXT NOT NULL,
			conditions  TEXT NOT NULL DEFAULT '[]',
			lure_used   TEXT NOT NULL,
			result_fish TEXT NOT NULL DEFAULT '',
			date        DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS learned_patterns (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			species    TEXT NOT NULL,
			spot_type  TEXT NOT NULL,
			conditions TEXT NOT NULL,
			lure_used  TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (species, spot_type, conditions, lure_used)
		)`,
		`CREATE TABLE IF NOT EXISTS spots (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			spot_type TEXT NOT NULL UNIQUE
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteBackend) Sessions() SessionStore { return s.sessions }
func (s *SQLiteBackend) Patterns() PatternStore { return s.patterns }
func (s *SQLiteBackend) Spots() SpotRegistry    { return s.spots }

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func encodeConditions(conditions []string) (string, error) {
	if conditions == nil {
		conditions = []string{}
	}
	b, err := json.Marshal(conditions)
	return string(b), err
}

func decodeConditions(raw string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decoding conditions %q: %w", raw, err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqliteSessionStore struct {
	db *sql.DB
	mu sync.Mutex
}

func (s *sqliteSessionStore) Append(ctx context.Context, sess Session) error {
	conds, err := encodeConditions(sess.Conditions)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (species, spot_type, conditions, lure_used, result_fish, date)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.Species, sess.SpotType, conds, sess.LureUsed, sess.ResultFish, sess.Date.UTC(),
	)
	if err != nil {
		storeWriteErrors.WithLabelValues("sessions").Inc()
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *sqliteSessionStore) Snapshot(ctx context.Context) (SessionSnapshot, error) {
	sessions, _, err := scanSessions(ctx, s.db)
	if err != nil {
		return SessionSnapshot{}, err
	}
	return SessionSnapshot{Sessions: sessions, Revision: sessionsRevision(sessions)}, nil
}

func (s *sqliteSessionStore) DeleteAt(ctx context.Context, index int, revision string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, err
	}
	defer tx.Rollback()

	sessions, ids, err := scanSessions(ctx, tx)
	if err != nil {
		return Session{}, err
	}
	if err := checkDelete(sessions, index, revision); err != nil {
		return Session{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, ids[index]); err != nil {
		storeWriteErrors.WithLabelValues("sessions").Inc()
		return Session{}, fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Session{}, err
	}
	return sessions[index], nil
}

func scanSessions(ctx context.Context, q queryer) ([]Session, []int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, species, spot_type, conditions, lure_used, result_fish, date
		 FROM sessions ORDER BY id`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	var ids []int64
	for rows.Next() {
		var (
			id    int64
			sess  Session
			conds string
			date  time.Time
		)
		if err := rows.Scan(&id, &sess.Species, &sess.SpotType, &conds, &sess.LureUsed, &sess.ResultFish, &date); err != nil {
			return nil, nil, fmt.Errorf("scan: %w", err)
		}
		if sess.Conditions, err = decodeConditions(conds); err != nil {
			return nil, nil, err
		}
		sess.Date = date.UTC()
		sessions = append(sessions, sess)
		ids = append(ids, id)
	}
	return sessions, ids, rows.Err()
}

type sqlitePatternStore struct {
	db *sql.DB
	mu sync.Mutex
}

func (s *sqlitePatternStore) Patterns(ctx context.Context) ([]LearnedPattern, error) {
	return scanPatterns(ctx, s.db)
}

func (s *sqlitePatternStore) Promote(ctx context.Context, fn func([]LearnedPattern) ([]LearnedPattern, error)) ([]LearnedPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, err := scanPatterns(ctx, tx)
	if err != nil {
		return nil, err
	}
	fresh, err := fn(existing)
	if err != nil || len(fresh) == 0 {
		return nil, err
	}
	for _, p := range fresh {
		conds, err := encodeConditions(p.Conditions)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO learned_patterns (species, spot_type, conditions, lure_used, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			p.Species, p.SpotType, conds, p.LureUsed, time.Now().UTC(),
		); err != nil {
			storeWriteErrors.WithLabelValues("learned_patterns").Inc()
			return nil, fmt.Errorf("insert pattern: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return fresh, nil
}

func scanPatterns(ctx context.Context, q queryer) ([]LearnedPattern, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT species, spot_type, conditions, lure_used FROM learned_patterns ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	patterns := []LearnedPattern{}
	for rows.Next() {
		var (
			p     LearnedPattern
			conds string
		)
		if err := rows.Scan(&p.Species, &p.SpotType, &conds, &p.LureUsed); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if p.Conditions, err = decodeConditions(conds); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

type sqliteSpotRegistry struct {
	db *sql.DB
	mu sync.Mutex
}

func (r *sqliteSpotRegistry) Register(ctx context.Context, spotType string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO spots (spot_type) VALUES (?)`, spotType)
	if err != nil {
		storeWriteErrors.WithLabelValues("spots").Inc()
		return false, fmt.Errorf("register spot: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *sqliteSpotRegistry) Spots(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT spot_type FROM spots ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	spots := []string{}
	for rows.Next() {
		var spot string
		if err := rows.Scan(&spot); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		spots = append(spots, spot)
	}
	return spots, rows.Err()
}
