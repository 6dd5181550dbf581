package learning

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/surehand-ai/surehand/internal/types"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a persistent Store backed by SQLite. It keeps one counter
// row per (app, strategy) pair and upserts in place, so the database stays
// tiny no matter how long the agent runs. Safe for concurrent use.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewSQLiteStore opens (or creates) the stats database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, types.NewError(types.STORE_OPEN_FAILED, "database path cannot be empty")
	}

	// WAL mode keeps concurrent readers cheap; busy_timeout covers writer overlap.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "failed to open database", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "failed to ping database", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "failed to initialize schema", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS strategy_stats (
			app       TEXT NOT NULL,
			strategy  TEXT NOT NULL,
			successes INTEGER NOT NULL DEFAULT 0,
			failures  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (app, strategy)
		)
	`)
	return err
}

// RecordOutcome implements Store.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, app string, strategy types.StrategyKind, success bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed()
	}

	succ, fail := 0, 0
	if success {
		succ = 1
	} else {
		fail = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_stats (app, strategy, successes, failures)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(app, strategy) DO UPDATE SET
			successes = successes + excluded.successes,
			failures  = failures + excluded.failures
	`, app, string(strategy), succ, fail)
	if err != nil {
		return types.WrapError(types.STORE_QUERY_FAILED, "failed to record outcome", err)
	}
	return nil
}

// Stats implements Store. Rows are sorted by strategy name.
func (s *SQLiteStore) Stats(ctx context.Context, app string) ([]StrategyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT app, strategy, successes, failures
		FROM strategy_stats
		WHERE app = ?
		ORDER BY strategy
	`, app)
	if err != nil {
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to query stats", err)
	}
	defer rows.Close()

	var out []StrategyStats
	for rows.Next() {
		var st StrategyStats
		var strategy string
		if err := rows.Scan(&st.App, &strategy, &st.Successes, &st.Failures); err != nil {
			return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to scan stats row", err)
		}
		st.Strategy = types.StrategyKind(strategy)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.STORE_QUERY_FAILED, "failed to iterate stats rows", err)
	}
	return out, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
