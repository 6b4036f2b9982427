// Package store persists the routing journal: one row per terminal
// request plus the per-call detail, queryable from the CLI.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arbiterhq/arbiter/pkg/pipeline"
)

// RequestRow is one journal entry as read back from the database.
type RequestRow struct {
	ID          string
	Intent      string
	State       string
	Provider    string
	FirstChoice string
	Escalated   bool
	Escalations int
	Attempts    int
	Confidence  float64
	CostUSD     float64
	Tokens      int
	DurationMs  int64
	CreatedAt   time.Time
}

// SQLiteJournal implements pipeline.Journal over a local SQLite file.
type SQLiteJournal struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteJournal opens (creating if needed) the journal database and
// applies the schema.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal database: %w", err)
	}

	j := &SQLiteJournal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal database: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		intent TEXT NOT NULL,
		state TEXT NOT NULL,
		provider TEXT,
		first_choice TEXT,
		escalated INTEGER NOT NULL DEFAULT 0,
		escalations INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		confidence REAL,
		cost_usd REAL NOT NULL DEFAULT 0,
		tokens INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		calls TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_requests_state ON requests(state);
	`

	_, err := j.db.Exec(schema)
	return err
}

// LogRequest writes one terminal record. Implements pipeline.Journal.
func (j *SQLiteJournal) LogRequest(ctx context.Context, res *pipeline.Result) error {
	calls, err := json.Marshal(res.Calls)
	if err != nil {
		return fmt.Errorf("encode call reports: %w", err)
	}

	var confidence sql.NullFloat64
	if res.Confidence != nil {
		confidence = sql.NullFloat64{Float64: res.Confidence.Score, Valid: true}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	query := `
	INSERT INTO requests (
		id, intent, state, provider, first_choice, escalated,
		escalations, attempts, confidence, cost_usd, tokens,
		duration_ms, calls, created_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = j.db.ExecContext(ctx, query,
		res.ID,
		string(res.Intent),
		string(res.State),
		res.FinalProvider,
		res.OriginalProvider,
		res.Escalated,
		res.Escalations,
		len(res.Attempts),
		confidence,
		res.TotalCost,
		res.TotalUsage.TotalTokens,
		res.Duration.Milliseconds(),
		string(calls),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert request %s: %w", res.ID, err)
	}
	return nil
}

// Recent returns the latest journal entries, newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]RequestRow, error) {
	if limit <= 0 {
		limit = 20
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	query := `
	SELECT id, intent, state, provider, first_choice, escalated,
	       escalations, attempts, confidence, cost_usd, tokens,
	       duration_ms, created_at
	FROM requests
	ORDER BY created_at DESC
	LIMIT ?
	`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []RequestRow
	for rows.Next() {
		row, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Stats aggregates terminal-state counts and escalation rate.
type Stats struct {
	Total       int
	ByState     map[string]int
	Escalated   int
	TotalCost   float64
	TotalTokens int
}

// Summary computes aggregate statistics over the whole journal.
func (j *SQLiteJournal) Summary(ctx context.Context) (*Stats, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	stats := &Stats{ByState: make(map[string]int)}

	rows, err := j.db.QueryContext(ctx, `
	SELECT state, COUNT(*), SUM(escalated), SUM(cost_usd), SUM(tokens)
	FROM requests
	GROUP BY state
	`)
	if err != nil {
		return nil, fmt.Errorf("aggregate requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count, escalated, tokens int
		var cost float64
		if err := rows.Scan(&state, &count, &escalated, &cost, &tokens); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		stats.ByState[state] = count
		stats.Total += count
		stats.Escalated += escalated
		stats.TotalCost += cost
		stats.TotalTokens += tokens
	}
	return stats, rows.Err()
}

// Close releases the underlying database handle.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func scanRequest(rows *sql.Rows) (RequestRow, error) {
	var row RequestRow
	var confidence sql.NullFloat64
	var createdAt string

	err := rows.Scan(
		&row.ID,
		&row.Intent,
		&row.State,
		&row.Provider,
		&row.FirstChoice,
		&row.Escalated,
		&row.Escalations,
		&row.Attempts,
		&confidence,
		&row.CostUSD,
		&row.Tokens,
		&row.DurationMs,
		&createdAt,
	)
	if err != nil {
		return RequestRow{}, fmt.Errorf("scan request row: %w", err)
	}
	if confidence.Valid {
		row.Confidence = confidence.Float64
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		row.CreatedAt = t
	}
	return row, nil
}
