package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store archives one row per newsletter run in Postgres.
type Store struct {
	DB *sql.DB
}

// RunRecord is the archived summary of a run. Stage is empty for runs that
// delivered; otherwise it names the stage that failed.
type RunRecord struct {
	ID             string
	Recipient      string
	Subject        string
	SourceURL      string
	State          string
	Turns          int
	Forced         bool
	ToolCalls      []string
	Stage          string
	DeliveryStatus string
	DeliveryCause  string
	BodyHash       string
	CreatedAt      time.Time
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// BodyHash fingerprints a composed body so identical editions can be spotted
// in the history without storing the HTML.
func BodyHash(body string) string {
	if body == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// SaveRun upserts rec and returns its id. A missing id or timestamp is filled in.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) (string, error) {
	if s == nil || s.DB == nil {
		return "", fmt.Errorf("store not initialised")
	}
	if strings.TrimSpace(rec.Recipient) == "" {
		return "", fmt.Errorf("recipient must be provided")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	toolCalls := rec.ToolCalls
	if toolCalls == nil {
		toolCalls = []string{}
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO newsletter_runs (id, recipient, subject, source_url, state, turns, forced, tool_calls, stage, delivery_status, delivery_cause, body_hash, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
  state = EXCLUDED.state,
  turns = EXCLUDED.turns,
  forced = EXCLUDED.forced,
  tool_calls = EXCLUDED.tool_calls,
  stage = EXCLUDED.stage,
  delivery_status = EXCLUDED.delivery_status,
  delivery_cause = EXCLUDED.delivery_cause,
  body_hash = EXCLUDED.body_hash;
`, rec.ID, rec.Recipient, rec.Subject, rec.SourceURL, rec.State, rec.Turns, rec.Forced, pq.Array(toolCalls),
		rec.Stage, rec.DeliveryStatus, rec.DeliveryCause, rec.BodyHash, rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// RecentRuns lists the newest runs first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.DB == nil {
		return nil, fmt.Errorf("store not initialised")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, recipient, subject, source_url, state, turns, forced, tool_calls, stage, delivery_status, delivery_cause, body_hash, created_at
FROM newsletter_runs
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			rec       RunRecord
			toolCalls pq.StringArray
		)
		if err := rows.Scan(&rec.ID, &rec.Recipient, &rec.Subject, &rec.SourceURL, &rec.State, &rec.Turns, &rec.Forced,
			&toolCalls, &rec.Stage, &rec.DeliveryStatus, &rec.DeliveryCause, &rec.BodyHash, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ToolCalls = []string(toolCalls)
		out = append(out, rec)
	}
	return out, rows.Err()
}
