// Package history persists a log of completed tool calls to SQLite. The log
// is append-only diagnostics; nothing in the execution path reads it back
// except the recent-activity queries.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Record is one completed tool call.
type Record struct {
	RequestID  string
	Tool       string
	Workspace  string
	ResultIDs  []string
	Success    bool
	ShapeCount int
	Error      string
	CreatedAt  time.Time
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes one record. CreatedAt defaults to now when zero.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if rec.Tool == "" {
		return fmt.Errorf("tool name is empty")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	success := 0
	if rec.Success {
		success = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_log (request_id, tool, workspace, result_ids, success, shape_count, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.RequestID,
		rec.Tool,
		rec.Workspace,
		strings.Join(rec.ResultIDs, ","),
		success,
		rec.ShapeCount,
		nullIfEmpty(rec.Error),
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("append execution record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, tool, workspace, result_ids, success, shape_count, COALESCE(error, ''), created_at
		 FROM execution_log ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query execution log: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var resultIDs, createdAt string
		var success int
		if err := rows.Scan(&rec.RequestID, &rec.Tool, &rec.Workspace, &resultIDs, &success, &rec.ShapeCount, &rec.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		rec.Success = success != 0
		if resultIDs != "" {
			rec.ResultIDs = strings.Split(resultIDs, ",")
		}
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.CreatedAt = ts
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution log: %w", err)
	}
	return records, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
