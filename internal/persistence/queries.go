package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/hive/internal/network"
)

// SaveQueryResult stores the outcome of a network query.
func (s *SQLiteStore) SaveQueryResult(ctx context.Context, result network.QueryResult) error {
	contributors, err := json.Marshal(result.ContributingWorkers)
	if err != nil {
		return fmt.Errorf("failed to encode contributors of query %s: %w", result.ID, err)
	}
	rounds, err := json.Marshal(result.RoundHistory)
	if err != nil {
		return fmt.Errorf("failed to encode rounds of query %s: %w", result.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_results (id, query, final_response, contributing_workers, steps_taken, round_history, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			final_response = excluded.final_response,
			contributing_workers = excluded.contributing_workers,
			steps_taken = excluded.steps_taken,
			round_history = excluded.round_history,
			duration_ns = excluded.duration_ns
	`, result.ID, result.Query, result.FinalResponse, string(contributors), result.StepsTaken,
		string(rounds), int64(result.Duration), result.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save query result: %w", err)
	}
	return nil
}

const queryColumns = `id, query, final_response, contributing_workers, steps_taken, round_history, duration_ns, created_at`

func scanQueryResult(row rowScanner) (network.QueryResult, error) {
	var (
		res          network.QueryResult
		contributors string
		rounds       string
		duration     int64
	)
	err := row.Scan(&res.ID, &res.Query, &res.FinalResponse, &contributors, &res.StepsTaken, &rounds, &duration, &res.Timestamp)
	if err != nil {
		return network.QueryResult{}, err
	}
	res.Duration = time.Duration(duration)
	if err := json.Unmarshal([]byte(contributors), &res.ContributingWorkers); err != nil {
		return network.QueryResult{}, fmt.Errorf("failed to decode contributors of query %s: %w", res.ID, err)
	}
	if err := json.Unmarshal([]byte(rounds), &res.RoundHistory); err != nil {
		return network.QueryResult{}, fmt.Errorf("failed to decode rounds of query %s: %w", res.ID, err)
	}
	return res, nil
}

// GetQueryResult retrieves a stored query result by ID.
func (s *SQLiteStore) GetQueryResult(ctx context.Context, id string) (network.QueryResult, error) {
	res, err := scanQueryResult(s.db.QueryRowContext(ctx,
		`SELECT `+queryColumns+` FROM query_results WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return network.QueryResult{}, fmt.Errorf("query %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return network.QueryResult{}, fmt.Errorf("failed to query result: %w", err)
	}
	return res, nil
}

// ListQueryResults returns the most recent query results, newest first.
// A limit of zero or less returns all of them.
func (s *SQLiteStore) ListQueryResults(ctx context.Context, limit int) ([]network.QueryResult, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queryColumns+` FROM query_results ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []network.QueryResult
	for rows.Next() {
		res, err := scanQueryResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan query result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating query results: %w", err)
	}
	return results, nil
}
