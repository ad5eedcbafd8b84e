package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const deploymentColumns = `id, deployment_id, repository, branch, environment, status,
	started_at, completed_at, duration_seconds, commit_hash, failed_step, error_message`

// RecordDeployment records a finished (or rejected) deployment run.
func (s *Store) RecordDeployment(ctx context.Context, record *DeploymentRecord) (int64, error) {
	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	var completedAt *string
	if record.CompletedAt != nil {
		formatted := formatTime(*record.CompletedAt)
		completedAt = &formatted
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments
		(deployment_id, repository, branch, environment, status, started_at,
		 completed_at, duration_seconds, commit_hash, failed_step, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.DeploymentID,
		record.Repository,
		record.Branch,
		record.Environment,
		record.Status,
		formatTime(startedAt),
		completedAt,
		record.DurationSeconds,
		record.CommitHash,
		record.FailedStep,
		record.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deployment record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetLatestDeployment returns the most recent deployment for a repository,
// or nil when there is none.
func (s *Store) GetLatestDeployment(ctx context.Context, repository string) (*DeploymentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deploymentColumns+`
		FROM deployments
		WHERE repository = ?
		ORDER BY id DESC
		LIMIT 1
	`, repository)

	record, err := scanDeploymentRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest deployment: %w", err)
	}

	return record, nil
}

// GetDeploymentHistory returns deployment history for a repository, newest first.
func (s *Store) GetDeploymentHistory(ctx context.Context, repository string, limit int) ([]DeploymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deploymentColumns+`
		FROM deployments
		WHERE repository = ?
		ORDER BY id DESC
		LIMIT ?
	`, repository, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment history: %w", err)
	}
	defer rows.Close()

	var records []DeploymentRecord
	for rows.Next() {
		record, err := scanDeploymentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// GetAllRepositoriesStatus returns the latest deployment for each repository
func (s *Store) GetAllRepositoriesStatus(ctx context.Context) (map[string]*DeploymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deploymentColumns+`
		FROM deployments
		WHERE id IN (SELECT MAX(id) FROM deployments GROUP BY repository)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query repositories status: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*DeploymentRecord)
	for rows.Next() {
		record, err := scanDeploymentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		result[record.Repository] = record
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

// scanDeploymentRecord scans a database row into a DeploymentRecord
// Works with both *sql.Row and *sql.Rows
func scanDeploymentRecord(s scanner) (*DeploymentRecord, error) {
	var record DeploymentRecord
	var startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.DeploymentID,
		&record.Repository,
		&record.Branch,
		&record.Environment,
		&record.Status,
		&startedAtStr,
		&completedAtStr,
		&record.DurationSeconds,
		&record.CommitHash,
		&record.FailedStep,
		&record.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := parseTime(startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	record.CompletedAt, err = parseNullTime(completedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
	}

	return &record, nil
}
