package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/c1767673917/products-b-test-sub004/internal/syncer"
)

// RunStore archives finished run reports and serves run history.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates the run history store.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// ArchiveRun persists a terminal run report. Re-archiving the same run id
// overwrites the previous row.
func (s *RunStore) ArchiveRun(ctx context.Context, report syncer.Report) error {
	errorsJSON, err := json.Marshal(report.Errors)
	if err != nil {
		return fmt.Errorf("encoding run errors: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sync_runs (
			run_id, mode, phase, started_at, finished_at,
			total_fetched, created_count, updated_count, skipped_count,
			images_downloaded, images_cache_hit, images_failed,
			identity_renames, errors, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (run_id) DO UPDATE SET
			phase             = EXCLUDED.phase,
			finished_at       = EXCLUDED.finished_at,
			total_fetched     = EXCLUDED.total_fetched,
			created_count     = EXCLUDED.created_count,
			updated_count     = EXCLUDED.updated_count,
			skipped_count     = EXCLUDED.skipped_count,
			images_downloaded = EXCLUDED.images_downloaded,
			images_cache_hit  = EXCLUDED.images_cache_hit,
			images_failed     = EXCLUDED.images_failed,
			identity_renames  = EXCLUDED.identity_renames,
			errors            = EXCLUDED.errors,
			error_message     = EXCLUDED.error_message`,
		report.RunID, string(report.Mode), string(report.Phase),
		report.StartedAt, report.FinishedAt,
		report.TotalFetched, report.Created, report.Updated, report.Skipped,
		report.ImagesDownloaded, report.ImagesCacheHit, report.ImagesFailed,
		report.IdentityRenames, errorsJSON, report.Error,
	)
	if err != nil {
		return fmt.Errorf("archiving run %s: %w", report.RunID, err)
	}
	return nil
}

// RecentRuns returns up to limit archived reports, newest first.
func (s *RunStore) RecentRuns(ctx context.Context, limit int) ([]syncer.Report, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, mode, phase, started_at, finished_at,
			total_fetched, created_count, updated_count, skipped_count,
			images_downloaded, images_cache_hit, images_failed,
			identity_renames, errors, error_message
		FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	out := make([]syncer.Report, 0, limit)
	for rows.Next() {
		var rep syncer.Report
		var mode, phase string
		var errorsJSON []byte
		err := rows.Scan(
			&rep.RunID, &mode, &phase, &rep.StartedAt, &rep.FinishedAt,
			&rep.TotalFetched, &rep.Created, &rep.Updated, &rep.Skipped,
			&rep.ImagesDownloaded, &rep.ImagesCacheHit, &rep.ImagesFailed,
			&rep.IdentityRenames, &errorsJSON, &rep.Error,
		)
		if err != nil {
			return nil, err
		}
		rep.Mode = syncer.Mode(mode)
		rep.Phase = syncer.Phase(phase)
		if err := json.Unmarshal(errorsJSON, &rep.Errors); err != nil {
			return nil, fmt.Errorf("decoding run errors for %s: %w", rep.RunID, err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}
