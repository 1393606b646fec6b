package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	row := r.Store.Pool.QueryRow(ctx, `SELECT value FROM settings WHERE key=$1`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return value, nil
}

// ListHeaderThresholds returns all per-header override records, including
// rows for headers that are not currently monitored.
func (r *Repository) ListHeaderThresholds(ctx context.Context) ([]HeaderThresholdRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT header_id, threshold, alert_duration_ms, frozen_threshold_ms
		FROM header_thresholds`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	results := []HeaderThresholdRecord{}
	for rows.Next() {
		var rec HeaderThresholdRecord
		if err := rows.Scan(&rec.HeaderID, &rec.Threshold, &rec.AlertDurationMs, &rec.FrozenThresholdMs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		results = append(results, rec)
	}
	return results, nil
}

func (r *Repository) PutSetting(ctx context.Context, key, value string) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1,$2,now())
		ON CONFLICT (key) DO UPDATE SET value=$2, updated_at=now()`, key, value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ListMonitoredHeaders returns the authoritative set of headers under
// observation, joined with project metadata and filtered to non-deleted
// projects.
func (r *Repository) ListMonitoredHeaders(ctx context.Context) ([]MonitoredHeaderRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT h.header_id, h.project_id, p.company_id, p.stage_id, h.header_name,
		       t.threshold, t.alert_duration_ms, t.frozen_threshold_ms
		FROM monitored_headers h
		JOIN projects p ON p.project_id = h.project_id
		LEFT JOIN header_thresholds t ON t.header_id = h.header_id
		WHERE h.monitored = true AND p.deleted = false`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	results := []MonitoredHeaderRecord{}
	for rows.Next() {
		var rec MonitoredHeaderRecord
		if err := rows.Scan(&rec.HeaderID, &rec.ProjectID, &rec.CompanyID, &rec.StageID,
			&rec.HeaderName, &rec.Threshold, &rec.AlertDurationMs, &rec.FrozenThresholdMs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		results = append(results, rec)
	}
	return results, nil
}

func (r *Repository) CountMonitoredHeaders(ctx context.Context) (int, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT count(*) FROM monitored_headers h
		JOIN projects p ON p.project_id = h.project_id
		WHERE h.monitored = true AND p.deleted = false`)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}

func (r *Repository) UpsertActiveProject(ctx context.Context, rec ProjectRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO projects (project_id, company_id, stage_id, name, deleted, updated_at)
		VALUES ($1,$2,$3,$4,false,now())
		ON CONFLICT (project_id) DO UPDATE SET company_id=$2, stage_id=$3, name=$4, deleted=false, updated_at=now()`,
		rec.ProjectID, rec.CompanyID, rec.StageID, rec.Name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Repository) InsertAlert(ctx context.Context, rec AlertRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alerts (event_id, header_id, header_name, alert_type, value, threshold, company_id, stage_id, message, ts_utc)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.EventID, rec.HeaderID, rec.HeaderName, rec.AlertType, rec.Value, rec.Threshold,
		rec.CompanyID, rec.StageID, rec.Message, rec.TSUTC)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	if err := r.Store.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
