package schedule

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one class schedule row: a Zoom meeting series mapped to an
// Opencast series with its expected days and start times.
type Record struct {
	ZoomSeriesID     string
	Days             string   // single-letter day codes, e.g. "MWF"
	Times            []string // "HH:MM" local start times, in listing order
	OpencastSeriesID string
}

// Repository reads class schedule rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a schedule repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetBySeriesID returns the schedule for a Zoom meeting series, or nil if no
// schedule is configured for it.
func (r *Repository) GetBySeriesID(ctx context.Context, zoomSeriesID string) (*Record, error) {
	const q = `SELECT zoom_series_id, days, times, opencast_series_id
		FROM class_schedule WHERE zoom_series_id = $1`
	var rec Record
	err := r.pool.QueryRow(ctx, q, zoomSeriesID).Scan(&rec.ZoomSeriesID, &rec.Days, &rec.Times, &rec.OpencastSeriesID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}
