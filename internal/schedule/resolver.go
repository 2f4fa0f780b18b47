package schedule

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// toleranceMinutes is the allowance between a recording's actual start and a
// scheduled start for the two to be considered the same occurrence.
const toleranceMinutes = 30

// noneSentinel is the literal some deployments use for "unset" string config.
const noneSentinel = "None"

// weekdayLetters maps weekdays to the single-letter codes used in schedule
// rows. Weekends are intentionally absent.
var weekdayLetters = map[time.Weekday]string{
	time.Monday:    "M",
	time.Tuesday:   "T",
	time.Wednesday: "W",
	time.Thursday:  "R",
	time.Friday:    "F",
}

// Store looks up a schedule record by Zoom series id. A nil record with nil
// error means no schedule is configured for that series.
type Store interface {
	GetBySeriesID(ctx context.Context, zoomSeriesID string) (*Record, error)
}

// Resolver determines the target Opencast series for a recording.
type Resolver struct {
	store           Store
	defaultSeriesID string
	localTZ         *time.Location
	logger          *zap.Logger
}

// NewResolver creates a series resolver. defaultSeriesID may be empty or the
// "None" sentinel, in which case there is no configured fallback.
func NewResolver(store Store, defaultSeriesID string, localTZ *time.Location, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if localTZ == nil {
		localTZ = time.UTC
	}
	return &Resolver{
		store:           store,
		defaultSeriesID: defaultSeriesID,
		localTZ:         localTZ,
		logger:          logger,
	}
}

// Resolve returns the Opencast series id for a recording, or "" when no
// series applies and the recording should be skipped. Precedence, first
// match wins: explicit override, schedule match within tolerance, schedule
// fallback when ignoreSchedule is set, configured default.
func (r *Resolver) Resolve(ctx context.Context, zoomSeriesID string, startUTC time.Time, ignoreSchedule bool, overrideSeriesID string) (string, error) {
	if isSet(overrideSeriesID) {
		r.logger.Info("using override series id", zap.String("series_id", overrideSeriesID))
		return overrideSeriesID, nil
	}

	seriesID, err := r.fromSchedule(ctx, zoomSeriesID, startUTC, ignoreSchedule)
	if err != nil {
		return "", err
	}
	if seriesID != "" {
		r.logger.Info("matched opencast series", zap.String("series_id", seriesID))
		return seriesID, nil
	}

	if isSet(r.defaultSeriesID) {
		r.logger.Info("using default series id", zap.String("series_id", r.defaultSeriesID))
		return r.defaultSeriesID, nil
	}
	return "", nil
}

func (r *Resolver) fromSchedule(ctx context.Context, zoomSeriesID string, startUTC time.Time, ignoreSchedule bool) (string, error) {
	rec, err := r.store.GetBySeriesID(ctx, zoomSeriesID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}

	local := startUTC.In(r.localTZ)
	letter, ok := weekdayLetters[local.Weekday()]
	if !ok {
		r.logger.Debug("meeting occurred on a weekend", zap.String("zoom_series_id", zoomSeriesID))
		return "", nil
	}
	if !strings.Contains(rec.Days, letter) {
		r.logger.Debug("no opencast recording scheduled for this day of the week",
			zap.String("zoom_series_id", zoomSeriesID), zap.String("day", letter))
		return "", nil
	}

	for _, hhmm := range rec.Times {
		scheduled, err := time.ParseInLocation("15:04", hhmm, r.localTZ)
		if err != nil {
			r.logger.Warn("invalid scheduled time in schedule record",
				zap.String("zoom_series_id", zoomSeriesID), zap.String("time", hhmm))
			continue
		}
		sameDay := time.Date(local.Year(), local.Month(), local.Day(),
			scheduled.Hour(), scheduled.Minute(), 0, 0, r.localTZ)
		if math.Abs(local.Sub(sameDay).Seconds()) < toleranceMinutes*60 {
			return rec.OpencastSeriesID, nil
		}
	}

	r.logger.Debug("meeting started outside the scheduled start tolerance",
		zap.String("zoom_series_id", zoomSeriesID),
		zap.Int("tolerance_minutes", toleranceMinutes))
	if ignoreSchedule {
		r.logger.Debug("ignore_schedule enabled; using scheduled series anyway",
			zap.String("series_id", rec.OpencastSeriesID))
		return rec.OpencastSeriesID, nil
	}
	return "", nil
}

func isSet(v string) bool {
	return v != "" && v != noneSentinel
}
