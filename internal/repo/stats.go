// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for conditional responses (ETag generation) in the HTTP layer and for the
// queue-depth gauge. Each function is context-aware and safe to call from
// services or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

// RatesStats returns aggregate metadata for the materialized rows of a
// (room product, rate plan) pair with date in [from, to): the number of rows
// and the maximum UpdatedAt among them.
//
// Return values:
//   - count:        rows in range
//   - maxUpdatedAt: pointer to the greatest UpdatedAt, or nil if no rows
//   - err:          database error, if any
func RatesStats(ctx context.Context, db *gorm.DB, roomProductID, ratePlanID string, from, to time.Time) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).
		Model(&domain.MaterializedRate{}).
		Where("room_product_id = ? AND rate_plan_id = ?", roomProductID, ratePlanID).
		Where("date >= ? AND date < ?", domain.Day(from), domain.Day(to))

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// QueueDepth returns the number of jobs per non-terminal status, used to
// feed the queue-depth gauge.
func QueueDepth(ctx context.Context, db *gorm.DB) (map[domain.JobStatus]int64, error) {
	var rows []struct {
		Status domain.JobStatus
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.RecomputationJob{}).
		Select("status, COUNT(*) AS n").
		Where("status IN ?", []domain.JobStatus{domain.JobQueued, domain.JobProcessing, domain.JobFailed, domain.JobDeadLettered}).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.JobStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
