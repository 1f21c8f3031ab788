// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for InflightScope,
// the TTL-bounded key-value entries the dispatcher uses to detect scopes
// already covered by a queued job.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

// ErrDuplicate indicates a unique-key violation on insert.
var ErrDuplicate = errors.New("duplicate")

// CreateInflight registers the dedup entry of a freshly queued job.
func CreateInflight(ctx context.Context, db *gorm.DB, jobID string, scope domain.MaterializationScope, ttl time.Duration) (*domain.InflightScope, error) {
	enc, err := domain.EncodeScope(scope)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rec := &domain.InflightScope{
		JobID:     jobID,
		HotelID:   scope.HotelID,
		Scope:     enc,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// LiveInflight returns the non-expired entries of a hotel, oldest first.
func LiveInflight(ctx context.Context, db *gorm.DB, hotelID string, now time.Time) ([]domain.InflightScope, error) {
	var out []domain.InflightScope
	err := db.WithContext(ctx).
		Where("hotel_id = ? AND expires_at > ?", hotelID, now).
		Order("created_at, job_id").
		Find(&out).Error
	return out, err
}

// PinInflight touches the live entry of jobID and reports whether it still
// exists. Inside a transaction the UPDATE holds the row lock until commit, so
// a concurrent claim's DeleteInflight waits for the caller. False means the
// job was claimed (or the entry expired) after LiveInflight read it.
func PinInflight(ctx context.Context, db *gorm.DB, jobID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.InflightScope{}).
		Where("job_id = ? AND expires_at > ?", jobID, now).
		Update("expires_at", gorm.Expr("expires_at"))
	return res.RowsAffected > 0, res.Error
}

// DeleteInflight drops the entry of a job. Missing entries are not an error:
// the worker calls this on every claim and entries may have been purged.
func DeleteInflight(ctx context.Context, db *gorm.DB, jobID string) error {
	return db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&domain.InflightScope{}).Error
}

// PurgeExpiredInflight deletes entries whose TTL elapsed and returns how many.
func PurgeExpiredInflight(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.InflightScope{})
	return res.RowsAffected, res.Error
}

func isUniqueViolation(err error) bool {
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}
