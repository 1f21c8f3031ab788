// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the hotel-partitioned recomputation
// queue on top of the recomputation_jobs table.
//
// Queue semantics:
//   - A job is ready when it is queued (or failed awaiting retry) and its
//     AvailableAt has passed, or when it is processing under an expired lease
//     (visibility timeout: the previous worker is presumed dead).
//   - Within a hotel, ready jobs are claimed in enqueue order.
//   - Claims are conditional updates, so two workers never own one job.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

// ErrInvalidState is returned when a job transition is not allowed from the
// job's current status (e.g. requeueing a completed job).
var ErrInvalidState = errors.New("invalid job state")

const readyPredicate = "((status IN ? AND available_at <= ?) OR (status = ? AND lease_expires_at < ?))"

func readyArgs(now time.Time) []any {
	return []any{[]domain.JobStatus{domain.JobQueued, domain.JobFailed}, now, domain.JobProcessing, now}
}

// CreateJob inserts a job. ID, EnqueuedAt and AvailableAt default to a new
// UUID and now; Status defaults to queued.
func CreateJob(ctx context.Context, db *gorm.DB, j *domain.RecomputationJob) error {
	ensureID(&j.ID)
	now := time.Now().UTC()
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = now
	}
	if j.AvailableAt.IsZero() {
		j.AvailableAt = j.EnqueuedAt
	}
	if j.Status == "" {
		j.Status = domain.JobQueued
	}
	j.UpdatedAt = now
	return db.WithContext(ctx).Create(j).Error
}

// GetJob fetches a job by id, or ErrNotFound.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.RecomputationJob, error) {
	var j domain.RecomputationJob
	if err := db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// ReadyHotels returns the distinct hotels having at least one ready job,
// oldest head first, at most limit entries.
func ReadyHotels(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]string, error) {
	// Order by the aggregate without selecting it (MIN() -> TEXT in SQLite).
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.RecomputationJob{}).
		Where(readyPredicate, readyArgs(now)...).
		Group("hotel_id").
		Order("MIN(enqueued_at)").
		Limit(limit).
		Pluck("hotel_id", &out).Error
	return out, err
}

// ClaimNextJob takes the oldest ready job of a hotel for owner, holding it
// until now+visibility. It returns ErrNotFound when no job is ready or when
// another worker won the race for the head.
func ClaimNextJob(ctx context.Context, db *gorm.DB, hotelID, owner string, now time.Time, visibility time.Duration) (*domain.RecomputationJob, error) {
	var head domain.RecomputationJob
	err := db.WithContext(ctx).
		Where("hotel_id = ?", hotelID).
		Where(readyPredicate, readyArgs(now)...).
		Order("enqueued_at, id").
		First(&head).Error
	if err != nil {
		return nil, err
	}

	until := now.Add(visibility)
	res := db.WithContext(ctx).
		Model(&domain.RecomputationJob{}).
		Where("id = ?", head.ID).
		Where(readyPredicate, readyArgs(now)...).
		Updates(map[string]any{
			"status":           domain.JobProcessing,
			"lease_owner":      owner,
			"lease_expires_at": until,
			"attempts":         gorm.Expr("attempts + 1"),
			"started_at":       now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return GetJob(ctx, db, head.ID)
}

// ExtendJobLease pushes the visibility deadline of a job still owned by owner.
func ExtendJobLease(ctx context.Context, db *gorm.DB, jobID, owner string, until time.Time) error {
	return ownedUpdate(ctx, db, jobID, owner, map[string]any{
		"lease_expires_at": until,
		"updated_at":       time.Now().UTC(),
	})
}

// FinishJob records the terminal outcome of a processed job.
func FinishJob(ctx context.Context, db *gorm.DB, jobID, owner string, status domain.JobStatus, upserted, failed int, lastErr string) error {
	now := time.Now().UTC()
	return ownedUpdate(ctx, db, jobID, owner, map[string]any{
		"status":           status,
		"upserted":         upserted,
		"failed_triples":   failed,
		"last_error":       lastErr,
		"finished_at":      now,
		"lease_owner":      "",
		"lease_expires_at": nil,
		"updated_at":       now,
	})
}

// RetryJob releases a job whose processing failed as a whole. The job is
// either scheduled again at availableAt (status failed) or dead-lettered.
func RetryJob(ctx context.Context, db *gorm.DB, jobID, owner string, lastErr string, availableAt time.Time, deadLetter bool) error {
	now := time.Now().UTC()
	fields := map[string]any{
		"status":           domain.JobFailed,
		"last_error":       lastErr,
		"available_at":     availableAt,
		"lease_owner":      "",
		"lease_expires_at": nil,
		"updated_at":       now,
	}
	if deadLetter {
		fields["status"] = domain.JobDeadLettered
		fields["finished_at"] = now
	}
	return ownedUpdate(ctx, db, jobID, owner, fields)
}

// RequeueJob moves a dead-lettered or failed job back to queued with a fresh
// attempt budget. It returns ErrNotFound for unknown ids and ErrInvalidState
// for jobs in any other status.
func RequeueJob(ctx context.Context, db *gorm.DB, id string, now time.Time) (*domain.RecomputationJob, error) {
	res := db.WithContext(ctx).
		Model(&domain.RecomputationJob{}).
		Where("id = ? AND status IN ?", id, []domain.JobStatus{domain.JobDeadLettered, domain.JobFailed}).
		Updates(map[string]any{
			"status":       domain.JobQueued,
			"attempts":     0,
			"available_at": now,
			"finished_at":  nil,
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := GetJob(ctx, db, id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidState
	}
	return GetJob(ctx, db, id)
}

// ListJobs returns a page of jobs, newest first, optionally filtered by hotel
// and status (empty strings match everything).
func ListJobs(ctx context.Context, db *gorm.DB, hotelID string, status domain.JobStatus, offset, limit int) ([]domain.RecomputationJob, error) {
	var out []domain.RecomputationJob
	err := jobFilter(db.WithContext(ctx), hotelID, status).
		Order("enqueued_at desc, id").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountJobs returns how many jobs match the ListJobs filter.
func CountJobs(ctx context.Context, db *gorm.DB, hotelID string, status domain.JobStatus) (int64, error) {
	var total int64
	err := jobFilter(db.WithContext(ctx).Model(&domain.RecomputationJob{}), hotelID, status).Count(&total).Error
	return total, err
}

// NewJobID returns a fresh job identifier. Exposed so a dispatcher can know
// the id before the row exists.
func NewJobID() string { return uuid.NewString() }

func jobFilter(q *gorm.DB, hotelID string, status domain.JobStatus) *gorm.DB {
	if hotelID != "" {
		q = q.Where("hotel_id = ?", hotelID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	return q
}

func ownedUpdate(ctx context.Context, db *gorm.DB, jobID, owner string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.RecomputationJob{}).
		Where("id = ? AND lease_owner = ?", jobID, owner).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
