// Package services – JobService
//
// JobService is the operator view of the recomputation queue: job lookup,
// status-filtered listing with pagination, and requeue of dead-lettered jobs.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/repo"
)

// JobService exposes queue inspection.
type JobService struct {
	DB         *gorm.DB
	Dispatcher *Dispatcher
}

// Get returns a job by id, or ErrNotFound.
func (s *JobService) Get(ctx context.Context, id string) (*domain.RecomputationJob, error) {
	j, err := repo.GetJob(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	return j, err
}

// ListPage returns a page of jobs filtered by hotel and status (both
// optional), newest first, together with the total count.
func (s *JobService) ListPage(ctx context.Context, hotelID string, status domain.JobStatus, page, pageSize int) ([]domain.RecomputationJob, int64, error) {
	if status != "" && !knownStatus(status) {
		return nil, 0, invalid("unknown job status %q", status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountJobs(ctx, s.DB, hotelID, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.RecomputationJob{}, 0, nil
	}
	items, err := repo.ListJobs(ctx, s.DB, hotelID, status, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Requeue moves a dead-lettered job back to the queue.
func (s *JobService) Requeue(ctx context.Context, id string) (*domain.RecomputationJob, error) {
	return s.Dispatcher.Requeue(ctx, id)
}

func knownStatus(st domain.JobStatus) bool {
	switch st {
	case domain.JobQueued, domain.JobProcessing, domain.JobCompleted,
		domain.JobCompletedWithErrors, domain.JobFailed, domain.JobDeadLettered:
		return true
	}
	return false
}
