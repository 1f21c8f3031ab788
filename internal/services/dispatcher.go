// Package services – Dispatcher
//
// Dispatcher turns MaterializationScopes into RecomputationJobs on the
// hotel-partitioned queue.
//
// Deduplication: every queued job registers an in-flight entry (a TTL-bounded
// key-value row keyed by job id). A new scope fully contained in a live entry
// of the same hotel piggybacks on that job instead of creating a new one.
// The worker deletes the entry when it claims the job, before it snapshots
// the rules, so a later mutation can never merge into a job that has already
// read the old rule state. A merge pins the entry inside the caller's
// transaction first: the pin row-locks it, so a concurrent claim's delete
// waits for the commit, and an entry already deleted by a claim is skipped.
// Partially overlapping scopes are both kept.
//
// Failures to enqueue are reported as ErrQueueUnavailable and are never
// swallowed: the caller's rule write is rolled back with them.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/config"
	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/observability"
	"github.com/tbourn/go-rate-engine/internal/repo"
)

// JobStore defines the queue operations required by Dispatcher.
type JobStore interface {
	// CreateJob inserts a job row.
	CreateJob(ctx context.Context, db *gorm.DB, j *domain.RecomputationJob) error

	// CreateInflight registers the dedup entry of a queued job.
	CreateInflight(ctx context.Context, db *gorm.DB, jobID string, scope domain.MaterializationScope, ttl time.Duration) (*domain.InflightScope, error)

	// LiveInflight lists the non-expired entries of a hotel.
	LiveInflight(ctx context.Context, db *gorm.DB, hotelID string, now time.Time) ([]domain.InflightScope, error)

	// PinInflight locks a live entry for the rest of the transaction and
	// reports whether it still exists.
	PinInflight(ctx context.Context, db *gorm.DB, jobID string, now time.Time) (bool, error)

	// RequeueJob moves a dead-lettered or failed job back to queued.
	RequeueJob(ctx context.Context, db *gorm.DB, id string, now time.Time) (*domain.RecomputationJob, error)
}

// RepoJobStore implements JobStore with the repo package functions.
type RepoJobStore struct{}

func (RepoJobStore) CreateJob(ctx context.Context, db *gorm.DB, j *domain.RecomputationJob) error {
	return repo.CreateJob(ctx, db, j)
}

func (RepoJobStore) CreateInflight(ctx context.Context, db *gorm.DB, jobID string, scope domain.MaterializationScope, ttl time.Duration) (*domain.InflightScope, error) {
	return repo.CreateInflight(ctx, db, jobID, scope, ttl)
}

func (RepoJobStore) LiveInflight(ctx context.Context, db *gorm.DB, hotelID string, now time.Time) ([]domain.InflightScope, error) {
	return repo.LiveInflight(ctx, db, hotelID, now)
}

func (RepoJobStore) PinInflight(ctx context.Context, db *gorm.DB, jobID string, now time.Time) (bool, error) {
	return repo.PinInflight(ctx, db, jobID, now)
}

func (RepoJobStore) RequeueJob(ctx context.Context, db *gorm.DB, id string, now time.Time) (*domain.RecomputationJob, error) {
	return repo.RequeueJob(ctx, db, id, now)
}

// Dispatcher enqueues recomputation jobs.
type Dispatcher struct {
	DB    *gorm.DB
	Store JobStore

	MaxAttempts int
	InflightTTL time.Duration

	wake chan struct{}
}

// NewDispatcher constructs a Dispatcher. A nil store uses RepoJobStore.
func NewDispatcher(db *gorm.DB, store JobStore, cfg config.WorkerConfig) *Dispatcher {
	if store == nil {
		store = RepoJobStore{}
	}
	d := &Dispatcher{
		DB:          db,
		Store:       store,
		MaxAttempts: cfg.MaxAttempts,
		InflightTTL: cfg.InflightTTL,
		wake:        make(chan struct{}, 1),
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 5
	}
	if d.InflightTTL <= 0 {
		d.InflightTTL = 15 * time.Minute
	}
	return d
}

// Wake nudges in-process workers that a job may be ready. It never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Woken is signalled after Wake; consumed by the worker pool.
func (d *Dispatcher) Woken() <-chan struct{} { return d.wake }

// Dispatch enqueues scope in its own transaction and wakes workers. It
// returns the id of the job that will process scope (an existing one when
// merged), or "" when the scope is empty.
func (d *Dispatcher) Dispatch(ctx context.Context, scope domain.MaterializationScope) (string, error) {
	var id string
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		id, err = d.DispatchTx(ctx, tx, scope)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrQueueUnavailable) {
			err = fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
		}
		return "", err
	}
	if id != "" {
		d.Wake()
	}
	return id, nil
}

// DispatchTx enqueues scope inside the caller's transaction so a rule write
// and its job commit or roll back together. The caller wakes workers after
// commit.
func (d *Dispatcher) DispatchTx(ctx context.Context, tx *gorm.DB, scope domain.MaterializationScope) (string, error) {
	ctx, span := observability.Tracer("services/Dispatcher").Start(ctx, "Dispatch",
		trace.WithAttributes(attribute.String("hotel.id", scope.HotelID)),
	)
	defer span.End()

	scope = scope.Normalize()
	if scope.IsEmpty() {
		observability.JobsDispatched.WithLabelValues("empty").Inc()
		return "", nil
	}

	now := time.Now().UTC()
	live, err := d.Store.LiveInflight(ctx, tx, scope.HotelID, now)
	if err != nil {
		return "", d.unavailable(span, err)
	}
	for _, e := range live {
		var held domain.MaterializationScope
		held, err = domain.RecomputationJob{Scope: e.Scope}.ScopeValue()
		if err != nil {
			log.Warn().Err(err).Str("job_id", e.JobID).Msg("undecodable inflight scope")
			continue
		}
		if held.Contains(scope) {
			pinned, err := d.Store.PinInflight(ctx, tx, e.JobID, now)
			if err != nil {
				return "", d.unavailable(span, err)
			}
			if !pinned {
				// Claimed since LiveInflight; its snapshot may predate this write.
				continue
			}
			observability.JobsDispatched.WithLabelValues("merged").Inc()
			span.SetAttributes(attribute.String("job.id", e.JobID), attribute.Bool("job.merged", true))
			log.Debug().Str("hotel_id", scope.HotelID).Str("job_id", e.JobID).Msg("scope merged into in-flight job")
			return e.JobID, nil
		}
	}

	job, err := d.enqueue(ctx, tx, scope, enqueueOpts{})
	if err != nil {
		return "", d.unavailable(span, err)
	}
	observability.JobsDispatched.WithLabelValues("enqueued").Inc()
	span.SetAttributes(attribute.String("job.id", job.ID))
	return job.ID, nil
}

// FollowUp enqueues a narrower job for the failed triples of a partially
// failed parent. The follow-up is one generation deeper and becomes
// available after delay. Once the generation exceeds MaxAttempts it is
// created dead-lettered so an operator can inspect it.
func (d *Dispatcher) FollowUp(ctx context.Context, parent *domain.RecomputationJob, scope domain.MaterializationScope, delay time.Duration, reason string) (*domain.RecomputationJob, error) {
	gen := parent.Generation + 1
	return d.derive(ctx, "FollowUp", "follow_up", parent, scope, enqueueOpts{
		parent:      parent,
		generation:  gen,
		availableAt: time.Now().UTC().Add(delay),
		deadLetter:  gen > d.MaxAttempts,
		lastErr:     reason,
	})
}

// Remainder enqueues the unprocessed part of a timed-out parent. It keeps the
// parent's generation and is available immediately: every timeout leaves
// less work behind, so remainders never count toward the retry bound.
func (d *Dispatcher) Remainder(ctx context.Context, parent *domain.RecomputationJob, scope domain.MaterializationScope, reason string) (*domain.RecomputationJob, error) {
	return d.derive(ctx, "Remainder", "remainder", parent, scope, enqueueOpts{
		parent:      parent,
		generation:  parent.Generation,
		availableAt: time.Now().UTC(),
		lastErr:     reason,
	})
}

func (d *Dispatcher) derive(ctx context.Context, op, outcome string, parent *domain.RecomputationJob, scope domain.MaterializationScope, opts enqueueOpts) (*domain.RecomputationJob, error) {
	ctx, span := observability.Tracer("services/Dispatcher").Start(ctx, op,
		trace.WithAttributes(
			attribute.String("hotel.id", parent.HotelID),
			attribute.String("job.parent_id", parent.ID),
		),
	)
	defer span.End()

	var job *domain.RecomputationJob
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		job, err = d.enqueue(ctx, tx, scope.Normalize(), opts)
		return err
	})
	if err != nil {
		return nil, d.unavailable(span, err)
	}
	if opts.deadLetter {
		observability.DeadLettered.Inc()
		log.Error().Str("job_id", job.ID).Str("parent_job_id", parent.ID).Int("generation", opts.generation).
			Str("reason", opts.lastErr).Msg("follow-up job dead-lettered")
		return job, nil
	}
	observability.JobsDispatched.WithLabelValues(outcome).Inc()
	return job, nil
}

// Requeue moves a dead-lettered (or failed) job back to queued with its
// attempts reset, then wakes workers.
func (d *Dispatcher) Requeue(ctx context.Context, jobID string) (*domain.RecomputationJob, error) {
	j, err := d.Store.RequeueJob(ctx, d.DB, jobID, time.Now().UTC())
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, repo.ErrInvalidState):
		return nil, ErrInvalidJobState
	case err != nil:
		return nil, err
	}
	log.Info().Str("job_id", j.ID).Str("hotel_id", j.HotelID).Msg("job requeued by operator")
	d.Wake()
	return j, nil
}

type enqueueOpts struct {
	parent      *domain.RecomputationJob
	generation  int
	availableAt time.Time
	deadLetter  bool
	lastErr     string
}

func (d *Dispatcher) enqueue(ctx context.Context, tx *gorm.DB, scope domain.MaterializationScope, o enqueueOpts) (*domain.RecomputationJob, error) {
	enc, err := domain.EncodeScope(scope)
	if err != nil {
		return nil, err
	}
	job := &domain.RecomputationJob{
		ID:          repo.NewJobID(),
		HotelID:     scope.HotelID,
		Scope:       enc,
		Status:      domain.JobQueued,
		MaxAttempts: d.MaxAttempts,
		Generation:  o.generation,
		AvailableAt: o.availableAt,
		LastError:   o.lastErr,
	}
	if o.parent != nil {
		job.ParentJobID = &o.parent.ID
	}
	if o.deadLetter {
		now := time.Now().UTC()
		job.Status = domain.JobDeadLettered
		job.FinishedAt = &now
	}
	if err := d.Store.CreateJob(ctx, tx, job); err != nil {
		return nil, err
	}
	if !o.deadLetter {
		if _, err := d.Store.CreateInflight(ctx, tx, job.ID, scope, d.InflightTTL); err != nil {
			return nil, err
		}
	}
	return job, nil
}

func (d *Dispatcher) unavailable(span trace.Span, err error) error {
	observability.JobsDispatched.WithLabelValues("failed").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, "dispatch failed")
	log.Error().Err(err).Msg("recomputation dispatch failed")
	return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
}
