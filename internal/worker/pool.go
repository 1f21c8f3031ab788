package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/config"
	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/observability"
	"github.com/tbourn/go-rate-engine/internal/repo"
	"github.com/tbourn/go-rate-engine/internal/services"
)

// Pool runs Concurrency workers over the hotel-partitioned queue.
//
// A worker takes a hotel partition lease, then drains that hotel's ready jobs
// in enqueue order while renewing the lease, so jobs of one hotel never run
// concurrently. Hotels are processed in parallel across workers and
// processes.
type Pool struct {
	DB         *gorm.DB
	Dispatcher *services.Dispatcher
	Processor  *Processor
	Cfg        config.WorkerConfig

	// ID prefixes the lease owner of every worker in the pool.
	ID string
}

// NewPool wires a pool and its processor from cfg.
func NewPool(db *gorm.DB, d *services.Dispatcher, cfg config.WorkerConfig) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	host, _ := os.Hostname()
	backoff := Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax}
	return &Pool{
		DB:         db,
		Dispatcher: d,
		Cfg:        cfg,
		ID:         fmt.Sprintf("%s-%d-%s", host, os.Getpid(), repo.NewJobID()[:8]),
		Processor: &Processor{
			DB:          db,
			Dispatcher:  d,
			HorizonDays: cfg.HorizonDays,
			Backoff:     backoff,
		},
	}
}

// Run blocks until ctx is cancelled. In-flight jobs get their own timeout;
// a job interrupted by shutdown is left processing and redelivered once its
// visibility lease expires.
func (p *Pool) Run(ctx context.Context) error {
	log.Info().Str("component", "worker").Str("pool_id", p.ID).Int("concurrency", p.Cfg.Concurrency).Msg("worker pool started")
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.Cfg.Concurrency; i++ {
		w := &worker{pool: p, owner: fmt.Sprintf("%s/%d", p.ID, i)}
		w.log = log.With().Str("component", "worker").Str("owner", w.owner).Logger()
		g.Go(func() error { return w.loop(ctx) })
	}
	g.Go(func() error { return p.maintain(ctx) })
	err := g.Wait()
	log.Info().Str("component", "worker").Str("pool_id", p.ID).Msg("worker pool stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunOnce drains every hotel that has ready jobs, sequentially, and returns
// the number of jobs processed. Used by the `worker --once` command and tests.
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	w := &worker{pool: p, owner: p.ID + "/once"}
	w.log = log.With().Str("component", "worker").Str("owner", w.owner).Logger()
	total := 0
	for {
		n, err := w.pass(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

// maintain purges expired dedup entries and refreshes queue gauges.
func (p *Pool) maintain(ctx context.Context) error {
	t := time.NewTicker(p.Cfg.PollInterval * 5)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if n, err := repo.PurgeExpiredInflight(ctx, p.DB, time.Now().UTC()); err != nil {
			log.Warn().Err(err).Str("component", "worker").Msg("purge expired inflight scopes")
		} else if n > 0 {
			log.Debug().Int64("purged", n).Str("component", "worker").Msg("expired inflight scopes purged")
		}
		if depth, err := repo.QueueDepth(ctx, p.DB); err == nil {
			observability.SetQueueDepth(depth)
		}
	}
}

type worker struct {
	pool  *Pool
	owner string
	log   zerolog.Logger
}

func (w *worker) loop(ctx context.Context) error {
	for {
		n, err := w.pass(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("queue scan failed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.pool.Dispatcher.Woken():
		case <-time.After(w.pool.Cfg.PollInterval):
		}
	}
}

// pass drains every ready hotel this worker can lease and returns the number
// of jobs processed.
func (w *worker) pass(ctx context.Context) (int, error) {
	hotels, err := repo.ReadyHotels(ctx, w.pool.DB, time.Now().UTC(), 64)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, hotelID := range hotels {
		if ctx.Err() != nil {
			break
		}
		ok, err := repo.AcquireLease(ctx, w.pool.DB, hotelID, w.owner, time.Now().UTC(), w.pool.Cfg.LeaseTTL)
		if err != nil {
			return total, err
		}
		if !ok {
			continue
		}
		n, err := w.drain(ctx, hotelID)
		total += n
		if rerr := repo.ReleaseLease(context.WithoutCancel(ctx), w.pool.DB, hotelID, w.owner); rerr != nil {
			w.log.Warn().Err(rerr).Str("hotel_id", hotelID).Msg("release partition lease")
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// drain processes the hotel's ready jobs one at a time while the partition
// lease is held. The lease is renewed before every claim; once it has been
// taken over the worker stops draining.
func (w *worker) drain(ctx context.Context, hotelID string) (int, error) {
	cfg := w.pool.Cfg
	n := 0
	for ctx.Err() == nil {
		err := repo.RenewLease(ctx, w.pool.DB, hotelID, w.owner, time.Now().UTC(), cfg.LeaseTTL)
		if errors.Is(err, repo.ErrLeaseLost) {
			w.log.Warn().Str("hotel_id", hotelID).Int("processed", n).Msg("partition lease lost; stop draining")
			return n, nil
		}
		if err != nil {
			return n, err
		}
		job, err := repo.ClaimNextJob(ctx, w.pool.DB, hotelID, w.owner, time.Now().UTC(), cfg.LeaseTTL)
		if errors.Is(err, repo.ErrNotFound) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		// Once claimed, later mutations must not merge into this job: the
		// snapshot may already predate them.
		if err := repo.DeleteInflight(ctx, w.pool.DB, job.ID); err != nil {
			w.log.Warn().Err(err).Str("job_id", job.ID).Msg("delete inflight scope")
		}
		if lost := w.run(ctx, job); lost {
			return n + 1, nil
		}
		n++
	}
	return n, nil
}

// run processes one claimed job under its timeout and records the outcome.
// It reports whether the partition lease was lost meanwhile.
func (w *worker) run(ctx context.Context, job *domain.RecomputationJob) (leaseLost bool) {
	cfg := w.pool.Cfg
	jobCtx := ctx
	cancel := func() {}
	if cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, cfg.JobTimeout)
	}
	defer cancel()

	var lost sync.Once
	hbCtx, stopHB := context.WithCancel(jobCtx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeat(hbCtx, job, func() {
			lost.Do(func() { leaseLost = true })
			cancel()
		})
	}()

	start := time.Now()
	out := w.pool.Processor.Process(jobCtx, job)
	observability.JobDuration.Observe(time.Since(start).Seconds())
	stopHB()
	wg.Wait()

	if leaseLost {
		w.log.Warn().Str("job_id", job.ID).Str("hotel_id", job.HotelID).Msg("partition lease lost; job left for redelivery")
		return true
	}
	w.finish(context.WithoutCancel(ctx), job, out)
	return false
}

// heartbeat renews the partition lease and the job's visibility lease every
// third of LeaseTTL until ctx is done. onLost is called once if either
// lease was taken over.
func (w *worker) heartbeat(ctx context.Context, job *domain.RecomputationJob, onLost func()) {
	ttl := w.pool.Cfg.LeaseTTL
	t := time.NewTicker(ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		now := time.Now().UTC()
		err := repo.RenewLease(ctx, w.pool.DB, job.HotelID, w.owner, now, ttl)
		if err == nil {
			err = repo.ExtendJobLease(ctx, w.pool.DB, job.ID, w.owner, now.Add(ttl))
		}
		switch {
		case err == nil:
		case errors.Is(err, repo.ErrLeaseLost), errors.Is(err, repo.ErrNotFound):
			onLost()
			return
		case ctx.Err() == nil:
			w.log.Warn().Err(err).Str("job_id", job.ID).Msg("lease renewal failed")
		}
	}
}

// finish records the outcome. Whole-job failures are retried with backoff
// until the attempt budget is spent, then dead-lettered.
func (w *worker) finish(ctx context.Context, job *domain.RecomputationJob, out Outcome) {
	logger := w.log.With().Str("job_id", job.ID).Str("hotel_id", job.HotelID).Int("attempt", job.Attempts).Logger()

	if out.Err != nil {
		maxAttempts := job.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = w.pool.Cfg.MaxAttempts
		}
		dead := job.Attempts >= maxAttempts
		next := time.Now().UTC().Add(w.pool.Processor.Backoff.Delay(job.Attempts))
		if err := repo.RetryJob(ctx, w.pool.DB, job.ID, w.owner, out.Summary(), next, dead); err != nil {
			logger.Error().Err(err).Msg("record job failure")
			return
		}
		if dead {
			observability.DeadLettered.Inc()
			observability.JobsFinished.WithLabelValues(string(domain.JobDeadLettered)).Inc()
			logger.Error().Err(out.Err).Msg("job dead-lettered")
			return
		}
		observability.JobsFinished.WithLabelValues(string(domain.JobFailed)).Inc()
		logger.Warn().Err(out.Err).Time("retry_at", next).Msg("job failed; retry scheduled")
		return
	}

	if err := repo.FinishJob(ctx, w.pool.DB, job.ID, w.owner, out.Status, out.Upserted, len(out.Failed), out.Summary()); err != nil {
		logger.Error().Err(err).Msg("record job completion")
		return
	}
	observability.JobsFinished.WithLabelValues(string(out.Status)).Inc()
}
