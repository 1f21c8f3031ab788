// Package worker runs recomputation jobs: it claims jobs from the
// hotel-partitioned queue, composes the rates of every triple in the job's
// scope and upserts them into the materialized rate store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/observability"
	"github.com/tbourn/go-rate-engine/internal/pricing"
	"github.com/tbourn/go-rate-engine/internal/repo"
	"github.com/tbourn/go-rate-engine/internal/services"
)

// Triple identifies one materialized rate.
type Triple struct {
	RoomProductID string
	RatePlanID    string
	Date          time.Time
}

// FailedTriple is a triple whose composition failed.
type FailedTriple struct {
	Triple
	Err error
}

// Outcome is the result of processing one job.
//
// Err is set for whole-job failures (hotel missing, store unreachable); the
// caller retries those. Otherwise Status is completed or
// completed_with_errors and the counters describe the run.
type Outcome struct {
	Status    domain.JobStatus
	Upserted  int
	Stale     int // CAS lost to a row from a newer snapshot
	Failed    []FailedTriple
	Remainder bool // the job timed out and its remainder was requeued

	FollowUpJobIDs []string
	Err            error
}

// Summary renders a one-line description for the job's last_error column.
func (o Outcome) Summary() string {
	switch {
	case o.Err != nil:
		return o.Err.Error()
	case len(o.Failed) > 0 && o.Remainder:
		return fmt.Sprintf("%d triple(s) failed, first: %v; timed out, remainder requeued", len(o.Failed), o.Failed[0].Err)
	case len(o.Failed) > 0:
		return fmt.Sprintf("%d triple(s) failed, first: %v", len(o.Failed), o.Failed[0].Err)
	case o.Remainder:
		return "timed out, remainder requeued"
	}
	return ""
}

// Processor executes one job.
type Processor struct {
	DB         *gorm.DB
	Dispatcher *services.Dispatcher

	// HorizonDays bounds open-ended and full-stored date ranges forward.
	HorizonDays int
	// Backoff delays follow-up jobs of failed triples.
	Backoff Backoff
	// Now returns the current time; defaults to time.Now.
	Now func() time.Time

	// dateDone, when set, runs after every fully processed date.
	dateDone func(day time.Time)
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// Process runs job to completion or until ctx is done. Triples are composed
// date by date; within a date, rate plans follow the derivation order so a
// target is always priced before the plans derived from it.
func (p *Processor) Process(ctx context.Context, job *domain.RecomputationJob) Outcome {
	ctx, span := observability.Tracer("worker").Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("hotel.id", job.HotelID),
			attribute.Int("job.attempt", job.Attempts),
			attribute.Int("job.generation", job.Generation),
		),
	)
	defer span.End()
	logger := log.With().Str("component", "worker").Str("job_id", job.ID).Str("hotel_id", job.HotelID).Logger()

	out := p.process(ctx, job, logger)
	span.SetAttributes(
		attribute.Int("triples.upserted", out.Upserted),
		attribute.Int("triples.failed", len(out.Failed)),
	)
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, "job failed")
	}
	return out
}

func (p *Processor) process(ctx context.Context, job *domain.RecomputationJob, logger zerolog.Logger) Outcome {
	fail := func(err error) Outcome { return Outcome{Status: domain.JobFailed, Err: err} }

	scope, err := job.ScopeValue()
	if err != nil {
		return fail(fmt.Errorf("decode scope: %w", err))
	}
	hotel, err := repo.GetHotel(ctx, p.DB, job.HotelID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fail(services.ErrHotelNotFound)
		}
		return fail(fmt.Errorf("load hotel: %w", err))
	}

	dates, err := p.resolveDates(ctx, scope)
	if err != nil {
		return fail(err)
	}
	pairs, err := p.resolvePairs(ctx, scope, logger)
	if err != nil {
		return fail(err)
	}
	days := dates.Days()
	if len(pairs) == 0 || len(days) == 0 {
		logger.Debug().Msg("scope resolved to no triples")
		return Outcome{Status: domain.JobCompleted}
	}

	snap, err := p.loadSnapshot(ctx, hotel, pairs, dates)
	if err != nil {
		return fail(err)
	}
	order := p.planOrder(snap, pairs, logger)
	composer, err := pricing.NewComposer(snap)
	if err != nil {
		return fail(fmt.Errorf("rounding: %w", err))
	}

	out := Outcome{Status: domain.JobCompleted}
	for di, day := range days {
		if ctx.Err() != nil {
			if di == 0 {
				return fail(fmt.Errorf("job timed out before progress: %w", ctx.Err()))
			}
			out.Remainder = true
			rest := scope
			rest.Dates = domain.DateRange{From: day, To: dates.To}
			child, err := p.Dispatcher.Remainder(context.WithoutCancel(ctx), job, rest, "remainder after timeout")
			if err != nil {
				logger.Error().Err(err).Msg("remainder job not enqueued")
			} else {
				out.FollowUpJobIDs = append(out.FollowUpJobIDs, child.ID)
			}
			break
		}

		composer.Reset()
		for _, plan := range order {
			for _, rp := range pairs[plan] {
				res, err := composer.Compose(rp, plan, day)
				if err != nil {
					observability.TriplesProcessed.WithLabelValues("failed").Inc()
					out.Failed = append(out.Failed, FailedTriple{Triple{rp, plan, day}, err})
					logger.Warn().Err(err).Str("room_product_id", rp).Str("rate_plan_id", plan).
						Str("date", day.Format(domain.DateLayout)).Msg("composition failed")
					continue
				}
				applied, err := repo.UpsertRate(context.WithoutCancel(ctx), p.DB, &domain.MaterializedRate{
					RoomProductID: rp,
					RatePlanID:    plan,
					Date:          day,
					HotelID:       hotel.ID,
					Amount:        res.Amount,
					Currency:      hotel.Currency,
					Provenance:    res.Provenance,
					ComputedAt:    snap.TakenAt,
					JobID:         job.ID,
				})
				if err != nil {
					// The store is unreachable; rows already written stay valid and
					// the retry rewrites them idempotently.
					return fail(fmt.Errorf("upsert rate: %w", err))
				}
				if applied {
					out.Upserted++
					observability.TriplesProcessed.WithLabelValues("upserted").Inc()
				} else {
					out.Stale++
					observability.TriplesProcessed.WithLabelValues("stale").Inc()
				}
			}
		}
		if p.dateDone != nil {
			p.dateDone(day)
		}
	}

	if len(out.Failed) > 0 {
		out.Status = domain.JobCompletedWithErrors
		delay := p.Backoff.Delay(job.Generation + 1)
		p.followUp(ctx, job, failedScope(job.HotelID, out.Failed), delay, out.Failed[0].Err.Error(), &out, logger)
	}
	logger.Info().
		Int("upserted", out.Upserted).
		Int("stale", out.Stale).
		Int("failed", len(out.Failed)).
		Bool("remainder", out.Remainder).
		Msg("job processed")
	return out
}

// followUp enqueues a narrower job for failed triples. A failure to enqueue is logged; the
// parent job's last_error keeps the triples visible to operators.
func (p *Processor) followUp(ctx context.Context, job *domain.RecomputationJob, scope domain.MaterializationScope, delay time.Duration, reason string, out *Outcome, logger zerolog.Logger) {
	child, err := p.Dispatcher.FollowUp(context.WithoutCancel(ctx), job, scope, delay, reason)
	if err != nil {
		logger.Error().Err(err).Msg("follow-up job not enqueued")
		return
	}
	out.FollowUpJobIDs = append(out.FollowUpJobIDs, child.ID)
}

// resolveDates bounds the scope's date range. Open-ended ranges stop at the
// horizon; the full stored range spans the materialized rows of the hotel
// and at least [today, today+horizon).
func (p *Processor) resolveDates(ctx context.Context, scope domain.MaterializationScope) (domain.DateRange, error) {
	today := domain.Day(p.now())
	horizon := p.HorizonDays
	if horizon <= 0 {
		horizon = 365
	}
	ahead := today.AddDate(0, 0, horizon)

	r := scope.Dates
	switch {
	case r.FullStored():
		first, last, err := repo.MaterializedDateBounds(ctx, p.DB, scope.HotelID)
		if err != nil {
			return r, fmt.Errorf("materialized bounds: %w", err)
		}
		r = domain.DateRange{From: today, To: ahead}
		if first != nil && first.Before(r.From) {
			r.From = domain.Day(*first)
		}
		if last != nil && !last.Before(r.To) {
			r.To = domain.Day(*last).AddDate(0, 0, 1)
		}
	case r.OpenEnded():
		start := r.From
		if start.Before(today) {
			start = today
		}
		r.To = start.AddDate(0, 0, horizon)
	}
	return r, nil
}

// resolvePairs intersects the scope with the hotel's sellable pairs and
// returns room product ids per rate plan. Explicit ids unknown to the
// catalog are logged and skipped.
func (p *Processor) resolvePairs(ctx context.Context, scope domain.MaterializationScope, logger zerolog.Logger) (map[string][]string, error) {
	sellable, err := repo.ListSellablePairs(ctx, p.DB, scope.HotelID)
	if err != nil {
		return nil, fmt.Errorf("sellable pairs: %w", err)
	}
	seenRP := map[string]bool{}
	seenPlan := map[string]bool{}
	pairs := map[string][]string{}
	for _, sp := range sellable {
		seenRP[sp.RoomProductID] = true
		seenPlan[sp.RatePlanID] = true
		if scope.IncludesRoomProduct(sp.RoomProductID) && scope.IncludesRatePlan(sp.RatePlanID) {
			pairs[sp.RatePlanID] = append(pairs[sp.RatePlanID], sp.RoomProductID)
		}
	}
	for _, id := range scope.RoomProductIDs {
		if !seenRP[id] {
			logger.Warn().Str("room_product_id", id).Msg("room product in scope not sellable; skipped")
		}
	}
	for _, id := range scope.RatePlanIDs {
		if !seenPlan[id] {
			logger.Warn().Str("rate_plan_id", id).Msg("rate plan in scope not sellable; skipped")
		}
	}
	return pairs, nil
}

// loadSnapshot reads the catalog and rules a job needs. All reads happen
// before composition; TakenAt is the snapshot time.
func (p *Processor) loadSnapshot(ctx context.Context, hotel *domain.Hotel, pairs map[string][]string, dates domain.DateRange) (*pricing.Snapshot, error) {
	snap := &pricing.Snapshot{
		HotelID:      hotel.ID,
		Currency:     hotel.Currency,
		TakenAt:      p.now(),
		RoomProducts: map[string]domain.RoomProduct{},
		RatePlans:    map[string]domain.RatePlan{},
		Features:     map[string][]string{},
		FeatureRates: map[string][]domain.FeatureDailyRateRule{},
		Derived:      map[string]domain.RatePlanDerivedSetting{},
	}

	rpSet := map[string]bool{}
	for _, rps := range pairs {
		for _, rp := range rps {
			rpSet[rp] = true
		}
	}
	rpIDs := make([]string, 0, len(rpSet))
	for id := range rpSet {
		rpIDs = append(rpIDs, id)
	}
	sort.Strings(rpIDs)

	rps, err := repo.ListRoomProducts(ctx, p.DB, hotel.ID, rpIDs)
	if err != nil {
		return nil, fmt.Errorf("room products: %w", err)
	}
	for _, rp := range rps {
		snap.RoomProducts[rp.ID] = rp
	}
	plans, err := repo.ListRatePlans(ctx, p.DB, hotel.ID)
	if err != nil {
		return nil, fmt.Errorf("rate plans: %w", err)
	}
	for _, rp := range plans {
		snap.RatePlans[rp.ID] = rp
	}

	links, err := repo.FeatureLinks(ctx, p.DB, rpIDs)
	if err != nil {
		return nil, fmt.Errorf("feature links: %w", err)
	}
	featureSet := map[string]bool{}
	for _, l := range links {
		snap.Features[l.RoomProductID] = append(snap.Features[l.RoomProductID], l.FeatureID)
		featureSet[l.FeatureID] = true
	}
	featureIDs := make([]string, 0, len(featureSet))
	for id := range featureSet {
		featureIDs = append(featureIDs, id)
	}
	sort.Strings(featureIDs)

	frs, err := repo.FeatureRatesFor(ctx, p.DB, hotel.ID, featureIDs, dates)
	if err != nil {
		return nil, fmt.Errorf("feature rates: %w", err)
	}
	for _, r := range frs {
		snap.FeatureRates[r.FeatureID] = append(snap.FeatureRates[r.FeatureID], r)
	}
	if snap.ExtraOccupancy, err = repo.ExtraOccupancyRulesIn(ctx, p.DB, hotel.ID, dates); err != nil {
		return nil, fmt.Errorf("extra occupancy rules: %w", err)
	}
	derived, err := repo.ListDerivedSettings(ctx, p.DB, hotel.ID)
	if err != nil {
		return nil, fmt.Errorf("derived settings: %w", err)
	}
	for _, d := range derived {
		snap.Derived[d.RatePlanID] = d
	}

	rounding, err := repo.GetRoundingRule(ctx, p.DB, hotel.ID)
	switch {
	case err == nil:
		snap.Rounding = rounding
	case !errors.Is(err, repo.ErrNotFound):
		return nil, fmt.Errorf("rounding rule: %w", err)
	}
	return snap, nil
}

// planOrder returns the rate plans of pairs in derivation order. A cycle
// (which mutation-time validation should have prevented) falls back to id
// order; the composer then fails the affected triples individually.
func (p *Processor) planOrder(snap *pricing.Snapshot, pairs map[string][]string, logger zerolog.Logger) []string {
	plans := make([]string, 0, len(pairs))
	for plan := range pairs {
		plans = append(plans, plan)
	}
	sort.Strings(plans)
	order, err := snap.Graph().TopoOrder(plans)
	if err != nil {
		logger.Error().Err(err).Msg("derivation graph is cyclic")
		return plans
	}
	return order
}

// failedScope is the smallest scope covering the failed triples: their room
// products, rate plans and the hull of their dates.
func failedScope(hotelID string, failed []FailedTriple) domain.MaterializationScope {
	s := domain.MaterializationScope{HotelID: hotelID}
	for i, f := range failed {
		s.RoomProductIDs = append(s.RoomProductIDs, f.RoomProductID)
		s.RatePlanIDs = append(s.RatePlanIDs, f.RatePlanID)
		day := domain.InclusiveRange(f.Date, f.Date)
		if i == 0 {
			s.Dates = day
		} else {
			s.Dates = s.Dates.Hull(day)
		}
	}
	return s.Normalize()
}
