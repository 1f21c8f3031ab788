package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/pricing"
	"github.com/tbourn/go-rate-engine/internal/repo"
	"github.com/tbourn/go-rate-engine/internal/services"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	cases := map[int]time.Duration{
		0:  time.Second,
		1:  time.Second,
		2:  2 * time.Second,
		3:  4 * time.Second,
		4:  8 * time.Second,
		5:  10 * time.Second,
		40: 10 * time.Second,
	}
	for n, want := range cases {
		assert.Equal(t, want, b.Delay(n), "attempt %d", n)
	}
	assert.Zero(t, Backoff{}.Delay(3))
}

func TestPool_FeatureRateFansOutToEveryTriple(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.rules.CreateFeatureRate(ctx, featureRate("2030-03-01", "2030-03-10", "100"))
	require.NoError(t, err)
	require.NotEmpty(t, res.JobID)

	n, err := h.pool.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// rp1..rp3 x {bar, nr} x 10 dates; rp4 consumes no feature.
	count, err := repo.CountHotelRates(ctx, h.db, "h1")
	require.NoError(t, err)
	assert.EqualValues(t, 60, count)

	rows, err := repo.ListRates(ctx, h.db, "rp2", "nr", domain.MustDay("2030-03-01"), domain.MustDay("2030-03-11"))
	require.NoError(t, err)
	require.Len(t, rows, 10)
	for _, r := range rows {
		assert.True(t, r.Amount.Equal(decimal.NewFromInt(100)), "amount %s", r.Amount)
		assert.Equal(t, "EUR", r.Currency)
		assert.Equal(t, res.JobID, r.JobID)
		assert.Len(t, r.Provenance, 64)
	}

	job, err := repo.GetJob(ctx, h.db, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, 60, job.Upserted)
	assert.Equal(t, 1, job.Attempts)
}

func TestPool_DerivedPlanFollowsTarget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.rules.CreateFeatureRate(ctx, featureRate("2030-03-01", "2030-03-03", "100"))
	require.NoError(t, err)
	from, to := domain.MustDay("2030-03-01"), domain.MustDay("2030-03-03")
	_, err = h.rules.CreateDerivedSetting(ctx, &domain.RatePlanDerivedSetting{
		HotelID:          "h1",
		RatePlanID:       "nr",
		TargetRatePlanID: "bar",
		Multiplier:       decimal.RequireFromString("0.9"),
		Delta:            decimal.Zero,
		FromDate:         &from,
		ToDate:           &to,
	})
	require.NoError(t, err)

	_, err = h.pool.RunOnce(ctx)
	require.NoError(t, err)

	r, err := repo.GetRate(ctx, h.db, "rp1", "nr", domain.MustDay("2030-03-02"))
	require.NoError(t, err)
	assert.True(t, r.Amount.Equal(decimal.NewFromInt(90)), "amount %s", r.Amount)
	bar, err := repo.GetRate(ctx, h.db, "rp1", "bar", domain.MustDay("2030-03-02"))
	require.NoError(t, err)
	assert.NotEqual(t, bar.Provenance, r.Provenance)
}

func TestProcess_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.rules.CreateFeatureRate(ctx, featureRate("2030-03-01", "2030-03-05", "80.5"))
	require.NoError(t, err)

	first := h.pool.Processor.Process(ctx, claim(t, h.db, "w1"))
	require.NoError(t, first.Err)
	before, err := repo.ListRates(ctx, h.db, "rp1", "bar", domain.MustDay("2030-03-01"), domain.MustDay("2030-03-06"))
	require.NoError(t, err)

	_, err = h.disp.Dispatch(ctx, domain.MaterializationScope{
		HotelID:         "h1",
		AllRoomProducts: true,
		AllRatePlans:    true,
		Dates:           domain.InclusiveRange(domain.MustDay("2030-03-01"), domain.MustDay("2030-03-05")),
	})
	require.NoError(t, err)
	second := h.pool.Processor.Process(ctx, claim(t, h.db, "w1"))
	require.NoError(t, second.Err)
	after, err := repo.ListRates(ctx, h.db, "rp1", "bar", domain.MustDay("2030-03-01"), domain.MustDay("2030-03-06"))
	require.NoError(t, err)

	require.Len(t, after, len(before))
	for i := range before {
		assert.True(t, before[i].Amount.Equal(after[i].Amount))
		assert.Equal(t, before[i].Provenance, after[i].Provenance)
	}
	assert.Equal(t, domain.JobCompleted, second.Status)
}

func TestProcess_CorruptDateFailsAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.rules.CreateFeatureRate(ctx, featureRate("2030-04-01", "2030-04-30", "120"))
	require.NoError(t, err)
	// Drop the job that write produced; this test drives its own scope.
	require.NoError(t, h.db.Where("1 = 1").Delete(&domain.RecomputationJob{}).Error)
	require.NoError(t, h.db.Where("1 = 1").Delete(&domain.InflightScope{}).Error)

	// A dangling derivation on a single day, written past validation.
	day := domain.MustDay("2030-04-15")
	require.NoError(t, repo.CreateDerivedSetting(ctx, h.db, &domain.RatePlanDerivedSetting{
		HotelID:          "h1",
		RatePlanID:       "nr",
		TargetRatePlanID: "gone",
		Multiplier:       decimal.NewFromInt(1),
		FromDate:         &day,
		ToDate:           &day,
	}))

	id, err := h.disp.Dispatch(ctx, domain.MaterializationScope{
		HotelID:        "h1",
		RoomProductIDs: []string{"rp1"},
		RatePlanIDs:    []string{"nr"},
		Dates:          domain.InclusiveRange(domain.MustDay("2030-04-01"), domain.MustDay("2030-04-30")),
	})
	require.NoError(t, err)
	job := claim(t, h.db, "w1")
	require.Equal(t, id, job.ID)

	out := h.pool.Processor.Process(ctx, job)
	require.NoError(t, out.Err)
	assert.Equal(t, domain.JobCompletedWithErrors, out.Status)
	assert.Equal(t, 29, out.Upserted)
	require.Len(t, out.Failed, 1)
	assert.True(t, out.Failed[0].Date.Equal(day))
	assert.True(t, errors.Is(out.Failed[0].Err, pricing.ErrMissingTarget))

	_, err = repo.GetRate(ctx, h.db, "rp1", "nr", day)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	require.Len(t, out.FollowUpJobIDs, 1)
	child, err := repo.GetJob(ctx, h.db, out.FollowUpJobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 1, child.Generation)
	require.NotNil(t, child.ParentJobID)
	assert.Equal(t, job.ID, *child.ParentJobID)
	scope, err := child.ScopeValue()
	require.NoError(t, err)
	assert.Equal(t, []string{"rp1"}, scope.RoomProductIDs)
	assert.Equal(t, []string{"nr"}, scope.RatePlanIDs)
	assert.Equal(t, domain.InclusiveRange(day, day), scope.Dates)
}

func TestProcess_CancelledBeforeProgressFailsWholeJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.rules.CreateFeatureRate(ctx, featureRate("2030-05-01", "2030-05-10", "100"))
	require.NoError(t, err)
	job := claim(t, h.db, "w1")

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	out := h.pool.Processor.Process(cctx, job)
	require.Error(t, out.Err)
	assert.Empty(t, out.FollowUpJobIDs)
}

func TestProcess_MissingHotel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	enc, err := domain.EncodeScope(domain.MaterializationScope{HotelID: "ghost", AllRoomProducts: true, AllRatePlans: true})
	require.NoError(t, err)
	job := &domain.RecomputationJob{HotelID: "ghost", Scope: enc}
	require.NoError(t, repo.CreateJob(ctx, h.db, job))

	out := h.pool.Processor.Process(ctx, job)
	assert.ErrorIs(t, out.Err, services.ErrHotelNotFound)
}

func TestPool_RetriesThenDeadLetters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	enc, err := domain.EncodeScope(domain.MaterializationScope{HotelID: "ghost", AllRoomProducts: true, AllRatePlans: true})
	require.NoError(t, err)
	job := &domain.RecomputationJob{HotelID: "ghost", Scope: enc, MaxAttempts: 2}
	require.NoError(t, repo.CreateJob(ctx, h.db, job))

	n, err := h.pool.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := repo.GetJob(ctx, h.db, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDeadLettered, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Contains(t, got.LastError, "hotel not found")

	// Operator requeue makes it claimable again.
	_, err = h.disp.Requeue(ctx, job.ID)
	require.NoError(t, err)
	got, err = repo.GetJob(ctx, h.db, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, got.Status)
}

func TestDispatch_ContainedScopeMergesWhilePending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.rules.CreateFeatureRate(ctx, featureRate("2030-06-01", "2030-06-30", "100"))
	require.NoError(t, err)
	second, err := h.rules.CreateFeatureRate(ctx, featureRate("2030-06-10", "2030-06-12", "150"))
	require.NoError(t, err)
	assert.Equal(t, first.JobID, second.JobID)

	total, err := repo.CountJobs(ctx, h.db, "h1", "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	// Once claimed, the job no longer absorbs new scopes.
	claim(t, h.db, "w1")
	third, err := h.rules.CreateFeatureRate(ctx, featureRate("2030-06-10", "2030-06-12", "160"))
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, third.JobID)
}

func TestPool_RunProcessesWokenJobs(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.pool.Run(ctx) }()

	res, err := h.rules.CreateFeatureRate(context.Background(), featureRate("2030-07-01", "2030-07-02", "90"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := repo.GetJob(context.Background(), h.db, res.JobID)
		return err == nil && j.Status == domain.JobCompleted
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestDrain_StopsOnceLeaseIsTakenOver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.rules.CreateFeatureRate(ctx, featureRate("2030-07-01", "2030-07-03", "90"))
	require.NoError(t, err)

	// a's lease has lapsed and b took the partition over.
	now := time.Now().UTC()
	ok, err := repo.AcquireLease(ctx, h.db, "h1", "a", now.Add(-time.Hour), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.AcquireLease(ctx, h.db, "h1", "b", now, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	a := &worker{pool: h.pool, owner: "a", log: zerolog.Nop()}
	n, err := a.drain(ctx, "h1")
	require.NoError(t, err)
	assert.Zero(t, n)

	j, err := repo.GetJob(ctx, h.db, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, j.Status)

	// The holder keeps draining and extends its own lease.
	b := &worker{pool: h.pool, owner: "b", log: zerolog.Nop()}
	n, err = b.drain(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProcess_TimeoutMidJobRequeuesRemainder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.rules.CreateFeatureRate(ctx, featureRate("2030-05-01", "2030-05-10", "100"))
	require.NoError(t, err)
	job := claim(t, h.db, "w1")
	// Already at the generation bound: remainders must not be dead-lettered.
	job.Generation = h.disp.MaxAttempts

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h.pool.Processor.dateDone = func(time.Time) { cancel() }

	out := h.pool.Processor.Process(cctx, job)
	require.NoError(t, out.Err)
	assert.True(t, out.Remainder)
	assert.Equal(t, domain.JobCompleted, out.Status)
	assert.Equal(t, 6, out.Upserted) // rp1..rp3 x bar, nr on the first date

	require.Len(t, out.FollowUpJobIDs, 1)
	child, err := repo.GetJob(ctx, h.db, out.FollowUpJobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, child.Status)
	assert.Equal(t, job.Generation, child.Generation)
	require.NotNil(t, child.ParentJobID)
	assert.Equal(t, job.ID, *child.ParentJobID)
	scope, err := child.ScopeValue()
	require.NoError(t, err)
	assert.Equal(t, domain.InclusiveRange(domain.MustDay("2030-05-02"), domain.MustDay("2030-05-10")), scope.Dates)

	// The remainder finishes the rest of the range.
	h.pool.Processor.dateDone = nil
	rest := h.pool.Processor.Process(ctx, claim(t, h.db, "w1"))
	require.NoError(t, rest.Err)
	assert.False(t, rest.Remainder)
	assert.Equal(t, 54, rest.Upserted)
}
