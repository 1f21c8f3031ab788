package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func featureRule(id, feature, from, to, rate string, updated time.Time) domain.FeatureDailyRateRule {
	return domain.FeatureDailyRateRule{
		ID: id, HotelID: "h1", FeatureID: feature, Weekdays: domain.AllWeekdays,
		FromDate: domain.MustDay(from), ToDate: domain.MustDay(to), Rate: dec(rate),
		Version: 1, UpdatedAt: updated,
	}
}

func baseSnapshot() *Snapshot {
	return &Snapshot{
		HotelID:  "h1",
		Currency: "EUR",
		TakenAt:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		RoomProducts: map[string]domain.RoomProduct{
			"dbl":    {ID: "dbl", HotelID: "h1", BaseOccupancy: 2, DefaultOccupancy: 2},
			"family": {ID: "family", HotelID: "h1", BaseOccupancy: 2, DefaultOccupancy: 4},
		},
		RatePlans: map[string]domain.RatePlan{
			"bar": {ID: "bar", HotelID: "h1"},
			"nr":  {ID: "nr", HotelID: "h1"},
		},
		Features: map[string][]string{
			"dbl":    {"room", "view"},
			"family": {"room"},
		},
		FeatureRates: map[string][]domain.FeatureDailyRateRule{
			"room": {featureRule("r1", "room", "2024-01-01", "2024-12-31", "80", time.Time{})},
			"view": {featureRule("v1", "view", "2024-01-01", "2024-12-31", "20", time.Time{})},
		},
		Derived: map[string]domain.RatePlanDerivedSetting{},
	}
}

func TestSelectFeatureRule_Precedence(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	wide := featureRule("wide", "f", "2024-06-01", "2024-06-30", "100", t0.Add(time.Hour))
	narrow := featureRule("narrow", "f", "2024-06-10", "2024-06-12", "150", t0)
	twin := featureRule("twin", "f", "2024-06-10", "2024-06-12", "160", t0.Add(time.Minute))
	weekend := featureRule("weekend", "f", "2024-06-11", "2024-06-11", "999", t0)
	weekend.Weekdays = domain.WeekdaysOf(time.Saturday, time.Sunday) // 2024-06-11 is a Tuesday

	got := SelectFeatureRule([]domain.FeatureDailyRateRule{wide, narrow}, domain.MustDay("2024-06-11"))
	require.NotNil(t, got)
	assert.Equal(t, "narrow", got.ID, "narrower window wins in the overlap")

	got = SelectFeatureRule([]domain.FeatureDailyRateRule{wide, narrow}, domain.MustDay("2024-06-20"))
	require.NotNil(t, got)
	assert.Equal(t, "wide", got.ID)

	got = SelectFeatureRule([]domain.FeatureDailyRateRule{narrow, twin, wide}, domain.MustDay("2024-06-11"))
	require.NotNil(t, got)
	assert.Equal(t, "twin", got.ID, "equal widths resolve to the most recently updated")

	got = SelectFeatureRule([]domain.FeatureDailyRateRule{wide, weekend}, domain.MustDay("2024-06-11"))
	require.NotNil(t, got)
	assert.Equal(t, "wide", got.ID, "weekday mismatch never matches")

	assert.Nil(t, SelectFeatureRule([]domain.FeatureDailyRateRule{wide}, domain.MustDay("2024-07-01")))
}

func TestCompose_BaseSumAndRounding(t *testing.T) {
	snap := baseSnapshot()
	snap.FeatureRates["view"] = []domain.FeatureDailyRateRule{
		featureRule("v1", "view", "2024-01-01", "2024-12-31", "20.005", time.Time{}),
	}
	c, err := NewComposer(snap)
	require.NoError(t, err)

	res, err := c.Compose("dbl", "bar", domain.MustDay("2024-06-01"))
	require.NoError(t, err)
	assert.Equal(t, "100.005", res.Raw.String())
	assert.Equal(t, "100.01", res.Amount.StringFixed(2))
	assert.ElementsMatch(t, []string{
		"feature_daily_rate:r1:1", "feature_daily_rate:v1:1", "rounding:default:EUR:2",
	}, res.Refs)

	// A feature without a matching rule contributes zero.
	res, err = c.Compose("dbl", "bar", domain.MustDay("2025-01-01"))
	require.NoError(t, err)
	assert.True(t, res.Amount.IsZero())
}

func TestCompose_HotelRoundingRule(t *testing.T) {
	snap := baseSnapshot()
	snap.FeatureRates["room"] = []domain.FeatureDailyRateRule{
		featureRule("r1", "room", "2024-01-01", "2024-12-31", "9.985", time.Time{}),
	}
	snap.FeatureRates["view"] = nil
	snap.Rounding = &domain.RoundingRule{HotelID: "h1", DecimalUnits: 2, Mode: domain.RoundFloor, Version: 1}
	c, err := NewComposer(snap)
	require.NoError(t, err)

	res, err := c.Compose("dbl", "bar", domain.MustDay("2024-06-01"))
	require.NoError(t, err)
	assert.Equal(t, "9.98", res.Amount.StringFixed(2))
	assert.Contains(t, res.Refs, "rounding:h1:1")
}

func TestCompose_DerivedChain(t *testing.T) {
	snap := baseSnapshot()
	snap.RatePlans["pkg"] = domain.RatePlan{ID: "pkg", HotelID: "h1"}
	snap.Derived["nr"] = domain.RatePlanDerivedSetting{ID: "d-nr", RatePlanID: "nr", TargetRatePlanID: "bar", Multiplier: dec("0.9"), Delta: dec("0"), Version: 2}
	snap.Derived["pkg"] = domain.RatePlanDerivedSetting{ID: "d-pkg", RatePlanID: "pkg", TargetRatePlanID: "nr", Multiplier: dec("1"), Delta: dec("25"), Version: 1}
	c, err := NewComposer(snap)
	require.NoError(t, err)

	order, err := snap.Graph().TopoOrder([]string{"pkg", "nr", "bar"})
	require.NoError(t, err)
	require.Equal(t, []string{"bar", "nr", "pkg"}, order)

	day := domain.MustDay("2024-06-01")
	want := map[string]string{"bar": "100.00", "nr": "90.00", "pkg": "115.00"}
	for _, plan := range order {
		res, err := c.Compose("dbl", plan, day)
		require.NoError(t, err)
		assert.Equal(t, want[plan], res.Amount.StringFixed(2), plan)
	}

	pkg, err := c.Compose("dbl", "pkg", day)
	require.NoError(t, err)
	assert.Contains(t, pkg.Refs, "derived_setting:d-nr:2")
	assert.Contains(t, pkg.Refs, "derived_setting:d-pkg:1")
	assert.Contains(t, pkg.Refs, "feature_daily_rate:r1:1")
}

func TestCompose_DerivedWindowOnlyAppliesInside(t *testing.T) {
	snap := baseSnapshot()
	from, to := domain.MustDay("2024-06-10"), domain.MustDay("2024-06-10")
	snap.Derived["nr"] = domain.RatePlanDerivedSetting{ID: "d-nr", RatePlanID: "nr", TargetRatePlanID: "bar", Multiplier: dec("2"), Delta: dec("0"), FromDate: &from, ToDate: &to}
	c, err := NewComposer(snap)
	require.NoError(t, err)

	in, err := c.Compose("dbl", "nr", domain.MustDay("2024-06-10"))
	require.NoError(t, err)
	assert.Equal(t, "200.00", in.Amount.StringFixed(2))

	out, err := c.Compose("dbl", "nr", domain.MustDay("2024-06-11"))
	require.NoError(t, err)
	assert.Equal(t, "100.00", out.Amount.StringFixed(2))
}

func TestCompose_ExtraOccupancyRulesAreAdditive(t *testing.T) {
	snap := baseSnapshot()
	family := "family"
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snap.ExtraOccupancy = []domain.ExtraOccupancyAdjustmentRule{
		{ID: "hotelwide", HotelID: "h1", ExtraPersons: 1, ExtraRate: dec("15"), Weekdays: domain.AllWeekdays,
			FromDate: domain.MustDay("2024-06-01"), ToDate: domain.MustDay("2024-06-30"), Version: 1, UpdatedAt: t0},
		{ID: "family-only", HotelID: "h1", RoomProductID: &family, ExtraPersons: 1, ExtraRate: dec("20"), Weekdays: domain.AllWeekdays,
			FromDate: domain.MustDay("2024-01-01"), ToDate: domain.MustDay("2024-12-31"), Version: 1, UpdatedAt: t0},
		{ID: "x2", HotelID: "h1", ExtraPersons: 2, ExtraRate: dec("10"), Weekdays: domain.AllWeekdays,
			FromDate: domain.MustDay("2024-01-01"), ToDate: domain.MustDay("2024-12-31"), Version: 1, UpdatedAt: t0},
		{ID: "x3", HotelID: "h1", ExtraPersons: 3, ExtraRate: dec("500"), Weekdays: domain.AllWeekdays,
			FromDate: domain.MustDay("2024-01-01"), ToDate: domain.MustDay("2024-12-31"), Version: 1, UpdatedAt: t0},
	}
	c, err := NewComposer(snap)
	require.NoError(t, err)

	// family quotes 2 extra guests: both tier-1 rules plus tier 2.
	res, err := c.Compose("family", "bar", domain.MustDay("2024-06-15"))
	require.NoError(t, err)
	assert.Equal(t, "125.00", res.Amount.StringFixed(2))
	assert.Contains(t, res.Refs, "extra_occupancy:hotelwide:1")
	assert.Contains(t, res.Refs, "extra_occupancy:family-only:1")
	assert.NotContains(t, res.Refs, "extra_occupancy:x3:1")

	// Outside June only the room-product rule and tier 2 apply.
	res, err = c.Compose("family", "bar", domain.MustDay("2024-07-01"))
	require.NoError(t, err)
	assert.Equal(t, "110.00", res.Amount.StringFixed(2))

	// dbl has no extra guests.
	res, err = c.Compose("dbl", "bar", domain.MustDay("2024-06-15"))
	require.NoError(t, err)
	assert.Equal(t, "100.00", res.Amount.StringFixed(2))
}

func TestMatchExtraOccupancyRules_OrderAndScope(t *testing.T) {
	nr := "nr"
	day := domain.MustDay("2024-03-01")
	rule := func(id string, tier int, plan *string) domain.ExtraOccupancyAdjustmentRule {
		return domain.ExtraOccupancyAdjustmentRule{ID: id, HotelID: "h1", RatePlanID: plan, ExtraPersons: tier,
			ExtraRate: dec("1"), Weekdays: domain.AllWeekdays,
			FromDate: domain.MustDay("2024-01-01"), ToDate: domain.MustDay("2024-12-31")}
	}
	rules := []domain.ExtraOccupancyAdjustmentRule{rule("b", 2, nil), rule("z", 1, nil), rule("a", 1, nil), rule("nr-only", 1, &nr)}

	var ids []string
	for _, r := range MatchExtraOccupancyRules(rules, "family", "bar", 2, day) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "z", "b"}, ids)
	assert.Len(t, MatchExtraOccupancyRules(rules, "family", "nr", 1, day), 3)
	assert.Empty(t, MatchExtraOccupancyRules(rules, "family", "bar", 0, day))
}

func TestCompose_ExtraOccupancyAppliesAfterDerivation(t *testing.T) {
	snap := baseSnapshot()
	snap.Derived["nr"] = domain.RatePlanDerivedSetting{ID: "d-nr", RatePlanID: "nr", TargetRatePlanID: "bar", Multiplier: dec("0.5"), Delta: dec("0")}
	snap.ExtraOccupancy = []domain.ExtraOccupancyAdjustmentRule{
		{ID: "x1", HotelID: "h1", ExtraPersons: 1, ExtraRate: dec("10"), Weekdays: domain.AllWeekdays,
			FromDate: domain.MustDay("2024-01-01"), ToDate: domain.MustDay("2024-12-31")},
	}
	c, err := NewComposer(snap)
	require.NoError(t, err)

	// family base 80, nr = 80 * 0.5 = 40, plus one tier-1 surcharge = 50.
	// The target's surcharge is not carried through the multiplier.
	res, err := c.Compose("family", "nr", domain.MustDay("2024-06-01"))
	require.NoError(t, err)
	assert.Equal(t, "50.00", res.Amount.StringFixed(2))
}

func TestCompose_Errors(t *testing.T) {
	snap := baseSnapshot()
	snap.Derived["nr"] = domain.RatePlanDerivedSetting{ID: "d-nr", RatePlanID: "nr", TargetRatePlanID: "deleted", Multiplier: dec("1"), Delta: dec("0")}
	snap.FeatureRates["view"] = []domain.FeatureDailyRateRule{
		featureRule("v1", "view", "2024-01-01", "2024-12-31", "-200", time.Time{}),
	}
	c, err := NewComposer(snap)
	require.NoError(t, err)
	day := domain.MustDay("2024-06-01")

	_, err = c.Compose("dbl", "nr", day)
	var ce *CompositionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "nr", ce.RatePlanID)
	assert.ErrorIs(t, err, ErrMissingTarget)

	_, err = c.Compose("dbl", "bar", day)
	assert.ErrorIs(t, err, ErrNegativeRate)

	_, err = c.Compose("ghost", "bar", day)
	assert.ErrorIs(t, err, ErrUnknownRoomProduct)

	_, err = c.Compose("dbl", "ghost", day)
	assert.ErrorIs(t, err, ErrUnknownRatePlan)
}

func TestCompose_Deterministic(t *testing.T) {
	day := domain.MustDay("2024-06-01")
	a, err := NewComposer(baseSnapshot())
	require.NoError(t, err)
	b, err := NewComposer(baseSnapshot())
	require.NoError(t, err)

	ra, err := a.Compose("dbl", "bar", day)
	require.NoError(t, err)
	rb, err := b.Compose("dbl", "bar", day)
	require.NoError(t, err)
	assert.Equal(t, ra.Provenance, rb.Provenance)
	assert.True(t, ra.Amount.Equal(rb.Amount))
}

func TestComposer_ResetDropsMemo(t *testing.T) {
	snap := baseSnapshot()
	c, err := NewComposer(snap)
	require.NoError(t, err)
	day := domain.MustDay("2024-06-15")

	res, err := c.Compose("family", "bar", day)
	require.NoError(t, err)
	assert.Equal(t, "80.00", res.Amount.StringFixed(2))

	snap.FeatureRates["room"] = []domain.FeatureDailyRateRule{featureRule("r2", "room", "2024-01-01", "2024-12-31", "95", time.Time{})}
	res, err = c.Compose("family", "bar", day)
	require.NoError(t, err)
	assert.Equal(t, "80.00", res.Amount.StringFixed(2), "memoized until reset")

	c.Reset()
	res, err = c.Compose("family", "bar", day)
	require.NoError(t, err)
	assert.Equal(t, "95.00", res.Amount.StringFixed(2))
}
