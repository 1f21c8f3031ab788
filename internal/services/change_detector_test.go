package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/repo"
)

func TestChangeDetector_FeatureRateScope(t *testing.T) {
	db := newTestDB(t)
	d := &ChangeDetector{Now: fixedNow}
	r := feature("2030-02-01", "2030-02-10", "100")

	scope, err := d.OnRuleMutation(context.Background(), db, domain.RuleMutation{Op: domain.OpCreate, Layer: domain.FeatureRateLayer(r)})
	require.NoError(t, err)
	assert.Equal(t, "h1", scope.HotelID)
	assert.Equal(t, []string{"rp1", "rp2", "rp3"}, scope.RoomProductIDs)
	assert.Equal(t, []string{"bar", "nr", "pkg"}, scope.RatePlanIDs)
	assert.Equal(t, domain.InclusiveRange(domain.MustDay("2030-02-01"), domain.MustDay("2030-02-10")), scope.Dates)
}

func TestChangeDetector_FeatureUpdateCoversOldAndNewWindow(t *testing.T) {
	db := newTestDB(t)
	d := &ChangeDetector{Now: fixedNow}
	prev := domain.FeatureRateLayer(feature("2030-02-01", "2030-02-05", "100"))
	next := feature("2030-02-20", "2030-02-22", "100")

	scope, err := d.OnRuleMutation(context.Background(), db, domain.RuleMutation{
		Op:       domain.OpUpdate,
		Layer:    domain.FeatureRateLayer(next),
		Previous: &prev,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MustDay("2030-02-01"), scope.Dates.From)
	assert.Equal(t, domain.MustDay("2030-02-23"), scope.Dates.To)
}

func TestChangeDetector_UnconsumedFeatureIsEmpty(t *testing.T) {
	db := newTestDB(t)
	r := feature("2030-02-01", "2030-02-10", "100")
	r.FeatureID = "f2"

	scope, err := (&ChangeDetector{}).OnRuleMutation(context.Background(), db, domain.RuleMutation{Op: domain.OpCreate, Layer: domain.FeatureRateLayer(r)})
	require.NoError(t, err)
	assert.True(t, scope.IsEmpty())
}

func TestChangeDetector_UnknownReferences(t *testing.T) {
	db := newTestDB(t)
	d := &ChangeDetector{Now: fixedNow}
	r := feature("2030-02-01", "2030-02-10", "100")
	r.FeatureID = "nope"

	_, err := d.OnRuleMutation(context.Background(), db, domain.RuleMutation{Op: domain.OpCreate, Layer: domain.FeatureRateLayer(r)})
	assert.True(t, errors.Is(err, ErrValidation))

	// Deletes tolerate references that are already gone.
	_, err = d.OnRuleMutation(context.Background(), db, domain.RuleMutation{Op: domain.OpDelete, Layer: domain.FeatureRateLayer(r)})
	assert.NoError(t, err)

	eo := &domain.ExtraOccupancyAdjustmentRule{HotelID: "h1", RoomProductID: strPtr("ghost"), ExtraPersons: 1,
		Weekdays: domain.AllWeekdays, FromDate: domain.MustDay("2030-02-01"), ToDate: domain.MustDay("2030-02-01")}
	_, err = d.OnRuleMutation(context.Background(), db, domain.RuleMutation{Op: domain.OpCreate, Layer: domain.ExtraOccupancyLayer(eo)})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestChangeDetector_ExtraOccupancyScope(t *testing.T) {
	db := newTestDB(t)
	d := &ChangeDetector{Now: fixedNow}
	eo := &domain.ExtraOccupancyAdjustmentRule{HotelID: "h1", RatePlanID: strPtr("nr"), ExtraPersons: 1,
		Weekdays: domain.AllWeekdays, FromDate: domain.MustDay("2030-03-01"), ToDate: domain.MustDay("2030-03-02")}

	scope, err := d.OnRuleMutation(context.Background(), db, domain.RuleMutation{Op: domain.OpCreate, Layer: domain.ExtraOccupancyLayer(eo)})
	require.NoError(t, err)
	assert.True(t, scope.AllRoomProducts)
	assert.False(t, scope.AllRatePlans)
	assert.Equal(t, []string{"nr"}, scope.RatePlanIDs)
	assert.Equal(t, domain.InclusiveRange(domain.MustDay("2030-03-01"), domain.MustDay("2030-03-02")), scope.Dates)
}

func TestChangeDetector_DerivedScopeIncludesDependents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	// pkg -> nr already exists; changing nr -> bar affects nr and pkg.
	require.NoError(t, repo.CreateDerivedSetting(ctx, db, derived("pkg", "nr")))
	s := derived("nr", "bar")

	scope, err := (&ChangeDetector{Now: fixedNow}).OnRuleMutation(ctx, db, domain.RuleMutation{Op: domain.OpCreate, Layer: domain.DerivedLayer(s)})
	require.NoError(t, err)
	assert.True(t, scope.AllRoomProducts)
	assert.Equal(t, []string{"nr", "pkg"}, scope.RatePlanIDs)
	// Unwindowed: from today, open-ended.
	assert.Equal(t, domain.MustDay("2030-01-10"), scope.Dates.From)
	assert.True(t, scope.Dates.OpenEnded())
}

func TestChangeDetector_RoundingCoversEverything(t *testing.T) {
	db := newTestDB(t)
	r := &domain.RoundingRule{HotelID: "h1", DecimalUnits: 0, Mode: domain.RoundHalfUp}

	scope, err := (&ChangeDetector{}).OnRuleMutation(context.Background(), db, domain.RuleMutation{Op: domain.OpUpdate, Layer: domain.RoundingLayer(r)})
	require.NoError(t, err)
	assert.True(t, scope.AllRoomProducts)
	assert.True(t, scope.AllRatePlans)
	assert.True(t, scope.Dates.FullStored())
}

func TestChangeDetector_MalformedLayer(t *testing.T) {
	db := newTestDB(t)
	_, err := (&ChangeDetector{}).OnRuleMutation(context.Background(), db, domain.RuleMutation{Op: domain.OpCreate})
	assert.True(t, errors.Is(err, ErrValidation))
}
