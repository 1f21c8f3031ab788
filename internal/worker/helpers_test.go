package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-rate-engine/internal/config"
	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/repo"
	"github.com/tbourn/go-rate-engine/internal/services"
)

type harness struct {
	db    *gorm.DB
	disp  *services.Dispatcher
	rules *services.RuleService
	pool  *Pool
}

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		Concurrency:  1,
		PollInterval: 20 * time.Millisecond,
		JobTimeout:   10 * time.Second,
		MaxAttempts:  3,
		LeaseTTL:     3 * time.Second,
		InflightTTL:  time.Minute,
		HorizonDays:  30,
	}
}

// newHarness opens a unique in-memory database, seeds the catalog and wires
// dispatcher, rule service and pool the way cmd/ratesd does.
func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	db.Exec("PRAGMA foreign_keys=ON;")
	require.NoError(t, repo.AutoMigrate(db))
	seed(t, db)

	cfg := testWorkerConfig()
	disp := services.NewDispatcher(db, nil, cfg)
	return &harness{
		db:    db,
		disp:  disp,
		rules: services.NewRuleService(db, nil, disp),
		pool:  NewPool(db, disp, cfg),
	}
}

// seed creates hotel h1 (EUR): rp1..rp3 consume feature f1 and sell bar and
// nr; rp4 sells bar only and consumes nothing.
func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.CreateHotel(ctx, db, &domain.Hotel{ID: "h1", Name: "Hotel", Currency: "EUR"}))
	require.NoError(t, repo.CreateFeature(ctx, db, &domain.Feature{ID: "f1", HotelID: "h1", Code: "room"}))
	for _, id := range []string{"rp1", "rp2", "rp3", "rp4"} {
		require.NoError(t, repo.CreateRoomProduct(ctx, db, &domain.RoomProduct{ID: id, HotelID: "h1", Code: id, BaseOccupancy: 2, DefaultOccupancy: 2}))
	}
	for _, id := range []string{"bar", "nr"} {
		require.NoError(t, repo.CreateRatePlan(ctx, db, &domain.RatePlan{ID: id, HotelID: "h1", Code: id}))
	}
	for _, rp := range []string{"rp1", "rp2", "rp3"} {
		require.NoError(t, repo.AttachFeature(ctx, db, rp, "f1"))
		require.NoError(t, repo.SellRatePlan(ctx, db, rp, "bar"))
		require.NoError(t, repo.SellRatePlan(ctx, db, rp, "nr"))
	}
	require.NoError(t, repo.SellRatePlan(ctx, db, "rp4", "bar"))
}

func featureRate(from, to string, rate string) *domain.FeatureDailyRateRule {
	return &domain.FeatureDailyRateRule{
		HotelID:   "h1",
		FeatureID: "f1",
		Weekdays:  domain.AllWeekdays,
		FromDate:  domain.MustDay(from),
		ToDate:    domain.MustDay(to),
		Rate:      decimal.RequireFromString(rate),
	}
}

// claim takes the head job of h1 as the given owner and drops its dedup
// entry, as a worker does.
func claim(t *testing.T, db *gorm.DB, owner string) *domain.RecomputationJob {
	t.Helper()
	ctx := context.Background()
	job, err := repo.ClaimNextJob(ctx, db, "h1", owner, time.Now().UTC(), time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteInflight(ctx, db, job.ID))
	return job
}
