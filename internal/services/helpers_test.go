package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-rate-engine/internal/config"
	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/repo"
)

// ----- DB fixtures -----

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	seedCatalog(t, db)
	return db
}

// seedCatalog creates hotel h1 with room products rp1..rp3 consuming feature
// f1 and selling bar, nr and pkg; rp4 sells bar only. Hotel h2 is empty.
func seedCatalog(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(repo.CreateHotel(ctx, db, &domain.Hotel{ID: "h1", Name: "Hotel", Currency: "EUR"}))
	must(repo.CreateHotel(ctx, db, &domain.Hotel{ID: "h2", Name: "Other", Currency: "JPY"}))
	must(repo.CreateFeature(ctx, db, &domain.Feature{ID: "f1", HotelID: "h1", Code: "sea-view"}))
	must(repo.CreateFeature(ctx, db, &domain.Feature{ID: "f2", HotelID: "h1", Code: "unused"}))
	for _, id := range []string{"rp1", "rp2", "rp3", "rp4"} {
		must(repo.CreateRoomProduct(ctx, db, &domain.RoomProduct{ID: id, HotelID: "h1", Code: id, BaseOccupancy: 2, DefaultOccupancy: 2}))
	}
	for _, id := range []string{"bar", "nr", "pkg"} {
		must(repo.CreateRatePlan(ctx, db, &domain.RatePlan{ID: id, HotelID: "h1", Code: id}))
	}
	for _, rp := range []string{"rp1", "rp2", "rp3"} {
		must(repo.AttachFeature(ctx, db, rp, "f1"))
		for _, plan := range []string{"bar", "nr", "pkg"} {
			must(repo.SellRatePlan(ctx, db, rp, plan))
		}
	}
	must(repo.SellRatePlan(ctx, db, "rp4", "bar"))
}

func testConfig() config.WorkerConfig {
	return config.WorkerConfig{MaxAttempts: 3, InflightTTL: time.Minute}
}

// fixedNow pins "today" for detectors.
var fixedNow = func() time.Time { return time.Date(2030, 1, 10, 15, 0, 0, 0, time.UTC) }

func newRuleService(t *testing.T, db *gorm.DB, store JobStore) *RuleService {
	t.Helper()
	return NewRuleService(db, &ChangeDetector{Now: fixedNow}, NewDispatcher(db, store, testConfig()))
}

func feature(from, to, rate string) *domain.FeatureDailyRateRule {
	return &domain.FeatureDailyRateRule{
		HotelID:   "h1",
		FeatureID: "f1",
		Weekdays:  domain.AllWeekdays,
		FromDate:  domain.MustDay(from),
		ToDate:    domain.MustDay(to),
		Rate:      decimal.RequireFromString(rate),
	}
}

func derived(plan, target string) *domain.RatePlanDerivedSetting {
	return &domain.RatePlanDerivedSetting{
		HotelID:          "h1",
		RatePlanID:       plan,
		TargetRatePlanID: target,
		Multiplier:       decimal.NewFromInt(1),
		Delta:            decimal.NewFromInt(10),
	}
}

func strPtr(s string) *string { return &s }

// ----- Fake job store -----

// fakeJobStore delegates to the repo and injects failures.
type fakeJobStore struct {
	RepoJobStore

	createErr   error
	createCalls int

	// afterLive runs on the dispatch tx between reading the in-flight
	// entries and using them.
	afterLive func(tx *gorm.DB)
}

func (s *fakeJobStore) LiveInflight(ctx context.Context, db *gorm.DB, hotelID string, now time.Time) ([]domain.InflightScope, error) {
	out, err := s.RepoJobStore.LiveInflight(ctx, db, hotelID, now)
	if s.afterLive != nil {
		s.afterLive(db)
	}
	return out, err
}

func (s *fakeJobStore) CreateJob(ctx context.Context, db *gorm.DB, j *domain.RecomputationJob) error {
	s.createCalls++
	if s.createErr != nil {
		return s.createErr
	}
	return s.RepoJobStore.CreateJob(ctx, db, j)
}
