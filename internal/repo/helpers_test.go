package repo

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

// newTestDB opens a unique in-memory database per test. With no models it
// runs the full AutoMigrate; pass models to migrate only those tables.
func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if len(migrate) > 0 {
		err = db.AutoMigrate(migrate...)
	} else {
		err = AutoMigrate(db)
	}
	if err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedCatalog creates hotel h1 with room products rp1..rp3 consuming feature
// f1, rate plans bar and nr sold on every room product, and an unrelated
// room product rp4 without features.
func seedCatalog(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(CreateHotel(ctx, db, &domain.Hotel{ID: "h1", Name: "Hotel", Currency: "EUR"}))
	must(CreateFeature(ctx, db, &domain.Feature{ID: "f1", HotelID: "h1", Code: "sea-view"}))
	for _, id := range []string{"rp1", "rp2", "rp3", "rp4"} {
		must(CreateRoomProduct(ctx, db, &domain.RoomProduct{ID: id, HotelID: "h1", Code: id, BaseOccupancy: 2, DefaultOccupancy: 2}))
	}
	for _, id := range []string{"bar", "nr"} {
		must(CreateRatePlan(ctx, db, &domain.RatePlan{ID: id, HotelID: "h1", Code: id}))
	}
	for _, rp := range []string{"rp1", "rp2", "rp3"} {
		must(AttachFeature(ctx, db, rp, "f1"))
		must(SellRatePlan(ctx, db, rp, "bar"))
		must(SellRatePlan(ctx, db, rp, "nr"))
	}
	must(SellRatePlan(ctx, db, "rp4", "bar"))
}
