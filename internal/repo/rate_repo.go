// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the materialized rate store.
//
// Rows are written only through UpsertRate, keyed by (room_product_id,
// rate_plan_id, date). The upsert is conditional on computed_at: a row
// produced from an older rule snapshot never replaces a newer one, which
// guards against two workers racing on the same key.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

var rateKey = []clause.Column{{Name: "room_product_id"}, {Name: "rate_plan_id"}, {Name: "date"}}

// UpsertRate inserts or replaces the row of r's key. It reports false when
// the stored row was computed from a newer snapshot and was left untouched.
func UpsertRate(ctx context.Context, db *gorm.DB, r *domain.MaterializedRate) (bool, error) {
	r.Date = domain.Day(r.Date)
	r.UpdatedAt = time.Now().UTC()
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: rateKey,
		DoUpdates: clause.AssignmentColumns([]string{
			"hotel_id", "amount", "currency", "provenance", "computed_at", "job_id", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "materialized_rates.computed_at <= excluded.computed_at"},
		}},
	}).Create(r)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetRate fetches the row of one key, or ErrNotFound.
func GetRate(ctx context.Context, db *gorm.DB, roomProductID, ratePlanID string, date time.Time) (*domain.MaterializedRate, error) {
	var r domain.MaterializedRate
	err := db.WithContext(ctx).
		Where("room_product_id = ? AND rate_plan_id = ? AND date = ?", roomProductID, ratePlanID, domain.Day(date)).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRates returns the stored rows of a (room product, rate plan) pair with
// date in [from, to), ascending by date. Missing dates are simply absent.
func ListRates(ctx context.Context, db *gorm.DB, roomProductID, ratePlanID string, from, to time.Time) ([]domain.MaterializedRate, error) {
	var out []domain.MaterializedRate
	err := db.WithContext(ctx).
		Where("room_product_id = ? AND rate_plan_id = ?", roomProductID, ratePlanID).
		Where("date >= ? AND date < ?", domain.Day(from), domain.Day(to)).
		Order("date").
		Find(&out).Error
	return out, err
}

// CountHotelRates returns how many materialized rows a hotel has.
func CountHotelRates(ctx context.Context, db *gorm.DB, hotelID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.MaterializedRate{}).Where("hotel_id = ?", hotelID).Count(&n).Error
	return n, err
}

// MaterializedDateBounds returns the earliest and latest materialized dates
// of a hotel, or nil bounds when the hotel has no rows.
func MaterializedDateBounds(ctx context.Context, db *gorm.DB, hotelID string) (first, last *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.MaterializedRate{}).Where("hotel_id = ?", hotelID)

	// Avoid MIN()/MAX() -> TEXT in SQLite.
	var lo, hi []time.Time
	if err = q.Session(&gorm.Session{}).Order("date ASC").Limit(1).Pluck("date", &lo).Error; err != nil {
		return nil, nil, err
	}
	if len(lo) == 0 {
		return nil, nil, nil
	}
	if err = q.Session(&gorm.Session{}).Order("date DESC").Limit(1).Pluck("date", &hi).Error; err != nil {
		return nil, nil, err
	}
	a, b := domain.Day(lo[0]), domain.Day(hi[0])
	return &a, &b, nil
}
