// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the four
// pricing rule layers.
//
// Every rule row carries a Version that starts at 1 and is incremented on
// each update. Versions feed the provenance hash of materialized rates, so
// an update that leaves a rule's fields unchanged still yields a new hash.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

// CreateFeatureRate inserts a feature daily-rate rule with Version 1.
func CreateFeatureRate(ctx context.Context, db *gorm.DB, r *domain.FeatureDailyRateRule) error {
	ensureID(&r.ID)
	now := time.Now().UTC()
	r.Version, r.CreatedAt, r.UpdatedAt = 1, now, now
	return db.WithContext(ctx).Create(r).Error
}

// GetFeatureRate fetches a feature rule by id, or ErrNotFound.
func GetFeatureRate(ctx context.Context, db *gorm.DB, id string) (*domain.FeatureDailyRateRule, error) {
	var r domain.FeatureDailyRateRule
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateFeatureRate overwrites a feature rule and bumps its version.
func UpdateFeatureRate(ctx context.Context, db *gorm.DB, r *domain.FeatureDailyRateRule) error {
	return updateVersioned(ctx, db, r, "id = ?", r.ID, &r.Version, &r.UpdatedAt)
}

// DeleteFeatureRate removes a feature rule, or returns ErrNotFound.
func DeleteFeatureRate(ctx context.Context, db *gorm.DB, id string) error {
	return deleteWhere(ctx, db, &domain.FeatureDailyRateRule{}, "id = ?", id)
}

// FeatureRatesFor returns the rules of the given features whose window
// intersects dates. An open-ended range only bounds from below.
func FeatureRatesFor(ctx context.Context, db *gorm.DB, hotelID string, featureIDs []string, dates domain.DateRange) ([]domain.FeatureDailyRateRule, error) {
	var out []domain.FeatureDailyRateRule
	if len(featureIDs) == 0 {
		return out, nil
	}
	q := windowed(db.WithContext(ctx).Where("hotel_id = ? AND feature_id IN ?", hotelID, featureIDs), dates)
	err := q.Order("feature_id, id").Find(&out).Error
	return out, err
}

// CreateExtraOccupancy inserts an extra-occupancy rule with Version 1.
func CreateExtraOccupancy(ctx context.Context, db *gorm.DB, r *domain.ExtraOccupancyAdjustmentRule) error {
	ensureID(&r.ID)
	now := time.Now().UTC()
	r.Version, r.CreatedAt, r.UpdatedAt = 1, now, now
	return db.WithContext(ctx).Create(r).Error
}

// GetExtraOccupancy fetches an extra-occupancy rule by id, or ErrNotFound.
func GetExtraOccupancy(ctx context.Context, db *gorm.DB, id string) (*domain.ExtraOccupancyAdjustmentRule, error) {
	var r domain.ExtraOccupancyAdjustmentRule
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateExtraOccupancy overwrites an extra-occupancy rule and bumps its version.
func UpdateExtraOccupancy(ctx context.Context, db *gorm.DB, r *domain.ExtraOccupancyAdjustmentRule) error {
	return updateVersioned(ctx, db, r, "id = ?", r.ID, &r.Version, &r.UpdatedAt)
}

// DeleteExtraOccupancy removes an extra-occupancy rule, or returns ErrNotFound.
func DeleteExtraOccupancy(ctx context.Context, db *gorm.DB, id string) error {
	return deleteWhere(ctx, db, &domain.ExtraOccupancyAdjustmentRule{}, "id = ?", id)
}

// ExtraOccupancyRulesIn returns a hotel's extra-occupancy rules whose window
// intersects dates.
func ExtraOccupancyRulesIn(ctx context.Context, db *gorm.DB, hotelID string, dates domain.DateRange) ([]domain.ExtraOccupancyAdjustmentRule, error) {
	var out []domain.ExtraOccupancyAdjustmentRule
	q := windowed(db.WithContext(ctx).Where("hotel_id = ?", hotelID), dates)
	err := q.Order("id").Find(&out).Error
	return out, err
}

// CreateDerivedSetting inserts a derived rate-plan setting with Version 1.
// The unique index on rate_plan_id rejects a second setting for the same plan.
func CreateDerivedSetting(ctx context.Context, db *gorm.DB, s *domain.RatePlanDerivedSetting) error {
	ensureID(&s.ID)
	now := time.Now().UTC()
	s.Version, s.CreatedAt, s.UpdatedAt = 1, now, now
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetDerivedSetting fetches a derived setting by id, or ErrNotFound.
func GetDerivedSetting(ctx context.Context, db *gorm.DB, id string) (*domain.RatePlanDerivedSetting, error) {
	var s domain.RatePlanDerivedSetting
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateDerivedSetting overwrites a derived setting and bumps its version.
func UpdateDerivedSetting(ctx context.Context, db *gorm.DB, s *domain.RatePlanDerivedSetting) error {
	return updateVersioned(ctx, db, s, "id = ?", s.ID, &s.Version, &s.UpdatedAt)
}

// DeleteDerivedSetting removes a derived setting, or returns ErrNotFound.
func DeleteDerivedSetting(ctx context.Context, db *gorm.DB, id string) error {
	return deleteWhere(ctx, db, &domain.RatePlanDerivedSetting{}, "id = ?", id)
}

// ListDerivedSettings returns every derived setting of a hotel. The set is
// small (at most one per rate plan), so callers build the whole graph.
func ListDerivedSettings(ctx context.Context, db *gorm.DB, hotelID string) ([]domain.RatePlanDerivedSetting, error) {
	var out []domain.RatePlanDerivedSetting
	err := db.WithContext(ctx).Where("hotel_id = ?", hotelID).Order("rate_plan_id").Find(&out).Error
	return out, err
}

// GetRoundingRule fetches a hotel's rounding rule, or ErrNotFound.
func GetRoundingRule(ctx context.Context, db *gorm.DB, hotelID string) (*domain.RoundingRule, error) {
	var r domain.RoundingRule
	if err := db.WithContext(ctx).Where("hotel_id = ?", hotelID).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRoundingRule inserts a hotel's rounding rule with Version 1.
func CreateRoundingRule(ctx context.Context, db *gorm.DB, r *domain.RoundingRule) error {
	now := time.Now().UTC()
	r.Version, r.CreatedAt, r.UpdatedAt = 1, now, now
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// UpdateRoundingRule overwrites a hotel's rounding rule and bumps its version.
func UpdateRoundingRule(ctx context.Context, db *gorm.DB, r *domain.RoundingRule) error {
	return updateVersioned(ctx, db, r, "hotel_id = ?", r.HotelID, &r.Version, &r.UpdatedAt)
}

// DeleteRoundingRule removes a hotel's rounding rule, or returns ErrNotFound.
func DeleteRoundingRule(ctx context.Context, db *gorm.DB, hotelID string) error {
	return deleteWhere(ctx, db, &domain.RoundingRule{}, "hotel_id = ?", hotelID)
}

// updateVersioned writes every column of model except created_at, setting
// version to stored version + 1. version and updatedAt are refreshed in place.
func updateVersioned(ctx context.Context, db *gorm.DB, model any, where string, key string, version *int64, updatedAt *time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int64
		res := tx.Model(model).Where(where, key).Select("version").Scan(&current)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		*version = current + 1
		*updatedAt = time.Now().UTC()
		return tx.Model(model).Where(where, key).Select("*").Omit("created_at", clause.Associations).Updates(model).Error
	})
}

func deleteWhere(ctx context.Context, db *gorm.DB, model any, where string, args ...any) error {
	res := db.WithContext(ctx).Where(where, args...).Delete(model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// windowed restricts rule rows to those whose inclusive [from_date, to_date]
// window intersects dates.
func windowed(q *gorm.DB, dates domain.DateRange) *gorm.DB {
	if dates.FullStored() {
		return q
	}
	q = q.Where("to_date >= ?", dates.From)
	if !dates.OpenEnded() {
		q = q.Where("from_date < ?", dates.To)
	}
	return q
}
