// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the hotel
// catalog: hotels, features, room products, rate plans and their links.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Functions:
//
//   - CreateHotel / CreateFeature / CreateRoomProduct / CreateRatePlan
//     Insert catalog rows, generating a UUID when the ID is empty.
//
//   - AttachFeature(ctx, db, roomProductID, featureID) / SellRatePlan(ctx, db, roomProductID, ratePlanID)
//     Insert the room product <-> feature and room product <-> rate plan links.
//
//   - RoomProductIDsByFeature(ctx, db, featureID) -> []string
//     Room products consuming a feature.
//
//   - RatePlanIDsSoldOn(ctx, db, roomProductIDs) / RoomProductIDsSelling(ctx, db, ratePlanIDs)
//     Walk the applicability relation in either direction.
//
//   - ListSellablePairs(ctx, db, hotelID) -> []domain.RoomProductRatePlan
//     Every (room product, rate plan) pair a hotel materializes.
//
//   - DeleteRoomProduct / DeleteRatePlan
//     Remove catalog rows; materialized rates cascade.
//
// Usage:
//
//	ids, err := repo.RoomProductIDsByFeature(ctx, db, featureID)
//	if err != nil {
//	    // handle DB failure
//	}
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// CreateHotel inserts a hotel. Currency must already be validated.
func CreateHotel(ctx context.Context, db *gorm.DB, h *domain.Hotel) error {
	ensureID(&h.ID)
	now := time.Now().UTC()
	h.CreatedAt, h.UpdatedAt = now, now
	return db.WithContext(ctx).Create(h).Error
}

// GetHotel fetches a hotel by id, or ErrNotFound.
func GetHotel(ctx context.Context, db *gorm.DB, id string) (*domain.Hotel, error) {
	var h domain.Hotel
	if err := db.WithContext(ctx).Where("id = ?", id).First(&h).Error; err != nil {
		return nil, err
	}
	return &h, nil
}

// CreateFeature inserts a feature of a hotel.
func CreateFeature(ctx context.Context, db *gorm.DB, f *domain.Feature) error {
	ensureID(&f.ID)
	f.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(f).Error
}

// GetFeature fetches a feature by id and hotel, or ErrNotFound.
func GetFeature(ctx context.Context, db *gorm.DB, hotelID, id string) (*domain.Feature, error) {
	var f domain.Feature
	if err := db.WithContext(ctx).Where("id = ? AND hotel_id = ?", id, hotelID).First(&f).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateRoomProduct inserts a room product of a hotel.
func CreateRoomProduct(ctx context.Context, db *gorm.DB, p *domain.RoomProduct) error {
	ensureID(&p.ID)
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	return db.WithContext(ctx).Create(p).Error
}

// GetRoomProduct fetches a room product by id and hotel, or ErrNotFound.
func GetRoomProduct(ctx context.Context, db *gorm.DB, hotelID, id string) (*domain.RoomProduct, error) {
	var p domain.RoomProduct
	if err := db.WithContext(ctx).Where("id = ? AND hotel_id = ?", id, hotelID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListRoomProducts returns the room products of a hotel, optionally
// restricted to ids (nil means all). Unknown ids are silently absent.
func ListRoomProducts(ctx context.Context, db *gorm.DB, hotelID string, ids []string) ([]domain.RoomProduct, error) {
	q := db.WithContext(ctx).Where("hotel_id = ?", hotelID)
	if ids != nil {
		q = q.Where("id IN ?", ids)
	}
	var out []domain.RoomProduct
	err := q.Order("id").Find(&out).Error
	return out, err
}

// CreateRatePlan inserts a rate plan of a hotel.
func CreateRatePlan(ctx context.Context, db *gorm.DB, p *domain.RatePlan) error {
	ensureID(&p.ID)
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	return db.WithContext(ctx).Create(p).Error
}

// GetRatePlan fetches a rate plan by id and hotel, or ErrNotFound.
func GetRatePlan(ctx context.Context, db *gorm.DB, hotelID, id string) (*domain.RatePlan, error) {
	var p domain.RatePlan
	if err := db.WithContext(ctx).Where("id = ? AND hotel_id = ?", id, hotelID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListRatePlans returns every rate plan of a hotel ordered by id.
func ListRatePlans(ctx context.Context, db *gorm.DB, hotelID string) ([]domain.RatePlan, error) {
	var out []domain.RatePlan
	err := db.WithContext(ctx).Where("hotel_id = ?", hotelID).Order("id").Find(&out).Error
	return out, err
}

// AttachFeature records that a room product consumes a feature.
func AttachFeature(ctx context.Context, db *gorm.DB, roomProductID, featureID string) error {
	return db.WithContext(ctx).Create(&domain.RoomProductFeature{RoomProductID: roomProductID, FeatureID: featureID}).Error
}

// SellRatePlan records that a rate plan is sold on a room product.
func SellRatePlan(ctx context.Context, db *gorm.DB, roomProductID, ratePlanID string) error {
	return db.WithContext(ctx).Create(&domain.RoomProductRatePlan{RoomProductID: roomProductID, RatePlanID: ratePlanID}).Error
}

// RoomProductIDsByFeature returns the ids of room products consuming a feature.
func RoomProductIDsByFeature(ctx context.Context, db *gorm.DB, featureID string) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.RoomProductFeature{}).
		Where("feature_id = ?", featureID).
		Order("room_product_id").
		Pluck("room_product_id", &out).Error
	return out, err
}

// FeatureLinks returns the feature links of the given room products.
func FeatureLinks(ctx context.Context, db *gorm.DB, roomProductIDs []string) ([]domain.RoomProductFeature, error) {
	var out []domain.RoomProductFeature
	if len(roomProductIDs) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).
		Where("room_product_id IN ?", roomProductIDs).
		Order("room_product_id, feature_id").
		Find(&out).Error
	return out, err
}

// RatePlanIDsSoldOn returns the distinct rate plans sold on any of the room products.
func RatePlanIDsSoldOn(ctx context.Context, db *gorm.DB, roomProductIDs []string) ([]string, error) {
	var out []string
	if len(roomProductIDs) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).
		Model(&domain.RoomProductRatePlan{}).
		Distinct("rate_plan_id").
		Where("room_product_id IN ?", roomProductIDs).
		Order("rate_plan_id").
		Pluck("rate_plan_id", &out).Error
	return out, err
}

// RoomProductIDsSelling returns the distinct room products selling any of the rate plans.
func RoomProductIDsSelling(ctx context.Context, db *gorm.DB, ratePlanIDs []string) ([]string, error) {
	var out []string
	if len(ratePlanIDs) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).
		Model(&domain.RoomProductRatePlan{}).
		Distinct("room_product_id").
		Where("rate_plan_id IN ?", ratePlanIDs).
		Order("room_product_id").
		Pluck("room_product_id", &out).Error
	return out, err
}

// ListSellablePairs returns every (room product, rate plan) pair of a hotel,
// ordered by room product then rate plan.
func ListSellablePairs(ctx context.Context, db *gorm.DB, hotelID string) ([]domain.RoomProductRatePlan, error) {
	var out []domain.RoomProductRatePlan
	err := db.WithContext(ctx).
		Select("room_product_rate_plans.room_product_id, room_product_rate_plans.rate_plan_id").
		Joins("JOIN room_products ON room_products.id = room_product_rate_plans.room_product_id").
		Where("room_products.hotel_id = ?", hotelID).
		Order("room_product_rate_plans.room_product_id, room_product_rate_plans.rate_plan_id").
		Find(&out).Error
	return out, err
}

// DeleteRoomProduct removes a room product. Links and materialized rates
// are removed by cascade. Returns ErrNotFound if nothing was deleted.
func DeleteRoomProduct(ctx context.Context, db *gorm.DB, hotelID, id string) error {
	res := db.WithContext(ctx).Where("id = ? AND hotel_id = ?", id, hotelID).Delete(&domain.RoomProduct{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRatePlan removes a rate plan. Links and materialized rates are
// removed by cascade. Returns ErrNotFound if nothing was deleted.
func DeleteRatePlan(ctx context.Context, db *gorm.DB, hotelID, id string) error {
	res := db.WithContext(ctx).Where("id = ? AND hotel_id = ?", id, hotelID).Delete(&domain.RatePlan{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
