// Package domain defines the core persistence models for the rate pipeline.
// These types are used by GORM for database schema mapping and are shared
// across the repository, pricing, service and worker layers.
package domain

import "time"

// Hotel is the partition root of every pricing entity. Keys never cross
// hotel boundaries, which is what allows hotels to recompute in parallel.
//
// Fields:
//   - ID: stable identifier (UUID or external code).
//   - Name: display name.
//   - Currency: ISO 4217 code of every amount priced for this hotel.
type Hotel struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null"`
	Currency  string    `json:"currency"   gorm:"type:char(3);not null;default:'EUR'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Hotel.
func (Hotel) TableName() string { return "hotels" }

// Feature is an attribute or amenity of a room product that carries its own
// price contribution (e.g. "sea-view", "king-bed").
type Feature struct {
	ID        string    `json:"id"       gorm:"type:varchar(64);primaryKey"`
	HotelID   string    `json:"hotel_id" gorm:"type:varchar(64);not null;index"`
	Code      string    `json:"code"     gorm:"type:varchar(64);not null"`
	CreatedAt time.Time `json:"created_at"`

	Hotel Hotel `json:"-" gorm:"foreignKey:HotelID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Feature.
func (Feature) TableName() string { return "features" }

// RoomProduct is a sellable combination of a physical room type and a set of
// features. Its base price is the sum of its features' daily rates.
//
// BaseOccupancy is the number of guests included in the base price and
// DefaultOccupancy the number of guests a materialized rate is quoted for.
// When DefaultOccupancy exceeds BaseOccupancy, extra-occupancy rules apply.
type RoomProduct struct {
	ID               string    `json:"id"                gorm:"type:varchar(64);primaryKey"`
	HotelID          string    `json:"hotel_id"          gorm:"type:varchar(64);not null;index"`
	Code             string    `json:"code"              gorm:"type:varchar(64);not null"`
	BaseOccupancy    int       `json:"base_occupancy"    gorm:"not null;default:2"`
	DefaultOccupancy int       `json:"default_occupancy" gorm:"not null;default:2"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	Hotel Hotel `json:"-" gorm:"foreignKey:HotelID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for RoomProduct.
func (RoomProduct) TableName() string { return "room_products" }

// ExtraPersons returns how many guests above the base occupancy the default
// materialization is quoted for (never negative).
func (p RoomProduct) ExtraPersons() int {
	if n := p.DefaultOccupancy - p.BaseOccupancy; n > 0 {
		return n
	}
	return 0
}

// RoomProductFeature links a room product to a feature it consumes.
type RoomProductFeature struct {
	RoomProductID string `json:"room_product_id" gorm:"type:varchar(64);primaryKey"`
	FeatureID     string `json:"feature_id"      gorm:"type:varchar(64);primaryKey;index"`

	RoomProduct RoomProduct `json:"-" gorm:"foreignKey:RoomProductID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Feature     Feature     `json:"-" gorm:"foreignKey:FeatureID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for RoomProductFeature.
func (RoomProductFeature) TableName() string { return "room_product_features" }

// RatePlan is a commercial packaging/pricing policy (e.g. cancellation terms)
// applied on top of a room product.
type RatePlan struct {
	ID        string    `json:"id"       gorm:"type:varchar(64);primaryKey"`
	HotelID   string    `json:"hotel_id" gorm:"type:varchar(64);not null;index"`
	Code      string    `json:"code"     gorm:"type:varchar(64);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Hotel Hotel `json:"-" gorm:"foreignKey:HotelID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for RatePlan.
func (RatePlan) TableName() string { return "rate_plans" }

// RoomProductRatePlan records that a rate plan is sold on a room product.
// Only these pairs are ever materialized.
type RoomProductRatePlan struct {
	RoomProductID string `json:"room_product_id" gorm:"type:varchar(64);primaryKey"`
	RatePlanID    string `json:"rate_plan_id"    gorm:"type:varchar(64);primaryKey;index"`

	RoomProduct RoomProduct `json:"-" gorm:"foreignKey:RoomProductID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	RatePlan    RatePlan    `json:"-" gorm:"foreignKey:RatePlanID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for RoomProductRatePlan.
func (RoomProductRatePlan) TableName() string { return "room_product_rate_plans" }
