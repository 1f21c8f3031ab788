package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaterializedRate is the precomputed sellable price of a
// (room product, rate plan, date) triple. Rows are only written by workers
// through an upsert, so at most one row exists per key.
//
// Fields:
//   - Amount: rounded rate in the hotel currency, before tax.
//   - Provenance: hash of the rule versions that produced Amount.
//   - ComputedAt: rule snapshot time of the producing job; an upsert never
//     replaces a row computed from a newer snapshot.
//   - HotelID: denormalized for partition-scoped queries.
type MaterializedRate struct {
	RoomProductID string          `json:"room_product_id" gorm:"type:varchar(64);primaryKey"`
	RatePlanID    string          `json:"rate_plan_id"    gorm:"type:varchar(64);primaryKey;index"`
	Date          time.Time       `json:"date"            gorm:"primaryKey;index:idx_rates_hotel_date,priority:2"`
	HotelID       string          `json:"hotel_id"        gorm:"type:varchar(64);not null;index:idx_rates_hotel_date,priority:1"`
	Amount        decimal.Decimal `json:"amount"          gorm:"type:decimal(18,6);not null"`
	Currency      string          `json:"currency"        gorm:"type:char(3);not null"`
	Provenance    string          `json:"provenance"      gorm:"type:char(64);not null"`
	ComputedAt    time.Time       `json:"computed_at"     gorm:"not null"`
	JobID         string          `json:"job_id"          gorm:"type:char(36)"`
	UpdatedAt     time.Time       `json:"updated_at"`

	RoomProduct RoomProduct `json:"-" gorm:"foreignKey:RoomProductID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	RatePlan    RatePlan    `json:"-" gorm:"foreignKey:RatePlanID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for MaterializedRate.
func (MaterializedRate) TableName() string { return "materialized_rates" }
