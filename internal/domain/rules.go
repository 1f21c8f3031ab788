package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WeekdaySet is a bitmask of days of the week (bit 0 = Sunday, as time.Weekday).
// A rule may carry several day-of-week sets; they are stored as their union.
type WeekdaySet uint8

// AllWeekdays matches every day of the week.
const AllWeekdays WeekdaySet = 0x7F

// WeekdaysOf builds a set from individual weekdays.
func WeekdaysOf(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// UnionWeekdays merges several day-of-week sets into one.
func UnionWeekdays(sets ...WeekdaySet) WeekdaySet {
	var s WeekdaySet
	for _, v := range sets {
		s |= v
	}
	return s
}

// Contains reports whether the weekday is part of the set.
func (s WeekdaySet) Contains(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

// ParseWeekdays parses names like "mon", "Tuesday" or "sat". Unknown names
// are reported through ok=false.
func ParseWeekdays(names []string) (WeekdaySet, bool) {
	var s WeekdaySet
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if len(n) < 3 {
			return 0, false
		}
		d, found := weekdayByPrefix[n[:3]]
		if !found {
			return 0, false
		}
		s |= 1 << uint(d)
	}
	return s, true
}

var weekdayByPrefix = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// FeatureDailyRateRule prices one feature for the dates of an inclusive
// [FromDate, ToDate] window whose weekday is in Weekdays.
//
// Several rules may target the same feature. Overlaps are resolved by the
// narrowest window, then by the most recent UpdatedAt.
type FeatureDailyRateRule struct {
	ID        string          `json:"id"         gorm:"type:varchar(64);primaryKey"`
	HotelID   string          `json:"hotel_id"   gorm:"type:varchar(64);not null;index:idx_feature_rules_window,priority:1"`
	FeatureID string          `json:"feature_id" gorm:"type:varchar(64);not null;index"`
	Weekdays  WeekdaySet      `json:"weekdays"   gorm:"not null;default:127"`
	FromDate  time.Time       `json:"from_date"  gorm:"not null;index:idx_feature_rules_window,priority:2"`
	ToDate    time.Time       `json:"to_date"    gorm:"not null;index:idx_feature_rules_window,priority:3"`
	Rate      decimal.Decimal `json:"rate"       gorm:"type:decimal(18,6);not null"`
	Version   int64           `json:"version"    gorm:"not null;default:1"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName returns the database table name for FeatureDailyRateRule.
func (FeatureDailyRateRule) TableName() string { return "feature_daily_rate_rules" }

// ExtraOccupancyAdjustmentRule charges ExtraRate for the ExtraPersons-th guest
// above base occupancy. RoomProductID and RatePlanID narrow the rule; nil
// means every room product / rate plan of the hotel.
type ExtraOccupancyAdjustmentRule struct {
	ID            string          `json:"id"                        gorm:"type:varchar(64);primaryKey"`
	HotelID       string          `json:"hotel_id"                  gorm:"type:varchar(64);not null;index"`
	RoomProductID *string         `json:"room_product_id,omitempty" gorm:"type:varchar(64);index"`
	RatePlanID    *string         `json:"rate_plan_id,omitempty"    gorm:"type:varchar(64);index"`
	ExtraPersons  int             `json:"extra_persons"             gorm:"not null;default:1"`
	ExtraRate     decimal.Decimal `json:"extra_rate"                gorm:"type:decimal(18,6);not null"`
	Weekdays      WeekdaySet      `json:"weekdays"                  gorm:"not null;default:127"`
	FromDate      time.Time       `json:"from_date"                 gorm:"not null"`
	ToDate        time.Time       `json:"to_date"                   gorm:"not null"`
	Version       int64           `json:"version"                   gorm:"not null;default:1"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName returns the database table name for ExtraOccupancyAdjustmentRule.
func (ExtraOccupancyAdjustmentRule) TableName() string { return "extra_occupancy_rules" }

// RatePlanDerivedSetting makes RatePlanID track TargetRatePlanID:
// amount = target × Multiplier + Delta. A rate plan derives from at most one
// target, and the derivation edges must stay acyclic.
type RatePlanDerivedSetting struct {
	ID               string          `json:"id"                  gorm:"type:varchar(64);primaryKey"`
	HotelID          string          `json:"hotel_id"            gorm:"type:varchar(64);not null;index"`
	RatePlanID       string          `json:"rate_plan_id"        gorm:"type:varchar(64);not null;uniqueIndex"`
	TargetRatePlanID string          `json:"target_rate_plan_id" gorm:"type:varchar(64);not null;index"`
	Multiplier       decimal.Decimal `json:"multiplier"          gorm:"type:decimal(18,6);not null"`
	Delta            decimal.Decimal `json:"delta"               gorm:"type:decimal(18,6);not null"`
	FromDate         *time.Time      `json:"from_date,omitempty"`
	ToDate           *time.Time      `json:"to_date,omitempty"`
	Version          int64           `json:"version"             gorm:"not null;default:1"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TableName returns the database table name for RatePlanDerivedSetting.
func (RatePlanDerivedSetting) TableName() string { return "rate_plan_derived_settings" }

// ActiveOn reports whether the setting applies on date. Settings without a
// window are always active.
func (s RatePlanDerivedSetting) ActiveOn(date time.Time) bool {
	if s.FromDate != nil && date.Before(Day(*s.FromDate)) {
		return false
	}
	if s.ToDate != nil && date.After(Day(*s.ToDate)) {
		return false
	}
	return true
}

// RoundingMode selects how the final rate is rounded.
type RoundingMode string

const (
	RoundHalfUp   RoundingMode = "half_up"
	RoundHalfDown RoundingMode = "half_down"
	RoundCeiling  RoundingMode = "ceiling"
	RoundFloor    RoundingMode = "floor"
	RoundBankers  RoundingMode = "bankers"
)

// Valid reports whether m is a known rounding mode.
func (m RoundingMode) Valid() bool {
	switch m {
	case RoundHalfUp, RoundHalfDown, RoundCeiling, RoundFloor, RoundBankers:
		return true
	}
	return false
}

// RoundingRule is the per-hotel rounding policy, applied last.
type RoundingRule struct {
	HotelID      string       `json:"hotel_id"      gorm:"type:varchar(64);primaryKey"`
	DecimalUnits int          `json:"decimal_units" gorm:"not null;default:2;check:decimal_units >= 0"`
	Mode         RoundingMode `json:"mode"          gorm:"type:varchar(16);not null;default:'half_up'"`
	Version      int64        `json:"version"       gorm:"not null;default:1"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`

	Hotel Hotel `json:"-" gorm:"foreignKey:HotelID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for RoundingRule.
func (RoundingRule) TableName() string { return "rounding_rules" }
