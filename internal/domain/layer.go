package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RuleKind tags the closed set of pricing rule layers.
type RuleKind string

const (
	KindFeatureRate    RuleKind = "feature_daily_rate"
	KindExtraOccupancy RuleKind = "extra_occupancy"
	KindDerivedSetting RuleKind = "derived_setting"
	KindRounding       RuleKind = "rounding"
)

// Operation is the kind of write applied to a rule layer.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// RuleLayer is a tagged variant over the four rule kinds. Exactly the pointer
// matching Kind is set.
type RuleLayer struct {
	Kind           RuleKind
	FeatureRate    *FeatureDailyRateRule
	ExtraOccupancy *ExtraOccupancyAdjustmentRule
	Derived        *RatePlanDerivedSetting
	Rounding       *RoundingRule
}

// FeatureRateLayer wraps a feature daily-rate rule.
func FeatureRateLayer(r *FeatureDailyRateRule) RuleLayer {
	return RuleLayer{Kind: KindFeatureRate, FeatureRate: r}
}

// ExtraOccupancyLayer wraps an extra-occupancy rule.
func ExtraOccupancyLayer(r *ExtraOccupancyAdjustmentRule) RuleLayer {
	return RuleLayer{Kind: KindExtraOccupancy, ExtraOccupancy: r}
}

// DerivedLayer wraps a derived rate-plan setting.
func DerivedLayer(s *RatePlanDerivedSetting) RuleLayer {
	return RuleLayer{Kind: KindDerivedSetting, Derived: s}
}

// RoundingLayer wraps a hotel rounding rule.
func RoundingLayer(r *RoundingRule) RuleLayer {
	return RuleLayer{Kind: KindRounding, Rounding: r}
}

// RuleMutation is a write to a rule layer as seen by the change detector.
// Previous carries the stored state before an update.
type RuleMutation struct {
	Op       Operation
	Layer    RuleLayer
	Previous *RuleLayer
}

// Valid reports whether the payload pointer matches Kind.
func (l RuleLayer) Valid() bool {
	switch l.Kind {
	case KindFeatureRate:
		return l.FeatureRate != nil
	case KindExtraOccupancy:
		return l.ExtraOccupancy != nil
	case KindDerivedSetting:
		return l.Derived != nil
	case KindRounding:
		return l.Rounding != nil
	}
	return false
}

// HotelID returns the hotel partition of the wrapped rule.
func (l RuleLayer) HotelID() string {
	switch l.Kind {
	case KindFeatureRate:
		return l.FeatureRate.HotelID
	case KindExtraOccupancy:
		return l.ExtraOccupancy.HotelID
	case KindDerivedSetting:
		return l.Derived.HotelID
	case KindRounding:
		return l.Rounding.HotelID
	}
	return ""
}

// Window returns the rule's date window as a half-open range. ok is false for
// layers that are not date scoped (rounding, unwindowed derived settings).
func (l RuleLayer) Window() (r DateRange, ok bool) {
	switch l.Kind {
	case KindFeatureRate:
		return InclusiveRange(l.FeatureRate.FromDate, l.FeatureRate.ToDate), true
	case KindExtraOccupancy:
		return InclusiveRange(l.ExtraOccupancy.FromDate, l.ExtraOccupancy.ToDate), true
	case KindDerivedSetting:
		s := l.Derived
		if s.FromDate == nil && s.ToDate == nil {
			return DateRange{}, false
		}
		if s.FromDate != nil {
			r.From = Day(*s.FromDate)
		}
		if s.ToDate != nil {
			r.To = Day(*s.ToDate).AddDate(0, 0, 1)
		}
		return r, true
	}
	return DateRange{}, false
}

// Applies reports whether the layer contributes to the (date, room product,
// rate plan) triple. Feature consumption is a catalog relation, so feature
// rules only check their window and weekdays here.
func (l RuleLayer) Applies(date time.Time, roomProductID, ratePlanID string) bool {
	date = Day(date)
	switch l.Kind {
	case KindFeatureRate:
		r := l.FeatureRate
		return inWindow(date, r.FromDate, r.ToDate) && r.Weekdays.Contains(date.Weekday())
	case KindExtraOccupancy:
		r := l.ExtraOccupancy
		if r.RoomProductID != nil && *r.RoomProductID != roomProductID {
			return false
		}
		if r.RatePlanID != nil && *r.RatePlanID != ratePlanID {
			return false
		}
		return inWindow(date, r.FromDate, r.ToDate) && r.Weekdays.Contains(date.Weekday())
	case KindDerivedSetting:
		return l.Derived.RatePlanID == ratePlanID && l.Derived.ActiveOn(date)
	case KindRounding:
		return true
	}
	return false
}

// Adjustment returns the additive amount the layer carries for a date it
// applies to. Derived settings report their delta; the multiplier is applied
// by the composer against the target rate.
func (l RuleLayer) Adjustment(date time.Time) decimal.Decimal {
	switch l.Kind {
	case KindFeatureRate:
		return l.FeatureRate.Rate
	case KindExtraOccupancy:
		return l.ExtraOccupancy.ExtraRate
	case KindDerivedSetting:
		return l.Derived.Delta
	}
	return decimal.Zero
}

// Ref identifies the rule version for provenance hashing.
func (l RuleLayer) Ref() string {
	switch l.Kind {
	case KindFeatureRate:
		return fmt.Sprintf("%s:%s:%d", l.Kind, l.FeatureRate.ID, l.FeatureRate.Version)
	case KindExtraOccupancy:
		return fmt.Sprintf("%s:%s:%d", l.Kind, l.ExtraOccupancy.ID, l.ExtraOccupancy.Version)
	case KindDerivedSetting:
		return fmt.Sprintf("%s:%s:%d", l.Kind, l.Derived.ID, l.Derived.Version)
	case KindRounding:
		return fmt.Sprintf("%s:%s:%d", l.Kind, l.Rounding.HotelID, l.Rounding.Version)
	}
	return string(l.Kind)
}

// inWindow reports whether date lies in the inclusive [from, to] window.
func inWindow(date, from, to time.Time) bool {
	return !date.Before(Day(from)) && !date.After(Day(to))
}
