package services

import (
	"fmt"
	"time"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

// MaxRuleWindowDays bounds how far a single rule window may span.
const MaxRuleWindowDays = 3 * 366

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func validateWindow(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return invalid("from_date and to_date are required")
	}
	from, to = domain.Day(from), domain.Day(to)
	if to.Before(from) {
		return invalid("to_date %s is before from_date %s", to.Format(domain.DateLayout), from.Format(domain.DateLayout))
	}
	if to.Sub(from) > MaxRuleWindowDays*24*time.Hour {
		return invalid("window exceeds %d days", MaxRuleWindowDays)
	}
	return nil
}

func validateWeekdays(s domain.WeekdaySet) error {
	if s == 0 || s&^domain.AllWeekdays != 0 {
		return invalid("weekdays must select at least one day of the week")
	}
	return nil
}

func validateFeatureRate(r *domain.FeatureDailyRateRule) error {
	if r.HotelID == "" || r.FeatureID == "" {
		return invalid("hotel_id and feature_id are required")
	}
	if err := validateWindow(r.FromDate, r.ToDate); err != nil {
		return err
	}
	if err := validateWeekdays(r.Weekdays); err != nil {
		return err
	}
	if r.Rate.IsNegative() {
		return invalid("rate must not be negative")
	}
	r.FromDate, r.ToDate = domain.Day(r.FromDate), domain.Day(r.ToDate)
	return nil
}

func validateExtraOccupancy(r *domain.ExtraOccupancyAdjustmentRule) error {
	if r.HotelID == "" {
		return invalid("hotel_id is required")
	}
	if r.ExtraPersons < 1 {
		return invalid("extra_persons must be at least 1")
	}
	if err := validateWindow(r.FromDate, r.ToDate); err != nil {
		return err
	}
	if err := validateWeekdays(r.Weekdays); err != nil {
		return err
	}
	if r.ExtraRate.IsNegative() {
		return invalid("extra_rate must not be negative")
	}
	if r.RoomProductID != nil && *r.RoomProductID == "" {
		r.RoomProductID = nil
	}
	if r.RatePlanID != nil && *r.RatePlanID == "" {
		r.RatePlanID = nil
	}
	r.FromDate, r.ToDate = domain.Day(r.FromDate), domain.Day(r.ToDate)
	return nil
}

func validateDerived(d *domain.RatePlanDerivedSetting) error {
	if d.HotelID == "" || d.RatePlanID == "" || d.TargetRatePlanID == "" {
		return invalid("hotel_id, rate_plan_id and target_rate_plan_id are required")
	}
	if d.RatePlanID == d.TargetRatePlanID {
		return fmt.Errorf("%w: %s -> %s", ErrDerivationCycle, d.RatePlanID, d.TargetRatePlanID)
	}
	if d.Multiplier.IsNegative() {
		return invalid("multiplier must not be negative")
	}
	if d.FromDate != nil {
		v := domain.Day(*d.FromDate)
		d.FromDate = &v
	}
	if d.ToDate != nil {
		v := domain.Day(*d.ToDate)
		d.ToDate = &v
	}
	if d.FromDate != nil && d.ToDate != nil && d.ToDate.Before(*d.FromDate) {
		return invalid("to_date is before from_date")
	}
	return nil
}

func validateRounding(r *domain.RoundingRule) error {
	if r.HotelID == "" {
		return invalid("hotel_id is required")
	}
	if r.DecimalUnits < 0 || r.DecimalUnits > MaxDecimalUnits {
		return invalid("decimal_units must be within 0..%d", MaxDecimalUnits)
	}
	if !r.Mode.Valid() {
		return invalid("unknown rounding mode %q", r.Mode)
	}
	return nil
}
