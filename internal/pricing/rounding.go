package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

// Rounding is the effective rounding policy of a hotel.
type Rounding struct {
	Units int32
	Mode  domain.RoundingMode
	Ref   string // provenance reference of the policy
}

// RoundingFor returns the hotel's rounding rule, or the currency's standard
// scale with half-up when the hotel has none.
func RoundingFor(rule *domain.RoundingRule, currencyCode string) (Rounding, error) {
	if rule != nil {
		if !rule.Mode.Valid() {
			return Rounding{}, fmt.Errorf("%w: %q", ErrUnknownRoundingMode, rule.Mode)
		}
		if rule.DecimalUnits < 0 {
			return Rounding{}, fmt.Errorf("%w: decimal units %d", ErrInvalidRounding, rule.DecimalUnits)
		}
		return Rounding{
			Units: int32(rule.DecimalUnits),
			Mode:  rule.Mode,
			Ref:   domain.RoundingLayer(rule).Ref(),
		}, nil
	}
	units := StandardScale(currencyCode)
	return Rounding{
		Units: units,
		Mode:  domain.RoundHalfUp,
		Ref:   fmt.Sprintf("%s:default:%s:%d", domain.KindRounding, currencyCode, units),
	}, nil
}

// ParseCurrency validates an ISO 4217 code and returns its canonical form.
func ParseCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return unit.String(), nil
}

// StandardScale returns the ISO 4217 minor-unit scale of a currency
// (2 for EUR, 0 for JPY). Unknown codes fall back to 2.
func StandardScale(code string) int32 {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// Apply rounds amount under the policy.
func (r Rounding) Apply(amount decimal.Decimal) (decimal.Decimal, error) {
	return Round(amount, r.Units, r.Mode)
}

// Round rounds amount to units decimal places.
//
//   - half_up:   ties away from zero (10.005 -> 10.01, -10.005 -> -10.01)
//   - half_down: ties toward zero (10.005 -> 10.00)
//   - ceiling:   toward +inf
//   - floor:     toward -inf
//   - bankers:   ties to even
func Round(amount decimal.Decimal, units int32, mode domain.RoundingMode) (decimal.Decimal, error) {
	if units < 0 {
		return decimal.Zero, fmt.Errorf("%w: decimal units %d", ErrInvalidRounding, units)
	}
	switch mode {
	case domain.RoundHalfUp:
		return amount.Round(units), nil
	case domain.RoundHalfDown:
		rem := amount.Sub(amount.Truncate(units)).Abs()
		half := decimal.New(5, -(units + 1))
		if rem.GreaterThan(half) {
			return amount.RoundUp(units), nil
		}
		return amount.RoundDown(units), nil
	case domain.RoundCeiling:
		return amount.RoundCeil(units), nil
	case domain.RoundFloor:
		return amount.RoundFloor(units), nil
	case domain.RoundBankers:
		return amount.RoundBank(units), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownRoundingMode, mode)
}
