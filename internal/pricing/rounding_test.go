package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

func TestRound_Modes(t *testing.T) {
	tests := []struct {
		in   string
		mode domain.RoundingMode
		want string
	}{
		{"10.005", domain.RoundHalfUp, "10.01"},
		{"10.005", domain.RoundFloor, "10.00"},
		{"10.005", domain.RoundCeiling, "10.01"},
		{"10.005", domain.RoundHalfDown, "10.00"},
		{"10.0051", domain.RoundHalfDown, "10.01"},
		{"10.005", domain.RoundBankers, "10.00"},
		{"10.015", domain.RoundBankers, "10.02"},
		{"-10.005", domain.RoundHalfUp, "-10.01"},
		{"-10.005", domain.RoundHalfDown, "-10.00"},
		{"-10.005", domain.RoundFloor, "-10.01"},
		{"-10.005", domain.RoundCeiling, "-10.00"},
		{"10.004", domain.RoundHalfUp, "10.00"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode)+"/"+tt.in, func(t *testing.T) {
			got, err := Round(decimal.RequireFromString(tt.in), 2, tt.mode)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestRound_ZeroUnits(t *testing.T) {
	got, err := Round(decimal.RequireFromString("99.5"), 0, domain.RoundHalfUp)
	require.NoError(t, err)
	assert.Equal(t, "100", got.String())
}

func TestRound_Errors(t *testing.T) {
	_, err := Round(decimal.NewFromInt(1), 2, "sideways")
	assert.ErrorIs(t, err, ErrUnknownRoundingMode)

	_, err = Round(decimal.NewFromInt(1), -1, domain.RoundHalfUp)
	assert.ErrorIs(t, err, ErrInvalidRounding)
}

func TestRoundingFor_DefaultsToCurrencyScale(t *testing.T) {
	r, err := RoundingFor(nil, "JPY")
	require.NoError(t, err)
	assert.Equal(t, int32(0), r.Units)
	assert.Equal(t, domain.RoundHalfUp, r.Mode)

	r, err = RoundingFor(nil, "EUR")
	require.NoError(t, err)
	assert.Equal(t, int32(2), r.Units)

	r, err = RoundingFor(&domain.RoundingRule{HotelID: "h1", DecimalUnits: 1, Mode: domain.RoundFloor, Version: 3}, "EUR")
	require.NoError(t, err)
	assert.Equal(t, int32(1), r.Units)
	assert.Equal(t, "rounding:h1:3", r.Ref)

	_, err = RoundingFor(&domain.RoundingRule{HotelID: "h1", Mode: "nope"}, "EUR")
	assert.ErrorIs(t, err, ErrUnknownRoundingMode)
}

func TestParseCurrency(t *testing.T) {
	code, err := ParseCurrency("eur")
	require.NoError(t, err)
	assert.Equal(t, "EUR", code)

	_, err = ParseCurrency("EURO")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}
