package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

var (
	// ErrMissingTarget means a derived setting points at a rate plan that is
	// not part of the hotel catalog (e.g. deleted mid-flight).
	ErrMissingTarget = errors.New("derived setting target rate plan missing")
	// ErrDerivationCycle means the derived-setting edges contain a cycle.
	ErrDerivationCycle = errors.New("derived rate plans form a cycle")
	// ErrNegativeRate means the composed amount fell below zero.
	ErrNegativeRate = errors.New("composed rate is negative")
	// ErrUnknownRoundingMode means a rounding rule carries an unsupported mode.
	ErrUnknownRoundingMode = errors.New("unknown rounding mode")
	// ErrInvalidRounding means a rounding rule has negative decimal units.
	ErrInvalidRounding = errors.New("invalid rounding rule")
	// ErrUnknownRoomProduct / ErrUnknownRatePlan mean the triple references a
	// catalog entry absent from the snapshot.
	ErrUnknownRoomProduct = errors.New("room product not in catalog")
	ErrUnknownRatePlan    = errors.New("rate plan not in catalog")
	// ErrUnknownCurrency means a hotel currency is not an ISO 4217 code.
	ErrUnknownCurrency = errors.New("unknown currency")
)

// CompositionError reports a failure to price one triple. It wraps one of the
// sentinels above.
type CompositionError struct {
	RoomProductID string
	RatePlanID    string
	Date          time.Time
	Err           error
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("compose %s/%s/%s: %v", e.RoomProductID, e.RatePlanID, e.Date.Format(domain.DateLayout), e.Err)
}

func (e *CompositionError) Unwrap() error { return e.Err }
