// Package pricing implements the composition algorithm that turns a hotel's
// rule layers into the sellable daily rate of a (room product, rate plan,
// date) triple.
//
// Composition order per triple:
//  1. base: sum over the room product's features of the winning
//     FeatureDailyRateRule (features without a match contribute zero)
//  2. derivation: when the rate plan has an active derived setting, the
//     amount becomes target × Multiplier + Delta, where target is the
//     target plan's amount after its own step 2 for the same room product
//     and date
//  3. extra occupancy: every matching rule of a tier within the room
//     product's extra guests is added
//  4. rounding: the hotel rounding rule, or the currency default
//
// Composition is CPU-bound and performs no I/O; the caller loads a Snapshot.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

// Snapshot is the read-only view of one hotel's catalog and rules a job
// composes against. TakenAt becomes the ComputedAt of every upserted row.
type Snapshot struct {
	HotelID  string
	Currency string
	TakenAt  time.Time

	RoomProducts map[string]domain.RoomProduct
	RatePlans    map[string]domain.RatePlan
	Features     map[string][]string // room product id -> consumed feature ids

	FeatureRates   map[string][]domain.FeatureDailyRateRule // feature id -> rules
	ExtraOccupancy []domain.ExtraOccupancyAdjustmentRule
	Derived        map[string]domain.RatePlanDerivedSetting // rate plan id -> setting
	Rounding       *domain.RoundingRule                     // nil: currency default
}

// Graph returns the derivation graph of the snapshot.
func (s *Snapshot) Graph() *DerivationGraph {
	settings := make([]domain.RatePlanDerivedSetting, 0, len(s.Derived))
	for _, d := range s.Derived {
		settings = append(settings, d)
	}
	return NewDerivationGraph(settings)
}

// Result is the composed rate of one triple.
type Result struct {
	Amount     decimal.Decimal // rounded
	Raw        decimal.Decimal // before rounding
	Provenance string
	Refs       []string
}

type tripleKey struct {
	roomProductID, ratePlanID string
	date                      time.Time
}

// partial is a triple's amount after derivation, before extra occupancy.
type partial struct {
	amount decimal.Decimal
	refs   []string
}

// Composer prices triples of one Snapshot. Amounts computed for a target
// plan are memoized, so composing plans in topological order reuses them.
// A Composer is not safe for concurrent use.
type Composer struct {
	snap     *Snapshot
	rounding Rounding
	memo     map[tripleKey]partial
}

// NewComposer prepares a composer for snap. It fails only when the hotel
// rounding rule is unusable.
func NewComposer(snap *Snapshot) (*Composer, error) {
	r, err := RoundingFor(snap.Rounding, snap.Currency)
	if err != nil {
		return nil, err
	}
	return &Composer{snap: snap, rounding: r, memo: make(map[tripleKey]partial)}, nil
}

// Reset drops memoized partial amounts. Callers composing many dates reset
// between dates to keep the memo bounded.
func (c *Composer) Reset() { clear(c.memo) }

// Rounding returns the effective rounding policy.
func (c *Composer) Rounding() Rounding { return c.rounding }

// Compose prices one triple. Failures are returned as *CompositionError.
func (c *Composer) Compose(roomProductID, ratePlanID string, date time.Time) (Result, error) {
	date = domain.Day(date)
	fail := func(err error) (Result, error) {
		return Result{}, &CompositionError{RoomProductID: roomProductID, RatePlanID: ratePlanID, Date: date, Err: err}
	}

	rp, ok := c.snap.RoomProducts[roomProductID]
	if !ok {
		return fail(ErrUnknownRoomProduct)
	}
	if _, ok := c.snap.RatePlans[ratePlanID]; !ok {
		return fail(ErrUnknownRatePlan)
	}

	p, err := c.derived(rp, ratePlanID, date, nil)
	if err != nil {
		return fail(err)
	}
	amount := p.amount
	refs := append([]string(nil), p.refs...)

	for _, r := range MatchExtraOccupancyRules(c.snap.ExtraOccupancy, roomProductID, ratePlanID, rp.ExtraPersons(), date) {
		amount = amount.Add(r.ExtraRate)
		refs = append(refs, domain.ExtraOccupancyLayer(r).Ref())
	}

	if amount.IsNegative() {
		return fail(ErrNegativeRate)
	}
	rounded, err := c.rounding.Apply(amount)
	if err != nil {
		return fail(err)
	}
	refs = append(refs, c.rounding.Ref)

	return Result{Amount: rounded, Raw: amount, Provenance: Provenance(refs), Refs: refs}, nil
}

// derived returns the amount of (rp, plan, date) after derivation. visiting
// guards against cycles that slipped past mutation-time validation.
func (c *Composer) derived(rp domain.RoomProduct, planID string, date time.Time, visiting map[string]bool) (partial, error) {
	key := tripleKey{rp.ID, planID, date}
	if p, ok := c.memo[key]; ok {
		return p, nil
	}

	var p partial
	setting, ok := c.snap.Derived[planID]
	if ok && setting.ActiveOn(date) {
		if _, exists := c.snap.RatePlans[setting.TargetRatePlanID]; !exists {
			return partial{}, ErrMissingTarget
		}
		if visiting == nil {
			visiting = make(map[string]bool)
		}
		if visiting[planID] {
			return partial{}, ErrDerivationCycle
		}
		visiting[planID] = true
		target, err := c.derived(rp, setting.TargetRatePlanID, date, visiting)
		if err != nil {
			return partial{}, err
		}
		p.amount = target.amount.Mul(setting.Multiplier).Add(setting.Delta)
		p.refs = append(append(p.refs, target.refs...), domain.DerivedLayer(&setting).Ref())
	} else {
		p = c.base(rp, date)
	}

	c.memo[key] = p
	return p, nil
}

// base sums the winning feature rule of every feature of rp.
func (c *Composer) base(rp domain.RoomProduct, date time.Time) partial {
	p := partial{amount: decimal.Zero}
	for _, featureID := range c.snap.Features[rp.ID] {
		r := SelectFeatureRule(c.snap.FeatureRates[featureID], date)
		if r == nil {
			continue
		}
		p.amount = p.amount.Add(r.Rate)
		p.refs = append(p.refs, domain.FeatureRateLayer(r).Ref())
	}
	return p
}
