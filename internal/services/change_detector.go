// Package services – ChangeDetector
//
// ChangeDetector maps a rule mutation to the MaterializationScope it
// invalidates. It only reads the catalog and rule tables; it never touches
// materialized rates and never enqueues anything itself.
//
//   - feature daily rate: room products consuming the feature, the rate plans
//     sold on them, the rule window (hull with the previous window and the
//     previous feature's room products on update)
//   - extra occupancy: the explicit room product / rate plan targets, or all,
//     over the rule window
//   - derived setting: the source rate plan and every plan transitively
//     deriving from it; the setting window, or [today, open) when unwindowed
//   - rounding: the whole hotel over the full stored date range
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/observability"
	"github.com/tbourn/go-rate-engine/internal/pricing"
	"github.com/tbourn/go-rate-engine/internal/repo"
)

// ChangeDetector computes invalidation scopes for rule mutations.
type ChangeDetector struct {
	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

func (d *ChangeDetector) today() time.Time {
	if d != nil && d.Now != nil {
		return domain.Day(d.Now().UTC())
	}
	return domain.Day(time.Now().UTC())
}

// OnRuleMutation returns the scope invalidated by m, read through db (usually
// the transaction that persisted m). References to catalog entries that do
// not exist yield ErrValidation on create and update; deletes tolerate them.
func (d *ChangeDetector) OnRuleMutation(ctx context.Context, db *gorm.DB, m domain.RuleMutation) (domain.MaterializationScope, error) {
	ctx, span := observability.Tracer("services/ChangeDetector").Start(ctx, "OnRuleMutation",
		trace.WithAttributes(
			attribute.String("rule.kind", string(m.Layer.Kind)),
			attribute.String("rule.op", string(m.Op)),
		),
	)
	defer span.End()

	if !m.Layer.Valid() || (m.Previous != nil && (!m.Previous.Valid() || m.Previous.Kind != m.Layer.Kind)) {
		return domain.MaterializationScope{}, fmt.Errorf("%w: malformed rule layer", ErrValidation)
	}
	strict := m.Op != domain.OpDelete

	var (
		scope domain.MaterializationScope
		err   error
	)
	switch m.Layer.Kind {
	case domain.KindFeatureRate:
		scope, err = d.featureScope(ctx, db, m, strict)
	case domain.KindExtraOccupancy:
		scope, err = d.extraOccupancyScope(ctx, db, m, strict)
	case domain.KindDerivedSetting:
		scope, err = d.derivedScope(ctx, db, m, strict)
	case domain.KindRounding:
		scope = domain.MaterializationScope{
			HotelID:         m.Layer.HotelID(),
			AllRoomProducts: true,
			AllRatePlans:    true,
		}
	}
	if err != nil {
		return domain.MaterializationScope{}, err
	}
	scope = scope.Normalize()
	span.SetAttributes(
		attribute.Int("scope.room_products", len(scope.RoomProductIDs)),
		attribute.Int("scope.rate_plans", len(scope.RatePlanIDs)),
	)
	return scope, nil
}

func (d *ChangeDetector) featureScope(ctx context.Context, db *gorm.DB, m domain.RuleMutation, strict bool) (domain.MaterializationScope, error) {
	r := m.Layer.FeatureRate
	if strict {
		if _, err := repo.GetFeature(ctx, db, r.HotelID, r.FeatureID); err != nil {
			return domain.MaterializationScope{}, referenceErr(err, "feature", r.FeatureID)
		}
	}
	features := []string{r.FeatureID}
	dates, _ := m.Layer.Window()
	if m.Previous != nil {
		prev := m.Previous.FeatureRate
		if prev.FeatureID != r.FeatureID {
			features = append(features, prev.FeatureID)
		}
		pw, _ := m.Previous.Window()
		dates = dates.Hull(pw)
	}

	var rps []string
	for _, f := range features {
		ids, err := repo.RoomProductIDsByFeature(ctx, db, f)
		if err != nil {
			return domain.MaterializationScope{}, err
		}
		rps = append(rps, ids...)
	}
	plans, err := repo.RatePlanIDsSoldOn(ctx, db, rps)
	if err != nil {
		return domain.MaterializationScope{}, err
	}
	return domain.MaterializationScope{
		HotelID:        r.HotelID,
		RoomProductIDs: rps,
		RatePlanIDs:    plans,
		Dates:          dates,
	}, nil
}

func (d *ChangeDetector) extraOccupancyScope(ctx context.Context, db *gorm.DB, m domain.RuleMutation, strict bool) (domain.MaterializationScope, error) {
	r := m.Layer.ExtraOccupancy
	if strict {
		if r.RoomProductID != nil {
			if _, err := repo.GetRoomProduct(ctx, db, r.HotelID, *r.RoomProductID); err != nil {
				return domain.MaterializationScope{}, referenceErr(err, "room product", *r.RoomProductID)
			}
		}
		if r.RatePlanID != nil {
			if _, err := repo.GetRatePlan(ctx, db, r.HotelID, *r.RatePlanID); err != nil {
				return domain.MaterializationScope{}, referenceErr(err, "rate plan", *r.RatePlanID)
			}
		}
	}

	scope := domain.MaterializationScope{HotelID: r.HotelID}
	scope.Dates, _ = m.Layer.Window()
	targets := []*domain.ExtraOccupancyAdjustmentRule{r}
	if m.Previous != nil {
		targets = append(targets, m.Previous.ExtraOccupancy)
		pw, _ := m.Previous.Window()
		scope.Dates = scope.Dates.Hull(pw)
	}
	for _, t := range targets {
		if t.RoomProductID == nil {
			scope.AllRoomProducts = true
		} else {
			scope.RoomProductIDs = append(scope.RoomProductIDs, *t.RoomProductID)
		}
		if t.RatePlanID == nil {
			scope.AllRatePlans = true
		} else {
			scope.RatePlanIDs = append(scope.RatePlanIDs, *t.RatePlanID)
		}
	}
	return scope, nil
}

func (d *ChangeDetector) derivedScope(ctx context.Context, db *gorm.DB, m domain.RuleMutation, strict bool) (domain.MaterializationScope, error) {
	s := m.Layer.Derived
	if strict {
		for _, id := range []string{s.RatePlanID, s.TargetRatePlanID} {
			if _, err := repo.GetRatePlan(ctx, db, s.HotelID, id); err != nil {
				return domain.MaterializationScope{}, referenceErr(err, "rate plan", id)
			}
		}
	}

	settings, err := repo.ListDerivedSettings(ctx, db, s.HotelID)
	if err != nil {
		return domain.MaterializationScope{}, err
	}
	g := pricing.NewDerivationGraph(settings)

	sources := []string{s.RatePlanID}
	dates := d.derivedWindow(m.Layer)
	if m.Previous != nil {
		if p := m.Previous.Derived; p.RatePlanID != s.RatePlanID {
			sources = append(sources, p.RatePlanID)
		}
		dates = dates.Hull(d.derivedWindow(*m.Previous))
	}
	var plans []string
	for _, src := range sources {
		plans = append(plans, src)
		plans = append(plans, g.Dependents(src)...)
	}
	return domain.MaterializationScope{
		HotelID:         s.HotelID,
		AllRoomProducts: true,
		RatePlanIDs:     plans,
		Dates:           dates,
	}, nil
}

// derivedWindow is the setting's own window, or [today, open) when unwindowed.
// A window without a lower bound starts today as well: past dates are not
// re-materialized for derived changes.
func (d *ChangeDetector) derivedWindow(l domain.RuleLayer) domain.DateRange {
	w, ok := l.Window()
	if !ok {
		return domain.DateRange{From: d.today()}
	}
	if w.From.IsZero() {
		w.From = d.today()
	}
	return w
}

func referenceErr(err error, what, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: unknown %s %q", ErrValidation, what, id)
	}
	return err
}
