// Package services – RuleService
//
// RuleService is the write path for the four pricing rule layers. Every
// mutation runs in one transaction:
//
//  1. validate the payload (field ranges, derivation acyclicity)
//  2. persist the rule
//  3. compute the invalidated scope (ChangeDetector)
//  4. enqueue the recomputation (Dispatcher.DispatchTx)
//
// A failure in any step rolls back the rule write, so a rule is never stored
// without its recomputation job. Workers are woken after commit.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/observability"
	"github.com/tbourn/go-rate-engine/internal/pricing"
	"github.com/tbourn/go-rate-engine/internal/repo"
)

// MaxDecimalUnits bounds RoundingRule.DecimalUnits to the stored scale.
const MaxDecimalUnits = 6

// MutationResult reports what a rule write enqueued. JobID is empty when the
// scope was empty (e.g. a feature no room product consumes).
type MutationResult struct {
	JobID string                      `json:"job_id,omitempty"`
	Scope domain.MaterializationScope `json:"scope"`
}

// RuleService validates and persists rule mutations and dispatches their
// recomputation.
type RuleService struct {
	DB         *gorm.DB
	Detector   *ChangeDetector
	Dispatcher *Dispatcher
}

// NewRuleService constructs a RuleService.
func NewRuleService(db *gorm.DB, detector *ChangeDetector, dispatcher *Dispatcher) *RuleService {
	if detector == nil {
		detector = &ChangeDetector{}
	}
	return &RuleService{DB: db, Detector: detector, Dispatcher: dispatcher}
}

// --- feature daily rates ---

// CreateFeatureRate stores a new feature daily-rate rule.
func (s *RuleService) CreateFeatureRate(ctx context.Context, r *domain.FeatureDailyRateRule) (MutationResult, error) {
	if err := validateFeatureRate(r); err != nil {
		return MutationResult{}, err
	}
	m := domain.RuleMutation{Op: domain.OpCreate, Layer: domain.FeatureRateLayer(r)}
	return s.apply(ctx, m, func(tx *gorm.DB) error {
		return repo.CreateFeatureRate(ctx, tx, r)
	})
}

// UpdateFeatureRate overwrites an existing feature rule.
func (s *RuleService) UpdateFeatureRate(ctx context.Context, r *domain.FeatureDailyRateRule) (MutationResult, error) {
	if err := validateFeatureRate(r); err != nil {
		return MutationResult{}, err
	}
	return s.applyUpdate(ctx, domain.FeatureRateLayer(r),
		func(tx *gorm.DB) (domain.RuleLayer, error) {
			prev, err := repo.GetFeatureRate(ctx, tx, r.ID)
			if err != nil {
				return domain.RuleLayer{}, err
			}
			r.CreatedAt = prev.CreatedAt
			return domain.FeatureRateLayer(prev), nil
		},
		func(tx *gorm.DB) error { return repo.UpdateFeatureRate(ctx, tx, r) },
	)
}

// DeleteFeatureRate removes a feature rule and re-materializes its window.
func (s *RuleService) DeleteFeatureRate(ctx context.Context, hotelID, id string) (MutationResult, error) {
	return s.applyDelete(ctx, hotelID,
		func(tx *gorm.DB) (domain.RuleLayer, error) {
			r, err := repo.GetFeatureRate(ctx, tx, id)
			if err != nil {
				return domain.RuleLayer{}, err
			}
			return domain.FeatureRateLayer(r), nil
		},
		func(tx *gorm.DB) error { return repo.DeleteFeatureRate(ctx, tx, id) },
	)
}

// --- extra occupancy ---

// CreateExtraOccupancy stores a new extra-occupancy rule.
func (s *RuleService) CreateExtraOccupancy(ctx context.Context, r *domain.ExtraOccupancyAdjustmentRule) (MutationResult, error) {
	if err := validateExtraOccupancy(r); err != nil {
		return MutationResult{}, err
	}
	m := domain.RuleMutation{Op: domain.OpCreate, Layer: domain.ExtraOccupancyLayer(r)}
	return s.apply(ctx, m, func(tx *gorm.DB) error {
		return repo.CreateExtraOccupancy(ctx, tx, r)
	})
}

// UpdateExtraOccupancy overwrites an existing extra-occupancy rule.
func (s *RuleService) UpdateExtraOccupancy(ctx context.Context, r *domain.ExtraOccupancyAdjustmentRule) (MutationResult, error) {
	if err := validateExtraOccupancy(r); err != nil {
		return MutationResult{}, err
	}
	return s.applyUpdate(ctx, domain.ExtraOccupancyLayer(r),
		func(tx *gorm.DB) (domain.RuleLayer, error) {
			prev, err := repo.GetExtraOccupancy(ctx, tx, r.ID)
			if err != nil {
				return domain.RuleLayer{}, err
			}
			r.CreatedAt = prev.CreatedAt
			return domain.ExtraOccupancyLayer(prev), nil
		},
		func(tx *gorm.DB) error { return repo.UpdateExtraOccupancy(ctx, tx, r) },
	)
}

// DeleteExtraOccupancy removes an extra-occupancy rule.
func (s *RuleService) DeleteExtraOccupancy(ctx context.Context, hotelID, id string) (MutationResult, error) {
	return s.applyDelete(ctx, hotelID,
		func(tx *gorm.DB) (domain.RuleLayer, error) {
			r, err := repo.GetExtraOccupancy(ctx, tx, id)
			if err != nil {
				return domain.RuleLayer{}, err
			}
			return domain.ExtraOccupancyLayer(r), nil
		},
		func(tx *gorm.DB) error { return repo.DeleteExtraOccupancy(ctx, tx, id) },
	)
}

// --- derived settings ---

// CreateDerivedSetting stores a derived rate-plan setting. Settings that
// would close a derivation cycle are rejected with ErrDerivationCycle.
func (s *RuleService) CreateDerivedSetting(ctx context.Context, d *domain.RatePlanDerivedSetting) (MutationResult, error) {
	if err := validateDerived(d); err != nil {
		return MutationResult{}, err
	}
	m := domain.RuleMutation{Op: domain.OpCreate, Layer: domain.DerivedLayer(d)}
	return s.apply(ctx, m, func(tx *gorm.DB) error {
		if err := checkAcyclic(ctx, tx, d); err != nil {
			return err
		}
		if err := repo.CreateDerivedSetting(ctx, tx, d); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return fmt.Errorf("%w: rate plan %q already derives from another plan", ErrValidation, d.RatePlanID)
			}
			return err
		}
		return nil
	})
}

// UpdateDerivedSetting overwrites a derived setting, re-checking acyclicity.
func (s *RuleService) UpdateDerivedSetting(ctx context.Context, d *domain.RatePlanDerivedSetting) (MutationResult, error) {
	if err := validateDerived(d); err != nil {
		return MutationResult{}, err
	}
	return s.applyUpdate(ctx, domain.DerivedLayer(d),
		func(tx *gorm.DB) (domain.RuleLayer, error) {
			prev, err := repo.GetDerivedSetting(ctx, tx, d.ID)
			if err != nil {
				return domain.RuleLayer{}, err
			}
			d.CreatedAt = prev.CreatedAt
			return domain.DerivedLayer(prev), nil
		},
		func(tx *gorm.DB) error {
			if err := checkAcyclic(ctx, tx, d); err != nil {
				return err
			}
			err := repo.UpdateDerivedSetting(ctx, tx, d)
			if err != nil && isDuplicate(err) {
				return fmt.Errorf("%w: rate plan %q already derives from another plan", ErrValidation, d.RatePlanID)
			}
			return err
		},
	)
}

// DeleteDerivedSetting removes a derived setting; the source plan and its
// dependents are re-materialized from their own rules.
func (s *RuleService) DeleteDerivedSetting(ctx context.Context, hotelID, id string) (MutationResult, error) {
	return s.applyDelete(ctx, hotelID,
		func(tx *gorm.DB) (domain.RuleLayer, error) {
			d, err := repo.GetDerivedSetting(ctx, tx, id)
			if err != nil {
				return domain.RuleLayer{}, err
			}
			return domain.DerivedLayer(d), nil
		},
		func(tx *gorm.DB) error { return repo.DeleteDerivedSetting(ctx, tx, id) },
	)
}

// --- rounding ---

// PutRoundingRule creates or replaces the hotel rounding rule.
func (s *RuleService) PutRoundingRule(ctx context.Context, r *domain.RoundingRule) (MutationResult, error) {
	if err := validateRounding(r); err != nil {
		return MutationResult{}, err
	}
	layer := domain.RoundingLayer(r)
	var result MutationResult
	err := s.inTx(ctx, layer.Kind, domain.OpUpdate, r.HotelID, func(tx *gorm.DB) (domain.RuleMutation, error) {
		prev, err := repo.GetRoundingRule(ctx, tx, r.HotelID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			if err := repo.CreateRoundingRule(ctx, tx, r); err != nil {
				return domain.RuleMutation{}, err
			}
			return domain.RuleMutation{Op: domain.OpCreate, Layer: layer}, nil
		case err != nil:
			return domain.RuleMutation{}, err
		}
		r.CreatedAt = prev.CreatedAt
		if err := repo.UpdateRoundingRule(ctx, tx, r); err != nil {
			return domain.RuleMutation{}, err
		}
		pl := domain.RoundingLayer(prev)
		return domain.RuleMutation{Op: domain.OpUpdate, Layer: layer, Previous: &pl}, nil
	}, &result)
	return result, err
}

// DeleteRoundingRule removes the hotel rounding rule; rates fall back to the
// currency default.
func (s *RuleService) DeleteRoundingRule(ctx context.Context, hotelID string) (MutationResult, error) {
	return s.applyDelete(ctx, hotelID,
		func(tx *gorm.DB) (domain.RuleLayer, error) {
			r, err := repo.GetRoundingRule(ctx, tx, hotelID)
			if err != nil {
				return domain.RuleLayer{}, err
			}
			return domain.RoundingLayer(r), nil
		},
		func(tx *gorm.DB) error { return repo.DeleteRoundingRule(ctx, tx, hotelID) },
	)
}

// --- transaction plumbing ---

func (s *RuleService) apply(ctx context.Context, m domain.RuleMutation, write func(tx *gorm.DB) error) (MutationResult, error) {
	var result MutationResult
	err := s.inTx(ctx, m.Layer.Kind, m.Op, m.Layer.HotelID(), func(tx *gorm.DB) (domain.RuleMutation, error) {
		return m, write(tx)
	}, &result)
	return result, err
}

func (s *RuleService) applyUpdate(ctx context.Context, layer domain.RuleLayer, load func(tx *gorm.DB) (domain.RuleLayer, error), write func(tx *gorm.DB) error) (MutationResult, error) {
	var result MutationResult
	err := s.inTx(ctx, layer.Kind, domain.OpUpdate, layer.HotelID(), func(tx *gorm.DB) (domain.RuleMutation, error) {
		prev, err := load(tx)
		if err != nil {
			return domain.RuleMutation{}, err
		}
		if prev.HotelID() != layer.HotelID() {
			return domain.RuleMutation{}, ErrNotFound
		}
		if err := write(tx); err != nil {
			return domain.RuleMutation{}, err
		}
		return domain.RuleMutation{Op: domain.OpUpdate, Layer: layer, Previous: &prev}, nil
	}, &result)
	return result, err
}

func (s *RuleService) applyDelete(ctx context.Context, hotelID string, load func(tx *gorm.DB) (domain.RuleLayer, error), del func(tx *gorm.DB) error) (MutationResult, error) {
	var result MutationResult
	err := s.inTx(ctx, "", domain.OpDelete, hotelID, func(tx *gorm.DB) (domain.RuleMutation, error) {
		existing, err := load(tx)
		if err != nil {
			return domain.RuleMutation{}, err
		}
		if existing.HotelID() != hotelID {
			return domain.RuleMutation{}, ErrNotFound
		}
		if err := del(tx); err != nil {
			return domain.RuleMutation{}, err
		}
		return domain.RuleMutation{Op: domain.OpDelete, Layer: existing}, nil
	}, &result)
	return result, err
}

// inTx runs write, change detection and dispatch in one transaction.
func (s *RuleService) inTx(ctx context.Context, kind domain.RuleKind, op domain.Operation, hotelID string, write func(tx *gorm.DB) (domain.RuleMutation, error), out *MutationResult) error {
	ctx, span := observability.Tracer("services/RuleService").Start(ctx, "Mutate",
		trace.WithAttributes(
			attribute.String("hotel.id", hotelID),
			attribute.String("rule.kind", string(kind)),
			attribute.String("rule.op", string(op)),
		),
	)
	defer span.End()

	var m domain.RuleMutation
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.GetHotel(ctx, tx, hotelID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrHotelNotFound
			}
			return err
		}
		var err error
		if m, err = write(tx); err != nil {
			return err
		}
		scope, err := s.Detector.OnRuleMutation(ctx, tx, m)
		if err != nil {
			return err
		}
		jobID, err := s.Dispatcher.DispatchTx(ctx, tx, scope)
		if err != nil {
			return err
		}
		*out = MutationResult{JobID: jobID, Scope: scope}
		return nil
	})
	if err != nil {
		err = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rule mutation rejected")
		return err
	}

	observability.RuleMutations.WithLabelValues(string(m.Layer.Kind), string(m.Op)).Inc()
	span.SetAttributes(attribute.String("job.id", out.JobID))
	log.Info().
		Str("hotel_id", hotelID).
		Str("kind", string(m.Layer.Kind)).
		Str("op", string(m.Op)).
		Str("job_id", out.JobID).
		Msg("rule mutation accepted")
	if out.JobID != "" {
		s.Dispatcher.Wake()
	}
	return nil
}

// classify maps repository errors onto service sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrHotelNotFound),
		errors.Is(err, ErrQueueUnavailable), errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, repo.ErrNotFound):
		return ErrNotFound
	}
	return err
}

// isDuplicate detects unique-constraint violations across drivers that may
// not map to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

// checkAcyclic rejects d when its edge would close a derivation cycle.
func checkAcyclic(ctx context.Context, tx *gorm.DB, d *domain.RatePlanDerivedSetting) error {
	settings, err := repo.ListDerivedSettings(ctx, tx, d.HotelID)
	if err != nil {
		return err
	}
	others := settings[:0]
	for _, st := range settings {
		if st.ID != d.ID {
			others = append(others, st)
		}
	}
	if path, cyc := pricing.NewDerivationGraph(others).WouldCycle(d.RatePlanID, d.TargetRatePlanID); cyc {
		return fmt.Errorf("%w: %s", ErrDerivationCycle, strings.Join(path, " -> "))
	}
	return nil
}
