// Rule HTTP handlers.
//
// Endpoints (all under /hotels/{hotel_id}):
//   - POST|PUT|DELETE /feature-rates[/{id}]
//   - POST|PUT|DELETE /extra-occupancy[/{id}]
//   - POST|PUT|DELETE /derived-settings[/{id}]
//   - PUT|DELETE      /rounding
//
// A successful mutation answers with the rule and the recomputation job it
// enqueued. Deletes answer 202 with the job, or 204 when nothing needed
// recomputing.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/services"
	"github.com/tbourn/go-rate-engine/internal/utils"
)

// MutationResponse is the body of an accepted rule write.
type MutationResponse struct {
	Rule any `json:"rule,omitempty"`
	services.MutationResult
}

// FeatureRateRequest is the payload of a feature daily-rate rule. Dates are
// YYYY-MM-DD and inclusive; empty weekdays means every day.
type FeatureRateRequest struct {
	FeatureID string          `json:"feature_id" binding:"required"`
	Weekdays  []string        `json:"weekdays"`
	FromDate  string          `json:"from_date" binding:"required"`
	ToDate    string          `json:"to_date" binding:"required"`
	Rate      decimal.Decimal `json:"rate"`
}

// ExtraOccupancyRequest is the payload of an extra-occupancy rule. Omitted
// room_product_id or rate_plan_id widen the rule to the whole hotel.
type ExtraOccupancyRequest struct {
	RoomProductID *string         `json:"room_product_id"`
	RatePlanID    *string         `json:"rate_plan_id"`
	ExtraPersons  int             `json:"extra_persons"`
	ExtraRate     decimal.Decimal `json:"extra_rate"`
	Weekdays      []string        `json:"weekdays"`
	FromDate      string          `json:"from_date" binding:"required"`
	ToDate        string          `json:"to_date" binding:"required"`
}

// DerivedSettingRequest is the payload of a derived rate-plan setting. The
// multiplier defaults to 1 and the delta to 0; the optional dates bound the
// setting's validity.
type DerivedSettingRequest struct {
	RatePlanID       string           `json:"rate_plan_id" binding:"required"`
	TargetRatePlanID string           `json:"target_rate_plan_id" binding:"required"`
	Multiplier       *decimal.Decimal `json:"multiplier"`
	Delta            decimal.Decimal  `json:"delta"`
	FromDate         string           `json:"from_date"`
	ToDate           string           `json:"to_date"`
}

// RoundingRequest is the payload of the hotel rounding rule.
type RoundingRequest struct {
	DecimalUnits int                 `json:"decimal_units"`
	Mode         domain.RoundingMode `json:"mode" binding:"required"`
}

func parseWeekdays(names []string) (domain.WeekdaySet, error) {
	if len(names) == 0 {
		return domain.AllWeekdays, nil
	}
	s, ok := domain.ParseWeekdays(names)
	if !ok {
		return 0, fmt.Errorf("weekdays must be day names such as mon or tuesday")
	}
	return s, nil
}

func parseWindow(from, to string) (time.Time, time.Time, error) {
	f, err := utils.ParseDate(from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from_date: %w", err)
	}
	t, err := utils.ParseDate(to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to_date: %w", err)
	}
	return f, t, nil
}

func optionalDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := utils.ParseDate(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return &t, nil
}

func (req FeatureRateRequest) rule(hotelID, id string) (*domain.FeatureDailyRateRule, error) {
	days, err := parseWeekdays(req.Weekdays)
	if err != nil {
		return nil, err
	}
	from, to, err := parseWindow(req.FromDate, req.ToDate)
	if err != nil {
		return nil, err
	}
	return &domain.FeatureDailyRateRule{
		ID: id, HotelID: hotelID, FeatureID: req.FeatureID,
		Weekdays: days, FromDate: from, ToDate: to, Rate: req.Rate,
	}, nil
}

func (req ExtraOccupancyRequest) rule(hotelID, id string) (*domain.ExtraOccupancyAdjustmentRule, error) {
	days, err := parseWeekdays(req.Weekdays)
	if err != nil {
		return nil, err
	}
	from, to, err := parseWindow(req.FromDate, req.ToDate)
	if err != nil {
		return nil, err
	}
	return &domain.ExtraOccupancyAdjustmentRule{
		ID: id, HotelID: hotelID,
		RoomProductID: req.RoomProductID, RatePlanID: req.RatePlanID,
		ExtraPersons: req.ExtraPersons, ExtraRate: req.ExtraRate,
		Weekdays: days, FromDate: from, ToDate: to,
	}, nil
}

func (req DerivedSettingRequest) setting(hotelID, id string) (*domain.RatePlanDerivedSetting, error) {
	from, err := optionalDate("from_date", req.FromDate)
	if err != nil {
		return nil, err
	}
	to, err := optionalDate("to_date", req.ToDate)
	if err != nil {
		return nil, err
	}
	mult := decimal.NewFromInt(1)
	if req.Multiplier != nil {
		mult = *req.Multiplier
	}
	return &domain.RatePlanDerivedSetting{
		ID: id, HotelID: hotelID,
		RatePlanID: req.RatePlanID, TargetRatePlanID: req.TargetRatePlanID,
		Multiplier: mult, Delta: req.Delta, FromDate: from, ToDate: to,
	}, nil
}

// bindRule decodes the JSON body into req and converts it with build. It
// writes the 400 itself and reports false on failure.
func bindRule[Req any, Rule any](c *gin.Context, build func(Req) (Rule, error)) (Rule, bool) {
	var req Req
	var zero Rule
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: "+err.Error())
		return zero, false
	}
	r, err := build(req)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return zero, false
	}
	return r, true
}

func respondMutation(c *gin.Context, status int, rule any, res services.MutationResult, err error) {
	if err != nil {
		writeServiceError(c, err)
		return
	}
	ok(c, status, MutationResponse{Rule: rule, MutationResult: res})
}

func respondDelete(c *gin.Context, res services.MutationResult, err error) {
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if res.JobID == "" {
		noContent(c)
		return
	}
	ok(c, http.StatusAccepted, MutationResponse{MutationResult: res})
}

// --- feature daily rates ---

// CreateFeatureRate handles POST /hotels/{hotel_id}/feature-rates.
func (h *Handlers) CreateFeatureRate(c *gin.Context) {
	hotelID := c.Param("hotel_id")
	r, okBind := bindRule(c, func(req FeatureRateRequest) (*domain.FeatureDailyRateRule, error) {
		return req.rule(hotelID, "")
	})
	if !okBind {
		return
	}
	res, err := h.rules.CreateFeatureRate(c.Request.Context(), r)
	respondMutation(c, http.StatusCreated, r, res, err)
}

// UpdateFeatureRate handles PUT /hotels/{hotel_id}/feature-rates/{id}.
func (h *Handlers) UpdateFeatureRate(c *gin.Context) {
	hotelID, id := c.Param("hotel_id"), c.Param("id")
	r, okBind := bindRule(c, func(req FeatureRateRequest) (*domain.FeatureDailyRateRule, error) {
		return req.rule(hotelID, id)
	})
	if !okBind {
		return
	}
	res, err := h.rules.UpdateFeatureRate(c.Request.Context(), r)
	respondMutation(c, http.StatusOK, r, res, err)
}

// DeleteFeatureRate handles DELETE /hotels/{hotel_id}/feature-rates/{id}.
func (h *Handlers) DeleteFeatureRate(c *gin.Context) {
	res, err := h.rules.DeleteFeatureRate(c.Request.Context(), c.Param("hotel_id"), c.Param("id"))
	respondDelete(c, res, err)
}

// --- extra occupancy ---

// CreateExtraOccupancy handles POST /hotels/{hotel_id}/extra-occupancy.
func (h *Handlers) CreateExtraOccupancy(c *gin.Context) {
	hotelID := c.Param("hotel_id")
	r, okBind := bindRule(c, func(req ExtraOccupancyRequest) (*domain.ExtraOccupancyAdjustmentRule, error) {
		return req.rule(hotelID, "")
	})
	if !okBind {
		return
	}
	res, err := h.rules.CreateExtraOccupancy(c.Request.Context(), r)
	respondMutation(c, http.StatusCreated, r, res, err)
}

// UpdateExtraOccupancy handles PUT /hotels/{hotel_id}/extra-occupancy/{id}.
func (h *Handlers) UpdateExtraOccupancy(c *gin.Context) {
	hotelID, id := c.Param("hotel_id"), c.Param("id")
	r, okBind := bindRule(c, func(req ExtraOccupancyRequest) (*domain.ExtraOccupancyAdjustmentRule, error) {
		return req.rule(hotelID, id)
	})
	if !okBind {
		return
	}
	res, err := h.rules.UpdateExtraOccupancy(c.Request.Context(), r)
	respondMutation(c, http.StatusOK, r, res, err)
}

// DeleteExtraOccupancy handles DELETE /hotels/{hotel_id}/extra-occupancy/{id}.
func (h *Handlers) DeleteExtraOccupancy(c *gin.Context) {
	res, err := h.rules.DeleteExtraOccupancy(c.Request.Context(), c.Param("hotel_id"), c.Param("id"))
	respondDelete(c, res, err)
}

// --- derived settings ---

// CreateDerivedSetting handles POST /hotels/{hotel_id}/derived-settings.
func (h *Handlers) CreateDerivedSetting(c *gin.Context) {
	hotelID := c.Param("hotel_id")
	d, okBind := bindRule(c, func(req DerivedSettingRequest) (*domain.RatePlanDerivedSetting, error) {
		return req.setting(hotelID, "")
	})
	if !okBind {
		return
	}
	res, err := h.rules.CreateDerivedSetting(c.Request.Context(), d)
	respondMutation(c, http.StatusCreated, d, res, err)
}

// UpdateDerivedSetting handles PUT /hotels/{hotel_id}/derived-settings/{id}.
func (h *Handlers) UpdateDerivedSetting(c *gin.Context) {
	hotelID, id := c.Param("hotel_id"), c.Param("id")
	d, okBind := bindRule(c, func(req DerivedSettingRequest) (*domain.RatePlanDerivedSetting, error) {
		return req.setting(hotelID, id)
	})
	if !okBind {
		return
	}
	res, err := h.rules.UpdateDerivedSetting(c.Request.Context(), d)
	respondMutation(c, http.StatusOK, d, res, err)
}

// DeleteDerivedSetting handles DELETE /hotels/{hotel_id}/derived-settings/{id}.
func (h *Handlers) DeleteDerivedSetting(c *gin.Context) {
	res, err := h.rules.DeleteDerivedSetting(c.Request.Context(), c.Param("hotel_id"), c.Param("id"))
	respondDelete(c, res, err)
}

// --- rounding ---

// PutRoundingRule handles PUT /hotels/{hotel_id}/rounding.
func (h *Handlers) PutRoundingRule(c *gin.Context) {
	hotelID := c.Param("hotel_id")
	r, okBind := bindRule(c, func(req RoundingRequest) (*domain.RoundingRule, error) {
		return &domain.RoundingRule{HotelID: hotelID, DecimalUnits: req.DecimalUnits, Mode: req.Mode}, nil
	})
	if !okBind {
		return
	}
	res, err := h.rules.PutRoundingRule(c.Request.Context(), r)
	respondMutation(c, http.StatusOK, r, res, err)
}

// DeleteRoundingRule handles DELETE /hotels/{hotel_id}/rounding.
func (h *Handlers) DeleteRoundingRule(c *gin.Context) {
	res, err := h.rules.DeleteRoundingRule(c.Request.Context(), c.Param("hotel_id"))
	respondDelete(c, res, err)
}
