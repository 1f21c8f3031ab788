package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/services"
	"github.com/tbourn/go-rate-engine/internal/utils"
)

// RuleMutator is the write path for pricing rules. Every call persists the
// rule and enqueues its recomputation atomically.
type RuleMutator interface {
	CreateFeatureRate(ctx context.Context, r *domain.FeatureDailyRateRule) (services.MutationResult, error)
	UpdateFeatureRate(ctx context.Context, r *domain.FeatureDailyRateRule) (services.MutationResult, error)
	DeleteFeatureRate(ctx context.Context, hotelID, id string) (services.MutationResult, error)

	CreateExtraOccupancy(ctx context.Context, r *domain.ExtraOccupancyAdjustmentRule) (services.MutationResult, error)
	UpdateExtraOccupancy(ctx context.Context, r *domain.ExtraOccupancyAdjustmentRule) (services.MutationResult, error)
	DeleteExtraOccupancy(ctx context.Context, hotelID, id string) (services.MutationResult, error)

	CreateDerivedSetting(ctx context.Context, d *domain.RatePlanDerivedSetting) (services.MutationResult, error)
	UpdateDerivedSetting(ctx context.Context, d *domain.RatePlanDerivedSetting) (services.MutationResult, error)
	DeleteDerivedSetting(ctx context.Context, hotelID, id string) (services.MutationResult, error)

	PutRoundingRule(ctx context.Context, r *domain.RoundingRule) (services.MutationResult, error)
	DeleteRoundingRule(ctx context.Context, hotelID string) (services.MutationResult, error)
}

// RateReads serves materialized rates.
type RateReads interface {
	Read(ctx context.Context, roomProductID, ratePlanID string, dates domain.DateRange) (*services.RateRead, error)
	// Stats returns the row count and latest update of a read window.
	Stats(ctx context.Context, roomProductID, ratePlanID string, dates domain.DateRange) (int64, *time.Time, error)
}

// JobQueue is the operator view of the recomputation queue.
type JobQueue interface {
	Get(ctx context.Context, id string) (*domain.RecomputationJob, error)
	ListPage(ctx context.Context, hotelID string, status domain.JobStatus, page, pageSize int) ([]domain.RecomputationJob, int64, error)
	Requeue(ctx context.Context, id string) (*domain.RecomputationJob, error)
}

// Handlers groups the API endpoints.
type Handlers struct {
	rules RuleMutator
	rates RateReads
	jobs  JobQueue
}

// New constructs Handlers bound to the given services.
func New(rules RuleMutator, rates RateReads, jobs JobQueue) *Handlers {
	return &Handlers{rules: rules, rates: rates, jobs: jobs}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses page and page_size, bounding them to sane limits.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}
