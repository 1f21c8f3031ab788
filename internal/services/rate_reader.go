// Package services – RateReader
//
// RateReader serves materialized rates. It never composes: a date without a
// materialized row is reported as missing ("not yet priced"), never as zero.
package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/observability"
	"github.com/tbourn/go-rate-engine/internal/repo"
)

// MaxReadDays bounds the date span of a single read.
const MaxReadDays = 366

// RateRead is the answer to a rate read.
type RateRead struct {
	Rates   []domain.MaterializedRate `json:"rates"`
	Missing []time.Time               `json:"missing"`
}

// RateReader reads materialized rates.
type RateReader struct {
	DB *gorm.DB
}

// Read returns the materialized rates of (roomProductID, ratePlanID) over
// the half-open range dates, in date order, plus the dates not yet priced.
func (r *RateReader) Read(ctx context.Context, roomProductID, ratePlanID string, dates domain.DateRange) (*RateRead, error) {
	ctx, span := observability.Tracer("services/RateReader").Start(ctx, "Read",
		trace.WithAttributes(
			attribute.String("room_product.id", roomProductID),
			attribute.String("rate_plan.id", ratePlanID),
			attribute.String("from", dates.From.Format(domain.DateLayout)),
			attribute.String("to", dates.To.Format(domain.DateLayout)),
		),
	)
	defer span.End()

	if err := validateReadRange(roomProductID, ratePlanID, dates); err != nil {
		return nil, err
	}
	rows, err := repo.ListRates(ctx, r.DB, roomProductID, ratePlanID, dates.From, dates.To)
	if err != nil {
		return nil, err
	}

	out := &RateRead{Rates: rows, Missing: []time.Time{}}
	i := 0
	for _, d := range dates.Days() {
		if i < len(rows) && rows[i].Date.Equal(d) {
			i++
			continue
		}
		out.Missing = append(out.Missing, d)
	}
	span.SetAttributes(attribute.Int("rates.priced", len(rows)), attribute.Int("rates.missing", len(out.Missing)))
	return out, nil
}

// Stats returns the row count and latest update of the read window. Handlers
// derive a weak ETag from it.
func (r *RateReader) Stats(ctx context.Context, roomProductID, ratePlanID string, dates domain.DateRange) (int64, *time.Time, error) {
	if err := validateReadRange(roomProductID, ratePlanID, dates); err != nil {
		return 0, nil, err
	}
	return repo.RatesStats(ctx, r.DB, roomProductID, ratePlanID, dates.From, dates.To)
}

func validateReadRange(roomProductID, ratePlanID string, dates domain.DateRange) error {
	if roomProductID == "" || ratePlanID == "" {
		return invalid("room product and rate plan are required")
	}
	if dates.From.IsZero() || dates.OpenEnded() {
		return invalid("from and to are required")
	}
	if dates.Empty() {
		return invalid("to must be after from")
	}
	if dates.To.Sub(dates.From) > MaxReadDays*24*time.Hour {
		return invalid("range exceeds %d days", MaxReadDays)
	}
	return nil
}
