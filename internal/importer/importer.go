// Package importer loads a YAML manifest of hotel catalogs and feature daily
// rates and applies it. Catalog entries are created directly; every rate
// goes through services.RuleService, so each one is validated and enqueues
// its recomputation like an API write would.
//
// Example manifest:
//
//	hotels:
//	  - id: h1
//	    name: Seaside
//	    currency: EUR
//	    features: [sea-view]
//	    rate_plans: [bar, nr]
//	    room_products:
//	      - id: dbl
//	        base_occupancy: 2
//	        default_occupancy: 2
//	        features: [sea-view]
//	        rate_plans: [bar, nr]
//	feature_rates:
//	  - hotel_id: h1
//	    feature_id: sea-view
//	    from: 2030-06-01
//	    to: 2030-08-31
//	    weekdays: [fri, sat]
//	    rate: "120.00"
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/tbourn/go-rate-engine/internal/domain"
	"github.com/tbourn/go-rate-engine/internal/pricing"
	"github.com/tbourn/go-rate-engine/internal/repo"
	"github.com/tbourn/go-rate-engine/internal/services"
	"github.com/tbourn/go-rate-engine/internal/sysutil"
	"github.com/tbourn/go-rate-engine/internal/utils"
)

// Manifest is the root of an import file.
type Manifest struct {
	Hotels       []HotelEntry       `yaml:"hotels"`
	FeatureRates []FeatureRateEntry `yaml:"feature_rates"`
}

// HotelEntry declares a hotel and its catalog. Feature and rate plan ids
// double as their codes.
type HotelEntry struct {
	ID           string             `yaml:"id"`
	Name         string             `yaml:"name"`
	Currency     string             `yaml:"currency"`
	Features     []string           `yaml:"features"`
	RatePlans    []string           `yaml:"rate_plans"`
	RoomProducts []RoomProductEntry `yaml:"room_products"`
}

// RoomProductEntry declares a room product with its features and the rate
// plans it sells.
type RoomProductEntry struct {
	ID               string   `yaml:"id"`
	BaseOccupancy    int      `yaml:"base_occupancy"`
	DefaultOccupancy int      `yaml:"default_occupancy"`
	Features         []string `yaml:"features"`
	RatePlans        []string `yaml:"rate_plans"`
}

// FeatureRateEntry is one feature daily-rate rule. Dates are inclusive.
type FeatureRateEntry struct {
	HotelID   string          `yaml:"hotel_id"`
	FeatureID string          `yaml:"feature_id"`
	From      string          `yaml:"from"`
	To        string          `yaml:"to"`
	Weekdays  []string        `yaml:"weekdays"`
	Rate      decimal.Decimal `yaml:"rate"`
}

// Report summarizes an import.
type Report struct {
	HotelsCreated int
	HotelsSkipped int
	RulesCreated  int
	// Jobs holds the distinct recomputation jobs the rules were merged into.
	Jobs []string
}

// Load reads and strictly decodes a manifest; unknown keys are rejected.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes a manifest from YAML bytes and validates it.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	for i := range m.Hotels {
		h := &m.Hotels[i]
		if h.ID == "" {
			return fmt.Errorf("hotels[%d]: id is required", i)
		}
		code, err := pricing.ParseCurrency(h.Currency)
		if err != nil {
			return fmt.Errorf("hotel %s: %w", h.ID, err)
		}
		h.Currency = code
		for _, rp := range h.RoomProducts {
			if rp.ID == "" {
				return fmt.Errorf("hotel %s: room product id is required", h.ID)
			}
		}
	}
	for i, r := range m.FeatureRates {
		if r.HotelID == "" || r.FeatureID == "" {
			return fmt.Errorf("feature_rates[%d]: hotel_id and feature_id are required", i)
		}
	}
	return nil
}

// Apply creates the catalog of hotels that do not exist yet and then
// submits every feature rate through rules. Hotels that already exist are
// left untouched. Rule errors stop the import; rules already accepted stay
// committed with their jobs.
func Apply(ctx context.Context, db *gorm.DB, rules *services.RuleService, m *Manifest) (Report, error) {
	var rep Report
	lg := log.With().Str("component", "importer").Logger()

	for _, h := range m.Hotels {
		created, err := createCatalog(ctx, db, h)
		if err != nil {
			return rep, fmt.Errorf("hotel %s: %w", h.ID, err)
		}
		if created {
			rep.HotelsCreated++
			lg.Info().Str("hotel_id", h.ID).Int("room_products", len(h.RoomProducts)).Msg("catalog created")
		} else {
			rep.HotelsSkipped++
		}
	}

	seen := map[string]bool{}
	for i, e := range m.FeatureRates {
		r, err := e.rule()
		if err != nil {
			return rep, fmt.Errorf("feature_rates[%d]: %w", i, err)
		}
		res, err := rules.CreateFeatureRate(ctx, r)
		if err != nil {
			return rep, fmt.Errorf("feature_rates[%d]: %w", i, err)
		}
		rep.RulesCreated++
		if res.JobID != "" && !seen[res.JobID] {
			seen[res.JobID] = true
			rep.Jobs = append(rep.Jobs, res.JobID)
		}
	}
	lg.Info().
		Int("rules", rep.RulesCreated).
		Int("jobs", len(rep.Jobs)).
		Msg("import applied")
	return rep, nil
}

func (e FeatureRateEntry) rule() (*domain.FeatureDailyRateRule, error) {
	from, err := utils.ParseDate(e.From)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	to, err := utils.ParseDate(e.To)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	days := domain.AllWeekdays
	if len(e.Weekdays) > 0 {
		var ok bool
		if days, ok = domain.ParseWeekdays(e.Weekdays); !ok {
			return nil, fmt.Errorf("unknown weekday in %v", e.Weekdays)
		}
	}
	return &domain.FeatureDailyRateRule{
		HotelID:   e.HotelID,
		FeatureID: e.FeatureID,
		Weekdays:  days,
		FromDate:  from,
		ToDate:    to,
		Rate:      e.Rate,
	}, nil
}

// createCatalog inserts a hotel with its catalog in one transaction. It
// reports false when the hotel already exists.
func createCatalog(ctx context.Context, db *gorm.DB, h HotelEntry) (bool, error) {
	if _, err := repo.GetHotel(ctx, db, h.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return false, err
	}

	name := sysutil.FirstNonEmpty(h.Name, h.ID)
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateHotel(ctx, tx, &domain.Hotel{ID: h.ID, Name: name, Currency: h.Currency}); err != nil {
			return err
		}
		for _, f := range h.Features {
			if err := repo.CreateFeature(ctx, tx, &domain.Feature{ID: f, HotelID: h.ID, Code: f}); err != nil {
				return err
			}
		}
		for _, p := range h.RatePlans {
			if err := repo.CreateRatePlan(ctx, tx, &domain.RatePlan{ID: p, HotelID: h.ID, Code: p}); err != nil {
				return err
			}
		}
		for _, rp := range h.RoomProducts {
			p := &domain.RoomProduct{
				ID: rp.ID, HotelID: h.ID, Code: rp.ID,
				BaseOccupancy: rp.BaseOccupancy, DefaultOccupancy: rp.DefaultOccupancy,
			}
			if p.BaseOccupancy == 0 {
				p.BaseOccupancy = 2
			}
			if p.DefaultOccupancy == 0 {
				p.DefaultOccupancy = p.BaseOccupancy
			}
			if err := repo.CreateRoomProduct(ctx, tx, p); err != nil {
				return err
			}
			for _, f := range rp.Features {
				if err := repo.AttachFeature(ctx, tx, rp.ID, f); err != nil {
					return err
				}
			}
			for _, plan := range rp.RatePlans {
				if err := repo.SellRatePlan(ctx, tx, rp.ID, plan); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return err == nil, err
}
