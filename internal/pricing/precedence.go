package pricing

import (
	"sort"
	"time"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

// candidate is the precedence view of a windowed rule.
type candidate struct {
	id        string
	from, to  time.Time
	updatedAt time.Time
}

// beats reports whether a takes precedence over b: narrower window first,
// then most recently updated, then lowest id so the choice is deterministic.
func (a candidate) beats(b candidate) bool {
	wa, wb := a.to.Sub(a.from), b.to.Sub(b.from)
	if wa != wb {
		return wa < wb
	}
	if !a.updatedAt.Equal(b.updatedAt) {
		return a.updatedAt.After(b.updatedAt)
	}
	return a.id < b.id
}

// SelectFeatureRule returns the rule that prices a feature on date, or nil
// when none matches. Rules whose weekdays exclude the date never match.
func SelectFeatureRule(rules []domain.FeatureDailyRateRule, date time.Time) *domain.FeatureDailyRateRule {
	var (
		best   *domain.FeatureDailyRateRule
		bestCd candidate
	)
	for i := range rules {
		r := &rules[i]
		if !domain.FeatureRateLayer(r).Applies(date, "", "") {
			continue
		}
		c := candidate{id: r.ID, from: r.FromDate, to: r.ToDate, updatedAt: r.UpdatedAt}
		if best == nil || c.beats(bestCd) {
			best, bestCd = r, c
		}
	}
	return best
}

// MatchExtraOccupancyRules returns every extra-occupancy rule that applies
// to the triple for an extra guest 1..extraPersons, ordered by tier then id.
// Matching rules are additive: a hotel-wide rule and a room-product rule of
// the same tier both contribute.
func MatchExtraOccupancyRules(rules []domain.ExtraOccupancyAdjustmentRule, roomProductID, ratePlanID string, extraPersons int, date time.Time) []*domain.ExtraOccupancyAdjustmentRule {
	if extraPersons <= 0 {
		return nil
	}
	var out []*domain.ExtraOccupancyAdjustmentRule
	for i := range rules {
		r := &rules[i]
		if r.ExtraPersons < 1 || r.ExtraPersons > extraPersons {
			continue
		}
		if !domain.ExtraOccupancyLayer(r).Applies(date, roomProductID, ratePlanID) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExtraPersons != out[j].ExtraPersons {
			return out[i].ExtraPersons < out[j].ExtraPersons
		}
		return out[i].ID < out[j].ID
	})
	return out
}
