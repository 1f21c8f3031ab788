package domain

import (
	"sort"
	"time"
)

// DateLayout is the wire format of every civil date in the pipeline.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC. All rule windows and materialized keys
// are civil dates stored as UTC midnights.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MustDay parses a YYYY-MM-DD string and panics on malformed input.
// Intended for tests and fixtures.
func MustDay(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// DateRange is a half-open interval of civil dates [From, To).
//
// A zero To means the range is open-ended toward the future. A range with both
// ends zero denotes "every date currently materialized" and is resolved by the
// worker against the store.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// InclusiveRange builds the half-open range covering from..to (both inclusive).
func InclusiveRange(from, to time.Time) DateRange {
	return DateRange{From: Day(from), To: Day(to).AddDate(0, 0, 1)}
}

// OpenEnded reports whether the range has no upper bound.
func (r DateRange) OpenEnded() bool { return r.To.IsZero() }

// FullStored reports whether the range means "the full stored date range".
func (r DateRange) FullStored() bool { return r.From.IsZero() && r.To.IsZero() }

// Empty reports whether a bounded range contains no date.
func (r DateRange) Empty() bool {
	return !r.OpenEnded() && !r.To.After(r.From)
}

// Contains reports whether every date of o is also in r.
func (r DateRange) Contains(o DateRange) bool {
	if r.FullStored() {
		return true
	}
	if o.FullStored() {
		return false
	}
	if o.From.Before(r.From) {
		return false
	}
	if r.OpenEnded() {
		return true
	}
	if o.OpenEnded() {
		return false
	}
	return !o.To.After(r.To)
}

// Hull returns the smallest range containing both r and o.
func (r DateRange) Hull(o DateRange) DateRange {
	if r.FullStored() || o.FullStored() {
		return DateRange{}
	}
	out := r
	if o.From.Before(out.From) {
		out.From = o.From
	}
	if r.OpenEnded() || o.OpenEnded() {
		out.To = time.Time{}
	} else if o.To.After(out.To) {
		out.To = o.To
	}
	return out
}

// Days lists every date of a bounded range in ascending order.
func (r DateRange) Days() []time.Time {
	if r.OpenEnded() || r.Empty() {
		return nil
	}
	var out []time.Time
	for d := Day(r.From); d.Before(r.To); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// MaterializationScope describes the (hotel, room products, rate plans, dates)
// affected by a rule change. It is a value type, built fresh per mutation.
type MaterializationScope struct {
	HotelID         string    `json:"hotel_id"`
	AllRoomProducts bool      `json:"all_room_products,omitempty"`
	RoomProductIDs  []string  `json:"room_product_ids,omitempty"`
	AllRatePlans    bool      `json:"all_rate_plans,omitempty"`
	RatePlanIDs     []string  `json:"rate_plan_ids,omitempty"`
	Dates           DateRange `json:"dates"`
}

// Normalize sorts and deduplicates the id sets and drops them when the
// corresponding "all" flag is set, so equal scopes compare equal.
func (s MaterializationScope) Normalize() MaterializationScope {
	if s.AllRoomProducts {
		s.RoomProductIDs = nil
	} else {
		s.RoomProductIDs = uniqueSorted(s.RoomProductIDs)
	}
	if s.AllRatePlans {
		s.RatePlanIDs = nil
	} else {
		s.RatePlanIDs = uniqueSorted(s.RatePlanIDs)
	}
	return s
}

// IsEmpty reports whether the scope can never produce a triple.
func (s MaterializationScope) IsEmpty() bool {
	if !s.AllRoomProducts && len(s.RoomProductIDs) == 0 {
		return true
	}
	if !s.AllRatePlans && len(s.RatePlanIDs) == 0 {
		return true
	}
	return s.Dates.Empty()
}

// Contains reports whether s fully covers o: same hotel, id-set containment
// on both axes and interval containment on dates.
func (s MaterializationScope) Contains(o MaterializationScope) bool {
	if s.HotelID != o.HotelID {
		return false
	}
	if !setContains(s.AllRoomProducts, s.RoomProductIDs, o.AllRoomProducts, o.RoomProductIDs) {
		return false
	}
	if !setContains(s.AllRatePlans, s.RatePlanIDs, o.AllRatePlans, o.RatePlanIDs) {
		return false
	}
	return s.Dates.Contains(o.Dates)
}

// IncludesRoomProduct reports whether id is inside the room-product axis.
func (s MaterializationScope) IncludesRoomProduct(id string) bool {
	return s.AllRoomProducts || contains(s.RoomProductIDs, id)
}

// IncludesRatePlan reports whether id is inside the rate-plan axis.
func (s MaterializationScope) IncludesRatePlan(id string) bool {
	return s.AllRatePlans || contains(s.RatePlanIDs, id)
}

func setContains(allA bool, a []string, allB bool, b []string) bool {
	if allA {
		return true
	}
	if allB {
		return false
	}
	for _, id := range b {
		if !contains(a, id) {
			return false
		}
	}
	return true
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func uniqueSorted(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
