package domain

import (
	"testing"
	"time"
)

func TestDateRange_ContainsAndHull(t *testing.T) {
	june := InclusiveRange(MustDay("2024-06-01"), MustDay("2024-06-30"))
	firstWeek := InclusiveRange(MustDay("2024-06-01"), MustDay("2024-06-07"))
	open := DateRange{From: MustDay("2024-06-01")}

	if !june.Contains(firstWeek) || firstWeek.Contains(june) {
		t.Fatalf("bounded containment broken")
	}
	if !open.Contains(june) || june.Contains(open) {
		t.Fatalf("open-ended containment broken")
	}
	if !(DateRange{}).Contains(open) || open.Contains(DateRange{}) {
		t.Fatalf("full-stored containment broken")
	}

	h := firstWeek.Hull(InclusiveRange(MustDay("2024-06-20"), MustDay("2024-06-22")))
	if !h.From.Equal(MustDay("2024-06-01")) || !h.To.Equal(MustDay("2024-06-23")) {
		t.Fatalf("hull = %+v", h)
	}
	if !firstWeek.Hull(open).OpenEnded() {
		t.Fatalf("hull with open range must be open")
	}

	if n := len(InclusiveRange(MustDay("2024-06-01"), MustDay("2024-06-10")).Days()); n != 10 {
		t.Fatalf("expected 10 days, got %d", n)
	}
	if open.Days() != nil {
		t.Fatalf("open-ended range must not enumerate")
	}
}

func TestDay_TruncatesToUTCMidnight(t *testing.T) {
	in := time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC)
	if got := Day(in); !got.Equal(MustDay("2024-06-01")) {
		t.Fatalf("Day() = %v", got)
	}
}

func TestMaterializationScope_Contains(t *testing.T) {
	dates := InclusiveRange(MustDay("2024-06-01"), MustDay("2024-06-10"))
	a := MaterializationScope{HotelID: "h1", RoomProductIDs: []string{"rp1", "rp2", "rp3"}, AllRatePlans: true, Dates: dates}
	b := MaterializationScope{HotelID: "h1", RoomProductIDs: []string{"rp2"}, RatePlanIDs: []string{"bar"},
		Dates: InclusiveRange(MustDay("2024-06-03"), MustDay("2024-06-04"))}

	if !a.Contains(b) {
		t.Fatalf("expected a to contain b")
	}
	if b.Contains(a) {
		t.Fatalf("b must not contain a")
	}

	otherHotel := b
	otherHotel.HotelID = "h2"
	if a.Contains(otherHotel) {
		t.Fatalf("scopes of different hotels never contain each other")
	}

	partial := b
	partial.Dates = InclusiveRange(MustDay("2024-06-09"), MustDay("2024-06-12"))
	if a.Contains(partial) || partial.Contains(a) {
		t.Fatalf("partial overlap must not be containment")
	}
}

func TestMaterializationScope_NormalizeAndEmpty(t *testing.T) {
	s := MaterializationScope{
		HotelID:        "h1",
		RoomProductIDs: []string{"b", "a", "b", ""},
		AllRatePlans:   true,
		RatePlanIDs:    []string{"x"},
		Dates:          InclusiveRange(MustDay("2024-06-01"), MustDay("2024-06-01")),
	}.Normalize()
	if len(s.RoomProductIDs) != 2 || s.RoomProductIDs[0] != "a" || s.RatePlanIDs != nil {
		t.Fatalf("normalize = %+v", s)
	}
	if s.IsEmpty() {
		t.Fatalf("scope should not be empty")
	}
	s.RoomProductIDs = nil
	if !s.IsEmpty() {
		t.Fatalf("scope without room products must be empty")
	}
}
