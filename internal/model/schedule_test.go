package model

import (
	"testing"
	"time"
)

func TestShouldBeOn(t *testing.T) {
	sched := Schedule{
		Enabled:  true,
		OnTime:   "22:00",
		OffTime:  "06:00",
		DaysMask: BitMonday | BitTuesday | BitWednesday | BitThursday | BitFriday,
	}

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"Mon 23:00 inside wrap window", time.Date(2026, 7, 27, 23, 0, 0, 0, time.UTC), true},
		{"Tue 05:00 inside wrap window (carried from Monday)", time.Date(2026, 7, 28, 5, 0, 0, 0, time.UTC), true},
		{"Sat 23:00 day not in mask", time.Date(2026, 8, 1, 23, 0, 0, 0, time.UTC), false},
		{"Mon 06:00 exactly at off boundary", time.Date(2026, 7, 27, 6, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sched.ShouldBeOn(tc.at); got != tc.want {
				t.Errorf("ShouldBeOn(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestShouldBeOn_NonWrappingWindow(t *testing.T) {
	sched := Schedule{
		Enabled:  true,
		OnTime:   "08:00",
		OffTime:  "17:00",
		DaysMask: BitTuesday,
	}
	tue9 := time.Date(2026, 7, 28, 9, 0, 0, 0, time.UTC)
	tue1705 := time.Date(2026, 7, 28, 17, 5, 0, 0, time.UTC)
	if !sched.ShouldBeOn(tue9) {
		t.Fatal("expected ON at Tuesday 09:00")
	}
	if sched.ShouldBeOn(tue1705) {
		t.Fatal("expected OFF at Tuesday 17:05")
	}
}

func TestShouldBeOn_Disabled(t *testing.T) {
	sched := Schedule{Enabled: false, OnTime: "00:00", OffTime: "23:59", DaysMask: 0xFF}
	if sched.ShouldBeOn(time.Now()) {
		t.Fatal("disabled schedule must never be ON")
	}
}
