package timezone

import (
	"math"
	"testing"
	"time"
)

func localTime(t *testing.T, country string, year int, month time.Month, day, hour, min int) time.Time {
	t.Helper()
	return time.Date(year, month, day, hour, min, 0, 0, LocationFor(country))
}

func TestSaudiFridayBlocksUntilSaturdayMorning(t *testing.T) {
	// 2024-06-14 is a Friday.
	now := localTime(t, "SA", 2024, time.June, 14, 14, 0)

	status := MessagingWindowStatus("SA", now, 9, 21)
	if status.CanSend {
		t.Fatal("Friday afternoon in SA should not be sendable")
	}
	if status.Reason != "weekend" {
		t.Errorf("expected reason weekend, got %q", status.Reason)
	}
	// Friday 14:00 to Saturday 09:00 is 19 hours.
	if math.Abs(status.WaitHours-19) > 0.01 {
		t.Errorf("expected 19h wait, got %.2f", status.WaitHours)
	}
}

func TestUSTuesdayAfternoonIsSendable(t *testing.T) {
	// 2024-06-11 is a Tuesday.
	now := localTime(t, "US", 2024, time.June, 11, 15, 0)

	status := MessagingWindowStatus("US", now, 9, 21)
	if !status.CanSend {
		t.Fatalf("Tuesday 15:00 in US should be sendable, got reason %q wait %.2f", status.Reason, status.WaitHours)
	}
}

func TestEarlyMorningWaitsForStartHour(t *testing.T) {
	// 2024-06-12 is a Wednesday.
	now := localTime(t, "DE", 2024, time.June, 12, 6, 30)

	status := MessagingWindowStatus("DE", now, 9, 21)
	if status.CanSend {
		t.Fatal("06:30 should be before the window")
	}
	if status.Reason != "before_window" {
		t.Errorf("expected reason before_window, got %q", status.Reason)
	}
	if math.Abs(status.WaitHours-2.5) > 0.01 {
		t.Errorf("expected 2.5h wait, got %.2f", status.WaitHours)
	}
}

func TestAfterHoursRollsToNextMorning(t *testing.T) {
	// 2024-06-12 is a Wednesday; 22:00 rolls to Thursday 09:00.
	now := localTime(t, "TR", 2024, time.June, 12, 22, 0)

	status := MessagingWindowStatus("TR", now, 9, 21)
	if status.CanSend {
		t.Fatal("22:00 should be after the window")
	}
	if status.Reason != "after_window" {
		t.Errorf("expected reason after_window, got %q", status.Reason)
	}
	if math.Abs(status.WaitHours-11) > 0.01 {
		t.Errorf("expected 11h wait, got %.2f", status.WaitHours)
	}
}

func TestAfterHoursRolloverSkipsWeekendDay(t *testing.T) {
	// 2024-06-14 is a Friday in Germany; 22:00 would roll to Saturday,
	// which is a weekend day, so the push lands on Sunday 09:00.
	now := localTime(t, "DE", 2024, time.June, 14, 22, 0)

	status := MessagingWindowStatus("DE", now, 9, 21)
	if status.CanSend {
		t.Fatal("Friday 22:00 should be after the window")
	}
	if math.Abs(status.WaitHours-35) > 0.01 {
		t.Errorf("expected 35h wait, got %.2f", status.WaitHours)
	}
}

func TestWeekendRuleByCountry(t *testing.T) {
	if WeekendFor("SA") != WeekendFridaySaturday {
		t.Error("SA should observe a Friday/Saturday weekend")
	}
	if WeekendFor("US") != WeekendSaturdaySunday {
		t.Error("US should observe a Saturday/Sunday weekend")
	}
	if WeekendFor("Saudi Arabia") != WeekendFridaySaturday {
		t.Error("country names should normalize to codes")
	}
}

func TestUnknownCountryFallsBackToIstanbul(t *testing.T) {
	loc := LocationFor("ZZ")
	if loc.String() != "Europe/Istanbul" {
		t.Errorf("expected Europe/Istanbul fallback, got %s", loc)
	}
}
