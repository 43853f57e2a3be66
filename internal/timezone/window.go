// Package timezone computes whether "now" in a lead's country falls inside
// the safe-to-send messaging window. Pure functions only; the follow-up
// scheduler owns all persistence and side effects.
package timezone

import (
	"strings"
	"time"
)

// WeekendRule distinguishes the two weekend conventions we serve.
type WeekendRule int

const (
	WeekendSaturdaySunday WeekendRule = iota
	WeekendFridaySaturday
)

// WindowStatus is the verdict for one (country, instant) pair.
type WindowStatus struct {
	CanSend   bool
	WaitHours float64
	LocalTime time.Time
	Reason    string // "ok", "weekend", "before_window", "after_window"
}

// countryZones maps ISO country codes (and a few common names) to a
// representative IANA zone. Leads rarely carry more precision than a country.
var countryZones = map[string]string{
	"TR": "Europe/Istanbul",
	"DE": "Europe/Berlin",
	"AT": "Europe/Vienna",
	"CH": "Europe/Zurich",
	"NL": "Europe/Amsterdam",
	"BE": "Europe/Brussels",
	"FR": "Europe/Paris",
	"GB": "Europe/London",
	"UK": "Europe/London",
	"IE": "Europe/Dublin",
	"ES": "Europe/Madrid",
	"IT": "Europe/Rome",
	"PL": "Europe/Warsaw",
	"RO": "Europe/Bucharest",
	"GR": "Europe/Athens",
	"RU": "Europe/Moscow",
	"UA": "Europe/Kyiv",
	"US": "America/New_York",
	"CA": "America/Toronto",
	"MX": "America/Mexico_City",
	"BR": "America/Sao_Paulo",
	"AR": "America/Argentina/Buenos_Aires",
	"SA": "Asia/Riyadh",
	"AE": "Asia/Dubai",
	"KW": "Asia/Kuwait",
	"QA": "Asia/Qatar",
	"BH": "Asia/Bahrain",
	"OM": "Asia/Muscat",
	"JO": "Asia/Amman",
	"IQ": "Asia/Baghdad",
	"EG": "Africa/Cairo",
	"MA": "Africa/Casablanca",
	"DZ": "Africa/Algiers",
	"TN": "Africa/Tunis",
	"LY": "Africa/Tripoli",
	"IL": "Asia/Jerusalem",
	"IN": "Asia/Kolkata",
	"PK": "Asia/Karachi",
	"ID": "Asia/Jakarta",
	"AU": "Australia/Sydney",
	"NZ": "Pacific/Auckland",
	"JP": "Asia/Tokyo",
	"KR": "Asia/Seoul",
	"CN": "Asia/Shanghai",
}

// fridaySaturdayCountries observe a Friday/Saturday weekend.
var fridaySaturdayCountries = map[string]bool{
	"SA": true,
	"AE": true,
	"KW": true,
	"QA": true,
	"BH": true,
	"OM": true,
	"JO": true,
	"IQ": true,
	"EG": true,
	"LY": true,
	"YE": true,
}

// LocationFor resolves a country code to its representative zone.
// Unknown countries fall back to Istanbul, the clinic's home zone.
func LocationFor(country string) *time.Location {
	code := normalizeCountry(country)
	zone, ok := countryZones[code]
	if !ok {
		zone = "Europe/Istanbul"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WeekendFor returns the weekend convention for a country.
func WeekendFor(country string) WeekendRule {
	if fridaySaturdayCountries[normalizeCountry(country)] {
		return WeekendFridaySaturday
	}
	return WeekendSaturdaySunday
}

// MessagingWindowStatus reports whether a message may be sent right now in
// the lead's local time, and if not, how many hours to wait. The weekend
// push is a single-day rollover to the next day's start hour; a later sweep
// re-evaluates from there, so consecutive weekend days resolve themselves.
func MessagingWindowStatus(country string, now time.Time, startHour, endHour int) WindowStatus {
	local := now.In(LocationFor(country))
	rule := WeekendFor(country)

	if isWeekendDay(local.Weekday(), rule) {
		next := nextDayAt(local, startHour)
		return WindowStatus{
			CanSend:   false,
			WaitHours: hoursUntil(local, next),
			LocalTime: local,
			Reason:    "weekend",
		}
	}

	hour := local.Hour()
	switch {
	case hour < startHour:
		target := time.Date(local.Year(), local.Month(), local.Day(), startHour, 0, 0, 0, local.Location())
		return WindowStatus{
			CanSend:   false,
			WaitHours: hoursUntil(local, target),
			LocalTime: local,
			Reason:    "before_window",
		}
	case hour >= endHour:
		target := nextDayAt(local, startHour)
		// Rolling past midnight can land on a weekend day.
		if isWeekendDay(target.Weekday(), rule) {
			target = target.Add(24 * time.Hour)
		}
		return WindowStatus{
			CanSend:   false,
			WaitHours: hoursUntil(local, target),
			LocalTime: local,
			Reason:    "after_window",
		}
	default:
		return WindowStatus{
			CanSend:   true,
			LocalTime: local,
			Reason:    "ok",
		}
	}
}

func isWeekendDay(day time.Weekday, rule WeekendRule) bool {
	if rule == WeekendFridaySaturday {
		return day == time.Friday || day == time.Saturday
	}
	return day == time.Saturday || day == time.Sunday
}

func nextDayAt(local time.Time, hour int) time.Time {
	next := local.Add(24 * time.Hour)
	return time.Date(next.Year(), next.Month(), next.Day(), hour, 0, 0, 0, local.Location())
}

func hoursUntil(from, to time.Time) float64 {
	return to.Sub(from).Hours()
}

func normalizeCountry(country string) string {
	code := strings.ToUpper(strings.TrimSpace(country))
	switch code {
	case "TURKEY", "TÜRKIYE", "TURKIYE":
		return "TR"
	case "GERMANY", "DEUTSCHLAND":
		return "DE"
	case "UNITED STATES", "USA":
		return "US"
	case "UNITED KINGDOM", "ENGLAND":
		return "GB"
	case "SAUDI ARABIA":
		return "SA"
	case "UNITED ARAB EMIRATES", "UAE":
		return "AE"
	case "NETHERLANDS", "HOLLAND":
		return "NL"
	}
	return code
}
