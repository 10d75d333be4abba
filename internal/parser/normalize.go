package parser

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// A parsed year more than this many years in the future is assumed to be in
// the previous century. Example with pivot=20 in 2026: "47" → 1947, "25" → 2025.
var TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling.
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006", "January 2, 2006",
		"20060102",
	}
)

// ParseCompletionDate parses the completed-date text from an export row.
// Returns ok=false when the text is blank or matches no known layout; the
// raw text still travels with the item so nothing is lost.
func ParseCompletionDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	// 4-digit year layouts first, they are unambiguous.
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	currentYear := time.Now().Year()
	pivotYear := currentYear + TwoDigitYearPivot

	for _, layout := range twoDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		// Go maps 2-digit years to 1969-2068; apply the pivot on top.
		if t.Year() > pivotYear {
			t = t.AddDate(-100, 0, 0)
		}
		return t, true
	}

	return time.Time{}, false
}

// ParsePlaytime parses a playtime-hours cell. Accepts plain numbers
// ("12", "12.5"), an "h" suffix ("12h", "12.5 h", "12 hrs"), and
// "XXhYYm" style text ("12h30m"). Returns ok=false for anything else.
func ParsePlaytime(s string) (float64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}

	if v, err := strconv.ParseFloat(s, 64); err == nil && v >= 0 {
		return v, true
	}

	// "12h30m"
	if h, m, ok := splitHoursMinutes(s); ok {
		return h + m/60, true
	}

	// "12h", "12 hours", "12 hrs"
	for _, suffix := range []string{"hours", "hrs", "hr", "h"} {
		if rest, found := strings.CutSuffix(s, suffix); found {
			rest = strings.TrimSpace(rest)
			if v, err := strconv.ParseFloat(rest, 64); err == nil && v >= 0 {
				return v, true
			}
		}
	}

	return 0, false
}

func splitHoursMinutes(s string) (hours, minutes float64, ok bool) {
	hPart, rest, found := strings.Cut(s, "h")
	if !found {
		return 0, 0, false
	}
	mPart, hadSuffix := strings.CutSuffix(strings.TrimSpace(rest), "m")
	if !hadSuffix {
		return 0, 0, false
	}

	h, err := strconv.ParseFloat(strings.TrimSpace(hPart), 64)
	if err != nil || h < 0 {
		return 0, 0, false
	}
	m, err := strconv.ParseFloat(strings.TrimSpace(mPart), 64)
	if err != nil || m < 0 || m >= 60 {
		return 0, 0, false
	}
	return h, m, true
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with the replacement
// character so downstream text handling never sees broken bytes.
// Valid input is returned unchanged without allocation.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	out := make([]byte, 0, len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			out = utf8.AppendRune(out, utf8.RuneError)
			data = data[1:]
			continue
		}
		out = append(out, data[:size]...)
		data = data[size:]
	}
	return out
}
