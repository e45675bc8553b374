package triage

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

var durationPattern = regexp.MustCompile(`\b(\d+(?:\.\d+)?|a couple of|couple of|a few|few|several|an?|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\s*(minutes?|mins?|hours?|hrs?|h|days?|weeks?|wks?|months?|years?)\b`)

var halfPattern = regexp.MustCompile(`\bhalf (?:an?|a) (hour|day)\b`)

var countWords = map[string]float64{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11,
	"twelve": 12, "a couple of": 2, "couple of": 2, "a few": 3, "few": 3,
	"several": 4,
}

// Phrases checked in order; longer phrases first so "day before yesterday"
// is not read as "yesterday".
var relativePhrases = []struct {
	phrase string
	d      time.Duration
}{
	{"day before yesterday", 2 * day},
	{"since yesterday", day},
	{"yesterday", day},
	{"last night", 12 * time.Hour},
	{"overnight", 12 * time.Hour},
	{"this morning", 6 * time.Hour},
	{"this afternoon", 3 * time.Hour},
	{"tonight", 2 * time.Hour},
	{"today", 6 * time.Hour},
	{"just now", 0},
}

// ParseDuration reads a free-text symptom duration such as "2 days",
// "48 hours", "since yesterday" or "a couple of weeks". The first quantity
// found wins. It reports false when nothing recognisable is present.
func ParseDuration(text string) (time.Duration, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, false
	}

	if m := halfPattern.FindStringSubmatch(s); m != nil {
		return unitDuration(m[1]) / 2, true
	}

	if m := durationPattern.FindStringSubmatch(s); m != nil {
		n, ok := countWords[m[1]]
		if !ok {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return 0, false
			}
			n = v
		}
		return scaled(n, unitDuration(m[2])), true
	}

	for _, p := range relativePhrases {
		if strings.Contains(s, p.phrase) {
			return p.d, true
		}
	}
	return 0, false
}

// scaled multiplies without wrapping: spans past time.Duration's range
// (about 292 years) saturate at the maximum.
func scaled(n float64, unit time.Duration) time.Duration {
	v := n * float64(unit)
	if v >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(v)
}

func unitDuration(unit string) time.Duration {
	switch {
	case strings.HasPrefix(unit, "min"):
		return time.Minute
	case strings.HasPrefix(unit, "h"):
		return time.Hour
	case strings.HasPrefix(unit, "day"):
		return day
	case strings.HasPrefix(unit, "w"):
		return 7 * day
	case strings.HasPrefix(unit, "month"):
		return 30 * day
	case strings.HasPrefix(unit, "year"):
		return 365 * day
	default:
		return 0
	}
}
