package triage

import (
	"math"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input  string
		want   time.Duration
		wantOK bool
	}{
		{"2 days", 48 * time.Hour, true},
		{"48 hours", 48 * time.Hour, true},
		{"3h", 3 * time.Hour, true},
		{"about 1.5 days", 36 * time.Hour, true},
		{"a week", 7 * 24 * time.Hour, true},
		{"two weeks", 14 * 24 * time.Hour, true},
		{"a couple of days", 48 * time.Hour, true},
		{"a few hours", 3 * time.Hour, true},
		{"several days", 4 * 24 * time.Hour, true},
		{"half an hour", 30 * time.Minute, true},
		{"half a day", 12 * time.Hour, true},
		{"20 minutes", 20 * time.Minute, true},
		{"Since yesterday", 24 * time.Hour, true},
		{"since the day before yesterday", 48 * time.Hour, true},
		{"started last night", 12 * time.Hour, true},
		{"this morning", 6 * time.Hour, true},
		{"3 months", 90 * 24 * time.Hour, true},
		{"300 years", time.Duration(math.MaxInt64), true},
		{"99999999999 years", time.Duration(math.MaxInt64), true},
		{"", 0, false},
		{"not sure", 0, false},
		{"a while", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseDuration(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseDuration(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
