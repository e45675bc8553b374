// Package triage classifies a patient profile into an urgency tier.
//
// Matching is keyword based and case-insensitive. It is a demo heuristic and
// must not be used for real medical decisions.
package triage

import (
	"errors"
	"fmt"
	"strings"
)

// Urgency is the triage tier.
type Urgency string

const (
	Critical Urgency = "critical"
	High     Urgency = "high"
	Moderate Urgency = "moderate"
	Low      Urgency = "low"
)

// ErrUnknownUrgency is returned by ParseUrgency for values outside the enum.
var ErrUnknownUrgency = errors.New("unknown urgency level")

// Levels lists the tiers from most to least urgent.
var Levels = []Urgency{Critical, High, Moderate, Low}

// Severity orders tiers; higher is more urgent. Unknown tiers are 0.
func (u Urgency) Severity() int {
	switch u {
	case Critical:
		return 4
	case High:
		return 3
	case Moderate:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

func (u Urgency) Valid() bool {
	return u.Severity() > 0
}

func (u Urgency) String() string {
	return string(u)
}

// ParseUrgency accepts any casing and surrounding whitespace.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(strings.ToLower(strings.TrimSpace(s)))
	if !u.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownUrgency, s)
	}
	return u, nil
}

// MoreUrgent returns whichever tier is more severe; a wins ties.
func MoreUrgent(a, b Urgency) Urgency {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Recommendation is the default advice attached to each tier.
func Recommendation(u Urgency) string {
	switch u {
	case Critical:
		return "immediate emergency department visit"
	case High:
		return "urgent evaluation"
	case Low:
		return "appointment within 3-5 days"
	default:
		return "appointment within 24-48 hours"
	}
}

// Assessment is the patient profile gathered during intake.
type Assessment struct {
	Age          int    `json:"age"`
	Symptoms     string `json:"symptoms"`
	Duration     string `json:"duration"`
	RiskFactors  string `json:"risk_factors"`
	OtherContext string `json:"other_context"`
}

// text is everything a keyword may appear in, lower-cased.
func (a Assessment) text() string {
	return strings.ToLower(strings.Join([]string{a.Symptoms, a.RiskFactors, a.OtherContext}, "\n"))
}

// Decision is the outcome of evaluating the rule table.
type Decision struct {
	Urgency        Urgency  `json:"urgency_level"`
	Recommendation string   `json:"recommendation"`
	MatchedRules   []string `json:"matched_rules"`
	Matched        bool     `json:"matched"`
}
