package triage

import (
	"strings"
	"time"
)

// Engine evaluates assessments against a rule table. It is safe for
// concurrent use; the table is never mutated after construction.
type Engine struct {
	rules RuleSet
	limit []time.Duration
}

// NewEngine builds an engine. The rule set is assumed valid; durations that do
// not parse disable that rule's duration condition.
func NewEngine(rs RuleSet) *Engine {
	limit := make([]time.Duration, len(rs.Rules))
	for i, r := range rs.Rules {
		if r.MaxDuration == "" {
			continue
		}
		if d, err := time.ParseDuration(r.MaxDuration); err == nil {
			limit[i] = d
		}
	}
	return &Engine{rules: rs, limit: limit}
}

// DefaultEngine uses the built-in rule table.
func DefaultEngine() *Engine {
	return NewEngine(DefaultRuleSet())
}

// Rules returns the engine's rule table.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules.Rules))
	copy(out, e.rules.Rules)
	return out
}

// Evaluate runs every rule. The most urgent match wins; on a tie the rule
// listed first wins. Without a match the decision is moderate with the
// default advice and Matched is false.
//
// Keywords match as plain substrings, so a negated mention such as "no
// shortness of breath" still fires its rule.
func (e *Engine) Evaluate(a Assessment) Decision {
	text := a.text()

	var best *Rule
	var matched []string
	for i := range e.rules.Rules {
		rule := &e.rules.Rules[i]
		if !e.matches(i, a, text) {
			continue
		}
		matched = append(matched, rule.Name)
		if best == nil || rule.Urgency.Severity() > best.Urgency.Severity() {
			best = rule
		}
	}

	if best == nil {
		return Decision{
			Urgency:        Moderate,
			Recommendation: Recommendation(Moderate),
			MatchedRules:   []string{},
		}
	}

	return Decision{
		Urgency:        best.Urgency,
		Recommendation: best.Recommendation,
		MatchedRules:   matched,
		Matched:        true,
	}
}

func (e *Engine) matches(i int, a Assessment, text string) bool {
	rule := e.rules.Rules[i]

	if len(rule.AnyOf) > 0 && !containsAny(text, rule.AnyOf) {
		return false
	}
	for _, group := range rule.AllOf {
		if !containsAny(text, group) {
			return false
		}
	}

	if limit := e.limit[i]; limit > 0 {
		d, ok := ParseDuration(a.Duration)
		if !ok {
			d, ok = ParseDuration(a.Symptoms)
		}
		if !ok || d >= limit {
			return false
		}
	}

	if rule.NoMajorRiskFactors && e.hasMajorRiskFactor(a) {
		return false
	}
	if rule.MildOnly && !e.onlyMild(a) {
		return false
	}
	return true
}

func (e *Engine) hasMajorRiskFactor(a Assessment) bool {
	if e.rules.RiskAgeAtLeast > 0 && a.Age >= e.rules.RiskAgeAtLeast {
		return true
	}
	return containsAny(a.text(), e.rules.MajorRiskFactors)
}

// onlyMild holds when the symptoms name something mild and nothing severe.
func (e *Engine) onlyMild(a Assessment) bool {
	symptoms := strings.ToLower(a.Symptoms + "\n" + a.OtherContext)
	if containsAny(symptoms, e.rules.SevereMarkers) {
		return false
	}
	return containsAny(symptoms, e.rules.MildSymptoms)
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}
