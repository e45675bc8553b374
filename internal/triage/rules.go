package triage

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Rule is one row of the triage table. A rule matches when every condition
// it sets holds.
type Rule struct {
	Name string `yaml:"name"`

	// AnyOf matches when at least one keyword is present.
	AnyOf []string `yaml:"any_of,omitempty"`

	// AllOf matches when every group has at least one keyword present.
	AllOf [][]string `yaml:"all_of,omitempty"`

	// MaxDuration is an exclusive upper bound on symptom duration, e.g. "72h".
	MaxDuration string `yaml:"max_duration,omitempty"`

	NoMajorRiskFactors bool `yaml:"no_major_risk_factors,omitempty"`
	MildOnly           bool `yaml:"mild_only,omitempty"`

	Urgency        Urgency `yaml:"urgency"`
	Recommendation string  `yaml:"recommendation"`
}

// RuleSet is a rule table plus the vocabularies its conditions refer to.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`

	// MajorRiskFactors disqualify the no-risk-factor condition when present.
	MajorRiskFactors []string `yaml:"major_risk_factors"`

	// RiskAgeAtLeast treats patients at or above this age as carrying a
	// major risk factor. Zero disables the check.
	RiskAgeAtLeast int `yaml:"risk_age_at_least"`

	// MildSymptoms and SevereMarkers decide the mild-only condition.
	MildSymptoms  []string `yaml:"mild_symptoms"`
	SevereMarkers []string `yaml:"severe_markers"`
}

// DefaultRuleSet is the built-in four-rule table.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Rules: []Rule{
			{
				Name:           "cardiorespiratory-red-flags",
				AnyOf:          []string{"sudden chest pain", "shortness of breath", "loss of consciousness"},
				Urgency:        Critical,
				Recommendation: "immediate emergency department visit",
			},
			{
				Name:           "acute-febrile-respiratory",
				AllOf:          [][]string{{"high fever"}, {"cough", "flu-like"}},
				MaxDuration:    "72h",
				Urgency:        Moderate,
				Recommendation: "appointment within 24-48 hours",
			},
			{
				Name:               "mild-without-risk-factors",
				NoMajorRiskFactors: true,
				MildOnly:           true,
				Urgency:            Low,
				Recommendation:     "appointment within 3-5 days",
			},
			{
				Name:           "pregnancy-abdominal-pain",
				AllOf:          [][]string{{"pregnancy", "pregnant"}, {"strong abdominal pain"}},
				Urgency:        High,
				Recommendation: "urgent evaluation",
			},
		},
		MajorRiskFactors: []string{
			"pregnan", "heart disease", "heart failure", "cardiac", "diabetes",
			"immunocompromised", "immunosuppress", "chemotherapy", "cancer",
			"copd", "kidney disease", "renal failure", "transplant", "stroke",
		},
		RiskAgeAtLeast: 65,
		MildSymptoms: []string{
			"mild", "minor", "slight", "runny nose", "stuffy nose", "sneezing",
			"sore throat", "scratchy throat", "light cough", "tired",
		},
		SevereMarkers: []string{
			"severe", "strong", "intense", "sudden", "worst", "high fever",
			"chest pain", "shortness of breath", "loss of consciousness",
			"bleeding", "confusion", "faint", "seizure", "unable to",
		},
	}
}

// LoadRuleSet reads a YAML rule table. Vocabulary lists left empty in the file
// keep their built-in defaults.
func LoadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	for i := range rs.Rules {
		if u, err := ParseUrgency(string(rs.Rules[i].Urgency)); err == nil {
			rs.Rules[i].Urgency = u
		}
	}

	defaults := DefaultRuleSet()
	if len(rs.MajorRiskFactors) == 0 {
		rs.MajorRiskFactors = defaults.MajorRiskFactors
	}
	if len(rs.MildSymptoms) == 0 {
		rs.MildSymptoms = defaults.MildSymptoms
	}
	if len(rs.SevereMarkers) == 0 {
		rs.SevereMarkers = defaults.SevereMarkers
	}

	if err := rs.Validate(); err != nil {
		return RuleSet{}, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return rs, nil
}

// Validate checks that every rule is usable.
func (rs RuleSet) Validate() error {
	if len(rs.Rules) == 0 {
		return fmt.Errorf("rule table is empty")
	}
	for i, r := range rs.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule %d has no name", i)
		}
		if !r.Urgency.Valid() {
			return fmt.Errorf("rule %s: %w: %q", r.Name, ErrUnknownUrgency, r.Urgency)
		}
		if r.Recommendation == "" {
			return fmt.Errorf("rule %s has no recommendation", r.Name)
		}
		if len(r.AnyOf) == 0 && len(r.AllOf) == 0 && !r.NoMajorRiskFactors && !r.MildOnly {
			return fmt.Errorf("rule %s has no conditions", r.Name)
		}
		if r.MaxDuration != "" {
			if _, err := time.ParseDuration(r.MaxDuration); err != nil {
				return fmt.Errorf("rule %s: invalid max_duration: %w", r.Name, err)
			}
		}
	}
	return nil
}
