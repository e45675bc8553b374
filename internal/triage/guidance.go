package triage

import (
	"fmt"
	"strconv"
	"strings"
)

// ClassifyGuidance maps a guidelines answer to an urgency tier by keyword.
// Checks run from most to least urgent, so any mention of "emergency",
// including "emergency department", reads as critical.
func ClassifyGuidance(answer string) Urgency {
	txt := strings.ToLower(answer)
	switch {
	case containsAny(txt, []string{"emergency", "life-threatening", "call 911"}):
		return Critical
	case containsAny(txt, []string{"emergency department", "urgent evaluation"}):
		return High
	case containsAny(txt, []string{"monitor at home", "mild"}):
		return Low
	default:
		return Moderate
	}
}

// GuidelinesQuery is the question put to the knowledge base for a patient.
func GuidelinesQuery(a Assessment) string {
	age := "unknown"
	if a.Age > 0 {
		age = strconv.Itoa(a.Age)
	}
	return fmt.Sprintf("Patient aged %s years old. Symptoms: %s. Duration: %s. "+
		"Risk factors: %s. Other context: %s. "+
		"According to the guidelines, what urgency level is appropriate "+
		"(critical / high / moderate / low) and what basic recommendations apply?",
		age, a.Symptoms, a.Duration, a.RiskFactors, a.OtherContext)
}
