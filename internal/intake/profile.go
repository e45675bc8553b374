package intake

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/phildougherty/medic/internal/triage"
)

// Profile is what the model extracts from the transcript. Models are loose
// about the age type, so it is decoded by hand.
type Profile struct {
	Age          int    `json:"age"`
	Symptoms     string `json:"symptoms"`
	Duration     string `json:"duration"`
	RiskFactors  string `json:"risk_factors"`
	OtherContext string `json:"other_context"`
}

func (p *Profile) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	p.Age = looseInt(raw["age"])
	p.Symptoms = looseString(raw["symptoms"])
	p.Duration = looseString(raw["duration"])
	p.RiskFactors = looseString(raw["risk_factors"])
	p.OtherContext = looseString(raw["other_context"])
	return nil
}

// Arguments is the triage_patient argument object. An unknown age is left out.
func (p Profile) Arguments() map[string]interface{} {
	args := map[string]interface{}{
		"symptoms":      p.Symptoms,
		"duration":      p.Duration,
		"risk_factors":  p.RiskFactors,
		"other_context": p.OtherContext,
	}
	if p.Age > 0 {
		args["age"] = p.Age
	}
	return args
}

func (p Profile) Assessment() triage.Assessment {
	return triage.Assessment{
		Age:          p.Age,
		Symptoms:     p.Symptoms,
		Duration:     p.Duration,
		RiskFactors:  p.RiskFactors,
		OtherContext: p.OtherContext,
	}
}

func looseInt(v interface{}) int {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return int(math.Round(f))
	case float64:
		return int(math.Round(n))
	case string:
		fields := strings.Fields(n)
		if len(fields) == 0 {
			return 0
		}
		i, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

func looseString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case []interface{}:
		parts := make([]string, 0, len(s))
		for _, item := range s {
			if str := looseString(item); str != "" {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, ", ")
	default:
		data, _ := json.Marshal(s)
		return string(data)
	}
}
