package intake

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/phildougherty/medic/internal/store"
)

const reportTemplate = `MEDICAL TRIAGE REPORT: VOICE INTAKE
Generated: {{ dateInZone "2006-01-02 15:04:05" .Generated "UTC" }}

PATIENT INFORMATION:
Age:              {{ if gt .Patient.Age 0 }}{{ .Patient.Age }} years{{ else }}Not provided{{ end }}
Symptoms:         {{ .Patient.Symptoms | default "Not provided" }}
Duration:         {{ .Patient.Duration | default "Not provided" }}
Risk Factors:     {{ .Patient.RiskFactors | default "None mentioned" }}
Other Context:    {{ .Patient.OtherContext | default "None" }}

TRIAGE ASSESSMENT:
Urgency Level:    {{ .Urgency | toString | upper }}
{{- if .MatchedRules }}
Matched Rules:    {{ join ", " .MatchedRules }}
{{- end }}

Clinical Recommendation:
{{ .GuidelinesAnswer | default .Recommendation | default "No recommendation available" }}

APPOINTMENT SCHEDULED:
Slot:             {{ .Appointment.Slot | default "Not scheduled" }}
Specialty:        {{ .Appointment.Speciality | default "General" }}
Note:             {{ .Appointment.Note }}

TEAM NOTIFICATION:
Status:           {{ .Notification.Status | default "unknown" | upper }}
Timestamp:        {{ .NotificationTimestamp | default "N/A" }}

CONVERSATION TRANSCRIPT:
{{ .Transcript }}`

var reportTmpl = template.Must(template.New("report").Funcs(sprig.TxtFuncMap()).Parse(reportTemplate))

type reportView struct {
	*store.Report
	Generated             time.Time
	NotificationTimestamp string
}

// RenderReport formats a finished call for the care team. notifiedAt is the
// timestamp string notify_team returned.
func RenderReport(r *store.Report, notifiedAt string) (string, error) {
	var buf bytes.Buffer
	view := reportView{Report: r, Generated: r.CreatedAt, NotificationTimestamp: notifiedAt}
	if err := reportTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}
