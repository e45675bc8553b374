package healthcare

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phildougherty/medic/internal/store"
	"github.com/phildougherty/medic/internal/triage"
)

type fakeKB struct {
	answer  string
	err     error
	queries []string
}

func (f *fakeKB) Answer(_ context.Context, query string) (string, error) {
	f.queries = append(f.queries, query)
	return f.answer, f.err
}

type failingRecorder struct{}

func (failingRecorder) SaveAppointment(context.Context, *store.Appointment) error {
	return errors.New("connection refused")
}

func (failingRecorder) SaveNotification(context.Context, *store.Notification) error {
	return errors.New("connection refused")
}

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 123456000, time.UTC)

func newTestTools(kb GuidelinesAnswerer, rec Recorder) *Tools {
	tools := NewTools(triage.DefaultEngine(), kb, rec, logr.Discard())
	tools.now = func() time.Time { return fixedNow }
	return tools
}

func TestTools_GetMCPTools(t *testing.T) {
	tools := newTestTools(nil, nil).GetMCPTools()
	require.Len(t, tools, 3)

	required := map[string][]string{}
	for _, tool := range tools {
		required[tool.Name] = tool.InputSchema["required"].([]string)
		assert.Equal(t, "object", tool.InputSchema["type"])
	}
	assert.Equal(t, []string{"age", "symptoms", "duration"}, required[ToolTriagePatient])
	assert.Equal(t, []string{"urgency_level"}, required[ToolScheduleAppointment])
	assert.Equal(t, []string{"urgency_level", "patient_summary"}, required[ToolNotifyTeam])
}

func TestTools_TriagePatient(t *testing.T) {
	tests := []struct {
		name           string
		kb             *fakeKB
		args           map[string]interface{}
		wantUrgency    string
		wantRecommend  string
		wantAnswer     string
		wantMatchedLen int
	}{
		{
			name:           "matched rule outranks a mild guidelines answer",
			kb:             &fakeKB{answer: "Mild symptoms, monitor at home."},
			args:           map[string]interface{}{"age": 60.0, "symptoms": "sudden chest pain", "duration": "1 hour"},
			wantUrgency:    "critical",
			wantRecommend:  "immediate emergency department visit",
			wantAnswer:     "Mild symptoms, monitor at home.",
			wantMatchedLen: 1,
		},
		{
			name:          "guidelines answer decides when no rule matches",
			kb:            &fakeKB{answer: "This may be life-threatening. Call 911."},
			args:          map[string]interface{}{"age": 40.0, "symptoms": "severe headache", "duration": "2 hours"},
			wantUrgency:   "critical",
			wantRecommend: "immediate emergency department visit",
			wantAnswer:    "This may be life-threatening. Call 911.",
		},
		{
			name:          "guidelines suggesting home care is low",
			kb:            &fakeKB{answer: "Monitor at home and rest."},
			args:          map[string]interface{}{"age": 40.0, "symptoms": "back ache", "duration": "2 weeks"},
			wantUrgency:   "low",
			wantRecommend: "appointment within 3-5 days",
			wantAnswer:    "Monitor at home and rest.",
		},
		{
			name:          "no guidelines and no rule is moderate",
			args:          map[string]interface{}{"age": "40", "symptoms": "back ache", "duration": "2 weeks"},
			wantUrgency:   "moderate",
			wantRecommend: "appointment within 24-48 hours",
		},
		{
			name:           "guidelines failure keeps a matched rule",
			kb:             &fakeKB{err: errors.New("index unavailable")},
			args:           map[string]interface{}{"age": 30.0, "symptoms": "strong abdominal pain", "duration": "3 hours", "other_context": "pregnancy, 20 weeks"},
			wantUrgency:    "high",
			wantRecommend:  "urgent evaluation",
			wantMatchedLen: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var kb GuidelinesAnswerer
			if tt.kb != nil {
				kb = tt.kb
			}
			got := newTestTools(kb, nil).ExecuteMCPTool(context.Background(), ToolTriagePatient, tt.args)

			require.Equal(t, true, got["ok"], "envelope: %v", got)
			assert.Equal(t, tt.wantUrgency, got["urgency_level"])
			assert.Equal(t, tt.wantRecommend, got["recommendation"])
			assert.Equal(t, tt.wantAnswer, got["guidelines_answer"])
			assert.Len(t, got["matched_rules"], tt.wantMatchedLen)
		})
	}
}

func TestTools_TriagePatientQuery(t *testing.T) {
	kb := &fakeKB{answer: "ok"}
	newTestTools(kb, nil).ExecuteMCPTool(context.Background(), ToolTriagePatient, map[string]interface{}{
		"age": 34.0, "symptoms": "cough", "duration": "2 days", "risk_factors": "asthma",
	})

	require.Len(t, kb.queries, 1)
	assert.Equal(t, triage.GuidelinesQuery(triage.Assessment{Age: 34, Symptoms: "cough", Duration: "2 days", RiskFactors: "asthma"}), kb.queries[0])
}

func TestTools_TriagePatientErrors(t *testing.T) {
	tests := []struct {
		name        string
		kb          GuidelinesAnswerer
		args        map[string]interface{}
		wantError   string
		wantDetails string
	}{
		{
			name:        "missing symptoms",
			args:        map[string]interface{}{"age": 30.0, "duration": "1 day"},
			wantError:   "Triage error: InvalidArguments",
			wantDetails: "symptoms is required",
		},
		{
			name:        "age is not a number",
			args:        map[string]interface{}{"age": "thirty", "symptoms": "cough"},
			wantError:   "Triage error: InvalidArguments",
			wantDetails: `age must be a number, got "thirty"`,
		},
		{
			name:        "symptoms has the wrong type",
			args:        map[string]interface{}{"symptoms": 12.0},
			wantError:   "Triage error: InvalidArguments",
			wantDetails: "symptoms must be a string, got float64",
		},
		{
			name:        "guidelines failure without a rule",
			kb:          &fakeKB{err: errors.New("index unavailable")},
			args:        map[string]interface{}{"age": 30.0, "symptoms": "back ache", "duration": "1 day"},
			wantError:   "Triage error: KnowledgeBaseError",
			wantDetails: "index unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestTools(tt.kb, nil).ExecuteMCPTool(context.Background(), ToolTriagePatient, tt.args)
			assert.Equal(t, false, got["ok"])
			assert.Equal(t, tt.wantError, got["error"])
			assert.Equal(t, tt.wantDetails, got["details"])
		})
	}
}

func TestSlotFor(t *testing.T) {
	tests := []struct {
		level string
		want  string
	}{
		{"critical", "IMMEDIATE (emergency department recommended)"},
		{"high", "2025-03-14T11:30:00.123456Z"},
		{"moderate", "2025-03-15T09:30:00.123456Z"},
		{"low", "2025-03-17T09:30:00.123456Z"},
		{"urgent", "2025-03-17T09:30:00.123456Z"},
		{"CRITICAL", "2025-03-17T09:30:00.123456Z"},
	}

	for _, tt := range tests {
		if got := SlotFor(tt.level, fixedNow); got != tt.want {
			t.Errorf("SlotFor(%q) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestTools_ScheduleAppointment(t *testing.T) {
	mem := store.NewMemoryStore()
	tools := newTestTools(nil, mem)

	got := tools.ExecuteMCPTool(context.Background(), ToolScheduleAppointment, map[string]interface{}{"urgency_level": "high"})
	assert.Equal(t, map[string]interface{}{
		"ok":            true,
		"selected_slot": "2025-03-14T11:30:00.123456Z",
		"speciality":    "general practitioner",
		"note":          "Simulated appointment slot for demo purposes.",
	}, got)

	got = tools.ExecuteMCPTool(context.Background(), ToolScheduleAppointment, map[string]interface{}{"speciality": "cardiology"})
	assert.Equal(t, "2025-03-15T09:30:00.123456Z", got["selected_slot"], "missing level defaults to moderate")
	assert.Equal(t, "cardiology", got["speciality"])

	appts := mem.Appointments()
	require.Len(t, appts, 2)
}

func TestTools_NotifyTeam(t *testing.T) {
	mem := store.NewMemoryStore()
	tools := newTestTools(nil, mem)

	var pushed []store.Notification
	tools.AddNotifier(NotifierFunc(func(_ context.Context, n store.Notification) {
		pushed = append(pushed, n)
	}))

	summary := strings.Repeat("é", 250)
	got := tools.ExecuteMCPTool(context.Background(), ToolNotifyTeam, map[string]interface{}{
		"urgency_level":    "critical",
		"patient_summary":  summary,
		"appointment_slot": "IMMEDIATE (emergency department recommended)",
	})

	want := "[MOCK NOTIFICATION] Urgency: CRITICAL | Appointment: IMMEDIATE (emergency department recommended) | Patient summary: " +
		strings.Repeat("é", 200) + "..."
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, "sent", got["status"])
	assert.Equal(t, want, got["message"])
	assert.Equal(t, "2025-03-14T09:30:00.123456Z", got["timestamp"])

	require.Len(t, pushed, 1)
	assert.Equal(t, triage.Critical, pushed[0].Urgency)
	assert.Equal(t, summary, pushed[0].Summary)

	stored, err := mem.ListNotifications(context.Background(), time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, want, stored[0].Message)
}

func TestNotificationMessage_Defaults(t *testing.T) {
	got := newTestTools(nil, nil).ExecuteMCPTool(context.Background(), ToolNotifyTeam, map[string]interface{}{
		"patient_summary": "short",
	})
	assert.Equal(t, "[MOCK NOTIFICATION] Urgency: MODERATE | Appointment:  | Patient summary: short...", got["message"])
}

func TestTools_StorageErrors(t *testing.T) {
	tools := newTestTools(nil, failingRecorder{})

	got := tools.ExecuteMCPTool(context.Background(), ToolScheduleAppointment, map[string]interface{}{"urgency_level": "low"})
	assert.Equal(t, "Schedule error: StorageError", got["error"])
	assert.Equal(t, "connection refused", got["details"])

	got = tools.ExecuteMCPTool(context.Background(), ToolNotifyTeam, map[string]interface{}{"urgency_level": "low", "patient_summary": "x"})
	assert.Equal(t, "Notify error: StorageError", got["error"])
}

func TestTools_UnknownTool(t *testing.T) {
	text := newTestTools(nil, nil).ExecuteMCPToolJSON(context.Background(), "prescribe", nil)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	assert.Equal(t, map[string]interface{}{"ok": false, "error": "Unknown tool: prescribe"}, got)
}
