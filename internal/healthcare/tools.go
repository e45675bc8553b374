// Package healthcare serves the triage, scheduling and team notification
// tools over MCP.
package healthcare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/phildougherty/medic/internal/constants"
	"github.com/phildougherty/medic/internal/metrics"
	"github.com/phildougherty/medic/internal/protocol"
	"github.com/phildougherty/medic/internal/store"
	"github.com/phildougherty/medic/internal/triage"
)

// Tool names.
const (
	ToolTriagePatient       = "triage_patient"
	ToolScheduleAppointment = "schedule_appointment"
	ToolNotifyTeam          = "notify_team"
)

const (
	criticalSlot    = "IMMEDIATE (emergency department recommended)"
	appointmentNote = "Simulated appointment slot for demo purposes."
	summaryLimit    = 200

	// slotLayout renders UTC timestamps with microseconds; callers append "Z".
	slotLayout = "2006-01-02T15:04:05.000000"
)

// Error kinds reported in the failure envelope.
const (
	KindInvalidArguments = "InvalidArguments"
	KindKnowledgeBase    = "KnowledgeBaseError"
	KindStorage          = "StorageError"
	KindInternal         = "InternalError"
)

// ToolError tags a failure with the kind shown to callers.
type ToolError struct {
	Kind string
	Err  error
}

func (e *ToolError) Error() string {
	return e.Err.Error()
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func invalidArgs(format string, args ...interface{}) error {
	return &ToolError{Kind: KindInvalidArguments, Err: fmt.Errorf(format, args...)}
}

// GuidelinesAnswerer answers a free-text question from the triage guidelines.
type GuidelinesAnswerer interface {
	Answer(ctx context.Context, query string) (string, error)
}

// Recorder persists what the tools produce.
type Recorder interface {
	SaveAppointment(ctx context.Context, a *store.Appointment) error
	SaveNotification(ctx context.Context, n *store.Notification) error
}

// Notifier receives every team notification after it is stored.
type Notifier interface {
	Notify(ctx context.Context, n store.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n store.Notification)

func (f NotifierFunc) Notify(ctx context.Context, n store.Notification) {
	f(ctx, n)
}

// Tools executes the healthcare tools. The knowledge base, recorder and
// metrics are optional.
type Tools struct {
	engine    *triage.Engine
	kb        GuidelinesAnswerer
	recorder  Recorder
	notifiers []Notifier
	metrics   *metrics.Collector
	logger    logr.Logger
	now       func() time.Time
}

func NewTools(engine *triage.Engine, kb GuidelinesAnswerer, recorder Recorder, logger logr.Logger) *Tools {
	if engine == nil {
		engine = triage.DefaultEngine()
	}
	return &Tools{
		engine:   engine,
		kb:       kb,
		recorder: recorder,
		logger:   logger.WithName("tools"),
		now:      time.Now,
	}
}

// AddNotifier registers a listener for team notifications.
func (t *Tools) AddNotifier(n Notifier) {
	t.notifiers = append(t.notifiers, n)
}

func (t *Tools) SetMetrics(c *metrics.Collector) {
	t.metrics = c
}

// GetMCPTools returns the tool catalogue.
func (t *Tools) GetMCPTools() []protocol.Tool {
	return []protocol.Tool{
		{
			Name: ToolTriagePatient,
			Description: "Analyze the patient's profile (symptoms, risk factors, etc.) " +
				"and return an urgency level + recommendations.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"age":           map[string]interface{}{"type": "integer"},
					"symptoms":      map[string]interface{}{"type": "string"},
					"duration":      map[string]interface{}{"type": "string"},
					"risk_factors":  map[string]interface{}{"type": "string"},
					"other_context": map[string]interface{}{"type": "string"},
				},
				"required": []string{"age", "symptoms", "duration"},
			},
		},
		{
			Name:        ToolScheduleAppointment,
			Description: "Propose a simulated appointment slot depending on urgency level.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"urgency_level": map[string]interface{}{
						"type": "string",
						"enum": []string{"critical", "high", "moderate", "low"},
					},
					"speciality": map[string]interface{}{"type": "string"},
				},
				"required": []string{"urgency_level"},
			},
		},
		{
			Name:        ToolNotifyTeam,
			Description: "Notify the medical team or emergency department with a summary.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"urgency_level":    map[string]interface{}{"type": "string"},
					"patient_summary":  map[string]interface{}{"type": "string"},
					"appointment_slot": map[string]interface{}{"type": "string"},
				},
				"required": []string{"urgency_level", "patient_summary"},
			},
		},
	}
}

var errorPrefixes = map[string]string{
	ToolTriagePatient:       "Triage",
	ToolScheduleAppointment: "Schedule",
	ToolNotifyTeam:          "Notify",
}

// ExecuteMCPTool runs a tool and wraps the outcome in the JSON envelope
// callers expect: {"ok":true,...} or {"ok":false,"error":...,"details":...}.
// It never returns a Go error; failures are reported in the envelope.
func (t *Tools) ExecuteMCPTool(ctx context.Context, toolName string, arguments map[string]interface{}) map[string]interface{} {
	prefix, known := errorPrefixes[toolName]
	if !known {
		t.logger.Info("Unknown tool requested", "tool", toolName)
		return map[string]interface{}{"ok": false, "error": "Unknown tool: " + toolName}
	}

	start := time.Now()
	result, err := t.Execute(ctx, toolName, arguments)
	if err != nil {
		kind := KindInternal
		var te *ToolError
		if errors.As(err, &te) {
			kind = te.Kind
		}
		t.logger.Error(err, "Tool failed", "tool", toolName, "kind", kind)
		t.metrics.RecordToolCall(toolName, "error", time.Since(start))
		return map[string]interface{}{
			"ok":      false,
			"error":   fmt.Sprintf("%s error: %s", prefix, kind),
			"details": err.Error(),
		}
	}

	t.metrics.RecordToolCall(toolName, "ok", time.Since(start))
	envelope := map[string]interface{}{"ok": true}
	for k, v := range result {
		envelope[k] = v
	}
	return envelope
}

// ExecuteMCPToolJSON is ExecuteMCPTool rendered as the text content sent on
// the wire.
func (t *Tools) ExecuteMCPToolJSON(ctx context.Context, toolName string, arguments map[string]interface{}) string {
	data, err := json.Marshal(t.ExecuteMCPTool(ctx, toolName, arguments))
	if err != nil {
		// Only reachable if a result holds an unencodable value.
		return fmt.Sprintf(`{"ok":false,"error":"Encoding error","details":%q}`, err.Error())
	}
	return string(data)
}

// Execute runs a tool and returns its raw result.
func (t *Tools) Execute(ctx context.Context, toolName string, arguments map[string]interface{}) (map[string]interface{}, error) {
	t.logger.V(1).Info("Executing tool", "tool", toolName)

	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	switch toolName {
	case ToolTriagePatient:
		return t.triagePatient(ctx, arguments)
	case ToolScheduleAppointment:
		return t.scheduleAppointment(ctx, arguments)
	case ToolNotifyTeam:
		return t.notifyTeam(ctx, arguments)
	default:
		return nil, fmt.Errorf("unknown tool: %s", toolName)
	}
}

func (t *Tools) triagePatient(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	age, err := intArg(args, "age")
	if err != nil {
		return nil, err
	}
	a := triage.Assessment{Age: age}
	for key, dst := range map[string]*string{
		"symptoms":      &a.Symptoms,
		"duration":      &a.Duration,
		"risk_factors":  &a.RiskFactors,
		"other_context": &a.OtherContext,
	} {
		if *dst, err = stringArg(args, key, ""); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(a.Symptoms) == "" {
		return nil, invalidArgs("symptoms is required")
	}

	decision := t.engine.Evaluate(a)

	var answer string
	if t.kb != nil {
		answer, err = t.kb.Answer(ctx, triage.GuidelinesQuery(a))
		if err != nil {
			if !decision.Matched {
				return nil, &ToolError{Kind: KindKnowledgeBase, Err: err}
			}
			// A matched safety rule still stands without the guidelines.
			t.logger.Error(err, "Guidelines lookup failed, using rule decision", "rules", decision.MatchedRules)
			answer = ""
		}
	}

	urgency, recommendation, source := combine(decision, answer)
	t.metrics.RecordTriage(string(urgency), source)
	t.logger.Info("Patient triaged", "urgency", urgency, "source", source, "rules", decision.MatchedRules)

	return map[string]interface{}{
		"urgency_level":     string(urgency),
		"guidelines_answer": answer,
		"recommendation":    recommendation,
		"matched_rules":     decision.MatchedRules,
	}, nil
}

// combine picks the final urgency: a matched rule is authoritative, then the
// guidelines answer, then the moderate default.
func combine(decision triage.Decision, answer string) (triage.Urgency, string, string) {
	switch {
	case decision.Matched:
		return decision.Urgency, decision.Recommendation, "rules"
	case strings.TrimSpace(answer) != "":
		u := triage.ClassifyGuidance(answer)
		return u, triage.Recommendation(u), "guidelines"
	default:
		return triage.Moderate, triage.Recommendation(triage.Moderate), "default"
	}
}

// SlotFor returns the simulated appointment slot for an urgency level.
// Levels outside the enum get the least urgent slot.
func SlotFor(level string, now time.Time) string {
	now = now.UTC()
	switch triage.Urgency(level) {
	case triage.Critical:
		return criticalSlot
	case triage.High:
		return now.Add(2*time.Hour).Format(slotLayout) + "Z"
	case triage.Moderate:
		return now.Add(24*time.Hour).Format(slotLayout) + "Z"
	default:
		return now.Add(3*24*time.Hour).Format(slotLayout) + "Z"
	}
}

func (t *Tools) scheduleAppointment(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	level, err := stringArg(args, "urgency_level", string(triage.Moderate))
	if err != nil {
		return nil, err
	}
	speciality, err := stringArg(args, "speciality", constants.DefaultSpeciality)
	if err != nil {
		return nil, err
	}

	now := t.now()
	appt := store.Appointment{
		ID:         uuid.NewString(),
		Urgency:    triage.Urgency(level),
		Slot:       SlotFor(level, now),
		Speciality: speciality,
		Note:       appointmentNote,
		CreatedAt:  now.UTC(),
	}
	if t.recorder != nil {
		if err := t.recorder.SaveAppointment(ctx, &appt); err != nil {
			return nil, &ToolError{Kind: KindStorage, Err: err}
		}
	}

	return map[string]interface{}{
		"selected_slot": appt.Slot,
		"speciality":    appt.Speciality,
		"note":          appt.Note,
	}, nil
}

// NotificationMessage renders the mock team notification.
func NotificationMessage(level, slot, summary string) string {
	return fmt.Sprintf("[MOCK NOTIFICATION] Urgency: %s | Appointment: %s | Patient summary: %s...",
		strings.ToUpper(level), slot, truncateRunes(summary, summaryLimit))
}

func (t *Tools) notifyTeam(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	level, err := stringArg(args, "urgency_level", string(triage.Moderate))
	if err != nil {
		return nil, err
	}
	summary, err := stringArg(args, "patient_summary", "")
	if err != nil {
		return nil, err
	}
	slot, err := stringArg(args, "appointment_slot", "")
	if err != nil {
		return nil, err
	}

	now := t.now().UTC()
	n := store.Notification{
		ID:        uuid.NewString(),
		Urgency:   triage.Urgency(level),
		Slot:      slot,
		Summary:   summary,
		Message:   NotificationMessage(level, slot, summary),
		Status:    "sent",
		Timestamp: now,
	}
	if t.recorder != nil {
		if err := t.recorder.SaveNotification(ctx, &n); err != nil {
			return nil, &ToolError{Kind: KindStorage, Err: err}
		}
	}
	for _, notifier := range t.notifiers {
		notifier.Notify(ctx, n)
	}

	return map[string]interface{}{
		"status":    n.Status,
		"message":   n.Message,
		"timestamp": now.Format(slotLayout) + "Z",
	}, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func stringArg(args map[string]interface{}, key, def string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArgs("%s must be a string, got %T", key, v)
	}
	return s, nil
}

// intArg accepts JSON numbers and numeric strings; a missing age is 0,
// which reads as unknown.
func intArg(args map[string]interface{}, key string) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, invalidArgs("%s must be a number: %v", key, err)
			}
			return int(f), nil
		}
		return int(i), nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, nil
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, invalidArgs("%s must be a number, got %q", key, n)
		}
		return i, nil
	default:
		return 0, invalidArgs("%s must be a number, got %T", key, v)
	}
}
