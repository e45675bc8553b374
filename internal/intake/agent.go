package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/phildougherty/medic/internal/ai"
	"github.com/phildougherty/medic/internal/audiostore"
	"github.com/phildougherty/medic/internal/constants"
	"github.com/phildougherty/medic/internal/healthcare"
	"github.com/phildougherty/medic/internal/mcp"
	"github.com/phildougherty/medic/internal/store"
	"github.com/phildougherty/medic/internal/triage"
)

// Completer is the chat model. *ai.Manager implements it.
type Completer interface {
	Complete(ctx context.Context, messages []ai.Message, options ai.StreamOptions) (string, error)
	CompleteJSON(ctx context.Context, messages []ai.Message, options ai.StreamOptions, out interface{}) error
}

// Transcriber and Synthesizer are implemented by *speech.Client.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename, lang string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Reply is the outcome of one patient turn.
type Reply struct {
	UserText  string `json:"user_text"`
	AgentText string `json:"agent_text"`
	// UserAudioKey and AudioKey address stored recordings; empty when no
	// audio store is configured or the upload failed.
	UserAudioKey string `json:"user_audio_key,omitempty"`
	AudioKey     string `json:"audio_key,omitempty"`
	Audio        []byte `json:"-"`
}

// Agent holds the collaborators of a call. Sessions are passed in, so one
// Agent serves every call.
type Agent struct {
	llm     Completer
	stt     Transcriber
	tts     Synthesizer
	audio   audiostore.Store
	tools   mcp.ToolCaller
	reports store.Store
	logger  logr.Logger
	model   string
	now     func() time.Time
}

// AgentOption configures optional collaborators.
type AgentOption func(*Agent)

func WithSpeech(stt Transcriber, tts Synthesizer) AgentOption {
	return func(a *Agent) {
		a.stt = stt
		a.tts = tts
	}
}

func WithAudioStore(s audiostore.Store) AgentOption {
	return func(a *Agent) { a.audio = s }
}

func WithReportStore(s store.Store) AgentOption {
	return func(a *Agent) { a.reports = s }
}

// WithModel overrides the chat model used for replies and extraction.
func WithModel(model string) AgentOption {
	return func(a *Agent) { a.model = model }
}

func NewAgent(llm Completer, tools mcp.ToolCaller, logger logr.Logger, opts ...AgentOption) *Agent {
	a := &Agent{
		llm:    llm,
		tools:  tools,
		logger: logger.WithName("intake"),
		model:  constants.DefaultChatModel,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HandleText adds the patient's words and the nurse's answer to the session.
// Blank text is ignored and yields an empty Reply.
func (a *Agent) HandleText(ctx context.Context, s *Session, text string) (Reply, error) {
	return a.reply(ctx, s, text, "")
}

func (a *Agent) reply(ctx context.Context, s *Session, text, userAudioKey string) (Reply, error) {
	if s.Ended {
		return Reply{}, ErrSessionEnded
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, nil
	}

	s.append(ai.RoleUser, text, userAudioKey)

	messages := append([]ai.Message{{
		Role:    ai.RoleSystem,
		Content: fmt.Sprintf(nursePromptTemplate, languageName(s.Language)),
	}}, s.chatMessages()...)

	answer, err := a.llm.Complete(ctx, messages, ai.StreamOptions{Model: a.model})
	if err != nil {
		// The patient turn stays so a retry does not lose it.
		return Reply{UserText: text}, fmt.Errorf("failed to get agent reply: %w", err)
	}
	s.append(ai.RoleAssistant, answer, "")

	return Reply{UserText: text, AgentText: answer, UserAudioKey: userAudioKey}, nil
}

// HandleAudio transcribes a recording and answers it, then voices the answer.
// Transcription problems become the turn's text so the conversation goes on;
// a synthesis failure only costs the audio.
func (a *Agent) HandleAudio(ctx context.Context, s *Session, audio io.Reader, filename string) (Reply, error) {
	if s.Ended {
		return Reply{}, ErrSessionEnded
	}
	data, err := io.ReadAll(audio)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to read audio: %w", err)
	}
	userKey := a.storeAudio(ctx, s.ID, filepath.Ext(filename), data)

	text := a.transcribe(ctx, s, data, filename)

	reply, err := a.reply(ctx, s, text, userKey)
	if err != nil {
		return reply, err
	}

	if a.tts == nil {
		return reply, nil
	}
	speech, err := a.tts.Synthesize(ctx, reply.AgentText)
	if err != nil {
		a.logger.Error(err, "TTS failed, returning text only", "session", s.ID)
		return reply, nil
	}
	if len(speech) == 0 {
		return reply, nil
	}
	reply.Audio = speech
	reply.AudioKey = a.storeAudio(ctx, s.ID, ".mp3", speech)
	if reply.AudioKey != "" {
		s.History[len(s.History)-1].AudioKey = reply.AudioKey
	}
	return reply, nil
}

func (a *Agent) transcribe(ctx context.Context, s *Session, data []byte, filename string) string {
	if a.stt == nil {
		return "[STT error: speech-to-text is not configured]"
	}
	text, err := a.stt.Transcribe(ctx, bytes.NewReader(data), filename, s.Language)
	if err != nil {
		a.logger.Error(err, "STT failed", "session", s.ID)
		return fmt.Sprintf("[STT error: %v]", err)
	}
	if strings.TrimSpace(text) == "" {
		return "[Empty transcription]"
	}
	return text
}

func (a *Agent) storeAudio(ctx context.Context, sessionID, ext string, data []byte) string {
	if a.audio == nil || len(data) == 0 {
		return ""
	}
	key := audiostore.NewKey(sessionID, ext)
	if err := a.audio.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		a.logger.Error(err, "Failed to store audio", "session", sessionID, "key", key)
		return ""
	}
	return key
}

// EndCall extracts the patient profile, runs triage_patient,
// schedule_appointment and notify_team in that order, and returns the
// persisted report. The first failing tool aborts the call's wrap-up with a
// *mcp.CallError naming it.
func (a *Agent) EndCall(ctx context.Context, s *Session) (*store.Report, error) {
	if len(s.History) == 0 {
		return nil, ErrNoConversation
	}
	if s.Ended && s.ReportID != "" && a.reports != nil {
		return a.reports.GetReport(ctx, s.ReportID)
	}

	transcript := s.Transcript()

	var profile Profile
	err := a.llm.CompleteJSON(ctx, []ai.Message{
		{Role: ai.RoleSystem, Content: extractionPrompt},
		{Role: ai.RoleUser, Content: transcript},
	}, ai.StreamOptions{Model: a.model}, &profile)
	if err != nil {
		return nil, fmt.Errorf("failed to extract patient profile: %w", err)
	}
	a.logger.V(1).Info("Extracted patient profile", "session", s.ID, "age", profile.Age, "symptoms", profile.Symptoms)

	triageResult, err := a.callTool(ctx, healthcare.ToolTriagePatient, profile.Arguments())
	if err != nil {
		return nil, err
	}
	urgency := stringField(triageResult, "urgency_level", string(triage.Moderate))

	scheduleResult, err := a.callTool(ctx, healthcare.ToolScheduleAppointment, map[string]interface{}{
		"urgency_level": urgency,
		"speciality":    constants.DefaultSpeciality,
	})
	if err != nil {
		return nil, err
	}
	slot := stringField(scheduleResult, "selected_slot", "")

	notifyResult, err := a.callTool(ctx, healthcare.ToolNotifyTeam, map[string]interface{}{
		"urgency_level":    urgency,
		"patient_summary":  transcript,
		"appointment_slot": slot,
	})
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	report := &store.Report{
		ID:               uuid.NewString(),
		SessionID:        s.ID,
		CreatedAt:        now,
		Patient:          profile.Assessment(),
		Urgency:          triage.Urgency(urgency),
		GuidelinesAnswer: stringField(triageResult, "guidelines_answer", ""),
		Recommendation:   stringField(triageResult, "recommendation", ""),
		MatchedRules:     stringsField(triageResult, "matched_rules"),
		Appointment: store.Appointment{
			Urgency:    triage.Urgency(stringField(scheduleResult, "urgency_level", urgency)),
			Slot:       slot,
			Speciality: stringField(scheduleResult, "speciality", constants.DefaultSpeciality),
			Note:       stringField(scheduleResult, "note", ""),
			CreatedAt:  now,
		},
		Notification: store.Notification{
			Urgency:   triage.Urgency(urgency),
			Slot:      slot,
			Summary:   transcript,
			Message:   stringField(notifyResult, "message", ""),
			Status:    stringField(notifyResult, "status", "unknown"),
			Timestamp: parseToolTime(stringField(notifyResult, "timestamp", ""), now),
		},
		Transcript: transcript,
	}

	rendered, err := RenderReport(report, stringField(notifyResult, "timestamp", ""))
	if err != nil {
		return nil, err
	}
	report.Rendered = rendered

	if a.reports != nil {
		if err := a.reports.SaveReport(ctx, report); err != nil {
			return nil, fmt.Errorf("failed to save report: %w", err)
		}
	}

	s.Ended = true
	s.ReportID = report.ID
	s.UpdatedAt = now
	a.logger.Info("Call ended", "session", s.ID, "report", report.ID, "urgency", urgency, "slot", slot)
	return report, nil
}

func (a *Agent) callTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	result, err := a.tools.CallTool(ctx, name, args)
	if err == nil {
		return result, nil
	}
	var callErr *mcp.CallError
	if errors.As(err, &callErr) {
		return nil, callErr
	}
	return nil, &mcp.CallError{
		Tool:    name,
		Reason:  err.Error(),
		Payload: map[string]interface{}{"tool_name": name, "error": err.Error()},
	}
}

func stringField(m map[string]interface{}, key, def string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return def
}

func stringsField(m map[string]interface{}, key string) []string {
	out := []string{}
	switch v := m[key].(type) {
	case []string:
		out = append(out, v...)
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// parseToolTime reads the tools' "…Z" microsecond timestamps.
func parseToolTime(s string, fallback time.Time) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05.999999Z", s)
	if err != nil {
		return fallback
	}
	return t
}
