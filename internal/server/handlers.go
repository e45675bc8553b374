package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/phildougherty/medic/internal/audiostore"
	"github.com/phildougherty/medic/internal/intake"
	"github.com/phildougherty/medic/internal/mcp"
	"github.com/phildougherty/medic/internal/store"
)

type sessionView struct {
	ID        string           `json:"id"`
	Language  string           `json:"language"`
	History   []intake.Message `json:"history"`
	Ended     bool             `json:"ended"`
	ReportID  string           `json:"report_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func viewOf(s *intake.Session) sessionView {
	history := s.History
	if history == nil {
		history = []intake.Message{}
	}
	return sessionView{
		ID:        s.ID,
		Language:  s.Language,
		History:   history,
		Ended:     s.Ended,
		ReportID:  s.ReportID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

type turnResponse struct {
	Session   sessionView `json:"session"`
	UserText  string      `json:"user_text"`
	AgentText string      `json:"agent_text"`
	AudioURL  string      `json:"audio_url,omitempty"`
}

func (s *IntakeServer) turnResponse(session *intake.Session, reply intake.Reply) turnResponse {
	resp := turnResponse{
		Session:   viewOf(session),
		UserText:  reply.UserText,
		AgentText: reply.AgentText,
	}
	if reply.AudioKey != "" {
		resp.AudioURL = "/api/audio/" + reply.AudioKey
	}
	return resp
}

func (s *IntakeServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"service":      "medic-intake",
		"uptime":       time.Since(s.started).Round(time.Second).String(),
		"team_clients": s.hub.Clients(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *IntakeServer) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "invalid request body", nil)
			return
		}
	}
	if req.Language == "" {
		req.Language = s.language
	}

	session, err := s.service.Start(r.Context(), req.Language)
	if err != nil {
		s.logger.Error("Failed to start session: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to start session", nil)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(session))
}

func (s *IntakeServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(session))
}

func (s *IntakeServer) handleText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	id := mux.Vars(r)["id"]
	session, reply, err := s.service.Text(r.Context(), id, req.Text)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.turnResponse(session, reply))
}

func (s *IntakeServer) handleAudio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload", nil)
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio field", nil)
		return
	}
	defer file.Close()

	id := mux.Vars(r)["id"]
	session, reply, err := s.service.Audio(r.Context(), id, file, header.Filename)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.turnResponse(session, reply))
}

func (s *IntakeServer) handleEnd(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, report, err := s.service.End(r.Context(), id)
	if err != nil {
		var callErr *mcp.CallError
		switch {
		case errors.Is(err, intake.ErrNoConversation):
			writeError(w, http.StatusBadRequest, err.Error(), nil)
		case errors.As(err, &callErr):
			s.logger.Warning("Session %s: tool %s failed: %s", id, callErr.Tool, callErr.Reason)
			writeError(w, http.StatusBadGateway, callErr.Error(), callErr.Payload)
		default:
			s.writeSessionError(w, err)
		}
		return
	}

	s.logger.Info("Session %s ended with %s urgency, report %s", id, report.Urgency, report.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": viewOf(session),
		"report":  report,
	})
}

func (s *IntakeServer) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	if s.audio == nil {
		writeError(w, http.StatusNotFound, "audio storage disabled", nil)
		return
	}
	key := mux.Vars(r)["key"]
	if err := audiostore.ValidateKey(key); err != nil {
		writeError(w, http.StatusBadRequest, "invalid audio key", nil)
		return
	}

	rc, err := s.audio.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, audiostore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audio not found", nil)
			return
		}
		s.logger.Error("Failed to read audio %s: %v", key, err)
		writeError(w, http.StatusInternalServerError, "failed to read audio", nil)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", audiostore.ContentType(key))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Debug("Audio stream %s interrupted: %v", key, err)
	}
}

func (s *IntakeServer) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	reports, err := s.reports.ListReports(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list reports: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list reports", nil)
		return
	}
	if reports == nil {
		reports = []store.ReportSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
	})
}

func (s *IntakeServer) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, err := s.reports.GetReport(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found", nil)
			return
		}
		s.logger.Error("Failed to load report %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load report", nil)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, report.Rendered)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *IntakeServer) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intake.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, intake.ErrSessionEnded):
		writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		s.logger.Error("Session request failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, details map[string]interface{}) {
	body := map[string]interface{}{"error": message}
	if len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
