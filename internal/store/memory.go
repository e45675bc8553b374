package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is used when no database is configured. Records are lost on
// restart.
type MemoryStore struct {
	mu            sync.RWMutex
	reports       map[string]*Report
	appointments  []Appointment
	notifications []Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]*Report)}
}

func (m *MemoryStore) SaveReport(_ context.Context, r *Report) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	cp := *r
	cp.MatchedRules = append([]string(nil), r.MatchedRules...)

	m.mu.Lock()
	m.reports[r.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetReport(_ context.Context, id string) (*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	cp := *r
	cp.MatchedRules = append([]string(nil), r.MatchedRules...)
	return &cp, nil
}

func (m *MemoryStore) ListReports(_ context.Context, limit int) ([]ReportSummary, error) {
	m.mu.RLock()
	summaries := make([]ReportSummary, 0, len(m.reports))
	for _, r := range m.reports {
		summaries = append(summaries, ReportSummary{
			ID:        r.ID,
			SessionID: r.SessionID,
			CreatedAt: r.CreatedAt,
			Urgency:   r.Urgency,
			Symptoms:  r.Patient.Symptoms,
			Slot:      r.Appointment.Slot,
		})
	}
	m.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	if limit = normalizeLimit(limit); len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (m *MemoryStore) SaveAppointment(_ context.Context, a *Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	m.appointments = append(m.appointments, *a)
	m.mu.Unlock()
	return nil
}

// Appointments returns every booking made so far, oldest first.
func (m *MemoryStore) Appointments() []Appointment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Appointment(nil), m.appointments...)
}

func (m *MemoryStore) SaveNotification(_ context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	m.notifications = append(m.notifications, *n)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, since time.Time, limit int) ([]Notification, error) {
	m.mu.RLock()
	var out []Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		if n := m.notifications[i]; n.Timestamp.After(since) {
			out = append(out, n)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) NotificationsAfter(_ context.Context, after NotificationCursor, limit int) ([]Notification, error) {
	m.mu.RLock()
	var out []Notification
	for _, n := range m.notifications {
		if after.Before(n) {
			out = append(out, n)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
