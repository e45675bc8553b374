// Package store persists triage reports, appointments and team notifications.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"

	"github.com/phildougherty/medic/internal/triage"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Report is the outcome of one intake call.
type Report struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`

	Patient          triage.Assessment `json:"patient"`
	Urgency          triage.Urgency    `json:"urgency_level"`
	GuidelinesAnswer string            `json:"guidelines_answer"`
	Recommendation   string            `json:"recommendation"`
	MatchedRules     []string          `json:"matched_rules"`

	Appointment  Appointment  `json:"appointment"`
	Notification Notification `json:"notification"`

	Transcript string `json:"transcript"`
	Rendered   string `json:"rendered"`
}

// ReportSummary is the listing view of a report.
type ReportSummary struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	CreatedAt time.Time      `json:"created_at"`
	Urgency   triage.Urgency `json:"urgency_level"`
	Symptoms  string         `json:"symptoms"`
	Slot      string         `json:"selected_slot"`
}

// Appointment is a simulated booking.
type Appointment struct {
	ID         string         `json:"id"`
	Urgency    triage.Urgency `json:"urgency_level"`
	Slot       string         `json:"selected_slot"`
	Speciality string         `json:"speciality"`
	Note       string         `json:"note"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Notification is a message sent to the care team.
type Notification struct {
	ID        string         `json:"id"`
	Urgency   triage.Urgency `json:"urgency_level"`
	Slot      string         `json:"appointment_slot"`
	Summary   string         `json:"patient_summary"`
	Message   string         `json:"message"`
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store is implemented by the Postgres and in-memory backends.
type Store interface {
	SaveReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, id string) (*Report, error)
	ListReports(ctx context.Context, limit int) ([]ReportSummary, error)

	SaveAppointment(ctx context.Context, a *Appointment) error

	SaveNotification(ctx context.Context, n *Notification) error
	// ListNotifications returns notifications newer than since, newest first.
	ListNotifications(ctx context.Context, since time.Time, limit int) ([]Notification, error)
	// NotificationsAfter returns notifications past the cursor, oldest first,
	// for readers that page through every notification.
	NotificationsAfter(ctx context.Context, after NotificationCursor, limit int) ([]Notification, error)

	Close() error
}

// NotificationCursor is a position in the notification log ordered by
// timestamp then id. The zero cursor precedes everything.
type NotificationCursor struct {
	Timestamp time.Time
	ID        string
}

// CursorOf is the position just at n.
func CursorOf(n Notification) NotificationCursor {
	return NotificationCursor{Timestamp: n.Timestamp, ID: n.ID}
}

// Before reports whether n sorts after the cursor.
func (c NotificationCursor) Before(n Notification) bool {
	if n.Timestamp.Equal(c.Timestamp) {
		return n.ID > c.ID
	}
	return n.Timestamp.After(c.Timestamp)
}

const defaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

// Open returns a Postgres store when databaseURL is set and an in-memory
// store otherwise.
func Open(ctx context.Context, databaseURL string, logger logr.Logger) (Store, error) {
	if databaseURL == "" {
		logger.Info("No database configured, keeping reports in memory")
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL, logger)
}
