package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/phildougherty/medic/internal/triage"
)

// PostgresStore keeps reports in PostgreSQL through lib/pq.
type PostgresStore struct {
	db     *sql.DB
	logger logr.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS triage_reports (
	id UUID PRIMARY KEY,
	session_id VARCHAR(64) NOT NULL,
	created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
	age INTEGER NOT NULL DEFAULT 0,
	symptoms TEXT NOT NULL DEFAULT '',
	duration TEXT NOT NULL DEFAULT '',
	risk_factors TEXT NOT NULL DEFAULT '',
	other_context TEXT NOT NULL DEFAULT '',
	urgency VARCHAR(16) NOT NULL,
	guidelines_answer TEXT NOT NULL DEFAULT '',
	recommendation TEXT NOT NULL DEFAULT '',
	matched_rules TEXT[] NOT NULL DEFAULT '{}',
	appointment_slot TEXT NOT NULL DEFAULT '',
	speciality TEXT NOT NULL DEFAULT '',
	appointment_note TEXT NOT NULL DEFAULT '',
	notification_status VARCHAR(32) NOT NULL DEFAULT '',
	notification_message TEXT NOT NULL DEFAULT '',
	notified_at TIMESTAMP WITH TIME ZONE,
	transcript TEXT NOT NULL DEFAULT '',
	rendered TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS appointments (
	id UUID PRIMARY KEY,
	urgency VARCHAR(16) NOT NULL,
	slot TEXT NOT NULL,
	speciality TEXT NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS team_notifications (
	id UUID PRIMARY KEY,
	urgency VARCHAR(16) NOT NULL,
	slot TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	status VARCHAR(32) NOT NULL,
	sent_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_triage_reports_created ON triage_reports(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_triage_reports_urgency ON triage_reports(urgency);
CREATE INDEX IF NOT EXISTS idx_team_notifications_sent ON team_notifications(sent_at DESC);
CREATE INDEX IF NOT EXISTS idx_team_notifications_cursor ON team_notifications(sent_at, id);
`

// NewPostgresStore connects and bootstraps the schema.
func NewPostgresStore(ctx context.Context, databaseURL string, logger logr.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := newPostgresStore(db, logger)
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func newPostgresStore(db *sql.DB, logger logr.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger.WithName("store")}
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB exposes the pool for components that share the database.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) SaveReport(ctx context.Context, r *Report) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	matched := r.MatchedRules
	if matched == nil {
		matched = []string{}
	}

	var notifiedAt interface{}
	if !r.Notification.Timestamp.IsZero() {
		notifiedAt = r.Notification.Timestamp
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO triage_reports (
			id, session_id, created_at, age, symptoms, duration, risk_factors, other_context,
			urgency, guidelines_answer, recommendation, matched_rules,
			appointment_slot, speciality, appointment_note,
			notification_status, notification_message, notified_at,
			transcript, rendered
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			urgency = EXCLUDED.urgency,
			rendered = EXCLUDED.rendered
	`,
		r.ID, r.SessionID, r.CreatedAt, r.Patient.Age, r.Patient.Symptoms, r.Patient.Duration,
		r.Patient.RiskFactors, r.Patient.OtherContext,
		string(r.Urgency), r.GuidelinesAnswer, r.Recommendation, pq.Array(matched),
		r.Appointment.Slot, r.Appointment.Speciality, r.Appointment.Note,
		r.Notification.Status, r.Notification.Message, notifiedAt,
		r.Transcript, r.Rendered,
	)
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", r.ID, err)
	}

	s.logger.V(1).Info("Saved triage report", "id", r.ID, "urgency", r.Urgency)
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (*Report, error) {
	var (
		r          Report
		urgency    string
		matched    []string
		notifiedAt sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, created_at, age, symptoms, duration, risk_factors, other_context,
			urgency, guidelines_answer, recommendation, matched_rules,
			appointment_slot, speciality, appointment_note,
			notification_status, notification_message, notified_at,
			transcript, rendered
		FROM triage_reports WHERE id = $1
	`, id).Scan(
		&r.ID, &r.SessionID, &r.CreatedAt, &r.Patient.Age, &r.Patient.Symptoms, &r.Patient.Duration,
		&r.Patient.RiskFactors, &r.Patient.OtherContext,
		&urgency, &r.GuidelinesAnswer, &r.Recommendation, pq.Array(&matched),
		&r.Appointment.Slot, &r.Appointment.Speciality, &r.Appointment.Note,
		&r.Notification.Status, &r.Notification.Message, &notifiedAt,
		&r.Transcript, &r.Rendered,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report %s: %w", id, err)
	}

	r.Urgency = triage.Urgency(urgency)
	r.MatchedRules = matched
	r.Appointment.Urgency = r.Urgency
	r.Notification.Urgency = r.Urgency
	r.Notification.Slot = r.Appointment.Slot
	if notifiedAt.Valid {
		r.Notification.Timestamp = notifiedAt.Time
	}
	return &r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, limit int) ([]ReportSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, created_at, urgency, symptoms, appointment_slot
		FROM triage_reports
		ORDER BY created_at DESC
		LIMIT $1
	`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var summaries []ReportSummary
	for rows.Next() {
		var rs ReportSummary
		var urgency string
		if err := rows.Scan(&rs.ID, &rs.SessionID, &rs.CreatedAt, &urgency, &rs.Symptoms, &rs.Slot); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		rs.Urgency = triage.Urgency(urgency)
		summaries = append(summaries, rs)
	}
	return summaries, rows.Err()
}

func (s *PostgresStore) SaveAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO appointments (id, urgency, slot, speciality, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, string(a.Urgency), a.Slot, a.Speciality, a.Note, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save appointment: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_notifications (id, urgency, slot, summary, message, status, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, string(n.Urgency), n.Slot, n.Summary, n.Message, n.Status, n.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, since time.Time, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, urgency, slot, summary, message, status, sent_at
		FROM team_notifications
		WHERE sent_at > $1
		ORDER BY sent_at DESC
		LIMIT $2
	`, since, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

func (s *PostgresStore) NotificationsAfter(ctx context.Context, after NotificationCursor, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, urgency, slot, summary, message, status, sent_at
		FROM team_notifications
		WHERE (sent_at, id) > ($1, $2)
		ORDER BY sent_at ASC, id ASC
		LIMIT $3
	`, after.Timestamp, after.ID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to page notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func scanNotifications(rows *sql.Rows) ([]Notification, error) {
	var out []Notification
	for rows.Next() {
		var n Notification
		var urgency string
		if err := rows.Scan(&n.ID, &urgency, &n.Slot, &n.Summary, &n.Message, &n.Status, &n.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Urgency = triage.Urgency(urgency)
		out = append(out, n)
	}
	return out, rows.Err()
}
