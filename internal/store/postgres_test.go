package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phildougherty/medic/internal/triage"
)

func setupMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newPostgresStore(db, logr.Discard()), mock
}

func TestPostgresStore_InitSchema(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS triage_reports").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.initSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveReport(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO triage_reports")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := &Report{
		SessionID: "session-1",
		Patient:   triage.Assessment{Age: 52, Symptoms: "sudden chest pain", Duration: "20 minutes"},
		Urgency:   triage.Critical,
		MatchedRules: []string{
			"cardiorespiratory-red-flags",
		},
		Appointment: Appointment{Slot: "IMMEDIATE (emergency department recommended)"},
	}
	require.NoError(t, store.SaveReport(context.Background(), r))

	assert.NotEmpty(t, r.ID, "an id is assigned")
	assert.False(t, r.CreatedAt.IsZero(), "creation time is assigned")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveReportError(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO triage_reports")).
		WillReturnError(errors.New("connection reset"))

	err := store.SaveReport(context.Background(), &Report{ID: "r1", Urgency: triage.Low})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save report r1")
}

var reportColumns = []string{
	"id", "session_id", "created_at", "age", "symptoms", "duration", "risk_factors", "other_context",
	"urgency", "guidelines_answer", "recommendation", "matched_rules",
	"appointment_slot", "speciality", "appointment_note",
	"notification_status", "notification_message", "notified_at",
	"transcript", "rendered",
}

func TestPostgresStore_GetReport(t *testing.T) {
	store, mock := setupMockStore(t)
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	rows := sqlmock.NewRows(reportColumns).AddRow(
		"r1", "session-1", created, 34, "high fever and cough", "2 days", "none", "",
		"moderate", "See a GP within two days.", "appointment within 24-48 hours", "{acute-febrile-respiratory}",
		"2026-03-02T09:30:00Z", "general practitioner", "Simulated appointment slot for demo purposes.",
		"sent", "[MOCK NOTIFICATION] Urgency: MODERATE", created,
		"Patient: I have a fever", "MEDICAL TRIAGE REPORT",
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM triage_reports WHERE id = $1")).
		WithArgs("r1").
		WillReturnRows(rows)

	r, err := store.GetReport(context.Background(), "r1")
	require.NoError(t, err)

	assert.Equal(t, triage.Moderate, r.Urgency)
	assert.Equal(t, 34, r.Patient.Age)
	assert.Equal(t, []string{"acute-febrile-respiratory"}, r.MatchedRules)
	assert.Equal(t, "2026-03-02T09:30:00Z", r.Notification.Slot)
	assert.Equal(t, created, r.Notification.Timestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetReportNotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM triage_reports WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetReport(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ListReports(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "session_id", "created_at", "urgency", "symptoms", "appointment_slot"}).
		AddRow("r2", "s2", now, "critical", "shortness of breath", "IMMEDIATE (emergency department recommended)").
		AddRow("r1", "s1", now.Add(-time.Hour), "low", "runny nose", "2026-03-04T09:00:00Z")
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs(defaultListLimit).
		WillReturnRows(rows)

	list, err := store.ListReports(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, triage.Critical, list[0].Urgency)
	assert.Equal(t, "runny nose", list[1].Symptoms)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAppointment(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO appointments")).
		WithArgs(sqlmock.AnyArg(), "high", "2026-03-01T11:30:00Z", "general practitioner",
			"Simulated appointment slot for demo purposes.", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SaveAppointment(context.Background(), &Appointment{
		Urgency:    triage.High,
		Slot:       "2026-03-01T11:30:00Z",
		Speciality: "general practitioner",
		Note:       "Simulated appointment slot for demo purposes.",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Notifications(t *testing.T) {
	store, mock := setupMockStore(t)
	since := time.Now().Add(-24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO team_notifications")).
		WithArgs(sqlmock.AnyArg(), "critical", "IMMEDIATE (emergency department recommended)",
			"Patient: chest pain", "[MOCK NOTIFICATION] Urgency: CRITICAL", "sent", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n := &Notification{
		Urgency: triage.Critical,
		Slot:    "IMMEDIATE (emergency department recommended)",
		Summary: "Patient: chest pain",
		Message: "[MOCK NOTIFICATION] Urgency: CRITICAL",
		Status:  "sent",
	}
	require.NoError(t, store.SaveNotification(context.Background(), n))
	assert.NotEmpty(t, n.ID)

	rows := sqlmock.NewRows([]string{"id", "urgency", "slot", "summary", "message", "status", "sent_at"}).
		AddRow(n.ID, "critical", n.Slot, n.Summary, n.Message, "sent", n.Timestamp)
	mock.ExpectQuery(regexp.QuoteMeta("FROM team_notifications")).
		WithArgs(since, 10).
		WillReturnRows(rows)

	list, err := store.ListNotifications(context.Background(), since, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, triage.Critical, list[0].Urgency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NotificationsAfter(t *testing.T) {
	store, mock := setupMockStore(t)
	after := NotificationCursor{Timestamp: time.Now().Add(-time.Hour), ID: "n-1"}

	rows := sqlmock.NewRows([]string{"id", "urgency", "slot", "summary", "message", "status", "sent_at"}).
		AddRow("n-2", "high", "", "", "", "sent", after.Timestamp).
		AddRow("n-3", "low", "", "", "", "sent", after.Timestamp.Add(time.Second))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE (sent_at, id) > ($1, $2)")).
		WithArgs(after.Timestamp, "n-1", 100).
		WillReturnRows(rows)

	list, err := store.NotificationsAfter(context.Background(), after, 100)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n-2", list[0].ID)
	assert.Equal(t, triage.Low, list[1].Urgency)
	assert.NoError(t, mock.ExpectationsWereMet())
}
