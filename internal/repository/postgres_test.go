package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"swasthai-triage/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func setupMockIntakeEventsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresIntakeEventsRepo) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewPostgresIntakeEventsRepo(db, zap.NewNop())
	repo.now = func() time.Time { return fixedNow }

	return db, mock, repo
}

var eventColumnNames = []string{
	"id", "created_at", "record", "band", "reason", "action",
	"explanation", "ui_color", "status", "seen_at", "seen_by",
}

var annotationColumnNames = []string{
	"event_id", "reason", "actor", "at", "previous_band", "new_band", "previous_explanation",
}

const recordJSON = `{"age":45,"sex":"male","temperature":101,"spo2":97,"pulse":88,"chief_complaint":"fever","duration_days":2,"pain_score":3}`

func amberRow(rows *sqlmock.Rows, id, status string) *sqlmock.Rows {
	return rows.AddRow(
		id, fixedNow.Add(-time.Hour), []byte(recordJSON), "AMBER", "Febrile", "Doctor review within 60 mins",
		"Moderate fever present.", "amber", status, nil, nil,
	)
}

func newAmberEvent(id string) *models.IntakeEvent {
	return &models.IntakeEvent{
		ID: id,
		Record: models.IntakeRecord{
			Age: 45, Sex: models.SexMale, TemperatureF: 101, SpO2: 97, Pulse: 88,
			Complaint: models.ComplaintFever, DurationDays: 2, PainScore: 3,
		},
		Classification: models.Classification{
			Band:        models.BandAmber,
			Reason:      "Febrile",
			Action:      "Doctor review within 60 mins",
			Explanation: "Moderate fever present.",
			Color:       "amber",
		},
	}
}

// ============================================
// Create
// ============================================

func TestCreate_Success(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	id := uuid.New().String()
	mock.ExpectQuery(`INSERT INTO intake_events`).
		WithArgs(id, sqlmock.AnyArg(), "AMBER", "Febrile", "Doctor review within 60 mins", "Moderate fever present.", "amber").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(fixedNow))

	ev, err := repo.Create(context.Background(), newAmberEvent(id))
	require.NoError(t, err)
	assert.Equal(t, id, ev.ID)
	assert.Equal(t, fixedNow, ev.CreatedAt)
	assert.Equal(t, models.StatusWaiting, ev.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_AssignsID(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO intake_events`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(fixedNow))

	ev, err := repo.Create(context.Background(), newAmberEvent(""))
	require.NoError(t, err)
	_, err = uuid.Parse(ev.ID)
	assert.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_ConflictReturnsStored(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	id := uuid.New().String()
	mock.ExpectQuery(`INSERT INTO intake_events`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))
	mock.ExpectQuery(`(?s)SELECT.*FROM intake_events.*WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(amberRow(sqlmock.NewRows(eventColumnNames), id, "Waiting"))
	mock.ExpectQuery(`FROM intake_event_annotations`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(annotationColumnNames))

	ev, err := repo.Create(context.Background(), newAmberEvent(id))
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(-time.Hour), ev.CreatedAt)
	assert.Equal(t, models.ComplaintFever, ev.Record.Complaint)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_StoreUnavailable(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO intake_events`).
		WillReturnError(errors.New("dial tcp: connection refused"))

	ev, err := repo.Create(context.Background(), newAmberEvent(uuid.New().String()))
	assert.Nil(t, ev)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

// ============================================
// Get / List
// ============================================

func TestGet_WithAnnotations(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	id := uuid.New().String()
	mock.ExpectQuery(`SELECT`).
		WithArgs(id).
		WillReturnRows(amberRow(sqlmock.NewRows(eventColumnNames), id, "Waiting"))
	mock.ExpectQuery(`FROM intake_event_annotations`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(annotationColumnNames).
			AddRow(id, "Patient Condition Changed", "dr.rao", fixedNow, "GREEN", "AMBER", "Vitals stable, no red flags detected."))

	ev, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.BandAmber, ev.Classification.Band)
	assert.Equal(t, 101.0, ev.Record.TemperatureF)
	require.Len(t, ev.Annotations, 1)
	assert.Equal(t, models.BandGreen, ev.Annotations[0].PreviousBand)
	assert.Equal(t, "dr.rao", ev.Annotations[0].Actor)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(eventColumnNames))

	ev, err := repo.Get(context.Background(), "missing")
	assert.Nil(t, ev)
	assert.ErrorIs(t, err, models.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListWaiting(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	rows := sqlmock.NewRows(eventColumnNames)
	amberRow(rows, "ev-1", "Waiting")
	amberRow(rows, "ev-2", "Waiting")
	mock.ExpectQuery(`(?s)SELECT.*WHERE status = 'Waiting'`).WillReturnRows(rows)
	mock.ExpectQuery(`FROM intake_event_annotations`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(annotationColumnNames).
			AddRow("ev-2", "Other", "n1", fixedNow, "AMBER", "AMBER", "Moderate fever present."))

	events, err := repo.ListWaiting(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Empty(t, events[0].Annotations)
	assert.Len(t, events[1].Annotations, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListWaiting_Empty(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows(eventColumnNames))

	events, err := repo.ListWaiting(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSince(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	since := fixedNow.Add(-24 * time.Hour)
	mock.ExpectQuery(`(?s)SELECT.*WHERE created_at >= \$1`).
		WithArgs(since).
		WillReturnRows(amberRow(sqlmock.NewRows(eventColumnNames), "ev-1", "Seen"))
	mock.ExpectQuery(`FROM intake_event_annotations`).
		WillReturnRows(sqlmock.NewRows(annotationColumnNames))

	events, err := repo.ListSince(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.StatusSeen, events[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// UpdateClassification
// ============================================

func TestUpdateClassification_Success(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	id := uuid.New().String()
	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT.*FROM intake_events.*FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(amberRow(sqlmock.NewRows(eventColumnNames), id, "Waiting"))
	mock.ExpectQuery(`FROM intake_event_annotations`).
		WillReturnRows(sqlmock.NewRows(annotationColumnNames))
	mock.ExpectExec(`UPDATE intake_events`).
		WithArgs(id, "RED", "red", "[Override: Clinical Judgement - Higher Acuity] Moderate fever present.").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO intake_event_annotations`).
		WithArgs(id, "Clinical Judgement - Higher Acuity", "dr.rao", fixedNow, "AMBER", "RED", "Moderate fever present.").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ev, err := repo.UpdateClassification(context.Background(), id, models.BandRed, "Clinical Judgement - Higher Acuity", "dr.rao")
	require.NoError(t, err)
	assert.Equal(t, models.BandRed, ev.Classification.Band)
	assert.Equal(t, "Febrile", ev.Classification.Reason)
	require.Len(t, ev.Annotations, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateClassification_SeenRejected(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	id := uuid.New().String()
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(amberRow(sqlmock.NewRows(eventColumnNames), id, "Seen"))
	mock.ExpectQuery(`FROM intake_event_annotations`).
		WillReturnRows(sqlmock.NewRows(annotationColumnNames))
	mock.ExpectRollback()

	ev, err := repo.UpdateClassification(context.Background(), id, models.BandRed, "Other", "dr.rao")
	assert.Nil(t, ev)
	var ste *models.StateTransitionError
	assert.True(t, errors.As(err, &ste))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateClassification_NotFound(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(eventColumnNames))
	mock.ExpectRollback()

	_, err := repo.UpdateClassification(context.Background(), "missing", models.BandRed, "Other", "dr.rao")
	assert.ErrorIs(t, err, models.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateClassification_BeginFails(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err := repo.UpdateClassification(context.Background(), "ev-1", models.BandRed, "Other", "dr.rao")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

// ============================================
// MarkSeen
// ============================================

func TestMarkSeen_Transition(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	id := uuid.New().String()
	mock.ExpectExec(`UPDATE intake_events`).
		WithArgs(id, fixedNow, "dr.rao").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(eventColumnNames).AddRow(
			id, fixedNow.Add(-time.Hour), []byte(recordJSON), "AMBER", "Febrile", "Doctor review within 60 mins",
			"Moderate fever present.", "amber", "Seen", fixedNow, "dr.rao",
		))
	mock.ExpectQuery(`FROM intake_event_annotations`).
		WillReturnRows(sqlmock.NewRows(annotationColumnNames))

	ev, changed, err := repo.MarkSeen(context.Background(), id, "dr.rao")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.StatusSeen, ev.Status)
	require.NotNil(t, ev.SeenBy)
	assert.Equal(t, "dr.rao", *ev.SeenBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSeen_AlreadySeen(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	id := uuid.New().String()
	mock.ExpectExec(`UPDATE intake_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT`).
		WithArgs(id).
		WillReturnRows(amberRow(sqlmock.NewRows(eventColumnNames), id, "Seen"))
	mock.ExpectQuery(`FROM intake_event_annotations`).
		WillReturnRows(sqlmock.NewRows(annotationColumnNames))

	ev, changed, err := repo.MarkSeen(context.Background(), id, "dr.rao")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.StatusSeen, ev.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSeen_NotFound(t *testing.T) {
	db, mock, repo := setupMockIntakeEventsDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE intake_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(eventColumnNames))

	_, _, err := repo.MarkSeen(context.Background(), "missing", "")
	assert.ErrorIs(t, err, models.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock, _ := setupMockIntakeEventsDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS intake_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, EnsureSchema(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}
