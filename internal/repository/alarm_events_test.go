package repository

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockAlarmEventsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AlarmEventsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewAlarmEventsRepository(db, logger)

	return db, mock, repo
}

func alarmEventColumns() []string {
	return []string{
		"event_id", "tenant_id", "device_id", "event_type", "category",
		"alarm_level", "alarm_status", "triggered_at", "triggered_by",
	}
}

func TestGetUnresolvedByDevices_Success(t *testing.T) {
	db, mock, repo := setupMockAlarmEventsDB(t)
	defer db.Close()

	tenantID := uuid.New().String()
	deviceID := uuid.New().String()
	now := time.Now()

	rows := sqlmock.NewRows(alarmEventColumns()).
		AddRow("e1", tenantID, deviceID, "Fall", "safety", "ALERT", "active", now, "Radar01").
		AddRow("e2", tenantID, deviceID, "HeartRateHigh", "clinical", "WARNING", "acknowledged", now.Add(-time.Minute), nil)

	mock.ExpectQuery(`SELECT`).
		WithArgs(tenantID, pq.Array([]string{deviceID})).
		WillReturnRows(rows)

	events, err := repo.GetUnresolvedByDevices(tenantID, []string{deviceID})

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].EventID)
	assert.Equal(t, "Fall", events[0].EventType)
	assert.Equal(t, "safety", events[0].Category)
	assert.Equal(t, "ALERT", events[0].AlarmLevel)
	assert.Equal(t, "active", events[0].AlarmStatus)
	require.NotNil(t, events[0].TriggeredBy)
	assert.Equal(t, "Radar01", *events[0].TriggeredBy)
	assert.Nil(t, events[1].TriggeredBy)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUnresolvedByDevices_NoDevices(t *testing.T) {
	db, mock, repo := setupMockAlarmEventsDB(t)
	defer db.Close()

	events, err := repo.GetUnresolvedByDevices(uuid.New().String(), nil)

	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUnresolvedByDevices_QueryError(t *testing.T) {
	db, mock, repo := setupMockAlarmEventsDB(t)
	defer db.Close()

	tenantID := uuid.New().String()
	deviceID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).
		WithArgs(tenantID, pq.Array([]string{deviceID})).
		WillReturnError(errors.New("connection refused"))

	events, err := repo.GetUnresolvedByDevices(tenantID, []string{deviceID})

	assert.Error(t, err)
	assert.Nil(t, events)
	assert.Contains(t, err.Error(), "failed to query alarm events")

	require.NoError(t, mock.ExpectationsWereMet())
}
