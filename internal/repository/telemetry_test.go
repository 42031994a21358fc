package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockTelemetryDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *TelemetryRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewTelemetryRepository(db, logger)

	return db, mock, repo
}

func telemetryColumns() []string {
	return []string{
		"id", "tenant_id", "device_id", "timestamp",
		"heart_rate", "respiratory_rate",
		"tracking_id", "posture_snomed_code", "posture_display",
		"bed_status_snomed_code", "sleep_state_snomed_code", "sleep_state_display",
		"device_type", "rn",
	}
}

func TestGetLatestReadings_GroupsByDevice(t *testing.T) {
	db, mock, repo := setupMockTelemetryDB(t)
	defer db.Close()

	tenantID := uuid.New().String()
	now := time.Now()

	rows := sqlmock.NewRows(telemetryColumns()).
		AddRow(1, tenantID, "sleepace-1", now, 62, 14, nil, nil, nil, "on_bed", "248220003", "Light sleep", "Sleepace", 1).
		AddRow(2, tenantID, "radar-1", now, nil, nil, "t1", "stand", "Standing", nil, nil, nil, "Radar", 1).
		AddRow(3, tenantID, "radar-1", now.Add(-time.Second), nil, nil, "t2", "sitting", "Sitting", nil, nil, nil, "Radar", 2)

	mock.ExpectQuery(`ORDER BY its.device_id, rn`).
		WithArgs(pq.Array([]string{"sleepace-1", "radar-1"}), tenantID).
		WillReturnRows(rows)

	readings, err := repo.GetLatestReadings(tenantID, []string{"sleepace-1", "radar-1"}, 16)

	require.NoError(t, err)
	require.Len(t, readings, 2)

	sleepace := readings["sleepace-1"]
	require.Len(t, sleepace, 1)
	require.NotNil(t, sleepace[0].HeartRate)
	assert.Equal(t, 62, *sleepace[0].HeartRate)
	require.NotNil(t, sleepace[0].BedStatusCode)
	assert.Equal(t, "on_bed", *sleepace[0].BedStatusCode)
	assert.Equal(t, "Sleepace", sleepace[0].DeviceType)

	radar := readings["radar-1"]
	require.Len(t, radar, 2)
	require.NotNil(t, radar[0].TrackingID)
	assert.Equal(t, "t1", *radar[0].TrackingID)
	require.NotNil(t, radar[1].PostureCode)
	assert.Equal(t, "sitting", *radar[1].PostureCode)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatestReadings_RespectsPerDeviceLimit(t *testing.T) {
	db, mock, repo := setupMockTelemetryDB(t)
	defer db.Close()

	tenantID := uuid.New().String()
	now := time.Now()

	rows := sqlmock.NewRows(telemetryColumns()).
		AddRow(1, tenantID, "radar-1", now, nil, nil, "t1", "stand", nil, nil, nil, nil, "Radar", 1).
		AddRow(2, tenantID, "radar-1", now.Add(-time.Second), nil, nil, "t1", "stand", nil, nil, nil, nil, "Radar", 2).
		AddRow(3, tenantID, "radar-1", now.Add(-2*time.Second), nil, nil, "t1", "walk", nil, nil, nil, nil, "Radar", 3)

	mock.ExpectQuery(`SELECT`).
		WithArgs(pq.Array([]string{"radar-1"}), tenantID).
		WillReturnRows(rows)

	readings, err := repo.GetLatestReadings(tenantID, []string{"radar-1"}, 2)

	require.NoError(t, err)
	assert.Len(t, readings["radar-1"], 2)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatestReadings_NoDevices(t *testing.T) {
	db, mock, repo := setupMockTelemetryDB(t)
	defer db.Close()

	readings, err := repo.GetLatestReadings(uuid.New().String(), nil, 16)

	require.NoError(t, err)
	assert.Empty(t, readings)

	require.NoError(t, mock.ExpectationsWereMet())
}
