package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"
	"wisefido-vital-focus/internal/config"
	"wisefido-vital-focus/internal/models"
	"wisefido-vital-focus/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCardReader struct {
	card      *repository.CardInfo
	devices   []repository.DeviceJSON
	residents []repository.ResidentJSON
}

func (f *fakeCardReader) GetCardByID(tenantID, cardID string) (*repository.CardInfo, error) {
	return f.card, nil
}

func (f *fakeCardReader) GetCardDevices(cardID string) ([]repository.DeviceJSON, error) {
	return f.devices, nil
}

func (f *fakeCardReader) GetCardResidents(cardID string) ([]repository.ResidentJSON, error) {
	return f.residents, nil
}

type fakeTelemetryReader struct {
	readings map[string][]*models.DeviceReading
	queried  []string
}

func (f *fakeTelemetryReader) GetLatestReadings(tenantID string, deviceIDs []string, limit int) (map[string][]*models.DeviceReading, error) {
	f.queried = deviceIDs
	return f.readings, nil
}

type fakeAlarmReader struct {
	events []models.AlarmEvent
	err    error
}

func (f *fakeAlarmReader) GetUnresolvedByDevices(tenantID string, deviceIDs []string) ([]models.AlarmEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

var testNow = time.Unix(10000, 0)

func newTestAggregator(cards *fakeCardReader, telemetry *fakeTelemetryReader, alarms *fakeAlarmReader) *DataAggregator {
	cfg := &config.Config{}
	cfg.Aggregator.Aggregation.MaxAlarms = 20
	cfg.Aggregator.Aggregation.StaleAfter = 300

	agg := NewDataAggregator(cfg, cards, telemetry, alarms, zap.NewNop())
	agg.now = func() time.Time { return testNow }
	return agg
}

func activeBedCardInfo() *repository.CardInfo {
	bedID := "bed-1"
	residentID := "resident-1"
	return &repository.CardInfo{
		CardID:      "card-1",
		TenantID:    "tenant-123",
		CardType:    "ActiveBed",
		BedID:       &bedID,
		UnitID:      "unit-456",
		CardName:    "Smith",
		CardAddress: "BranchA-E203",
		ResidentID:  &residentID,
	}
}

func cardDevice(id, deviceType, bindingType string, bedID *string) repository.DeviceJSON {
	return repository.DeviceJSON{
		DeviceID:    id,
		DeviceName:  id,
		DeviceType:  deviceType,
		BindingType: bindingType,
		BedID:       bedID,
		UnitID:      "unit-456",
	}
}

func TestAggregateCard_ActiveBedFull(t *testing.T) {
	bedID := "bed-1"
	cards := &fakeCardReader{
		card: activeBedCardInfo(),
		devices: []repository.DeviceJSON{
			cardDevice("sleepace-1", "Sleepace", "direct", &bedID),
			cardDevice("radar-1", "Radar", "direct", &bedID),
		},
		residents: []repository.ResidentJSON{
			{ResidentID: "resident-1", Nickname: "Smith", UnitID: strp("unit-456"), BedID: &bedID},
		},
	}

	telemetry := &fakeTelemetryReader{
		readings: map[string][]*models.DeviceReading{
			"sleepace-1": {
				{
					DeviceID:        "sleepace-1",
					DeviceType:      models.DeviceTypeSleepace,
					Timestamp:       testNow.Add(-10 * time.Second),
					HeartRate:       intp(62),
					RespiratoryRate: intp(14),
					BedStatusCode:   strp("on_bed"),
				},
			},
			"radar-1": {
				presenceReadingAt("radar-1", "t1", "lying", testNow.Add(-5*time.Second)),
			},
		},
	}

	alarms := &fakeAlarmReader{
		events: []models.AlarmEvent{
			alarmEvent("e1", "1", models.AlarmStatusActive, 9000),
		},
	}

	agg := newTestAggregator(cards, telemetry, alarms)
	card, err := agg.AggregateCard(context.Background(), "tenant-123", "card-1")
	require.NoError(t, err)

	assert.Equal(t, "card-1", card.CardID)
	assert.Equal(t, "ActiveBed", card.CardType)
	require.NotNil(t, card.PrimaryResidentID)
	assert.Equal(t, "resident-1", *card.PrimaryResidentID)
	assert.Equal(t, 2, card.DeviceCount)
	assert.Equal(t, 1, card.ResidentCount)
	require.Len(t, card.Residents, 1)
	require.NotNil(t, card.Residents[0].BedID)
	assert.Equal(t, "bed-1", *card.Residents[0].BedID)
	require.NotNil(t, card.Residents[0].UnitID)
	assert.Equal(t, "unit-456", *card.Residents[0].UnitID)

	require.NotNil(t, card.Heart)
	assert.Equal(t, 62, *card.Heart)
	assert.Equal(t, "s", *card.HeartSource)
	assert.Equal(t, "s", *card.BreathSource)

	require.NotNil(t, card.BedStatus)
	assert.Equal(t, BedStatusInBed, *card.BedStatus)
	require.NotNil(t, card.StatusDuration)
	assert.Equal(t, "0h 0m", *card.StatusDuration)

	require.NotNil(t, card.PersonCount)
	assert.Equal(t, 1, *card.PersonCount)
	assert.Equal(t, []int{6}, card.Postures)

	require.NotNil(t, card.SConnection)
	assert.Equal(t, 1, *card.SConnection)
	require.NotNil(t, card.RConnection)
	assert.Equal(t, 1, *card.RConnection)

	require.NotNil(t, card.TotalUnhandledAlarms)
	assert.Equal(t, 1, *card.TotalUnhandledAlarms)
	assert.Equal(t, 1, *card.UnhandledAlarm1)
	assert.Equal(t, 0, *card.UnhandledAlarm0)
	require.Len(t, card.Alarms, 1)
	assert.False(t, card.AlarmsUnavailable)
}

func TestAggregateCard_IndirectRadarExcludedFromVitals(t *testing.T) {
	// Scenario A bed card: the absorbed room radar contributes presence
	// but never vitals, those stay scoped to the bed's own devices
	bedID := "bed-1"
	cards := &fakeCardReader{
		card: activeBedCardInfo(),
		devices: []repository.DeviceJSON{
			cardDevice("sleepace-1", "Sleepace", "direct", &bedID),
			cardDevice("radar-room", "Radar", "indirect", nil),
		},
	}

	telemetry := &fakeTelemetryReader{
		readings: map[string][]*models.DeviceReading{
			"sleepace-1": {
				{
					DeviceID:   "sleepace-1",
					DeviceType: models.DeviceTypeSleepace,
					Timestamp:  testNow.Add(-10 * time.Second),
					HeartRate:  intp(62),
				},
			},
			"radar-room": {
				{
					DeviceID:        "radar-room",
					DeviceType:      models.DeviceTypeRadar,
					Timestamp:       testNow.Add(-5 * time.Second),
					RespiratoryRate: intp(20),
					TrackingID:      strp("t1"),
					PostureCode:     strp("walk"),
				},
			},
		},
	}

	agg := newTestAggregator(cards, telemetry, &fakeAlarmReader{})
	card, err := agg.AggregateCard(context.Background(), "tenant-123", "card-1")
	require.NoError(t, err)

	require.NotNil(t, card.Heart)
	assert.Equal(t, 62, *card.Heart)
	// The room radar's respiratory rate must not leak into the bed card
	assert.Nil(t, card.Breath)
	assert.Equal(t, "-", *card.BreathSource)

	// Presence still covers the whole room
	require.NotNil(t, card.PersonCount)
	assert.Equal(t, 1, *card.PersonCount)
	assert.Equal(t, []int{1}, card.Postures)
}

func TestAggregateCard_BindingConflictExcluded(t *testing.T) {
	bedID := "bed-1"
	otherBed := "bed-2"
	cards := &fakeCardReader{
		card: activeBedCardInfo(),
		devices: []repository.DeviceJSON{
			cardDevice("sleepace-wrong", "Sleepace", "direct", &otherBed),
			cardDevice("sleepace-1", "Sleepace", "direct", &bedID),
		},
	}

	telemetry := &fakeTelemetryReader{
		readings: map[string][]*models.DeviceReading{
			"sleepace-1": {
				{
					DeviceID:   "sleepace-1",
					DeviceType: models.DeviceTypeSleepace,
					Timestamp:  testNow,
					HeartRate:  intp(62),
				},
			},
		},
	}

	agg := newTestAggregator(cards, telemetry, &fakeAlarmReader{})
	card, err := agg.AggregateCard(context.Background(), "tenant-123", "card-1")
	require.NoError(t, err)

	// The conflicting device is not even queried
	assert.Equal(t, []string{"sleepace-1"}, telemetry.queried)
	require.NotNil(t, card.Heart)
	assert.Equal(t, 62, *card.Heart)
}

func TestAggregateCard_AlarmStoreFailure(t *testing.T) {
	bedID := "bed-1"
	cards := &fakeCardReader{
		card: activeBedCardInfo(),
		devices: []repository.DeviceJSON{
			cardDevice("sleepace-1", "Sleepace", "direct", &bedID),
		},
	}

	telemetry := &fakeTelemetryReader{
		readings: map[string][]*models.DeviceReading{
			"sleepace-1": {
				{
					DeviceID:   "sleepace-1",
					DeviceType: models.DeviceTypeSleepace,
					Timestamp:  testNow,
					HeartRate:  intp(62),
				},
			},
		},
	}

	alarms := &fakeAlarmReader{err: errors.New("connection refused")}

	agg := newTestAggregator(cards, telemetry, alarms)
	card, err := agg.AggregateCard(context.Background(), "tenant-123", "card-1")
	require.NoError(t, err)

	// Vitals still come through, alarm fields are marked unavailable
	assert.True(t, card.AlarmsUnavailable)
	assert.Nil(t, card.TotalUnhandledAlarms)
	assert.Nil(t, card.UnhandledAlarm0)
	assert.Empty(t, card.Alarms)
	require.NotNil(t, card.Heart)
	assert.Equal(t, 62, *card.Heart)
}

func TestAggregateCard_NoTelemetry(t *testing.T) {
	bedID := "bed-1"
	cards := &fakeCardReader{
		card: activeBedCardInfo(),
		devices: []repository.DeviceJSON{
			cardDevice("sleepace-1", "Sleepace", "direct", &bedID),
		},
	}

	telemetry := &fakeTelemetryReader{readings: map[string][]*models.DeviceReading{}}

	agg := newTestAggregator(cards, telemetry, &fakeAlarmReader{})
	card, err := agg.AggregateCard(context.Background(), "tenant-123", "card-1")
	require.NoError(t, err)

	assert.Nil(t, card.Heart)
	assert.Nil(t, card.Breath)
	assert.Equal(t, "-", *card.HeartSource)
	assert.Equal(t, "-", *card.BreathSource)
	assert.Nil(t, card.BedStatus)
	assert.Nil(t, card.PersonCount)
	// No fresh data means the sleepace reads as offline
	require.NotNil(t, card.SConnection)
	assert.Equal(t, 0, *card.SConnection)
}

func TestAggregateCard_FallSuppressedInBed(t *testing.T) {
	bedID := "bed-1"
	cards := &fakeCardReader{
		card: activeBedCardInfo(),
		devices: []repository.DeviceJSON{
			cardDevice("sleepace-1", "Sleepace", "direct", &bedID),
			cardDevice("radar-1", "Radar", "direct", &bedID),
		},
	}

	telemetry := &fakeTelemetryReader{
		readings: map[string][]*models.DeviceReading{
			"sleepace-1": {
				{
					DeviceID:      "sleepace-1",
					DeviceType:    models.DeviceTypeSleepace,
					Timestamp:     testNow,
					BedStatusCode: strp("on_bed"),
				},
			},
			"radar-1": {
				presenceReadingAt("radar-1", "t1", "fall", testNow),
			},
		},
	}

	agg := newTestAggregator(cards, telemetry, &fakeAlarmReader{})
	card, err := agg.AggregateCard(context.Background(), "tenant-123", "card-1")
	require.NoError(t, err)

	require.NotNil(t, card.BedStatus)
	assert.Equal(t, BedStatusInBed, *card.BedStatus)
	// The radar glitch posture vanishes, the person count stays honest
	assert.Empty(t, card.Postures)
}

func TestAggregateCard_FallKeptWithActiveFallAlarm(t *testing.T) {
	bedID := "bed-1"
	cards := &fakeCardReader{
		card: activeBedCardInfo(),
		devices: []repository.DeviceJSON{
			cardDevice("sleepace-1", "Sleepace", "direct", &bedID),
			cardDevice("radar-1", "Radar", "direct", &bedID),
		},
	}

	telemetry := &fakeTelemetryReader{
		readings: map[string][]*models.DeviceReading{
			"sleepace-1": {
				{
					DeviceID:      "sleepace-1",
					DeviceType:    models.DeviceTypeSleepace,
					Timestamp:     testNow,
					BedStatusCode: strp("on_bed"),
				},
			},
			"radar-1": {
				presenceReadingAt("radar-1", "t1", "fall", testNow),
			},
		},
	}

	fallEvent := alarmEvent("e1", "0", models.AlarmStatusActive, 9900)
	fallEvent.EventType = "FallDetected"
	alarms := &fakeAlarmReader{events: []models.AlarmEvent{fallEvent}}

	agg := newTestAggregator(cards, telemetry, alarms)
	card, err := agg.AggregateCard(context.Background(), "tenant-123", "card-1")
	require.NoError(t, err)

	assert.Equal(t, []int{5}, card.Postures)
}

func presenceReadingAt(deviceID, trackingID, posture string, at time.Time) *models.DeviceReading {
	return &models.DeviceReading{
		DeviceID:    deviceID,
		DeviceType:  models.DeviceTypeRadar,
		Timestamp:   at,
		TrackingID:  &trackingID,
		PostureCode: &posture,
	}
}

func TestAggregateCard_NoDevicesReportsZeroAlarms(t *testing.T) {
	cards := &fakeCardReader{
		card: activeBedCardInfo(),
		residents: []repository.ResidentJSON{
			{ResidentID: "resident-1", Nickname: "Smith"},
		},
	}
	telemetry := &fakeTelemetryReader{}
	alarms := &fakeAlarmReader{}

	agg := newTestAggregator(cards, telemetry, alarms)
	card, err := agg.AggregateCard(context.Background(), "tenant-123", "card-1")
	require.NoError(t, err)

	// 没有设备意味着没有报警，而不是报警不可用
	assert.False(t, card.AlarmsUnavailable)
	require.NotNil(t, card.TotalUnhandledAlarms)
	assert.Equal(t, 0, *card.TotalUnhandledAlarms)
	require.NotNil(t, card.UnhandledAlarm0)
	assert.Equal(t, 0, *card.UnhandledAlarm0)
	require.NotNil(t, card.UnhandledAlarm4)
	assert.Equal(t, 0, *card.UnhandledAlarm4)
	assert.Empty(t, card.Alarms)
	assert.Equal(t, 0, card.DeviceCount)
}
