package aggregator

import (
	"testing"
	"wisefido-vital-focus/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func alarmEvent(id, level, status string, sec int64) models.AlarmEvent {
	return models.AlarmEvent{
		EventID:     id,
		TenantID:    "tenant-123",
		DeviceID:    "device-1",
		EventType:   "HeartRateHigh",
		Category:    "clinical",
		AlarmLevel:  level,
		AlarmStatus: status,
		TriggeredAt: ts(sec),
	}
}

func TestRollupAlarms_CountsActivePerLevel(t *testing.T) {
	events := []models.AlarmEvent{
		alarmEvent("e1", "0", models.AlarmStatusActive, 1000),
		alarmEvent("e2", "1", models.AlarmStatusActive, 1001),
		alarmEvent("e3", "1", models.AlarmStatusActive, 1002),
		alarmEvent("e4", "4", models.AlarmStatusActive, 1003),
	}

	summary := RollupAlarms(events, 20, zap.NewNop())

	assert.Equal(t, [5]int{1, 2, 0, 0, 1}, summary.Counts)
	assert.Equal(t, 4, summary.Total)
	assert.Len(t, summary.Items, 4)
}

func TestRollupAlarms_TotalEqualsSumOfLevels(t *testing.T) {
	events := []models.AlarmEvent{
		alarmEvent("e1", "EMERG", models.AlarmStatusActive, 1000),
		alarmEvent("e2", "ALERT", models.AlarmStatusActive, 1001),
		alarmEvent("e3", "CRIT", models.AlarmStatusActive, 1002),
		alarmEvent("e4", "ERR", models.AlarmStatusActive, 1003),
		alarmEvent("e5", "WARNING", models.AlarmStatusActive, 1004),
	}

	summary := RollupAlarms(events, 20, zap.NewNop())

	sum := 0
	for _, c := range summary.Counts {
		sum += c
	}
	assert.Equal(t, sum, summary.Total)
	assert.Equal(t, [5]int{1, 1, 1, 1, 1}, summary.Counts)
}

func TestRollupAlarms_ExcludesResolvedAndAcknowledged(t *testing.T) {
	events := []models.AlarmEvent{
		alarmEvent("e1", "1", models.AlarmStatusActive, 1000),
		alarmEvent("e2", "1", models.AlarmStatusAcknowledged, 1001),
		alarmEvent("e3", "1", models.AlarmStatusResolved, 1002),
	}

	summary := RollupAlarms(events, 20, zap.NewNop())

	assert.Equal(t, [5]int{0, 1, 0, 0, 0}, summary.Counts)
	assert.Equal(t, 1, summary.Total)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, "e1", summary.Items[0].EventID)
}

func TestRollupAlarms_NoAlarms(t *testing.T) {
	summary := RollupAlarms(nil, 20, zap.NewNop())

	assert.Equal(t, [5]int{0, 0, 0, 0, 0}, summary.Counts)
	assert.Equal(t, 0, summary.Total)
	assert.Empty(t, summary.Items)
}

func TestRollupAlarms_UnknownLevelCountedAsLevel4(t *testing.T) {
	events := []models.AlarmEvent{
		alarmEvent("e1", "PANIC", models.AlarmStatusActive, 1000),
	}

	summary := RollupAlarms(events, 20, zap.NewNop())

	// The event survives with its original level string intact
	assert.Equal(t, [5]int{0, 0, 0, 0, 1}, summary.Counts)
	assert.Equal(t, 1, summary.Total)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, "PANIC", summary.Items[0].AlarmLevel)
}

func TestRollupAlarms_NewestFirstAndCapped(t *testing.T) {
	events := []models.AlarmEvent{
		alarmEvent("old", "1", models.AlarmStatusActive, 1000),
		alarmEvent("newest", "1", models.AlarmStatusActive, 3000),
		alarmEvent("middle", "1", models.AlarmStatusActive, 2000),
	}

	summary := RollupAlarms(events, 2, zap.NewNop())

	// Counters see all three, the display list only the newest two
	assert.Equal(t, 3, summary.Total)
	require.Len(t, summary.Items, 2)
	assert.Equal(t, "newest", summary.Items[0].EventID)
	assert.Equal(t, "middle", summary.Items[1].EventID)
}

func TestParseAlarmLevel(t *testing.T) {
	tests := []struct {
		level string
		want  int
		known bool
	}{
		{"0", 0, true},
		{"EMERG", 0, true},
		{"1", 1, true},
		{"ALERT", 1, true},
		{"2", 2, true},
		{"CRIT", 2, true},
		{"3", 3, true},
		{"ERR", 3, true},
		{"4", 4, true},
		{"WARNING", 4, true},
		{"NOTICE", 4, false},
		{"", 4, false},
	}

	for _, tt := range tests {
		got, known := ParseAlarmLevel(tt.level)
		assert.Equal(t, tt.want, got, tt.level)
		assert.Equal(t, tt.known, known, tt.level)
	}
}
