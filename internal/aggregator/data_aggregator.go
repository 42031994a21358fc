package aggregator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wisefido-vital-focus/internal/config"
	"wisefido-vital-focus/internal/models"
	"wisefido-vital-focus/internal/repository"

	"go.uber.org/zap"
)

// 每个设备拉取的最新观测条数
// Radar 多人跟踪时每个 tracking 一行，需要多拉几条才能覆盖所有 tracking
const readingsPerDevice = 16

// CardReader 卡片基础信息读取（PostgreSQL cards 表）
type CardReader interface {
	GetCardByID(tenantID, cardID string) (*repository.CardInfo, error)
	GetCardDevices(cardID string) ([]repository.DeviceJSON, error)
	GetCardResidents(cardID string) ([]repository.ResidentJSON, error)
}

// TelemetryReader 设备时序数据读取（iot_timeseries 表）
type TelemetryReader interface {
	GetLatestReadings(tenantID string, deviceIDs []string, limit int) (map[string][]*models.DeviceReading, error)
}

// AlarmReader 报警事件读取（alarm_events 表）
type AlarmReader interface {
	GetUnresolvedByDevices(tenantID string, deviceIDs []string) ([]models.AlarmEvent, error)
}

// DataAggregator 数据聚合器（聚合卡片数据）
type DataAggregator struct {
	config        *config.Config
	cardRepo      CardReader
	telemetryRepo TelemetryReader
	alarmRepo     AlarmReader
	logger        *zap.Logger

	now func() time.Time // 测试时可替换
}

// NewDataAggregator 创建数据聚合器
func NewDataAggregator(
	cfg *config.Config,
	cardRepo CardReader,
	telemetryRepo TelemetryReader,
	alarmRepo AlarmReader,
	logger *zap.Logger,
) *DataAggregator {
	return &DataAggregator{
		config:        cfg,
		cardRepo:      cardRepo,
		telemetryRepo: telemetryRepo,
		alarmRepo:     alarmRepo,
		logger:        logger,
		now:           time.Now,
	}
}

// AggregateCard 聚合单个卡片的数据
// 输入：
//   - PostgreSQL: cards 表（基础信息 + devices/residents JSONB）
//   - PostgreSQL: iot_timeseries（设备最新观测）
//   - PostgreSQL: alarm_events（未解决报警）
// 输出：
//   - VitalFocusCard 对象
//
// 报警库读取失败时不中断：设置 alarms_unavailable，卡片其余部分照常产出。
func (a *DataAggregator) AggregateCard(ctx context.Context, tenantID, cardID string) (*models.VitalFocusCard, error) {
	// 1. 从 PostgreSQL 读取卡片基础信息
	cardInfo, err := a.cardRepo.GetCardByID(tenantID, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to get card info: %w", err)
	}

	// 2. 解析卡片绑定的设备和住户（从 cards.devices 和 cards.residents JSONB）
	devices, err := a.cardRepo.GetCardDevices(cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to get card devices: %w", err)
	}

	residents, err := a.cardRepo.GetCardResidents(cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to get card residents: %w", err)
	}

	// 3. 构建基础 VitalFocusCard
	vitalCard := &models.VitalFocusCard{
		CardID:        cardInfo.CardID,
		TenantID:      cardInfo.TenantID,
		CardType:      cardInfo.CardType,
		BedID:         cardInfo.BedID,
		CardName:      cardInfo.CardName,
		CardAddress:   cardInfo.CardAddress,
		Residents:     convertResidents(residents),
		Devices:       convertDevices(devices),
		DeviceCount:   len(devices),
		ResidentCount: len(residents),
	}

	// 设置 location_id（对于 Location 卡片）
	if cardInfo.CardType == "Location" {
		vitalCard.LocationID = &cardInfo.UnitID
	}

	// 报警显示控制透传（阈值语义由前端解释）
	vitalCard.IconAlarmLevel = cardInfo.IconAlarmLevel
	vitalCard.PopAlarmEmerge = cardInfo.PopAlarmEmerge

	// 设置 primary_resident_id（对于 ActiveBed 卡片）
	if cardInfo.CardType == "ActiveBed" && cardInfo.ResidentID != nil {
		vitalCard.PrimaryResidentID = cardInfo.ResidentID
	}

	// 4. 筛选参与聚合的传感器设备
	sensors := a.selectSensors(cardInfo, devices)

	// 5. 读取设备最新观测并合并
	var readings map[string][]*models.DeviceReading
	if len(sensors.allIDs) > 0 {
		readings, err = a.telemetryRepo.GetLatestReadings(tenantID, sensors.allIDs, readingsPerDevice)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest readings: %w", err)
		}
	}
	merged := a.mergeTelemetry(sensors, readings)

	// 6. 读取报警事件并汇总
	//    报警作用域是卡片的全部设备（含非传感器类）
	allDeviceIDs := make([]string, 0, len(devices))
	for _, d := range devices {
		allDeviceIDs = append(allDeviceIDs, d.DeviceID)
	}

	// 无设备卡片没有报警来源，计数为 0 而非"未知"
	hasFallAlarm := false
	var events []models.AlarmEvent
	alarmsOK := true
	if len(allDeviceIDs) > 0 {
		var alarmErr error
		events, alarmErr = a.alarmRepo.GetUnresolvedByDevices(tenantID, allDeviceIDs)
		if alarmErr != nil {
			a.logger.Error("Failed to get alarm events, card produced without alarms",
				zap.String("card_id", cardID),
				zap.Error(alarmErr),
			)
			vitalCard.AlarmsUnavailable = true
			alarmsOK = false
		}
	}
	if alarmsOK {
		summary := RollupAlarms(events, a.config.Aggregator.Aggregation.MaxAlarms, a.logger)
		vitalCard.UnhandledAlarm0 = intPtr(summary.Counts[0])
		vitalCard.UnhandledAlarm1 = intPtr(summary.Counts[1])
		vitalCard.UnhandledAlarm2 = intPtr(summary.Counts[2])
		vitalCard.UnhandledAlarm3 = intPtr(summary.Counts[3])
		vitalCard.UnhandledAlarm4 = intPtr(summary.Counts[4])
		vitalCard.TotalUnhandledAlarms = intPtr(summary.Total)
		vitalCard.Alarms = summary.Items
		hasFallAlarm = hasActiveFallEvent(events)
	}

	// 7. 在床状态下抑制非显式跌倒姿态
	SuppressFallInBed(merged, cardInfo.CardType, hasFallAlarm, a.logger, cardID)

	// 8. 合并实时数据到卡片
	a.applyRealtime(vitalCard, sensors, readings, merged)

	return vitalCard, nil
}

// sensorSet 按类别划分的卡片传感器（保持 JSONB 中的设备顺序，direct 在前）
type sensorSet struct {
	allIDs []string

	// 生命体征/床状态作用域：ActiveBed 只用 direct 设备，Location 用全部
	vitalSleepace []string
	vitalRadar    []string

	// 姿态作用域：全部 Radar（含 indirect）
	presenceRadar []string

	// 连接状态作用域
	anySleepace bool
	anyRadar    bool
}

// selectSensors 筛选参与聚合的设备并划分作用域
//
// direct 设备声称绑定到其他床位时属于数据不一致：
// 记录告警并整体排除出本轮聚合，不让脏数据污染卡片。
func (a *DataAggregator) selectSensors(cardInfo *repository.CardInfo, devices []repository.DeviceJSON) *sensorSet {
	set := &sensorSet{}

	for _, device := range devices {
		isSleepace := models.IsSleepPadClass(device.DeviceType)
		isRadar := device.DeviceType == models.DeviceTypeRadar
		if !isSleepace && !isRadar {
			continue
		}

		if cardInfo.CardType == "ActiveBed" && device.BindingType == models.BindingDirect &&
			device.BedID != nil && cardInfo.BedID != nil && *device.BedID != *cardInfo.BedID {
			a.logger.Warn("Device bound to a different bed than its card, excluded from aggregation",
				zap.String("card_id", cardInfo.CardID),
				zap.String("device_id", device.DeviceID),
				zap.String("device_bed_id", *device.BedID),
				zap.String("card_bed_id", *cardInfo.BedID),
			)
			continue
		}

		set.allIDs = append(set.allIDs, device.DeviceID)
		if isSleepace {
			set.anySleepace = true
		}
		if isRadar {
			set.anyRadar = true
			set.presenceRadar = append(set.presenceRadar, device.DeviceID)
		}

		inVitalScope := cardInfo.CardType != "ActiveBed" || device.BindingType == models.BindingDirect
		if inVitalScope {
			if isSleepace {
				set.vitalSleepace = append(set.vitalSleepace, device.DeviceID)
			} else {
				set.vitalRadar = append(set.vitalRadar, device.DeviceID)
			}
		}
	}

	return set
}

// mergeTelemetry 执行逐项合并
func (a *DataAggregator) mergeTelemetry(sensors *sensorSet, readings map[string][]*models.DeviceReading) *MergedRealtime {
	merged := NewMergedRealtime()
	if len(readings) == 0 {
		return merged
	}

	collect := func(deviceIDs []string) []*models.DeviceReading {
		var result []*models.DeviceReading
		for _, id := range deviceIDs {
			result = append(result, readings[id]...)
		}
		return result
	}

	sleepace := collect(sensors.vitalSleepace)
	radar := collect(sensors.vitalRadar)

	MergeVitalSigns(sleepace, radar, merged)
	MergeBedAndSleepState(sleepace, radar, merged)

	radarByDevice := make([][]*models.DeviceReading, 0, len(sensors.presenceRadar))
	for _, id := range sensors.presenceRadar {
		if rows := readings[id]; len(rows) > 0 {
			radarByDevice = append(radarByDevice, rows)
		}
	}
	CollectPresence(radarByDevice, merged, a.logger)

	merged.Timestamp = MaxReadingTimestamp(sleepace, radar)
	return merged
}

// applyRealtime 合并实时数据到 VitalFocusCard
func (a *DataAggregator) applyRealtime(
	vitalCard *models.VitalFocusCard,
	sensors *sensorSet,
	readings map[string][]*models.DeviceReading,
	merged *MergedRealtime,
) {
	// 生命体征
	vitalCard.Heart = merged.Heart
	vitalCard.Breath = merged.Breath
	vitalCard.HeartSource = strPtr(merged.HeartSource)
	vitalCard.BreathSource = strPtr(merged.BreathSource)

	// 睡眠状态
	vitalCard.SleepStage = merged.SleepStage
	vitalCard.SleepStateDisplay = merged.SleepStateDisplay

	// 床状态 + 状态变化时间/持续时间
	if merged.BedStatus != nil {
		vitalCard.BedStatus = merged.BedStatus
		if merged.BedStatusAt != nil {
			vitalCard.BedStatusTimestamp = strPtr(FormatClock(*merged.BedStatusAt))
			vitalCard.StatusDuration = strPtr(FormatDuration(a.now().Sub(*merged.BedStatusAt)))
		}
	}

	// 姿态数据（仅当卡片有 Radar 设备时输出，无传感器时字段缺失）
	if sensors.anyRadar {
		vitalCard.PersonCount = intPtr(merged.PersonCount)
		if len(merged.Postures) > 0 {
			vitalCard.Postures = merged.Postures
		}
	}

	// 设备连接状态：该类传感器的最新数据在判定窗口内为 online
	staleAfter := time.Duration(a.config.Aggregator.Aggregation.StaleAfter) * time.Second
	cutoff := a.now().Add(-staleAfter)
	if sensors.anyRadar {
		vitalCard.RConnection = intPtr(a.connectionStatus(sensors, readings, models.DeviceTypeRadar, cutoff))
	}
	if sensors.anySleepace {
		vitalCard.SConnection = intPtr(a.connectionStatus(sensors, readings, models.DeviceTypeSleepace, cutoff))
	}
}

// connectionStatus 判定某一类传感器的连接状态：1=online, 0=offline
func (a *DataAggregator) connectionStatus(
	sensors *sensorSet,
	readings map[string][]*models.DeviceReading,
	class string,
	cutoff time.Time,
) int {
	for _, id := range sensors.allIDs {
		for _, data := range readings[id] {
			matches := data.DeviceType == class ||
				(class == models.DeviceTypeSleepace && models.IsSleepPadClass(data.DeviceType))
			if matches && data.Timestamp.After(cutoff) {
				return 1
			}
		}
	}
	return 0
}

// hasActiveFallEvent 是否存在显式的 active 跌倒报警
func hasActiveFallEvent(events []models.AlarmEvent) bool {
	for _, event := range events {
		if event.AlarmStatus != models.AlarmStatusActive {
			continue
		}
		if strings.Contains(strings.ToLower(event.EventType), "fall") {
			return true
		}
	}
	return false
}

// convertResidents 转换住户数据
func convertResidents(residents []repository.ResidentJSON) []models.CardResident {
	result := make([]models.CardResident, 0, len(residents))
	for _, r := range residents {
		result = append(result, models.CardResident{
			ResidentID:   r.ResidentID,
			Nickname:     r.Nickname,
			ServiceLevel: r.ServiceLevel,
			UnitID:       r.UnitID,
			BedID:        r.BedID,
		})
	}
	return result
}

// convertDevices 转换设备数据
func convertDevices(devices []repository.DeviceJSON) []models.CardDevice {
	result := make([]models.CardDevice, 0, len(devices))
	for _, d := range devices {
		result = append(result, models.CardDevice{
			DeviceID:    d.DeviceID,
			DeviceName:  d.DeviceName,
			DeviceType:  d.DeviceType,
			DeviceModel: d.DeviceModel,
			BindingType: d.BindingType,
			BedID:       d.BedID,
			BedName:     d.BedName,
			RoomID:      d.RoomID,
			RoomName:    d.RoomName,
			UnitID:      d.UnitID,
		})
	}
	return result
}

func intPtr(i int) *int {
	return &i
}

func strPtr(s string) *string {
	return &s
}
