package aggregator

import (
	"fmt"
	"time"
	"wisefido-vital-focus/internal/models"

	"go.uber.org/zap"
)

// 数据来源标记（与前端 v1.0 保持一致）
const (
	SourceSleepace = "s"
	SourceRadar    = "r"
	SourceNone     = "-"
)

// 床状态
const (
	BedStatusInBed    = 0
	BedStatusOutOfBed = 1
)

// PostureFall 跌倒姿态编码（在床时需要抑制）
const PostureFall = 5

// MergedRealtime 合并后的实时快照（单张卡片）
//
// 由 MergeVitalSigns / MergeBedAndSleepState / CollectPresence 逐步填充，
// 输入（设备观测记录）只读，不会被修改。
type MergedRealtime struct {
	// 生命体征（逐项合并）
	Heart        *int
	Breath       *int
	HeartSource  string // "s"/"r"/"-"
	BreathSource string

	// 床状态/睡眠状态
	BedStatus   *int // 0=in bed, 1=out of bed
	BedStatusAt *time.Time
	SleepStage  *int // 1=awake, 2=light sleep, 4=deep sleep
	SleepStateDisplay *string

	// 姿态数据（跨设备不去重）
	PersonCount int
	Postures    []int

	// 快照时间（所有参与数据的最大时间戳）
	Timestamp time.Time
}

// NewMergedRealtime 创建空快照（无数据状态）
func NewMergedRealtime() *MergedRealtime {
	return &MergedRealtime{
		HeartSource:  SourceNone,
		BreathSource: SourceNone,
	}
}

// MergeVitalSigns 合并生命体征（HR/RR）
//
// 规则：心率和呼吸率各自独立合并——
// 对每一项，睡眠带有有效读数则用睡眠带（来源 "s"），
// 否则用 Radar 的有效读数（来源 "r"），都没有则缺失（来源 "-"）。
// 睡眠带某一项缺失不影响它另一项胜出。
func MergeVitalSigns(sleepace, radar []*models.DeviceReading, result *MergedRealtime) {
	// 优先使用 Sleepace 数据
	for _, data := range sleepace {
		if result.Heart == nil && data.HeartRate != nil {
			result.Heart = data.HeartRate
			result.HeartSource = SourceSleepace
		}
		if result.Breath == nil && data.RespiratoryRate != nil {
			result.Breath = data.RespiratoryRate
			result.BreathSource = SourceSleepace
		}
	}

	// 如果 Sleepace 没有数据，使用 Radar 数据
	for _, data := range radar {
		if result.Heart == nil && data.HeartRate != nil {
			result.Heart = data.HeartRate
			result.HeartSource = SourceRadar
		}
		if result.Breath == nil && data.RespiratoryRate != nil {
			result.Breath = data.RespiratoryRate
			result.BreathSource = SourceRadar
		}
	}
}

// MergeBedAndSleepState 合并床状态和睡眠状态
// 规则：优先 Sleepace，无数据则 Radar
func MergeBedAndSleepState(sleepace, radar []*models.DeviceReading, result *MergedRealtime) {
	for _, data := range sleepace {
		if result.BedStatus == nil && data.BedStatusCode != nil {
			status := convertBedStatus(*data.BedStatusCode)
			result.BedStatus = &status
			ts := data.Timestamp
			result.BedStatusAt = &ts
		}
		if result.SleepStage == nil && data.SleepStateCode != nil {
			stage := convertSleepStage(*data.SleepStateCode)
			if stage > 0 {
				result.SleepStage = &stage
				result.SleepStateDisplay = data.SleepStateDisplay
			}
		}
	}

	for _, data := range radar {
		if result.BedStatus == nil && data.BedStatusCode != nil {
			status := convertBedStatus(*data.BedStatusCode)
			result.BedStatus = &status
			ts := data.Timestamp
			result.BedStatusAt = &ts
		}
		if result.SleepStage == nil && data.SleepStateCode != nil {
			stage := convertSleepStage(*data.SleepStateCode)
			if stage > 0 {
				result.SleepStage = &stage
				result.SleepStateDisplay = data.SleepStateDisplay
			}
		}
	}
}

// CollectPresence 收集所有 Radar 设备的人员/姿态数据
//
// 规则：
//   - 按设备顺序、每设备内按 tracking 首次出现顺序收集（direct 设备在前）
//   - 同一设备内同一个 tracking_id 有多条记录时，使用时间戳最新的
//   - 跨设备不去重：两个 Radar 各跟踪 1 人则 person_count = 2，
//     设备是独立的传感器，不合并为同一个世界模型
//   - 未知姿态编码归一为 0（unknown）并记录告警，不会被丢弃
//
// radarByDevice 的外层顺序即设备顺序（调用方负责 direct 在前）。
func CollectPresence(radarByDevice [][]*models.DeviceReading, result *MergedRealtime, logger *zap.Logger) {
	for _, readings := range radarByDevice {
		// 同一设备内：每个 tracking_id 取最新一条，保持首次出现顺序
		type trackedEntity struct {
			posture   int
			timestamp time.Time
		}
		latest := make(map[string]*trackedEntity)
		var order []string

		for _, data := range readings {
			if data.TrackingID == nil || data.PostureCode == nil {
				continue
			}
			trackingID := *data.TrackingID

			code, known := convertPostureCode(*data.PostureCode)
			if !known {
				logger.Warn("Unknown posture code, normalized to 0",
					zap.String("device_id", data.DeviceID),
					zap.String("posture_code", *data.PostureCode),
				)
			}

			if existing, ok := latest[trackingID]; ok {
				if data.Timestamp.After(existing.timestamp) {
					existing.posture = code
					existing.timestamp = data.Timestamp
				}
			} else {
				latest[trackingID] = &trackedEntity{posture: code, timestamp: data.Timestamp}
				order = append(order, trackingID)
			}
		}

		for _, trackingID := range order {
			result.Postures = append(result.Postures, latest[trackingID].posture)
		}
	}

	result.PersonCount = len(result.Postures)
}

// SuppressFallInBed 抑制在床状态下的跌倒姿态
//
// ActiveBed 卡片且床状态为在床时，人不可能同时"正常卧床"和"跌倒"——
// 非显式跌倒事件产生的跌倒姿态（编码 5）在此被移除。
// 跌倒姿态只在离床状态或 Location 卡片（公共区域）有效。
// hasFallAlarm 为真（存在显式的 active 跌倒报警）时不抑制。
func SuppressFallInBed(result *MergedRealtime, cardType string, hasFallAlarm bool, logger *zap.Logger, cardID string) {
	if cardType != "ActiveBed" {
		return
	}
	if result.BedStatus == nil || *result.BedStatus != BedStatusInBed {
		return
	}
	if hasFallAlarm {
		return
	}

	filtered := result.Postures[:0:0]
	suppressed := 0
	for _, p := range result.Postures {
		if p == PostureFall {
			suppressed++
			continue
		}
		filtered = append(filtered, p)
	}

	if suppressed > 0 {
		result.Postures = filtered
		logger.Debug("Suppressed fall posture while in bed",
			zap.String("card_id", cardID),
			zap.Int("suppressed_count", suppressed),
		)
	}
}

// MaxReadingTimestamp 返回所有观测记录中的最大时间戳
func MaxReadingTimestamp(groups ...[]*models.DeviceReading) time.Time {
	var max time.Time
	for _, readings := range groups {
		for _, data := range readings {
			if data.Timestamp.After(max) {
				max = data.Timestamp
			}
		}
	}
	return max
}

// convertBedStatus SNOMED 编码转换为数字：0=in bed, 1=out of bed
func convertBedStatus(bedStatus string) int {
	switch bedStatus {
	case "on_bed", "ENTER_BED":
		return BedStatusInBed
	case "off_bed", "LEFT_BED":
		return BedStatusOutOfBed
	default:
		return BedStatusInBed
	}
}

// convertSleepStage SNOMED 编码转换为数字：1=awake, 2=light sleep, 4=deep sleep
func convertSleepStage(snomedCode string) int {
	switch snomedCode {
	case "248218005": // Awake
		return 1
	case "248220003": // Light sleep
		return 2
	case "248221004": // Deep sleep
		return 4
	default:
		return 0
	}
}

// convertPostureCode 姿态编码转换为数字：
// 1=walk, 2=suspected-fall, 3=sitting, 4=stand, 5=fall, 6=lying
// 未知编码返回 (0, false)，由调用方记录告警
func convertPostureCode(code string) (int, bool) {
	switch code {
	case "walk":
		return 1, true
	case "suspected-fall":
		return 2, true
	case "sitting":
		return 3, true
	case "stand":
		return 4, true
	case "fall":
		return 5, true
	case "lying":
		return 6, true
	default:
		return 0, false
	}
}

// FormatClock 格式化床状态变化时间（"15:04"）
func FormatClock(t time.Time) string {
	return t.Format("15:04")
}

// FormatDuration 格式化持续时间（"2h 15m"）
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
