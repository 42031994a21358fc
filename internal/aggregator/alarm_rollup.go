package aggregator

import (
	"sort"

	"wisefido-vital-focus/internal/models"

	"go.uber.org/zap"
)

// AlarmSummary 单张卡片的报警汇总结果
type AlarmSummary struct {
	Counts [5]int // 按级别 0-4 统计的 active 报警数
	Total  int
	Items  []models.AlarmItem // active 报警列表（新的在前）
}

// ParseAlarmLevel 报警级别解析为 0-4 的显示桶
//
// 支持 syslog 数字（"0"-"4"）和名称（EMERG/ALERT/CRIT/ERR/WARNING）。
// 未知级别返回 (4, false)，按最低严重级别计入，不丢弃。
func ParseAlarmLevel(level string) (int, bool) {
	switch level {
	case "0", "EMERG", "EMERGENCY":
		return 0, true
	case "1", "ALERT":
		return 1, true
	case "2", "CRIT", "CRITICAL":
		return 2, true
	case "3", "ERR", "ERROR":
		return 3, true
	case "4", "WARNING":
		return 4, true
	default:
		return 4, false
	}
}

// RollupAlarms 汇总设备报警事件为卡片级计数器和列表
//
// 规则：
//   - resolved 事件不参与（查询层已排除，这里再次过滤兜底）
//   - 计数器只统计 alarm_status = active 的事件，acknowledged 不计数
//   - total = 五个级别计数之和（恒等式，不单独统计）
//   - 列表为 active 事件按 triggered_at 降序，最多 maxAlarms 条
//   - 未知 alarm_level 计入级别 4 并记录告警
func RollupAlarms(events []models.AlarmEvent, maxAlarms int, logger *zap.Logger) AlarmSummary {
	var summary AlarmSummary

	active := make([]models.AlarmEvent, 0, len(events))
	for _, event := range events {
		if event.AlarmStatus == models.AlarmStatusResolved {
			continue
		}
		if event.AlarmStatus != models.AlarmStatusActive {
			// acknowledged：不计数也不展示
			continue
		}

		level, known := ParseAlarmLevel(event.AlarmLevel)
		if !known {
			logger.Warn("Unknown alarm level, counted as level 4",
				zap.String("event_id", event.EventID),
				zap.String("alarm_level", event.AlarmLevel),
			)
		}
		summary.Counts[level]++
		active = append(active, event)
	}

	for _, count := range summary.Counts {
		summary.Total += count
	}

	// 新的在前；同一时间戳保持输入顺序
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].TriggeredAt.After(active[j].TriggeredAt)
	})
	if maxAlarms > 0 && len(active) > maxAlarms {
		active = active[:maxAlarms]
	}

	summary.Items = make([]models.AlarmItem, 0, len(active))
	for _, event := range active {
		var category *string
		if event.Category != "" {
			c := event.Category
			category = &c
		}
		summary.Items = append(summary.Items, models.AlarmItem{
			EventID:     event.EventID,
			EventType:   event.EventType,
			Category:    category,
			AlarmLevel:  event.AlarmLevel,
			AlarmStatus: event.AlarmStatus,
			TriggeredAt: event.TriggeredAt.Unix(),
			TriggeredBy: event.TriggeredBy,
		})
	}

	return summary
}
