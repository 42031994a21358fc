package models

import "time"

// 设备类型（device_store.device_type）
const (
	DeviceTypeSleepace = "Sleepace"
	DeviceTypeSleepPad = "SleepPad" // 旧型号别名，融合时与 Sleepace 同类
	DeviceTypeRadar    = "Radar"
)

// 绑定类型（cards.devices JSONB 中的 binding_type）
const (
	BindingDirect   = "direct"
	BindingIndirect = "indirect"
)

// IsSleepPadClass 判断设备类型是否为睡眠带类
func IsSleepPadClass(deviceType string) bool {
	return deviceType == DeviceTypeSleepace || deviceType == DeviceTypeSleepPad
}

// DeviceReading 设备最新的时序观测记录（iot_timeseries 表的一行）
// 每行最多携带一个 tracking_id；同一 Radar 同时跟踪多人时为多行
type DeviceReading struct {
	ID         int64
	TenantID   string
	DeviceID   string
	DeviceType string // "Radar" 或 "Sleepace"（JOIN device_store 获取）
	Timestamp  time.Time

	// 生命体征
	HeartRate       *int
	RespiratoryRate *int

	// 姿态（Radar）
	TrackingID     *string
	PostureCode    *string // walk/suspected-fall/sitting/stand/fall/lying
	PostureDisplay *string

	// 床状态/睡眠状态（主要来自 Sleepace）
	BedStatusCode     *string // on_bed/off_bed/ENTER_BED/LEFT_BED
	SleepStateCode    *string // SNOMED 编码
	SleepStateDisplay *string
}

// AlarmEvent 报警事件（alarm_events 表，聚合器的只读输入）
type AlarmEvent struct {
	EventID     string
	TenantID    string
	DeviceID    string
	EventType   string
	Category    string // safety, clinical, behavioral, device
	AlarmLevel  string // '0'..'4' 或 'EMERG'/'ALERT'/'CRIT'/'ERR'/'WARNING'
	AlarmStatus string // active, acknowledged, resolved
	TriggeredAt time.Time
	TriggeredBy *string
}

// 报警状态
const (
	AlarmStatusActive       = "active"
	AlarmStatusAcknowledged = "acknowledged"
	AlarmStatusResolved     = "resolved"
)
