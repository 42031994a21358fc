package repository

import (
	"database/sql"
	"fmt"
	"wisefido-vital-focus/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// TelemetryRepository IoT 时序数据仓库（聚合器的只读输入）
type TelemetryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTelemetryRepository 创建 IoT 时序数据仓库
func NewTelemetryRepository(db *sql.DB, logger *zap.Logger) *TelemetryRepository {
	return &TelemetryRepository{
		db:     db,
		logger: logger,
	}
}

// GetLatestReadings 批量获取多个设备的最新时序数据（优化 N+1 查询）
//
// 每个设备返回最新的 limit 条记录（按 timestamp 降序）。
// Radar 同时跟踪多人时每个 tracking_id 是独立的一行，
// limit 需要大于单设备可能的 tracking 数量才能取全姿态数据。
//
// 参数:
//   - tenantID: 租户 ID（用于数据隔离）
//   - deviceIDs: 设备 ID 列表
//   - limit: 每个设备返回的记录数限制
func (r *TelemetryRepository) GetLatestReadings(tenantID string, deviceIDs []string, limit int) (map[string][]*models.DeviceReading, error) {
	if len(deviceIDs) == 0 {
		return make(map[string][]*models.DeviceReading), nil
	}

	query := `
		SELECT
			its.id,
			its.tenant_id,
			its.device_id,
			its.timestamp,
			its.heart_rate,
			its.respiratory_rate,
			its.tracking_id,
			its.posture_snomed_code,
			its.posture_display,
			its.bed_status_snomed_code,
			its.sleep_state_snomed_code,
			its.sleep_state_display,
			COALESCE(ds.device_type, '') AS device_type,
			ROW_NUMBER() OVER (PARTITION BY its.device_id ORDER BY its.timestamp DESC) AS rn
		FROM iot_timeseries its
		LEFT JOIN devices d ON its.device_id = d.device_id
		LEFT JOIN device_store ds ON d.device_store_id = ds.device_store_id
		WHERE its.device_id = ANY($1) AND its.tenant_id = $2
		ORDER BY its.device_id, rn
	`

	rows, err := r.db.Query(query, pq.Array(deviceIDs), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query iot_timeseries: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]*models.DeviceReading)
	for rows.Next() {
		item := &models.DeviceReading{}
		var heartRate, respiratoryRate sql.NullInt64
		var trackingID sql.NullString
		var postureCode, postureDisplay sql.NullString
		var bedStatusCode sql.NullString
		var sleepStateCode, sleepStateDisplay sql.NullString
		var deviceType sql.NullString
		var rowNum int64

		err := rows.Scan(
			&item.ID,
			&item.TenantID,
			&item.DeviceID,
			&item.Timestamp,
			&heartRate,
			&respiratoryRate,
			&trackingID,
			&postureCode,
			&postureDisplay,
			&bedStatusCode,
			&sleepStateCode,
			&sleepStateDisplay,
			&deviceType,
			&rowNum,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		// 只取每个设备的前 limit 条记录
		if rowNum > int64(limit) {
			continue
		}

		if heartRate.Valid {
			hr := int(heartRate.Int64)
			item.HeartRate = &hr
		}
		if respiratoryRate.Valid {
			rr := int(respiratoryRate.Int64)
			item.RespiratoryRate = &rr
		}
		if trackingID.Valid {
			item.TrackingID = &trackingID.String
		}
		if postureCode.Valid {
			item.PostureCode = &postureCode.String
		}
		if postureDisplay.Valid {
			item.PostureDisplay = &postureDisplay.String
		}
		if bedStatusCode.Valid {
			item.BedStatusCode = &bedStatusCode.String
		}
		if sleepStateCode.Valid {
			item.SleepStateCode = &sleepStateCode.String
		}
		if sleepStateDisplay.Valid {
			item.SleepStateDisplay = &sleepStateDisplay.String
		}
		if deviceType.Valid {
			item.DeviceType = deviceType.String
		}

		result[item.DeviceID] = append(result[item.DeviceID], item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}

	return result, nil
}
