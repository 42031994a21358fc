package repository

import (
	"database/sql"
	"fmt"
	"wisefido-vital-focus/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// AlarmEventsRepository 报警事件仓库（聚合器的只读输入）
type AlarmEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlarmEventsRepository 创建报警事件仓库
func NewAlarmEventsRepository(db *sql.DB, logger *zap.Logger) *AlarmEventsRepository {
	return &AlarmEventsRepository{
		db:     db,
		logger: logger,
	}
}

// GetUnresolvedByDevices 获取一组设备的未解决报警事件
//
// 卡片的报警集合 = 卡片绑定设备触发的报警，排除 resolved（已解决）状态。
// resolved 报警既不进入展示列表也不参与计数。
// 结果按 triggered_at 降序（最新的在前）。
func (r *AlarmEventsRepository) GetUnresolvedByDevices(tenantID string, deviceIDs []string) ([]models.AlarmEvent, error) {
	if len(deviceIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT
			event_id,
			tenant_id,
			device_id,
			event_type,
			category,
			alarm_level,
			alarm_status,
			triggered_at,
			metadata->>'triggered_by' AS triggered_by
		FROM alarm_events
		WHERE tenant_id = $1
		  AND device_id = ANY($2)
		  AND alarm_status <> 'resolved'
		  AND (metadata->>'deleted_at' IS NULL)
		ORDER BY triggered_at DESC
	`

	rows, err := r.db.Query(query, tenantID, pq.Array(deviceIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query alarm events: %w", err)
	}
	defer rows.Close()

	var events []models.AlarmEvent
	for rows.Next() {
		var event models.AlarmEvent
		var triggeredBy sql.NullString

		if err := rows.Scan(
			&event.EventID,
			&event.TenantID,
			&event.DeviceID,
			&event.EventType,
			&event.Category,
			&event.AlarmLevel,
			&event.AlarmStatus,
			&event.TriggeredAt,
			&triggeredBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alarm event: %w", err)
		}

		if triggeredBy.Valid {
			event.TriggeredBy = &triggeredBy.String
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alarm events: %w", err)
	}

	return events, nil
}
