package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// CardInfo 卡片信息（用于数据聚合）
type CardInfo struct {
	CardID         string
	TenantID       string
	CardType       string // "ActiveBed" 或 "Location"
	BedID          *string
	UnitID         string
	CardName       string
	CardAddress    string
	ResidentID     *string // ActiveBed 卡片的主住户
	IconAlarmLevel *int
	PopAlarmEmerge *int
}

const cardColumns = `
		card_id,
		tenant_id,
		card_type,
		bed_id,
		unit_id,
		card_name,
		card_address,
		resident_id,
		icon_alarm_level,
		pop_alarm_emerge
`

func scanCardInfo(scan func(dest ...interface{}) error) (*CardInfo, error) {
	var card CardInfo
	var bedID, residentID sql.NullString
	var iconLevel, popEmerge sql.NullInt64

	err := scan(
		&card.CardID,
		&card.TenantID,
		&card.CardType,
		&bedID,
		&card.UnitID,
		&card.CardName,
		&card.CardAddress,
		&residentID,
		&iconLevel,
		&popEmerge,
	)
	if err != nil {
		return nil, err
	}

	if bedID.Valid {
		card.BedID = &bedID.String
	}
	if residentID.Valid {
		card.ResidentID = &residentID.String
	}
	if iconLevel.Valid {
		val := int(iconLevel.Int64)
		card.IconAlarmLevel = &val
	}
	if popEmerge.Valid {
		val := int(popEmerge.Int64)
		card.PopAlarmEmerge = &val
	}

	return &card, nil
}

// GetCardByID 根据卡片ID获取卡片信息（用于数据聚合）
func (r *CardRepository) GetCardByID(tenantID, cardID string) (*CardInfo, error) {
	query := `
		SELECT ` + cardColumns + `
		FROM cards
		WHERE card_id = $1 AND tenant_id = $2
	`

	card, err := scanCardInfo(r.db.QueryRow(query, cardID, tenantID).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("card not found: %s", cardID)
		}
		return nil, fmt.Errorf("failed to query card: %w", err)
	}

	return card, nil
}

// GetCardDevices 获取卡片绑定的设备列表（从 cards.devices JSONB 字段）
func (r *CardRepository) GetCardDevices(cardID string) ([]DeviceJSON, error) {
	query := `
		SELECT devices
		FROM cards
		WHERE card_id = $1
	`

	var devicesJSON json.RawMessage
	err := r.db.QueryRow(query, cardID).Scan(&devicesJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("card not found: %s", cardID)
		}
		return nil, fmt.Errorf("failed to query card devices: %w", err)
	}

	var devices []DeviceJSON
	if err := json.Unmarshal(devicesJSON, &devices); err != nil {
		return nil, fmt.Errorf("failed to unmarshal devices JSON: %w", err)
	}

	return devices, nil
}

// GetCardResidents 获取卡片绑定的住户列表（从 cards.residents JSONB 字段）
func (r *CardRepository) GetCardResidents(cardID string) ([]ResidentJSON, error) {
	query := `
		SELECT residents
		FROM cards
		WHERE card_id = $1
	`

	var residentsJSON json.RawMessage
	err := r.db.QueryRow(query, cardID).Scan(&residentsJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("card not found: %s", cardID)
		}
		return nil, fmt.Errorf("failed to query card residents: %w", err)
	}

	var residents []ResidentJSON
	if err := json.Unmarshal(residentsJSON, &residents); err != nil {
		return nil, fmt.Errorf("failed to unmarshal residents JSON: %w", err)
	}

	return residents, nil
}

// GetAllCards 获取所有卡片（用于数据聚合）
// 零张卡片返回空列表而非错误；查询失败（数据源不可用）返回错误
func (r *CardRepository) GetAllCards(tenantID string) ([]CardInfo, error) {
	query := `
		SELECT ` + cardColumns + `
		FROM cards
		WHERE tenant_id = $1
		ORDER BY card_id
	`

	rows, err := r.db.Query(query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []CardInfo
	for rows.Next() {
		card, err := scanCardInfo(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, *card)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cards: %w", err)
	}

	return cards, nil
}
