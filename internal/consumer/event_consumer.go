package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"wisefido-vital-focus/internal/aggregator"
	"wisefido-vital-focus/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "wisefido-vital-focus/internal/redis"
)

// EventConsumer 拓扑事件消费者
//
// 监听 Redis Streams 上的设备/住户/床位/单元变化事件，
// 触发对应单元的卡片重建。
type EventConsumer struct {
	redisClient  *redis.Client
	cardCreator  *aggregator.CardCreator
	cardRepo     *repository.CardRepository
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
}

// CardEvent 卡片拓扑事件
type CardEvent struct {
	EventType  string                 `json:"event_type"`
	TenantID   string                 `json:"tenant_id"`
	UnitID     string                 `json:"unit_id"`
	BedID      string                 `json:"bed_id,omitempty"`
	DeviceID   string                 `json:"device_id,omitempty"`
	ResidentID string                 `json:"resident_id,omitempty"`
	Timestamp  int64                  `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewEventConsumer 创建事件消费者
func NewEventConsumer(
	redisClient *redis.Client,
	cardCreator *aggregator.CardCreator,
	cardRepo *repository.CardRepository,
	logger *zap.Logger,
	stream string,
	groupName string,
	consumerName string,
	batchSize int64,
) *EventConsumer {
	return &EventConsumer{
		redisClient:  redisClient,
		cardCreator:  cardCreator,
		cardRepo:     cardRepo,
		logger:       logger,
		stream:       stream,
		groupName:    groupName,
		consumerName: consumerName,
		batchSize:    batchSize,
	}
}

// Start 启动事件消费者（阻塞直到 ctx 取消）
func (c *EventConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Event consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.groupName),
		zap.String("consumer_name", c.consumerName),
	)

	// 消费事件（带指数退避）
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeEvents(ctx); err != nil {
				c.logger.Error("Failed to consume events",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				// 成功时重置退避时间
				backoffDuration = time.Second
			}
		}
	}
}

// consumeEvents 读取并处理一批事件
func (c *EventConsumer) consumeEvents(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.stream,
		c.groupName,
		c.consumerName,
		c.batchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		if err := c.processEvent(ctx, msg); err != nil {
			c.logger.Error("Failed to process event",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
			continue
		}
		if err := c.redisClient.XAck(ctx, c.stream, c.groupName, msg.ID).Err(); err != nil {
			c.logger.Warn("Failed to ack message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// processEvent 处理单个事件：所有已知事件类型都归结为"重建所属单元的卡片"
func (c *EventConsumer) processEvent(ctx context.Context, msg rediscommon.StreamMessage) error {
	event, err := c.parseEvent(msg)
	if err != nil {
		return fmt.Errorf("failed to parse event: %w", err)
	}

	c.logger.Info("Processing card event",
		zap.String("event_type", event.EventType),
		zap.String("tenant_id", event.TenantID),
		zap.String("unit_id", event.UnitID),
	)

	switch event.EventType {
	case "device.bound", "device.unbound", "device.monitoring_changed",
		"resident.bound", "resident.unbound", "resident.status_changed",
		"bed.status_changed", "bed.device_count_changed",
		"unit.info_changed":
		return c.recreateCards(event)
	default:
		c.logger.Warn("Unknown event type",
			zap.String("event_type", event.EventType),
		)
		return nil
	}
}

// recreateCards 定位事件所属单元并重建卡片
func (c *EventConsumer) recreateCards(event *CardEvent) error {
	unitID := event.UnitID
	if unitID == "" && event.BedID != "" {
		// 事件只带 bed_id 时，需要反查 unit_id
		resolved, err := c.cardRepo.GetUnitIDByBedID(event.TenantID, event.BedID)
		if err != nil {
			return fmt.Errorf("failed to get unit_id by bed_id: %w", err)
		}
		unitID = resolved
	}
	if unitID == "" {
		c.logger.Warn("Event carries neither unit_id nor bed_id, skipped",
			zap.String("event_type", event.EventType),
		)
		return nil
	}

	return c.cardCreator.CreateCardsForUnit(event.TenantID, unitID)
}

// parseEvent 解析事件消息
// 兼容两种格式：data 字段内嵌 JSON，或字段平铺在 Stream values 中
func (c *EventConsumer) parseEvent(msg rediscommon.StreamMessage) (*CardEvent, error) {
	if dataStr, ok := msg.Values["data"].(string); ok {
		var event CardEvent
		if err := json.Unmarshal([]byte(dataStr), &event); err == nil {
			return &event, nil
		}
	}

	event := &CardEvent{}

	if eventType, ok := msg.Values["event_type"].(string); ok {
		event.EventType = eventType
	}
	if tenantID, ok := msg.Values["tenant_id"].(string); ok {
		event.TenantID = tenantID
	}
	if unitID, ok := msg.Values["unit_id"].(string); ok {
		event.UnitID = unitID
	}
	if bedID, ok := msg.Values["bed_id"].(string); ok {
		event.BedID = bedID
	}
	if deviceID, ok := msg.Values["device_id"].(string); ok {
		event.DeviceID = deviceID
	}
	if residentID, ok := msg.Values["resident_id"].(string); ok {
		event.ResidentID = residentID
	}

	if event.EventType == "" || event.TenantID == "" {
		return nil, fmt.Errorf("invalid event: missing event_type or tenant_id")
	}

	return event, nil
}
