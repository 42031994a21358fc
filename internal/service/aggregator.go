package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"wisefido-vital-focus/internal/aggregator"
	"wisefido-vital-focus/internal/config"
	"wisefido-vital-focus/internal/consumer"
	"wisefido-vital-focus/internal/database"
	"wisefido-vital-focus/internal/models"
	"wisefido-vital-focus/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "wisefido-vital-focus/internal/redis"
)

// AggregatorService 卡片聚合服务
type AggregatorService struct {
	config         *config.Config
	logger         *zap.Logger
	db             *sql.DB
	redisClient    *redis.Client
	cardRepo       *repository.CardRepository
	cardCreator    *aggregator.CardCreator
	eventConsumer  *consumer.EventConsumer
	dataAggregator *aggregator.DataAggregator
	cacheManager   *aggregator.CacheManager
}

// NewAggregatorService 创建卡片聚合服务
func NewAggregatorService(cfg *config.Config, logger *zap.Logger) (*AggregatorService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化 Redis（用于事件驱动模式和数据聚合）
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 创建 Repository
	cardRepo := repository.NewCardRepository(db, logger)
	telemetryRepo := repository.NewTelemetryRepository(db, logger)
	alarmRepo := repository.NewAlarmEventsRepository(db, logger)

	// 创建 CardCreator
	cardCreator := aggregator.NewCardCreator(cardRepo, logger)

	// 创建事件消费者（如果使用事件驱动模式）
	var eventConsumer *consumer.EventConsumer
	if cfg.Aggregator.TriggerMode == "events" {
		eventConsumer = consumer.NewEventConsumer(
			redisClient,
			cardCreator,
			cardRepo,
			logger,
			cfg.Aggregator.EventStream,
			cfg.Aggregator.ConsumerGroup,
			cfg.Aggregator.ConsumerName,
			int64(cfg.Aggregator.BatchSize),
		)
	}

	// 创建数据聚合器和缓存管理器
	kv := aggregator.NewRedisKVStore(redisClient)
	cacheManager := aggregator.NewCacheManager(cfg, kv, logger)
	dataAggregator := aggregator.NewDataAggregator(cfg, cardRepo, telemetryRepo, alarmRepo, logger)

	return &AggregatorService{
		config:         cfg,
		logger:         logger,
		db:             db,
		redisClient:    redisClient,
		cardRepo:       cardRepo,
		cardCreator:    cardCreator,
		eventConsumer:  eventConsumer,
		dataAggregator: dataAggregator,
		cacheManager:   cacheManager,
	}, nil
}

// Start 启动服务
func (s *AggregatorService) Start(ctx context.Context) error {
	s.logger.Info("Starting vital focus aggregator service",
		zap.String("trigger_mode", s.config.Aggregator.TriggerMode),
		zap.Bool("aggregation_enabled", s.config.Aggregator.Aggregation.Enabled),
	)

	// 启动数据聚合任务（如果启用）
	if s.config.Aggregator.Aggregation.Enabled {
		go s.startDataAggregation(ctx)
	}

	// 根据触发模式启动不同的处理逻辑
	if s.config.Aggregator.TriggerMode == "polling" {
		return s.startPollingMode(ctx)
	} else if s.config.Aggregator.TriggerMode == "events" {
		// 事件驱动模式要求上游服务向 card:events 流发布拓扑事件
		return s.startEventDrivenMode(ctx)
	} else {
		return fmt.Errorf("unsupported trigger mode: %s", s.config.Aggregator.TriggerMode)
	}
}

// startPollingMode 启动轮询模式（定期全量重建卡片）
func (s *AggregatorService) startPollingMode(ctx context.Context) error {
	interval := time.Duration(s.config.Aggregator.Polling.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Starting polling mode",
		zap.Duration("interval", interval),
	)

	// 首次执行一次全量创建
	if err := s.createAllCards(ctx); err != nil {
		s.logger.Error("Failed to create all cards on startup", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.createAllCards(ctx); err != nil {
				s.logger.Error("Failed to create cards", zap.Error(err))
			}
		}
	}
}

// createAllCards 为所有 unit 创建卡片
func (s *AggregatorService) createAllCards(ctx context.Context) error {
	s.logger.Info("Starting to create cards for all units")

	tenantID := s.config.Aggregator.TenantID
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required, please set TENANT_ID environment variable")
	}

	unitIDs, err := s.cardRepo.GetAllUnits(tenantID)
	if err != nil {
		return fmt.Errorf("failed to get all units: %w", err)
	}

	s.logger.Info("Found units to process",
		zap.Int("unit_count", len(unitIDs)),
	)

	// 为每个 unit 创建卡片，单个 unit 失败不影响其余
	successCount := 0
	errorCount := 0

	for _, unitID := range unitIDs {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := s.cardCreator.CreateCardsForUnit(tenantID, unitID); err != nil {
				s.logger.Error("Failed to create cards for unit",
					zap.String("unit_id", unitID),
					zap.Error(err),
				)
				errorCount++
			} else {
				successCount++
			}
		}
	}

	s.logger.Info("Completed creating cards",
		zap.Int("success_count", successCount),
		zap.Int("error_count", errorCount),
	)

	return nil
}

// startEventDrivenMode 启动事件驱动模式
func (s *AggregatorService) startEventDrivenMode(ctx context.Context) error {
	s.logger.Info("Starting event-driven mode")

	// 首次执行一次全量创建
	if err := s.createAllCards(ctx); err != nil {
		s.logger.Error("Failed to create all cards on startup", zap.Error(err))
	}

	// 启动定时任务（每天上午9点兜底全量更新）
	go s.startScheduledUpdate(ctx)

	// 启动事件消费者（阻塞）
	if s.eventConsumer != nil {
		return s.eventConsumer.Start(ctx)
	}

	return fmt.Errorf("event consumer not initialized")
}

// startScheduledUpdate 启动定时任务（每天上午9点全量更新）
func (s *AggregatorService) startScheduledUpdate(ctx context.Context) {
	s.logger.Info("Starting scheduled update task (daily at 9:00 AM)")

	for {
		// 计算到下一个上午9点的时间
		now := time.Now()
		next9AM := time.Date(now.Year(), now.Month(), now.Day(), 9, 0, 0, 0, now.Location())
		if next9AM.Before(now) {
			next9AM = next9AM.Add(24 * time.Hour)
		}

		duration := next9AM.Sub(now)
		timer := time.NewTimer(duration)

		s.logger.Info("Scheduled update will run at",
			zap.Time("next_run", next9AM),
			zap.Duration("wait_duration", duration),
		)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.logger.Info("Running scheduled full update")
			if err := s.createAllCards(ctx); err != nil {
				s.logger.Error("Failed to create all cards in scheduled update", zap.Error(err))
			} else {
				s.logger.Info("Scheduled full update completed successfully")
			}
		}
	}
}

// startDataAggregation 启动数据聚合任务
func (s *AggregatorService) startDataAggregation(ctx context.Context) {
	interval := time.Duration(s.config.Aggregator.Aggregation.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Starting data aggregation",
		zap.Duration("interval", interval),
	)

	// 首次执行一次全量聚合
	if err := s.aggregateAllCards(ctx); err != nil {
		s.logger.Error("Failed to aggregate all cards on startup", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.aggregateAllCards(ctx); err != nil {
				s.logger.Error("Failed to aggregate cards", zap.Error(err))
			}
		}
	}
}

// aggregateAllCards 聚合所有卡片的数据
// 单张卡片失败只影响自己：记错误、跳过，继续下一张
func (s *AggregatorService) aggregateAllCards(ctx context.Context) error {
	tenantID := s.config.Aggregator.TenantID
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	cards, err := s.cardRepo.GetAllCards(tenantID)
	if err != nil {
		return fmt.Errorf("failed to get all cards: %w", err)
	}

	s.logger.Debug("Aggregating cards",
		zap.Int("card_count", len(cards)),
	)

	successCount := 0
	errorCount := 0

	for _, card := range cards {
		select {
		case <-ctx.Done():
			return nil
		default:
			vitalCard, err := s.dataAggregator.AggregateCard(ctx, tenantID, card.CardID)
			if err != nil {
				s.logger.Error("Failed to aggregate card",
					zap.String("card_id", card.CardID),
					zap.Error(err),
				)
				errorCount++
				continue
			}

			if err := s.cacheManager.UpdateFullCardCache(ctx, card.CardID, vitalCard); err != nil {
				s.logger.Error("Failed to update full card cache",
					zap.String("card_id", card.CardID),
					zap.Error(err),
				)
				errorCount++
				continue
			}

			successCount++
		}
	}

	s.logger.Info("Completed aggregating cards",
		zap.Int("success_count", successCount),
		zap.Int("error_count", errorCount),
		zap.Int("total_count", len(cards)),
	)

	return nil
}

// ListVitalFocusCards 分页返回聚合后的卡片
//
// 优先读取缓存的聚合结果，缓存未命中时现场聚合一次。
// 无卡片时返回空列表（非错误）；单张卡片聚合失败跳过该卡片。
func (s *AggregatorService) ListVitalFocusCards(ctx context.Context, tenantID string, page, size int) (*models.VitalFocusCardPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}

	cards, err := s.cardRepo.GetAllCards(tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get all cards: %w", err)
	}

	total := len(cards)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	items := make([]models.VitalFocusCard, 0, end-start)
	for _, card := range cards[start:end] {
		vitalCard, err := s.cacheManager.GetFullCardCache(ctx, card.CardID)
		if err != nil {
			if err != aggregator.ErrCacheMiss {
				s.logger.Warn("Failed to read card cache, aggregating directly",
					zap.String("card_id", card.CardID),
					zap.Error(err),
				)
			}
			vitalCard, err = s.dataAggregator.AggregateCard(ctx, tenantID, card.CardID)
			if err != nil {
				s.logger.Error("Failed to aggregate card for listing",
					zap.String("card_id", card.CardID),
					zap.Error(err),
				)
				continue
			}
		}
		items = append(items, *vitalCard)
	}

	return &models.VitalFocusCardPage{
		Items:     items,
		Timestamp: time.Now().Unix(),
		Pagination: models.Pagination{
			Size:  size,
			Page:  page,
			Count: len(items),
			Total: total,
		},
	}, nil
}

// Stop 停止服务
func (s *AggregatorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping vital focus aggregator service")

	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing redis connection", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Vital focus aggregator service stopped")
	return nil
}
