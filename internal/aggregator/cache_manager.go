package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"wisefido-vital-focus/internal/config"
	"wisefido-vital-focus/internal/models"

	"go.uber.org/zap"
)

// 聚合结果缓存 TTL，应略大于聚合间隔，保证下一轮聚合前缓存有效
const fullCardCacheTTL = 10 * time.Second

// CacheManager Redis 缓存管理器（用于数据聚合）
type CacheManager struct {
	config *config.Config
	kv     KVStore
	logger *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	kv KVStore,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config: cfg,
		kv:     kv,
		logger: logger,
	}
}

// UpdateFullCardCache 更新完整的卡片缓存
func (c *CacheManager) UpdateFullCardCache(ctx context.Context, cardID string, vitalCard *models.VitalFocusCard) error {
	key := fullCardKey(cardID)

	// 序列化数据
	jsonData, err := json.Marshal(vitalCard)
	if err != nil {
		return fmt.Errorf("failed to marshal vital card: %w", err)
	}

	err = c.kv.Set(ctx, key, string(jsonData), fullCardCacheTTL)
	if err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated full card cache",
		zap.String("card_id", cardID),
		zap.String("key", key),
	)

	return nil
}

// GetFullCardCache 读取缓存的卡片；缓存不存在时返回 ErrCacheMiss
func (c *CacheManager) GetFullCardCache(ctx context.Context, cardID string) (*models.VitalFocusCard, error) {
	key := fullCardKey(cardID)

	val, err := c.kv.Get(ctx, key)
	if err != nil {
		if err == ErrCacheMiss {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var vitalCard models.VitalFocusCard
	if err := json.Unmarshal([]byte(val), &vitalCard); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached card: %w", err)
	}

	return &vitalCard, nil
}

func fullCardKey(cardID string) string {
	return fmt.Sprintf("vital-focus:card:%s:full", cardID)
}
