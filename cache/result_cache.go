package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"TLDRTube/model"

	"github.com/go-redis/redis/v8"
)

const (
	resultKey        = "tldrtube:result:%s" // String: ProcessingResult JSON
	defaultResultTTL = 24 * time.Hour
)

// ResultCache 按视频ID缓存处理结果
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache 创建结果缓存
func NewResultCache(client *redis.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	return &ResultCache{client: client, ttl: ttl}
}

// Get 读取缓存，未命中时返回 nil, nil
func (c *ResultCache) Get(ctx context.Context, videoID string) (*model.ProcessingResult, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}
	data, err := c.client.Get(ctx, fmt.Sprintf(resultKey, videoID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var result model.ProcessingResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}
	return &result, nil
}

// Put 写入缓存
func (c *ResultCache) Put(ctx context.Context, videoID string, result *model.ProcessingResult) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return c.client.Set(ctx, fmt.Sprintf(resultKey, videoID), data, c.ttl).Err()
}

// Delete 删除缓存
func (c *ResultCache) Delete(ctx context.Context, videoID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return c.client.Del(ctx, fmt.Sprintf(resultKey, videoID)).Err()
}
