package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient интерфейс для Redis клиента
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cache кеширует операторов, подтвержденных внешним сервисом
type Cache struct {
	client RedisClient
	ttl    time.Duration
}

// NewCache создает кеш; nil клиент отключает кеширование
func NewCache(client RedisClient, ttl time.Duration) *Cache {
	return &Cache{
		client: client,
		ttl:    ttl,
	}
}

// GetOperator возвращает оператора по токену; nil если в кеше нет
func (c *Cache) GetOperator(ctx context.Context, token string) (*Operator, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	data, err := c.client.Get(ctx, tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operator from cache: %w", err)
	}

	op, err := OperatorFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize operator: %w", err)
	}
	return op, nil
}

// SetOperator сохраняет оператора в кеш
func (c *Cache) SetOperator(ctx context.Context, token string, op *Operator) error {
	if c == nil || c.client == nil {
		return nil
	}

	data, err := op.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize operator: %w", err)
	}

	if err := c.client.Set(ctx, tokenKey(token), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set operator in cache: %w", err)
	}
	return nil
}

// DeleteOperator удаляет токен из кеша
func (c *Cache) DeleteOperator(ctx context.Context, token string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, tokenKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete operator from cache: %w", err)
	}
	return nil
}

// tokenKey хранит в ключе только хеш токена
func tokenKey(token string) string {
	hash := sha256.Sum256([]byte(token))
	return fmt.Sprintf("sim:auth:%x", hash[:16])
}
