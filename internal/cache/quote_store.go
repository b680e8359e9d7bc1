package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gw-settlement/internal/custom_err"
	"gw-settlement/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	quoteKeyPrefix    = "quote:"
	rateLockKeyPrefix = "ratelock:"
)

// QuoteStore эфемерное хранилище котировок и фиксаций курса. Объекты
// неизменяемы, ключи случайны, никакой блокировки кроме проверки
// существования/TTL не требуется. В долговременное хранилище НИКОГДА
// не попадают.
type QuoteStore interface {
	PutQuote(ctx context.Context, q *models.Quote) error
	GetQuote(ctx context.Context, id uuid.UUID) (*models.Quote, error)
	ConsumeQuote(ctx context.Context, id uuid.UUID) (*models.Quote, error)

	PutRateLock(ctx context.Context, l *models.RateLock, ttl time.Duration) error
	GetRateLock(ctx context.Context, id uuid.UUID) (*models.RateLock, error)
	ConsumeRateLock(ctx context.Context, id uuid.UUID) (*models.RateLock, error)
}

type RedisQuoteStore struct {
	client *redis.Client
}

func NewQuoteStore(client *redis.Client) QuoteStore {
	return &RedisQuoteStore{client: client}
}

func (s *RedisQuoteStore) PutQuote(ctx context.Context, q *models.Quote) error {
	const op = "cache.PutQuote"

	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("%s: marshal error: %w", op, err)
	}

	ttl := time.Until(q.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%s: quote already expired", op)
	}

	if err := s.client.Set(ctx, quoteKeyPrefix+q.ID.String(), data, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *RedisQuoteStore) GetQuote(ctx context.Context, id uuid.UUID) (*models.Quote, error) {
	return s.getQuote(ctx, id, false)
}

// ConsumeQuote атомарно читает и удаляет котировку (GETDEL), чтобы две
// конкурентные фиксации не могли использовать одну котировку дважды.
func (s *RedisQuoteStore) ConsumeQuote(ctx context.Context, id uuid.UUID) (*models.Quote, error) {
	return s.getQuote(ctx, id, true)
}

func (s *RedisQuoteStore) getQuote(ctx context.Context, id uuid.UUID, consume bool) (*models.Quote, error) {
	const op = "cache.GetQuote"

	key := quoteKeyPrefix + id.String()

	var cmd *redis.StringCmd
	if consume {
		cmd = s.client.GetDel(ctx, key)
	} else {
		cmd = s.client.Get(ctx, key)
	}

	data, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, custom_err.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var q models.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("%s: unmarshal error: %w", op, err)
	}
	return &q, nil
}

func (s *RedisQuoteStore) PutRateLock(ctx context.Context, l *models.RateLock, ttl time.Duration) error {
	const op = "cache.PutRateLock"

	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("%s: marshal error: %w", op, err)
	}

	if err := s.client.Set(ctx, rateLockKeyPrefix+l.ID.String(), data, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *RedisQuoteStore) GetRateLock(ctx context.Context, id uuid.UUID) (*models.RateLock, error) {
	return s.getRateLock(ctx, id, false)
}

// ConsumeRateLock атомарно забирает фиксацию (GETDEL). Используется
// только оркестратором при применении фиксации к расчету.
func (s *RedisQuoteStore) ConsumeRateLock(ctx context.Context, id uuid.UUID) (*models.RateLock, error) {
	return s.getRateLock(ctx, id, true)
}

func (s *RedisQuoteStore) getRateLock(ctx context.Context, id uuid.UUID, consume bool) (*models.RateLock, error) {
	const op = "cache.GetRateLock"

	key := rateLockKeyPrefix + id.String()

	var cmd *redis.StringCmd
	if consume {
		cmd = s.client.GetDel(ctx, key)
	} else {
		cmd = s.client.Get(ctx, key)
	}

	data, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, custom_err.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var l models.RateLock
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%s: unmarshal error: %w", op, err)
	}
	return &l, nil
}
