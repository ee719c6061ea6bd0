package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/models"
)

// RedisLog stores entries as JSON in one Redis list.
type RedisLog struct {
	client redis.Cmdable
	key    string
	max    int
	logger logger.Logger
}

func NewRedisLog(client redis.Cmdable, key string, max int, log logger.Logger) *RedisLog {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &RedisLog{client: client, key: key, max: capOrDefault(max), logger: log}
}

// Append pushes and trims in one MULTI so the list never exceeds the cap.
func (l *RedisLog) Append(ctx context.Context, entry models.ReferralEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, l.key, raw)
		pipe.LTrim(ctx, l.key, int64(-l.max), -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// History skips entries that no longer decode.
func (l *RedisLog) History(ctx context.Context) ([]models.ReferralEntry, error) {
	items, err := l.client.LRange(ctx, l.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	out := make([]models.ReferralEntry, 0, len(items))
	for i, item := range items {
		var e models.ReferralEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			l.logger.Warn("skipping unreadable audit entry", map[string]interface{}{
				"key":      l.key,
				"position": i,
				"error":    err,
			})
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *RedisLog) ForUser(ctx context.Context, userRef string) ([]models.ReferralEntry, error) {
	all, err := l.History(ctx)
	if err != nil {
		return nil, err
	}
	return filterUser(all, userRef), nil
}
