package forward

import (
	"context"

	"github.com/redis/go-redis/v9"

	"throttleguard/internal/securitylog/models"
	dErrors "throttleguard/pkg/domain-errors"
)

const defaultStreamMaxLen = 100_000

// RedisStream appends events to a capped Redis stream.
type RedisStream struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisStream(client redis.Cmdable, stream string, maxLen int64) *RedisStream {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

func (r *RedisStream) Name() string { return "redis" }

func (r *RedisStream) Forward(ctx context.Context, event models.Event) error {
	_, value, err := encode(event)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode security event")
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":        event.ID,
			"eventType": string(event.EventType),
			"severity":  event.Severity,
			"ip":        event.ClientInfo.IP,
			"event":     value,
		},
	}).Err()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "append security event to redis stream")
	}
	return nil
}
