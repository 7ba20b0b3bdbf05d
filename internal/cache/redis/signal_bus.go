package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// defaultStreamMaxLen bounds streams via XADD MAXLEN ~ when no explicit
// length is configured.
const defaultStreamMaxLen int64 = 10000

// payloadField is the stream entry field carrying the message body.
const payloadField = "payload"

// SignalBus implements domain.SignalBus using Redis Pub/Sub for ephemeral
// fan-out and Redis Streams for durable, ordered delivery.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewSignalBus creates a SignalBus that trims streams to the default length.
func NewSignalBus(c *Client) *SignalBus {
	return NewSignalBusWithMaxLen(c, defaultStreamMaxLen)
}

// NewSignalBusWithMaxLen creates a SignalBus that trims streams to roughly
// maxLen entries.
func NewSignalBusWithMaxLen(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), maxLen: maxLen}
}

// Publish sends payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel (or a glob
// pattern). The subscription and the returned channel are closed when ctx is
// cancelled or the connection drops.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends payload to stream with XADD MAXLEN ~.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]interface{}{payloadField: payload},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// EnsureGroup creates the consumer group on stream, creating the stream if
// needed. An existing group is not an error.
func (sb *SignalBus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := sb.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis: create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// GroupRead reads up to count new entries for consumer in group, waiting at
// most block for data. A non-positive block returns immediately.
func (sb *SignalBus) GroupRead(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	if block <= 0 {
		block = -1
	}
	results, err := sb.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: group read %s/%s: %w", stream, group, err)
	}
	return toMessages(results), nil
}

// Ack acknowledges processed entries.
func (sb *SignalBus) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := sb.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("redis: ack %s/%s: %w", stream, group, err)
	}
	return nil
}

func toMessages(results []redis.XStream) []domain.StreamMessage {
	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			var data []byte
			switch v := msg.Values[payloadField].(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return messages
}

var _ domain.SignalBus = (*SignalBus)(nil)
