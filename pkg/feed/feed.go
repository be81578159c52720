// Package feed publishes committed events to a Redis stream for
// downstream replication consumers. Cross-HUB replication itself is out
// of scope; this is only the outbound interface.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iscc/iscc-hub-go/pkg/contracts"
	"github.com/iscc/iscc-hub-go/pkg/eventstore"
)

// StreamKey is the Redis stream committed events are appended to.
const StreamKey = "iscc:hub:events"

// publishTimeout bounds one XADD; the feed must never stall the
// declaration pipeline.
const publishTimeout = 2 * time.Second

// RedisPublisher appends committed events to a Redis stream, best
// effort. Publish failures are logged, never surfaced: the event log is
// the source of truth and consumers can backfill via the export API.
type RedisPublisher struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisPublisher connects to the given Redis address.
func NewRedisPublisher(addr string) *RedisPublisher {
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		logger: slog.Default().With("component", "feed"),
	}
}

// Publish appends one committed event to the stream.
func (p *RedisPublisher) Publish(ctx context.Context, ev *contracts.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	canon, err := eventstore.CanonicalEventBytes(ev)
	if err != nil {
		p.logger.ErrorContext(ctx, "cannot canonicalize event for feed", "seq", ev.Seq, "error", err)
		return
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		Values: map[string]any{
			"seq":     ev.Seq,
			"iscc_id": ev.IsccID,
			"event":   canon,
		},
	}).Err()
	if err != nil {
		p.logger.WarnContext(ctx, "feed publish failed", "seq", ev.Seq, "error", err)
	}
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error { return p.client.Close() }
