// Package redisbus fans CollaborationEvents out across multiple collabhubd
// processes over Redis pub/sub, the same primitive the teacher's server
// wires up in server/main.go (rdb.Subscribe/Publish), generalized from one
// hardcoded channel per document to the full event envelope and from raw
// client bytes to a typed, JSON-encoded wrapper shaped like the corpus's
// other pub/sub envelope (bhandras-delight's UpdateEvent: id/seq/body/
// createdAt).
//
// A Bus wraps a local *broadcast.Broadcaster: Relay is installed as the
// broadcaster's OnPublish hook, so every local publish is also mirrored to
// Redis; Run subscribes and feeds remote events back into the local
// broadcaster via PublishLocal (which does not re-trigger OnPublish),
// tagging its own instance id so it never re-delivers its own publishes to
// itself.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"collabhub/internal/broadcast"
	"collabhub/internal/events"
)

const channelPrefix = "collabhub:doc:"

// envelope is the JSON shape published to Redis, following the corpus's
// id/seq/body/createdAt envelope convention.
type envelope struct {
	ID         string                    `json:"id"`
	Seq        int64                     `json:"seq"`
	InstanceID string                    `json:"instanceId"`
	CreatedAt  int64                     `json:"createdAt"`
	Body       events.CollaborationEvent `json:"body"`
}

// Bus bridges a local Broadcaster to Redis pub/sub.
type Bus struct {
	Local      *broadcast.Broadcaster
	rdb        *redis.Client
	instanceID string
}

// New wraps local with a Redis connection at addr.
func New(local *broadcast.Broadcaster, addr string) *Bus {
	return &Bus{
		Local:      local,
		rdb:        redis.NewClient(&redis.Options{Addr: addr}),
		instanceID: uuid.NewString(),
	}
}

// Relay republishes a just-delivered local event to Redis for other
// instances sharing the same channel prefix. Its signature matches
// broadcast.Broadcaster.OnPublish, so the caller installs it directly:
// eventBus.OnPublish = bus.Relay.
func (b *Bus) Relay(event events.CollaborationEvent, excludeClientID string) {
	env := envelope{
		ID:         uuid.NewString(),
		Seq:        event.SequenceNumber,
		InstanceID: b.instanceID,
		CreatedAt:  event.Timestamp.UnixMilli(),
		Body:       event,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		log.Printf("redisbus: marshal envelope: %v", err)
		return
	}
	if err := b.rdb.Publish(context.Background(), channelPrefix+event.DocumentID, payload).Err(); err != nil {
		log.Printf("redisbus: publish: %v", err)
	}
}

// Run subscribes to every document channel and feeds remote events into the
// local broadcaster until ctx is canceled.
func (b *Bus) Run(ctx context.Context) error {
	sub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handleMessage(msg.Payload)
		}
	}
}

func (b *Bus) handleMessage(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.Printf("redisbus: decode envelope: %v", err)
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}
	b.Local.PublishLocal(env.Body, "")
}

// Ping verifies connectivity, mirroring the teacher's startup check.
func (b *Bus) Ping(ctx context.Context) error {
	if _, err := b.rdb.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("redisbus: ping: %w", err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
