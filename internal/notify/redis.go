package notify

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Channel is the per-user pub/sub channel push gateways subscribe to.
func Channel(userID uuid.UUID) string {
	return fmt.Sprintf("notifications:%s", userID.String())
}

// RedisPublisher publishes notifications on the user's Redis channel. The
// relay calls it only for committed outbox rows.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(n.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Subscribe opens a subscription to userID's channel and waits for the
// server to confirm it.
func Subscribe(ctx context.Context, client *redis.Client, userID uuid.UUID) (*redis.PubSub, error) {
	sub := client.Subscribe(ctx, Channel(userID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe notifications: %w", err)
	}
	return sub, nil
}

// Tail delivers userID's notifications to fn until ctx ends or fn fails.
// Undecodable payloads are passed to onBad and skipped.
func Tail(ctx context.Context, client *redis.Client, userID uuid.UUID, fn func(Notification) error, onBad func(payload string, err error)) error {
	sub, err := Subscribe(ctx, client, userID)
	if err != nil {
		return err
	}
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
			n, err := Decode(msg.Payload)
			if err != nil {
				if onBad != nil {
					onBad(msg.Payload, err)
				}
				continue
			}
			if err := fn(n); err != nil {
				return err
			}
		}
	}
}

// Decode parses a pub/sub payload.
func Decode(payload string) (Notification, error) {
	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}
