// Package presence publishes session lifecycle events so other processes can
// observe which connections a server currently holds. The transport only
// depends on the Sink interface; the Redis implementation broadcasts JSON
// events on a pub/sub channel.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event describes one session lifecycle transition on a server.
type Event struct {
	Server     string    `json:"server"`
	SessionID  uint32    `json:"session_id"`
	RemoteAddr string    `json:"remote_addr"`
	Connected  bool      `json:"connected"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink receives session lifecycle events. Implementations must be safe for
// concurrent use; the server publishes from per-connection goroutines.
type Sink interface {
	// Publish delivers one event. Errors are reported to the caller, which
	// logs and continues; presence is advisory and never affects transport.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - event: The lifecycle event to deliver
	//
	// Returns:
	//   - An error if the event could not be delivered
	Publish(ctx context.Context, event Event) error
}

// RedisSink publishes events as JSON messages on a Redis pub/sub channel.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSink creates a Sink that publishes on the given channel using the
// provided Redis client. The caller retains ownership of the client.
//
// Parameters:
//   - client: A connected Redis client
//   - channel: The pub/sub channel name for presence events
//
// Returns:
//   - A new RedisSink
func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Publish implements Sink by marshaling the event to JSON and publishing it.
func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode presence event: %w", err)
	}

	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish presence event: %w", err)
	}

	return nil
}
