package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Notification statuses.
const (
	NotifyStatusCompleted = "completed"
	NotifyStatusFailed    = "failed"
)

// ThumbnailNotifyMessage is forwarded to the requesting admin's WebSocket through Redis Pub/Sub.
type ThumbnailNotifyMessage struct {
	Type          string `json:"type"`
	Status        string `json:"status"`
	TemplateID    uint   `json:"template_id"`
	ThumbnailURL  string `json:"thumbnail_url,omitempty"`
	CorrelationID string `json:"correlation_id"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
}

// Notifier delivers messages to one user.
type Notifier interface {
	Notify(ctx context.Context, userID uint, message any) error
}

// NotifyChannel is the Pub/Sub channel read by the WebSocket handler for userID.
func NotifyChannel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// RedisNotifier publishes JSON messages on NotifyChannel.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier creates a notifier on client.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Notify(ctx context.Context, userID uint, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := NotifyChannel(userID)
	if err := n.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}
