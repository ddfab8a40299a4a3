package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// Pub/sub channels for schedule notifications.

func TrainerChannel(trainerID int64) string {
	return fmt.Sprintf("schedule:trainer:%d", trainerID)
}

func ClientChannel(clientID int64) string {
	return fmt.Sprintf("schedule:client:%d", clientID)
}

const AdminChannel = "schedule:admin"

// Cache keys.

const (
	AssignmentStatsKey     = "stats:assignments"
	AssignmentStatsLastKey = "stats:assignments:last"
)

func AnalyticsKey(userID int64) string {
	return fmt.Sprintf("analytics:user:%d", userID)
}

func AuthTokenKey(tokenHash string) string {
	return "auth:token:" + tokenHash
}

func RateLimitKey(actorID int64) string {
	return fmt.Sprintf("ratelimit:actor:%d", actorID)
}
