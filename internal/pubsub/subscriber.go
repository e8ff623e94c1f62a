// Package pubsub lets other processes trigger broadcasts through a Redis channel.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "aiworker:broadcast"

var ErrEmptyChannel = errors.New("redis channel name cannot be empty")

// Publisher accepts payloads for broadcast
type Publisher interface {
	Publish(payload []byte) error
}

// Subscriber forwards every message on a Redis channel to a Publisher
type Subscriber struct {
	client    *redis.Client
	channel   string
	publisher Publisher
}

func NewSubscriber(client *redis.Client, channel string, publisher Publisher) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Subscriber{client: client, channel: channel, publisher: publisher}
}

// Run subscribes and forwards messages until ctx is done. An error is
// returned only when the subscription cannot be established.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	// Receive blocks until the server confirms the subscription
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.channel, err)
	}
	log.Printf("Subscribed to broadcast channel %s", s.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handleMessage(msg.Payload)
		}
	}
}

// handleMessage publishes one payload and reports whether it was accepted
func (s *Subscriber) handleMessage(payload string) bool {
	if err := s.publisher.Publish([]byte(payload)); err != nil {
		log.Printf("Dropping broadcast from %s: %v", s.channel, err)
		return false
	}
	return true
}

// PublishBroadcast sends payload to channel for every subscribed instance
// and returns the number of subscribers that received it.
func PublishBroadcast(ctx context.Context, client *redis.Client, channel string, payload []byte) (int64, error) {
	if channel == "" {
		return 0, ErrEmptyChannel
	}
	n, err := client.Publish(ctx, channel, string(payload)).Result()
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", channel, err)
	}
	return n, nil
}

// NewClient builds a client from a redis:// URL
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
