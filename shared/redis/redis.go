package redis

import (
	"context"
	"strconv"
	"strings"
	"time"

	"nexthire/backend/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// presenceKey is a hash of user id to live connection count across all instances
const presenceKey = "nexthire:chat:presence"

// Client wraps the Redis operations the chat needs: pub/sub fan-out and presence
type Client struct {
	client *redis.Client
}

// NewClient connects and pings Redis. url may be a redis:// URL or a bare host:port.
func NewClient(ctx context.Context, url string) (*Client, error) {
	opts, err := parseOptions(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Client{client: client}, nil
}

func parseOptions(url string) (*redis.Options, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		url = "localhost:6379"
	}
	if strings.Contains(url, "://") {
		return redis.ParseURL(url)
	}
	return &redis.Options{Addr: url}, nil
}

// Ping checks the Redis connection
func (r *Client) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *Client) Close() error {
	return r.client.Close()
}

// Publish sends payload to every subscriber of channel
func (r *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	defer observe(time.Now())
	return r.client.Publish(ctx, channel, payload).Err()
}

// Subscribe returns the payloads published on channel until ctx is done or the
// returned close function is called
func (r *Client) Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
	sub := r.client.Subscribe(ctx, channel)
	// wait for the subscription to be confirmed so no publish is missed
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, err
	}

	out := make(chan []byte, 256)
	go func() {
		defer close(out)
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					sub.Close()
					return
				}
			}
		}
	}()
	return out, sub.Close, nil
}

// UserConnected counts one more live connection for userID
func (r *Client) UserConnected(ctx context.Context, userID string) (int64, error) {
	defer observe(time.Now())
	return r.client.HIncrBy(ctx, presenceKey, userID, 1).Result()
}

// UserDisconnected counts one connection fewer and forgets the user at zero
func (r *Client) UserDisconnected(ctx context.Context, userID string) (int64, error) {
	defer observe(time.Now())
	n, err := r.client.HIncrBy(ctx, presenceKey, userID, -1).Result()
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		if err := r.client.HDel(ctx, presenceKey, userID).Err(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return n, nil
}

// IsOnline reports whether userID has a live connection on any instance
func (r *Client) IsOnline(ctx context.Context, userID string) (bool, error) {
	defer observe(time.Now())
	val, err := r.client.HGet(ctx, presenceKey, userID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// OnlineUsers returns how many distinct users are connected across instances
func (r *Client) OnlineUsers(ctx context.Context) (int64, error) {
	defer observe(time.Now())
	return r.client.HLen(ctx, presenceKey).Result()
}

func observe(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}
