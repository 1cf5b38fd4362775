// Package redis carries configuration change notifications between router
// instances sharing one store.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"outbound-router/internal/common/logging"
)

type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

// GetGoRedisClient returns the underlying go-redis client.
func (c *Client) GetGoRedisClient() *redis.Client {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Change operations.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// Change announces that the stored configuration id was written or removed.
type Change struct {
	Op   string    `json:"op"`
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
}

// Notifier publishes and receives Changes on one channel.
type Notifier struct {
	client  *Client
	channel string
	logger  logging.Logger
}

// NewNotifier binds client to channel.
func NewNotifier(client *Client, channel string, logger logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// Notify publishes a change.
func (n *Notifier) Notify(ctx context.Context, op, id string) error {
	data, err := json.Marshal(Change{Op: op, ID: id, Time: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	if err := n.client.rdb.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Listen calls fn for every change received until ctx is done. The
// subscription is confirmed before ready is closed, so changes published
// after ready are not missed. Malformed messages are logged and skipped.
func (n *Notifier) Listen(ctx context.Context, ready chan<- struct{}, fn func(Change)) error {
	sub := n.client.rdb.Subscribe(ctx, n.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ready != nil {
			close(ready)
		}
		return fmt.Errorf("failed to subscribe to %s: %w", n.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil || change.ID == "" {
				n.logger.Warn("Ignoring malformed configuration change",
					logging.String("channel", n.channel),
					logging.String("payload", msg.Payload),
				)
				continue
			}
			fn(change)
		}
	}
}
