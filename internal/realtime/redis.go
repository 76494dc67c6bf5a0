package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/charlesng35/dbwarden/pkg/logger"
)

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = 2 * time.Second
)

// RedisOptions configures the redis client behind a RedisPublisher.
type RedisOptions struct {
	Address  string
	Username string
	Password string
	DB       int
	Channel  string
}

// RedisPublisher mirrors status events onto a redis channel from a single worker.
// Enqueue never blocks; events are dropped when the queue is full.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	queue   chan StatusEnvelope
	log     *zap.Logger

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewRedisClient builds a go-redis client and verifies it with a ping.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if opts.Address == "" {
		return nil, errors.New("realtime: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedisPublisher wraps client. An empty channel uses DefaultRedisChannel.
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		queue:   make(chan StatusEnvelope, defaultQueueSize),
		log:     logger.WithModule("realtime.redis"),
		done:    make(chan struct{}),
	}
}

// Start launches the publishing worker. It stops on ctx cancellation or Close.
func (p *RedisPublisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run(ctx)
	})
}

// Enqueue schedules event for publication. It reports false when the event was dropped.
func (p *RedisPublisher) Enqueue(event StatusEnvelope) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.queue <- event:
		return true
	default:
		return false
	}
}

// Ping checks the redis connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close stops the worker and closes the client.
func (p *RedisPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		err = p.client.Close()
	})
	return err
}

func (p *RedisPublisher) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case event := <-p.queue:
			p.publish(ctx, event)
		}
	}
}

func (p *RedisPublisher) publish(ctx context.Context, event StatusEnvelope) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("failed to encode status event", zap.Error(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	if err := p.client.Publish(pubCtx, p.channel, payload).Err(); err != nil {
		p.log.Warn("failed to publish status event",
			zap.String("channel", p.channel),
			zap.String("resource", event.ResourceID),
			zap.Error(err),
		)
	}
}
