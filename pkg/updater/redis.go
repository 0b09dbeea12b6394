package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/helm-recovery/pkg/recovery"
)

const (
	DefaultJobQueue    = "recovery:updates:jobs"
	DefaultResultQueue = "recovery:updates:results"
)

// RedisConfig names the lists shared with the identity system's workers.
type RedisConfig struct {
	JobQueue    string
	ResultQueue string
	// PopTimeout bounds each blocking pop so shutdown is noticed. Default: 5s.
	PopTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.JobQueue == "" {
		c.JobQueue = DefaultJobQueue
	}
	if c.ResultQueue == "" {
		c.ResultQueue = DefaultResultQueue
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = 5 * time.Second
	}
	return c
}

// ResultMessage is what workers push onto the result queue.
type ResultMessage struct {
	RequestID     string `json:"request_id"`
	CallbackToken string `json:"callback_token"`
	recovery.UpdateResult
}

// Redis enqueues updates for workers that consume the job list.
type Redis struct {
	client redis.UniversalClient
	cfg    RedisConfig
}

// NewRedis creates a Redis updater.
func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	return &Redis{client: client, cfg: cfg.withDefaults()}
}

func (r *Redis) RequestUpdate(ctx context.Context, req recovery.UpdateRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := r.client.LPush(ctx, r.cfg.JobQueue, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// PublishResult pushes a worker's answer onto the result queue.
func PublishResult(ctx context.Context, client redis.UniversalClient, queue string, msg ResultMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return client.LPush(ctx, queue, payload).Err()
}

// Listener pops results off the result queue and delivers them.
type Listener struct {
	client    redis.UniversalClient
	cfg       RedisConfig
	deliverer recovery.Deliverer
	logger    *slog.Logger
}

// NewListener creates a result listener delivering to d.
func NewListener(client redis.UniversalClient, cfg RedisConfig, d recovery.Deliverer) *Listener {
	return &Listener{
		client:    client,
		cfg:       cfg.withDefaults(),
		deliverer: d,
		logger:    slog.Default().With("component", "updater.redis"),
	}
}

// Run consumes results until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "result listener started", "queue", l.cfg.ResultQueue)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		vals, err := l.client.BRPop(ctx, l.cfg.PopTimeout, l.cfg.ResultQueue).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.WarnContext(ctx, "result pop failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		// BRPOP answers [key, value]
		if len(vals) != 2 {
			continue
		}
		if err := l.deliver(ctx, vals[1]); err != nil {
			l.logger.WarnContext(ctx, "result rejected", "error", err)
		}
	}
}

func (l *Listener) deliver(ctx context.Context, payload string) error {
	var msg ResultMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if msg.RequestID == "" {
		return fmt.Errorf("result without request id")
	}
	return l.deliverer.DeliverResult(ctx, msg.RequestID, msg.CallbackToken, msg.UpdateResult)
}
