package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"coliblanco-backend/internal/models"
)

// QueueName is the Redis list voice exchanges wait in before they are
// written to Postgres.
const QueueName = "queue:voice-exchanges"

// maxRetries counts retries after the first failed write.
const maxRetries = 3

// ExchangeStore persists a finished exchange.
type ExchangeStore interface {
	Create(ctx context.Context, ex *models.Exchange) error
}

type job struct {
	Exchange   models.Exchange `json:"exchange"`
	RetryCount int             `json:"retry_count"`
}

// Pool moves exchange writes off the voice turn. The pipeline enqueues with
// Create and a few workers drain the queue into the store, so a slow or
// unavailable database never delays a spoken reply.
type Pool struct {
	redis       *redis.Client
	store       ExchangeStore
	workerCount int
	pollTimeout time.Duration
	requeue     func(payload []byte, backoff time.Duration)
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

func NewPool(redisClient *redis.Client, store ExchangeStore, workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 2
	}
	p := &Pool{
		redis:       redisClient,
		store:       store,
		workerCount: workerCount,
		pollTimeout: 5 * time.Second,
		stopChan:    make(chan struct{}),
	}
	p.requeue = p.requeueAfter
	return p
}

// Create enqueues ex. It satisfies the pipeline's exchange recorder.
func (p *Pool) Create(ctx context.Context, ex *models.Exchange) error {
	payload, err := json.Marshal(job{Exchange: *ex})
	if err != nil {
		return fmt.Errorf("failed to encode exchange: %w", err)
	}
	return p.redis.RPush(ctx, QueueName, payload).Err()
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	slog.Info("exchange workers started", "count", p.workerCount)
}

// Stop signals the workers and waits for in-flight writes.
func (p *Pool) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			slog.Debug("exchange worker shutting down", "worker", id)
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, p.pollTimeout, QueueName).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				slog.Warn("exchange queue poll failed", "worker", id, "error", err)
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		p.process(ctx, result[1])
	}
}

func (p *Pool) process(ctx context.Context, payload string) {
	var j job
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		slog.Error("dropping malformed exchange job", "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := p.store.Create(writeCtx, &j.Exchange)
	cancel()
	if err != nil {
		p.handleFailure(&j, err)
		return
	}
	slog.Debug("exchange recorded", "id", j.Exchange.ID, "session", j.Exchange.SessionID)
}

func (p *Pool) handleFailure(j *job, err error) {
	j.RetryCount++

	if j.RetryCount > maxRetries {
		slog.Error("exchange write failed permanently",
			"id", j.Exchange.ID, "session", j.Exchange.SessionID, "attempts", j.RetryCount, "error", err)
		return
	}

	backoff := retryBackoff(j.RetryCount)
	slog.Warn("exchange write failed, retrying",
		"id", j.Exchange.ID, "attempt", j.RetryCount, "backoff", backoff, "error", err)

	payload, err := json.Marshal(j)
	if err != nil {
		slog.Error("dropping exchange, failed to encode retry", "id", j.Exchange.ID, "error", err)
		return
	}
	p.requeue(payload, backoff)
}

func (p *Pool) requeueAfter(payload []byte, backoff time.Duration) {
	time.AfterFunc(backoff, func() {
		if err := p.redis.RPush(context.Background(), QueueName, payload).Err(); err != nil {
			slog.Error("failed to requeue exchange", "error", err)
		}
	})
}

func retryBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}
