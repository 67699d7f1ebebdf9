package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/school-auth-api/pkg/jobs"
)

const jobTypePurgeExpired = "purge_expired_tokens"

type expiredTokenPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TokenJanitor periodically deletes refresh tokens that expired long enough
// ago that nothing can present them anymore. Revoked-but-unexpired rows are
// kept so replay attempts stay distinguishable in logs.
type TokenJanitor struct {
	store    expiredTokenPurger
	queue    *jobs.Queue
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTokenJanitor constructs a janitor that purges on the given interval.
func NewTokenJanitor(store expiredTokenPurger, interval time.Duration, logger *zap.Logger) *TokenJanitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	j := &TokenJanitor{
		store:    store,
		interval: interval,
		logger:   logger,
	}
	j.queue = jobs.NewQueue("token-janitor", j.handle, jobs.QueueConfig{
		Workers:    1,
		MaxRetries: 2,
		RetryDelay: 30 * time.Second,
		Logger:     logger,
	})
	return j
}

// Start launches the queue workers and the ticker that feeds them.
func (j *TokenJanitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})
	j.queue.Start(ctx)

	go func() {
		defer close(j.done)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				job := jobs.Job{ID: uuid.NewString(), Type: jobTypePurgeExpired}
				if err := j.queue.Enqueue(job); err != nil {
					j.logger.Warn("failed to enqueue token purge", zap.Error(err))
				}
			}
		}
	}()
}

// Stop halts the ticker and drains the workers.
func (j *TokenJanitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	if j.done != nil {
		<-j.done
	}
	j.queue.Stop()
}

func (j *TokenJanitor) handle(ctx context.Context, _ jobs.Job) error {
	deleted, err := j.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if deleted > 0 {
		j.logger.Info("purged expired refresh tokens", zap.Int64("deleted", deleted))
	}
	return nil
}
