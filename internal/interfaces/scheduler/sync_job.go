package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finsight/internal/infrastructure/saltedge"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ConnectionCompleter runs one sync of a connection. Implemented by
// openfinance.Manager.
type ConnectionCompleter interface {
	CompleteConnection(ctx context.Context, connectionID, trigger string) error
	AbandonSync(ctx context.Context, connectionID, trigger string, cause error)
}

// RetryPolicy bounds how often a failed sync is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the wait before retrying after the given failed attempt:
// base * 2^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(1<<(attempt-1))
}

// SyncConnectionJob syncs one connection after a webhook or an operator request.
type SyncConnectionJob struct {
	id           string
	connectionID string
	trigger      string
	attempt      int
	dispatcher   *SyncDispatcher
}

func (j *SyncConnectionJob) Execute(ctx context.Context) error {
	err := j.dispatcher.completer.CompleteConnection(ctx, j.connectionID, j.trigger)
	if err != nil {
		j.dispatcher.handleFailure(j, err)
		return fmt.Errorf("sync attempt %d failed: %w", j.attempt, err)
	}
	return nil
}

func (j *SyncConnectionJob) Key() string {
	return j.connectionID
}

func (j *SyncConnectionJob) Description() string {
	return fmt.Sprintf("%s sync %s (attempt %d)", j.trigger, j.id[:8], j.attempt)
}

// SyncDispatcher queues connection syncs on the worker pool and re-queues
// retryable failures with exponential backoff.
type SyncDispatcher struct {
	pool      *WorkerPool
	completer ConnectionCompleter
	policy    RetryPolicy
	afterFunc func(d time.Duration, f func())
}

func NewSyncDispatcher(pool *WorkerPool, completer ConnectionCompleter, policy RetryPolicy) *SyncDispatcher {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &SyncDispatcher{
		pool:      pool,
		completer: completer,
		policy:    policy,
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// DispatchSync queues the first attempt and returns without waiting for it.
// A full queue counts as a failed attempt, so the sync is retried later
// instead of dropped.
func (d *SyncDispatcher) DispatchSync(ctx context.Context, connectionID, trigger string) error {
	job := &SyncConnectionJob{
		id:           uuid.NewString(),
		connectionID: connectionID,
		trigger:      trigger,
		attempt:      1,
		dispatcher:   d,
	}
	if err := d.pool.Submit(job); err != nil {
		if !errors.Is(err, ErrQueueFull) {
			return fmt.Errorf("failed to queue sync for connection %s: %w", connectionID, err)
		}
		d.handleFailure(job, err)
		return nil
	}
	log.Debug().Str("connection_id", connectionID).Str("trigger", trigger).Msg("sync queued")
	return nil
}

func (d *SyncDispatcher) handleFailure(job *SyncConnectionJob, err error) {
	logger := log.With().Str("connection_id", job.connectionID).Int("attempt", job.attempt).Logger()

	if !Retryable(err) || job.attempt >= d.policy.MaxAttempts {
		logger.Error().Err(err).Msg("sync abandoned")
		d.completer.AbandonSync(d.pool.Context(), job.connectionID, job.trigger, err)
		return
	}

	delay := d.policy.Delay(job.attempt)
	next := *job
	next.attempt++
	logger.Warn().Err(err).Dur("retry_in", delay).Msg("sync failed, retrying")

	d.afterFunc(delay, func() {
		if d.pool.Context().Err() != nil {
			return
		}
		if err := d.pool.Submit(&next); err != nil {
			logger.Error().Err(err).Msg("failed to re-queue sync")
			if errors.Is(err, ErrQueueFull) {
				d.handleFailure(&next, err)
			}
		}
	})
}

// Retryable reports whether a failed sync is worth another attempt:
// transient aggregator failures and timeouts are, as is a full queue.
func Retryable(err error) bool {
	if errors.Is(err, ErrQueueFull) {
		return true
	}
	var apiErr *saltedge.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}
