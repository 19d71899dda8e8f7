package dispatch

import (
	"context"
	"time"

	"github.com/meditrack/reminder-api/internal/repository"
	"github.com/meditrack/reminder-api/pkg/logger"
	"github.com/meditrack/reminder-api/pkg/metrics"
)

const retrySweepBatch = 200

// pendingRecoverAge is how long a PENDING row may sit untouched before
// the sweep treats it as stranded by a crash and re-enqueues it. It
// must exceed the batch window, so notifications legitimately held in
// an open window are never re-submitted.
const pendingRecoverAge = 30 * time.Minute

// RetryScheduler periodically re-enqueues notifications whose retry
// time has arrived, and recovers PENDING rows that lost their place in
// a dispatch queue to a crash. It reads from storage, so both survive
// a process restart.
type RetryScheduler struct {
	repo       repository.NotificationRepository
	dispatcher *Dispatcher
	interval   time.Duration
	pendingAge time.Duration
	metrics    *metrics.Metrics
	logger     *logger.Logger
}

func NewRetryScheduler(repo repository.NotificationRepository, d *Dispatcher, interval time.Duration, m *metrics.Metrics, lg *logger.Logger) *RetryScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RetryScheduler{
		repo:       repo,
		dispatcher: d,
		interval:   interval,
		pendingAge: pendingRecoverAge,
		metrics:    m,
		logger:     lg,
	}
}

func (r *RetryScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep enqueues every due retry not already in flight.
func (r *RetryScheduler) Sweep(ctx context.Context) {
	start := time.Now()

	due, err := r.repo.ListRetryDue(ctx, time.Now(), retrySweepBatch)
	if err != nil {
		r.logger.Error(err, "retry sweep query failed")
		return
	}

	resubmitted := 0
	for _, n := range due {
		if r.dispatcher.Inflight(n.ID) {
			continue
		}
		r.dispatcher.Enqueue(n)
		resubmitted++
	}

	recovered := r.recoverStrandedPending(ctx)

	if r.metrics != nil {
		r.metrics.SweepDuration.WithLabelValues("retry").Observe(time.Since(start).Seconds())
	}
	if resubmitted > 0 || recovered > 0 {
		r.logger.Debug("retry sweep resubmitted notifications",
			"retries", resubmitted, "recovered_pending", recovered)
	}
}

// recoverStrandedPending re-enqueues PENDING rows whose process died
// before dispatching them. The queue and batch windows are in-memory,
// so a crash strands anything they held; the age cutoff keeps rows
// still inside a live batch window out of reach.
func (r *RetryScheduler) recoverStrandedPending(ctx context.Context) int {
	stranded, err := r.repo.ListPendingBefore(ctx, time.Now().Add(-r.pendingAge), retrySweepBatch)
	if err != nil {
		r.logger.Error(err, "pending recovery query failed")
		return 0
	}

	recovered := 0
	for _, n := range stranded {
		if r.dispatcher.Inflight(n.ID) {
			continue
		}
		r.dispatcher.Enqueue(n)
		recovered++
	}
	return recovered
}
