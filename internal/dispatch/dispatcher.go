package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/meditrack/reminder-api/internal/channel"
	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/internal/repository"
	"github.com/meditrack/reminder-api/internal/service/notification"
	"github.com/meditrack/reminder-api/pkg/logger"
	"github.com/meditrack/reminder-api/pkg/metrics"
	"github.com/meditrack/reminder-api/pkg/ratelimit"
)

// Config holds dispatch tuning knobs.
type Config struct {
	RetryDelay            time.Duration
	SendTimeout           time.Duration
	StaleAfter            time.Duration
	ChannelSendsPerSecond float64
}

// Dispatcher pulls notifications off the queue and works through their
// channel list in order, stopping at the first successful delivery.
// Failures feed the retry path; rate-limited channels are skipped
// without counting against the retry budget.
type Dispatcher struct {
	queue     *Queue
	repo      repository.NotificationRepository
	meds      repository.MedicationRepository
	senders   map[model.Channel]channel.Sender
	limiter   *ratelimit.Limiter
	batcher   *Batcher
	live      *channel.LiveNotifier
	templates *notification.TemplateRegistry
	throttle  map[model.Channel]*rate.Limiter

	cfg     Config
	metrics *metrics.Metrics
	logger  *logger.Logger

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

func NewDispatcher(
	queue *Queue,
	repo repository.NotificationRepository,
	meds repository.MedicationRepository,
	senders map[model.Channel]channel.Sender,
	limiter *ratelimit.Limiter,
	live *channel.LiveNotifier,
	templates *notification.TemplateRegistry,
	cfg Config,
	m *metrics.Metrics,
	lg *logger.Logger,
) *Dispatcher {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 24 * time.Hour
	}

	throttle := make(map[model.Channel]*rate.Limiter, len(senders))
	for ch := range senders {
		limit := rate.Inf
		burst := 1
		if cfg.ChannelSendsPerSecond > 0 {
			limit = rate.Limit(cfg.ChannelSendsPerSecond)
			burst = int(cfg.ChannelSendsPerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		throttle[ch] = rate.NewLimiter(limit, burst)
	}

	return &Dispatcher{
		queue:     queue,
		repo:      repo,
		meds:      meds,
		senders:   senders,
		limiter:   limiter,
		live:      live,
		templates: templates,
		throttle:  throttle,
		cfg:       cfg,
		metrics:   m,
		logger:    lg,
		inflight:  make(map[uuid.UUID]struct{}),
	}
}

// AttachBatcher wires the batch window. The batcher's flush callback is
// expected to be this dispatcher's FlushBatch.
func (d *Dispatcher) AttachBatcher(b *Batcher) {
	d.batcher = b
}

// Enqueue satisfies the composer's handoff contract.
func (d *Dispatcher) Enqueue(n *model.Notification) {
	d.queue.Enqueue(n)
	d.setQueueDepth()
}

// Inflight reports whether a notification is currently being worked on.
func (d *Dispatcher) Inflight(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[id]
	return ok
}

func (d *Dispatcher) begin(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[id]; ok {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Dispatcher) end(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, id)
}

// Run consumes the queue until the context is cancelled. A second
// goroutine handles housekeeping (stale pruning, limiter compaction).
func (d *Dispatcher) Run(ctx context.Context) {
	go d.housekeep(ctx)

	for {
		n, err := d.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		d.setQueueDepth()
		d.Process(ctx, n)
	}
}

func (d *Dispatcher) housekeep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, n := range d.queue.PruneStale(now, d.cfg.StaleAfter) {
				d.markStale(ctx, n)
			}
			d.limiter.Prune(now)
			d.setQueueDepth()
		}
	}
}

// Process runs one notification through the pipeline. It is exported so
// the retry sweeper and tests can drive dispatch synchronously.
func (d *Dispatcher) Process(ctx context.Context, queued *model.Notification) {
	if !d.begin(queued.ID) {
		return
	}
	defer d.end(queued.ID)

	now := time.Now()

	// Reload so a cancel or concurrent dispatch since enqueue wins.
	n, err := d.repo.Get(ctx, queued.ID)
	if err != nil {
		d.logger.Error(err, "failed to reload notification", "id", queued.ID.String())
		n = queued
	}
	if n.Terminal() || n.Status == model.NotificationStatusDispatching {
		return
	}
	if n.Status == model.NotificationStatusRetryScheduled &&
		n.NextAttemptAt != nil && now.Before(*n.NextAttemptAt) {
		return
	}

	if n.ScheduledFor != nil && now.Sub(*n.ScheduledFor) > d.cfg.StaleAfter {
		d.markStale(ctx, n)
		return
	}

	if d.invalidated(ctx, n) {
		n.Status = model.NotificationStatusCancelled
		d.update(ctx, n)
		if d.metrics != nil {
			d.metrics.NotificationsCancelled.Inc()
		}
		d.logger.Info("notification cancelled, medication no longer active",
			"id", n.ID.String())
		return
	}

	if n.Batched && n.Urgency != model.UrgencyUrgent && d.batcher != nil {
		d.batcher.Add(ctx, n)
		return
	}

	n.Status = model.NotificationStatusDispatching
	d.update(ctx, n)

	d.deliver(ctx, n)
}

// invalidated reports whether the reminder's medication has been
// removed, paused, or discontinued since the notification was composed.
func (d *Dispatcher) invalidated(ctx context.Context, n *model.Notification) bool {
	if n.MedicationID == nil {
		return false
	}
	if n.Type != model.EventMedicationDue && n.Type != model.EventMissedDose {
		return false
	}

	med, err := d.meds.Get(ctx, *n.MedicationID)
	if err != nil {
		return true
	}
	return med.Status != model.MedicationStatusActive
}

func (d *Dispatcher) deliver(ctx context.Context, n *model.Notification) {
	var delivered bool
	var failures, skips int

	for _, ch := range n.ChannelsToAttempt {
		sender, ok := d.senders[ch]
		if !ok {
			n.RecordAttempt(ch, model.AttemptOutcomeFailed, "no sender configured", time.Now())
			failures++
			continue
		}

		addr := addressFor(n, ch)
		if addr == "" {
			n.RecordAttempt(ch, model.AttemptOutcomeFailed, "no delivery address", time.Now())
			failures++
			continue
		}

		if !d.limiter.Allow(n.Recipient, string(ch), time.Now()) {
			n.RecordAttempt(ch, model.AttemptOutcomeSkipped, "rate limited", time.Now())
			skips++
			if d.metrics != nil {
				d.metrics.RateLimitSkips.WithLabelValues(string(ch)).Inc()
			}
			continue
		}

		if lim := d.throttle[ch]; lim != nil {
			if err := lim.Wait(ctx); err != nil {
				n.RecordAttempt(ch, model.AttemptOutcomeFailed, err.Error(), time.Now())
				failures++
				continue
			}
		}

		start := time.Now()
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err := sender.Send(sendCtx, addr, n.Title, n.Message, n.Data)
		cancel()
		if d.metrics != nil {
			d.metrics.ChannelSendLatency.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())
		}

		if err != nil {
			n.RecordAttempt(ch, model.AttemptOutcomeFailed, err.Error(), time.Now())
			failures++
			if d.metrics != nil {
				d.metrics.NotificationsFailed.WithLabelValues(string(ch)).Inc()
			}
			d.logger.Warn("channel send failed",
				"id", n.ID.String(), "channel", string(ch), "error", err.Error())
			continue
		}

		d.limiter.Record(n.Recipient, string(ch), time.Now())
		n.RecordAttempt(ch, model.AttemptOutcomeDelivered, "", time.Now())
		if d.metrics != nil {
			d.metrics.NotificationsDispatched.WithLabelValues(string(ch)).Inc()
		}
		delivered = true
		break
	}

	switch {
	case delivered:
		d.markSent(ctx, n)
		d.notifyLive(ctx, n)
	case failures > 0:
		d.scheduleRetryOrDeadLetter(ctx, n)
	case skips > 0:
		d.rescheduleAfterSkip(ctx, n)
	default:
		// Composer guarantees at least one channel, so this is a bug
		// upstream. Dead-letter rather than loop forever.
		n.Status = model.NotificationStatusDeadLettered
		d.update(ctx, n)
		d.logger.Error(nil, "notification has no channels to attempt", "id", n.ID.String())
	}
}

// FlushBatch delivers one digest email for a recipient's batch window
// and records the shared outcome on every buffered notification.
func (d *Dispatcher) FlushBatch(ctx context.Context, recipient string, items []*model.Notification, trigger string) {
	active := make([]*model.Notification, 0, len(items))
	for _, it := range items {
		if fresh, err := d.repo.Get(ctx, it.ID); err == nil {
			it = fresh
		}
		if it.Terminal() {
			continue
		}
		active = append(active, it)
	}
	if len(active) == 0 {
		return
	}

	var addr string
	for _, it := range active {
		if a := addressFor(it, model.ChannelEmail); a != "" {
			addr = a
			break
		}
	}

	sender, haveSender := d.senders[model.ChannelEmail]
	if addr == "" || !haveSender {
		now := time.Now()
		for _, it := range active {
			it.RecordAttempt(model.ChannelEmail, model.AttemptOutcomeFailed, "no email route for digest", now)
			d.scheduleRetryOrDeadLetter(ctx, it)
		}
		return
	}

	if !d.limiter.Allow(recipient, string(model.ChannelEmail), time.Now()) {
		next := d.limiter.NextAllowed(recipient, string(model.ChannelEmail))
		now := time.Now()
		for _, it := range active {
			it.RecordAttempt(model.ChannelEmail, model.AttemptOutcomeSkipped, "rate limited", now)
			it.Status = model.NotificationStatusRetryScheduled
			at := next
			it.NextAttemptAt = &at
			d.update(ctx, it)
		}
		if d.metrics != nil {
			d.metrics.RateLimitSkips.WithLabelValues(string(model.ChannelEmail)).Inc()
		}
		return
	}

	for _, it := range active {
		it.Status = model.NotificationStatusDispatching
		d.update(ctx, it)
	}

	subject, body := d.templates.RenderDigest(active)

	if lim := d.throttle[model.ChannelEmail]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			d.failBatch(ctx, active, err.Error())
			return
		}
	}

	start := time.Now()
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err := sender.Send(sendCtx, addr, subject, body, nil)
	cancel()
	if d.metrics != nil {
		d.metrics.ChannelSendLatency.WithLabelValues(string(model.ChannelEmail)).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		if d.metrics != nil {
			d.metrics.NotificationsFailed.WithLabelValues(string(model.ChannelEmail)).Inc()
		}
		d.logger.Warn("batch digest send failed",
			"recipient", recipient, "size", len(active), "error", err.Error())
		d.failBatch(ctx, active, err.Error())
		return
	}

	now := time.Now()
	d.limiter.Record(recipient, string(model.ChannelEmail), now)
	if d.metrics != nil {
		d.metrics.NotificationsDispatched.WithLabelValues(string(model.ChannelEmail)).Add(float64(len(active)))
	}
	for _, it := range active {
		it.RecordAttempt(model.ChannelEmail, model.AttemptOutcomeDelivered, "", now)
		d.markSent(ctx, it)
		d.notifyLive(ctx, it)
	}
}

func (d *Dispatcher) failBatch(ctx context.Context, items []*model.Notification, reason string) {
	now := time.Now()
	for _, it := range items {
		it.RecordAttempt(model.ChannelEmail, model.AttemptOutcomeFailed, reason, now)
		d.scheduleRetryOrDeadLetter(ctx, it)
	}
}

func (d *Dispatcher) markSent(ctx context.Context, n *model.Notification) {
	now := time.Now()
	n.Status = model.NotificationStatusSent
	n.SentAt = &now
	n.NextAttemptAt = nil
	d.update(ctx, n)
}

func (d *Dispatcher) markStale(ctx context.Context, n *model.Notification) {
	n.Status = model.NotificationStatusCancelled
	d.update(ctx, n)
	if d.metrics != nil {
		d.metrics.NotificationsStale.Inc()
	}
	d.logger.Warn("dropping stale notification",
		"id", n.ID.String(), "scheduled_for", n.ScheduledFor)
}

// scheduleRetryOrDeadLetter charges one attempt against the retry
// budget. The count covers dispatch cycles where at least one channel
// genuinely failed; rate-limit skips never land here.
func (d *Dispatcher) scheduleRetryOrDeadLetter(ctx context.Context, n *model.Notification) {
	n.RetryCount++
	if n.RetryCount >= n.MaxRetries {
		n.Status = model.NotificationStatusDeadLettered
		n.NextAttemptAt = nil
		d.update(ctx, n)
		if d.metrics != nil {
			d.metrics.NotificationsDeadLetter.Inc()
		}
		d.logger.Error(nil, "notification dead-lettered",
			"id", n.ID.String(), "attempts", n.RetryCount)
		return
	}

	at := time.Now().Add(d.cfg.RetryDelay)
	n.Status = model.NotificationStatusRetryScheduled
	n.NextAttemptAt = &at
	d.update(ctx, n)
	if d.metrics != nil {
		d.metrics.RetriesScheduled.Inc()
	}
	d.logger.Info("retry scheduled",
		"id", n.ID.String(), "attempt", n.RetryCount, "next_attempt_at", at)
}

// rescheduleAfterSkip parks the notification until some channel's rate
// window reopens. Skips do not consume the retry budget.
func (d *Dispatcher) rescheduleAfterSkip(ctx context.Context, n *model.Notification) {
	var next time.Time
	for _, ch := range n.ChannelsToAttempt {
		at := d.limiter.NextAllowed(n.Recipient, string(ch))
		if at.IsZero() {
			continue
		}
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	if next.IsZero() {
		next = time.Now().Add(d.cfg.RetryDelay)
	}

	n.Status = model.NotificationStatusRetryScheduled
	n.NextAttemptAt = &next
	d.update(ctx, n)
	d.logger.Debug("all channels rate limited, rescheduled",
		"id", n.ID.String(), "next_attempt_at", next)
}

func (d *Dispatcher) notifyLive(ctx context.Context, n *model.Notification) {
	if d.live == nil {
		return
	}
	// Realtime fan-out is best-effort and never affects the outcome.
	if err := d.live.Notify(ctx, n); err != nil {
		d.logger.Debug("live fan-out failed", "id", n.ID.String(), "error", err.Error())
	}
}

func (d *Dispatcher) update(ctx context.Context, n *model.Notification) {
	if err := d.repo.Update(ctx, n); err != nil {
		d.logger.Error(err, "failed to persist notification state",
			"id", n.ID.String(), "status", string(n.Status))
	}
}

func (d *Dispatcher) setQueueDepth() {
	if d.metrics != nil {
		d.metrics.DispatchQueueDepth.Set(float64(d.queue.Len()))
	}
}

func addressFor(n *model.Notification, ch model.Channel) string {
	var key string
	switch ch {
	case model.ChannelEmail:
		key = notification.DataKeyEmailAddress
	case model.ChannelPush:
		key = notification.DataKeyPushAddress
	default:
		return ""
	}
	if v, ok := n.Data[key].(string); ok {
		return v
	}
	return ""
}
