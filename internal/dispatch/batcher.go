package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/pkg/logger"
	"github.com/meditrack/reminder-api/pkg/metrics"
)

// Flush triggers, recorded on the batch_flushes_total metric.
const (
	FlushTriggerCapacity = "capacity"
	FlushTriggerDeadline = "deadline"
	FlushTriggerShutdown = "shutdown"
)

// FlushFunc delivers one coalesced digest for a recipient's window.
type FlushFunc func(ctx context.Context, recipient string, items []*model.Notification, trigger string)

// BatcherConfig controls window behavior.
type BatcherConfig struct {
	Window        time.Duration
	Capacity      int
	SweepInterval time.Duration
}

// Batcher coalesces non-urgent notifications per recipient into a
// single digest send. A window opens on the first item and flushes when
// it fills or its deadline passes, whichever comes first.
type Batcher struct {
	mu      sync.Mutex
	windows map[string]*batchWindow

	cfg     BatcherConfig
	flush   FlushFunc
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// batchWindow carries its own lock so one recipient's append never
// blocks another's flush.
type batchWindow struct {
	mu       sync.Mutex
	deadline time.Time
	items    []*model.Notification
}

func NewBatcher(cfg BatcherConfig, flush FlushFunc, m *metrics.Metrics, lg *logger.Logger) *Batcher {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 5
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Batcher{
		windows: make(map[string]*batchWindow),
		cfg:     cfg,
		flush:   flush,
		metrics: m,
		logger:  lg,
	}
}

// Add places a notification in the recipient's open window, opening one
// if needed. Filling the window to capacity flushes it immediately.
func (b *Batcher) Add(ctx context.Context, n *model.Notification) {
	w := b.window(n.Recipient)

	w.mu.Lock()
	if len(w.items) == 0 {
		w.deadline = time.Now().Add(b.cfg.Window)
	}
	w.items = append(w.items, n)

	var detached []*model.Notification
	if len(w.items) >= b.cfg.Capacity {
		detached = w.items
		w.items = nil
	}
	w.mu.Unlock()

	if detached != nil {
		b.dispatchFlush(ctx, n.Recipient, detached, FlushTriggerCapacity)
	}
}

func (b *Batcher) window(recipient string) *batchWindow {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.windows[recipient]
	if !ok {
		w = &batchWindow{}
		b.windows[recipient] = w
	}
	return w
}

// Run sweeps deadlines until the context ends, then drains every open
// window so nothing is lost on shutdown.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Drain(context.Background())
			return
		case now := <-ticker.C:
			b.Sweep(ctx, now)
		}
	}
}

// Sweep flushes every window whose deadline has passed.
func (b *Batcher) Sweep(ctx context.Context, now time.Time) {
	for recipient, w := range b.snapshot() {
		w.mu.Lock()
		var detached []*model.Notification
		if len(w.items) > 0 && !now.Before(w.deadline) {
			detached = w.items
			w.items = nil
		}
		w.mu.Unlock()

		if detached != nil {
			b.dispatchFlush(ctx, recipient, detached, FlushTriggerDeadline)
		}
	}
	b.dropEmpty()
}

// Drain flushes all buffered items regardless of deadlines.
func (b *Batcher) Drain(ctx context.Context) {
	for recipient, w := range b.snapshot() {
		w.mu.Lock()
		detached := w.items
		w.items = nil
		w.mu.Unlock()

		if len(detached) > 0 {
			b.dispatchFlush(ctx, recipient, detached, FlushTriggerShutdown)
		}
	}
	b.dropEmpty()
}

// Buffered returns the number of notifications currently held open.
func (b *Batcher) Buffered() int {
	total := 0
	for _, w := range b.snapshot() {
		w.mu.Lock()
		total += len(w.items)
		w.mu.Unlock()
	}
	return total
}

func (b *Batcher) snapshot() map[string]*batchWindow {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]*batchWindow, len(b.windows))
	for k, v := range b.windows {
		out[k] = v
	}
	return out
}

func (b *Batcher) dropEmpty() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, w := range b.windows {
		w.mu.Lock()
		empty := len(w.items) == 0
		w.mu.Unlock()
		if empty {
			delete(b.windows, k)
		}
	}
}

func (b *Batcher) dispatchFlush(ctx context.Context, recipient string, items []*model.Notification, trigger string) {
	if b.metrics != nil {
		b.metrics.BatchFlushes.WithLabelValues(trigger).Inc()
		b.metrics.BatchSize.Observe(float64(len(items)))
	}
	b.logger.Debug("flushing batch window",
		"recipient", recipient, "size", len(items), "trigger", trigger)
	b.flush(ctx, recipient, items, trigger)
}
