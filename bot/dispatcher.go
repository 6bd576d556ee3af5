package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrQueueFull is returned by Submit when the backlog is at capacity.
var ErrQueueFull = errors.New("dispatcher queue full")

// Handler processes one inbound message.
type Handler func(ctx context.Context, in Inbound) error

// DispatcherConfig sizes a Dispatcher.
type DispatcherConfig struct {
	// Workers bounds how many users are served at once.
	Workers int

	// QueueSize bounds messages accepted but not yet started.
	QueueSize int

	// Timeout bounds the handling of one message.
	Timeout time.Duration
}

// Dispatcher runs handlers concurrently across users while keeping each
// user's messages in arrival order.
type Dispatcher struct {
	handle Handler
	cfg    DispatcherConfig
	logger *slog.Logger
	queue  chan Inbound

	mu      sync.Mutex
	backlog map[string][]Inbound
}

// NewDispatcher creates a Dispatcher. Zero config fields get defaults.
func NewDispatcher(handle Handler, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handle:  handle,
		cfg:     cfg,
		logger:  logger,
		queue:   make(chan Inbound, cfg.QueueSize),
		backlog: make(map[string][]Inbound),
	}
}

// Submit enqueues a message without blocking.
func (d *Dispatcher) Submit(in Inbound) error {
	select {
	case d.queue <- in:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run dispatches queued messages until ctx is done, then waits for the
// handlers already started.
func (d *Dispatcher) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)

	for {
		select {
		case <-ctx.Done():
			if n := len(d.queue); n > 0 {
				d.logger.Warn("dispatcher stopping with queued messages", "dropped", n)
			}
			return g.Wait()
		case in := <-d.queue:
			if !d.enqueue(in) {
				continue
			}
			g.Go(func() error {
				d.work(ctx, in)
				return nil
			})
		}
	}
}

// enqueue reports whether a new worker is needed for the message's user.
func (d *Dispatcher) enqueue(in Inbound) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, busy := d.backlog[in.UserID]; busy {
		d.backlog[in.UserID] = append(q, in)
		return false
	}
	d.backlog[in.UserID] = nil
	return true
}

// next pops the user's next message; false retires the worker.
func (d *Dispatcher) next(userID string) (Inbound, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.backlog[userID]
	if len(q) == 0 {
		delete(d.backlog, userID)
		return Inbound{}, false
	}
	d.backlog[userID] = q[1:]
	return q[0], true
}

func (d *Dispatcher) work(ctx context.Context, in Inbound) {
	for ok := true; ok; in, ok = d.next(in.UserID) {
		d.process(ctx, in)
	}
}

func (d *Dispatcher) process(ctx context.Context, in Inbound) {
	// A reply in progress finishes even when shutdown starts.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", "user_id", in.UserID, "panic", r)
		}
	}()
	if err := d.handle(ctx, in); err != nil {
		d.logger.Error("message handling failed",
			"user_id", in.UserID,
			"channel", in.Channel,
			"message_id", in.MessageID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return
	}
	d.logger.Debug("message handled", "user_id", in.UserID, "duration_ms", time.Since(start).Milliseconds())
}
