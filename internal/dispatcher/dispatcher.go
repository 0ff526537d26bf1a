// Package dispatcher runs bot handlers off the HTTP request path.
//
// Events are partitioned by tenant and chat, and each partition is consumed by
// exactly one worker, so events of one chat are handled one at a time in the
// order they were submitted. Events of different chats may interleave.
package dispatcher

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/KnotATypo/Telegram-Bots/internal/metrics"
	"github.com/KnotATypo/Telegram-Bots/internal/models"
	"go.uber.org/zap"
)

// Handler is implemented by every bot.
type Handler interface {
	HandleEvent(ctx context.Context, event *models.Event) error
	// NotifyFailure tells the chat that its message could not be processed.
	NotifyFailure(ctx context.Context, chatID int64) error
}

// HandlerError wraps an error returned by, or a panic raised in, a Handler.
type HandlerError struct {
	Tenant  string
	EventID string
	Err     error
	Panic   bool
	Stack   []byte
}

func (e *HandlerError) Error() string {
	if e.Panic {
		return fmt.Sprintf("handler for %s panicked on event %s: %v", e.Tenant, e.EventID, e.Err)
	}
	return fmt.Sprintf("handler for %s failed on event %s: %v", e.Tenant, e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

type Dispatcher struct {
	queues []*queue
	logger *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a dispatcher with the given number of workers (at least one).
func New(workers int, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	queues := make([]*queue, workers)
	for i := range queues {
		queues[i] = newQueue()
	}
	return &Dispatcher{
		queues: queues,
		logger: logger,
	}
}

// Start launches the workers. ctx is passed to every handler call.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true

	for i, q := range d.queues {
		d.wg.Add(1)
		go d.work(ctx, i, q)
	}
	d.logger.Info("Dispatcher started", zap.Int("workers", len(d.queues)))
}

// Submit enqueues the event for handler without blocking. Events submitted
// after Stop are dropped.
func (d *Dispatcher) Submit(handler Handler, event *models.Event) {
	q := d.queues[d.partition(event)]
	if !q.push(job{handler: handler, event: event}) {
		d.logger.Warn("Dropping event submitted after shutdown",
			zap.String("tenant", event.Tenant),
			zap.String("event_id", event.ID))
		return
	}
	metrics.EventsEnqueued.WithLabelValues(event.Tenant).Inc()
	metrics.QueueDepth.Inc()
}

// Stop closes the queues, lets the workers finish everything already queued
// and waits for them to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	for _, q := range d.queues {
		q.close()
	}
	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

func (d *Dispatcher) partition(event *models.Event) int {
	if len(d.queues) == 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(event.Tenant))
	h.Write([]byte{0})
	if event.HasChat {
		h.Write([]byte(strconv.FormatInt(event.ChatID, 10)))
	} else {
		h.Write([]byte(event.ID))
	}
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) work(ctx context.Context, id int, q *queue) {
	defer d.wg.Done()

	for {
		j, ok := q.pop()
		if !ok {
			return
		}
		metrics.QueueDepth.Dec()
		d.process(ctx, id, j)
	}
}

func (d *Dispatcher) process(ctx context.Context, worker int, j job) {
	start := time.Now()
	err := d.invoke(ctx, j)
	metrics.HandlerDuration.WithLabelValues(j.event.Tenant).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.EventsProcessed.WithLabelValues(j.event.Tenant, "ok").Inc()
		return
	}
	metrics.EventsProcessed.WithLabelValues(j.event.Tenant, "failed").Inc()

	fields := []zap.Field{
		zap.Error(err),
		zap.Int("worker", worker),
		zap.String("tenant", j.event.Tenant),
		zap.String("event_id", j.event.ID),
		zap.Int64("chat_id", j.event.ChatID),
		zap.String("text", j.event.Text),
	}
	if err.Panic {
		fields = append(fields, zap.ByteString("stack", err.Stack))
	}
	d.logger.Error("Failed to handle event", fields...)

	if !j.event.HasChat {
		return
	}
	d.notify(ctx, j)
}

// notify sends the failure notice, swallowing any panic or error from it.
func (d *Dispatcher) notify(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Failure notice panicked",
				zap.Any("panic", r),
				zap.String("tenant", j.event.Tenant),
				zap.Int64("chat_id", j.event.ChatID))
		}
	}()

	if err := j.handler.NotifyFailure(ctx, j.event.ChatID); err != nil {
		d.logger.Error("Failed to send failure notice",
			zap.Error(err),
			zap.String("tenant", j.event.Tenant),
			zap.String("event_id", j.event.ID),
			zap.Int64("chat_id", j.event.ChatID))
	}
}

func (d *Dispatcher) invoke(ctx context.Context, j job) (herr *HandlerError) {
	defer func() {
		if r := recover(); r != nil {
			herr = &HandlerError{
				Tenant:  j.event.Tenant,
				EventID: j.event.ID,
				Err:     fmt.Errorf("%v", r),
				Panic:   true,
				Stack:   debug.Stack(),
			}
		}
	}()

	if err := j.handler.HandleEvent(ctx, j.event); err != nil {
		return &HandlerError{Tenant: j.event.Tenant, EventID: j.event.ID, Err: err}
	}
	return nil
}
