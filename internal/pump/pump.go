// Package pump drains reminder queues and hands each decoded message to a
// handler, deleting messages once they are settled.
package pump

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-remind/internal/metrics"
	"github.com/lalithlochan/nimbus-remind/internal/observ"
	"github.com/lalithlochan/nimbus-remind/internal/reminder"
	"github.com/lalithlochan/nimbus-remind/internal/sqs"
)

var (
	ErrAlreadyStarted = errors.New("pump already started")
	ErrNoQueues       = errors.New("no queue urls configured")
)

// QueueClient is the part of the queue client the pump depends on.
type QueueClient interface {
	ReceiveBatch(ctx context.Context, queueURL string) ([]sqs.Message, error)
	ExtendVisibility(ctx context.Context, queueURL, receiptHandle string, seconds int32) error
	Delete(ctx context.Context, queueURL, receiptHandle string) error
	Poll(ctx context.Context, queueURL string, out chan<- sqs.Message)
}

// Handler acts on one decoded reminder.
type Handler interface {
	Handle(ctx context.Context, msg *reminder.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *reminder.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *reminder.Message) error {
	return f(ctx, msg)
}

// Lease claims a delivery so that two consumers never process it at once.
// Acquire returns an error whose Held method reports true when another
// consumer already owns the delivery.
type Lease interface {
	Acquire(ctx context.Context, queue, messageID string, ttl time.Duration) (string, error)
	Release(ctx context.Context, queue, messageID, token string) error
}

// DeletePolicy decides what happens to a message whose handler failed.
type DeletePolicy int

const (
	// DeleteAlways removes every settled message.
	DeleteAlways DeletePolicy = iota
	// KeepOnFailure leaves failed messages for redelivery.
	KeepOnFailure
)

func (p DeletePolicy) String() string {
	if p == KeepOnFailure {
		return "keep_on_failure"
	}
	return "delete_always"
}

type Config struct {
	QueueURLs         []string
	VisibilityTimeout int32
	MaxInFlight       int
	DeletePolicy      DeletePolicy
	HandleTimeout     time.Duration
	ChannelBuffer     int
	Lease             Lease
	MaxReceiveCount   int
}

func (c *Config) applyDefaults() {
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = sqs.DefaultVisibilityTimeout
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 10
	}
	if c.HandleTimeout <= 0 {
		c.HandleTimeout = 30 * time.Second
	}
	if c.ChannelBuffer <= 0 {
		c.ChannelBuffer = 10
	}
}

// Queue states reported by Stats.
const (
	StateIdle       = "idle"
	StatePolling    = "polling"
	StateProcessing = "processing"
)

// QueueStats is a snapshot of one queue's counters.
type QueueStats struct {
	QueueURL   string `json:"queue_url"`
	Queue      string `json:"queue"`
	State      string `json:"state"`
	Received   int64  `json:"received"`
	Dispatched int64  `json:"dispatched"`
	Discarded  int64  `json:"discarded"`
	Failed     int64  `json:"failed"`
	Deleted    int64  `json:"deleted"`
	InFlight   int64  `json:"in_flight"`
}

type queue struct {
	url  string
	name string
	sem  chan struct{}

	busy       atomic.Bool
	received   atomic.Int64
	dispatched atomic.Int64
	discarded  atomic.Int64
	failed     atomic.Int64
	deleted    atomic.Int64
	inFlight   atomic.Int64
}

// Pump runs one poller and one dispatch loop per queue.
type Pump struct {
	client  QueueClient
	decoder reminder.Decoder
	handler Handler
	cfg     Config
	logger  *zap.Logger
	queues  []*queue

	mu      sync.Mutex
	started bool
	running atomic.Bool
	cancel  context.CancelFunc

	loops   sync.WaitGroup
	workers sync.WaitGroup
}

func New(client QueueClient, decoder reminder.Decoder, handler Handler, cfg Config, logger *zap.Logger) *Pump {
	cfg.applyDefaults()
	if decoder == nil {
		decoder = reminder.JSONDecoder
	}

	queues := make([]*queue, 0, len(cfg.QueueURLs))
	for _, url := range cfg.QueueURLs {
		queues = append(queues, &queue{
			url:  url,
			name: sqs.QueueName(url),
			sem:  make(chan struct{}, cfg.MaxInFlight),
		})
	}

	return &Pump{
		client:  client,
		decoder: decoder,
		handler: handler,
		cfg:     cfg,
		logger:  logger.Named("pump"),
		queues:  queues,
	}
}

// Start begins polling every configured queue. It does not block.
func (p *Pump) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if len(p.queues) == 0 {
		return ErrNoQueues
	}
	p.started = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running.Store(true)

	for _, q := range p.queues {
		ch := make(chan sqs.Message, p.cfg.ChannelBuffer)

		p.loops.Add(2)
		go func(q *queue) {
			defer p.loops.Done()
			defer close(ch)
			p.client.Poll(ctx, q.url, ch)
		}(q)
		go func(q *queue) {
			defer p.loops.Done()
			p.run(ctx, q, ch)
		}(q)

		p.logger.Info("queue consumer started",
			observ.Queue(q.url),
			zap.Int("max_in_flight", p.cfg.MaxInFlight),
			zap.String("delete_policy", p.cfg.DeletePolicy.String()),
		)
	}

	return nil
}

// Stop cancels polling and waits for in-flight handlers. It returns
// ctx.Err() if they have not settled when ctx ends.
func (p *Pump) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	p.running.Store(false)

	done := make(chan struct{})
	go func() {
		p.loops.Wait()
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("queue consumers stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("timed out waiting for in-flight reminders")
		return ctx.Err()
	}
}

// Running reports whether the pump has started and not yet stopped.
func (p *Pump) Running() bool {
	return p.running.Load()
}

// Stats returns a snapshot per queue, in configuration order.
func (p *Pump) Stats() []QueueStats {
	running := p.running.Load()
	stats := make([]QueueStats, 0, len(p.queues))
	for _, q := range p.queues {
		s := QueueStats{
			QueueURL:   q.url,
			Queue:      q.name,
			Received:   q.received.Load(),
			Dispatched: q.dispatched.Load(),
			Discarded:  q.discarded.Load(),
			Failed:     q.failed.Load(),
			Deleted:    q.deleted.Load(),
			InFlight:   q.inFlight.Load(),
		}
		switch {
		case !running:
			s.State = StateIdle
		case s.InFlight > 0 || q.busy.Load():
			s.State = StateProcessing
		default:
			s.State = StatePolling
		}
		stats = append(stats, s)
	}
	return stats
}

func (p *Pump) run(ctx context.Context, q *queue, ch <-chan sqs.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			q.busy.Store(true)
			p.process(ctx, q, msg)
			q.busy.Store(false)
		}
	}
}

func (p *Pump) process(ctx context.Context, q *queue, msg sqs.Message) {
	q.received.Add(1)
	d := newDelivery(msg)
	logger := p.logger.With(observ.Queue(q.url), observ.Message(d.ID))

	if err := p.client.ExtendVisibility(ctx, q.url, d.ReceiptHandle, p.cfg.VisibilityTimeout); err != nil {
		metrics.RecordExtendError(q.name)
		logger.Warn("failed to extend visibility", zap.Error(err))
	}

	if p.cfg.Lease != nil {
		ttl := time.Duration(p.cfg.VisibilityTimeout) * time.Second
		token, err := p.cfg.Lease.Acquire(ctx, q.name, d.ID, ttl)
		switch {
		case leaseHeld(err):
			logger.Info("message leased by another consumer, skipping")
			return
		case err != nil:
			logger.Warn("lease unavailable, processing without it", zap.Error(err))
		default:
			d.leaseToken = token
		}
	}

	decoded, err := p.decoder.Decode([]byte(d.Body))
	if err != nil {
		reason := "malformed"
		var de *reminder.DecodeError
		if errors.As(err, &de) {
			reason = de.Reason()
		}
		logger.Warn("discarding undecodable reminder", zap.String("reason", reason), zap.Error(err))
		p.discard(ctx, q, d, reason, logger)
		return
	}

	if p.cfg.MaxReceiveCount > 0 && d.ReceiveCount > p.cfg.MaxReceiveCount {
		logger.Warn("discarding reminder over receive limit",
			zap.Int("receive_count", d.ReceiveCount),
			zap.Int("max_receive_count", p.cfg.MaxReceiveCount),
		)
		p.discard(ctx, q, d, "max_receives", logger)
		return
	}

	select {
	case q.sem <- struct{}{}:
	case <-ctx.Done():
		p.release(context.WithoutCancel(ctx), q, d, logger)
		return
	}

	n := q.inFlight.Add(1)
	metrics.SetInFlight(q.name, int(n))

	p.workers.Add(1)
	go p.dispatch(context.WithoutCancel(ctx), q, d, decoded, logger)
}

func (p *Pump) dispatch(ctx context.Context, q *queue, d *delivery, decoded *reminder.Message, logger *zap.Logger) {
	defer p.workers.Done()
	defer func() {
		<-q.sem
		n := q.inFlight.Add(-1)
		metrics.SetInFlight(q.name, int(n))
	}()

	hctx, cancel := context.WithTimeout(ctx, p.cfg.HandleTimeout)
	err := p.handle(hctx, decoded)
	cancel()

	var panicErr *panicError
	switch {
	case errors.As(err, &panicErr):
		q.failed.Add(1)
		logger.Error("reminder handler panicked", zap.Error(err))
	case err != nil:
		// Handlers log their own failures.
		q.failed.Add(1)
		logger.Debug("reminder handler failed", zap.Error(err))
	default:
		q.dispatched.Add(1)
	}

	sctx, cancel := context.WithTimeout(ctx, p.cfg.HandleTimeout)
	defer cancel()

	if err == nil || p.cfg.DeletePolicy == DeleteAlways {
		p.ack(sctx, q, d, logger)
	} else {
		logger.Info("keeping failed reminder for redelivery")
	}
	p.release(sctx, q, d, logger)
}

func (p *Pump) handle(ctx context.Context, msg *reminder.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return p.handler.Handle(ctx, msg)
}

func (p *Pump) discard(ctx context.Context, q *queue, d *delivery, reason string, logger *zap.Logger) {
	q.discarded.Add(1)
	metrics.RecordDiscarded(q.name, reason)
	p.ack(ctx, q, d, logger)
	p.release(ctx, q, d, logger)
}

// ack deletes the delivery from its queue at most once.
func (p *Pump) ack(ctx context.Context, q *queue, d *delivery, logger *zap.Logger) {
	if !d.markAcked() {
		return
	}
	if err := p.client.Delete(ctx, q.url, d.ReceiptHandle); err != nil {
		metrics.RecordDeleteError(q.name)
		logger.Error("failed to delete message", zap.Error(err))
		return
	}
	q.deleted.Add(1)
	metrics.RecordDeleted(q.name)
}

func (p *Pump) release(ctx context.Context, q *queue, d *delivery, logger *zap.Logger) {
	if p.cfg.Lease == nil || d.leaseToken == "" {
		return
	}
	if err := p.cfg.Lease.Release(ctx, q.name, d.ID, d.leaseToken); err != nil {
		logger.Warn("failed to release lease", zap.Error(err))
	}
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}

func leaseHeld(err error) bool {
	var h interface{ Held() bool }
	return errors.As(err, &h) && h.Held()
}
