// Package worker serializes all link I/O onto one goroutine.
//
// Callers hand operations to the worker through a bounded queue and wait for the
// result with a per-operation deadline. A circuit breaker in front of the link
// makes a dead connection fail fast instead of costing every caller the full
// timeout.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"github.com/srg/stepprobe/internal/device"
	"github.com/srg/stepprobe/internal/groutine"
	"github.com/srg/stepprobe/internal/metrics"
	"github.com/srg/stepprobe/internal/ringchan"
)

var (
	// ErrBusy is returned when the operation queue is full.
	ErrBusy = errors.New("link worker busy")
	// ErrTimeout is returned when an operation does not complete within its deadline.
	ErrTimeout = fmt.Errorf("link operation %w", device.ErrTimeout)
	// ErrLinkUnavailable is returned while the circuit breaker is open.
	ErrLinkUnavailable = errors.New("link unavailable")
	// ErrClosed is returned for operations submitted after Close.
	ErrClosed = errors.New("link worker closed")
)

// Default settings.
const (
	DefaultQueueSize          = 4
	DefaultOpTimeout          = 2 * time.Second
	DefaultBreakerMaxFailures = uint32(5)
	DefaultBreakerTimeout     = 5 * time.Second
)

// Config configures a Worker. Zero fields take the defaults.
type Config struct {
	QueueSize          int
	OpTimeout          time.Duration
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
	// BreakerInterval clears failure counts periodically while closed; 0 never clears.
	BreakerInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = DefaultOpTimeout
	}
	if c.BreakerMaxFailures == 0 {
		c.BreakerMaxFailures = DefaultBreakerMaxFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = DefaultBreakerTimeout
	}
	return c
}

type opKind int

const (
	opRead opKind = iota
	opWrite
	opSubscribe
)

func (k opKind) String() string {
	switch k {
	case opRead:
		return "read"
	case opWrite:
		return "write"
	case opSubscribe:
		return "subscribe"
	default:
		return "unknown"
	}
}

type result struct {
	data []byte
	err  error
}

type op struct {
	ctx     context.Context
	kind    opKind
	char    string
	data    []byte
	handler device.NotificationHandler
	result  chan result
}

// Worker owns a device.Link and implements device.Link itself, so callers can
// use it wherever a link is expected.
type Worker struct {
	link    device.Link
	cfg     Config
	ops     *ringchan.RingChannel[*op]
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *logrus.Logger
	metrics *metrics.Metrics

	cancel context.CancelFunc
	done   <-chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New starts a worker for link. The worker stops when ctx is done or Close is called.
func New(ctx context.Context, link device.Link, cfg Config, logger *logrus.Logger, m *metrics.Metrics) *Worker {
	if logger == nil {
		logger = logrus.New()
	}
	cfg = cfg.withDefaults()

	w := &Worker{
		link:    link,
		cfg:     cfg,
		ops:     ringchan.New[*op](cfg.QueueSize),
		logger:  logger,
		metrics: m,
	}

	maxFailures := cfg.BreakerMaxFailures
	w.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "link:" + link.Address(),
		MaxRequests: 1,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Link circuit breaker state change")
			m.SetBreakerOpen(to == gobreaker.StateOpen)
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation does not count against the link.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = groutine.Go(runCtx, "link-worker", w.run)
	return w
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drainPending()
			return
		case o := <-w.ops.C():
			o.result <- w.execute(o)
		}
	}
}

func (w *Worker) drainPending() {
	for {
		o, ok := w.ops.TryReceive()
		if !ok {
			return
		}
		o.result <- result{err: ErrClosed}
	}
}

func (w *Worker) execute(o *op) result {
	if err := o.ctx.Err(); err != nil {
		return result{err: err}
	}

	opCtx, cancel := context.WithTimeout(o.ctx, w.cfg.OpTimeout)
	defer cancel()

	data, err := w.breaker.Execute(func() ([]byte, error) {
		var (
			data []byte
			err  error
		)
		switch o.kind {
		case opRead:
			data, err = w.link.Read(opCtx, o.char)
		case opWrite:
			err = w.link.Write(opCtx, o.char, o.data)
		case opSubscribe:
			err = w.link.Subscribe(opCtx, o.char, o.handler)
		}
		if err != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s %s after %s", ErrTimeout, o.kind, o.char, w.cfg.OpTimeout)
		}
		return data, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrLinkUnavailable, err)
		}
		w.metrics.IncLinkError(o.kind.String())
		w.logger.WithFields(logrus.Fields{
			"op":    o.kind.String(),
			"char":  o.char,
			"error": err,
		}).Debug("Link operation failed")
	}
	return result{data: data, err: err}
}

func (w *Worker) submit(ctx context.Context, o *op) result {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return result{err: ErrClosed}
	}
	o.ctx = ctx
	o.result = make(chan result, 1)
	if !w.ops.TrySend(o) {
		w.mu.RUnlock()
		return result{err: ErrBusy}
	}
	w.mu.RUnlock()

	// Queue wait plus execution is bounded by twice the op timeout.
	timer := time.NewTimer(2 * w.cfg.OpTimeout)
	defer timer.Stop()

	select {
	case r := <-o.result:
		return r
	case <-ctx.Done():
		return result{err: ctx.Err()}
	case <-timer.C:
		return result{err: fmt.Errorf("%w: %s %s waiting for worker", ErrTimeout, o.kind, o.char)}
	}
}

// Address returns the underlying link address.
func (w *Worker) Address() string {
	return w.link.Address()
}

// Read reads char on the worker goroutine.
func (w *Worker) Read(ctx context.Context, char string) ([]byte, error) {
	r := w.submit(ctx, &op{kind: opRead, char: char})
	return r.data, r.err
}

// Write writes data to char on the worker goroutine.
func (w *Worker) Write(ctx context.Context, char string, data []byte) error {
	return w.submit(ctx, &op{kind: opWrite, char: char, data: append([]byte(nil), data...)}).err
}

// Subscribe enables notifications on char. The handler runs on the BLE stack's
// goroutine, not on the worker.
func (w *Worker) Subscribe(ctx context.Context, char string, handler device.NotificationHandler) error {
	return w.submit(ctx, &op{kind: opSubscribe, char: char, handler: handler}).err
}

// State returns the circuit breaker state.
func (w *Worker) State() gobreaker.State {
	return w.breaker.State()
}

// Close stops the worker, fails queued operations with ErrClosed and closes the link.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	<-w.done
	return w.link.Close()
}

var _ device.Link = (*Worker)(nil)
