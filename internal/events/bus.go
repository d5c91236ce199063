package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/observability/metrics"
)

// Defaults for the bus queue.
const (
	DefaultBufferSize     = 256
	DefaultWorkers        = 2
	DefaultPublishTimeout = 10 * time.Second
)

// Config holds bus configuration.
type Config struct {
	BufferSize     int
	Workers        int
	PublishTimeout time.Duration // per sink and event
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:     DefaultBufferSize,
		Workers:        DefaultWorkers,
		PublishTimeout: DefaultPublishTimeout,
	}
}

// Stats counts bus activity.
type Stats struct {
	Received  uint64
	Dropped   uint64
	Delivered uint64
	Failed    uint64
}

// Bus queues events and fans each one out to every sink from a fixed set of
// workers. TryPublish never blocks; when the queue is full the event is
// dropped and counted.
type Bus struct {
	queue   chan *AnalysisEvent
	cfg     Config
	sinks   []Sink
	metrics *metrics.EventMetrics
	log     logger.Logger

	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}

	received  atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// GetLogger returns the events module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("events")
}

// NewBus starts the workers. A bus without sinks accepts nothing.
func NewBus(cfg Config, m *metrics.EventMetrics, sinks ...Sink) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}

	b := &Bus{
		queue:   make(chan *AnalysisEvent, cfg.BufferSize),
		cfg:     cfg,
		sinks:   sinks,
		metrics: m,
		log:     GetLogger(),
		stopped: make(chan struct{}),
	}
	if len(sinks) == 0 {
		b.closed = true
		close(b.stopped)
		return b
	}

	for i := range cfg.Workers {
		b.wg.Go(func() { b.worker(i) })
	}
	go func() {
		b.wg.Wait()
		close(b.stopped)
	}()

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	b.log.Info("event bus started",
		logger.Int("buffer_size", cfg.BufferSize),
		logger.Int("workers", cfg.Workers),
		logger.Any("sinks", names))
	return b
}

// TryPublish queues ev and reports whether it was accepted.
func (b *Bus) TryPublish(ev *AnalysisEvent) bool {
	if b == nil || ev == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}

	select {
	case b.queue <- ev:
		b.received.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.log.Warn("event dropped, queue full", logger.String("id", ev.ID))
		return false
	}
}

func (b *Bus) worker(id int) {
	for ev := range b.queue {
		for _, sink := range b.sinks {
			b.deliver(id, sink, ev)
		}
	}
}

func (b *Bus) deliver(worker int, sink Sink, ev *AnalysisEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.PublishTimeout)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sink panicked: %v", r)
			}
		}()
		return sink.Publish(ctx, ev)
	}()

	size := 0
	if err == nil {
		if payload, perr := ev.Payload(); perr == nil {
			size = len(payload)
		}
	}
	b.metrics.RecordPublish(sink.Name(), time.Since(start), size, err)

	if err != nil {
		b.failed.Add(1)
		b.log.Error("event delivery failed",
			logger.Int("worker", worker),
			logger.String("sink", sink.Name()),
			logger.String("id", ev.ID),
			logger.Error(err))
		return
	}
	b.delivered.Add(1)
}

// Shutdown stops accepting events, drains the queue and closes every sink.
func (b *Bus) Shutdown(timeout time.Duration) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return b.closeSinks()
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	select {
	case <-b.stopped:
	case <-time.After(timeout):
		b.log.Warn("event bus shutdown timeout exceeded", logger.Duration("timeout", timeout))
		return errors.Newf("event bus shutdown timed out after %s", timeout).
			Component("events").
			Category(errors.CategoryTimeout).
			Build()
	}
	return b.closeSinks()
}

func (b *Bus) closeSinks() error {
	var errs []error
	for _, s := range b.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	b.sinks = nil
	return errors.Join(errs...)
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	return Stats{
		Received:  b.received.Load(),
		Dropped:   b.dropped.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
	}
}
