// Package timeseries implements the Time-Series Sink: it buffers Samples
// and emits them as batches to an external store, behind a circuit
// breaker, without ever letting a slow or failing store block the rule or
// control paths.
package timeseries

import (
	"context"
	"log/slog"
	"time"

	"github.com/joeycumines/go-microbatch"

	"github.com/valorence/relayctl/internal/metrics"
	"github.com/valorence/relayctl/internal/model"
)

// Store is the external time-series backend D writes to and queries.
type Store interface {
	Write(ctx context.Context, samples []model.Sample) error
	Query(ctx context.Context, q Query) (Result, error)
}

// Query is a pass-through query to the store; field names mirror the
// store's own query language closely enough that the HTTP handler can
// build one directly from request params.
type Query struct {
	SourceID string
	Field    string
	From     time.Time
	To       time.Time
}

// Point is one {time,value} row of a Result.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Result is the query response shape the HTTP surface returns verbatim.
type Result struct {
	Data []Point        `json:"data"`
	Meta map[string]any `json:"meta"`
}

// SinkConfig parameterizes batching and breaker behavior; zero values take
// the defaults named in §4.4.
type SinkConfig struct {
	BatchSize        int
	FlushInterval    time.Duration
	FailureThreshold int
	ResetTimeout     time.Duration
}

func (c SinkConfig) withDefaults() SinkConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	return c
}

// Sink is the Time-Series Sink (component D).
type Sink struct {
	store   Store
	breaker *breaker
	log     *slog.Logger
	metrics *metrics.Metrics
	batcher *microbatch.Batcher[model.Sample]
}

// New builds a Sink. The batcher's BatchProcessor is where the breaker is
// consulted: if open (and still cooling down) the batch is dropped with a
// log line instead of being sent. m may be nil in tests.
func New(store Store, cfg SinkConfig, m *metrics.Metrics, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	s := &Sink{
		store:   store,
		breaker: newBreaker(cfg.FailureThreshold, cfg.ResetTimeout),
		log:     log,
		metrics: m,
	}
	s.batcher = microbatch.NewBatcher[model.Sample](&microbatch.BatcherConfig{
		MaxSize:        cfg.BatchSize,
		FlushInterval:  cfg.FlushInterval,
		MaxConcurrency: 1,
	}, s.flush)
	return s
}

func (s *Sink) flush(ctx context.Context, batch []model.Sample) error {
	defer s.recordBreakerState()
	if !s.breaker.allow() {
		s.log.Warn("time-series breaker open, dropping batch", "size", len(batch))
		return nil
	}
	if err := s.store.Write(ctx, batch); err != nil {
		if s.breaker.recordFailure() {
			s.log.Error("time-series breaker opened after consecutive failures", "error", err)
		} else {
			s.log.Warn("time-series write failed", "error", err)
		}
		return nil // never surface the error upward: writes are hand-off-and-forget
	}
	s.breaker.recordSuccess()
	if s.metrics != nil {
		s.metrics.TimeseriesBatchSize.Observe(float64(len(batch)))
	}
	return nil
}

func (s *Sink) recordBreakerState() {
	if s.metrics == nil {
		return
	}
	if s.breaker.isOpen() {
		s.metrics.BreakerOpen.Set(1)
	} else {
		s.metrics.BreakerOpen.Set(0)
	}
}

// Enqueue hands a Sample to the batcher without blocking the caller beyond
// a very small, bounded window; rule evaluation and control loops must
// never stall on the store.
func (s *Sink) Enqueue(sample model.Sample) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		if _, err := s.batcher.Submit(ctx, sample); err != nil {
			s.log.Warn("time-series enqueue dropped", "source", sample.SourceID, "error", err)
		}
	}()
}

// Query is a synchronous pass-through to the store; the breaker does not
// gate queries, only writes (queries isolate failures on their own
// dedicated connection per §4.4).
func (s *Sink) Query(ctx context.Context, q Query) (Result, error) {
	return s.store.Query(ctx, q)
}

// Shutdown flushes any pending batch and waits for it to complete.
func (s *Sink) Shutdown(ctx context.Context) error {
	return s.batcher.Shutdown(ctx)
}

// BreakerOpen reports whether the breaker currently has writes suppressed;
// exposed for property 9's test.
func (s *Sink) BreakerOpen() bool { return s.breaker.isOpen() }
