package timeseries

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/valorence/relayctl/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nilWriter{}, nil))
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

func sample(source string, v float64) model.Sample {
	return model.Sample{SourceID: source, Fields: map[string]float64{"x": v}}
}

func TestSink_BatchSizeTriggersFlush(t *testing.T) {
	store := &FakeStore{}
	s := New(store, SinkConfig{BatchSize: 3, FlushInterval: time.Hour}, nil, discardLogger())
	defer s.Shutdown(context.Background())

	s.Enqueue(sample("a", 1))
	s.Enqueue(sample("a", 2))
	s.Enqueue(sample("a", 3))

	deadline := time.Now().Add(500 * time.Millisecond)
	for store.Len() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 samples written once batch size reached, got %d", store.Len())
	}
}

func TestSink_FlushIntervalTriggersFlush(t *testing.T) {
	store := &FakeStore{}
	s := New(store, SinkConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, nil, discardLogger())
	defer s.Shutdown(context.Background())

	s.Enqueue(sample("a", 1))

	deadline := time.Now().Add(500 * time.Millisecond)
	for store.Len() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.Len() != 1 {
		t.Fatalf("expected flush-interval to emit the incomplete batch, got %d written", store.Len())
	}
}

func TestSink_ShutdownFlushesPending(t *testing.T) {
	store := &FakeStore{}
	s := New(store, SinkConfig{BatchSize: 100, FlushInterval: time.Hour}, nil, discardLogger())

	s.Enqueue(sample("a", 1))
	s.Enqueue(sample("a", 2))
	time.Sleep(10 * time.Millisecond) // let Submit's internal ping/pong land in the pending batch

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("expected shutdown to flush the pending batch, got %d written", store.Len())
	}
}

func TestSink_BreakerOpensAfterConsecutiveFailuresAndDropsWithoutBlocking(t *testing.T) {
	store := &FakeStore{FailNext: 5}
	s := New(store, SinkConfig{
		BatchSize:        1,
		FlushInterval:    time.Hour,
		FailureThreshold: 5,
		ResetTimeout:     time.Hour,
	}, nil, discardLogger())
	defer s.Shutdown(context.Background())

	for i := 0; i < 5; i++ {
		s.Enqueue(sample("a", float64(i)))
		time.Sleep(20 * time.Millisecond)
	}
	if !s.BreakerOpen() {
		t.Fatal("expected breaker to be open after 5 consecutive write failures")
	}

	start := time.Now()
	s.Enqueue(sample("a", 99))
	elapsed := time.Since(start)
	if elapsed > 5*time.Millisecond {
		t.Fatalf("Enqueue must return near-instantly even with the breaker open, took %v", elapsed)
	}

	time.Sleep(30 * time.Millisecond)
	if store.Writes > 5 {
		t.Fatalf("writes must be suppressed while the breaker is open, got %d store.Write calls", store.Writes)
	}
}

func TestSink_BreakerClosesAfterResetTimeoutOnSuccess(t *testing.T) {
	store := &FakeStore{FailNext: 3}
	s := New(store, SinkConfig{
		BatchSize:        1,
		FlushInterval:    time.Hour,
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Millisecond,
	}, nil, discardLogger())
	defer s.Shutdown(context.Background())

	for i := 0; i < 3; i++ {
		s.Enqueue(sample("a", float64(i)))
		time.Sleep(15 * time.Millisecond)
	}
	if !s.BreakerOpen() {
		t.Fatal("expected breaker open after 3 consecutive failures")
	}

	time.Sleep(40 * time.Millisecond) // past reset timeout
	s.Enqueue(sample("a", 100))       // probe write, store.FailNext is now exhausted so it succeeds
	time.Sleep(30 * time.Millisecond)

	if s.BreakerOpen() {
		t.Fatal("a successful probe write after the reset timeout must close the breaker")
	}
}

func TestSink_QueryBypassesBreaker(t *testing.T) {
	store := &FakeStore{}
	store.written = []model.Sample{sample("a", 7)}
	s := New(store, SinkConfig{}, nil, discardLogger())
	defer s.Shutdown(context.Background())
	s.breaker.open = true // simulate an open breaker on the write path

	res, err := s.Query(context.Background(), Query{SourceID: "a", Field: "x"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Data) != 1 || res.Data[0].Value != 7 {
		t.Fatalf("expected query to bypass the breaker and read the store directly, got %+v", res)
	}
}
