package sensor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valorence/relayctl/internal/model"
)

func TestPoller_SuccessUpdatesLatest(t *testing.T) {
	reader := ReaderFunc(func(ctx context.Context) (map[string]float64, error) {
		return map[string]float64{"temperature": 21.5}, nil
	})
	var got model.Sample
	var mu sync.Mutex
	p := New(20*time.Millisecond, map[string]Reader{"env": reader}, nil, nil, func(s model.Sample) {
		mu.Lock()
		got = s
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if got.SourceID != "env" || got.Fields["temperature"] != 21.5 {
		t.Fatalf("onSample did not observe the expected sample: %+v", got)
	}
	if _, ok := p.Latest("env"); !ok {
		t.Fatal("Latest(\"env\") missing after successful read")
	}
}

func TestPoller_FailureIsolatedAndUnhealthyAfterThreeStrikes(t *testing.T) {
	var calls atomic.Int32
	failing := ReaderFunc(func(ctx context.Context) (map[string]float64, error) {
		calls.Add(1)
		return nil, errors.New("bus nak")
	})
	healthy := ReaderFunc(func(ctx context.Context) (map[string]float64, error) {
		return map[string]float64{"voltage": 12}, nil
	})

	p := New(10*time.Millisecond, map[string]Reader{"bad": failing, "good": healthy}, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	p.Run(ctx)
	time.Sleep(5 * time.Millisecond)

	if _, ok := p.Latest("bad"); ok {
		t.Fatal("a failing sensor must never update M")
	}
	if _, ok := p.Latest("good"); !ok {
		t.Fatal("an unrelated healthy sensor must be unaffected by another sensor's failures")
	}
	if !p.Unhealthy()["bad"] {
		t.Fatal("sensor with 3+ consecutive failures must be marked unhealthy")
	}
}

func TestPoller_OverrunSkipsNextTick(t *testing.T) {
	var running atomic.Int32
	var overlapDetected atomic.Bool
	slow := ReaderFunc(func(ctx context.Context) (map[string]float64, error) {
		if running.Add(1) > 1 {
			overlapDetected.Store(true)
		}
		defer running.Add(-1)
		time.Sleep(40 * time.Millisecond)
		return map[string]float64{"x": 1}, nil
	})

	p := New(10*time.Millisecond, map[string]Reader{"slow": slow}, nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Millisecond)
	defer cancel()
	p.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	if overlapDetected.Load() {
		t.Fatal("overrunning ticks must never run concurrently for the same poller")
	}
}
