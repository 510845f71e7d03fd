package rules

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valorence/relayctl/internal/cache"
	"github.com/valorence/relayctl/internal/model"
)

type fakeDispatcher struct {
	ioCalls     atomic.Int32
	rebootCalls atomic.Int32
	failIO      atomic.Int32 // number of remaining DispatchIO calls to fail
}

func (f *fakeDispatcher) DispatchIO(ctx context.Context, targetRelay string, state model.IOState) error {
	f.ioCalls.Add(1)
	if f.failIO.Load() > 0 {
		f.failIO.Add(-1)
		return errors.New("simulated relay failure")
	}
	return nil
}

func (f *fakeDispatcher) Reboot(ctx context.Context) error {
	f.rebootCalls.Add(1)
	return nil
}

func sample(field string, v float64) model.Sample {
	return model.Sample{SourceID: "pwr", Fields: map[string]float64{field: v}}
}

func TestEngine_EdgeTriggeredSequenceFiresTwice(t *testing.T) {
	rule := model.Rule{
		ID: "overcurrent", SourceID: "pwr", Field: "current",
		Operator: model.GT, Threshold: 10,
		Actions: []model.Action{{Kind: model.ActionIO, TargetRelay: "relay_1", State: model.IOOff}},
	}
	disp := &fakeDispatcher{}
	eng := New([]model.Rule{rule}, disp, cache.NewFakeCache(), nil, nil)

	seq := []float64{9, 10, 11, 12, 11, 9, 8, 11}
	ctx := context.Background()
	for _, v := range seq {
		eng.Evaluate(ctx, sample("current", v))
	}

	if got := disp.ioCalls.Load(); got != 2 {
		t.Fatalf("expected exactly 2 action firings for sequence %v, got %d", seq, got)
	}
}

func TestEngine_ClearedTransitionFiresNoActions(t *testing.T) {
	rule := model.Rule{
		ID: "r1", SourceID: "pwr", Field: "current",
		Operator: model.GT, Threshold: 10,
		Actions: []model.Action{{Kind: model.ActionIO, TargetRelay: "relay_1", State: model.IOOff}},
	}
	disp := &fakeDispatcher{}
	eng := New([]model.Rule{rule}, disp, cache.NewFakeCache(), nil, nil)
	ctx := context.Background()

	eng.Evaluate(ctx, sample("current", 11)) // trigger
	eng.Evaluate(ctx, sample("current", 5))  // clear

	if got := disp.ioCalls.Load(); got != 1 {
		t.Fatalf("expected only the trigger edge to fire an action, got %d calls", got)
	}
}

func TestEngine_UnrelatedFieldIsIgnored(t *testing.T) {
	rule := model.Rule{ID: "r1", SourceID: "pwr", Field: "current", Operator: model.GT, Threshold: 10}
	disp := &fakeDispatcher{}
	eng := New([]model.Rule{rule}, disp, cache.NewFakeCache(), nil, nil)
	eng.Evaluate(context.Background(), sample("voltage", 999))
	if v, ok := eng.latches.Load("r1"); ok && v.(*latchEntry).Triggered {
		t.Fatal("a sample missing the rule's field must never trigger it")
	}
}

func TestEngine_ActionRetriedThenLoggedOnFinalFailure(t *testing.T) {
	rule := model.Rule{
		ID: "r1", SourceID: "pwr", Field: "current", Operator: model.GT, Threshold: 10,
		Actions: []model.Action{{Kind: model.ActionIO, TargetRelay: "relay_1", State: model.IOOff}},
	}
	disp := &fakeDispatcher{}
	disp.failIO.Store(3) // fail every attempt, including all retries
	c := cache.NewFakeCache()
	eng := New([]model.Rule{rule}, disp, c, nil, nil)

	start := time.Now()
	eng.Evaluate(context.Background(), sample("current", 20))
	elapsed := time.Since(start)

	if disp.ioCalls.Load() != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", disp.ioCalls.Load())
	}
	if elapsed < 300*time.Millisecond {
		t.Fatalf("expected backoff delays (0.1s + 0.2s) between attempts, elapsed only %v", elapsed)
	}
	if _, ok, _ := c.Get(context.Background(), errorKeyPrefix+"r1"); !ok {
		t.Fatal("final failure must be recorded under the rule's error cache key")
	}
}

func TestEngine_RebootDebounced(t *testing.T) {
	rule1 := model.Rule{ID: "r1", SourceID: "pwr", Field: "current", Operator: model.GT, Threshold: 10,
		Actions: []model.Action{{Kind: model.ActionReboot}}}
	rule2 := model.Rule{ID: "r2", SourceID: "pwr", Field: "voltage", Operator: model.LT, Threshold: 1,
		Actions: []model.Action{{Kind: model.ActionReboot}}}
	disp := &fakeDispatcher{}
	eng := New([]model.Rule{rule1, rule2}, disp, cache.NewFakeCache(), nil, nil)
	ctx := context.Background()

	eng.Evaluate(ctx, sample("current", 20))
	eng.Evaluate(ctx, model.Sample{SourceID: "pwr", Fields: map[string]float64{"voltage": 0}})

	if got := disp.rebootCalls.Load(); got != 1 {
		t.Fatalf("second reboot action within the debounce window must be suppressed, got %d calls", got)
	}
}

func TestEngine_LoadLatchesRestoresState(t *testing.T) {
	c := cache.NewFakeCache()
	c.Set(context.Background(), latchKeyPrefix+"r1", `{"Triggered":true}`, 0)
	eng := New([]model.Rule{{ID: "r1", SourceID: "pwr", Field: "current", Operator: model.GT, Threshold: 10}}, &fakeDispatcher{}, c, nil, nil)
	eng.LoadLatches(context.Background())

	entry := eng.latchFor("r1")
	if !entry.Triggered {
		t.Fatal("LoadLatches must restore a previously triggered latch from the cache")
	}
}
