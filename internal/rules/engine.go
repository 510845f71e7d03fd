// Package rules implements the Rule Engine: edge-triggered predicate
// evaluation over sensor Samples, with action dispatch through whatever
// Dispatcher the composition root wires to the Command Bus.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/valorence/relayctl/internal/cache"
	"github.com/valorence/relayctl/internal/metrics"
	"github.com/valorence/relayctl/internal/model"
)

// Dispatcher is the narrow seam the engine needs from the Command Bus (I);
// it does not need to know about relays, schedules, or the hardware layer
// beyond this.
type Dispatcher interface {
	DispatchIO(ctx context.Context, targetRelay string, state model.IOState) error
	Reboot(ctx context.Context) error
}

const (
	latchKeyPrefix   = "latch:"
	logKeyPrefix     = "rule:log:"
	errorKeyPrefix   = "rule:error:"
	rebootDebounceKey = "reboot_scheduled"

	logTTL            = 7 * 24 * time.Hour
	rebootDebounceTTL = 60 * time.Second
	errorTTL          = 24 * time.Hour
)

type latchEntry struct {
	mu sync.Mutex
	model.Latch
}

// Engine is the Rule Engine (component E).
type Engine struct {
	rules      []model.Rule
	dispatcher Dispatcher
	cache      cache.Cache
	log        *slog.Logger
	metrics    *metrics.Metrics

	latches sync.Map // ruleID -> *latchEntry
}

// New builds an Engine for a fixed rule set, in the order they must be
// evaluated (configured order, per §4.5's tie-break rule). m may be nil in
// tests.
func New(rules []model.Rule, dispatcher Dispatcher, c cache.Cache, m *metrics.Metrics, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{rules: rules, dispatcher: dispatcher, cache: c, metrics: m, log: log}
}

// SetDispatcher wires the dispatcher after construction, for the
// composition root: the Command Bus needs a *Engine to answer rule
// status queries, and the Engine needs the Command Bus to dispatch
// actions, so one side of the cycle is resolved post-construction.
func (e *Engine) SetDispatcher(d Dispatcher) { e.dispatcher = d }

// LoadLatches reconstructs L from the cache on startup; any rule with no
// cached entry (or a cache miss) starts as untriggered, per §3's Rule
// latch invariant.
func (e *Engine) LoadLatches(ctx context.Context) {
	for _, r := range e.rules {
		raw, ok, err := e.cache.Get(ctx, latchKeyPrefix+r.ID)
		if err != nil || !ok {
			continue
		}
		var l model.Latch
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			e.log.Warn("discarding unreadable cached latch", "rule", r.ID, "error", err)
			continue
		}
		entry := &latchEntry{Latch: l}
		e.latches.Store(r.ID, entry)
	}
}

func (e *Engine) latchFor(ruleID string) *latchEntry {
	v, _ := e.latches.LoadOrStore(ruleID, &latchEntry{})
	return v.(*latchEntry)
}

func (e *Engine) persistLatch(ctx context.Context, ruleID string, l model.Latch) {
	b, err := json.Marshal(l)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, latchKeyPrefix+ruleID, string(b), 0); err != nil {
		e.log.Warn("failed to persist rule latch", "rule", ruleID, "error", err)
	}
}

// Evaluate runs every rule whose source_id matches the Sample, in
// configured order. Rules with no matching field in the Sample are
// skipped. Actions fire only on a NOT-TRIGGERED -> TRIGGERED edge.
func (e *Engine) Evaluate(ctx context.Context, sample model.Sample) {
	for _, r := range e.rules {
		if r.SourceID != sample.SourceID {
			continue
		}
		value, ok := sample.Fields[r.Field]
		if !ok {
			continue
		}
		e.evaluateRule(ctx, r, value, sample)
	}
}

func (e *Engine) evaluateRule(ctx context.Context, r model.Rule, value float64, sample model.Sample) {
	entry := e.latchFor(r.ID)
	entry.mu.Lock()

	now := r.Operator.Evaluate(value, r.Threshold)
	prev := entry.Triggered
	switch {
	case now && !prev:
		entry.Triggered = true
		entry.LastTriggeredAt = time.Now()
		snapshot := entry.Latch
		entry.mu.Unlock()
		e.persistLatch(ctx, r.ID, snapshot)
		e.recordFiring(r.ID, "trigger")
		e.log.Info("rule triggered", "rule", r.ID, "source", r.SourceID, "field", r.Field, "value", value, "threshold", r.Threshold)
		e.dispatchActions(ctx, r, sample)
	case !now && prev:
		entry.Triggered = false
		entry.LastClearedAt = time.Now()
		snapshot := entry.Latch
		entry.mu.Unlock()
		e.persistLatch(ctx, r.ID, snapshot)
		e.recordFiring(r.ID, "clear")
		e.log.Info("rule cleared", "rule", r.ID, "source", r.SourceID, "field", r.Field, "value", value)
	default:
		entry.mu.Unlock()
	}
}

func (e *Engine) recordFiring(ruleID, edge string) {
	if e.metrics == nil {
		return
	}
	e.metrics.RuleFirings.WithLabelValues(ruleID, edge).Inc()
}

func (e *Engine) dispatchActions(ctx context.Context, r model.Rule, sample model.Sample) {
	for _, a := range r.Actions {
		action := a
		err := retryWithBackoff(ctx, 3, 100*time.Millisecond, func() error {
			return e.dispatchOne(ctx, r, action, sample)
		})
		if err != nil {
			e.log.Error("rule action failed after retries", "rule", r.ID, "kind", action.Kind, "error", err)
			errKey := fmt.Sprintf("%s%s", errorKeyPrefix, r.ID)
			if setErr := e.cache.Set(ctx, errKey, err.Error(), errorTTL); setErr != nil {
				e.log.Warn("failed to record rule action error", "rule", r.ID, "error", setErr)
			}
		}
	}
}

// RuleStatus is one rule's current latch state, as exposed to the
// io/rules/status endpoint.
type RuleStatus struct {
	RuleID    string
	Triggered bool
	Since     time.Time
}

// Statuses returns every rule's current latch, in configured order. It
// only reads L — never re-evaluates a predicate — so it cannot block on a
// sensor read.
func (e *Engine) Statuses() []RuleStatus {
	out := make([]RuleStatus, 0, len(e.rules))
	for _, r := range e.rules {
		entry := e.latchFor(r.ID)
		entry.mu.Lock()
		since := entry.LastTriggeredAt
		if !entry.Triggered {
			since = entry.LastClearedAt
		}
		out = append(out, RuleStatus{RuleID: r.ID, Triggered: entry.Triggered, Since: since})
		entry.mu.Unlock()
	}
	return out
}

func (e *Engine) dispatchOne(ctx context.Context, r model.Rule, a model.Action, sample model.Sample) error {
	switch a.Kind {
	case model.ActionIO:
		return e.dispatcher.DispatchIO(ctx, a.TargetRelay, a.State)
	case model.ActionLog:
		e.log.Info("rule log action", "rule", r.Name, "message", a.Message, "fields", sample.Fields)
		logKey := fmt.Sprintf("%s%s:%d", logKeyPrefix, r.ID, sample.Timestamp)
		return e.cache.Set(ctx, logKey, a.Message, logTTL)
	case model.ActionReboot:
		wrote, err := e.cache.SetIfAbsent(ctx, rebootDebounceKey, "1", rebootDebounceTTL)
		if err != nil {
			return err
		}
		if !wrote {
			e.log.Info("reboot action debounced: already scheduled", "rule", r.ID)
			return nil
		}
		return e.dispatcher.Reboot(ctx)
	default:
		return fmt.Errorf("rules: unknown action kind %q", a.Kind)
	}
}
