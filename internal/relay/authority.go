// Package relay implements the Relay Authority: the single-writer owner
// of every relay's logical state. Every mutation is serialized per relay
// id; distinct relays mutate in parallel. Polarity translation lives
// entirely here — no other package ever sees a hardware level.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/valorence/relayctl/internal/errcode"
	"github.com/valorence/relayctl/internal/hal"
	"github.com/valorence/relayctl/internal/metrics"
	"github.com/valorence/relayctl/internal/model"
)

// gate serializes every command against one relay; every command bumps
// pulseGen, so a pending pulse restore can tell that another command has
// moved the relay since the restore was scheduled.
type gate struct {
	mu       sync.Mutex
	relay    model.Relay
	state    model.State
	pulseGen uint64
}

// ToggleResult is returned by TurnOn/TurnOff.
type ToggleResult struct {
	NewState model.State
}

// PulseResult is returned immediately by Pulse and carries only the state
// before the pulse and its duration; the scheduled reverse toggle runs
// later, and observers re-read Get/GetAll to see it.
type PulseResult struct {
	InitialState model.State
	Duration     time.Duration
}

// Authority is the sole writer of every configured relay's logical state.
// Its gates are the one authoritative copy of Q; the Scheduler and the
// Live Stream Hub read it directly through GetAll rather than through any
// intermediary, since they run in the same process.
type Authority struct {
	hal     hal.HAL
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	gates map[string]*gate
}

// New builds the Authority and seeds Q from the current hardware level of
// every configured relay, per §4.2's initialization contract: it reads the
// current level and configures the line at that same level, so it never
// forces a change. m may be nil in tests.
func New(ctx context.Context, h hal.HAL, relays []model.Relay, m *metrics.Metrics, log *slog.Logger) (*Authority, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &Authority{hal: h, log: log, metrics: m, gates: make(map[string]*gate, len(relays))}
	for _, r := range relays {
		g := &gate{relay: r}
		high, err := h.ReadLine(ctx, r.GPIOLine)
		if err != nil {
			return nil, errcode.Wrap("relay.New", errcode.HardwareUnavailable, err)
		}
		if err := h.ConfigureLine(ctx, r.GPIOLine, high); err != nil {
			return nil, errcode.Wrap("relay.New", errcode.HardwareUnavailable, err)
		}
		g.state = r.Polarity.StateForLevel(high)
		a.gates[r.ID] = g
	}
	return a, nil
}

func (a *Authority) gateFor(id string) (*gate, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	g, ok := a.gates[id]
	if !ok {
		return nil, errcode.Wrap("relay.gateFor", errcode.NotFound, fmt.Errorf("unknown relay %q", id))
	}
	return g, nil
}

// writeConfirmed drives the line to want, reads it back, and only updates
// Q if the read-back agrees with what was commanded — a mismatch is
// reported as an error carrying the observed state, per §4.2.
func (a *Authority) writeConfirmed(ctx context.Context, g *gate, want model.State) (model.State, error) {
	level := g.relay.Polarity.LevelForState(want)
	if err := a.hal.WriteLine(ctx, g.relay.GPIOLine, level); err != nil {
		a.recordMutation(g.relay.ID, "error")
		return g.state, errcode.Wrap("relay.writeConfirmed", errcode.BusError, err)
	}
	high, err := a.hal.ReadLine(ctx, g.relay.GPIOLine)
	if err != nil {
		a.recordMutation(g.relay.ID, "error")
		return g.state, errcode.Wrap("relay.writeConfirmed", errcode.BusError, err)
	}
	observed := g.relay.Polarity.StateForLevel(high)
	g.state = observed
	if observed != want {
		a.recordMutation(g.relay.ID, "error")
		return observed, errcode.Wrap("relay.writeConfirmed", errcode.BusError,
			fmt.Errorf("relay %q commanded %v but observed %v", g.relay.ID, want, observed))
	}
	a.recordMutation(g.relay.ID, "ok")
	return observed, nil
}

func (a *Authority) recordMutation(relayID, outcome string) {
	if a.metrics == nil {
		return
	}
	a.metrics.RelayMutations.WithLabelValues(relayID, outcome).Inc()
}

// TurnOn sets a relay ON.
func (a *Authority) TurnOn(ctx context.Context, id string) (ToggleResult, error) {
	return a.toggle(ctx, id, model.On)
}

// TurnOff sets a relay OFF.
func (a *Authority) TurnOff(ctx context.Context, id string) (ToggleResult, error) {
	return a.toggle(ctx, id, model.Off)
}

func (a *Authority) toggle(ctx context.Context, id string, want model.State) (ToggleResult, error) {
	g, err := a.gateFor(id)
	if err != nil {
		return ToggleResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pulseGen++
	observed, err := a.writeConfirmed(ctx, g, want)
	return ToggleResult{NewState: observed}, err
}

// Pulse toggles a relay, schedules the reverse toggle after duration, and
// returns immediately — it never blocks on the scheduled restore. A pulse
// submitted while an earlier one is still pending is accepted and
// serializes behind it through the same gate rather than being rejected
// (see the pulse-interleaving decision).
func (a *Authority) Pulse(ctx context.Context, id string, duration time.Duration) (PulseResult, error) {
	g, err := a.gateFor(id)
	if err != nil {
		return PulseResult{}, err
	}
	g.mu.Lock()
	initial := g.state
	target := model.On
	if initial == model.On {
		target = model.Off
	}
	if _, err := a.writeConfirmed(ctx, g, target); err != nil {
		g.mu.Unlock()
		return PulseResult{}, err
	}
	g.pulseGen++
	myGen := g.pulseGen
	g.mu.Unlock()

	time.AfterFunc(duration, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.pulseGen != myGen {
			// another command moved the relay since this pulse was
			// scheduled; restoring now would be wrong, so skip silently
			// except for a logged warning, per §4.2.
			a.log.Warn("pulse restore skipped: relay moved since scheduling", "relay", id)
			return
		}
		restoreCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := a.writeConfirmed(restoreCtx, g, initial); err != nil {
			a.log.Warn("pulse restore failed", "relay", id, "error", err)
		}
	})

	return PulseResult{InitialState: initial, Duration: duration}, nil
}

// Get returns a relay's last-observed logical state.
func (a *Authority) Get(id string) (model.State, error) {
	g, err := a.gateFor(id)
	if err != nil {
		return model.Off, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, nil
}

// GetAll returns the last-observed state of every requested id, or every
// configured relay if ids is empty.
func (a *Authority) GetAll(ids []string) map[string]model.State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]model.State)
	if len(ids) == 0 {
		for id := range a.gates {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		if g, ok := a.gates[id]; ok {
			g.mu.Lock()
			out[id] = g.state
			g.mu.Unlock()
		}
	}
	return out
}

// Relays returns the configured relay definitions (used by enabled-only
// filtering and dashboard endpoints).
func (a *Authority) Relays() []model.Relay {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]model.Relay, 0, len(a.gates))
	for _, g := range a.gates {
		out = append(out, g.relay)
	}
	return out
}
