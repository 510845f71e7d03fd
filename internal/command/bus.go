// Package command implements the Command Bus (I): the narrow synchronous
// seam between the HTTP handler layer and the rest of the core. It accepts
// typed commands, passes each component a per-kind deadline through its
// context (each call blocks until the component returns), and converts
// component errors into the errcode taxonomy.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valorence/relayctl/internal/config"
	"github.com/valorence/relayctl/internal/errcode"
	"github.com/valorence/relayctl/internal/hal"
	"github.com/valorence/relayctl/internal/model"
	"github.com/valorence/relayctl/internal/relay"
	"github.com/valorence/relayctl/internal/rules"
)

const (
	hardwareDeadline = 10 * time.Second
	configDeadline   = 30 * time.Second
)

func errUnknownRelay(id string) error { return fmt.Errorf("command: unknown relay %q", id) }
func errUnknownIOState(s model.IOState) error {
	return fmt.Errorf("command: unknown io state %q", s)
}

// Bus is the Command Bus. It depends on the Relay Authority (B), the
// Config Manager (G), the Rule Engine's latch reads (E+L), and the HAL's
// watchdog hook directly. Relay mutations, config writes, rule status and
// reboot go through Bus; the Scheduler and the Live Stream Hub read relay
// state straight from the Relay Authority's GetAll.
type Bus struct {
	relays *relay.Authority
	cfg    *config.Manager
	engine *rules.Engine
	hal    hal.HAL
}

func New(relays *relay.Authority, cfg *config.Manager, engine *rules.Engine, h hal.HAL) *Bus {
	return &Bus{relays: relays, cfg: cfg, engine: engine, hal: h}
}

// DispatchIO executes an io action against the Relay Authority; satisfies
// rules.Dispatcher and scheduler.Dispatcher.
func (b *Bus) DispatchIO(ctx context.Context, targetRelay string, state model.IOState) error {
	ctx, cancel := context.WithTimeout(ctx, hardwareDeadline)
	defer cancel()

	switch state {
	case model.IOOn:
		_, err := b.relays.TurnOn(ctx, targetRelay)
		return err
	case model.IOOff:
		_, err := b.relays.TurnOff(ctx, targetRelay)
		return err
	case model.IOPulse:
		for _, r := range b.relays.Relays() {
			if r.ID == targetRelay {
				_, err := b.relays.Pulse(ctx, targetRelay, time.Duration(r.PulseTime)*time.Second)
				return err
			}
		}
		return errcode.Wrap("command.DispatchIO", errcode.NotFound, errUnknownRelay(targetRelay))
	default:
		return errcode.Wrap("command.DispatchIO", errcode.InvalidParams, errUnknownIOState(state))
	}
}

// TurnOn, TurnOff, and Pulse are the richer entry points the HTTP layer
// uses directly, so it can report the resulting state (and, for Pulse,
// the duration) in its response body; DispatchIO is the narrower seam
// rules and the scheduler use when they only need success/failure.
func (b *Bus) TurnOn(ctx context.Context, id string) (relay.ToggleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, hardwareDeadline)
	defer cancel()
	return b.relays.TurnOn(ctx, id)
}

func (b *Bus) TurnOff(ctx context.Context, id string) (relay.ToggleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, hardwareDeadline)
	defer cancel()
	return b.relays.TurnOff(ctx, id)
}

func (b *Bus) Pulse(ctx context.Context, id string) (relay.PulseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, hardwareDeadline)
	defer cancel()
	for _, r := range b.relays.Relays() {
		if r.ID == id {
			return b.relays.Pulse(ctx, id, time.Duration(r.PulseTime)*time.Second)
		}
	}
	return relay.PulseResult{}, errcode.Wrap("command.Pulse", errcode.NotFound, errUnknownRelay(id))
}

// Reboot performs the watchdog reboot hook; satisfies rules.Dispatcher.
func (b *Bus) Reboot(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, hardwareDeadline)
	defer cancel()
	if err := b.hal.Reboot(ctx); err != nil {
		return errcode.Wrap("command.Reboot", errcode.HardwareUnavailable, err)
	}
	return nil
}

// RelayState answers a single relay's cached logical state.
func (b *Bus) RelayState(id string) (model.State, error) {
	return b.relays.Get(id)
}

// RelayStates answers every relay's cached logical state, or just ids.
func (b *Bus) RelayStates(ids []string) map[string]model.State {
	return b.relays.GetAll(ids)
}

// Relays returns the configured relay definitions, for the io/relays
// aggregate endpoint.
func (b *Bus) Relays() []model.Relay {
	return b.relays.Relays()
}

// RuleStatuses answers RuleStatusQuery by reading the Rule Engine's latch
// table; it never blocks on a sensor read.
func (b *Bus) RuleStatuses() []rules.RuleStatus {
	return b.engine.Statuses()
}

// GetConfig answers a config read, returning a deep copy.
func (b *Bus) GetConfig(ctx context.Context) model.Config {
	return b.cfg.Effective()
}

// UpdateConfig routes a full-document config mutation to G under the
// config deadline.
func (b *Bus) UpdateConfig(ctx context.Context, doc model.Config) error {
	ctx, cancel := context.WithTimeout(ctx, configDeadline)
	defer cancel()
	return b.cfg.UpdateFull(ctx, doc)
}

// UpdateConfigSection routes a section-scoped config mutation to G.
func (b *Bus) UpdateConfigSection(ctx context.Context, section string, raw json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, configDeadline)
	defer cancel()
	return b.cfg.UpdateSection(ctx, section, raw)
}

// RevertConfig discards the custom document.
func (b *Bus) RevertConfig(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, configDeadline)
	defer cancel()
	return b.cfg.RevertToDefaults(ctx)
}
