// Package scheduler implements the Scheduler: three independent ticks
// (sensor, schedule-check, housekeeping) and wall-clock drift correction
// for every relay with an enabled schedule.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/valorence/relayctl/internal/model"
)

// Dispatcher is the narrow seam into the Command Bus (I) the scheduler
// needs to correct drift; it never calls the Relay Authority directly.
type Dispatcher interface {
	DispatchIO(ctx context.Context, targetRelay string, state model.IOState) error
}

// RelayStateSource exposes Q (the relay-state cache) read-only. A nil ids
// slice requests every relay's state, matching relay.Authority.GetAll.
type RelayStateSource interface {
	GetAll(ids []string) map[string]model.State
}

// ConfigSource exposes the live, validated relay list; the scheduler reads
// it fresh on every schedule-check tick so a config hot-reload takes
// effect on the very next tick with no extra wiring.
type ConfigSource interface {
	Relays() []model.Relay
}

// Config parameterizes the three tick periods; zero values take the
// defaults named in §4.6.
type Config struct {
	SensorTick       time.Duration
	ScheduleTick     time.Duration
	HousekeepingTick time.Duration
}

func (c Config) withDefaults() Config {
	if c.SensorTick <= 0 {
		c.SensorTick = 5 * time.Second
	}
	if c.ScheduleTick <= 0 {
		c.ScheduleTick = 60 * time.Second
	}
	if c.HousekeepingTick <= 0 {
		c.HousekeepingTick = 60 * time.Second
	}
	return c
}

// Scheduler is component F. OnSensorTick and OnHousekeeping are optional
// hooks invoked on their respective cadences; the Sensor Poller (C) in
// this build runs its own internal ticker at the same configured period,
// so OnSensorTick exists for completeness and for anything else (metrics,
// log rotation checks) that wants to ride the same cadence rather than to
// duplicate C's read-and-publish work.
type Scheduler struct {
	cfg        Config
	configSrc  ConfigSource
	states     RelayStateSource
	dispatcher Dispatcher
	log        *slog.Logger

	OnSensorTick   func(ctx context.Context)
	OnHousekeeping func(ctx context.Context)
}

func New(cfg Config, configSrc ConfigSource, states RelayStateSource, dispatcher Dispatcher, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{cfg: cfg.withDefaults(), configSrc: configSrc, states: states, dispatcher: dispatcher, log: log}
}

// Run drives all three ticks until ctx is cancelled. F is stateless across
// ticks: every firing recomputes from scratch, so missed ticks and config
// reloads are tolerated transparently.
func (s *Scheduler) Run(ctx context.Context) {
	sensor := time.NewTicker(s.cfg.SensorTick)
	schedule := time.NewTicker(s.cfg.ScheduleTick)
	housekeeping := time.NewTicker(s.cfg.HousekeepingTick)
	defer sensor.Stop()
	defer schedule.Stop()
	defer housekeeping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sensor.C:
			if s.OnSensorTick != nil {
				s.OnSensorTick(ctx)
			}
		case <-schedule.C:
			s.checkSchedules(ctx)
		case <-housekeeping.C:
			if s.OnHousekeeping != nil {
				s.OnHousekeeping(ctx)
			}
		}
	}
}

// checkSchedules computes should_be_on for every enabled, scheduled relay
// and corrects any drift from Q through the Command Bus. Never touches a
// disabled relay, a relay with schedule.enabled=false, or issues pulse.
func (s *Scheduler) checkSchedules(ctx context.Context) {
	now := time.Now()
	states := s.states.GetAll(nil)
	for _, r := range s.configSrc.Relays() {
		if !r.IsEnabled() || r.Schedule == nil || !r.Schedule.Enabled {
			continue
		}
		want := r.Schedule.ShouldBeOn(now)
		current, ok := states[r.ID]
		if ok && current == boolToState(want) {
			continue
		}
		target := model.IOOff
		if want {
			target = model.IOOn
		}
		if err := s.dispatcher.DispatchIO(ctx, r.ID, target); err != nil {
			s.log.Error("schedule drift correction failed", "relay", r.ID, "want_on", want, "error", err)
		} else {
			s.log.Info("schedule drift corrected", "relay", r.ID, "want_on", want)
		}
	}
}

func boolToState(on bool) model.State {
	if on {
		return model.On
	}
	return model.Off
}
