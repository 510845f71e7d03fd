package command

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/valorence/relayctl/internal/cache"
	"github.com/valorence/relayctl/internal/config"
	"github.com/valorence/relayctl/internal/hal"
	"github.com/valorence/relayctl/internal/model"
	"github.com/valorence/relayctl/internal/relay"
	"github.com/valorence/relayctl/internal/rules"
)

func testConfig() model.Config {
	return model.Config{
		General: model.General{DeviceName: "board", SensorTick: 5, ScheduleTick: 60, HousekeepingTick: 60},
		Relays: []model.Relay{
			{ID: "relay_1", GPIOLine: 1, Polarity: model.NormallyOpen, Enabled: model.BoolPtr(true), PulseTime: 1},
		},
	}
}

func newTestBus(t *testing.T) (*Bus, *hal.FakeChip) {
	t.Helper()
	dir := t.TempDir()
	defPath := filepath.Join(dir, "default.json")
	customPath := filepath.Join(dir, "custom.json")

	chip := hal.NewFakeChip()
	authority, err := relay.New(context.Background(), chip, testConfig().Relays, nil, nil)
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}

	mgr := config.New(defPath, customPath, nil, nil)
	writeTestDefault(t, defPath)
	if err := mgr.Load(context.Background()); err != nil {
		t.Fatalf("config Load: %v", err)
	}

	engine := rules.New(nil, nil, cache.NewFakeCache(), nil, nil)

	return New(authority, mgr, engine, chip), chip
}

func writeTestDefault(t *testing.T, path string) {
	t.Helper()
	b, err := json.Marshal(testConfig())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestBus_DispatchIOTurnsRelayOn(t *testing.T) {
	b, _ := newTestBus(t)
	if err := b.DispatchIO(context.Background(), "relay_1", model.IOOn); err != nil {
		t.Fatalf("DispatchIO: %v", err)
	}
	state, err := b.RelayState("relay_1")
	if err != nil {
		t.Fatalf("RelayState: %v", err)
	}
	if state != model.On {
		t.Fatalf("expected relay_1 to be on, got %v", state)
	}
}

func TestBus_DispatchIOPulseUsesConfiguredDuration(t *testing.T) {
	b, _ := newTestBus(t)
	if err := b.DispatchIO(context.Background(), "relay_1", model.IOPulse); err != nil {
		t.Fatalf("DispatchIO pulse: %v", err)
	}
	if state, _ := b.RelayState("relay_1"); state != model.On {
		t.Fatalf("expected relay_1 to be toggled on for the pulse, got %v", state)
	}
	time.Sleep(1500 * time.Millisecond) // relay_1's configured pulse_time is 1s
	if state, _ := b.RelayState("relay_1"); state != model.Off {
		t.Fatalf("expected relay_1 restored after its 1s pulse_time, got %v", state)
	}
}

func TestBus_DispatchIOUnknownRelay(t *testing.T) {
	b, _ := newTestBus(t)
	if err := b.DispatchIO(context.Background(), "does_not_exist", model.IOOn); err == nil {
		t.Fatal("expected an error for an unknown relay id")
	}
}

func TestBus_RebootCallsHAL(t *testing.T) {
	b, chip := newTestBus(t)
	if err := b.Reboot(context.Background()); err != nil {
		t.Fatalf("Reboot: %v", err)
	}
	if chip.Rebooted != 1 {
		t.Fatalf("expected exactly one watchdog write, got %d", chip.Rebooted)
	}
}

func TestBus_GetConfigReturnsEffective(t *testing.T) {
	b, _ := newTestBus(t)
	cfg := b.GetConfig(context.Background())
	if cfg.General.DeviceName != "board" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestBus_UpdateConfigDeadlineIsBounded(t *testing.T) {
	b, _ := newTestBus(t)
	start := time.Now()
	err := b.UpdateConfig(context.Background(), model.Config{Relays: []model.Relay{{ID: "relay_1", PulseTime: 2}}})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if time.Since(start) > configDeadline {
		t.Fatal("UpdateConfig must complete well within its deadline for a fast in-memory config manager")
	}
}
