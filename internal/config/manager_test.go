package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valorence/relayctl/internal/model"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func baseDefault() model.Config {
	return model.Config{
		General: model.General{DeviceName: "board", SensorTick: 5, ScheduleTick: 60, HousekeepingTick: 60},
		Relays: []model.Relay{
			{ID: "relay_1", Name: "Pump", GPIOLine: 17, Polarity: model.NormallyOpen, Enabled: model.BoolPtr(true), PulseTime: 5},
		},
		Sensors: []model.SensorDescriptor{{ID: "pwr", Kind: model.Power}},
	}
}

func TestManager_LoadMergesDefaultAndCustom(t *testing.T) {
	dir := t.TempDir()
	defPath := filepath.Join(dir, "default.json")
	customPath := filepath.Join(dir, "custom.json")
	writeJSON(t, defPath, baseDefault())
	writeJSON(t, customPath, model.Config{Relays: []model.Relay{{ID: "relay_1", PulseTime: 9}}})

	m := New(defPath, customPath, nil, nil)
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	eff := m.Effective()
	if len(eff.Relays) != 1 || eff.Relays[0].PulseTime != 9 || eff.Relays[0].Name != "Pump" {
		t.Fatalf("expected merged relay to keep default Name but take custom PulseTime, got %+v", eff.Relays[0])
	}
}

func TestManager_LoadWithNoCustomDocumentUsesDefault(t *testing.T) {
	dir := t.TempDir()
	defPath := filepath.Join(dir, "default.json")
	customPath := filepath.Join(dir, "custom.json") // never created
	writeJSON(t, defPath, baseDefault())

	m := New(defPath, customPath, nil, nil)
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Effective().General.DeviceName != "board" {
		t.Fatal("expected effective config to equal the default document when no custom exists")
	}
}

func TestManager_ValidationRejectsUnresolvedRuleReference(t *testing.T) {
	dir := t.TempDir()
	defPath := filepath.Join(dir, "default.json")
	customPath := filepath.Join(dir, "custom.json")
	doc := baseDefault()
	doc.Tasks = []model.Rule{{ID: "r1", SourceID: "does_not_exist", Field: "x", Operator: model.GT, Threshold: 1}}
	writeJSON(t, defPath, doc)

	m := New(defPath, customPath, nil, nil)
	if err := m.Load(context.Background()); err == nil {
		t.Fatal("expected validation to reject a rule whose source_id does not resolve")
	}
}

func TestManager_ValidationRejectsUnknownFieldForSensorKind(t *testing.T) {
	dir := t.TempDir()
	defPath := filepath.Join(dir, "default.json")
	customPath := filepath.Join(dir, "custom.json")
	doc := baseDefault()
	doc.Tasks = []model.Rule{{ID: "r1", SourceID: "pwr", Field: "humidity", Operator: model.GT, Threshold: 1}}
	writeJSON(t, defPath, doc)

	m := New(defPath, customPath, nil, nil)
	if err := m.Load(context.Background()); err == nil {
		t.Fatal("expected validation to reject field 'humidity' on a power sensor")
	}
}

func TestManager_UpdateFullPersistsAndRejectsOnValidationFailure(t *testing.T) {
	dir := t.TempDir()
	defPath := filepath.Join(dir, "default.json")
	customPath := filepath.Join(dir, "custom.json")
	writeJSON(t, defPath, baseDefault())

	m := New(defPath, customPath, nil, nil)
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	bad := model.Config{Tasks: []model.Rule{{ID: "r1", SourceID: "nope", Field: "x", Operator: model.GT, Threshold: 1}}}
	if err := m.UpdateFull(context.Background(), bad); err == nil {
		t.Fatal("expected UpdateFull to reject an invalid document")
	}
	if _, err := os.Stat(customPath); !os.IsNotExist(err) {
		t.Fatal("a rejected UpdateFull must not touch the on-disk custom document")
	}

	good := model.Config{Relays: []model.Relay{{ID: "relay_1", PulseTime: 12}}}
	if err := m.UpdateFull(context.Background(), good); err != nil {
		t.Fatalf("UpdateFull with a valid document should succeed: %v", err)
	}
	if m.Effective().Relays[0].PulseTime != 12 {
		t.Fatal("UpdateFull must take effect immediately")
	}
}

func TestManager_RevertToDefaults(t *testing.T) {
	dir := t.TempDir()
	defPath := filepath.Join(dir, "default.json")
	customPath := filepath.Join(dir, "custom.json")
	writeJSON(t, defPath, baseDefault())
	writeJSON(t, customPath, model.Config{Relays: []model.Relay{{ID: "relay_1", PulseTime: 99}}})

	m := New(defPath, customPath, nil, nil)
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Effective().Relays[0].PulseTime != 99 {
		t.Fatal("precondition: custom override should be in effect")
	}
	if err := m.RevertToDefaults(context.Background()); err != nil {
		t.Fatalf("RevertToDefaults: %v", err)
	}
	if m.Effective().Relays[0].PulseTime != 5 {
		t.Fatal("RevertToDefaults must restore the default document's values")
	}
}

func TestManager_ListenerTimeoutIsDroppedButStaysRegistered(t *testing.T) {
	dir := t.TempDir()
	defPath := filepath.Join(dir, "default.json")
	customPath := filepath.Join(dir, "custom.json")
	writeJSON(t, defPath, baseDefault())

	m := New(defPath, customPath, nil, nil)
	var calls atomic.Int32
	m.listenersMu.Lock()
	m.listeners = nil
	m.listenersMu.Unlock()
	m.Subscribe(func(cfg model.Config) {
		calls.Add(1)
		time.Sleep(listenerDeadline + listenerOverrunForTest())
	})

	start := time.Now()
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if time.Since(start) >= listenerDeadline+listenerOverrunForTest() {
		t.Fatalf("a slow listener must be dropped after its deadline, not block Load: took %v", time.Since(start))
	}
	if calls.Load() != 1 {
		t.Fatalf("expected the listener to have been invoked once, got %d", calls.Load())
	}
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("a listener dropped for one cycle must stay registered for the next, got %d invocations", calls.Load())
	}
}

// listenerOverrunForTest is how far past the real listenerDeadline the slow
// listener in the timeout test keeps running.
func listenerOverrunForTest() time.Duration { return 2 * time.Second }

func TestManager_UpdateSectionMergesOnlyThatSection(t *testing.T) {
	dir := t.TempDir()
	defPath := filepath.Join(dir, "default.json")
	customPath := filepath.Join(dir, "custom.json")
	writeJSON(t, defPath, baseDefault())

	m := New(defPath, customPath, nil, nil)
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	raw, _ := json.Marshal(model.General{DeviceName: "renamed", SensorTick: 5, ScheduleTick: 60, HousekeepingTick: 60})
	if err := m.UpdateSection(context.Background(), "general", raw); err != nil {
		t.Fatalf("UpdateSection: %v", err)
	}
	eff := m.Effective()
	if eff.General.DeviceName != "renamed" {
		t.Fatal("UpdateSection(general) should update the device name")
	}
	if len(eff.Relays) != 1 || eff.Relays[0].Name != "Pump" {
		t.Fatal("UpdateSection(general) must leave the relays section untouched")
	}
}
