// Package config implements the Config Manager: load, validate, merge,
// hot-reload, and change fan-out over the two on-disk configuration
// documents.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"

	"github.com/valorence/relayctl/internal/metrics"
	"github.com/valorence/relayctl/internal/model"
)

// Listener is invoked with a deep copy of the new effective config after
// every successful load/merge/validate cycle. Listeners MUST NOT call back
// into the Manager synchronously.
type Listener func(model.Config)

const listenerDeadline = 5 * time.Second

// Manager is the Config Manager (component G).
type Manager struct {
	defaultPath string
	customPath  string
	log         *slog.Logger
	metrics     *metrics.Metrics
	validate    *validator.Validate

	mu        sync.RWMutex
	effective model.Config

	listenersMu sync.Mutex
	listeners   []Listener

	watcher *fsnotify.Watcher
}

// New builds a Manager bound to the two document paths. Load must be
// called once before Effective/Relays return anything meaningful. m may be
// nil in tests.
func New(defaultPath, customPath string, m *metrics.Metrics, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("hhmm", validateHHMM)
	return &Manager{defaultPath: defaultPath, customPath: customPath, log: log, metrics: m, validate: v}
}

// Load runs the five-step pipeline of §4.7: read default, read custom (if
// present), deep-merge, validate, atomically swap the in-memory effective
// config. It also notifies listeners, since a cold-load is itself a
// change from "no config" to the effective document.
func (m *Manager) Load(ctx context.Context) error {
	def, err := readDocument(m.defaultPath)
	if err != nil {
		m.recordReload("error")
		return fmt.Errorf("config: read default document: %w", err)
	}
	custom, err := readDocumentIfPresent(m.customPath)
	if err != nil {
		m.recordReload("error")
		return fmt.Errorf("config: read custom document: %w", err)
	}

	effective := model.MergeConfig(def, custom)
	if err := m.validateDocument(effective); err != nil {
		m.recordReload("error")
		return fmt.Errorf("config: validation failed: %w", err)
	}

	m.mu.Lock()
	m.effective = effective
	m.mu.Unlock()

	m.recordReload("ok")
	m.notify(ctx, effective)
	return nil
}

func (m *Manager) recordReload(outcome string) {
	if m.metrics == nil {
		return
	}
	m.metrics.ConfigReloads.WithLabelValues(outcome).Inc()
}

// Effective returns a deep copy of the current effective config, per
// §4.7's "readers get a deep copy" access contract.
func (m *Manager) Effective() model.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effective.Clone()
}

// Relays satisfies scheduler.ConfigSource.
func (m *Manager) Relays() []model.Relay {
	return m.Effective().Relays
}

// Subscribe registers a listener to be called after every successful
// load/update cycle, including the very next one.
func (m *Manager) Subscribe(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) notify(ctx context.Context, cfg model.Config) {
	m.listenersMu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.listenersMu.Unlock()

	for i, l := range listeners {
		done := make(chan struct{})
		go func() {
			defer close(done)
			l(cfg.Clone())
		}()
		select {
		case <-done:
		case <-time.After(listenerDeadline):
			m.log.Warn("config listener exceeded its deadline, dropping for this cycle", "listener_index", i)
		case <-ctx.Done():
			return
		}
	}
}

// UpdateFull validates doc, atomically persists it as the custom document,
// then re-runs the merge/validate/notify cycle. On validation failure the
// on-disk custom document is left untouched.
func (m *Manager) UpdateFull(ctx context.Context, doc model.Config) error {
	def, err := readDocument(m.defaultPath)
	if err != nil {
		return fmt.Errorf("config: read default document: %w", err)
	}
	effective := model.MergeConfig(def, doc)
	if err := m.validateDocument(effective); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	if err := writeDocumentAtomic(m.customPath, doc); err != nil {
		return fmt.Errorf("config: persist custom document: %w", err)
	}
	return m.Load(ctx)
}

// UpdateSection validates and merges a single section of the custom
// document, identified by name (general, network, date_time, relays,
// tasks, email), leaving every other section of the on-disk custom
// document untouched.
func (m *Manager) UpdateSection(ctx context.Context, name string, raw json.RawMessage) error {
	custom, err := readDocumentIfPresent(m.customPath)
	if err != nil {
		return fmt.Errorf("config: read custom document: %w", err)
	}
	if err := applySection(&custom, name, raw); err != nil {
		return fmt.Errorf("config: invalid section %q: %w", name, err)
	}
	return m.UpdateFull(ctx, custom)
}

// RevertToDefaults discards the custom document entirely (replacing it
// on disk with an empty one) and re-runs the load cycle, so the effective
// config becomes exactly the default document.
func (m *Manager) RevertToDefaults(ctx context.Context) error {
	if err := writeDocumentAtomic(m.customPath, model.Config{}); err != nil {
		return fmt.Errorf("config: clear custom document: %w", err)
	}
	return m.Load(ctx)
}

func (m *Manager) validateDocument(cfg model.Config) error {
	if err := m.validate.Struct(cfg); err != nil {
		return err
	}
	return validateRuleReferences(cfg)
}

// validateRuleReferences is the hand-written cross-field check §4.7
// delegates to nothing in the validator library: every rule's
// (source_id, field) pair must resolve against a declared sensor
// descriptor and that sensor kind's field set.
func validateRuleReferences(cfg model.Config) error {
	kinds := make(map[string]model.SensorKind, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		kinds[s.ID] = s.Kind
	}
	for _, r := range cfg.Tasks {
		kind, ok := kinds[r.SourceID]
		if !ok {
			return fmt.Errorf("rule %q: source_id %q does not match any sensor descriptor", r.ID, r.SourceID)
		}
		if !containsString(kind.Fields(), r.Field) {
			return fmt.Errorf("rule %q: field %q is not reported by sensor %q (kind %q)", r.ID, r.Field, r.SourceID, kind)
		}
	}
	return nil
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func readDocument(path string) (model.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return model.Config{}, err
	}
	var cfg model.Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func readDocumentIfPresent(path string) (model.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return model.Config{}, nil
	}
	return readDocument(path)
}

// writeDocumentAtomic writes doc as the new custom document via
// write-to-temp + rename, so a crash or concurrent reader never observes
// a partially-written file.
func writeDocumentAtomic(path string, doc model.Config) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func applySection(cfg *model.Config, name string, raw json.RawMessage) error {
	switch name {
	case "general":
		return json.Unmarshal(raw, &cfg.General)
	case "network":
		return json.Unmarshal(raw, &cfg.Network)
	case "date_time":
		return json.Unmarshal(raw, &cfg.DateTime)
	case "email":
		return json.Unmarshal(raw, &cfg.Email)
	case "relays":
		return json.Unmarshal(raw, &cfg.Relays)
	case "tasks":
		return json.Unmarshal(raw, &cfg.Tasks)
	default:
		return fmt.Errorf("unknown config section %q", name)
	}
}

func validateHHMM(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	for i, c := range s {
		if i == 2 {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	min := int(s[3]-'0')*10 + int(s[4]-'0')
	return h >= 0 && h <= 23 && min >= 0 && min <= 59
}
