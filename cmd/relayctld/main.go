// Command relayctld is the composition root: it wires the hardware
// abstraction, relay authority, sensor poller, time-series sink, rule
// engine, scheduler, config manager, command bus, credential issuer,
// live stream hub, metrics, and HTTP/WebSocket server into one running
// device-control daemon.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/valorence/relayctl/internal/auth"
	"github.com/valorence/relayctl/internal/cache"
	"github.com/valorence/relayctl/internal/command"
	"github.com/valorence/relayctl/internal/config"
	"github.com/valorence/relayctl/internal/hal"
	"github.com/valorence/relayctl/internal/httpapi"
	"github.com/valorence/relayctl/internal/metrics"
	"github.com/valorence/relayctl/internal/model"
	"github.com/valorence/relayctl/internal/relay"
	"github.com/valorence/relayctl/internal/rules"
	"github.com/valorence/relayctl/internal/scheduler"
	"github.com/valorence/relayctl/internal/sensor"
	"github.com/valorence/relayctl/internal/stream"
	"github.com/valorence/relayctl/internal/timeseries"
	"github.com/valorence/relayctl/internal/timeseries/influx"
	"github.com/valorence/relayctl/internal/x/strx"
)

// env carries every environment-provided setting read at startup. Secrets
// (JWT_SECRET, ADMIN_PASSWORD) have no default and fail startup if unset;
// everything else falls back to a sane value, grounded on klistr's small
// env.Load-style config layer.
type env struct {
	defaultConfigPath string
	customConfigPath  string

	jwtSecret      string
	jwtTTL         time.Duration
	internalSecret string

	adminUsername string
	adminPassword string

	httpAddr string

	influxURL    string
	influxToken  string
	influxOrg    string
	influxBucket string

	cacheURL       string
	cacheToken     string
	sqliteFallback string

	i2cBus       string
	watchdogPath string
}

func loadEnv() (env, error) {
	e := env{
		defaultConfigPath: getenvDefault("CONFIG_DEFAULT_PATH", "/etc/relayctl/default.json"),
		customConfigPath:  getenvDefault("CONFIG_CUSTOM_PATH", "/etc/relayctl/custom.json"),
		httpAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		internalSecret:    os.Getenv("INTERNAL_SHARED_SECRET"),
		adminUsername:     getenvDefault("ADMIN_USERNAME", "admin"),
		adminPassword:     os.Getenv("ADMIN_PASSWORD"),
		influxURL:         os.Getenv("TIMESERIES_URL"),
		influxToken:       os.Getenv("TIMESERIES_TOKEN"),
		influxOrg:         getenvDefault("TIMESERIES_ORG", "relayctl"),
		influxBucket:      getenvDefault("TIMESERIES_BUCKET", "relayctl"),
		cacheURL:          os.Getenv("CACHE_URL"),
		cacheToken:        os.Getenv("CACHE_TOKEN"),
		sqliteFallback:    getenvDefault("CACHE_SQLITE_PATH", "/var/lib/relayctl/cache.db"),
		i2cBus:            getenvDefault("I2C_BUS", "/dev/i2c-1"),
		watchdogPath:      os.Getenv("WATCHDOG_PATH"),
		jwtSecret:         os.Getenv("JWT_SECRET"),
	}
	if e.jwtSecret == "" {
		return env{}, errors.New("JWT_SECRET must be set; no default is provided for a credential secret")
	}
	if e.adminPassword == "" {
		return env{}, errors.New("ADMIN_PASSWORD must be set; no default is provided for the bootstrap admin account")
	}
	e.jwtTTL = 12 * time.Hour
	if v := os.Getenv("JWT_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			e.jwtTTL = time.Duration(n) * time.Second
		}
	}
	return e, nil
}

func getenvDefault(key, def string) string {
	return strx.Coalesce(os.Getenv(key), def)
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := run(log); err != nil {
		log.Error("relayctld exited with an error", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	cfgMgr := config.New(e.defaultConfigPath, e.customConfigPath, m, log)
	if err := cfgMgr.Load(ctx); err != nil {
		return err
	}
	if err := cfgMgr.WatchHotReload(ctx); err != nil {
		log.Warn("config hot-reload watcher did not start", "error", err)
	}
	effective := cfgMgr.Effective()

	chip, err := hal.NewChip(hal.ChipConfig{
		GPIOLines:    gpioLines(effective.Relays),
		I2CBusNames:  []string{e.i2cBus},
		WatchdogPath: e.watchdogPath,
		OpTimeout:    2 * time.Second,
	})
	if err != nil {
		return err
	}

	authority, err := relay.New(ctx, chip, effective.Relays, m, log)
	if err != nil {
		return err
	}

	kvCache := buildCache(e, log)

	var store timeseries.Store
	if e.influxURL != "" {
		store = influx.New(e.influxURL, e.influxToken, e.influxOrg, e.influxBucket)
	} else {
		log.Warn("TIMESERIES_URL not set, samples will not leave the in-process sink")
		store = &timeseries.FakeStore{}
	}
	sink := timeseries.New(store, timeseries.SinkConfig{}, m, log)

	// The Rule Engine and the Command Bus depend on each other (the bus
	// dispatches rule actions; the bus reports rule status), so the cycle
	// is broken by constructing the engine without a dispatcher, building
	// the bus around it, then wiring the dispatcher back in.
	engine := rules.New(effective.Tasks, nil, kvCache, m, log)
	engine.LoadLatches(ctx)
	cmdBus := command.New(authority, cfgMgr, engine, chip)
	engine.SetDispatcher(cmdBus)

	readers := buildReaders(chip, e.i2cBus, effective.Sensors)
	poller := sensor.New(time.Duration(effective.General.SensorTick)*time.Second, readers, m, log, func(sample model.Sample) {
		sink.Enqueue(sample)
		engine.Evaluate(ctx, sample)
	})

	sched := scheduler.New(scheduler.Config{
		SensorTick:       time.Duration(effective.General.SensorTick) * time.Second,
		ScheduleTick:     time.Duration(effective.General.ScheduleTick) * time.Second,
		HousekeepingTick: time.Duration(effective.General.HousekeepingTick) * time.Second,
	}, configSource{cfgMgr}, authority, cmdBus, log)

	hub := stream.New(poller, authority, log)

	issuer := auth.New(bootstrapStore(e), []byte(e.jwtSecret), e.jwtTTL)

	server := httpapi.New(cmdBus, issuer, hub, store, m, []byte(e.internalSecret), log)
	httpServer := &http.Server{Addr: e.httpAddr, Handler: server}

	go poller.Run(ctx)
	go sched.Run(ctx)
	go func() {
		log.Info("http server listening", "addr", e.httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	// §5's shutdown order: F's ticks stop as soon as ctx above is
	// cancelled; give any in-flight sensor read up to 5s to finish before
	// flushing D and shutting down the HTTP server. That shutdown neither
	// closes nor waits for H's WebSocket connections (they are hijacked),
	// so those and B's GPIO handles are released when the process exits.
	time.Sleep(5 * time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sink.Shutdown(shutdownCtx); err != nil {
		log.Error("time-series sink flush failed during shutdown", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}
	_ = kvCache.Close()

	return nil
}

func gpioLines(relays []model.Relay) []int {
	out := make([]int, 0, len(relays))
	for _, r := range relays {
		out = append(out, r.GPIOLine)
	}
	return out
}

func buildReaders(h hal.HAL, busID string, sensors []model.SensorDescriptor) map[string]sensor.Reader {
	out := make(map[string]sensor.Reader, len(sensors))
	for _, s := range sensors {
		switch s.Kind {
		case model.Power:
			out[s.ID] = sensor.PowerReader{H: h, BusID: busID, Address: s.BusAddress, VoltageRegister: 0x02, CurrentRegister: 0x01}
		case model.Environmental:
			out[s.ID] = sensor.EnvironmentalReader{H: h, BusID: busID, Address: s.BusAddress}
		}
	}
	return out
}

func buildCache(e env, log *slog.Logger) cache.Cache {
	local, err := cache.OpenSQLiteStore(e.sqliteFallback)
	if err != nil {
		log.Warn("local cache fallback unavailable, rule latches will not persist across a restart", "error", err)
		return cache.NewFakeCache()
	}
	if e.cacheURL == "" {
		log.Info("CACHE_URL not set, running on the local fallback store only")
		return &cache.Fallback{Local: local}
	}
	return &cache.Fallback{Primary: cache.NewHTTPCache(e.cacheURL, e.cacheToken), Local: local}
}

// bootstrapStore seeds a single admin account from the environment; a
// deployment that wants more than one account swaps this for a database-
// backed auth.Store without touching Issuer.
func bootstrapStore(e env) *auth.MemoryStore {
	hash, err := bcrypt.GenerateFromPassword([]byte(e.adminPassword), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return auth.NewMemoryStore(auth.User{Username: e.adminUsername, PasswordHash: string(hash), Role: auth.RoleAdmin})
}

// configSource adapts *config.Manager to scheduler.ConfigSource.
type configSource struct{ mgr *config.Manager }

func (c configSource) Relays() []model.Relay { return c.mgr.Relays() }
