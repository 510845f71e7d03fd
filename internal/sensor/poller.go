// Package sensor implements the Sensor Poller: on every tick it fans out
// one deadline-bounded read per enabled sensor, in parallel, updating the
// latest-sample cache and handing each successful Sample to whatever the
// caller wired up (the time-series sink and the rule engine).
package sensor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valorence/relayctl/internal/metrics"
	"github.com/valorence/relayctl/internal/model"
	"github.com/valorence/relayctl/internal/x/timex"
)

const unhealthyThreshold = 3

// Poller is the Sensor Poller (component C). The Live Stream Hub and the
// time-series sink both read M through Latest/LatestAll, or through the
// onSample callback invoked on every successful read — there is no
// separate publish step.
type Poller struct {
	tick     time.Duration
	readers  map[string]Reader
	log      *slog.Logger
	metrics  *metrics.Metrics
	onSample func(model.Sample)

	mu        sync.RWMutex
	latest    map[string]model.Sample
	failures  map[string]int
	unhealthy map[string]bool
	seq       map[string]uint64

	inFlight atomic.Bool
}

// New builds a Poller for the given source-id -> Reader map. onSample is
// invoked synchronously, once per successful read, from the per-sensor
// goroutine that produced it — callers must not block significantly inside
// it (it feeds both the time-series enqueue, which is itself non-blocking,
// and rule evaluation).
func New(tick time.Duration, readers map[string]Reader, m *metrics.Metrics, log *slog.Logger, onSample func(model.Sample)) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		tick:      tick,
		readers:   readers,
		log:       log,
		metrics:   m,
		onSample:  onSample,
		latest:    make(map[string]model.Sample),
		failures:  make(map[string]int),
		unhealthy: make(map[string]bool),
		seq:       make(map[string]uint64),
	}
}

// Run drives the sensor tick until ctx is cancelled. Overrunning ticks are
// skipped (not queued), per §4.3.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.inFlight.CompareAndSwap(false, true) {
				p.log.Warn("sensor tick overrun: previous tick still running, skipping this tick")
				continue
			}
			go func() {
				defer p.inFlight.Store(false)
				p.runTick(ctx)
			}()
		}
	}
}

func (p *Poller) runTick(ctx context.Context) {
	deadline := p.tick * 2 / 5 // 0.4 * tick
	if deadline > 2*time.Second {
		deadline = 2 * time.Second
	}
	var wg sync.WaitGroup
	for sourceID, reader := range p.readers {
		wg.Add(1)
		go func(id string, r Reader) {
			defer wg.Done()
			p.readOne(ctx, id, r, deadline)
		}(sourceID, reader)
	}
	wg.Wait()
}

func (p *Poller) readOne(ctx context.Context, id string, r Reader, deadline time.Duration) {
	rctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	fields, err := r.Read(rctx)
	if p.metrics != nil {
		p.metrics.SensorReadDuration.WithLabelValues(id).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		p.mu.Lock()
		p.failures[id]++
		if p.failures[id] >= unhealthyThreshold {
			p.unhealthy[id] = true
		}
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.SensorReadFailures.WithLabelValues(id).Inc()
		}
		p.log.Error("sensor read failed", "source", id, "error", err, "consecutive_failures", p.failures[id])
		return
	}

	p.mu.Lock()
	p.failures[id] = 0
	p.unhealthy[id] = false
	p.seq[id]++
	seq := p.seq[id]
	sample := model.Sample{
		SourceID:  id,
		Timestamp: timex.NowMs(),
		Seq:       seq,
		Fields:    fields,
	}
	p.latest[id] = sample
	p.mu.Unlock()

	if p.onSample != nil {
		p.onSample(sample)
	}
}

// Latest returns the most recent Sample for a source, if any.
func (p *Poller) Latest(id string) (model.Sample, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.latest[id]
	return s, ok
}

// LatestAll returns a snapshot of every source's most recent Sample.
func (p *Poller) LatestAll() map[string]model.Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]model.Sample, len(p.latest))
	for k, v := range p.latest {
		out[k] = v
	}
	return out
}

// Unhealthy reports which sources have had 3+ consecutive failures and not
// yet recovered.
func (p *Poller) Unhealthy() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]bool, len(p.unhealthy))
	for k, v := range p.unhealthy {
		if v {
			out[k] = true
		}
	}
	return out
}
