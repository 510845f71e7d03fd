// Package stream implements the Live Stream Hub (H): one goroutine per
// WebSocket connection, sampling the latest-sample cache and the
// relay-state cache on a client-chosen, server-clamped period and
// emitting best-effort JSON frames.
package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/valorence/relayctl/internal/model"
	"github.com/valorence/relayctl/internal/x/mathx"
)

const (
	minInterval = 500 * time.Millisecond
	maxInterval = 10 * time.Second
	// sendBuffer bounds how many frames may queue for a slow connection
	// before Hub starts dropping rather than blocking the sampling loop.
	sendBuffer = 8
)

// ClampInterval enforces the server policy named in §4.8: a client-chosen
// period is clamped into [0.5s, 10s].
func ClampInterval(d time.Duration) time.Duration {
	return mathx.Clamp(d, minInterval, maxInterval)
}

// SampleSource exposes M read-only.
type SampleSource interface {
	LatestAll() map[string]model.Sample
}

// RelayStateSource exposes Q read-only.
type RelayStateSource interface {
	GetAll(ids []string) map[string]model.State
}

// Frame is one emitted snapshot.
type Frame struct {
	Timestamp int64                    `json:"timestamp"`
	Samples   map[string]model.Sample  `json:"samples,omitempty"`
	Relays    map[string]model.State   `json:"relays,omitempty"`
}

// Hub is the Live Stream Hub (component H). It holds no per-connection
// state beyond what each connection's own goroutine owns, so connections
// are fully isolated from one another: a slow or dead peer cannot affect
// any other client, nor the sensor or rule paths that feed it.
type Hub struct {
	samples SampleSource
	relays  RelayStateSource
	log     *slog.Logger
}

func New(samples SampleSource, relays RelayStateSource, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{samples: samples, relays: relays, log: log}
}

// Serve runs one connection's sampling/broadcast loop until ctx is
// cancelled, the peer closes, or a write fails. It reads a non-blocking
// snapshot of M and Q on every tick and writes a single JSON frame;
// authentication already happened before this was called (H never
// re-authenticates mid-connection, per §4.8).
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	interval = ClampInterval(interval)
	defer conn.Close()

	// A buffered write queue plus a dedicated writer goroutine keeps the
	// sampling ticker from ever blocking on a slow network write; frames
	// are dropped, never queued unbounded, when a slow reader falls behind.
	frames := make(chan Frame, sendBuffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for f := range frames {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
	}()

	// Drain and discard anything the peer sends; H is write-only, but a
	// stalled read buffer will eventually trip the peer's own flow
	// control, so a cheap discard loop keeps the connection healthy and
	// detects peer-initiated close promptly.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(frames)

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			f := Frame{
				Timestamp: time.Now().UnixMilli(),
				Samples:   h.samples.LatestAll(),
				Relays:    h.relays.GetAll(nil),
			}
			select {
			case frames <- f:
			default:
				h.log.Debug("stream frame dropped: slow consumer")
			}
		}
	}
}
