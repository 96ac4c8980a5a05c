// Package statsfeed streams dispatcher statistics and game events to
// external viewers over WebSocket.
//
// Messages are JSON objects with a "type" field: "stats" carries a
// tick.Stats snapshot every interval, "event" carries one game event.
package statsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/idlesim/server/internal/core/tick"
	"go.uber.org/zap"
)

// StatsSource returns a current stats snapshot. The simulation is
// single-goroutine, so the source must marshal the read onto its loop.
type StatsSource func(ctx context.Context) (tick.Stats, error)

type Config struct {
	Interval  time.Duration // between stats messages
	WriteWait time.Duration // per-message write deadline
}

type Feed struct {
	hub      *hub
	source   StatsSource
	cfg      Config
	log      *zap.Logger
	upgrader websocket.Upgrader
}

type statsMessage struct {
	Type  string     `json:"type"`
	Stats tick.Stats `json:"stats"`
}

type eventMessage struct {
	Type    string         `json:"type"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

func New(cfg Config, source StatsSource, log *zap.Logger) *Feed {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	return &Feed{
		hub:    newHub(log),
		source: source,
		cfg:    cfg,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Read-only diagnostics; any origin may watch.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// OnViewers sets a callback invoked with the viewer count whenever it
// changes. Must be called before Run. The callback runs on the feed's
// goroutine.
func (f *Feed) OnViewers(fn func(n int)) {
	f.hub.onViewers = fn
}

// Viewers returns the number of connected viewers.
func (f *Feed) Viewers() int { return f.hub.count() }

// ServeHTTP upgrades the request to a WebSocket viewer connection.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	c := &client{
		hub:       f.hub,
		conn:      conn,
		send:      make(chan []byte, 64),
		remote:    r.RemoteAddr,
		writeWait: f.cfg.WriteWait,
	}
	f.hub.register <- c
	go c.writePump()
	go c.readPump()
}

// Run serves viewers and publishes stats until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	go f.hub.run(ctx)

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if f.hub.count() == 0 {
				continue
			}
			f.publishStats(ctx)
		}
	}
}

func (f *Feed) publishStats(ctx context.Context) {
	stats, err := f.source(ctx)
	if err != nil {
		if ctx.Err() == nil {
			f.log.Warn("stats unavailable", zap.Error(err))
		}
		return
	}
	msg, err := json.Marshal(statsMessage{Type: "stats", Stats: stats})
	if err != nil {
		f.log.Error("encode stats", zap.Error(err))
		return
	}
	if !f.hub.publish(msg) {
		f.log.Debug("feed queue full, stats dropped")
	}
}

// OnEvent broadcasts a game event. Safe to call from the simulation
// goroutine; it never blocks.
func (f *Feed) OnEvent(kind string, payload map[string]any) {
	msg, err := json.Marshal(eventMessage{Type: "event", Kind: kind, Payload: payload})
	if err != nil {
		f.log.Error("encode event", zap.String("kind", kind), zap.Error(err))
		return
	}
	if !f.hub.publish(msg) {
		f.log.Debug("feed queue full, event dropped", zap.String("kind", kind))
	}
}
