package host

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Call once Run has returned.
var ErrStopped = errors.New("host: loop stopped")

// LoopHost drives frames from a time.Ticker on the goroutine that calls Run.
// Frames, posted functions and visibility notifications all run on that
// goroutine, so the simulation core needs no locks. Only Post, Call and
// SetVisible may be used from other goroutines; everything else must be
// called before Run or from inside a frame/posted function.
type LoopHost struct {
	interval time.Duration
	epoch    time.Time
	frames   frameQueue
	subs     visibilitySubs
	visible  bool
	posted   chan func()
	done     chan struct{}
	stopOnce sync.Once
	log      *zap.Logger
}

// NewLoopHost creates a host producing frameRate frames per second.
func NewLoopHost(frameRate float64, log *zap.Logger) *LoopHost {
	if frameRate <= 0 {
		log.Warn("invalid frame rate, using 60", zap.Float64("frame_rate", frameRate))
		frameRate = 60
	}
	return &LoopHost{
		interval: time.Duration(float64(time.Second) / frameRate),
		epoch:    time.Now(),
		visible:  true,
		posted:   make(chan func(), 64),
		done:     make(chan struct{}),
		log:      log,
	}
}

func (h *LoopHost) Now() float64 {
	return time.Since(h.epoch).Seconds()
}

func (h *LoopHost) Schedule(fn FrameFunc) FrameID {
	return h.frames.push(fn)
}

func (h *LoopHost) Cancel(id FrameID) {
	h.frames.cancel(id)
}

func (h *LoopHost) OnVisibilityChange(fn func(visible bool)) func() {
	return h.subs.add(fn)
}

// Post queues fn to run on the loop goroutine. It blocks only while the
// post queue is full and the loop is still running; after Run returns fn is
// dropped.
func (h *LoopHost) Post(fn func()) {
	select {
	case h.posted <- fn:
	case <-h.done:
		h.log.Debug("post after loop stopped dropped")
	}
}

// Call runs fn on the loop goroutine and waits for it to finish.
func (h *LoopHost) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case h.posted <- func() { fn(); close(done) }:
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetVisible reports a visibility change. Subscribers are notified on the
// loop goroutine, and only on actual transitions.
func (h *LoopHost) SetVisible(visible bool) {
	h.Post(func() {
		if h.visible == visible {
			return
		}
		h.visible = visible
		h.log.Debug("visibility changed", zap.Bool("visible", visible))
		h.subs.notify(visible)
	})
}

// Run drives the loop until ctx is cancelled. Frames are withheld while
// the host is hidden. Once Run returns, Post drops and Call fails.
func (h *LoopHost) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-h.posted:
			fn()
		case <-ticker.C:
			if h.visible {
				h.frames.run()
			}
		}
	}
}
