// Package clock is the authoritative source of real and game time.
//
// A Clock is stepped once per frame with Update. Each step reports how much
// real time and how much scaled game time passed since the previous step,
// absorbing pauses, stalls, hidden-tab periods and scale changes so that
// consumers never see negative, zero-while-running or exploding deltas.
package clock

import (
	"math"
	"time"

	"github.com/idlesim/server/internal/core/host"
	"go.uber.org/zap"
)

const (
	// MinEffectiveScale is the floor applied to the configured scale when
	// computing game deltas.
	MinEffectiveScale = 0.1
	// MinGameDelta is the smallest game delta reported while running.
	MinGameDelta = 0.001

	defaultTimeScale    = 1.0
	defaultMaxFrameTime = 1.0
)

// Config holds construction-time settings. Zero values pick defaults.
type Config struct {
	TimeScale     float64 // game seconds per real second
	MaxFrameTime  float64 // per-update cap on real delta, seconds
	PauseOnHidden bool
	Debug         bool
}

// Clock is single-goroutine: it must only be used from the host's loop.
type Clock struct {
	host host.Host
	log  *zap.Logger

	running      bool
	timeScale    float64
	maxFrameTime float64
	debug        bool

	lastReal  float64
	startReal float64

	elapsedReal float64
	elapsedGame float64
	totalGame   float64

	pausedByVisibility bool
	unsubscribe        func()

	epoch time.Time // wall-clock fallback origin
}

// New creates a stopped clock reading time from h.
func New(h host.Host, log *zap.Logger, cfg Config) *Clock {
	c := &Clock{
		host:         h,
		log:          log,
		timeScale:    defaultTimeScale,
		maxFrameTime: defaultMaxFrameTime,
		debug:        cfg.Debug,
		epoch:        time.Now(),
	}
	if cfg.TimeScale != 0 {
		c.SetTimeScale(cfg.TimeScale)
	}
	if cfg.MaxFrameTime != 0 {
		c.SetMaxFrameTime(cfg.MaxFrameTime)
	}
	if cfg.PauseOnHidden {
		c.unsubscribe = h.OnVisibilityChange(c.onVisibility)
	}
	return c
}

// Start begins advancing time. No-op while running.
func (c *Clock) Start() {
	if c.running {
		return
	}
	now := c.now()
	c.running = true
	c.pausedByVisibility = false
	c.lastReal = now
	c.startReal = now
	c.log.Debug("clock started", zap.Float64("time_scale", c.timeScale))
}

// Pause stops advancing time. A caller pause also cancels any pending
// auto-resume from a hidden host. Otherwise a no-op while paused.
func (c *Clock) Pause() {
	c.pausedByVisibility = false
	if !c.running {
		return
	}
	c.running = false
	c.log.Debug("clock paused", zap.Float64("total_game_time", c.totalGame))
}

// Resume continues after Pause without resetting the start timestamp.
// The paused interval never leaks into the next delta.
func (c *Clock) Resume() {
	if c.running {
		return
	}
	c.running = true
	c.pausedByVisibility = false
	c.lastReal = c.now()
	c.log.Debug("clock resumed")
}

// Update advances the clock by the real time since the previous update.
// It never panics; an internal failure resynchronizes frame timing.
func (c *Clock) Update() {
	if !c.running {
		c.elapsedReal = 0
		c.elapsedGame = 0
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("clock update failed", zap.Any("panic", r))
			c.ResetFrameTiming()
		}
	}()

	now := c.now()
	realDelta := now - c.lastReal
	if realDelta < 0 {
		realDelta = 0
	}
	if realDelta > c.maxFrameTime {
		if c.debug {
			c.log.Debug("frame time clamped",
				zap.Float64("raw", realDelta),
				zap.Float64("max", c.maxFrameTime))
		}
		realDelta = c.maxFrameTime
	}

	gameDelta := realDelta * c.EffectiveTimeScale()
	if gameDelta < MinGameDelta {
		gameDelta = MinGameDelta
	}
	if math.IsNaN(gameDelta) || math.IsInf(gameDelta, 0) {
		c.log.Error("non-finite game delta, resetting frame timing",
			zap.Float64("real_delta", realDelta))
		c.ResetFrameTiming()
		return
	}

	c.elapsedReal = realDelta
	c.elapsedGame = gameDelta
	c.totalGame += gameDelta
	c.lastReal = now
}

// ResetFrameTiming resynchronizes to now and zeroes the deltas, leaving
// total game time untouched. Used after long stalls.
func (c *Clock) ResetFrameTiming() {
	c.lastReal = c.now()
	c.elapsedReal = 0
	c.elapsedGame = 0
}

// Reset zeroes every delta and total. The clock keeps its running state.
func (c *Clock) Reset() {
	now := c.now()
	c.lastReal = now
	c.startReal = now
	c.elapsedReal = 0
	c.elapsedGame = 0
	c.totalGame = 0
}

// Dispose detaches the visibility listener. Call once at shutdown.
func (c *Clock) Dispose() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// SetTimeScale changes the configured scale. Non-positive values are
// logged and ignored.
func (c *Clock) SetTimeScale(scale float64) {
	if !(scale > 0) || math.IsInf(scale, 0) {
		c.log.Warn("invalid time scale ignored",
			zap.Float64("scale", scale),
			zap.Float64("current", c.timeScale))
		return
	}
	c.timeScale = scale
}

// SetMaxFrameTime changes the per-update cap. Non-positive values are
// logged and ignored.
func (c *Clock) SetMaxFrameTime(seconds float64) {
	if !(seconds > 0) || math.IsInf(seconds, 0) {
		c.log.Warn("invalid max frame time ignored",
			zap.Float64("seconds", seconds),
			zap.Float64("current", c.maxFrameTime))
		return
	}
	c.maxFrameTime = seconds
}

func (c *Clock) SetDebug(debug bool) { c.debug = debug }

// SetTotalGameTime overwrites the accumulated game time. Save restore only.
func (c *Clock) SetTotalGameTime(seconds float64) {
	if !(seconds >= 0) || math.IsInf(seconds, 0) {
		c.log.Warn("invalid total game time ignored", zap.Float64("seconds", seconds))
		return
	}
	c.totalGame = seconds
}

func (c *Clock) IsRunning() bool             { return c.running }
func (c *Clock) TimeScale() float64          { return c.timeScale }
func (c *Clock) MaxFrameTime() float64       { return c.maxFrameTime }
func (c *Clock) Debug() bool                 { return c.debug }
func (c *Clock) ElapsedReal() float64        { return c.elapsedReal }
func (c *Clock) ElapsedGame() float64        { return c.elapsedGame }
func (c *Clock) TotalGameTime() float64      { return c.totalGame }
func (c *Clock) LastRealTimestamp() float64  { return c.lastReal }
func (c *Clock) StartRealTimestamp() float64 { return c.startReal }

// EffectiveTimeScale is the scale Update actually applies: the configured
// scale rounded to two decimals, floored at MinEffectiveScale.
func (c *Clock) EffectiveTimeScale() float64 {
	return math.Max(MinEffectiveScale, math.Round(c.timeScale*100)/100)
}

// TimeRatio is total game time over real time since Start. It falls back
// to the configured scale when no real time has passed.
func (c *Clock) TimeRatio() float64 {
	denom := c.now() - c.startReal
	if denom <= 0 {
		return c.timeScale
	}
	return c.totalGame / denom
}

func (c *Clock) onVisibility(visible bool) {
	if !visible {
		if c.running {
			c.Pause()
			c.pausedByVisibility = true
			c.log.Debug("clock paused while hidden")
		}
		return
	}
	if c.pausedByVisibility {
		c.Resume()
		c.ResetFrameTiming()
	}
}

// now reads the host time source, falling back to the wall clock when the
// source panics or reports a non-finite or negative reading.
func (c *Clock) now() (ts float64) {
	defer func() {
		if r := recover(); r != nil {
			ts = c.wallNow()
		}
	}()
	ts = c.host.Now()
	if math.IsNaN(ts) || math.IsInf(ts, 0) || ts < 0 {
		return c.wallNow()
	}
	return ts
}

func (c *Clock) wallNow() float64 {
	return time.Since(c.epoch).Seconds()
}
