// Package tick runs a fixed-timestep simulation on top of the variable-rate
// frames supplied by a host.
//
// Every frame the dispatcher steps the clock, adds the elapsed real time to
// an accumulator and fires one tick per whole fixed timestep, calling every
// registered handler with (unscaledStep, scaledStep). Work per frame is
// bounded by MaxUpdatesPerFrame; time left over when the cap is hit is
// dropped rather than carried forward.
package tick

import (
	"fmt"
	"math"

	"github.com/idlesim/server/internal/core/clock"
	"github.com/idlesim/server/internal/core/host"
	"go.uber.org/zap"
)

const (
	// MinScaledStep is the floor applied to the scaled step of every tick.
	MinScaledStep = 0.001

	defaultTickRate           = 10.0
	defaultMaxUpdatesPerFrame = 10
	defaultEndCheckInterval   = 10
	defaultSecondsPerDay      = 60.0
)

// Config holds dispatcher settings. Zero values pick defaults.
type Config struct {
	TickRate           float64 // ticks per second
	MaxUpdatesPerFrame int
	EndCheckInterval   int     // consult the end condition every N ticks
	SecondsPerDay      float64 // game seconds in one in-game day
	Debug              bool
}

// Dispatcher is single-goroutine: every method must run on the host's loop.
type Dispatcher struct {
	host  host.Host
	clock *clock.Clock
	log   *zap.Logger

	tickRate         float64
	timestep         float64
	maxUpdates       int
	endCheckInterval int
	secondsPerDay    float64
	debug            bool

	running bool
	frameID host.FrameID
	pending bool

	accumulator float64
	tickCount   uint64
	frameCount  uint64

	fps           float64
	fpsFrames     int
	fpsSampleReal float64 // real timestamp of the last fps sample
	fpsNextGame   float64 // total game time that triggers the next sample

	droppedSeconds float64
	droppedFrames  uint64

	entries []*entry
	end     EndCondition
}

// New creates a stopped dispatcher driving clk from h's frames.
func New(h host.Host, clk *clock.Clock, log *zap.Logger, cfg Config) *Dispatcher {
	d := &Dispatcher{
		host:             h,
		clock:            clk,
		log:              log,
		tickRate:         defaultTickRate,
		timestep:         1 / defaultTickRate,
		maxUpdates:       defaultMaxUpdatesPerFrame,
		endCheckInterval: defaultEndCheckInterval,
		secondsPerDay:    defaultSecondsPerDay,
		debug:            cfg.Debug,
	}
	if cfg.TickRate != 0 {
		d.SetTickRate(cfg.TickRate)
	}
	if cfg.MaxUpdatesPerFrame != 0 {
		d.SetMaxUpdatesPerFrame(cfg.MaxUpdatesPerFrame)
	}
	if cfg.EndCheckInterval > 0 {
		d.endCheckInterval = cfg.EndCheckInterval
	}
	if cfg.SecondsPerDay > 0 {
		d.secondsPerDay = cfg.SecondsPerDay
	}
	return d
}

// Start resets the counters, starts the clock and requests the first
// frame. No-op while running.
func (d *Dispatcher) Start() {
	if d.running {
		return
	}
	d.running = true
	d.accumulator = 0
	d.tickCount = 0
	d.frameCount = 0
	d.fps = 0
	d.fpsFrames = 0
	d.clock.Start()
	d.fpsSampleReal = d.clock.LastRealTimestamp()
	d.fpsNextGame = d.clock.TotalGameTime() + 1
	d.requestFrame()
	d.log.Info("dispatcher started",
		zap.Float64("tick_rate", d.tickRate),
		zap.Int("max_updates_per_frame", d.maxUpdates),
		zap.Int("handlers", d.HandlerCount()))
}

// Stop cancels the pending frame and pauses the clock. Safe to call from a
// handler: no further tick or frame runs afterwards. No-op while stopped.
func (d *Dispatcher) Stop() {
	if !d.running {
		return
	}
	d.running = false
	if d.pending {
		d.host.Cancel(d.frameID)
		d.pending = false
	}
	d.clock.Pause()
	d.log.Info("dispatcher stopped", zap.Uint64("ticks", d.tickCount))
}

func (d *Dispatcher) IsRunning() bool { return d.running }

// SetEndCondition injects the game-over predicate. Nil disables it.
func (d *Dispatcher) SetEndCondition(end EndCondition) { d.end = end }

// SetTickRate changes the fixed timestep for subsequent frames.
// Non-positive rates are logged and ignored.
func (d *Dispatcher) SetTickRate(hz float64) {
	if !(hz > 0) || math.IsInf(hz, 0) {
		d.log.Warn("invalid tick rate ignored",
			zap.Float64("hz", hz),
			zap.Float64("current", d.tickRate))
		return
	}
	d.tickRate = hz
	d.timestep = 1 / hz
}

// SetMaxUpdatesPerFrame changes the per-frame tick cap.
// Values below one are logged and ignored.
func (d *Dispatcher) SetMaxUpdatesPerFrame(n int) {
	if n < 1 {
		d.log.Warn("invalid max updates per frame ignored",
			zap.Int("n", n),
			zap.Int("current", d.maxUpdates))
		return
	}
	d.maxUpdates = n
}

// SetTimeScale delegates to the clock.
func (d *Dispatcher) SetTimeScale(scale float64) { d.clock.SetTimeScale(scale) }

func (d *Dispatcher) TimeScale() float64 { return d.clock.TimeScale() }

func (d *Dispatcher) SetDebug(debug bool) { d.debug = debug }

func (d *Dispatcher) Debug() bool { return d.debug }

// Register adds h unless the same handler is already registered, and
// returns a function that unregisters it.
func (d *Dispatcher) Register(h Handler) (unregister func()) {
	return d.RegisterCallback("", h)
}

// RegisterFunc always adds a new registration for fn.
func (d *Dispatcher) RegisterFunc(fn func(unscaled, scaled float64)) (unregister func()) {
	return d.RegisterCallback("", HandlerFunc(fn))
}

// RegisterCallback is Register with a name used in diagnostics logging.
func (d *Dispatcher) RegisterCallback(name string, h Handler) (unregister func()) {
	if h == nil {
		d.log.Warn("nil tick handler ignored", zap.String("name", name))
		return func() {}
	}
	key, ok := identity(h)
	if ok {
		for _, e := range d.entries {
			if e.key == key {
				return func() { d.remove(e) }
			}
		}
	}
	e := &entry{name: name, handler: h}
	if ok {
		e.key = key
	} else {
		e.key = e
	}
	// Copy on write: a tick in progress keeps iterating its own slice.
	entries := make([]*entry, len(d.entries), len(d.entries)+1)
	copy(entries, d.entries)
	d.entries = append(entries, e)
	if name != "" {
		d.log.Debug("tick handler registered", zap.String("name", name))
	}
	return func() { d.remove(e) }
}

// Unregister removes h if present.
func (d *Dispatcher) Unregister(h Handler) {
	key, ok := identity(h)
	if !ok {
		return
	}
	for _, e := range d.entries {
		if e.key == key {
			d.remove(e)
			return
		}
	}
}

func (d *Dispatcher) remove(target *entry) {
	if target.removed {
		return
	}
	target.removed = true
	entries := make([]*entry, 0, len(d.entries))
	for _, e := range d.entries {
		if e != target {
			entries = append(entries, e)
		}
	}
	d.entries = entries
}

func (d *Dispatcher) HandlerCount() int { return len(d.entries) }

func (d *Dispatcher) requestFrame() {
	d.frameID = d.host.Schedule(d.frame)
	d.pending = true
}

// frame is the scheduled per-frame callback. It always requests the next
// frame unless Stop ran, whatever went wrong inside it.
func (d *Dispatcher) frame() {
	d.pending = false
	if !d.running {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("frame failed, resetting accumulator",
				zap.Any("panic", r),
				zap.Float64("accumulator", d.accumulator))
			d.accumulator = 0
			d.clock.ResetFrameTiming()
		}
		if d.running && !d.pending {
			d.requestFrame()
		}
	}()
	d.step()
}

func (d *Dispatcher) step() {
	d.clock.Update()
	elapsed := d.clock.ElapsedReal()

	d.frameCount++
	d.fpsFrames++
	d.sampleFPS()

	d.accumulator += elapsed

	step := d.timestep
	ticks := 0
	for d.running && d.accumulator >= step && ticks < d.maxUpdates {
		scaled := step * d.clock.TimeScale()
		if scaled < MinScaledStep {
			scaled = MinScaledStep
		}
		d.processTick(step, scaled)
		d.accumulator -= step
		ticks++
	}
	if d.accumulator < 0 {
		// A handler restarted the dispatcher mid-frame.
		d.accumulator = 0
	}
	if d.debug && ticks > 1 {
		d.log.Debug("catching up",
			zap.Int("ticks", ticks),
			zap.Float64("elapsed", elapsed))
	}

	if ticks >= d.maxUpdates && d.accumulator >= step {
		d.droppedSeconds += d.accumulator
		d.droppedFrames++
		d.log.Warn("tick cap reached, discarding accumulated time",
			zap.Int("ticks", ticks),
			zap.Float64("discarded_seconds", d.accumulator))
		d.accumulator = 0
	}
}

// sampleFPS recomputes the frame rate once per simulated second: frames
// counted since the last sample over the real seconds that passed meanwhile.
func (d *Dispatcher) sampleFPS() {
	total := d.clock.TotalGameTime()
	if total < d.fpsNextGame {
		return
	}
	now := d.clock.LastRealTimestamp()
	if span := now - d.fpsSampleReal; span > 0 {
		d.fps = float64(d.fpsFrames) / span
	}
	d.fpsFrames = 0
	d.fpsSampleReal = now
	d.fpsNextGame = total + 1
}

// processTick runs every live handler once, then consults the end condition
// on every endCheckInterval-th tick.
func (d *Dispatcher) processTick(unscaled, scaled float64) {
	d.tickCount++
	for _, e := range d.entries {
		if e.removed {
			continue
		}
		d.invoke(e, unscaled, scaled)
	}

	if d.end != nil && d.running && d.tickCount%uint64(d.endCheckInterval) == 0 {
		if d.checkEnd() {
			d.log.Info("end condition met", zap.Uint64("tick", d.tickCount))
			d.Stop()
		}
	}
}

func (d *Dispatcher) invoke(e *entry, unscaled, scaled float64) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("tick handler panicked",
				zap.String("handler", e.label()),
				zap.Any("panic", r))
		}
	}()
	e.handler.OnTick(unscaled, scaled)
}

func (d *Dispatcher) checkEnd() (over bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("end condition panicked", zap.Any("panic", r))
			over = false
		}
	}()
	total := d.clock.TotalGameTime()
	day, progress := DayOf(total, d.secondsPerDay)
	over, err := d.end.GameOver(EndContext{
		TickCount:     d.tickCount,
		TotalGameTime: total,
		CurrentDay:    day,
		DayProgress:   progress,
	})
	if err != nil {
		d.log.Error("end condition failed", zap.Error(err))
		return false
	}
	return over
}

func (e *entry) label() string {
	if e.name != "" {
		return e.name
	}
	return fmt.Sprintf("%T", e.handler)
}
