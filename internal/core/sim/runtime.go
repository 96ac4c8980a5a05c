// Package sim holds the shared clock and dispatcher for one simulation.
//
// The runtime is created by the composition root and passed to whoever
// needs it; tests build a fresh one instead of resetting globals.
package sim

import (
	"github.com/idlesim/server/internal/core/clock"
	"github.com/idlesim/server/internal/core/host"
	"github.com/idlesim/server/internal/core/tick"
	"go.uber.org/zap"
)

// Options configures both components.
type Options struct {
	Clock      clock.Config
	Dispatcher tick.Config
}

// Runtime lazily constructs one Clock and one Dispatcher and applies
// configuration changes to the existing instances.
type Runtime struct {
	host host.Host
	log  *zap.Logger
	opts Options

	clock      *clock.Clock
	dispatcher *tick.Dispatcher
}

func New(h host.Host, log *zap.Logger, opts Options) *Runtime {
	return &Runtime{host: h, log: log, opts: opts}
}

// Clock returns the shared clock, creating it on first use.
func (r *Runtime) Clock() *clock.Clock {
	if r.clock == nil {
		r.clock = clock.New(r.host, r.log.Named("clock"), r.opts.Clock)
	}
	return r.clock
}

// Dispatcher returns the shared dispatcher, creating it and its clock on
// first use.
func (r *Runtime) Dispatcher() *tick.Dispatcher {
	if r.dispatcher == nil {
		r.dispatcher = tick.New(r.host, r.Clock(), r.log.Named("tick"), r.opts.Dispatcher)
	}
	return r.dispatcher
}

// Configure applies run-time settings to whatever already exists. Zero
// values leave the current setting alone, so a false Debug never switches
// debugging off; use SetDebug for that. Invalid values are logged and
// ignored by the components themselves.
func (r *Runtime) Configure(opts Options) {
	if opts.Clock.TimeScale != 0 {
		r.opts.Clock.TimeScale = opts.Clock.TimeScale
	}
	if opts.Clock.MaxFrameTime != 0 {
		r.opts.Clock.MaxFrameTime = opts.Clock.MaxFrameTime
	}
	if opts.Clock.Debug {
		r.opts.Clock.Debug = true
	}
	if opts.Dispatcher.TickRate != 0 {
		r.opts.Dispatcher.TickRate = opts.Dispatcher.TickRate
	}
	if opts.Dispatcher.MaxUpdatesPerFrame != 0 {
		r.opts.Dispatcher.MaxUpdatesPerFrame = opts.Dispatcher.MaxUpdatesPerFrame
	}
	if opts.Dispatcher.Debug {
		r.opts.Dispatcher.Debug = true
	}

	if c := r.clock; c != nil {
		if opts.Clock.TimeScale != 0 {
			c.SetTimeScale(opts.Clock.TimeScale)
		}
		if opts.Clock.MaxFrameTime != 0 {
			c.SetMaxFrameTime(opts.Clock.MaxFrameTime)
		}
		if opts.Clock.Debug {
			c.SetDebug(true)
		}
	}
	if d := r.dispatcher; d != nil {
		if opts.Dispatcher.TickRate != 0 {
			d.SetTickRate(opts.Dispatcher.TickRate)
		}
		if opts.Dispatcher.MaxUpdatesPerFrame != 0 {
			d.SetMaxUpdatesPerFrame(opts.Dispatcher.MaxUpdatesPerFrame)
		}
		if opts.Dispatcher.Debug {
			d.SetDebug(true)
		}
	}
}

// SetDebug sets both debug flags, on the live instances and for any built
// later.
func (r *Runtime) SetDebug(clockDebug, dispatcherDebug bool) {
	r.opts.Clock.Debug = clockDebug
	r.opts.Dispatcher.Debug = dispatcherDebug
	if r.clock != nil {
		r.clock.SetDebug(clockDebug)
	}
	if r.dispatcher != nil {
		r.dispatcher.SetDebug(dispatcherDebug)
	}
}

// Shutdown stops the dispatcher and detaches the clock from the host.
func (r *Runtime) Shutdown() {
	if r.dispatcher != nil {
		r.dispatcher.Stop()
	}
	if r.clock != nil {
		r.clock.Dispose()
	}
}
