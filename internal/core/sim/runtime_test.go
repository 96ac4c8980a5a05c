package sim

import (
	"testing"

	"github.com/idlesim/server/internal/core/clock"
	"github.com/idlesim/server/internal/core/host"
	"github.com/idlesim/server/internal/core/tick"
	"go.uber.org/zap/zaptest"
)

func TestLazyIdempotentConstruction(t *testing.T) {
	r := New(host.NewManual(0), zaptest.NewLogger(t), Options{})
	d := r.Dispatcher()
	if d != r.Dispatcher() {
		t.Fatalf("Dispatcher constructed twice")
	}
	c := r.Clock()
	if c != r.Clock() {
		t.Fatalf("Clock constructed twice")
	}
	d.Start()
	if !c.IsRunning() {
		t.Fatalf("dispatcher drives a different clock than Runtime.Clock")
	}
}

func TestConfigureAppliesToExistingInstances(t *testing.T) {
	r := New(host.NewManual(0), zaptest.NewLogger(t), Options{
		Clock:      clock.Config{TimeScale: 1},
		Dispatcher: tick.Config{TickRate: 10},
	})
	c := r.Clock()
	d := r.Dispatcher()

	r.Configure(Options{
		Clock:      clock.Config{TimeScale: 4, MaxFrameTime: 0.5, Debug: true},
		Dispatcher: tick.Config{TickRate: 20, MaxUpdatesPerFrame: 5},
	})

	if r.Clock() != c || r.Dispatcher() != d {
		t.Fatalf("Configure re-created instances")
	}
	if c.TimeScale() != 4 || c.MaxFrameTime() != 0.5 || !c.Debug() {
		t.Fatalf("clock settings not applied")
	}
	if d.TickRate() != 20 {
		t.Fatalf("tick rate = %v, want 20", d.TickRate())
	}

	r.Configure(Options{Clock: clock.Config{TimeScale: -1}})
	if c.TimeScale() != 4 {
		t.Fatalf("invalid scale applied: %v", c.TimeScale())
	}
}

func TestConfigureBeforeConstruction(t *testing.T) {
	r := New(host.NewManual(0), zaptest.NewLogger(t), Options{})
	r.Configure(Options{Clock: clock.Config{TimeScale: 3}, Dispatcher: tick.Config{TickRate: 5}})
	if r.Clock().TimeScale() != 3 || r.Dispatcher().TickRate() != 5 {
		t.Fatalf("settings applied before construction were lost")
	}
}

func TestConfigureKeepsDebugFlags(t *testing.T) {
	r := New(host.NewManual(0), zaptest.NewLogger(t), Options{
		Clock:      clock.Config{Debug: true},
		Dispatcher: tick.Config{Debug: true},
	})
	c := r.Clock()

	r.Configure(Options{Dispatcher: tick.Config{TickRate: 20}})
	if !c.Debug() || !r.opts.Dispatcher.Debug {
		t.Fatalf("tick rate change switched debugging off")
	}

	r.SetDebug(false, true)
	if c.Debug() {
		t.Fatalf("SetDebug did not reach the live clock")
	}
	if !r.Dispatcher().Debug() {
		t.Fatalf("dispatcher built after SetDebug lost its debug flag")
	}
	r.SetDebug(false, false)
	if r.Dispatcher().Debug() {
		t.Fatalf("SetDebug did not reach the live dispatcher")
	}
}

func TestShutdown(t *testing.T) {
	h := host.NewManual(0)
	r := New(h, zaptest.NewLogger(t), Options{Clock: clock.Config{PauseOnHidden: true}})
	r.Dispatcher().Start()
	r.Shutdown()
	if r.Dispatcher().IsRunning() || h.Pending() != 0 {
		t.Fatalf("dispatcher still running after shutdown")
	}
	r.Clock().Start()
	h.SetVisible(false)
	if !r.Clock().IsRunning() {
		t.Fatalf("clock still subscribed to visibility after shutdown")
	}
}
