package tick

import (
	"errors"
	"math"
	"testing"

	"github.com/idlesim/server/internal/core/clock"
	"github.com/idlesim/server/internal/core/host"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type harness struct {
	host  *host.Manual
	clock *clock.Clock
	disp  *Dispatcher
	logs  *observer.ObservedLogs
}

func newHarness(t *testing.T, ccfg clock.Config, dcfg Config) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	h := host.NewManual(10)
	clk := clock.New(h, log, ccfg)
	return &harness{host: h, clock: clk, disp: New(h, clk, log, dcfg), logs: logs}
}

type call struct{ unscaled, scaled float64 }

type recorder struct{ calls []call }

func (r *recorder) OnTick(unscaled, scaled float64) {
	r.calls = append(r.calls, call{unscaled, scaled})
}

func TestEndToEndOneHertz(t *testing.T) {
	hs := newHarness(t, clock.Config{TimeScale: 2, MaxFrameTime: 1}, Config{TickRate: 1})
	rec := &recorder{}
	hs.disp.Register(rec)
	hs.disp.Start()

	hs.host.Step(1.0)
	if len(rec.calls) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(rec.calls))
	}
	if rec.calls[0] != (call{1.0, 2.0}) {
		t.Fatalf("tick args = %+v, want (1.0, 2.0)", rec.calls[0])
	}

	for i := 0; i < 4; i++ {
		hs.host.Step(1.0)
	}
	if len(rec.calls) != 5 {
		t.Fatalf("expected 5 ticks, got %d", len(rec.calls))
	}
	if r := hs.clock.TimeRatio(); math.Abs(r-2) > 1e-9 {
		t.Fatalf("time ratio = %v, want 2", r)
	}

	st := hs.disp.Stats()
	if st.TickCount != 5 || st.FrameCount != 5 || st.HandlerCount != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.TimeStep != 1 || st.TickRate != 1 || st.TimeScale != 2 {
		t.Fatalf("unexpected configuration in stats: %+v", st)
	}
	if st.TotalGameTime != 10 || st.CurrentDay != 1 {
		t.Fatalf("unexpected game time in stats: %+v", st)
	}
}

func TestTickCapDiscardsRemainder(t *testing.T) {
	hs := newHarness(t, clock.Config{MaxFrameTime: 1}, Config{TickRate: 8, MaxUpdatesPerFrame: 3})
	rec := &recorder{}
	hs.disp.Register(rec)
	hs.disp.Start()

	hs.host.Step(0.625) // five timesteps worth, cap is three
	if len(rec.calls) != 3 {
		t.Fatalf("expected exactly 3 ticks, got %d", len(rec.calls))
	}
	if hs.disp.Accumulator() != 0 {
		t.Fatalf("accumulator = %v, want 0 after discard", hs.disp.Accumulator())
	}
	st := hs.disp.Stats()
	if st.DroppedFrames != 1 || st.DroppedSeconds != 0.25 {
		t.Fatalf("dropped counters = %d/%v, want 1/0.25", st.DroppedFrames, st.DroppedSeconds)
	}
	if hs.logs.FilterMessage("tick cap reached, discarding accumulated time").Len() != 1 {
		t.Fatalf("expected a discard warning")
	}
}

func TestAccumulatorConservation(t *testing.T) {
	hs := newHarness(t, clock.Config{MaxFrameTime: 1}, Config{TickRate: 10, MaxUpdatesPerFrame: 100})
	rec := &recorder{}
	hs.disp.Register(rec)
	hs.disp.Start()
	start := hs.host.Now()

	deltas := []float64{0.016, 0.033, 0.25, 0.007, 0.1, 0.049, 0.3, 0.016}
	for i := 0; i < 20; i++ {
		hs.host.Step(deltas[i%len(deltas)])
	}
	total := hs.host.Now() - start
	got := float64(len(rec.calls))*hs.disp.TimeStep() + hs.disp.Accumulator()
	if math.Abs(got-total) > 1e-9 {
		t.Fatalf("ticks*F + accumulator = %v, want %v", got, total)
	}
	if hs.disp.Accumulator() >= hs.disp.TimeStep() {
		t.Fatalf("accumulator %v not below timestep", hs.disp.Accumulator())
	}
}

func TestHandlerIsolation(t *testing.T) {
	hs := newHarness(t, clock.Config{}, Config{TickRate: 8})
	hs.disp.RegisterCallback("broken", HandlerFunc(func(float64, float64) { panic("boom") }))
	rec := &recorder{}
	hs.disp.Register(rec)
	hs.disp.Start()

	hs.host.Step(0.125)
	hs.host.Step(0.125)
	if len(rec.calls) != 2 {
		t.Fatalf("healthy handler ran %d times, want 2", len(rec.calls))
	}
	entries := hs.logs.FilterMessage("tick handler panicked").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 panic logs, got %d", len(entries))
	}
	if entries[0].ContextMap()["handler"] != "broken" {
		t.Fatalf("panic log missing handler name: %v", entries[0].ContextMap())
	}
	if !hs.disp.IsRunning() || hs.host.Pending() != 1 {
		t.Fatalf("loop did not survive a panicking handler")
	}
}

func TestIdempotentRegistration(t *testing.T) {
	hs := newHarness(t, clock.Config{}, Config{TickRate: 8})
	rec := &recorder{}
	hs.disp.Register(rec)
	unregister := hs.disp.Register(rec)
	if hs.disp.HandlerCount() != 1 {
		t.Fatalf("handler count = %d, want 1", hs.disp.HandlerCount())
	}
	hs.disp.Start()
	hs.host.Step(0.125)
	if len(rec.calls) != 1 {
		t.Fatalf("handler invoked %d times in one tick", len(rec.calls))
	}

	unregister()
	unregister()
	hs.host.Step(0.125)
	if len(rec.calls) != 1 || hs.disp.HandlerCount() != 0 {
		t.Fatalf("handler still registered after disposer ran")
	}
}

func TestRegisterFuncCreatesDistinctEntries(t *testing.T) {
	hs := newHarness(t, clock.Config{}, Config{})
	n := 0
	fn := func(float64, float64) { n++ }
	first := hs.disp.RegisterFunc(fn)
	hs.disp.RegisterFunc(fn)
	if hs.disp.HandlerCount() != 2 {
		t.Fatalf("handler count = %d, want 2", hs.disp.HandlerCount())
	}
	first()
	if hs.disp.HandlerCount() != 1 {
		t.Fatalf("disposer removed the wrong entries")
	}
	hs.disp.Unregister(HandlerFunc(fn)) // funcs have no identity
	if hs.disp.HandlerCount() != 1 {
		t.Fatalf("Unregister matched a func handler")
	}
}

func TestRegistrationChangesDuringTick(t *testing.T) {
	hs := newHarness(t, clock.Config{}, Config{TickRate: 8})
	late := &recorder{}
	victim := &recorder{}
	added := false
	hs.disp.RegisterFunc(func(float64, float64) {
		hs.disp.Unregister(victim)
		if !added {
			hs.disp.Register(late)
			added = true
		}
	})
	hs.disp.Register(victim)
	hs.disp.Start()

	hs.host.Step(0.125)
	if len(victim.calls) != 0 {
		t.Fatalf("handler removed mid-tick still ran")
	}
	if len(late.calls) != 0 {
		t.Fatalf("handler added mid-tick ran in the same tick")
	}
	hs.host.Step(0.125)
	if len(late.calls) != 1 {
		t.Fatalf("handler added mid-tick did not run on the next tick")
	}
}

func TestStopFromHandler(t *testing.T) {
	hs := newHarness(t, clock.Config{MaxFrameTime: 1}, Config{TickRate: 8, MaxUpdatesPerFrame: 10})
	ticks := 0
	hs.disp.RegisterFunc(func(float64, float64) {
		ticks++
		hs.disp.Stop()
	})
	hs.disp.Start()

	hs.host.Step(0.5)
	if ticks != 1 {
		t.Fatalf("ticks after same-frame stop = %d, want 1", ticks)
	}
	if hs.host.Pending() != 0 {
		t.Fatalf("a frame was scheduled after stop")
	}
	if hs.clock.IsRunning() {
		t.Fatalf("clock still running after stop")
	}
	hs.host.Step(0.5)
	if ticks != 1 {
		t.Fatalf("stopped dispatcher processed a frame")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	hs := newHarness(t, clock.Config{}, Config{TickRate: 8})
	rec := &recorder{}
	hs.disp.Register(rec)

	hs.disp.Start()
	hs.disp.Start()
	if hs.host.Pending() != 1 {
		t.Fatalf("double Start requested %d frames", hs.host.Pending())
	}
	hs.host.Step(0.25)
	hs.disp.Stop()
	hs.disp.Stop()
	if hs.host.Pending() != 0 {
		t.Fatalf("Stop left a pending frame")
	}

	hs.disp.Start()
	if hs.disp.TickCount() != 0 || hs.disp.Accumulator() != 0 {
		t.Fatalf("Start did not reset counters")
	}
	hs.host.Step(0.125)
	if hs.disp.TickCount() != 1 {
		t.Fatalf("handler did not survive a stop/start cycle")
	}
	if len(rec.calls) != 3 {
		t.Fatalf("recorder saw %d ticks, want 3", len(rec.calls))
	}
}

func TestEndConditionThrottledAndStops(t *testing.T) {
	hs := newHarness(t, clock.Config{MaxFrameTime: 2}, Config{TickRate: 8, MaxUpdatesPerFrame: 20})
	var seen []EndContext
	hs.disp.SetEndCondition(EndConditionFunc(func(ctx EndContext) (bool, error) {
		seen = append(seen, ctx)
		return ctx.TickCount >= 20, nil
	}))
	hs.disp.Start()

	hs.host.Step(1.25) // 10 ticks
	if len(seen) != 1 || seen[0].TickCount != 10 {
		t.Fatalf("end condition calls = %+v, want one at tick 10", seen)
	}
	if !hs.disp.IsRunning() {
		t.Fatalf("stopped before the end condition reported game over")
	}
	hs.host.Step(1.25)
	if hs.disp.IsRunning() {
		t.Fatalf("dispatcher kept running after game over")
	}
	if hs.disp.TickCount() != 20 {
		t.Fatalf("ticks = %d, want 20", hs.disp.TickCount())
	}
	if seen[1].CurrentDay != 1 || seen[1].TotalGameTime <= 0 {
		t.Fatalf("end context missing time fields: %+v", seen[1])
	}
}

func TestEndConditionFailuresAreAbsorbed(t *testing.T) {
	hs := newHarness(t, clock.Config{MaxFrameTime: 2}, Config{TickRate: 8, MaxUpdatesPerFrame: 20})
	calls := 0
	hs.disp.SetEndCondition(EndConditionFunc(func(EndContext) (bool, error) {
		calls++
		if calls == 1 {
			return true, errors.New("script error")
		}
		panic("bad predicate")
	}))
	hs.disp.Start()
	hs.host.Step(1.25)
	hs.host.Step(1.25)
	if !hs.disp.IsRunning() {
		t.Fatalf("failing end condition stopped the loop")
	}
	if calls != 2 {
		t.Fatalf("end condition calls = %d, want 2", calls)
	}
	if hs.logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 2 {
		t.Fatalf("expected two error logs")
	}
}

func TestScaledStepFloor(t *testing.T) {
	hs := newHarness(t, clock.Config{}, Config{TickRate: 8})
	rec := &recorder{}
	hs.disp.Register(rec)
	hs.disp.SetTimeScale(0.005)
	hs.disp.Start()
	hs.host.Step(0.125)
	if len(rec.calls) != 1 || rec.calls[0].scaled != MinScaledStep {
		t.Fatalf("scaled step = %+v, want floor %v", rec.calls, MinScaledStep)
	}
}

func TestInvalidTickRateIgnored(t *testing.T) {
	hs := newHarness(t, clock.Config{}, Config{TickRate: 20})
	hs.disp.SetTickRate(0)
	hs.disp.SetTickRate(-5)
	hs.disp.SetMaxUpdatesPerFrame(0)
	if hs.disp.TickRate() != 20 || hs.disp.TimeStep() != 0.05 {
		t.Fatalf("tick rate changed by invalid input: %v", hs.disp.TickRate())
	}
	if hs.logs.FilterLevelExact(zapcore.WarnLevel).Len() != 3 {
		t.Fatalf("expected three warnings")
	}
	hs.disp.SetTickRate(4)
	if hs.disp.TimeStep() != 0.25 {
		t.Fatalf("timestep = %v, want 0.25", hs.disp.TimeStep())
	}
}

func TestPausedClockFiresNoTicks(t *testing.T) {
	hs := newHarness(t, clock.Config{PauseOnHidden: true}, Config{TickRate: 8})
	rec := &recorder{}
	hs.disp.Register(rec)
	hs.disp.Start()
	hs.host.SetVisible(false)
	hs.host.Step(0.5)
	if len(rec.calls) != 0 {
		t.Fatalf("ticks fired while hidden")
	}
	if hs.host.Pending() != 1 {
		t.Fatalf("frame chain broken while hidden")
	}
	hs.host.SetVisible(true)
	hs.host.Step(0.125)
	if len(rec.calls) != 1 {
		t.Fatalf("ticks after becoming visible = %d, want 1", len(rec.calls))
	}
}

func TestStopWhileHiddenStaysStopped(t *testing.T) {
	hs := newHarness(t, clock.Config{PauseOnHidden: true}, Config{TickRate: 8})
	rec := &recorder{}
	hs.disp.Register(rec)
	hs.disp.Start()
	hs.host.SetVisible(false)
	hs.disp.Stop()
	hs.host.SetVisible(true)

	if hs.clock.IsRunning() {
		t.Fatalf("clock resumed on visible after the dispatcher stopped")
	}
	hs.host.Step(0.5)
	if len(rec.calls) != 0 || hs.host.Pending() != 0 {
		t.Fatalf("stopped dispatcher ticked after the host became visible")
	}
}

// wrapped is comparable by type, but holding a func in its interface field
// makes any == on it panic.
type wrapped struct{ inner Handler }

func (w wrapped) OnTick(unscaled, scaled float64) { w.inner.OnTick(unscaled, scaled) }

func TestRegisterUncomparableValueDoesNotPanic(t *testing.T) {
	hs := newHarness(t, clock.Config{}, Config{TickRate: 8})
	n := 0
	w := wrapped{inner: HandlerFunc(func(float64, float64) { n++ })}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("registration panicked: %v", r)
		}
	}()

	first := hs.disp.Register(w)
	hs.disp.Register(w)
	if hs.disp.HandlerCount() != 2 {
		t.Fatalf("handler count = %d, want 2 entries without identity", hs.disp.HandlerCount())
	}
	hs.disp.Unregister(w)
	if hs.disp.HandlerCount() != 2 {
		t.Fatalf("Unregister matched a handler without identity")
	}

	rec := &recorder{}
	hs.disp.Register(rec)
	hs.disp.Register(wrapped{inner: rec})
	hs.disp.Register(wrapped{inner: rec})
	if hs.disp.HandlerCount() != 4 {
		t.Fatalf("comparable wrapper not deduplicated: %d handlers", hs.disp.HandlerCount())
	}

	first()
	hs.disp.Start()
	hs.host.Step(0.125)
	if n != 1 {
		t.Fatalf("remaining func wrapper ran %d times, want 1", n)
	}
}

func TestFrameFailureResetsAndReschedules(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	armed := true
	log := zap.New(core, zap.Hooks(func(e zapcore.Entry) error {
		if armed && e.Message == "catching up" {
			armed = false
			panic("log sink failed")
		}
		return nil
	}))
	h := host.NewManual(10)
	clk := clock.New(h, log, clock.Config{MaxFrameTime: 1})
	disp := New(h, clk, log, Config{TickRate: 8, Debug: true})
	rec := &recorder{}
	disp.Register(rec)
	disp.Start()

	h.Step(0.3125) // two ticks plus 0.0625 left over
	if len(rec.calls) != 2 {
		t.Fatalf("ticks before the failure = %d, want 2", len(rec.calls))
	}
	if logs.FilterMessage("frame failed, resetting accumulator").Len() != 1 {
		t.Fatalf("expected the frame failure to be logged")
	}
	if disp.Accumulator() != 0 {
		t.Fatalf("accumulator = %v after a failed frame, want 0", disp.Accumulator())
	}
	if clk.ElapsedReal() != 0 {
		t.Fatalf("frame timing not reset after a failed frame")
	}
	if !disp.IsRunning() || h.Pending() != 1 {
		t.Fatalf("next frame not scheduled after a failed frame")
	}

	h.Step(0.125)
	if len(rec.calls) != 3 {
		t.Fatalf("ticks after recovery = %d, want 3", len(rec.calls))
	}
}

func TestFPSSampledPerGameSecond(t *testing.T) {
	hs := newHarness(t, clock.Config{TimeScale: 2, MaxFrameTime: 1}, Config{TickRate: 8})
	hs.disp.Start()

	hs.host.Step(0.25)
	if fps := hs.disp.Stats().FPS; fps != 0 {
		t.Fatalf("fps = %v before one game second passed, want 0", fps)
	}
	hs.host.Step(0.25) // one game second after half a real second
	if fps := hs.disp.Stats().FPS; fps != 4 {
		t.Fatalf("fps = %v, want 4", fps)
	}

	hs.disp.SetTimeScale(1)
	for i := 0; i < 3; i++ {
		hs.host.Step(0.125)
	}
	if fps := hs.disp.Stats().FPS; fps != 4 {
		t.Fatalf("fps resampled before a full game second: %v", fps)
	}
	for i := 0; i < 5; i++ {
		hs.host.Step(0.125)
	}
	if fps := hs.disp.Stats().FPS; fps != 8 {
		t.Fatalf("fps = %v, want 8", fps)
	}
}

func TestDayOf(t *testing.T) {
	tests := []struct {
		total    float64
		day      int
		progress float64
	}{
		{0, 1, 0},
		{59.9, 1, 59.9 / 60},
		{60, 2, 0},
		{125, 3, 5.0 / 60},
	}
	for _, tt := range tests {
		day, progress := DayOf(tt.total, 60)
		if day != tt.day || math.Abs(progress-tt.progress) > 1e-9 {
			t.Errorf("DayOf(%v) = %d, %v; want %d, %v", tt.total, day, progress, tt.day, tt.progress)
		}
	}
}
