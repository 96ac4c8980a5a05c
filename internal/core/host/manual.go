package host

// Manual is a host whose time and frames advance only when told to.
// Tests and offline tools use it to step the simulation deterministically.
type Manual struct {
	now     float64
	frames  frameQueue
	subs    visibilitySubs
	visible bool
}

func NewManual(start float64) *Manual {
	return &Manual{now: start, visible: true}
}

func (m *Manual) Now() float64 { return m.now }

func (m *Manual) Schedule(fn FrameFunc) FrameID { return m.frames.push(fn) }

func (m *Manual) Cancel(id FrameID) { m.frames.cancel(id) }

func (m *Manual) OnVisibilityChange(fn func(visible bool)) func() {
	return m.subs.add(fn)
}

// SetNow moves the time source to an absolute reading. Non-finite values
// simulate a broken time source.
func (m *Manual) SetNow(t float64) { m.now = t }

// Advance moves time forward by dt seconds without running frames.
func (m *Manual) Advance(dt float64) { m.now += dt }

// Frame runs every frame request made so far and reports how many ran.
func (m *Manual) Frame() int { return m.frames.run() }

// Step advances time by dt and runs one frame.
func (m *Manual) Step(dt float64) int {
	m.Advance(dt)
	return m.Frame()
}

// Pending reports how many frame requests wait for the next frame.
func (m *Manual) Pending() int { return m.frames.len() }

// SetVisible notifies subscribers synchronously on transitions.
func (m *Manual) SetVisible(visible bool) {
	if m.visible == visible {
		return
	}
	m.visible = visible
	m.subs.notify(visible)
}
