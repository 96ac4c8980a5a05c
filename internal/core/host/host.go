package host

// FrameID identifies a pending frame request so it can be cancelled.
type FrameID uint64

// FrameFunc is invoked once per requested frame.
type FrameFunc func()

// Host is the environment the simulation core runs in. It supplies a
// monotonic time source, a frame-scheduling primitive and visibility
// notifications. All callbacks run on the host's loop goroutine.
type Host interface {
	// Now returns monotonic seconds since an arbitrary epoch.
	Now() float64

	// Schedule requests one invocation of fn on the next frame.
	Schedule(fn FrameFunc) FrameID

	// Cancel drops a pending frame request. Unknown IDs are ignored.
	Cancel(id FrameID)

	// OnVisibilityChange subscribes fn to hidden/visible transitions.
	OnVisibilityChange(fn func(visible bool)) (unsubscribe func())
}

// frameQueue holds pending frame requests in request order.
// Accessed only from the loop goroutine.
type frameQueue struct {
	nextID  FrameID
	pending []frameRequest
	running []frameRequest
}

type frameRequest struct {
	id FrameID
	fn FrameFunc
}

func (q *frameQueue) push(fn FrameFunc) FrameID {
	q.nextID++
	q.pending = append(q.pending, frameRequest{id: q.nextID, fn: fn})
	return q.nextID
}

func (q *frameQueue) cancel(id FrameID) {
	for i, r := range q.pending {
		if r.id == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
	for i := range q.running {
		if q.running[i].id == id {
			q.running[i].fn = nil
			return
		}
	}
}

// run invokes every request made before this call. Requests made while
// the batch runs belong to the next frame.
func (q *frameQueue) run() int {
	q.running, q.pending = q.pending, nil
	n := 0
	for i := range q.running {
		fn := q.running[i].fn
		if fn == nil {
			continue
		}
		q.running[i].fn = nil
		fn()
		n++
	}
	q.running = nil
	return n
}

func (q *frameQueue) len() int { return len(q.pending) }

// visibilitySubs is an ordered subscriber list with stable unsubscribe.
type visibilitySubs struct {
	nextID uint64
	subs   []visibilitySub
}

type visibilitySub struct {
	id uint64
	fn func(bool)
}

func (v *visibilitySubs) add(fn func(bool)) func() {
	v.nextID++
	id := v.nextID
	v.subs = append(v.subs, visibilitySub{id: id, fn: fn})
	return func() {
		for i, s := range v.subs {
			if s.id == id {
				v.subs = append(v.subs[:i:i], v.subs[i+1:]...)
				return
			}
		}
	}
}

func (v *visibilitySubs) notify(visible bool) {
	subs := append([]visibilitySub(nil), v.subs...)
	for _, s := range subs {
		s.fn(visible)
	}
}
