package system

import (
	"sort"
)

// Runner executes systems in phase order each tick. It is registered with
// the dispatcher as a single tick handler.
type Runner struct {
	systems []System
	sorted  bool
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 8),
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

// OnTick implements tick.Handler.
func (r *Runner) OnTick(unscaled, scaled float64) {
	r.Tick(Step{Real: unscaled, Game: scaled})
}

func (r *Runner) Tick(step Step) {
	r.ensureSorted()
	for _, s := range r.systems {
		s.Update(step)
	}
}

// TickPhase runs only the systems of one phase, outside the tick loop.
func (r *Runner) TickPhase(phase Phase, step Step) {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() == phase {
			s.Update(step)
		}
	}
}

func (r *Runner) Len() int { return len(r.systems) }

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
