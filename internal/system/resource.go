package system

import (
	"github.com/idlesim/server/internal/core/event"
	coresys "github.com/idlesim/server/internal/core/system"
	"github.com/idlesim/server/internal/game"
)

// ResourceSystem generates every unlocked resource at its rate per game
// second. Phase 1 (Update).
type ResourceSystem struct {
	state *game.State
	bus   *event.Bus
}

func NewResourceSystem(st *game.State, bus *event.Bus) *ResourceSystem {
	return &ResourceSystem{state: st, bus: bus}
}

func (s *ResourceSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *ResourceSystem) Update(step coresys.Step) {
	for _, r := range s.state.Resources() {
		if !r.Unlocked || r.Rate == 0 {
			continue
		}
		wasFull := r.Full()
		r.Amount += r.Rate * step.Game
		if r.Amount < 0 {
			r.Amount = 0
		}
		if r.Cap > 0 && r.Amount > r.Cap {
			r.Amount = r.Cap
		}
		if !wasFull && r.Full() {
			event.Emit(s.bus, event.ResourceCapped{Resource: r.ID, Amount: r.Amount})
		}
	}
}
