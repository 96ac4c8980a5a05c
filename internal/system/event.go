package system

import (
	"github.com/idlesim/server/internal/core/event"
	coresys "github.com/idlesim/server/internal/core/system"
	"go.uber.org/zap"
)

// EventHook receives every delivered event as a kind and a flat payload.
// *scripting.Engine implements it.
type EventHook interface {
	OnEvent(kind string, payload map[string]any)
}

// EventSystem swaps the bus buffers and delivers last tick's events.
// Phase 0 (PreUpdate).
type EventSystem struct {
	bus   *event.Bus
	log   *zap.Logger
	hooks []EventHook
}

func NewEventSystem(bus *event.Bus, log *zap.Logger, hooks ...EventHook) *EventSystem {
	s := &EventSystem{bus: bus, log: log}
	for _, h := range hooks {
		if h != nil {
			s.hooks = append(s.hooks, h)
		}
	}
	bus.Observe(s.deliver)
	return s
}

// AddHook registers another receiver for every delivered event.
func (s *EventSystem) AddHook(h EventHook) {
	s.hooks = append(s.hooks, h)
}

func (s *EventSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *EventSystem) Update(_ coresys.Step) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}

func (s *EventSystem) deliver(ev any) {
	kind := event.Name(ev)
	payload := Payload(ev)
	s.log.Info("game event", zap.String("kind", kind), zap.Any("payload", payload))
	for _, h := range s.hooks {
		h.OnEvent(kind, payload)
	}
}

// DrainEvents delivers the events emitted during the last tick, which would
// otherwise wait for a tick that never comes. Call it after the dispatcher
// has stopped. It returns how many events were delivered.
func DrainEvents(r *coresys.Runner, bus *event.Bus) int {
	n := bus.Pending()
	if n > 0 {
		r.TickPhase(coresys.PhasePreUpdate, coresys.Step{})
	}
	return n
}

// Payload flattens a game event into the fields scripts and the stats
// feed see.
func Payload(ev any) map[string]any {
	switch ev := ev.(type) {
	case event.DayStarted:
		return map[string]any{"day": ev.Day, "total_game_time": ev.TotalGameTime}
	case event.ResourceCapped:
		return map[string]any{"resource": ev.Resource, "amount": ev.Amount}
	case event.MilestoneReached:
		return map[string]any{"milestone": ev.Milestone, "day": ev.Day}
	case event.GameEnded:
		return map[string]any{"outcome": ev.Outcome, "day": ev.Day}
	default:
		return map[string]any{}
	}
}
