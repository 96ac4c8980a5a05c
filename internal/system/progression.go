package system

import (
	"github.com/idlesim/server/internal/core/event"
	coresys "github.com/idlesim/server/internal/core/system"
	"github.com/idlesim/server/internal/core/tick"
	"github.com/idlesim/server/internal/game"
	"go.uber.org/zap"
)

// GameTimer reports accumulated game time. *clock.Clock implements it.
type GameTimer interface {
	TotalGameTime() float64
}

// ProgressionSystem tracks the day number and reaches milestones whose
// requirements hold. Phase 2 (PostUpdate).
type ProgressionSystem struct {
	state         *game.State
	bus           *event.Bus
	timer         GameTimer
	milestones    []*game.Milestone
	secondsPerDay float64
	log           *zap.Logger

	day        int
	endEmitted bool
}

func NewProgressionSystem(st *game.State, bus *event.Bus, timer GameTimer, milestones []*game.Milestone, secondsPerDay float64, log *zap.Logger) *ProgressionSystem {
	return &ProgressionSystem{
		state:         st,
		bus:           bus,
		timer:         timer,
		milestones:    milestones,
		secondsPerDay: secondsPerDay,
		log:           log,
	}
}

func (s *ProgressionSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *ProgressionSystem) Update(_ coresys.Step) {
	total := s.timer.TotalGameTime()
	day, _ := tick.DayOf(total, s.secondsPerDay)
	if day != s.day {
		s.day = day
		event.Emit(s.bus, event.DayStarted{Day: day, TotalGameTime: total})
	}

	if s.state.Ended() {
		s.emitEnd()
		return
	}
	for _, m := range s.milestones {
		if s.state.HasMilestone(m.ID) || !s.state.MetAll(m.Requires, day) {
			continue
		}
		s.reach(m)
		if s.state.Ended() {
			s.emitEnd()
			return
		}
	}
}

// Day returns the day number seen on the last update.
func (s *ProgressionSystem) Day() int { return s.day }

func (s *ProgressionSystem) reach(m *game.Milestone) {
	s.state.MarkMilestone(m.ID)
	for _, c := range m.Effects {
		if err := s.state.Apply(c); err != nil {
			s.log.Error("milestone effect failed",
				zap.String("milestone", m.ID),
				zap.String("kind", c.Kind()),
				zap.Error(err))
		}
	}
	s.log.Info("milestone reached", zap.String("milestone", m.ID), zap.Int("day", s.day))
	event.Emit(s.bus, event.MilestoneReached{Milestone: m.ID, Day: s.day})
}

func (s *ProgressionSystem) emitEnd() {
	if s.endEmitted {
		return
	}
	s.endEmitted = true
	event.Emit(s.bus, event.GameEnded{Outcome: s.state.Outcome(), Day: s.day})
}
