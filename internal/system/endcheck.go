package system

import (
	"github.com/idlesim/server/internal/core/tick"
	"github.com/idlesim/server/internal/game"
	"github.com/idlesim/server/internal/scripting"
)

// EndScript is the scripted half of the end condition.
// *scripting.Engine implements it.
type EndScript interface {
	CheckEnd(ctx scripting.EndContext) (bool, error)
}

// EndCheck implements tick.EndCondition. The game is over once the state
// records an outcome or the script says so.
type EndCheck struct {
	state  *game.State
	script EndScript
}

func NewEndCheck(st *game.State, script EndScript) *EndCheck {
	return &EndCheck{state: st, script: script}
}

func (c *EndCheck) GameOver(ctx tick.EndContext) (bool, error) {
	if c.state.Ended() {
		return true, nil
	}
	if c.script == nil {
		return false, nil
	}
	snap := c.state.Snapshot()
	resources := make(map[string]float64, len(snap.Resources))
	for id, r := range snap.Resources {
		resources[id] = r.Amount
	}
	return c.script.CheckEnd(scripting.EndContext{
		TickCount:      ctx.TickCount,
		TotalGameTime:  ctx.TotalGameTime,
		Day:            ctx.CurrentDay,
		DayProgress:    ctx.DayProgress,
		MilestoneCount: c.state.MilestoneCount(),
		Resources:      resources,
		Flags:          snap.Flags,
	})
}
