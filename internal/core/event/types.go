package event

// DayStarted is emitted when the derived day number advances.
type DayStarted struct {
	Day           int
	TotalGameTime float64
}

// ResourceCapped is emitted when a resource first reaches its cap.
type ResourceCapped struct {
	Resource string
	Amount   float64
}

// MilestoneReached is emitted once per milestone, after its consequences
// have been applied.
type MilestoneReached struct {
	Milestone string
	Day       int
}

// GameEnded is emitted when a consequence records an outcome.
type GameEnded struct {
	Outcome string
	Day     int
}

// Name returns the wire name used by scripts and the stats feed.
func Name(ev any) string {
	switch ev.(type) {
	case DayStarted:
		return "day_started"
	case ResourceCapped:
		return "resource_capped"
	case MilestoneReached:
		return "milestone_reached"
	case GameEnded:
		return "game_ended"
	default:
		return "unknown"
	}
}
