package system

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhasePreUpdate  Phase = iota // 0: deliver last tick's events
	PhaseUpdate                  // 1: resource generation
	PhasePostUpdate              // 2: progression, day changes
	PhasePersist                 // 3: autosave snapshots
)

// Step is the time one tick covers, in seconds.
type Step struct {
	Real float64 // fixed unscaled timestep
	Game float64 // scaled game time
}

// System is the interface every game system implements.
type System interface {
	Phase() Phase
	Update(step Step)
}
