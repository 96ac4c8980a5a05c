package game

// Requirement is a closed union. Only the types in this file implement it,
// so State.Met can switch over all of them.
type Requirement interface {
	requirement()
	Kind() string
}

// ResourceAtLeast holds when the resource's amount is at least Amount.
type ResourceAtLeast struct {
	Resource string
	Amount   float64
}

// DayAtLeast holds from the start of day Day.
type DayAtLeast struct {
	Day int
}

// MilestoneDone holds once another milestone has been reached.
type MilestoneDone struct {
	Milestone string
}

// FlagSet holds once the flag has been set by a consequence.
type FlagSet struct {
	Flag string
}

func (ResourceAtLeast) requirement() {}
func (DayAtLeast) requirement()      {}
func (MilestoneDone) requirement()   {}
func (FlagSet) requirement()         {}

func (ResourceAtLeast) Kind() string { return "resource_at_least" }
func (DayAtLeast) Kind() string      { return "day_at_least" }
func (MilestoneDone) Kind() string   { return "milestone_reached" }
func (FlagSet) Kind() string         { return "flag_set" }

// Consequence is a closed union applied by State.Apply.
type Consequence interface {
	consequence()
	Kind() string
}

type UnlockResource struct {
	Resource string
}

// AdjustResource adds Delta (which may be negative), clamped to [0, cap].
type AdjustResource struct {
	Resource string
	Delta    float64
}

type MultiplyRate struct {
	Resource string
	Factor   float64
}

type SetFlag struct {
	Flag string
}

// EndGame records the outcome; the end check stops the dispatcher on its
// next consultation. The first outcome wins.
type EndGame struct {
	Outcome string
}

func (UnlockResource) consequence() {}
func (AdjustResource) consequence() {}
func (MultiplyRate) consequence()   {}
func (SetFlag) consequence()        {}
func (EndGame) consequence()        {}

func (UnlockResource) Kind() string { return "unlock_resource" }
func (AdjustResource) Kind() string { return "adjust_resource" }
func (MultiplyRate) Kind() string   { return "multiply_rate" }
func (SetFlag) Kind() string        { return "set_flag" }
func (EndGame) Kind() string        { return "end_game" }
