// Package game holds the idle game's mutable state and the closed set of
// requirement and consequence kinds milestones are built from.
//
// State is owned by the simulation goroutine; nothing here locks.
package game

import (
	"fmt"
	"sort"
)

// ResourceDef describes a resource as loaded from data.
type ResourceDef struct {
	ID       string
	Name     string
	Start    float64 // starting amount
	Cap      float64 // 0 = uncapped
	Rate     float64 // per game second
	Unlocked bool
}

// Resource is the live value of one resource.
type Resource struct {
	ID       string
	Name     string
	Amount   float64
	Cap      float64
	Rate     float64
	Unlocked bool
}

// Full reports whether a capped resource has reached its cap.
func (r *Resource) Full() bool {
	return r.Cap > 0 && r.Amount >= r.Cap
}

// Milestone is reached once, when every requirement holds; its effects are
// then applied in order.
type Milestone struct {
	ID       string
	Name     string
	Requires []Requirement
	Effects  []Consequence
}

type State struct {
	resources  map[string]*Resource
	order      []string // resource IDs in definition order
	milestones map[string]bool
	flags      map[string]bool
	outcome    string
}

// NewState builds a fresh game from resource definitions.
func NewState(defs []ResourceDef) *State {
	s := &State{
		resources:  make(map[string]*Resource, len(defs)),
		milestones: make(map[string]bool),
		flags:      make(map[string]bool),
	}
	for _, d := range defs {
		if _, dup := s.resources[d.ID]; dup {
			continue
		}
		s.resources[d.ID] = &Resource{
			ID:       d.ID,
			Name:     d.Name,
			Amount:   d.Start,
			Cap:      d.Cap,
			Rate:     d.Rate,
			Unlocked: d.Unlocked,
		}
		s.order = append(s.order, d.ID)
	}
	return s
}

// Resource returns the resource with the given ID, or nil.
func (s *State) Resource(id string) *Resource {
	return s.resources[id]
}

// Resources returns every resource in definition order.
func (s *State) Resources() []*Resource {
	out := make([]*Resource, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.resources[id])
	}
	return out
}

func (s *State) HasMilestone(id string) bool { return s.milestones[id] }

// MarkMilestone records id as reached. Returns false if it already was.
func (s *State) MarkMilestone(id string) bool {
	if s.milestones[id] {
		return false
	}
	s.milestones[id] = true
	return true
}

func (s *State) MilestoneCount() int { return len(s.milestones) }

func (s *State) Flag(name string) bool { return s.flags[name] }

func (s *State) SetFlag(name string) { s.flags[name] = true }

// Outcome is empty until an end_game consequence fires.
func (s *State) Outcome() string { return s.outcome }

func (s *State) Ended() bool { return s.outcome != "" }

// Met reports whether r holds for the current state on the given day.
func (s *State) Met(r Requirement, day int) bool {
	switch r := r.(type) {
	case ResourceAtLeast:
		res := s.resources[r.Resource]
		return res != nil && res.Amount >= r.Amount
	case DayAtLeast:
		return day >= r.Day
	case MilestoneDone:
		return s.milestones[r.Milestone]
	case FlagSet:
		return s.flags[r.Flag]
	default:
		panic(fmt.Sprintf("game: unhandled requirement %T", r))
	}
}

// MetAll reports whether every requirement holds. An empty list holds.
func (s *State) MetAll(reqs []Requirement, day int) bool {
	for _, r := range reqs {
		if !s.Met(r, day) {
			return false
		}
	}
	return true
}

// Apply executes one consequence.
func (s *State) Apply(c Consequence) error {
	switch c := c.(type) {
	case UnlockResource:
		res, err := s.lookup(c.Resource)
		if err != nil {
			return err
		}
		res.Unlocked = true
	case AdjustResource:
		res, err := s.lookup(c.Resource)
		if err != nil {
			return err
		}
		res.Amount += c.Delta
		if res.Amount < 0 {
			res.Amount = 0
		}
		if res.Cap > 0 && res.Amount > res.Cap {
			res.Amount = res.Cap
		}
	case MultiplyRate:
		res, err := s.lookup(c.Resource)
		if err != nil {
			return err
		}
		res.Rate *= c.Factor
	case SetFlag:
		s.flags[c.Flag] = true
	case EndGame:
		if s.outcome == "" {
			s.outcome = c.Outcome
		}
	default:
		panic(fmt.Sprintf("game: unhandled consequence %T", c))
	}
	return nil
}

func (s *State) lookup(id string) (*Resource, error) {
	res := s.resources[id]
	if res == nil {
		return nil, fmt.Errorf("unknown resource %q", id)
	}
	return res, nil
}

// Snapshot is the persistable form of State.
type Snapshot struct {
	Resources  map[string]ResourceSnapshot `json:"resources"`
	Milestones []string                    `json:"milestones"`
	Flags      []string                    `json:"flags"`
	Outcome    string                      `json:"outcome,omitempty"`
}

type ResourceSnapshot struct {
	Amount   float64 `json:"amount"`
	Rate     float64 `json:"rate"`
	Unlocked bool    `json:"unlocked"`
}

// Snapshot copies the state. Milestones and flags are sorted so equal
// states produce equal snapshots.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Resources:  make(map[string]ResourceSnapshot, len(s.resources)),
		Milestones: sortedKeys(s.milestones),
		Flags:      sortedKeys(s.flags),
		Outcome:    s.outcome,
	}
	for id, r := range s.resources {
		snap.Resources[id] = ResourceSnapshot{Amount: r.Amount, Rate: r.Rate, Unlocked: r.Unlocked}
	}
	return snap
}

// Restore overwrites the state from a snapshot. Resources the snapshot
// does not know keep their current values; snapshot entries for resources
// no longer defined are ignored.
func (s *State) Restore(snap Snapshot) {
	for id, rs := range snap.Resources {
		r := s.resources[id]
		if r == nil {
			continue
		}
		r.Amount = rs.Amount
		if r.Cap > 0 && r.Amount > r.Cap {
			r.Amount = r.Cap
		}
		r.Rate = rs.Rate
		r.Unlocked = rs.Unlocked
	}
	s.milestones = make(map[string]bool, len(snap.Milestones))
	for _, id := range snap.Milestones {
		s.milestones[id] = true
	}
	s.flags = make(map[string]bool, len(snap.Flags))
	for _, f := range snap.Flags {
		s.flags[f] = true
	}
	s.outcome = snap.Outcome
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
