package data

import (
	"fmt"
	"os"

	"github.com/idlesim/server/internal/game"
	"gopkg.in/yaml.v3"
)

// MilestoneTable holds milestones in file order.
type MilestoneTable struct {
	milestones []*game.Milestone
}

// All returns the milestones in file order.
func (t *MilestoneTable) All() []*game.Milestone {
	return t.milestones
}

// Count returns the number of milestones loaded.
func (t *MilestoneTable) Count() int {
	return len(t.milestones)
}

// requirementYAML decodes one requirement, selecting the concrete type by
// its kind field.
type requirementYAML struct {
	game.Requirement
}

func (r *requirementYAML) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		Kind      string  `yaml:"kind"`
		Resource  string  `yaml:"resource"`
		Amount    float64 `yaml:"amount"`
		Day       int     `yaml:"day"`
		Milestone string  `yaml:"milestone"`
		Flag      string  `yaml:"flag"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	switch raw.Kind {
	case "resource_at_least":
		r.Requirement = game.ResourceAtLeast{Resource: raw.Resource, Amount: raw.Amount}
	case "day_at_least":
		r.Requirement = game.DayAtLeast{Day: raw.Day}
	case "milestone_reached":
		r.Requirement = game.MilestoneDone{Milestone: raw.Milestone}
	case "flag_set":
		r.Requirement = game.FlagSet{Flag: raw.Flag}
	default:
		return fmt.Errorf("line %d: unknown requirement kind %q", n.Line, raw.Kind)
	}
	return nil
}

type consequenceYAML struct {
	game.Consequence
}

func (c *consequenceYAML) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		Kind     string   `yaml:"kind"`
		Resource string   `yaml:"resource"`
		Delta    float64  `yaml:"delta"`
		Factor   *float64 `yaml:"factor"`
		Flag     string   `yaml:"flag"`
		Outcome  string   `yaml:"outcome"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	switch raw.Kind {
	case "unlock_resource":
		c.Consequence = game.UnlockResource{Resource: raw.Resource}
	case "adjust_resource":
		c.Consequence = game.AdjustResource{Resource: raw.Resource, Delta: raw.Delta}
	case "multiply_rate":
		if raw.Factor == nil {
			return fmt.Errorf("line %d: multiply_rate without factor", n.Line)
		}
		c.Consequence = game.MultiplyRate{Resource: raw.Resource, Factor: *raw.Factor}
	case "set_flag":
		c.Consequence = game.SetFlag{Flag: raw.Flag}
	case "end_game":
		if raw.Outcome == "" {
			return fmt.Errorf("line %d: end_game without outcome", n.Line)
		}
		c.Consequence = game.EndGame{Outcome: raw.Outcome}
	default:
		return fmt.Errorf("line %d: unknown consequence kind %q", n.Line, raw.Kind)
	}
	return nil
}

type milestoneYAMLEntry struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Requires []requirementYAML `yaml:"requires"`
	Effects  []consequenceYAML `yaml:"effects"`
}

type milestoneListFile struct {
	Milestones []milestoneYAMLEntry `yaml:"milestones"`
}

// LoadMilestoneTable loads milestones from a YAML file and checks every
// resource and milestone reference against the loaded tables.
func LoadMilestoneTable(path string, resources *ResourceTable) (*MilestoneTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read milestones: %w", err)
	}
	var f milestoneListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse milestones: %w", err)
	}

	ids := make(map[string]bool, len(f.Milestones))
	for _, e := range f.Milestones {
		if e.ID == "" {
			return nil, fmt.Errorf("milestones: entry without id")
		}
		if ids[e.ID] {
			return nil, fmt.Errorf("milestones: duplicate id %q", e.ID)
		}
		ids[e.ID] = true
	}

	t := &MilestoneTable{milestones: make([]*game.Milestone, 0, len(f.Milestones))}
	for _, e := range f.Milestones {
		m := &game.Milestone{ID: e.ID, Name: e.Name}
		if m.Name == "" {
			m.Name = e.ID
		}
		for _, r := range e.Requires {
			if err := checkRequirement(r.Requirement, resources, ids); err != nil {
				return nil, fmt.Errorf("milestone %q: %w", e.ID, err)
			}
			m.Requires = append(m.Requires, r.Requirement)
		}
		for _, c := range e.Effects {
			if err := checkConsequence(c.Consequence, resources); err != nil {
				return nil, fmt.Errorf("milestone %q: %w", e.ID, err)
			}
			m.Effects = append(m.Effects, c.Consequence)
		}
		t.milestones = append(t.milestones, m)
	}
	return t, nil
}

func checkRequirement(r game.Requirement, resources *ResourceTable, milestones map[string]bool) error {
	switch r := r.(type) {
	case game.ResourceAtLeast:
		if _, ok := resources.Get(r.Resource); !ok {
			return fmt.Errorf("%s: unknown resource %q", r.Kind(), r.Resource)
		}
	case game.MilestoneDone:
		if !milestones[r.Milestone] {
			return fmt.Errorf("%s: unknown milestone %q", r.Kind(), r.Milestone)
		}
	case game.FlagSet:
		if r.Flag == "" {
			return fmt.Errorf("%s: empty flag", r.Kind())
		}
	case game.DayAtLeast:
	}
	return nil
}

func checkConsequence(c game.Consequence, resources *ResourceTable) error {
	var id string
	switch c := c.(type) {
	case game.UnlockResource:
		id = c.Resource
	case game.AdjustResource:
		id = c.Resource
	case game.MultiplyRate:
		id = c.Resource
	case game.SetFlag:
		if c.Flag == "" {
			return fmt.Errorf("%s: empty flag", c.Kind())
		}
		return nil
	case game.EndGame:
		return nil
	}
	if _, ok := resources.Get(id); !ok {
		return fmt.Errorf("%s: unknown resource %q", c.Kind(), id)
	}
	return nil
}
