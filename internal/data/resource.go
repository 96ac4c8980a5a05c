package data

import (
	"fmt"
	"os"

	"github.com/idlesim/server/internal/game"
	"gopkg.in/yaml.v3"
)

// ResourceTable holds resource definitions in file order.
type ResourceTable struct {
	defs  []game.ResourceDef
	index map[string]int
}

// Get returns a definition by ID.
func (t *ResourceTable) Get(id string) (game.ResourceDef, bool) {
	i, ok := t.index[id]
	if !ok {
		return game.ResourceDef{}, false
	}
	return t.defs[i], true
}

// Defs returns the definitions in file order.
func (t *ResourceTable) Defs() []game.ResourceDef {
	return t.defs
}

// Count returns the number of resources loaded.
func (t *ResourceTable) Count() int {
	return len(t.defs)
}

type resourceYAMLEntry struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name"`
	Start    float64 `yaml:"start"`
	Cap      float64 `yaml:"cap"`
	Rate     float64 `yaml:"rate"`
	Unlocked bool    `yaml:"unlocked"`
}

type resourceListFile struct {
	Resources []resourceYAMLEntry `yaml:"resources"`
}

// LoadResourceTable loads resource definitions from a YAML file.
func LoadResourceTable(path string) (*ResourceTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resources: %w", err)
	}
	var f resourceListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse resources: %w", err)
	}

	t := &ResourceTable{index: make(map[string]int, len(f.Resources))}
	for _, e := range f.Resources {
		if e.ID == "" {
			return nil, fmt.Errorf("resources: entry without id")
		}
		if _, dup := t.index[e.ID]; dup {
			return nil, fmt.Errorf("resources: duplicate id %q", e.ID)
		}
		if e.Cap < 0 || e.Start < 0 {
			return nil, fmt.Errorf("resources: %q has negative start or cap", e.ID)
		}
		name := e.Name
		if name == "" {
			name = e.ID
		}
		t.index[e.ID] = len(t.defs)
		t.defs = append(t.defs, game.ResourceDef{
			ID:       e.ID,
			Name:     name,
			Start:    e.Start,
			Cap:      e.Cap,
			Rate:     e.Rate,
			Unlocked: e.Unlocked,
		})
	}
	return t, nil
}
