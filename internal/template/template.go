// Package template loads the YAML-defined template tables used to
// construct placeholder live entities during restore when no live
// instance exists yet for a persisted id (§4.C "delegating to an external
// factory... constructed from a named template folder"). Grounded on the
// teacher's internal/data table-loading pattern (LoadItemTable,
// LoadNpcTable): read file, unmarshal YAML, index by name, expose Count().
package template

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Slime is the static template a world/captured slime is built from.
type Slime struct {
	Name                string  `yaml:"name"`
	StartScale          float64 `yaml:"start_scale"`
	MaxScale            float64 `yaml:"max_scale"`
	UnfedGrowthDuration float64 `yaml:"unfed_growth_duration"`
	ValueBase           float64 `yaml:"value_base"`
	Tier                int     `yaml:"tier"`
	Rarity              int     `yaml:"rarity"`
	BodyColorHex        string  `yaml:"body_color"`
}

// Egg is the static template a world egg is built from.
type Egg struct {
	Name               string `yaml:"name"`
	HatchTotalDuration int64  `yaml:"hatch_total_duration"`
	Rarity             int    `yaml:"rarity"`
	ValueBase          float64 `yaml:"value_base"`
}

// Tool is the static template a food/egg tool is built from.
type Tool struct {
	Name            string  `yaml:"name"`
	RestoreFraction float64 `yaml:"restore_fraction"`
	BufferBonus     int64   `yaml:"buffer_bonus"`
	Consumable      bool    `yaml:"consumable"`
	Charges         int32   `yaml:"charges"`
}

// Table is a generic name-indexed template lookup with a Count accessor,
// matching the teacher's *Table shape (e.g. data.ItemTable).
type Table[T any] struct {
	byName map[string]T
}

func (t *Table[T]) Lookup(name string) (T, bool) {
	v, ok := t.byName[name]
	return v, ok
}

func (t *Table[T]) Count() int { return len(t.byName) }

type slimeFile struct {
	Slimes []Slime `yaml:"slimes"`
}

type eggFile struct {
	Eggs []Egg `yaml:"eggs"`
}

type toolFile struct {
	Tools []Tool `yaml:"tools"`
}

// LoadSlimeTable loads slime templates from a YAML file.
func LoadSlimeTable(path string) (*Table[Slime], error) {
	var f slimeFile
	if err := loadYAML(path, &f); err != nil {
		return nil, err
	}
	t := &Table[Slime]{byName: make(map[string]Slime, len(f.Slimes))}
	for _, s := range f.Slimes {
		t.byName[s.Name] = s
	}
	return t, nil
}

// LoadEggTable loads egg templates from a YAML file.
func LoadEggTable(path string) (*Table[Egg], error) {
	var f eggFile
	if err := loadYAML(path, &f); err != nil {
		return nil, err
	}
	t := &Table[Egg]{byName: make(map[string]Egg, len(f.Eggs))}
	for _, e := range f.Eggs {
		t.byName[e.Name] = e
	}
	return t, nil
}

// LoadToolTable loads food/egg tool templates from a YAML file.
func LoadToolTable(path string) (*Table[Tool], error) {
	var f toolFile
	if err := loadYAML(path, &f); err != nil {
		return nil, err
	}
	t := &Table[Tool]{byName: make(map[string]Tool, len(f.Tools))}
	for _, tl := range f.Tools {
		t.byName[tl.Name] = tl
	}
	return t, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
