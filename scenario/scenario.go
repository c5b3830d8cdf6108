// Package scenario reads YAML files describing the populations a run starts
// with.
package scenario

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Area is a rectangle entities are spawned in.
type Area struct {
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

// Population is a group of walkers sharing parameters.
type Population struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`

	// StartMS is when the first walker joins; StaggerMS spaces out the
	// following ones.
	StartMS   uint64 `yaml:"start_ms"`
	StaggerMS uint64 `yaml:"stagger_ms"`

	Area        Area    `yaml:"area"`
	Speed       float64 `yaml:"speed"`        // distance per tick
	SenseRadius float64 `yaml:"sense_radius"` // neighbour lookup half size
	ReactionMS  uint64  `yaml:"reaction_ms"`  // perception delay
	Crowd       int     `yaml:"crowd"`        // neighbours that make a walker flee
	Lifetime    int     `yaml:"lifetime"`     // ticks, 0 lives forever
	BreedEvery  int     `yaml:"breed_every"`  // ticks, 0 never breeds
	FailEvery   int     `yaml:"fail_every"`   // ticks, 0 never fails
}

// Scenario is the content of a scenario file.
type Scenario struct {
	Name        string       `yaml:"name"`
	Populations []Population `yaml:"populations"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}

	return s, nil
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Total returns the number of walkers of all populations.
func (s *Scenario) Total() int {
	n := 0
	for _, p := range s.Populations {
		n += p.Count
	}

	return n
}

// Validate reports every invalid population.
func (s *Scenario) Validate() error {
	var errs []error

	if len(s.Populations) == 0 {
		errs = append(errs, errors.New("no populations"))
	}

	for i, p := range s.Populations {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}

		if p.Count < 0 {
			errs = append(errs, fmt.Errorf("population %s: negative count", name))
		}

		if p.Area.MaxX < p.Area.MinX || p.Area.MaxY < p.Area.MinY {
			errs = append(errs, fmt.Errorf("population %s: empty area", name))
		}

		if p.Speed < 0 || p.SenseRadius < 0 {
			errs = append(errs,
				fmt.Errorf("population %s: negative speed or radius", name))
		}

		if p.Lifetime < 0 || p.BreedEvery < 0 || p.FailEvery < 0 || p.Crowd < 0 {
			errs = append(errs,
				fmt.Errorf("population %s: negative tick count", name))
		}
	}

	return errors.Join(errs...)
}

// Default is the scenario used when no file is given: a few hundred walkers
// spread over the default extent with a dense cluster in one corner.
func Default() *Scenario {
	return &Scenario{
		Name: "default",
		Populations: []Population{
			{
				Name:        "commuters",
				Count:       400,
				Area:        Area{MaxX: 1000, MaxY: 1000},
				Speed:       5,
				SenseRadius: 20,
				ReactionMS:  200,
				Crowd:       12,
			},
			{
				Name:        "crowd",
				Count:       200,
				StartMS:     500,
				StaggerMS:   10,
				Area:        Area{MinX: 100, MinY: 100, MaxX: 200, MaxY: 200},
				Speed:       2,
				SenseRadius: 10,
				ReactionMS:  300,
				Crowd:       30,
				Lifetime:    150,
				BreedEvery:  60,
			},
		},
	}
}
