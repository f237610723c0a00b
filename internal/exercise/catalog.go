// Package exercise loads the exercise catalog.
package exercise

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"exercise-runner/internal/grading"
	"exercise-runner/internal/runtime"
)

// Type is the exercise type.
type Type string

const (
	TypePython  Type = "PYTHON"
	TypeSQL     Type = "SQL"
	TypeMCQ     Type = "MCQ"
	TypeParsons Type = "PARSONS"
)

// DefaultXPReward is awarded when an exercise does not set one.
const DefaultXPReward = 10

var (
	ErrNotFound      = errors.New("exercise not found")
	ErrInvalidConfig = errors.New("invalid exercise catalog")
)

// Hint is revealed on request and may cost XP. Its ID is unique across
// the catalog.
type Hint struct {
	ID      string `yaml:"id" json:"id"`
	Content string `yaml:"content" json:"content,omitempty"`
	Order   int    `yaml:"order" json:"order"`
	XPCost  int    `yaml:"xp_cost" json:"xp_cost"`
}

// Exercise is one catalog entry.
type Exercise struct {
	ID          string             `yaml:"id" json:"id"`
	Title       string             `yaml:"title" json:"title"`
	Type        Type               `yaml:"type" json:"type"`
	Statement   string             `yaml:"statement" json:"statement"`
	StarterCode string             `yaml:"starter_code" json:"starter_code"`
	Schema      string             `yaml:"schema,omitempty" json:"schema,omitempty"`
	Tests       []grading.TestCase `yaml:"tests" json:"tests,omitempty"`
	Hints       []Hint             `yaml:"hints" json:"hints,omitempty"`
	XPReward    int                `yaml:"xp_reward" json:"xp_reward"`
	Order       int                `yaml:"order" json:"order"`
	Published   bool               `yaml:"published" json:"published"`
}

// Kind returns the runtime that grades the exercise. MCQ and Parsons
// exercises have none.
func (e *Exercise) Kind() (runtime.Kind, bool) {
	switch e.Type {
	case TypePython:
		return runtime.KindPython, true
	case TypeSQL:
		return runtime.KindSQL, true
	default:
		return "", false
	}
}

// Public returns a copy safe to show before the exercise is solved: test
// names are kept, their code and expected values are not. Hints keep their
// cost but not their content.
func (e *Exercise) Public() Exercise {
	out := *e
	out.Tests = make([]grading.TestCase, len(e.Tests))
	for i, tc := range e.Tests {
		out.Tests[i] = grading.TestCase{Name: tc.Name}
	}
	out.Hints = make([]Hint, len(e.Hints))
	for i, h := range e.Hints {
		out.Hints[i] = Hint{ID: h.ID, Order: h.Order, XPCost: h.XPCost}
	}
	return out
}

// Catalog is an ordered set of exercises.
type Catalog struct {
	exercises []*Exercise
	byID      map[string]*Exercise
	hints     map[string]hintRef
}

type hintRef struct {
	exercise *Exercise
	index    int
}

type catalogFile struct {
	Exercises []*Exercise `yaml:"exercises"`
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return NewCatalog(f.Exercises)
}

// NewCatalog validates exercises and builds a catalog from them.
func NewCatalog(exercises []*Exercise) (*Catalog, error) {
	c := &Catalog{
		byID:  make(map[string]*Exercise, len(exercises)),
		hints: make(map[string]hintRef),
	}

	var errs []string
	for i, ex := range exercises {
		if ex == nil {
			errs = append(errs, fmt.Sprintf("exercise %d: empty entry", i))
			continue
		}
		ex.Type = Type(strings.ToUpper(string(ex.Type)))
		if ex.XPReward == 0 {
			ex.XPReward = DefaultXPReward
		}

		switch {
		case ex.ID == "":
			errs = append(errs, fmt.Sprintf("exercise %d: id is required", i))
			continue
		case c.byID[ex.ID] != nil:
			errs = append(errs, fmt.Sprintf("exercise %s: duplicate id", ex.ID))
			continue
		}
		switch ex.Type {
		case TypePython, TypeSQL, TypeMCQ, TypeParsons:
		default:
			errs = append(errs, fmt.Sprintf("exercise %s: unknown type %q", ex.ID, ex.Type))
		}
		if ex.XPReward < 0 {
			errs = append(errs, fmt.Sprintf("exercise %s: xp_reward must not be negative", ex.ID))
		}
		for j, tc := range ex.Tests {
			if ex.Type == TypePython && tc.Code == "" {
				errs = append(errs, fmt.Sprintf("exercise %s: test %d: code is required", ex.ID, j))
			}
			if ex.Type == TypeSQL && tc.ExpectedQuery == "" {
				errs = append(errs, fmt.Sprintf("exercise %s: test %d: expected_query is required", ex.ID, j))
			}
		}

		sort.SliceStable(ex.Hints, func(i, j int) bool { return ex.Hints[i].Order < ex.Hints[j].Order })
		for j, h := range ex.Hints {
			switch {
			case h.ID == "":
				errs = append(errs, fmt.Sprintf("exercise %s: hint %d: id is required", ex.ID, j))
			case c.hints[h.ID].exercise != nil:
				errs = append(errs, fmt.Sprintf("exercise %s: hint %s: duplicate id", ex.ID, h.ID))
			default:
				c.hints[h.ID] = hintRef{exercise: ex, index: j}
			}
			if h.XPCost < 0 {
				errs = append(errs, fmt.Sprintf("exercise %s: hint %s: xp_cost must not be negative", ex.ID, h.ID))
			}
		}

		c.byID[ex.ID] = ex
		c.exercises = append(c.exercises, ex)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	sort.SliceStable(c.exercises, func(i, j int) bool { return c.exercises[i].Order < c.exercises[j].Order })
	return c, nil
}

// Get returns the exercise with the given ID, published or not.
func (c *Catalog) Get(id string) (*Exercise, error) {
	if ex, ok := c.byID[id]; ok {
		return ex, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Hint returns the hint with the given ID and the exercise it belongs to.
func (c *Catalog) Hint(id string) (Hint, *Exercise, error) {
	ref, ok := c.hints[id]
	if !ok {
		return Hint{}, nil, fmt.Errorf("%w: hint %s", ErrNotFound, id)
	}
	return ref.exercise.Hints[ref.index], ref.exercise, nil
}

// Published lists the published exercises in catalog order.
func (c *Catalog) Published() []*Exercise {
	out := make([]*Exercise, 0, len(c.exercises))
	for _, ex := range c.exercises {
		if ex.Published {
			out = append(out, ex)
		}
	}
	return out
}

// Len returns the number of exercises.
func (c *Catalog) Len() int {
	return len(c.exercises)
}
