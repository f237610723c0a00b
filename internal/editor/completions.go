package editor

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed completions.yaml
var defaultCompletions []byte

// Completion is one snippet offered by the editor.
type Completion struct {
	Label           string `yaml:"label" json:"label"`
	Kind            string `yaml:"kind" json:"kind"`
	InsertText      string `yaml:"insert_text" json:"insertText"`
	InsertAsSnippet bool   `yaml:"-" json:"insertAsSnippet"`
	Documentation   string `yaml:"documentation" json:"documentation"`
}

// Completions is the snippet table keyed by mode.
type Completions map[Mode][]Completion

// For returns the snippets of mode, never nil.
func (c Completions) For(mode Mode) []Completion {
	if items, ok := c[mode]; ok {
		return items
	}
	return []Completion{}
}

// DefaultCompletions returns the built-in snippet table.
func DefaultCompletions() Completions {
	c, err := parseCompletions(defaultCompletions)
	if err != nil {
		panic(fmt.Sprintf("editor: embedded completions: %v", err))
	}
	return c
}

// LoadCompletions reads a snippet table from a YAML file.
func LoadCompletions(path string) (Completions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading completions file: %w", err)
	}
	return parseCompletions(data)
}

func parseCompletions(data []byte) (Completions, error) {
	var c Completions
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing completions: %w", err)
	}
	for mode, items := range c {
		for i := range items {
			if items[i].Label == "" || items[i].InsertText == "" {
				return nil, fmt.Errorf("completion %d of %s: label and insert_text are required", i, mode)
			}
			items[i].InsertAsSnippet = true
		}
	}
	return c, nil
}
