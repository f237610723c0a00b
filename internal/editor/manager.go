// Package editor drives a code-editing widget: one active editor at a time,
// with per-mode options, run keybindings and snippet completions.
package editor

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager owns the active editor widget. Calls made while no editor is
// active are no-ops.
type Manager struct {
	factory     Factory
	completions Completions
	theme       string
	fontSize    int

	mu     sync.Mutex
	widget Widget
	mode   Mode
	onRun  func()
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCompletions replaces the built-in snippet table.
func WithCompletions(c Completions) ManagerOption {
	return func(m *Manager) { m.completions = c }
}

// WithAppearance sets the initial theme and font size.
func WithAppearance(theme string, fontSize int) ManagerOption {
	return func(m *Manager) {
		m.theme = theme
		m.fontSize = fontSize
	}
}

// NewManager creates a manager that builds widgets with factory.
func NewManager(factory Factory, opts ...ManagerOption) *Manager {
	m := &Manager{
		factory:  factory,
		theme:    DefaultTheme,
		fontSize: DefaultFontSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.completions == nil {
		m.completions = DefaultCompletions()
	}
	return m
}

// OnRun sets the callback invoked by the run keybindings.
func (m *Manager) OnRun(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRun = fn
}

// Create builds a new editor in containerID and makes it the active one. A
// previously active editor is disposed.
func (m *Manager) Create(containerID, language, initialCode string) (Widget, error) {
	mode := ModeFor(language)
	w, err := m.factory(containerID, NewOptions(mode, initialCode, m.theme, m.fontSize))
	if err != nil {
		return nil, fmt.Errorf("creating editor in %q: %w", containerID, err)
	}

	m.mu.Lock()
	prev := m.widget
	m.widget, m.mode = w, mode
	m.mu.Unlock()

	if prev != nil {
		prev.Dispose()
	}
	log.Debug().Str("container", containerID).Str("mode", string(mode)).Msg("editor created")
	return w, nil
}

// Value returns the active editor's code, or "" when there is none.
func (m *Manager) Value() string {
	if w := m.active(); w != nil {
		return w.Value()
	}
	return ""
}

func (m *Manager) SetValue(code string) {
	if w := m.active(); w != nil {
		w.SetValue(code)
	}
}

// Resize re-runs the editor layout, e.g. after the window changed size.
func (m *Manager) Resize() {
	if w := m.active(); w != nil {
		w.Layout()
	}
}

// SetTheme switches the editor theme. An empty theme selects vs-dark.
func (m *Manager) SetTheme(theme string) {
	if theme == "" {
		theme = DefaultTheme
	}
	if w := m.active(); w != nil {
		w.SetTheme(theme)
	}
}

// Dispose releases the active editor. Calling it again does nothing.
func (m *Manager) Dispose() {
	m.mu.Lock()
	w := m.widget
	m.widget = nil
	m.mu.Unlock()

	if w != nil {
		w.Dispose()
	}
}

// Press handles a key chord on the active editor and reports whether it
// was bound.
func (m *Manager) Press(chord string) bool {
	m.mu.Lock()
	active, run := m.widget != nil, m.onRun
	m.mu.Unlock()
	if !active {
		return false
	}

	for _, kb := range Keybindings() {
		if kb.Chord != chord {
			continue
		}
		if kb.Command == CommandRun && run != nil {
			run()
		}
		return true
	}
	return false
}

// Bundle is everything a browser widget needs to set itself up.
type Bundle struct {
	Options     Options      `json:"options"`
	Keybindings []Keybinding `json:"keybindings"`
	Completions []Completion `json:"completions"`
}

// Config returns the setup bundle for language.
func (m *Manager) Config(language string) Bundle {
	mode := ModeFor(language)
	return Bundle{
		Options:     NewOptions(mode, "", m.theme, m.fontSize),
		Keybindings: Keybindings(),
		Completions: m.completions.For(mode),
	}
}

func (m *Manager) active() Widget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.widget
}
