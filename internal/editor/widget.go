package editor

import "sync"

// Widget is a code-editing surface.
type Widget interface {
	Value() string
	SetValue(code string)
	Layout()
	SetTheme(theme string)
	Dispose()
}

// Factory creates a widget inside the named container.
type Factory func(containerID string, opts Options) (Widget, error)

// Buffer is an in-memory Widget used by the CLI and tests.
type Buffer struct {
	mu        sync.Mutex
	container string
	opts      Options
	value     string
	layouts   int
	disposed  bool
}

// NewBuffer is a Factory that returns a *Buffer.
func NewBuffer(containerID string, opts Options) (Widget, error) {
	return &Buffer{container: containerID, opts: opts, value: opts.Value}, nil
}

func (b *Buffer) Value() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

func (b *Buffer) SetValue(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = code
}

func (b *Buffer) Layout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.layouts++
}

func (b *Buffer) SetTheme(theme string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts.Theme = theme
}

func (b *Buffer) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disposed = true
}

// Container returns the container the buffer was created in.
func (b *Buffer) Container() string { return b.container }

// Options returns the current options.
func (b *Buffer) Options() Options {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts
}

// Layouts returns how many times Layout was called.
func (b *Buffer) Layouts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.layouts
}

// Disposed reports whether Dispose was called.
func (b *Buffer) Disposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}
