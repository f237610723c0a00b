package editor

// Mode is the editor language mode.
type Mode string

const (
	ModePython Mode = "python"
	ModeSQL    Mode = "sql"
)

var modes = map[string]Mode{
	"PYTHON": ModePython,
	"SQL":    ModeSQL,
	"python": ModePython,
	"sql":    ModeSQL,
}

// ModeFor maps an exercise type or language name to an editor mode.
// Unknown names fall back to Python.
func ModeFor(language string) Mode {
	if m, ok := modes[language]; ok {
		return m
	}
	return ModePython
}

const (
	DefaultTheme    = "vs-dark"
	DefaultFontSize = 14
)

// Options is the option set handed to the widget at creation.
type Options struct {
	Value                      string    `json:"value"`
	Language                   Mode      `json:"language"`
	Theme                      string    `json:"theme"`
	AutomaticLayout            bool      `json:"automaticLayout"`
	Minimap                    Minimap   `json:"minimap"`
	FontSize                   int       `json:"fontSize"`
	LineNumbers                string    `json:"lineNumbers"`
	RoundedSelection           bool      `json:"roundedSelection"`
	ScrollBeyondLastLine       bool      `json:"scrollBeyondLastLine"`
	ReadOnly                   bool      `json:"readOnly"`
	CursorStyle                string    `json:"cursorStyle"`
	WordWrap                   string    `json:"wordWrap"`
	WrappingIndent             string    `json:"wrappingIndent"`
	FormatOnPaste              bool      `json:"formatOnPaste"`
	FormatOnType               bool      `json:"formatOnType"`
	SuggestOnTriggerCharacters bool      `json:"suggestOnTriggerCharacters"`
	AcceptSuggestionOnEnter    string    `json:"acceptSuggestionOnEnter"`
	TabCompletion              string    `json:"tabCompletion"`
	QuickSuggestions           bool      `json:"quickSuggestions"`
	SnippetSuggestions         string    `json:"snippetSuggestions"`
	Scrollbar                  Scrollbar `json:"scrollbar"`
	Suggest                    *Suggest  `json:"suggest,omitempty"`
}

type Minimap struct {
	Enabled bool `json:"enabled"`
}

type Scrollbar struct {
	Vertical                string `json:"vertical"`
	Horizontal              string `json:"horizontal"`
	UseShadows              bool   `json:"useShadows"`
	VerticalScrollbarSize   int    `json:"verticalScrollbarSize"`
	HorizontalScrollbarSize int    `json:"horizontalScrollbarSize"`
}

// Suggest enables the extra suggestion sources used in Python mode.
type Suggest struct {
	ShowWords     bool `json:"showWords"`
	ShowFunctions bool `json:"showFunctions"`
	ShowVariables bool `json:"showVariables"`
}

// NewOptions returns the option set for mode. An empty theme or a
// non-positive font size takes the default.
func NewOptions(mode Mode, value, theme string, fontSize int) Options {
	if theme == "" {
		theme = DefaultTheme
	}
	if fontSize <= 0 {
		fontSize = DefaultFontSize
	}
	opts := Options{
		Value:                      value,
		Language:                   mode,
		Theme:                      theme,
		AutomaticLayout:            true,
		FontSize:                   fontSize,
		LineNumbers:                "on",
		CursorStyle:                "line",
		WordWrap:                   "on",
		WrappingIndent:             "indent",
		FormatOnPaste:              true,
		FormatOnType:               true,
		SuggestOnTriggerCharacters: true,
		AcceptSuggestionOnEnter:    "on",
		TabCompletion:              "on",
		QuickSuggestions:           true,
		SnippetSuggestions:         "inline",
		Scrollbar: Scrollbar{
			Vertical:                "visible",
			Horizontal:              "visible",
			VerticalScrollbarSize:   10,
			HorizontalScrollbarSize: 10,
		},
	}
	if mode == ModePython {
		opts.Suggest = &Suggest{ShowWords: true, ShowFunctions: true, ShowVariables: true}
	}
	return opts
}

// Keybinding binds a key chord to an editor command.
type Keybinding struct {
	Chord   string `json:"chord"`
	Command string `json:"command"`
}

// CommandRun runs the exercise tests.
const CommandRun = "run"

// Keybindings returns the chords registered on every editor.
func Keybindings() []Keybinding {
	return []Keybinding{
		{Chord: "CtrlCmd+Enter", Command: CommandRun},
		{Chord: "CtrlCmd+KeyS", Command: CommandRun},
	}
}
