package runtime

import "fmt"

// Kind identifies a language runtime managed by a Session.
type Kind string

const (
	KindPython Kind = "python"
	KindSQL    Kind = "sql"
)

// kindAliases accepts both exercise type names and editor language ids.
var kindAliases = map[string]Kind{
	"PYTHON": KindPython,
	"python": KindPython,
	"SQL":    KindSQL,
	"sql":    KindSQL,
}

// ParseKind maps an exercise type or language name to a Kind.
func ParseKind(name string) (Kind, error) {
	k, ok := kindAliases[name]
	if !ok {
		return "", fmt.Errorf("%w: %q (supported: python, sql)", ErrUnsupportedKind, name)
	}
	return k, nil
}

// Kinds returns every runtime kind a Session can load.
func Kinds() []Kind {
	return []Kind{KindPython, KindSQL}
}

func (k Kind) String() string { return string(k) }
