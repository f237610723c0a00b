package exercise

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"exercise-runner/internal/runtime"
)

const sampleCatalog = `
exercises:
  - id: somme
    title: Somme de deux nombres
    type: python
    statement: Écrire calculer_somme(a, b).
    starter_code: |
      def calculer_somme(a, b):
          pass
    tests:
      - name: calculer_somme(5, 3)
        code: calculer_somme(5, 3)
        expected: 8
    hints:
      - id: somme-2
        content: Utiliser return, pas print.
        order: 2
        xp_cost: 5
      - id: somme-1
        content: L'opérateur + additionne deux nombres.
        order: 1
    order: 2
    published: true
  - id: villes
    title: Grandes villes
    type: SQL
    schema: CREATE TABLE villes (nom TEXT, habitants INTEGER);
    tests:
      - name: villes triées
        expected_query: SELECT nom FROM villes ORDER BY nom
    xp_reward: 25
    order: 1
    published: true
  - id: brouillon
    title: Pas encore prêt
    type: MCQ
    published: false
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}

	somme, err := c.Get("somme")
	if err != nil {
		t.Fatal(err)
	}
	if somme.Type != TypePython || somme.XPReward != 10 {
		t.Errorf("somme = %+v, want type PYTHON and default xp 10", somme)
	}
	if somme.Tests[0].Expected != 8 {
		t.Errorf("expected = %#v, want 8", somme.Tests[0].Expected)
	}
	if kind, ok := somme.Kind(); !ok || kind != runtime.KindPython {
		t.Errorf("Kind() = %v, %v", kind, ok)
	}

	villes, _ := c.Get("villes")
	if villes.XPReward != 25 || villes.Tests[0].ExpectedQuery == "" {
		t.Errorf("villes = %+v", villes)
	}

	published := c.Published()
	if len(published) != 2 || published[0].ID != "villes" || published[1].ID != "somme" {
		ids := make([]string, len(published))
		for i, ex := range published {
			ids[i] = ex.ID
		}
		t.Errorf("Published() = %v, want [villes somme]", ids)
	}

	brouillon, _ := c.Get("brouillon")
	if _, ok := brouillon.Kind(); ok {
		t.Error("MCQ exercise should have no runtime")
	}

	if _, err := c.Get("inconnu"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(inconnu) = %v, want ErrNotFound", err)
	}
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing id", "exercises:\n  - title: x\n    type: PYTHON\n", "id is required"},
		{"duplicate id", "exercises:\n  - {id: a, type: SQL}\n  - {id: a, type: SQL}\n", "duplicate id"},
		{"unknown type", "exercises:\n  - {id: a, type: JAVA}\n", "unknown type"},
		{"negative xp", "exercises:\n  - {id: a, type: SQL, xp_reward: -1}\n", "must not be negative"},
		{"python test without code", "exercises:\n  - id: a\n    type: PYTHON\n    tests:\n      - {name: t, expected: 1}\n", "code is required"},
		{"sql test without query", "exercises:\n  - id: a\n    type: SQL\n    tests:\n      - {name: t}\n", "expected_query is required"},
		{"hint without id", "exercises:\n  - id: a\n    type: MCQ\n    hints:\n      - {content: x}\n", "id is required"},
		{"duplicate hint id", "exercises:\n  - {id: a, type: MCQ, hints: [{id: h}]}\n  - {id: b, type: MCQ, hints: [{id: h}]}\n", "hint h: duplicate id"},
		{"negative hint cost", "exercises:\n  - {id: a, type: MCQ, hints: [{id: h, xp_cost: -3}]}\n", "xp_cost must not be negative"},
		{"bad yaml", "exercises: [", "parsing catalog"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestCatalog_Hint(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleCatalog))
	if err != nil {
		t.Fatal(err)
	}

	somme, _ := c.Get("somme")
	if len(somme.Hints) != 2 || somme.Hints[0].ID != "somme-1" || somme.Hints[1].ID != "somme-2" {
		t.Fatalf("hints = %+v, want ordered [somme-1 somme-2]", somme.Hints)
	}

	h, ex, err := c.Hint("somme-2")
	if err != nil {
		t.Fatalf("Hint: %v", err)
	}
	if ex.ID != "somme" || h.XPCost != 5 || !strings.HasPrefix(h.Content, "Utiliser return") {
		t.Errorf("Hint(somme-2) = %+v in %s", h, ex.ID)
	}

	if _, _, err := c.Hint("inconnu"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Hint(inconnu) = %v, want ErrNotFound", err)
	}
}

func TestPublicHidesTestDetails(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleCatalog))
	if err != nil {
		t.Fatal(err)
	}
	somme, _ := c.Get("somme")

	pub := somme.Public()
	if len(pub.Tests) != 1 || pub.Tests[0].Name != "calculer_somme(5, 3)" {
		t.Fatalf("public tests = %+v", pub.Tests)
	}
	if pub.Tests[0].Code != "" || pub.Tests[0].Expected != nil {
		t.Errorf("public test leaks details: %+v", pub.Tests[0])
	}
	if somme.Tests[0].Code == "" {
		t.Error("Public() must not modify the original")
	}
	if len(pub.Hints) != 2 || pub.Hints[0].Content != "" || pub.Hints[1].XPCost != 5 {
		t.Errorf("public hints = %+v, want costs without content", pub.Hints)
	}
	if somme.Hints[0].Content == "" {
		t.Error("Public() must not clear hint content")
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exercises.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d", c.Len())
	}

	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
