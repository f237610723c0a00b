package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"exercise-runner/internal/grading"
	"exercise-runner/internal/runtime"
	"exercise-runner/internal/submission"
)

func TestPrintReport(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	printReport(&buf, grading.Report{
		Success: true,
		Results: []grading.CheckResult{
			{Name: "somme", Passed: true},
			{Name: "produit", Expected: 6.0, Got: "6"},
			{Name: "division", Error: "ZeroDivisionError: division by zero"},
		},
	})

	out := buf.String()
	for _, want := range []string{"✓ somme", "✗ produit", "expected: 6", `got:      6`, "ZeroDivisionError", "1/3 passed, score 33"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printReport(&buf, grading.Report{Error: "SyntaxError: invalid syntax"})
	if !strings.Contains(buf.String(), "SyntaxError") {
		t.Errorf("failed report output = %q", buf.String())
	}
}

func TestReadSource_DetectsLanguage(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		file    string
		want    runtime.Kind
		wantErr bool
	}{
		{"exo.py", runtime.KindPython, false},
		{"exo.sql", runtime.KindSQL, false},
		{"exo.rb", "", true},
	}

	language = ""
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
				t.Fatal(err)
			}
			code, kind, err := readSource([]string{path})
			if (err != nil) != tt.wantErr {
				t.Fatalf("readSource error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (kind != tt.want || code != "x") {
				t.Errorf("readSource = (%q, %q)", code, kind)
			}
		})
	}
}

func TestPrintHint(t *testing.T) {
	color.NoColor = true

	tests := []struct {
		name string
		resp submission.Response
		want []string
	}{
		{"first use", submission.Response{"success": true, "content": "utilise WHERE", "xp_cost": 15.0, "remaining_xp": 5.0}, []string{"utilise WHERE", "-15 XP, 5 left"}},
		{"repeat", submission.Response{"success": true, "content": "utilise WHERE", "already_used": true}, []string{"utilise WHERE", "already revealed"}},
		{"failure", submission.Response{"success": false, "error": "hint not found"}, []string{"hint unavailable: hint not found"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printHint(&buf, tt.resp)
			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output missing %q:\n%s", want, buf.String())
				}
			}
		})
	}
}
