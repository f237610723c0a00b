package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func startTestInterpreter(t *testing.T) *Interpreter {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	i, err := StartInterpreter(context.Background(), PythonConfig{StartTimeout: 20 * time.Second})
	if err != nil {
		t.Fatalf("StartInterpreter: %v", err)
	}
	t.Cleanup(func() { i.Close() })
	return i
}

func TestInterpreter_ExecCapturesStdout(t *testing.T) {
	i := startTestInterpreter(t)

	out, err := i.Exec(context.Background(), "print('bonjour')\nprint(1 + 2)")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if out != "bonjour\n3\n" {
		t.Errorf("output = %q, want %q", out, "bonjour\n3\n")
	}
}

func TestInterpreter_NamespacePersists(t *testing.T) {
	i := startTestInterpreter(t)
	ctx := context.Background()

	if _, err := i.Exec(ctx, "def calculer_somme(a, b):\n    return a + b"); err != nil {
		t.Fatal(err)
	}
	v, err := i.Eval(ctx, "calculer_somme(5, 3)")
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := v.Native().(json.Number); !ok || got != "8" {
		t.Errorf("Native() = %#v, want 8", v.Native())
	}
	if v.Type != "int" || v.Text != "8" {
		t.Errorf("Type/Text = %q/%q, want int/8", v.Type, v.Text)
	}
}

func TestInterpreter_EvalNonJSONValueFallsBackToText(t *testing.T) {
	i := startTestInterpreter(t)

	v, err := i.Eval(context.Background(), "{1, 2}")
	if err != nil {
		t.Fatal(err)
	}
	if v.JSON != nil {
		t.Errorf("JSON = %s, want nil for a set", v.JSON)
	}
	if v.Native() != "{1, 2}" {
		t.Errorf("Native() = %#v, want text form", v.Native())
	}
}

func TestInterpreter_EvalWithoutTrailingExpression(t *testing.T) {
	i := startTestInterpreter(t)

	v, err := i.Eval(context.Background(), "x = 4")
	if err != nil {
		t.Fatal(err)
	}
	if v.Native() != nil {
		t.Errorf("Native() = %#v, want nil", v.Native())
	}
}

func TestInterpreter_ExceptionIsExecError(t *testing.T) {
	i := startTestInterpreter(t)

	_, err := i.Exec(context.Background(), "1 / 0")
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("error = %v, want ErrExecution", err)
	}
	if !strings.Contains(err.Error(), "ZeroDivisionError") {
		t.Errorf("error = %q, want ZeroDivisionError", err.Error())
	}

	// The interpreter survives user exceptions.
	if _, err := i.Exec(context.Background(), "pass"); err != nil {
		t.Errorf("Exec after exception: %v", err)
	}
}

func TestInterpreter_TimeoutKillsProcess(t *testing.T) {
	i := startTestInterpreter(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := i.Exec(ctx, "while True:\n    pass"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
	if i.Alive() {
		t.Error("interpreter should be dead after a timeout")
	}
}

func TestStartInterpreter_MissingBinary(t *testing.T) {
	_, err := StartInterpreter(context.Background(), PythonConfig{Command: []string{"definitely-not-python"}})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestStartInterpreter_LauncherReleasesOnExit(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	var launches, releases int
	cfg := PythonConfig{
		StartTimeout: 20 * time.Second,
		Launcher: func() ([]string, func()) {
			launches++
			return []string{"python3"}, func() { releases++ }
		},
	}
	i, err := StartInterpreter(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartInterpreter: %v", err)
	}
	if out, err := i.Exec(context.Background(), "print('ok')"); err != nil || out != "ok\n" {
		t.Fatalf("Exec = %q, %v", out, err)
	}
	i.Close()

	if launches != 1 || releases != 1 {
		t.Errorf("launches = %d, releases = %d, want 1 and 1", launches, releases)
	}
}

func TestStartInterpreter_LauncherReleasedWhenMissing(t *testing.T) {
	released := false
	cfg := PythonConfig{
		Launcher: func() ([]string, func()) {
			return []string{"definitely-not-an-engine"}, func() { released = true }
		},
	}
	if _, err := StartInterpreter(context.Background(), cfg); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if !released {
		t.Error("release not called after a failed start")
	}
}

func TestInterpreter_EvalLargeIntKeepsDigits(t *testing.T) {
	i := startTestInterpreter(t)

	v, err := i.Eval(context.Background(), "2**64 + 1")
	if err != nil {
		t.Fatal(err)
	}
	if got := v.Native(); got != json.Number("18446744073709551617") {
		t.Errorf("Native() = %#v, want 18446744073709551617", got)
	}
}
