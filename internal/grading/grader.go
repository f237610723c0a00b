// Package grading runs exercise tests against user code and compares the
// results with an explicit Policy.
package grading

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"exercise-runner/internal/execution"
	"exercise-runner/internal/monitor"
	"exercise-runner/internal/runtime"
)

// TestCase is one check of an exercise. Python checks set Code, an
// expression evaluated after the user's code; SQL checks set ExpectedQuery,
// whose result must match the user's query result.
type TestCase struct {
	Name          string `json:"name" yaml:"name"`
	Code          string `json:"code,omitempty" yaml:"code,omitempty"`
	ExpectedQuery string `json:"expectedQuery,omitempty" yaml:"expected_query,omitempty"`
	Expected      any    `json:"expected,omitempty" yaml:"expected,omitempty"`
}

// CheckResult is the outcome of one TestCase.
type CheckResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Expected any    `json:"expected,omitempty"`
	Got      any    `json:"got,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Report is the outcome of a test run. When the user's code itself fails,
// Success is false and only Error is set.
type Report struct {
	Success   bool
	AllPassed bool
	Results   []CheckResult
	Error     string
}

func (r Report) MarshalJSON() ([]byte, error) {
	if !r.Success {
		return json.Marshal(struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}{false, r.Error})
	}
	results := r.Results
	if results == nil {
		results = []CheckResult{}
	}
	return json.Marshal(struct {
		Success   bool          `json:"success"`
		AllPassed bool          `json:"allPassed"`
		Results   []CheckResult `json:"results"`
	}{true, r.AllPassed, results})
}

// Passed returns how many checks passed.
func (r Report) Passed() int {
	n := 0
	for _, res := range r.Results {
		if res.Passed {
			n++
		}
	}
	return n
}

// Score is the percentage of passed checks, rounded down. An empty test
// list scores 100; a failed run scores 0.
func (r Report) Score() int {
	if !r.Success {
		return 0
	}
	if len(r.Results) == 0 {
		return 100
	}
	return r.Passed() * 100 / len(r.Results)
}

func failedReport(msg string) Report {
	return Report{Success: false, Error: msg}
}

// Grader runs test cases through an Executor.
type Grader struct {
	exec    *execution.Executor
	metrics *monitor.Metrics
	tracer  *monitor.Tracer
}

// NewGrader creates a grader. metrics may be nil.
func NewGrader(exec *execution.Executor, metrics *monitor.Metrics) *Grader {
	return &Grader{
		exec:    exec,
		metrics: metrics,
		tracer:  monitor.NewTracer(),
	}
}

// Run dispatches to the test runner for kind.
func (g *Grader) Run(ctx context.Context, kind runtime.Kind, code string, tests []TestCase) Report {
	switch kind {
	case runtime.KindPython:
		return g.RunPythonTests(ctx, code, tests)
	case runtime.KindSQL:
		return g.RunSQLTests(ctx, code, tests)
	default:
		return failedReport(fmt.Sprintf("%s: %s", runtime.ErrUnsupportedKind, kind))
	}
}

// RunPythonTests runs code once, then evaluates each test expression in the
// same namespace and compares its value with PythonPolicy.
func (g *Grader) RunPythonTests(ctx context.Context, code string, tests []TestCase) Report {
	ctx, span := g.tracer.StartSpan(ctx, "python_tests", monitor.AttrChecks.Int(len(tests)))
	defer span.End()

	if res := g.exec.RunPython(ctx, code); !res.Success {
		return failedReport(res.ErrorText())
	}
	interp, err := g.exec.Session().Python(ctx)
	if err != nil {
		return failedReport(runtime.Message(err))
	}

	report := Report{Success: true, AllPassed: true, Results: make([]CheckResult, 0, len(tests))}
	for i, tc := range tests {
		check := CheckResult{Name: checkName(tc, i)}

		value, err := g.eval(ctx, interp, tc.Code)
		if err != nil {
			check.Error = runtime.Message(err)
		} else {
			check.Expected = tc.Expected
			check.Got = value.Native()
			check.Passed = PythonPolicy.Equal(value, tc.Expected)
		}

		g.record(runtime.KindPython, &report, check)

		// A dead interpreter cannot run later checks; fetch a fresh one.
		if !interp.Alive() {
			if interp, err = g.exec.Session().Python(ctx); err != nil {
				return failedReport(runtime.Message(err))
			}
		}
	}

	span.SetAttributes(monitor.AttrPassed.Int(report.Passed()))
	return report
}

// RunSQLTests runs query once, then runs each test's expected query and
// compares both result sets with SQLPolicy.
func (g *Grader) RunSQLTests(ctx context.Context, query string, tests []TestCase) Report {
	ctx, span := g.tracer.StartSpan(ctx, "sql_tests", monitor.AttrChecks.Int(len(tests)))
	defer span.End()

	user := g.exec.RunSQL(ctx, query)
	if !user.Success {
		return failedReport(user.ErrorText())
	}
	got := user.Result
	if got == nil {
		got = []runtime.ResultSet{}
	}

	report := Report{Success: true, AllPassed: true, Results: make([]CheckResult, 0, len(tests))}
	for i, tc := range tests {
		check := CheckResult{Name: checkName(tc, i)}

		expected, err := g.query(ctx, tc.ExpectedQuery)
		if err != nil {
			check.Error = runtime.Message(err)
		} else {
			check.Expected = expected
			check.Got = got
			check.Passed = SQLPolicy.Equal(got, expected)
		}

		g.record(runtime.KindSQL, &report, check)
	}

	span.SetAttributes(monitor.AttrPassed.Int(report.Passed()))
	return report
}

func (g *Grader) eval(ctx context.Context, interp *runtime.Interpreter, code string) (runtime.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, g.exec.Timeout())
	defer cancel()
	return interp.Eval(ctx, code)
}

func (g *Grader) query(ctx context.Context, query string) ([]runtime.ResultSet, error) {
	ctx, cancel := context.WithTimeout(ctx, g.exec.Timeout())
	defer cancel()

	db, err := g.exec.Session().Database(ctx)
	if err != nil {
		return nil, err
	}
	return db.Exec(ctx, query)
}

func (g *Grader) record(kind runtime.Kind, report *Report, check CheckResult) {
	if !check.Passed {
		report.AllPassed = false
	}
	report.Results = append(report.Results, check)
	g.metrics.RecordCheck(kind.String(), check.Passed)

	log.Debug().
		Str("kind", kind.String()).
		Str("check", check.Name).
		Bool("passed", check.Passed).
		Str("error", check.Error).
		Msg("check evaluated")
}

func checkName(tc TestCase, i int) string {
	if tc.Name != "" {
		return tc.Name
	}
	return fmt.Sprintf("Test %d", i+1)
}

