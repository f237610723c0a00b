// Package execution runs user code against the session runtimes and
// reports the outcome as a Result. Runtime failures never escape as Go
// errors; they become unsuccessful results.
package execution

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"exercise-runner/internal/monitor"
	"exercise-runner/internal/runtime"
	"exercise-runner/internal/storage"
)

// DefaultTimeout bounds a single execution when none is configured.
const DefaultTimeout = 10 * time.Second

// Result is the outcome of one execution.
type Result struct {
	Success      bool                `json:"success"`
	Output       *string             `json:"output"`
	Error        *string             `json:"error"`
	Result       []runtime.ResultSet `json:"result,omitempty"`
	RowsAffected *int64              `json:"rowsAffected,omitempty"`
	Message      string              `json:"message,omitempty"`
}

// ErrorText returns the error message, or "" for a successful result.
func (r Result) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// OutputText returns the captured output, or "".
func (r Result) OutputText() string {
	if r.Output == nil {
		return ""
	}
	return *r.Output
}

func failure(msg string) Result {
	return Result{Success: false, Error: &msg}
}

// AuditSink receives a record of every execution.
type AuditSink interface {
	Log(exec *storage.Execution)
}

// Option configures an Executor.
type Option func(*Executor)

// WithMetrics records executions in m.
func WithMetrics(m *monitor.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithTracer wraps executions in spans from t.
func WithTracer(t *monitor.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithTimeout bounds every execution by d.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithAudit sends an execution record to sink after every run.
func WithAudit(sink AuditSink) Option {
	return func(e *Executor) { e.audit = sink }
}

// Executor runs code against a runtime.Session.
type Executor struct {
	session *runtime.Session
	metrics *monitor.Metrics
	tracer  *monitor.Tracer
	audit   AuditSink
	timeout time.Duration
}

// NewExecutor creates an executor for session.
func NewExecutor(session *runtime.Session, opts ...Option) *Executor {
	e := &Executor{
		session: session,
		tracer:  monitor.NewTracer(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Session returns the runtime session the executor runs against.
func (e *Executor) Session() *runtime.Session {
	return e.session
}

// Timeout returns the per-execution time limit.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Run dispatches code to the runtime of the given kind.
func (e *Executor) Run(ctx context.Context, kind runtime.Kind, code string) Result {
	switch kind {
	case runtime.KindPython:
		return e.RunPython(ctx, code)
	case runtime.KindSQL:
		return e.RunSQL(ctx, code)
	default:
		return failure(fmt.Sprintf("%s: %s", runtime.ErrUnsupportedKind, kind))
	}
}

// RunPython runs code in the session interpreter and returns what it
// printed. Globals it defines stay visible to later runs.
func (e *Executor) RunPython(ctx context.Context, code string) Result {
	return e.execute(ctx, runtime.KindPython, code, func(ctx context.Context) (Result, error) {
		interp, err := e.session.Python(ctx)
		if err != nil {
			return Result{}, err
		}
		out, err := interp.Exec(ctx, code)
		if err != nil {
			return Result{}, err
		}
		return Result{Success: true, Output: &out}, nil
	})
}

// RunSQL runs query against the session database. The result holds one
// entry per statement that returned rows, and the row count of the most
// recent insert, update or delete.
func (e *Executor) RunSQL(ctx context.Context, query string) Result {
	return e.execute(ctx, runtime.KindSQL, query, func(ctx context.Context) (Result, error) {
		db, err := e.session.Database(ctx)
		if err != nil {
			return Result{}, err
		}
		sets, err := db.Exec(ctx, query)
		if err != nil {
			return Result{}, err
		}
		rows := db.RowsModified()
		return Result{Success: true, Result: sets, RowsAffected: &rows}, nil
	})
}

// InitDatabase replaces the session database with a fresh one built from
// schema.
func (e *Executor) InitDatabase(ctx context.Context, schema string) Result {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ctx, span := e.tracer.StartSpan(ctx, "init_database", monitor.AttrKind.String(runtime.KindSQL.String()))
	err := e.session.InitDatabase(ctx, schema)
	monitor.EndSpan(span, err)

	if err != nil {
		log.Warn().Err(err).Msg("database initialization failed")
		e.metrics.RecordError(errorType(err))
		return failure(runtime.Message(err))
	}
	return Result{Success: true, Message: "Database initialized"}
}

func (e *Executor) execute(ctx context.Context, kind runtime.Kind, code string, fn func(context.Context) (Result, error)) Result {
	execID := uuid.New().String()
	codeHash := fmt.Sprintf("%x", sha256.Sum256([]byte(code)))
	logger := log.With().
		Str("exec_id", execID).
		Str("kind", kind.String()).
		Str("code_hash", codeHash[:12]).
		Logger()

	if e.metrics != nil {
		e.metrics.CodeSizeBytes.Observe(float64(len(code)))
		e.metrics.ActiveExecutions.Inc()
		defer e.metrics.ActiveExecutions.Dec()
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ctx, span := e.tracer.StartSpan(ctx, "execute",
		monitor.AttrExecID.String(execID),
		monitor.AttrKind.String(kind.String()),
		monitor.AttrCodeHash.String(codeHash),
	)

	start := time.Now()
	res, err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = errorType(err)
		res = failure(errorMessage(err, e.timeout))
		e.metrics.RecordError(status)
		logExecutionError(logger, err, status)
	} else {
		logger.Debug().Dur("duration", duration).Msg("execution completed")
	}

	span.SetAttributes(
		monitor.AttrSuccess.Bool(res.Success),
		monitor.AttrDurationMS.Int64(duration.Milliseconds()),
	)
	monitor.EndSpan(span, err)

	e.metrics.RecordExecution(kind.String(), status, duration.Seconds())
	if e.metrics != nil {
		e.metrics.OutputSizeBytes.Observe(float64(len(res.OutputText())))
	}

	e.record(execID, kind, codeHash, status, res, start, duration)
	return res
}

func (e *Executor) record(execID string, kind runtime.Kind, codeHash, status string, res Result, start time.Time, d time.Duration) {
	if e.audit == nil {
		return
	}
	completedAt := start.Add(d)
	rec := &storage.Execution{
		ID:          execID,
		Kind:        kind.String(),
		CodeHash:    codeHash,
		Success:     res.Success,
		Output:      res.OutputText(),
		Error:       res.ErrorText(),
		DurationMS:  d.Milliseconds(),
		Status:      status,
		CreatedAt:   start,
		CompletedAt: &completedAt,
	}
	if res.RowsAffected != nil {
		rec.RowsAffected = *res.RowsAffected
	}
	e.audit.Log(rec)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case runtime.IsUnavailable(err):
		return "unavailable"
	case errors.Is(err, runtime.ErrExecution):
		return "error"
	default:
		return "internal"
	}
}

func errorMessage(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("execution timed out after %s", timeout)
	}
	return runtime.Message(err)
}

func logExecutionError(logger zerolog.Logger, err error, status string) {
	ev := logger.Warn()
	if status == "error" {
		// User code raised; expected during exercises.
		ev = logger.Debug()
	}
	ev.Err(err).Str("status", status).Msg("execution failed")
}
