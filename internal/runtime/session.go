package runtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// LoadObserver is notified after every runtime load attempt.
type LoadObserver interface {
	ObserveLoad(kind Kind, d time.Duration, err error)
}

// Option configures a Session.
type Option func(*Session)

// WithLoadObserver reports runtime loads to o.
func WithLoadObserver(o LoadObserver) Option {
	return func(s *Session) { s.observer = o }
}

// Session holds the runtime handles shared by every operation of one
// process. Handles are created lazily on first use. Concurrent first calls
// share a single in-flight load.
//
// Session does not serialize work on a handle: two callers may interleave
// statements on the same interpreter namespace or database.
type Session struct {
	pythonCfg PythonConfig
	sqlCfg    SQLConfig
	observer  LoadObserver

	startPython func(context.Context, PythonConfig) (*Interpreter, error)
	openSQL     func(context.Context, SQLConfig) (*Database, error)

	loads singleflight.Group

	mu     sync.Mutex
	interp *Interpreter
	db     *Database
	closed bool
}

// NewSession creates a session. Nothing is loaded until first use.
func NewSession(py PythonConfig, sq SQLConfig, opts ...Option) *Session {
	s := &Session{
		pythonCfg:   py,
		sqlCfg:      sq,
		startPython: StartInterpreter,
		openSQL:     OpenDatabase,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ensure loads the runtime of the given kind if it is not loaded yet.
func (s *Session) Ensure(ctx context.Context, kind Kind) error {
	var err error
	switch kind {
	case KindPython:
		_, err = s.Python(ctx)
	case KindSQL:
		_, err = s.Database(ctx)
	default:
		err = &Error{Kind: kind, Op: "load", Err: ErrUnsupportedKind}
	}
	return err
}

// Python returns the session interpreter, starting it if needed. An
// interpreter whose process has exited is replaced.
func (s *Session) Python(ctx context.Context) (*Interpreter, error) {
	if i := s.livePython(); i != nil {
		return i, nil
	}

	v, err := s.load(ctx, KindPython, func(ctx context.Context) (any, error) {
		if i := s.livePython(); i != nil {
			return i, nil
		}
		i, err := s.startPython(ctx, s.pythonCfg)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			_ = i.Close()
			return nil, ErrClosed
		}
		stale := s.interp
		s.interp = i
		if stale != nil {
			go stale.Close()
		}
		return i, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Interpreter), nil
}

// Database returns the session database, opening an empty one if needed.
func (s *Session) Database(ctx context.Context) (*Database, error) {
	if db := s.currentDatabase(); db != nil {
		return db, nil
	}

	v, err := s.load(ctx, KindSQL, func(ctx context.Context) (any, error) {
		if db := s.currentDatabase(); db != nil {
			return db, nil
		}
		db, err := s.openSQL(ctx, s.sqlCfg)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			_ = db.Close()
			return nil, ErrClosed
		}
		s.db = db
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Database), nil
}

// InitDatabase replaces the session database with a fresh one and runs
// schema against it. The previous database is discarded.
func (s *Session) InitDatabase(ctx context.Context, schema string) error {
	db, err := s.openSQL(ctx, s.sqlCfg)
	if err != nil {
		return &Error{Kind: KindSQL, Op: "init", Err: err}
	}

	if strings.TrimSpace(schema) != "" {
		if _, err := db.Exec(ctx, schema); err != nil {
			_ = db.Close()
			return &Error{Kind: KindSQL, Op: "schema", Err: err}
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = db.Close()
		return &Error{Kind: KindSQL, Op: "init", Err: ErrClosed}
	}
	old := s.db
	s.db = db
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			log.Warn().Err(err).Msg("closing previous database")
		}
	}

	log.Info().Int("schema_bytes", len(schema)).Msg("database initialized")
	return nil
}

// Close releases every loaded runtime. Later loads fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	interp, db := s.interp, s.db
	s.interp, s.db = nil, nil
	s.mu.Unlock()

	if interp != nil {
		_ = interp.Close()
	}
	if db != nil {
		return db.Close()
	}
	return nil
}

// load runs fn at most once per kind at a time. The load itself is not
// tied to the first caller's cancellation; a caller whose ctx ends stops
// waiting without aborting the load for the others.
func (s *Session) load(ctx context.Context, kind Kind, fn func(context.Context) (any, error)) (any, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, &Error{Kind: kind, Op: "load", Err: ErrClosed}
	}

	ch := s.loads.DoChan(string(kind), func() (any, error) {
		start := time.Now()
		v, err := fn(context.WithoutCancel(ctx))
		elapsed := time.Since(start)

		if s.observer != nil {
			s.observer.ObserveLoad(kind, elapsed, err)
		}
		if err != nil {
			log.Error().Err(err).Str("kind", kind.String()).Msg("runtime load failed")
			return nil, &Error{Kind: kind, Op: "load", Err: err}
		}
		log.Info().Str("kind", kind.String()).Dur("duration", elapsed).Msg("runtime loaded")
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, &Error{Kind: kind, Op: "load", Err: ctx.Err()}
	}
}

func (s *Session) livePython() *Interpreter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interp != nil && s.interp.Alive() {
		return s.interp
	}
	return nil
}

func (s *Session) currentDatabase() *Database {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}
