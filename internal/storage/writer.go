package storage

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// AuditWriter persists execution records off the request path. Records are
// buffered and written by a single goroutine with retry and backoff.
type AuditWriter struct {
	sink    ExecutionLogger
	ch      chan *Execution
	wg      sync.WaitGroup
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64

	maxRetries  int
	baseBackoff time.Duration
}

func NewAuditWriter(sink ExecutionLogger, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		sink:        sink,
		ch:          make(chan *Execution, bufferSize),
		done:        make(chan struct{}),
		maxRetries:  3,
		baseBackoff: 100 * time.Millisecond,
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log queues exec for writing. It never blocks; a full buffer drops the record.
func (w *AuditWriter) Log(exec *Execution) {
	if w == nil {
		return
	}
	select {
	case w.ch <- exec:
	default:
		w.dropped.Add(1)
		log.Warn().Str("exec_id", exec.ID).Msg("audit buffer full, dropping log entry")
	}
}

// Dropped returns how many records were discarded because the buffer was full.
func (w *AuditWriter) Dropped() int64 {
	return w.dropped.Load()
}

// Flush stops accepting work and waits up to timeout for queued records.
func (w *AuditWriter) Flush(timeout time.Duration) {
	w.once.Do(func() { close(w.done) })

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case exec := <-w.ch:
			w.writeWithRetry(exec)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case exec := <-w.ch:
					w.writeWithRetry(exec)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) writeWithRetry(exec *Execution) {
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.sink.LogExecution(ctx, exec)
		cancel()

		if err == nil {
			return
		}

		if attempt < w.maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * w.baseBackoff
			log.Warn().
				Err(err).
				Str("exec_id", exec.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("exec_id", exec.ID).
				Msg("audit write failed permanently after retries")
		}
	}
}
