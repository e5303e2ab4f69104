package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Recorder persists compilation records. *DB implements it.
type Recorder interface {
	LogCompilation(ctx context.Context, c *Compilation) error
}

// AuditWriter persists compilation records off the compile path. The CLI
// queues the record of its single run and flushes before exiting; the flush
// deadline also bounds any retry still in progress.
type AuditWriter struct {
	rec     Recorder
	ch      chan *Compilation
	stopped chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	retries int
	backoff time.Duration
}

func NewAuditWriter(rec Recorder, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AuditWriter{
		rec:     rec,
		ch:      make(chan *Compilation, bufferSize),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		retries: 3,
		backoff: 100 * time.Millisecond,
	}
}

func (w *AuditWriter) Start() {
	go w.run()
}

// Log queues c without blocking. A full queue drops the record.
func (w *AuditWriter) Log(c *Compilation) {
	select {
	case w.ch <- c:
	default:
		log.Warn().Str("run_id", c.ID).Msg("audit buffer full, dropping record")
	}
}

// Flush stops accepting records and waits up to timeout for the queue to
// drain. Records still pending at the deadline are abandoned.
func (w *AuditWriter) Flush(timeout time.Duration) bool {
	close(w.ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.stopped:
		log.Debug().Msg("audit writer flushed")
		return true
	case <-timer.C:
		w.cancel()
		log.Warn().Dur("timeout", timeout).Msg("audit flush timed out, abandoning pending records")
		return false
	}
}

func (w *AuditWriter) run() {
	defer close(w.stopped)
	defer w.cancel()

	for c := range w.ch {
		w.write(c)
	}
}

func (w *AuditWriter) write(c *Compilation) {
	logger := log.With().Str("run_id", c.ID).Logger()

	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(w.ctx, 5*time.Second)
		err := w.rec.LogCompilation(ctx, c)
		cancel()
		if err == nil {
			return
		}

		if !retryable(err) || attempt > w.retries {
			logger.Error().Err(err).Int("attempts", attempt).Msg("audit record dropped")
			return
		}

		backoff := w.backoff << (attempt - 1)
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("audit write failed, retrying")

		select {
		case <-time.After(backoff):
		case <-w.ctx.Done():
			logger.Error().Err(err).Msg("audit record abandoned at flush deadline")
			return
		}
	}
}

// retryable reports whether a failed insert may succeed on a later attempt.
// A statement the server rejected stays rejected, except for the connection,
// rollback, resource and operator-intervention error classes.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return true
	}
	if len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "08", "40", "53", "57":
		return true
	}
	return false
}
