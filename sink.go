package silt

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/siltlog/silt/internal/store"
)

// Worker-context names. Each one owns a dedicated store connection for
// the sink's lifetime; the emitting side, the background loop, and the
// retention sweeper never share a connection.
const (
	ownerEmit      = "emit"
	ownerInterval  = "interval"
	ownerRetention = "retention"
)

// Stats is a point-in-time snapshot of the sink counters. Dropped
// counts events lost to failed flushes and to emits after Close.
type Stats struct {
	Emitted       int64
	Persisted     int64
	Dropped       int64
	Flushes       int64
	FlushFailures int64
}

// Sink accumulates events in memory and persists them in batches: when
// an append reaches capacity, when the flush interval elapses, and on
// explicit Flush or Close. All methods are safe for concurrent use.
type Sink struct {
	id   string
	cfg  Config
	gw   *store.Gateway
	buf  *buffer
	proj *projector

	// flushMu serializes flush cycles. Internal triggers (capacity,
	// interval) take it with TryLock and drop the trigger when a cycle
	// is already running; Flush and Close take it blocking.
	flushMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	sweeper *sweeper // nil unless retention is configured

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	dropOnce  sync.Once

	emitted       atomic.Int64
	persisted     atomic.Int64
	dropped       atomic.Int64
	flushes       atomic.Int64
	flushFailures atomic.Int64
}

// Emit appends one event to the buffer. When the append reaches the
// configured capacity, the calling goroutine runs the flush inline.
// A zero Time is filled with the current UTC time. Emit never blocks
// on storage except on that inline flush path, and never returns an
// error: storage failures are contained and reported on the
// diagnostic log. After Close, events are dropped and counted.
func (s *Sink) Emit(ev Event) {
	if s.closed.Load() {
		s.dropped.Add(1)
		s.dropOnce.Do(func() {
			log.Printf("[silt] sink %s: event emitted after Close, dropping (reported once)", s.id)
		})
		return
	}

	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	s.emitted.Add(1)

	if s.buf.Append(ev) {
		s.tryFlush(ownerEmit)
	}
}

// Flush drains the buffer and writes the batch synchronously, waiting
// for any in-flight flush to finish first. The storage error, if any,
// is returned; the drained batch is gone either way.
func (s *Sink) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.flush(ctx, ownerEmit)
}

// Buffered returns the number of events waiting for the next flush.
func (s *Sink) Buffered() int { return s.buf.Len() }

// Stats returns a snapshot of the sink counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Emitted:       s.emitted.Load(),
		Persisted:     s.persisted.Load(),
		Dropped:       s.dropped.Load(),
		Flushes:       s.flushes.Load(),
		FlushFailures: s.flushFailures.Load(),
	}
}

// Close stops the background loop and the retention sweeper, performs
// a final flush of whatever the buffer still holds, and closes every
// store connection. Stopping the loop waits at most StopTimeout; the
// final flush is not bounded. Close is idempotent and later calls
// return the first result.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.stopOnce.Do(func() { close(s.stopCh) })

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.cfg.StopTimeout):
			log.Printf("[silt] sink %s: background loop still busy after %s, proceeding with close",
				s.id, s.cfg.StopTimeout)
		}

		if s.sweeper != nil {
			s.sweeper.stop(s.cfg.StopTimeout, s.id)
		}

		s.flushMu.Lock()
		flushErr := s.flush(context.Background(), ownerEmit)
		s.flushMu.Unlock()

		closeErr := s.gw.Close()

		if flushErr != nil {
			s.closeErr = flushErr
			return
		}
		s.closeErr = closeErr
	})
	return s.closeErr
}

// run is the background flush loop. Each tick attempts a flush; ticks
// that land while another flush is running are dropped.
func (s *Sink) run(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryFlush(ownerInterval)
		}
	}
}

// tryFlush runs one flush cycle unless another is already in progress,
// in which case the trigger is dropped, not queued. Failures are
// contained and logged inside flush.
func (s *Sink) tryFlush(owner string) {
	if !s.flushMu.TryLock() {
		return
	}
	defer s.flushMu.Unlock()
	_ = s.flush(context.Background(), owner)
}

// flush drains the buffer, projects the batch, and writes it on the
// owner context's connection. Must be called with flushMu held. On
// storage failure the batch is dropped, counted, and reported on the
// diagnostic log; the error is returned for the explicit callers.
func (s *Sink) flush(ctx context.Context, owner string) error {
	events := s.buf.Drain()
	if len(events) == 0 {
		return nil
	}

	rows := make([][]any, len(events))
	for i := range events {
		rows[i] = s.proj.Row(events[i])
	}

	if err := s.gw.InsertBatch(ctx, owner, rows); err != nil {
		s.dropped.Add(int64(len(events)))
		s.flushFailures.Add(1)
		log.Printf("[silt] sink %s: flush of %d events failed, batch dropped: %v", s.id, len(events), err)
		return err
	}

	s.persisted.Add(int64(len(events)))
	s.flushes.Add(1)
	return nil
}
