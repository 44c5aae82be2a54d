// Package silt is a buffered structured-log sink backed by an embedded
// SQLite database. Events accumulate in an in-memory buffer and are
// written in batches: synchronously when the buffer reaches capacity,
// asynchronously on a flush interval, and on explicit Flush or Close.
// A log/slog handler front-end is included.
package silt

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/siltlog/silt/internal/store"
)

// ErrClosed is returned by operations invoked on a closed sink.
var ErrClosed = errors.New("silt: sink is closed")

// New opens (or creates) the database at cfg.Path, ensures the table
// and its indexes exist, and starts the background workers the
// configuration asks for. The returned sink is ready for concurrent
// use; callers must Close it to persist whatever the buffer still
// holds at shutdown.
func New(cfg Config) (*Sink, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	gw, err := store.Open(cfg.Path, cfg.Table, cfg.Columns)
	if err != nil {
		return nil, err
	}
	if err := gw.EnsureSchema(context.Background(), ownerEmit); err != nil {
		gw.Close() //nolint:errcheck
		return nil, err
	}

	s := &Sink{
		id:     uuid.New().String()[:8],
		cfg:    cfg,
		gw:     gw,
		buf:    newBuffer(cfg.Capacity),
		proj:   newProjector(cfg.Formatter, gw.Columns()),
		stopCh: make(chan struct{}),
	}

	if cfg.FlushInterval > 0 {
		s.wg.Add(1)
		go s.run(cfg.FlushInterval)
	}

	if cfg.Retention.MaxAge > 0 {
		sw, err := startSweeper(s)
		if err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		s.sweeper = sw
	}

	return s, nil
}
