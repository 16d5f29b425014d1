package journal

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrUnknownKind = errors.New("unknown journal kind")

const (
	KindNone     = "none"
	KindRedis    = "redis"
	KindPostgres = "postgres"
)

// Entry is one applied change, as written to the audit trail.
type Entry struct {
	At    time.Time `json:"at"`
	Lobby string    `json:"lobby"`
	User  string    `json:"user,omitempty"`
	Event string    `json:"event"`
	Team  string    `json:"team,omitempty"`
	Value int       `json:"value,omitempty"`
	Score int       `json:"score,omitempty"`
}

// Sink stores entries. Write gets batches from a single goroutine.
type Sink interface {
	Write(ctx context.Context, entries []Entry) error
	Close() error
}

type Nop struct{}

func (Nop) Write(context.Context, []Entry) error { return nil }
func (Nop) Close() error                         { return nil }

type Options struct {
	Kind        string
	RedisAddr   string
	RedisDB     int
	DatabaseURL string
}

// Open connects the sink selected by opts.Kind.
func Open(ctx context.Context, opts Options) (Sink, error) {
	switch opts.Kind {
	case "", KindNone:
		return Nop{}, nil
	case KindRedis:
		return NewRedis(ctx, opts.RedisAddr, opts.RedisDB)
	case KindPostgres:
		return NewPostgres(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
	}
}

const batchSize = 64

// Writer queues entries and flushes them to a Sink in the background.
// Recording never blocks: when the queue is full the entry is dropped.
type Writer struct {
	sink    Sink
	queue   chan Entry
	log     *zap.Logger
	dropped atomic.Int64
}

func NewWriter(sink Sink, size int, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{sink: sink, queue: make(chan Entry, size), log: log}
}

func (w *Writer) Record(entries ...Entry) {
	for _, e := range entries {
		select {
		case w.queue <- e:
		default:
			w.dropped.Add(1)
		}
	}
}

func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Run flushes until ctx is done, then writes whatever is still queued.
func (w *Writer) Run(ctx context.Context) error {
	batch := make([]Entry, 0, batchSize)
	for {
		select {
		case <-ctx.Done():
			w.drain(&batch)
			// ctx is gone; give the final flush its own deadline.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			w.flush(flushCtx, batch)
			return nil

		case e := <-w.queue:
			batch = append(batch[:0], e)
			w.drain(&batch)
			w.flush(ctx, batch)
		}
	}
}

func (w *Writer) drain(batch *[]Entry) {
	for len(*batch) < batchSize {
		select {
		case e := <-w.queue:
			*batch = append(*batch, e)
		default:
			return
		}
	}
}

func (w *Writer) flush(ctx context.Context, batch []Entry) {
	if len(batch) == 0 {
		return
	}
	if err := w.sink.Write(ctx, batch); err != nil {
		w.log.Warn("journal write failed", zap.Int("entries", len(batch)), zap.Error(err))
	}
}
