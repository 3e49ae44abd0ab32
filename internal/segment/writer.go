package segment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/resilience"
	"github.com/ai-and-i/recorder/internal/session"
)

const writeTimeout = 30 * time.Second

// writer persists segments on its own goroutine. The queue is unbounded so
// enqueue never blocks the feed path.
type writer struct {
	stream  session.Stream
	store   Store
	breaker *resilience.Breaker
	onFail  func(index int, reason string)
	onError func(error)

	mu     sync.Mutex
	queue  []Segment
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newWriter(stream session.Stream, store Store, onFail func(int, string), onError func(error)) *writer {
	w := &writer{
		stream:  stream,
		store:   store,
		breaker: resilience.New(resilience.PersistConfig(string(stream) + "-segments")),
		onFail:  onFail,
		onError: onError,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) enqueue(seg Segment) {
	if w.store == nil {
		return
	}
	w.mu.Lock()
	w.queue = append(w.queue, seg)
	w.mu.Unlock()
	w.signal()
}

func (w *writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// close stops accepting work and waits for the queue to drain.
func (w *writer) close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.signal()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return apperrors.Wrapf(ctx.Err(), apperrors.CodeTimeout, "%s segment writes still pending", w.stream)
	}
}

func (w *writer) run() {
	defer close(w.done)
	for range w.wake {
		for {
			w.mu.Lock()
			batch := w.queue
			w.queue = nil
			closed := w.closed
			w.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			for _, seg := range batch {
				w.persist(seg)
			}
		}
	}
}

func (w *writer) persist(seg Segment) {
	err := w.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		return w.store.Write(ctx, seg)
	})
	if err == nil {
		return
	}

	if errors.Is(err, resilience.ErrOpen) {
		slog.Warn("segment write skipped, store unhealthy", "stream", w.stream, "index", seg.Index)
	} else {
		slog.Warn("segment write failed", "stream", w.stream, "index", seg.Index, "path", seg.FilePath, "error", err)
	}
	if w.onFail != nil {
		w.onFail(seg.Index, session.ReasonPersistFailed)
	}
	if w.onError != nil {
		w.onError(apperrors.Wrapf(err, apperrors.CodePersistFailed, "persist %s segment %d", w.stream, seg.Index).
			WithMetadata("path", seg.FilePath))
	}
}
