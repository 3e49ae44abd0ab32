package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ai-and-i/recorder/internal/session"
	"github.com/ai-and-i/recorder/internal/trace"
)

// SegmentSink stores segment checkpoints.
type SegmentSink interface {
	AddSegments(ctx context.Context, recordingID string, segs []session.AudioSegment) error
}

// Checkpointer accumulates segment metadata while a session records and
// writes it to the catalog in batches, so a crash mid-session still leaves
// the finished segments indexed.
type Checkpointer struct {
	sink       SegmentSink
	maxSize    int
	flushDelay time.Duration
	mu         sync.Mutex
	items      map[string][]session.AudioSegment
	count      int
	timer      *time.Timer
	wg         sync.WaitGroup
}

// NewCheckpointer creates a checkpointer.
func NewCheckpointer(sink SegmentSink, maxSize int, flushDelay time.Duration) *Checkpointer {
	if maxSize <= 0 {
		maxSize = DefaultCheckpointMaxSize
	}
	if flushDelay <= 0 {
		flushDelay = DefaultCheckpointFlushDelay
	}
	return &Checkpointer{
		sink:       sink,
		maxSize:    maxSize,
		flushDelay: flushDelay,
		items:      make(map[string][]session.AudioSegment),
	}
}

// Add queues a segment for batched storage.
func (c *Checkpointer) Add(recordingID string, seg session.AudioSegment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[recordingID] = append(c.items[recordingID], seg)
	c.count++

	if c.count >= c.maxSize {
		c.flushLocked()
		return
	}

	if c.timer == nil {
		c.timer = time.AfterFunc(c.flushDelay, c.timerFlush)
	} else {
		c.timer.Reset(c.flushDelay)
	}
}

func (c *Checkpointer) timerFlush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

func (c *Checkpointer) flushLocked() {
	if c.count == 0 {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batches := c.items
	c.items = make(map[string][]session.AudioSegment)
	c.count = 0

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, span := trace.StartSpan(context.Background(), "segment_checkpoint")
		defer span.End()

		log := trace.Logger(ctx)
		for id, segs := range batches {
			span.SetAttr(id, len(segs))
			if err := c.sink.AddSegments(ctx, id, segs); err != nil {
				span.SetError(err)
				log.Warn("segment checkpoint failed", "session", id, "count", len(segs), "error", err)
				continue
			}
			log.Debug("segments checkpointed", "session", id, "count", len(segs))
		}
	}()
}

// Discard drops pending items for a recording whose final segment list has
// already been written.
func (c *Checkpointer) Discard(recordingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count -= len(c.items[recordingID])
	delete(c.items, recordingID)
}

// Flush writes pending items and waits for every in-flight batch.
func (c *Checkpointer) Flush() {
	c.mu.Lock()
	c.flushLocked()
	c.mu.Unlock()
	c.wg.Wait()
}

// Stop flushes remaining items. The checkpointer must not be used afterwards.
func (c *Checkpointer) Stop() {
	c.Flush()
}
