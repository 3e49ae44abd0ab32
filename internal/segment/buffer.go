// Package segment slices a continuous PCM stream into fixed-duration
// segments and persists them off the live feed path.
package segment

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ai-and-i/recorder/internal/audio"
	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/session"
)

// ErrBufferClosed is returned by Feed and Finalize once the buffer is finalized.
var ErrBufferClosed = apperrors.New(apperrors.CodeInvalidState, "buffer closed")

// Segment is an emitted slice with its payload.
type Segment struct {
	session.AudioSegment
	Format audio.Format
	Data   []byte
}

// Store persists segment payloads.
type Store interface {
	Path(stamp string, stream session.Stream, index int) string
	Write(ctx context.Context, seg Segment) error
}

// Config configures a Buffer.
type Config struct {
	Stream          session.Stream
	Stamp           string // session file stamp, see session.FileStamp
	Format          audio.Format
	SegmentDuration time.Duration
	Device          audio.Device // device of the first run
	StartAt         float64      // session time of the first run

	Store Store // nil disables persistence

	// OnSegment runs on the feeding goroutine for every emitted segment and
	// must not block.
	OnSegment func(Segment)
	// OnError receives persistence failures from the writer goroutine.
	OnError func(error)
}

// Buffer accumulates bytes from one source. A run is a stretch of audio from
// one device; timing within a run comes from byte counts only.
type Buffer struct {
	cfg       Config
	threshold int
	writer    *writer

	mu       sync.Mutex
	pending  []byte
	device   audio.Device
	runStart float64
	runBytes int64
	inRun    bool
	lastEnd  float64
	index    int
	total    int64
	closed   bool
	segments []session.AudioSegment
}

// New creates a buffer and starts its persistence worker.
func New(cfg Config) (*Buffer, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if cfg.SegmentDuration <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "segment duration must be positive")
	}
	frames := int64(math.Round(cfg.SegmentDuration.Seconds() * float64(cfg.Format.SampleRate)))
	b := &Buffer{
		cfg:       cfg,
		threshold: int(max(frames, 1)) * cfg.Format.FrameSize(),
		device:    cfg.Device,
		runStart:  cfg.StartAt,
		lastEnd:   cfg.StartAt,
		inRun:     true,
	}
	b.writer = newWriter(cfg.Stream, cfg.Store, b.markFailed, cfg.OnError)
	return b, nil
}

// Format returns the PCM format the buffer was created for.
func (b *Buffer) Format() audio.Format { return b.cfg.Format }

// Threshold is the segment size in bytes.
func (b *Buffer) Threshold() int { return b.threshold }

// Feed appends a chunk and emits every complete segment it produces.
func (b *Buffer) Feed(data []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBufferClosed
	}
	if !b.inRun {
		// Late bytes with no device run open continue from the last segment.
		b.beginLocked(b.device, b.lastEnd)
	}
	b.pending = append(b.pending, data...)
	var out []Segment
	rest := b.pending
	for len(rest) >= b.threshold {
		out = append(out, b.emitLocked(rest[:b.threshold]))
		rest = rest[b.threshold:]
	}
	b.pending = append(b.pending[:0], rest...)
	b.mu.Unlock()

	b.dispatch(out)
	return nil
}

// Cut closes the current device run, emitting any buffered remainder as a
// short segment.
func (b *Buffer) Cut() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBufferClosed
	}
	out := b.cutLocked()
	b.mu.Unlock()

	b.dispatch(out)
	return nil
}

// Begin opens a new device run anchored at session time at. A still-open run
// is cut first.
func (b *Buffer) Begin(dev audio.Device, at float64) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBufferClosed
	}
	out := b.cutLocked()
	b.beginLocked(dev, at)
	b.mu.Unlock()

	b.dispatch(out)
	return nil
}

// Finalize emits the remainder as a final segment, closes the buffer and
// waits for every queued write to finish or ctx to end. A second call
// returns ErrBufferClosed.
func (b *Buffer) Finalize(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBufferClosed
	}
	out := b.cutLocked()
	b.closed = true
	b.mu.Unlock()

	b.dispatch(out)
	return b.writer.close(ctx)
}

// FlagSince attaches reason to segments starting at or after t that carry no
// failure reason yet. It returns the number of segments flagged.
func (b *Buffer) FlagSince(t float64, reason string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for i := range b.segments {
		if b.segments[i].StartSessionTime >= t && b.segments[i].FailureReason == "" {
			b.segments[i].FailureReason = reason
			n++
		}
	}
	return n
}

// Segments returns a copy of the segments emitted so far.
func (b *Buffer) Segments() []session.AudioSegment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]session.AudioSegment(nil), b.segments...)
}

// Stats is a snapshot of buffer counters.
type Stats struct {
	Segments     int   `json:"segments"`
	PendingBytes int   `json:"pendingBytes"`
	TotalBytes   int64 `json:"totalBytes"`
	Closed       bool  `json:"closed"`
}

// Stats returns current counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Segments: len(b.segments), PendingBytes: len(b.pending), TotalBytes: b.total, Closed: b.closed}
}

func (b *Buffer) beginLocked(dev audio.Device, at float64) {
	b.device = dev
	b.runStart = max(at, b.lastEnd)
	b.runBytes = 0
	b.inRun = true
}

func (b *Buffer) cutLocked() []Segment {
	if !b.inRun {
		return nil
	}
	b.inRun = false
	if len(b.pending) == 0 {
		return nil
	}
	seg := b.emitLocked(b.pending)
	b.pending = b.pending[:0]
	return []Segment{seg}
}

func (b *Buffer) emitLocked(data []byte) Segment {
	f := b.cfg.Format
	start := b.runStart + f.Seconds(b.runBytes)
	b.runBytes += int64(len(data))
	b.total += int64(len(data))
	end := b.runStart + f.Seconds(b.runBytes)
	b.lastEnd = end
	b.index++

	meta := session.AudioSegment{
		SegmentID:        uuid.NewString(),
		Stream:           b.cfg.Stream,
		Index:            b.index,
		DeviceName:       b.device.Name,
		DeviceID:         b.device.ID,
		SampleRate:       float64(f.SampleRate),
		Channels:         f.Channels,
		StartSessionTime: start,
		EndSessionTime:   end,
		FrameCount:       int64(len(data) / f.FrameSize()),
		ByteCount:        int64(len(data)),
		Quality:          session.QualityForRate(float64(f.SampleRate)),
	}
	if b.cfg.Store != nil {
		meta.FilePath = b.cfg.Store.Path(b.cfg.Stamp, b.cfg.Stream, b.index)
	}
	b.segments = append(b.segments, meta)
	return Segment{AudioSegment: meta, Format: f, Data: append([]byte(nil), data...)}
}

func (b *Buffer) dispatch(out []Segment) {
	for _, seg := range out {
		slog.Debug("segment ready", "stream", seg.Stream, "index", seg.Index,
			"start", seg.StartSessionTime, "end", seg.EndSessionTime, "bytes", seg.ByteCount)
		if b.cfg.OnSegment != nil {
			b.cfg.OnSegment(seg)
		}
		b.writer.enqueue(seg)
	}
}

func (b *Buffer) markFailed(index int, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := index - 1; i >= 0 && i < len(b.segments) {
		b.segments[i].FailureReason = reason
		b.segments[i].Quality = session.QualityFailed
	}
}
