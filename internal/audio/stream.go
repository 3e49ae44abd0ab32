package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/ai-and-i/recorder/internal/errors"
)

// Stream defaults.
const (
	// StallPeriods is how many buffer periods may pass without a chunk
	// before the source reports its encoder as stopped.
	StallPeriods = 8
	// MinStallAfter keeps very small buffers from flapping.
	MinStallAfter = 500 * time.Millisecond
	// StopWait bounds how long Stop waits for the read loop after aborting
	// the stream.
	StopWait = 2 * time.Second
)

// ErrOverflow marks a recoverable read error; the read loop keeps going.
var ErrOverflow = errors.New("input overflowed")

// Stream is a blocking int16 capture stream. Read fills the buffer returned
// by the OpenFunc that created it. Abort must unblock a pending Read.
type Stream interface {
	Start() error
	Read() error
	Stop() error
	Abort() error
	Close() error
}

// OpenFunc opens a stream and returns the buffer its Read fills.
type OpenFunc func() (Stream, []int16, error)

// StreamConfig configures a StreamSource.
type StreamConfig struct {
	Device          Device
	Format          Format
	FramesPerBuffer int
	Open            OpenFunc
	// StallAfter overrides the stall window derived from the buffer size.
	StallAfter time.Duration
	StopWait   time.Duration
	Now        func() time.Time
}

// StreamSource runs a read loop over a Stream and reports the track dead on
// a read error and the encoder stopped when chunks stop arriving.
type StreamSource struct {
	cfg StreamConfig

	mu     sync.Mutex
	stream Stream
	cancel context.CancelFunc
	done   chan struct{}

	live      atomic.Bool
	running   atomic.Bool
	lastChunk atomic.Int64 // unix nanos
}

// NewStreamSource creates an unstarted source.
func NewStreamSource(cfg StreamConfig) *StreamSource {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StopWait <= 0 {
		cfg.StopWait = StopWait
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = MinStallAfter
		if cfg.Format.SampleRate > 0 && cfg.FramesPerBuffer > 0 {
			period := time.Duration(cfg.FramesPerBuffer) * time.Second / time.Duration(cfg.Format.SampleRate)
			cfg.StallAfter = max(MinStallAfter, StallPeriods*period)
		}
	}
	return &StreamSource{cfg: cfg}
}

func (s *StreamSource) Device() Device { return s.cfg.Device }
func (s *StreamSource) Format() Format { return s.cfg.Format }

func (s *StreamSource) State() SourceState {
	running := s.running.Load()
	if running {
		last := time.Unix(0, s.lastChunk.Load())
		running = s.cfg.Now().Sub(last) <= s.cfg.StallAfter
	}
	return SourceState{TrackLive: s.live.Load(), EncoderRunning: running}
}

func (s *StreamSource) Start(ctx context.Context, deliver func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return apperrors.New(apperrors.CodeInvalidState, "source already started")
	}

	stream, buf, err := s.cfg.Open()
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeSourceUnavailable, "open %s", s.cfg.Device.Name)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return apperrors.Wrapf(err, apperrors.CodeSourceUnavailable, "start %s", s.cfg.Device.Name)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.stream, s.cancel, s.done = stream, cancel, make(chan struct{})
	s.lastChunk.Store(s.cfg.Now().UnixNano())
	s.live.Store(true)
	s.running.Store(true)

	go s.readLoop(loopCtx, stream, buf, deliver, s.done)
	return nil
}

func (s *StreamSource) readLoop(ctx context.Context, stream Stream, buf []int16, deliver func([]byte), done chan struct{}) {
	defer close(done)
	defer s.running.Store(false)
	for ctx.Err() == nil {
		err := stream.Read()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, ErrOverflow) {
				slog.Debug("audio input overflowed", "device", s.cfg.Device.Name)
				continue
			}
			// Anything else means the device is gone.
			slog.Warn("audio read failed", "device", s.cfg.Device.Name, "error", err)
			s.live.Store(false)
			return
		}
		chunk := make([]byte, len(buf)*2)
		for i, v := range buf {
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(v))
		}
		s.lastChunk.Store(s.cfg.Now().UnixNano())
		deliver(chunk)
	}
}

// Stop aborts the stream first so a Read blocked on a vanished device
// returns, then waits for the read loop for at most StopWait.
func (s *StreamSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	s.cancel()
	s.live.Store(false)
	err := s.stream.Abort()

	select {
	case <-s.done:
		if cerr := s.stream.Close(); err == nil {
			err = cerr
		}
	case <-time.After(s.cfg.StopWait):
		// The loop is still inside Read; closing under it is unsafe, so
		// the stream is left to the runtime.
		slog.Warn("audio read loop did not exit, abandoning stream", "device", s.cfg.Device.Name)
	}
	s.stream = nil
	return err
}
