// Package portaudio opens capture devices through PortAudio. It is the only
// package that links libportaudio.
package portaudio

import (
	"context"
	"errors"

	pa "github.com/gordonklaus/portaudio"

	"github.com/ai-and-i/recorder/internal/audio"
	apperrors "github.com/ai-and-i/recorder/internal/errors"
)

const defaultFramesPerBuffer = 1024 // ~21ms at 48kHz

// Config configures device selection.
type Config struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	SystemKeywords  []string // extra substrings identifying loopback devices
	Excluded        []string
}

// Acquirer opens capture devices through PortAudio.
type Acquirer struct {
	cfg Config
}

// NewAcquirer initializes PortAudio. Call Close when done.
func NewAcquirer(cfg Config) (*Acquirer, error) {
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = defaultFramesPerBuffer
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if err := pa.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "initialize portaudio")
	}
	return &Acquirer{cfg: cfg}, nil
}

// Close releases PortAudio.
func (a *Acquirer) Close() error { return pa.Terminate() }

// Microphone opens the OS default input device.
func (a *Acquirer) Microphone(_ context.Context) (audio.Source, error) {
	dev, err := pa.DefaultInputDevice()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSourceUnavailable, "no default input device")
	}
	if a.isExcluded(dev.Name) || a.isSystem(dev.Name) {
		return a.firstMicrophone()
	}
	return a.newSource(dev), nil
}

// firstMicrophone is used when the default input is a loopback device or
// excluded; built-in mics are preferred.
func (a *Acquirer) firstMicrophone() (audio.Source, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSourceUnavailable, "list devices")
	}
	var best *pa.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || a.isExcluded(dev.Name) || a.isSystem(dev.Name) || !audio.IsMicrophone(dev.Name) {
			continue
		}
		if best == nil || audio.Classify(dev.Name) == audio.ClassBuiltIn && audio.Classify(best.Name) != audio.ClassBuiltIn {
			best = dev
		}
	}
	if best == nil {
		return nil, apperrors.New(apperrors.CodeSourceUnavailable, "no microphone found")
	}
	return a.newSource(best), nil
}

// System opens the first loopback device.
func (a *Acquirer) System(_ context.Context) (audio.Source, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSourceUnavailable, "list devices")
	}
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || a.isExcluded(dev.Name) {
			continue
		}
		if a.isSystem(dev.Name) {
			return a.newSource(dev), nil
		}
	}
	return nil, apperrors.New(apperrors.CodeSourceUnavailable, "no loopback device found (install BlackHole or enable a monitor source)")
}

func (a *Acquirer) isSystem(name string) bool {
	return audio.Classify(name) == audio.ClassLoopback || audio.MatchesAny(name, a.cfg.SystemKeywords)
}

func (a *Acquirer) isExcluded(name string) bool {
	return audio.MatchesAny(name, a.cfg.Excluded)
}

func (a *Acquirer) newSource(dev *pa.DeviceInfo) *audio.StreamSource {
	format := audio.Format{SampleRate: a.cfg.SampleRate, Channels: a.cfg.Channels, BytesPerSample: 2}
	frames := a.cfg.FramesPerBuffer
	return audio.NewStreamSource(audio.StreamConfig{
		Device:          audio.Device{ID: audio.DeviceID(dev.Name), Name: dev.Name},
		Format:          format,
		FramesPerBuffer: frames,
		Open: func() (audio.Stream, []int16, error) {
			params := pa.StreamParameters{
				Input: pa.StreamDeviceParameters{
					Device:   dev,
					Channels: format.Channels,
					Latency:  dev.DefaultLowInputLatency,
				},
				SampleRate:      float64(format.SampleRate),
				FramesPerBuffer: frames,
			}
			buf := make([]int16, frames*format.Channels)
			stream, err := pa.OpenStream(params, buf)
			if err != nil {
				return nil, nil, err
			}
			return inputStream{stream}, buf, nil
		},
	})
}

// inputStream maps PortAudio's overflow error onto audio.ErrOverflow.
type inputStream struct {
	*pa.Stream
}

func (s inputStream) Read() error {
	err := s.Stream.Read()
	if errors.Is(err, pa.InputOverflowed) {
		return audio.ErrOverflow
	}
	return err
}
