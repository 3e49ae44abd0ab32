// Package storage persists segment audio as WAV files and session metadata
// as JSON documents next to them.
package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/segment"
	"github.com/ai-and-i/recorder/internal/session"
)

const wavFormatPCM = 1

// WAVStore writes segments as 16-bit PCM WAV files into one directory.
type WAVStore struct {
	dir string
}

// NewWAVStore creates dir if needed.
func NewWAVStore(dir string) (*WAVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeInternal, "create recordings dir %s", dir)
	}
	return &WAVStore{dir: dir}, nil
}

// Dir returns the store directory.
func (s *WAVStore) Dir() string { return s.dir }

// Path returns mic_<stamp>_<NNN>.wav or system_<stamp>_<NNN>.wav.
func (s *WAVStore) Path(stamp string, stream session.Stream, index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s_%03d.wav", stream, stamp, index))
}

// Write encodes seg to its FilePath. The file appears atomically.
func (s *WAVStore) Write(ctx context.Context, seg segment.Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if seg.Format.BytesPerSample != 2 {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "unsupported sample width %d", seg.Format.BytesPerSample)
	}
	path := seg.FilePath
	if path == "" {
		path = s.Path("unnamed", seg.Stream, seg.Index)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".segment-*.wav")
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodePersistFailed, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if err := encodePCM16(tmp, seg.Format.SampleRate, seg.Format.Channels, seg.Data); err != nil {
		tmp.Close()
		return apperrors.Wrapf(err, apperrors.CodePersistFailed, "encode %s", filepath.Base(path))
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(err, apperrors.CodePersistFailed, "close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperrors.Wrapf(err, apperrors.CodePersistFailed, "rename to %s", path)
	}
	return nil
}

func encodePCM16(f *os.File, rate, channels int, data []byte) error {
	samples := make([]int, len(data)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	enc := wav.NewEncoder(f, rate, 16, channels, wavFormatPCM)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// FileInfo describes a WAV file on disk.
type FileInfo struct {
	Path       string        `json:"path"`
	SampleRate int           `json:"sampleRate"`
	Channels   int           `json:"channels"`
	BitDepth   int           `json:"bitDepth"`
	Duration   time.Duration `json:"duration"`
	Frames     int64         `json:"frames"`
}

// ReadInfo decodes path and reports its format and length.
func ReadInfo(path string) (FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, apperrors.Wrapf(err, apperrors.CodeNotFound, "%s", path)
		}
		return FileInfo{}, apperrors.Wrapf(err, apperrors.CodeInternal, "open %s", path)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return FileInfo{}, apperrors.Newf(apperrors.CodeInvalidArgument, "%s is not a valid wav file", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return FileInfo{}, apperrors.Wrapf(err, apperrors.CodeInvalidArgument, "read pcm of %s", path)
	}
	info := FileInfo{
		Path:       path,
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
	}
	if info.Channels > 0 {
		info.Frames = int64(len(buf.Data) / info.Channels)
	}
	if info.SampleRate > 0 {
		info.Duration = time.Duration(float64(info.Frames) / float64(info.SampleRate) * float64(time.Second))
	}
	return info, nil
}
