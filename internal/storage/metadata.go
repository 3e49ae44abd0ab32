package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/session"
)

// MetadataPath returns session_<stamp>_metadata.json in dir.
func MetadataPath(dir, stamp string) string {
	return filepath.Join(dir, fmt.Sprintf("session_%s_metadata.json", stamp))
}

// systemMetadataPath is where older recordings kept system segments.
func systemMetadataPath(dir, stamp string) string {
	return filepath.Join(dir, fmt.Sprintf("session_%s_system_metadata.json", stamp))
}

// MixedPath returns mixed_<stamp>.wav in dir.
func MixedPath(dir, stamp string) string {
	return filepath.Join(dir, fmt.Sprintf("mixed_%s.wav", stamp))
}

// SaveSession writes s as indented JSON, replacing path atomically.
func SaveSession(path string, s session.RecordingSession) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "encode session metadata")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".metadata-*.json")
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodePersistFailed, "create temp metadata")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.Wrap(err, apperrors.CodePersistFailed, "write metadata")
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(err, apperrors.CodePersistFailed, "close metadata")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperrors.Wrapf(err, apperrors.CodePersistFailed, "rename metadata to %s", path)
	}
	return nil
}

// LoadSession reads a session metadata document. When the document carries
// no system segments and a sibling session_<stamp>_system_metadata.json
// exists, its system segments are merged in.
func LoadSession(path string) (session.RecordingSession, error) {
	s, err := readSession(path)
	if err != nil {
		return s, err
	}
	if len(s.SystemSegments) == 0 {
		if stamp, ok := StampFromMetadataPath(path); ok {
			sys, err := readSession(systemMetadataPath(filepath.Dir(path), stamp))
			if err == nil {
				s.SystemSegments = sys.SystemSegments
			} else if !apperrors.IsCode(err, apperrors.CodeNotFound) {
				return s, err
			}
		}
	}
	return s, nil
}

func readSession(path string) (session.RecordingSession, error) {
	var s session.RecordingSession
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, apperrors.Wrapf(err, apperrors.CodeNotFound, "session metadata %s", path)
		}
		return s, apperrors.Wrapf(err, apperrors.CodeInternal, "read %s", path)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, apperrors.Wrapf(err, apperrors.CodeInvalidArgument, "decode %s", path)
	}
	return s, nil
}

// StampFromMetadataPath extracts <stamp> from session_<stamp>_metadata.json.
func StampFromMetadataPath(path string) (string, bool) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, "_metadata.json") {
		return "", false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, "session_"), "_metadata.json")
	if strings.HasSuffix(stamp, "_system") || stamp == "" {
		return "", false
	}
	return stamp, true
}

// SessionFile is a session found on disk.
type SessionFile struct {
	Stamp        string `json:"stamp"`
	MetadataPath string `json:"metadataPath"`
	MixedPath    string `json:"mixedPath"`
	Mixed        bool   `json:"mixed"`
}

// ListSessions finds session metadata documents in dir, oldest first.
func ListSessions(dir string) ([]SessionFile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "session_*_metadata.json"))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "glob sessions")
	}
	var out []SessionFile
	for _, m := range matches {
		stamp, ok := StampFromMetadataPath(m)
		if !ok {
			continue
		}
		mixed := MixedPath(dir, stamp)
		_, statErr := os.Stat(mixed)
		out = append(out, SessionFile{Stamp: stamp, MetadataPath: m, MixedPath: mixed, Mixed: statErr == nil})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stamp < out[j].Stamp })
	return out, nil
}
