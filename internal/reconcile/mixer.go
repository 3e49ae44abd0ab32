package reconcile

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	apperrors "github.com/ai-and-i/recorder/internal/errors"
)

const maxStderrTail = 2048

// Result describes a mix attempt.
type Result struct {
	Plan     Plan          `json:"plan"`
	Output   string        `json:"output,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	Fallback []string      `json:"fallback,omitempty"` // unmixed inputs when the mix failed
}

// Mixer runs ffmpeg.
type Mixer struct {
	command string
}

// NewMixer uses the ffmpeg binary at command ("ffmpeg" when empty).
func NewMixer(command string) *Mixer {
	if command == "" {
		command = "ffmpeg"
	}
	return &Mixer{command: command}
}

// Mix writes p to output. On failure the per-stream inputs are returned in
// Result.Fallback so callers can still hand out unmixed audio.
func (m *Mixer) Mix(ctx context.Context, p Plan, output string) (Result, error) {
	res := Result{Plan: p}
	start := time.Now()

	fail := func(err error, msg string) (Result, error) {
		res.Fallback = p.Inputs()
		res.Elapsed = time.Since(start)
		return res, apperrors.Wrap(err, apperrors.CodeMixFailed, msg).
			WithMetadata("session", p.SessionID).
			WithMetadata("output", output)
	}

	for _, in := range p.Inputs() {
		if _, err := os.Stat(in); err != nil {
			return fail(err, "missing input "+in)
		}
	}

	cmd := exec.CommandContext(ctx, m.command, Args(p, output)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Debug("mixing session", "session", p.SessionID, "mode", p.Mode, "inputs", len(p.Inputs()), "output", output)
	if err := cmd.Run(); err != nil {
		return fail(err, "ffmpeg: "+tail(stderr.String()))
	}
	if fi, err := os.Stat(output); err != nil || fi.Size() == 0 {
		if err == nil {
			err = os.ErrNotExist
		}
		return fail(err, "ffmpeg produced no output")
	}

	res.Output = output
	res.Elapsed = time.Since(start)
	slog.Info("mix complete", "session", p.SessionID, "mode", p.Mode, "output", output,
		"duration_s", p.OutputDuration, "elapsed", res.Elapsed)
	return res, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrTail {
		s = s[len(s)-maxStderrTail:]
	}
	return s
}
