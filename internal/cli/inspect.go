package cli

import (
	"fmt"
	"math"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ai-and-i/recorder/internal/session"
	"github.com/ai-and-i/recorder/internal/storage"
)

// segmentCheck compares a segment's metadata with its WAV header.
type segmentCheck struct {
	Segment  session.AudioSegment `json:"segment"`
	File     *storage.FileInfo    `json:"file,omitempty"`
	Problems []string             `json:"problems,omitempty"`
}

func NewInspectCmd(deps *Dependencies, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <stamp|metadata.json>",
		Short: "Compare segment metadata with the WAV files on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, path, err := opts.loadSession(args[0])
			if err != nil {
				return err
			}
			dir := sessionDir(path)

			var checks []segmentCheck
			for _, seg := range append(append([]session.AudioSegment{}, s.MicSegments...), s.SystemSegments...) {
				checks = append(checks, checkSegment(dir, seg))
			}

			if opts.asJSON {
				return printJSON(deps.Out, checks)
			}
			tw := tabwriter.NewWriter(deps.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STREAM\tINDEX\tSTART\tEND\tDEVICE\tFILE")
			bad := 0
			for _, c := range checks {
				status := "ok"
				if len(c.Problems) > 0 {
					status = fmt.Sprint(c.Problems)
					bad++
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", c.Segment.Stream, c.Segment.Index,
					seconds(c.Segment.StartSessionTime), seconds(c.Segment.EndSessionTime), c.Segment.DeviceName, status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(deps.Out, "%d segments, %d with problems\n", len(checks), bad)
			return nil
		},
	}
}

func checkSegment(dir string, seg session.AudioSegment) segmentCheck {
	c := segmentCheck{Segment: seg}
	if seg.FailureReason != "" {
		c.Problems = append(c.Problems, "flagged "+seg.FailureReason)
	}
	path := seg.FilePath
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	info, err := storage.ReadInfo(path)
	if err != nil {
		c.Problems = append(c.Problems, err.Error())
		return c
	}
	c.File = &info

	if seg.SampleRate > 0 && float64(info.SampleRate) != seg.SampleRate {
		c.Problems = append(c.Problems, fmt.Sprintf("sample rate %d, metadata says %.0f", info.SampleRate, seg.SampleRate))
	}
	if seg.FrameCount > 0 && info.Frames != seg.FrameCount {
		c.Problems = append(c.Problems, fmt.Sprintf("%d frames, metadata says %d", info.Frames, seg.FrameCount))
	}
	if d := info.Duration.Seconds(); math.Abs(d-seg.Duration()) > 0.05 {
		c.Problems = append(c.Problems, fmt.Sprintf("%s of audio, timeline says %s", seconds(d), seconds(seg.Duration())))
	}
	return c
}
