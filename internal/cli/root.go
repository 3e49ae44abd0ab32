// Package cli implements the aiandi command line for inspecting, validating
// and mixing recordings offline.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ai-and-i/recorder/internal/config"
	"github.com/ai-and-i/recorder/internal/session"
	"github.com/ai-and-i/recorder/internal/storage"
	"github.com/ai-and-i/recorder/internal/timeline"
)

type Dependencies struct {
	Config *config.Config
	Out    io.Writer
}

// options shared by every subcommand.
type options struct {
	dir      string
	asJSON   bool
	gap      float64
	coverage float64
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "aiandi",
		Short:         "Inspect, validate and mix meeting recordings",
		Long:          "Offline tools for the recordings directory: list sessions, check their timelines, build and run the mix, and recover sessions that were never mixed.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(deps.Out)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.dir, "dir", deps.Config.RecordingsDir, "recordings directory")
	pf.BoolVar(&opts.asJSON, "json", false, "print JSON instead of text")
	pf.Float64Var(&opts.gap, "gap-tolerance", deps.Config.GapTolerance, "largest allowed gap between mic segments, seconds")
	pf.Float64Var(&opts.coverage, "coverage-tolerance", deps.Config.CoverageTolerance, "allowed mic/system end mismatch, seconds")

	rootCmd.AddCommand(NewSessionsCmd(deps, opts))
	rootCmd.AddCommand(NewValidateCmd(deps, opts))
	rootCmd.AddCommand(NewPlanCmd(deps, opts))
	rootCmd.AddCommand(NewMixCmd(deps, opts))
	rootCmd.AddCommand(NewInspectCmd(deps, opts))
	rootCmd.AddCommand(NewRecoverCmd(deps, opts))
	rootCmd.AddCommand(NewHealthCmd(deps))

	return rootCmd
}

func (o *options) tolerances() timeline.Tolerances {
	return timeline.Tolerances{Gap: o.gap, Coverage: o.coverage}
}

// metadataPath accepts either a metadata file path or a bare session stamp.
func (o *options) metadataPath(arg string) string {
	if strings.HasSuffix(arg, ".json") {
		return arg
	}
	return storage.MetadataPath(o.dir, arg)
}

func (o *options) loadSession(arg string) (session.RecordingSession, string, error) {
	path := o.metadataPath(arg)
	s, err := storage.LoadSession(path)
	if err != nil {
		return s, path, err
	}
	return s, path, nil
}

// sessionDir is where a session's files live; segment paths in old
// metadata may be relative to it.
func sessionDir(metadataPath string) string { return filepath.Dir(metadataPath) }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func seconds(v float64) string { return fmt.Sprintf("%.2fs", v) }
