package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ai-and-i/recorder/internal/catalog"
	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/orchestrator"
	"github.com/ai-and-i/recorder/internal/reconcile"
)

// pipelineFlags configure the stop pipeline when it is run offline.
type pipelineFlags struct {
	ffmpeg      string
	catalogPath string
	force       bool
}

func (f *pipelineFlags) register(cmd *cobra.Command, deps *Dependencies) {
	cmd.Flags().StringVar(&f.ffmpeg, "ffmpeg", deps.Config.FFmpegPath, "ffmpeg executable")
	cmd.Flags().StringVar(&f.catalogPath, "catalog", deps.Config.CatalogPath, "recordings catalog to update; empty to skip")
	cmd.Flags().BoolVar(&f.force, "force", false, "mix even when the timeline fails validation")
}

// pipeline builds the stop pipeline. The returned func closes the catalog.
func (f *pipelineFlags) pipeline(opts *options) (*orchestrator.Pipeline, func(), error) {
	p := &orchestrator.Pipeline{
		Dir:        opts.dir,
		Tolerances: opts.tolerances(),
		Gains:      reconcile.DefaultOptions(),
		Mixer:      reconcile.NewMixer(f.ffmpeg),
	}
	if f.catalogPath == "" {
		return p, func() {}, nil
	}
	cat, err := catalog.Open(f.catalogPath)
	if err != nil {
		return nil, nil, err
	}
	p.Catalog = cat
	return p, func() { _ = cat.Close() }, nil
}

func NewMixCmd(deps *Dependencies, opts *options) *cobra.Command {
	var pf pipelineFlags

	cmd := &cobra.Command{
		Use:   "mix <stamp|metadata.json>",
		Short: "Validate, plan and mix one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, path, err := opts.loadSession(args[0])
			if err != nil {
				return err
			}
			p, closeCatalog, err := pf.pipeline(opts)
			if err != nil {
				return err
			}
			defer closeCatalog()
			p.Dir = sessionDir(path)

			out, err := p.Run(cmdContext(cmd), s, orchestrator.RunOptions{Persist: p.Catalog != nil, Mix: true, Force: pf.force})
			if err != nil {
				return err
			}
			return reportOutcome(deps, opts, out)
		},
	}

	pf.register(cmd, deps)
	return cmd
}

// reportOutcome prints the pipeline result and turns a failed mix into an
// error exit.
func reportOutcome(deps *Dependencies, opts *options, out orchestrator.Outcome) error {
	if opts.asJSON {
		if err := printJSON(deps.Out, out); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(deps.Out, "%s  %s\n", out.SessionID, out.Status)
		if out.ValidationError != "" {
			fmt.Fprintf(deps.Out, "  validation: %s\n", out.ValidationError)
		}
		if out.PlanError != "" {
			fmt.Fprintf(deps.Out, "  plan: %s\n", out.PlanError)
		}
		if out.Mix != nil && out.Mix.Output != "" {
			fmt.Fprintf(deps.Out, "  mixed: %s (%s)\n", out.Mix.Output, out.Mix.Elapsed.Round(time.Millisecond))
		}
		if out.MixError != "" {
			fmt.Fprintf(deps.Out, "  mix: %s\n", out.MixError)
			if out.Mix != nil {
				for _, f := range out.Mix.Fallback {
					fmt.Fprintf(deps.Out, "  fallback: %s\n", f)
				}
			}
		}
	}

	switch out.Status {
	case catalog.StatusMixed:
		return nil
	case catalog.StatusMixFailed:
		return apperrors.Newf(apperrors.CodeMixFailed, "mix of %s failed", out.SessionID)
	default:
		if out.ValidationCode != "" {
			return apperrors.New(out.ValidationCode, out.ValidationError)
		}
		return apperrors.Newf(apperrors.CodeInvalidState, "session %s was not mixed", out.SessionID)
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
