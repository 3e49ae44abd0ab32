package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ai-and-i/recorder/internal/reconcile"
	"github.com/ai-and-i/recorder/internal/storage"
)

func NewPlanCmd(deps *Dependencies, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <stamp|metadata.json>",
		Short: "Show the mix plan and ffmpeg arguments without running them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := opts.loadSession(args[0])
			if err != nil {
				return err
			}
			p, err := reconcile.BuildPlan(s, reconcile.DefaultOptions())
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(deps.Out, p)
			}

			fmt.Fprintf(deps.Out, "mode      %s at %d Hz\n", p.Mode, p.TargetSampleRate)
			for _, m := range p.Mic {
				fmt.Fprintf(deps.Out, "mic       %s  %s  %+.0f dB  telephony=%t\n",
					m.Segment.FilePath, m.Class, m.GainDB, m.Telephony)
			}
			for _, sys := range p.System {
				fmt.Fprintf(deps.Out, "system    %s  delay %dms\n", sys.Segment.FilePath, sys.DelayMs)
			}
			fmt.Fprintf(deps.Out, "system    %+.0f dB\n", p.SystemGainDB)
			for _, sk := range p.Skipped {
				fmt.Fprintf(deps.Out, "skipped   %s\n", sk)
			}
			fmt.Fprintf(deps.Out, "filter    %s\n", reconcile.FilterGraph(p))
			out := storage.MixedPath(opts.dir, s.Stamp())
			fmt.Fprintf(deps.Out, "ffmpeg    %s\n", strings.Join(reconcile.Args(p, out), " "))
			return nil
		},
	}
}
