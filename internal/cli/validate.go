package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ai-and-i/recorder/internal/timeline"
)

func NewValidateCmd(deps *Dependencies, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <stamp|metadata.json>",
		Short: "Check a session's timeline for gaps and coverage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := opts.loadSession(args[0])
			if err != nil {
				return err
			}

			report, verr := timeline.Validate(s, opts.tolerances())
			if opts.asJSON {
				if err := printJSON(deps.Out, report); err != nil {
					return err
				}
				return verr
			}

			fmt.Fprintf(deps.Out, "session   %s\n", report.SessionID)
			fmt.Fprintf(deps.Out, "mic       %d segments, %s (ends %s, %d fallback, %d silent)\n",
				report.MicSegmentCount, seconds(report.MicDuration), seconds(report.MicEnd),
				report.FallbackSegmentCount, report.SilentSegmentCount)
			fmt.Fprintf(deps.Out, "system    %d segments, %s (ends %s)\n",
				report.SystemSegmentCount, seconds(report.SystemDuration), seconds(report.SystemEnd))
			fmt.Fprintf(deps.Out, "max gap   %s\n", seconds(report.MaxGap))
			if verr != nil {
				return verr
			}
			fmt.Fprintln(deps.Out, "timeline ok")
			return nil
		},
	}
}
