package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ai-and-i/recorder/internal/storage"
)

func NewSessionsCmd(deps *Dependencies, opts *options) *cobra.Command {
	var pending bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := storage.ListSessions(opts.dir)
			if err != nil {
				return err
			}
			if pending {
				files = unmixed(files)
			}
			if opts.asJSON {
				if files == nil {
					files = []storage.SessionFile{}
				}
				return printJSON(deps.Out, files)
			}
			if len(files) == 0 {
				fmt.Fprintln(deps.Out, "No sessions found")
				return nil
			}

			tw := tabwriter.NewWriter(deps.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STAMP\tMIXED\tMETADATA")
			for _, f := range files {
				fmt.Fprintf(tw, "%s\t%t\t%s\n", f.Stamp, f.Mixed, f.MetadataPath)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&pending, "pending", false, "only sessions without a mixed output")
	return cmd
}

func unmixed(files []storage.SessionFile) []storage.SessionFile {
	var out []storage.SessionFile
	for _, f := range files {
		if !f.Mixed {
			out = append(out, f)
		}
	}
	return out
}
