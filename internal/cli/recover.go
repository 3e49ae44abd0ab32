package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ai-and-i/recorder/internal/orchestrator"
	"github.com/ai-and-i/recorder/internal/storage"
)

func NewRecoverCmd(deps *Dependencies, opts *options) *cobra.Command {
	var (
		pf     pipelineFlags
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Mix every session whose metadata exists but whose mixed output is missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := storage.ListSessions(opts.dir)
			if err != nil {
				return err
			}
			files = unmixed(files)
			if len(files) == 0 {
				fmt.Fprintln(deps.Out, "Nothing to recover")
				return nil
			}
			if dryRun {
				for _, f := range files {
					fmt.Fprintln(deps.Out, f.MetadataPath)
				}
				return nil
			}

			p, closeCatalog, err := pf.pipeline(opts)
			if err != nil {
				return err
			}
			defer closeCatalog()

			var failed []error
			for _, f := range files {
				s, err := storage.LoadSession(f.MetadataPath)
				if err != nil {
					fmt.Fprintf(deps.Out, "%s  %v\n", f.Stamp, err)
					failed = append(failed, err)
					continue
				}
				// Persist so the catalog gains a row for sessions recorded
				// before it existed.
				out, err := p.Run(cmdContext(cmd), s, orchestrator.RunOptions{Persist: true, Mix: true, Force: pf.force})
				if err != nil {
					failed = append(failed, err)
					continue
				}
				if err := reportOutcome(deps, opts, out); err != nil {
					failed = append(failed, err)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d sessions not recovered: %w", len(failed), len(files), errors.Join(failed...))
			}
			return nil
		},
	}

	pf.register(cmd, deps)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the sessions that would be mixed")
	return cmd
}
