package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ai-and-i/recorder/internal/grpcclient"
)

func NewHealthCmd(deps *Dependencies) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the running recorder's gRPC health service",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := addr
			if strings.HasPrefix(target, ":") {
				target = "localhost" + target
			}
			c, err := grpcclient.New(target)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			all, err := c.CheckAll(cmdContext(cmd))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(deps.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVICE\tSTATUS")
			for _, svc := range []string{grpcclient.ServiceOverall, grpcclient.ServiceMic, grpcclient.ServiceSystem} {
				name := svc
				if name == "" {
					name = "(server)"
				}
				fmt.Fprintf(tw, "%s\t%s\n", name, all[svc])
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", deps.Config.HealthAddr, "health service address")
	return cmd
}
