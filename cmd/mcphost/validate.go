package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-connection-manager-go/internal/serverstore"
)

func newValidateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [servers-file]",
		Short: "Check a servers file without connecting to anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := flags.loadConfig(cmd.Flags())
				if err != nil {
					return err
				}
				path = cfg.ServersFile
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			servers, err := serverstore.Decode(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTRANSPORT\tNAME")
			for _, s := range servers {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Transport(), s.Name)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d server(s) OK\n", path, len(servers))
			return nil
		},
	}
}
