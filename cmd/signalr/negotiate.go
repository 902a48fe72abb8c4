package main

import (
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func negotiateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "negotiate",
		Short: "Print the server's negotiation response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHubConnection(opts.cfg, nil)
			if err != nil {
				return err
			}

			res, err := h.Negotiate(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
