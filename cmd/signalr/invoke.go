package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func invokeCmd(opts *cliOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "invoke <hub> <method> [json-arg...]",
		Short: "Call a hub method and print its result",
		Example: `  signalr invoke chat send '"hello"'
  signalr invoke calc add 2 3`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hubName, method := args[0], args[1]

			params, err := parseArgs(args[2:])
			if err != nil {
				return err
			}

			h, err := newHubConnection(opts.cfg, nil)
			if err != nil {
				return err
			}
			proxy := h.CreateHubProxy(hubName)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := h.Start(ctx, opts.cfg.startConfig()); err != nil {
				return err
			}
			defer h.Stop()

			res, err := proxy.Invoke(ctx, method, params...)
			if err != nil {
				return err
			}
			if len(res) == 0 {
				res = json.RawMessage("null")
			}
			_, err = fmt.Fprintln(os.Stdout, string(res))
			return err
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "time allowed to connect and receive the result")
	return cmd
}

// parseArgs validates every argument as JSON.
func parseArgs(raw []string) ([]any, error) {
	params := make([]any, 0, len(raw))
	for i, arg := range raw {
		if !json.Valid([]byte(arg)) {
			return nil, fmt.Errorf("argument %d is not valid JSON: %s", i+1, arg)
		}
		params = append(params, json.RawMessage(arg))
	}
	return params, nil
}
