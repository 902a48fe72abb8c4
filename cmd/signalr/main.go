package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var configPath string
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "signalr",
		Short: "Talk to a SignalR 1.x server from the command line",
		Long: `signalr negotiates sessions, listens to hub events and invokes hub
methods on a SignalR 1.x server.

Settings are read from an optional TOML file, then from SIGNALR_* environment
variables, and finally from flags.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(configPath, cmd, opts)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	flags.StringVarP(&opts.url, "url", "u", "", "server url, the /signalr path is appended unless --raw is set")
	flags.BoolVar(&opts.raw, "raw", false, "use --url as the connection endpoint as-is")
	flags.StringSliceVarP(&opts.transports, "transport", "t", nil, "transports to try in order (webSockets, serverSentEvents, longPolling)")
	flags.StringToStringVarP(&opts.query, "query", "q", nil, "extra query string parameters")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&opts.websocket, "websocket", "", "websocket library: gorilla or gws")

	rootCmd.AddCommand(
		negotiateCmd(opts),
		listenCmd(opts),
		invokeCmd(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
