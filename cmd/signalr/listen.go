package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/surrealdb/signalr.go/pkg/connection"
	"github.com/surrealdb/signalr.go/pkg/hub"
	"github.com/surrealdb/signalr.go/pkg/metrics"
)

func listenCmd(opts *cliOptions) *cobra.Command {
	var events []string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print hub events until interrupted",
		Long: `Subscribe to client hub methods and print every call as JSON.

Events are given as hub.method, for example --on chat.broadcast. Without any
event every message received on the connection is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if len(events) == 0 {
				events = cfg.Hubs
			}
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = cfg.MetricsAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var collector metrics.Collector = metrics.Nop{}
			if metricsAddr != "" {
				registry := prometheus.NewRegistry()
				collector = metrics.New(metrics.WithRegistry(registry))
				srv := serveMetrics(metricsAddr, registry)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			h, err := newHubConnection(cfg, collector)
			if err != nil {
				return err
			}
			if err := subscribe(h, events); err != nil {
				return err
			}

			h.OnStateChanged(func(sc connection.StateChange) {
				fmt.Fprintf(os.Stderr, "state: %s -> %s\n", sc.Old, sc.New)
			})
			h.OnConnectionSlow(func() {
				fmt.Fprintln(os.Stderr, "connection slow")
			})

			if err := h.Start(ctx, cfg.startConfig()); err != nil {
				return err
			}
			defer h.Stop()
			fmt.Fprintf(os.Stderr, "connected using %s\n", h.TransportName())

			disconnected := make(chan struct{})
			h.OnDisconnected(func() { close(disconnected) })

			select {
			case <-ctx.Done():
			case <-disconnected:
				return errors.New("server closed the connection")
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&events, "on", nil, "hub events to print, as hub.method")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// subscribe prints the given hub events, or every received message when none are given.
func subscribe(h *hub.Connection, events []string) error {
	enc := json.NewEncoder(os.Stdout)

	if len(events) == 0 {
		h.OnReceived(func(msg json.RawMessage) {
			_ = enc.Encode(msg)
		})
		return nil
	}

	for _, ev := range events {
		hubName, method, ok := strings.Cut(ev, ".")
		if !ok || hubName == "" || method == "" {
			return fmt.Errorf("invalid event %q, expected hub.method", ev)
		}
		h.CreateHubProxy(hubName).On(method, func(args hub.Arguments) error {
			return enc.Encode(map[string]any{
				"hub":    hubName,
				"method": method,
				"args":   []json.RawMessage(args),
			})
		})
	}
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server: %s\n", err)
		}
	}()
	return srv
}
