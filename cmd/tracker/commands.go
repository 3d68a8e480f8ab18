// README: Cobra commands for the tracker CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quickcart/internal/client"
	"quickcart/internal/infra"
	"quickcart/internal/types"
)

var (
	apiURL           string
	wsURL            string
	pollInterval     time.Duration
	failureThreshold int
	logLevel         string

	rootCmd = &cobra.Command{
		Use:           "tracker",
		Short:         "Follow QuickCart orders from the command line",
		SilenceUsage:  true,
	}

	watchCmd = &cobra.Command{
		Use:   "watch <orderId>",
		Short: "Print every status change of one order until it is delivered, rejected or cancelled",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("QC_TRACKER_API", "http://localhost:8080"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	watchCmd.Flags().StringVar(&wsURL, "ws", "", "WebSocket URL; derived from --api when empty, \"off\" disables push")
	watchCmd.Flags().DurationVar(&pollInterval, "poll", 30*time.Second, "fallback poll interval")
	watchCmd.Flags().IntVar(&failureThreshold, "failures", 3, "consecutive poll failures before warning")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	log := infra.NewLogger(cmd.ErrOrStderr(), logLevel, "text")
	id := types.ID(args[0])

	socket, err := socketURL(apiURL, wsURL)
	if err != nil {
		return err
	}
	fetcher := client.NewHTTPFetcher(apiURL, &http.Client{Timeout: 10 * time.Second})

	initial, err := fetchInitial(ctx, fetcher, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s  %s  v%d\n", stamp(), initial.Status, initial.StatusVersion)

	st, err := client.Watch(ctx, client.WatchConfig{
		OrderID:   id,
		Initial:   initial.Status,
		SocketURL: socket,
		Fetcher:   fetcher,
		Backoff:   client.DefaultBackoff(),
		Logger:    log,
		OnState: func(s client.ConnState) {
			fmt.Fprintf(out, "%s  [socket %s]\n", stamp(), s)
		},
		Options: client.Options{
			PollInterval:     pollInterval,
			FailureThreshold: failureThreshold,
			OnChange:         printChange(out),
			OnEscalate: func(failures int, lastErr error) {
				fmt.Fprintf(out, "%s  [status unavailable after %d attempts: %v]\n", stamp(), failures, lastErr)
			},
			OnRecover: func() {
				fmt.Fprintf(out, "%s  [status available again]\n", stamp())
			},
		},
	})
	if err != nil {
		return err
	}
	if !st.Status.Terminal() {
		// Interrupted before the order finished.
		return nil
	}
	fmt.Fprintf(out, "%s  order %s finished as %s\n", stamp(), id, st.Status)
	return nil
}

func fetchInitial(ctx context.Context, f client.Fetcher, id types.ID) (client.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	snap, err := f.FetchStatus(ctx, id)
	if err != nil {
		return client.Snapshot{}, fmt.Errorf("load order %s: %w", id, err)
	}
	return snap, nil
}

func printChange(w io.Writer) func(client.Change) {
	return func(c client.Change) {
		fmt.Fprintf(w, "%s  %s -> %s  v%d  (%s)\n", stamp(), c.From, c.To, c.StatusVersion, c.Source)
	}
}

// socketURL derives ws(s)://host/ws from the API URL unless an explicit one is given.
func socketURL(api, explicit string) (string, error) {
	switch explicit {
	case "off":
		return "", nil
	case "":
	default:
		return explicit, nil
	}
	u, err := url.Parse(api)
	if err != nil {
		return "", fmt.Errorf("parse --api: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("--api must be http or https, got %q", api)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func stamp() string { return time.Now().Format("15:04:05") }

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
