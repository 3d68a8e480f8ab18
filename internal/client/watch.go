// README: Runs a reconciler and its supervised socket together for one order.
package client

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"quickcart/internal/modules/notify"
	"quickcart/internal/modules/order"
	"quickcart/internal/types"
)

type WatchConfig struct {
	OrderID types.ID
	// Initial is the status the caller already knows; empty if unknown.
	Initial order.Status
	// SocketURL of the gateway; empty disables push and leaves only polling.
	SocketURL string

	Fetcher Fetcher
	Backoff Backoff
	Options Options

	OnState func(ConnState)
	Logger  *slog.Logger
}

// Watch follows one order until it reaches a terminal status (returns nil) or ctx ends.
func Watch(ctx context.Context, cfg WatchConfig) (State, error) {
	if cfg.Logger != nil && cfg.Options.Logger == nil {
		cfg.Options.Logger = cfg.Logger
	}
	rec := NewReconciler(cfg.OrderID, cfg.Initial, cfg.Fetcher, cfg.Options)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := rec.Run(gctx)
		// Terminal: stop the socket too.
		cancel()
		return err
	})
	if cfg.SocketURL != "" {
		sock := NewSocket(SocketConfig{
			URL:     cfg.SocketURL,
			OrderID: cfg.OrderID,
			Backoff: cfg.Backoff,
			Logger:  cfg.Logger,
			OnEvent: func(ev notify.Event) {
				rec.ApplyPush(ev.OrderID, ev.Status, ev.StatusVersion)
			},
			OnState:     cfg.OnState,
			OnReconnect: rec.OnReconnect,
		})
		g.Go(func() error { return sock.Run(gctx) })
	}

	err := g.Wait()
	st := rec.State()
	if st.Status.Terminal() {
		return st, nil
	}
	return st, err
}
