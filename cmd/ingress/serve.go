package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eagraf/bookstore-ingress/internal/ingress/metrics"
	"github.com/eagraf/bookstore-ingress/internal/ingress/pubsub"
	"github.com/eagraf/bookstore-ingress/internal/ingress/reverse_proxy"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	events := pubsub.NewSimplePublisher[reverse_proxy.ProxyEvent]()
	events.AddSubscriber(reverse_proxy.NewEventLogger(log))

	rules, err := reverse_proxy.NewRuleSetFromConfig(cfg, log)
	if err != nil {
		return fmt.Errorf("error building proxy rules: %w", err)
	}
	proxy := reverse_proxy.NewProxyServer(log, rules, events)

	servers := []*namedServer{
		{
			name: "proxy-server",
			srv: &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           proxy,
				ReadHeaderTimeout: 30 * time.Second,
			},
		},
	}

	if cfg.MetricsAddr != "" {
		m := metrics.NewMetrics()
		events.AddSubscriber(m)
		servers = append(servers, &namedServer{
			name: "metrics-server",
			srv: &http.Server{
				Addr:              cfg.MetricsAddr,
				Handler:           m.Handler(),
				ReadHeaderTimeout: 30 * time.Second,
			},
		})
	}

	// ctx.Done() returns when SIGINT or SIGTERM is received or cancel() is called.
	// calling cancel() unregisters the signal trapping.
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// egCtx is cancelled if any function called with eg.Go() returns an error.
	eg, egCtx := errgroup.WithContext(ctx)
	for _, s := range servers {
		eg.Go(serveFn(s.srv, s.name))
	}

	// Wait for either a signal which triggers ctx.Done()
	// Or one of the servers to error, which triggers egCtx.Done()
	select {
	case <-egCtx.Done():
		log.Err(fmt.Errorf("sub-service errored: shutting down ingress %v", egCtx.Err())).Send()
		cancel()
	case <-ctx.Done():
		log.Info().Msg("Interrupt signal received; gracefully closing ingress")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	for _, s := range servers {
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			log.Err(fmt.Errorf("error on %s shutdown: %w", s.name, err)).Send()
		}
	}

	// Wait for the go-routines to finish
	return eg.Wait()
}

type namedServer struct {
	name string
	srv  *http.Server
}

// serveFn takes in an http.Server and returns a callback that can be run in a separate go-routine.
func serveFn(srv *http.Server, name string) func() error {
	return func() error {
		log.Info().Msgf("Starting ingress server[%s] at %s", name, srv.Addr)
		err := srv.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ingress server[%s] closed with abnormal error: %w", name, err)
		}
		return nil
	}
}
