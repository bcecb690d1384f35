package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ada/internal/async"
	"ada/internal/domain"
	"ada/internal/logging"
	"ada/internal/poller"
	"ada/internal/server"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	a, err := buildApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	logger := logging.NewComponentLogger("serve")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var p *poller.Poller
	if a.cfg.Poller.Enabled {
		p = buildPoller(a)
		if err := p.Start(ctx); err != nil {
			return err
		}
		defer p.Stop()
	}

	srv := server.New(a.cfg.Server.Addr, server.Deps{
		Orchestrator: a.orch,
		Tasks:        a.tasks,
		Instructions: a.instructions,
		Ingestor:     a.ingestor,
		Poller:       p,
		Ambiguity:    a.ambiguity,
		Tenants:      a.tenants,
		Logger:       logging.NewComponentLogger("http"),
	})

	errCh := make(chan error, 1)
	async.Go(logger, "http server", func() { errCh <- srv.Start() })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("Received %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// buildPoller wires the event sources. Only the mail channel has a live
// source in the dev profile; calendar and CRM events arrive through the
// in-memory source.
func buildPoller(a *app) *poller.Poller {
	sources := map[string]poller.EventSource{
		domain.ChannelEmail:    &poller.MailSource{Mail: a.mail},
		domain.ChannelCalendar: poller.NewMemorySource(),
		domain.ChannelCRM:      poller.NewMemorySource(),
	}
	return poller.New(a.orch, a.tasks, a.cursors, a.ambiguity, a.tenants, sources,
		logging.NewComponentLogger("poller"), poller.Config{
			Interval:          a.cfg.Poller.Interval,
			TenantConcurrency: a.cfg.Poller.TenantConcurrency,
			TenantTimeout:     a.cfg.Poller.TenantTimeout,
		})
}
