package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aretw0/tapestry/internal/cli"
	"github.com/aretw0/tapestry/pkg/adapters/amqp"
	tapestryhttp "github.com/aretw0/tapestry/pkg/adapters/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve sessions over HTTP (and AMQP)",
	Long: `Starts the session manager and exposes it over HTTP, with a Server-Sent Events
stream of results per session. When amqp.enabled is set, actions are also consumed
from a durable AMQP queue. On SIGINT/SIGTERM every live session writes a
disconnect save before the process exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.HTTP.Addr, _ = cmd.Flags().GetString("addr")
		}
		if cmd.Flags().Changed("amqp") {
			cfg.AMQP.Enabled, _ = cmd.Flags().GetBool("amqp")
		}
		logger := newLogger(cfg)

		sc := cli.NewSignalContext(context.Background())
		defer sc.Cancel()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		streams := tapestryhttp.NewStreamManager()

		a, err := newApp(sc, cfg, logger, reg, streams)
		if err != nil {
			return err
		}

		api := tapestryhttp.NewServer(a,
			tapestryhttp.WithLogger(logger),
			tapestryhttp.WithStreams(streams),
			tapestryhttp.WithGatherer(reg),
		)
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(sc)
		g.Go(func() error {
			logger.Info("http listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		if cfg.AMQP.Enabled {
			consumer := amqp.NewConsumer(amqp.Config{
				URL:         cfg.AMQP.URL,
				Queue:       cfg.AMQP.Queue,
				Prefetch:    cfg.AMQP.Prefetch,
				BusyTimeout: cfg.AMQP.BusyTimeout,
			}, a, logger)
			g.Go(func() error {
				return consumer.Run(ctx)
			})
		}
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		runErr := g.Wait()
		if sig := sc.Signal(); sig != nil {
			logger.Info("shutting down", "signal", sig.String())
		}

		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(runErr, a.Close(closeCtx))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (overrides http.addr)")
	serveCmd.Flags().Bool("amqp", false, "Also consume actions from AMQP (overrides amqp.enabled)")
}
