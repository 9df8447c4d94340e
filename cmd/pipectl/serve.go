package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/profpipe/internal/capture"
	"github.com/danmuck/profpipe/internal/dispatch"
	"github.com/danmuck/profpipe/internal/handlers"
	"github.com/danmuck/profpipe/internal/observability"
	"github.com/danmuck/profpipe/internal/pipe"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		echo       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept profiling pipes from devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Address = addr
			}
			if echo {
				cfg.EchoPackets = true
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			observability.RegisterMetrics()

			var store *capture.Store
			if cfg.CapturePath != "" {
				store, err = capture.Open(cfg.CapturePath)
				if err != nil {
					return err
				}
				defer store.Close()
				log.Info().Str("path", cfg.CapturePath).Msg("pipectl.serve capturing")
			}

			factory := func(connID string) []dispatch.Handler {
				hs := []dispatch.Handler{handlers.NewLogger(log.Logger)}
				if store != nil {
					hs = append(hs, capture.NewHandler(store, connID))
				}
				return hs
			}

			srvCfg := cfg.Server()
			if cfg.EchoPackets {
				srvCfg.Echo = os.Stdout
			}
			srv := pipe.NewServer(srvCfg, factory)

			if cfg.StatusAddr != "" {
				router := observability.NewStatusRouter("pipectl", version, func() any { return srv.Sessions() })
				go func() {
					if err := observability.ServeStatus(ctx, cfg.StatusAddr, router); err != nil {
						log.Error().Err(err).Msg("pipectl.serve status endpoint stopped")
					}
				}()
			}
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "Override the listen address")
	cmd.Flags().BoolVar(&echo, "echo", false, "Hex dump every packet to stdout")
	return cmd
}
