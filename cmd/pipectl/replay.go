package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/profpipe/internal/capture"
	"github.com/danmuck/profpipe/internal/fileonly"
	"github.com/danmuck/profpipe/internal/handlers"
	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func replayCmd() *cobra.Command {
	var (
		configPath  string
		capturePath string
	)

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Feed a recorded device stream through a buffer-driven connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			path, err := homedir.Expand(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			conn := fileonly.New(fileonly.Options{
				CapturePeriod:     cfg.CapturePeriodUS,
				DispatchTimeout:   cfg.DispatchTimeout,
				VersionConstraint: cfg.VersionConstraint,
				Quiet:             cfg.Quiet,
			})
			defer conn.Close()
			if err := conn.AddLocalPacketHandler(handlers.NewLogger(log.Logger)); err != nil {
				return err
			}

			if capturePath == "" {
				capturePath = cfg.CapturePath
			}
			var store *capture.Store
			if capturePath != "" {
				store, err = capture.Open(capturePath)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := conn.AddLocalPacketHandler(capture.NewHandler(store, conn.ID())); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			n, err := fileonly.Replay(ctx, f, conn, func(p protocol.Packet) {
				fmt.Printf("reply %s\n", p)
				if store != nil {
					actx, cancel := context.WithTimeout(ctx, 2*time.Second)
					defer cancel()
					if err := store.Append(actx, conn.ID(), capture.Outbound, p); err != nil {
						log.Warn().Err(err).Msg("pipectl.replay capture reply")
					}
				}
			})
			fmt.Printf("replayed %d packets session=%s order=%s counters=%d\n",
				n, conn.ID(), conn.ByteOrder(), len(conn.CounterIDs()))
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVar(&capturePath, "capture", "", "SQLite file to capture packets into")
	return cmd
}
