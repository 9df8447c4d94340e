package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/profpipe/internal/pipe"
	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/spf13/cobra"
)

func probeCmd() *cobra.Command {
	var (
		network     string
		addr        string
		little      bool
		attempts    int
		timeout     time.Duration
		sendCounter bool
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Act as a device: open a pipe, handshake and print the replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			dcfg := pipe.DefaultDialConfig()
			dcfg.MaxAttempts = attempts
			if little {
				dcfg.Order = protocol.LittleEndian
			}
			cli, err := pipe.Dial(ctx, network, addr, dcfg)
			if err != nil {
				return err
			}
			defer cli.Close()

			meta := protocol.StreamMetadata{
				Version:    protocol.EncodeVersion(1, 0, 0),
				MaxDataLen: 4096,
				PID:        uint32(os.Getpid()),
			}
			if err := cli.Handshake(ctx, meta); err != nil {
				return err
			}
			fmt.Printf("connection ack received order=%s\n", cli.ByteOrder())

			if !sendCounter {
				return nil
			}
			if err := cli.SendPacket(0, 2, nil); err != nil {
				return err
			}
			p, err := cli.ReadPacket(time.Until(deadlineOf(ctx)))
			if protocol.IsRetryable(err) {
				fmt.Println("no counter selection (host has no directory decoder)")
				return nil
			}
			if err != nil {
				return err
			}
			period, ids, err := protocol.DecodeCounterSelection(p.Payload, cli.ByteOrder())
			if err != nil {
				return err
			}
			fmt.Printf("counter selection period=%dus ids=%v\n", period, ids)
			return nil
		},
	}

	cmd.Flags().StringVar(&network, "network", "tcp", "Network to dial")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:4242", "Host address")
	cmd.Flags().BoolVar(&little, "little-endian", false, "Write the stream little-endian")
	cmd.Flags().IntVar(&attempts, "attempts", 3, "Connection attempts before giving up")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Overall probe timeout")
	cmd.Flags().BoolVar(&sendCounter, "directory", false, "Send an empty counter directory and print the selection")
	return cmd
}

func deadlineOf(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(time.Second)
}
