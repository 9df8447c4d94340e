package main

import (
	"fmt"
	"os"

	"github.com/danmuck/profpipe/internal/logging"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pipectl",
		Short: "Host side of the device profiling pipe",
		Long: `pipectl accepts profiling pipes from devices, negotiates byte order
and counter selection, and fans the stream out to local handlers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.ConfigureRuntime()
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		replayCmd(),
		probeCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pipectl: %s\n", err)
		os.Exit(1)
	}
}
