// Command hibossd is the Hi-Boss daemon entrypoint: a thin cobra wrapper
// around internal/daemon's composition root (SPEC_FULL §2.5).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hiboss/hiboss/internal/clock"
	"github.com/hiboss/hiboss/internal/config"
	"github.com/hiboss/hiboss/internal/daemon"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hibossd:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "hibossd",
		Short: "Run the Hi-Boss daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), dataDir)
		},
	}
	cmd.Flags().StringVar(&dataDir, "dir", "", "data directory (overrides $HIBOSS_DIR)")
	return cmd
}

// run resolves the data directory, builds the composition root, and blocks
// until an OS signal requests shutdown.
func run(ctx context.Context, explicitDir string) error {
	dataDir, err := config.ResolveDataDir(explicitDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}

	d, err := daemon.New(dataDir, clock.System{})
	if err != nil {
		return fmt.Errorf("construct daemon: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(sigCtx)
}
