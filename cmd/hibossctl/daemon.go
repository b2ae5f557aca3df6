package main

import "github.com/spf13/cobra"

func newDaemonCmd(b *boundClient) *cobra.Command {
	cmd := &cobra.Command{Use: "daemon", Short: "Daemon lifecycle (daemon.ping/status/stop/time)"}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "ping",
			Short: "Check the daemon is reachable and the token is valid",
			RunE:  func(cmd *cobra.Command, args []string) error { return call(cmd.Context(), b, "daemon.ping", nil) },
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report uptime, active sessions, and next scheduled wake",
			RunE:  func(cmd *cobra.Command, args []string) error { return call(cmd.Context(), b, "daemon.status", nil) },
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Request graceful daemon shutdown",
			RunE:  func(cmd *cobra.Command, args []string) error { return call(cmd.Context(), b, "daemon.stop", nil) },
		},
		&cobra.Command{
			Use:   "time",
			Short: "Report the daemon's current time and boss timezone",
			RunE:  func(cmd *cobra.Command, args []string) error { return call(cmd.Context(), b, "daemon.time", nil) },
		},
	)
	return cmd
}
