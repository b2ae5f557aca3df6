package main

import (
	"github.com/spf13/cobra"
)

func newSetupCmd(b *boundClient) *cobra.Command {
	cmd := &cobra.Command{Use: "setup", Short: "First-run setup (setup.check, setup.execute)"}

	check := &cobra.Command{
		Use:   "check",
		Short: "Report whether first-run setup has completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "setup.check", nil)
		},
	}

	var bossToken string
	execute := &cobra.Command{
		Use:   "execute",
		Short: "Complete first-run setup with a freshly-generated boss token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "setup.execute", nonEmptyParams(map[string]any{
				"bossToken": bossToken,
			}))
		},
	}
	execute.Flags().StringVar(&bossToken, "boss-token", "", "boss token to install (generated if omitted)")

	cmd.AddCommand(check, execute)
	return cmd
}

func newBossCmd(b *boundClient) *cobra.Command {
	cmd := &cobra.Command{Use: "boss", Short: "Boss-token operations (boss.verify)"}
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verify the configured token is the boss token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "boss.verify", nil)
		},
	}
	cmd.AddCommand(verify)
	return cmd
}
