package main

import "github.com/spf13/cobra"

func newCronCmd(b *boundClient) *cobra.Command {
	cmd := &cobra.Command{Use: "cron", Short: "Cron schedules (cron.*)"}
	cmd.AddCommand(
		newCronCreateCmd(b),
		newCronListCmd(b),
		newCronGetCmd(b),
		newCronEnableCmd(b),
		newCronDisableCmd(b),
		newCronDeleteCmd(b),
	)
	return cmd
}

func newCronCreateCmd(b *boundClient) *cobra.Command {
	var agentName, cronExpr, timezone, to, text string
	var enabled bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a cron schedule that sends an envelope on a recurring time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "cron.create", map[string]any{
				"agentName": agentName,
				"cron":      cronExpr,
				"timezone":  timezone,
				"enabled":   enabled,
				"to":        to,
				"content":   map[string]any{"text": text},
			})
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "", "owning agent name (required)")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "5-field cron expression (required)")
	cmd.Flags().StringVar(&timezone, "timezone", "local", "IANA timezone name")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "enable immediately")
	cmd.Flags().StringVar(&to, "to", "", `destination address (required)`)
	cmd.Flags().StringVar(&text, "text", "", "message body")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("cron")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newCronListCmd(b *boundClient) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cron schedules",
		RunE:  func(cmd *cobra.Command, args []string) error { return call(cmd.Context(), b, "cron.list", nil) },
	}
}

func newCronGetCmd(b *boundClient) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch one cron schedule by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "cron.get", map[string]any{"id": id})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "schedule id or short id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newCronEnableCmd(b *boundClient) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "cron.enable", map[string]any{"id": id})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "schedule id or short id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newCronDisableCmd(b *boundClient) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "cron.disable", map[string]any{"id": id})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "schedule id or short id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newCronDeleteCmd(b *boundClient) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "cron.delete", map[string]any{"id": id})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "schedule id or short id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
