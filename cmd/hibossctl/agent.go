package main

import (
	"github.com/spf13/cobra"
)

func newAgentCmd(b *boundClient) *cobra.Command {
	cmd := &cobra.Command{Use: "agent", Short: "Agent management (agent.*)"}
	cmd.AddCommand(
		newAgentRegisterCmd(b),
		newAgentListCmd(b),
		newAgentSetCmd(b),
		newAgentDeleteCmd(b),
		newAgentStatusCmd(b),
		newAgentRefreshCmd(b),
		newAgentAbortCmd(b),
		newAgentBindCmd(b),
		newAgentUnbindCmd(b),
		newAgentSessionPolicyCmd(b),
	)
	return cmd
}

func newAgentRegisterCmd(b *boundClient) *cobra.Command {
	var name, description, workspace, provider, model, reasoningEffort, permissionLevel string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "agent.register", nonEmptyParams(map[string]any{
				"name":            name,
				"description":     description,
				"workspace":       workspace,
				"provider":        provider,
				"model":           model,
				"reasoningEffort": reasoningEffort,
				"permissionLevel": permissionLevel,
			}))
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name (required)")
	cmd.Flags().StringVar(&description, "description", "", "short description")
	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace directory")
	cmd.Flags().StringVar(&provider, "provider", "claude", "provider (claude|codex)")
	cmd.Flags().StringVar(&model, "model", "", "provider model override")
	cmd.Flags().StringVar(&reasoningEffort, "reasoning-effort", "", "reasoning effort override")
	cmd.Flags().StringVar(&permissionLevel, "permission-level", "", "default permission level")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAgentListCmd(b *boundClient) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE:  func(cmd *cobra.Command, args []string) error { return call(cmd.Context(), b, "agent.list", nil) },
	}
}

func newAgentSetCmd(b *boundClient) *cobra.Command {
	var name, description, workspace, model, reasoningEffort, permissionLevel string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update an agent's mutable fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "agent.set", nonEmptyParams(map[string]any{
				"name":            name,
				"description":     description,
				"workspace":       workspace,
				"model":           model,
				"reasoningEffort": reasoningEffort,
				"permissionLevel": permissionLevel,
			}))
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&workspace, "workspace", "", "new workspace directory")
	cmd.Flags().StringVar(&model, "model", "", "new provider model override")
	cmd.Flags().StringVar(&reasoningEffort, "reasoning-effort", "", "new reasoning effort override")
	cmd.Flags().StringVar(&permissionLevel, "permission-level", "", "new default permission level")
	cmd.Flags().StringVar(&name, "name", "", "agent name (required)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAgentDeleteCmd(b *boundClient) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "agent.delete", map[string]any{"name": name})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name (required)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAgentStatusCmd(b *boundClient) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report an agent's session/run status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "agent.status", map[string]any{"name": name})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name (required)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAgentRefreshCmd(b *boundClient) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Request the agent's session refresh on its next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "agent.refresh", map[string]any{"name": name})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name (required)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAgentAbortCmd(b *boundClient) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Abort the agent's in-flight run, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "agent.abort", map[string]any{"name": name})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name (required)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAgentBindCmd(b *boundClient) *cobra.Command {
	var agentName, adapterType, adapterToken string
	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Bind an agent to a channel adapter credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "agent.bind", map[string]any{
				"agentName": agentName, "adapterType": adapterType, "adapterToken": adapterToken,
			})
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "", "agent name (required)")
	cmd.Flags().StringVar(&adapterType, "adapter-type", "", "adapter type, e.g. telegram|discord (required)")
	cmd.Flags().StringVar(&adapterToken, "adapter-token", "", "adapter bot credential (required)")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("adapter-type")
	_ = cmd.MarkFlagRequired("adapter-token")
	return cmd
}

func newAgentUnbindCmd(b *boundClient) *cobra.Command {
	var agentName, adapterType string
	cmd := &cobra.Command{
		Use:   "unbind",
		Short: "Remove an agent's channel adapter binding",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "agent.unbind", map[string]any{
				"agentName": agentName, "adapterType": adapterType,
			})
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "", "agent name (required)")
	cmd.Flags().StringVar(&adapterType, "adapter-type", "", "adapter type (required)")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("adapter-type")
	return cmd
}

func newAgentSessionPolicyCmd(b *boundClient) *cobra.Command {
	group := &cobra.Command{Use: "session-policy", Short: "Per-agent session policy"}

	var name, dailyResetAt string
	var idleTimeoutMs int64
	var maxContextLength int
	set := &cobra.Command{
		Use:   "set",
		Short: "Update an agent's session policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := map[string]any{}
			if dailyResetAt != "" {
				policy["dailyResetAt"] = dailyResetAt
			}
			if idleTimeoutMs != 0 {
				policy["idleTimeoutMs"] = idleTimeoutMs
			}
			if maxContextLength != 0 {
				policy["maxContextLength"] = maxContextLength
			}
			return call(cmd.Context(), b, "agent.session-policy.set", map[string]any{
				"name": name, "sessionPolicy": policy,
			})
		},
	}
	set.Flags().StringVar(&name, "name", "", "agent name (required)")
	set.Flags().StringVar(&dailyResetAt, "daily-reset-at", "", `daily session reset time "HH:MM" (host-local)`)
	set.Flags().Int64Var(&idleTimeoutMs, "idle-timeout-ms", 0, "idle timeout before a session refresh, in ms")
	set.Flags().IntVar(&maxContextLength, "max-context-length", 0, "context length that triggers a refresh")
	_ = set.MarkFlagRequired("name")

	group.AddCommand(set)
	return group
}
