package main

import "github.com/spf13/cobra"

func newEnvelopeCmd(b *boundClient) *cobra.Command {
	cmd := &cobra.Command{Use: "envelope", Short: "Envelope send/list/get (envelope.*)"}
	cmd.AddCommand(newEnvelopeSendCmd(b), newEnvelopeListCmd(b), newEnvelopeGetCmd(b))
	return cmd
}

func newEnvelopeSendCmd(b *boundClient) *cobra.Command {
	var from, to, text, deliverAt string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send an envelope to an agent or channel address",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{
				"from":    from,
				"to":      to,
				"content": map[string]any{"text": text},
			}
			if deliverAt != "" {
				params["deliverAt"] = deliverAt
			}
			return call(cmd.Context(), b, "envelope.send", params)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", `sender address, e.g. "agent:research" (required)`)
	cmd.Flags().StringVar(&to, "to", "", `destination address, e.g. "agent:research" (required)`)
	cmd.Flags().StringVar(&text, "text", "", "message body")
	cmd.Flags().StringVar(&deliverAt, "deliver-at", "", `relative ("+1h") or ISO-8601 delivery time`)
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newEnvelopeListCmd(b *boundClient) *cobra.Command {
	var status, agentName string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List envelopes, optionally filtered",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "envelope.list", nonEmptyParams(map[string]any{
				"status": status, "agentName": agentName, "limit": limit,
			}))
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending|done)")
	cmd.Flags().StringVar(&agentName, "agent", "", "filter by recipient/sender agent name")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows returned")
	return cmd
}

func newEnvelopeGetCmd(b *boundClient) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch one envelope by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "envelope.get", map[string]any{"id": id})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "envelope id or short id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
