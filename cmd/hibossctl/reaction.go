package main

import "github.com/spf13/cobra"

func newReactionCmd(b *boundClient) *cobra.Command {
	var agentName, adapterType, chatID, channelMessageID, emoji string
	cmd := &cobra.Command{Use: "reaction", Short: "Channel message reactions (reaction.*)"}
	set := &cobra.Command{
		Use:   "set",
		Short: "Set an emoji reaction on a previously-sent channel message",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), b, "reaction.set", map[string]any{
				"agentName":        agentName,
				"adapterType":      adapterType,
				"chatId":           chatID,
				"channelMessageId": channelMessageID,
				"emoji":            emoji,
			})
		},
	}
	set.Flags().StringVar(&agentName, "agent", "", "agent whose binding to use (required)")
	set.Flags().StringVar(&adapterType, "adapter-type", "", "adapter type, e.g. telegram|discord (required)")
	set.Flags().StringVar(&chatID, "chat-id", "", "chat id (required)")
	set.Flags().StringVar(&channelMessageID, "channel-message-id", "", "platform message id (required)")
	set.Flags().StringVar(&emoji, "emoji", "", "emoji to set (required)")
	_ = set.MarkFlagRequired("agent")
	_ = set.MarkFlagRequired("adapter-type")
	_ = set.MarkFlagRequired("chat-id")
	_ = set.MarkFlagRequired("channel-message-id")
	_ = set.MarkFlagRequired("emoji")
	cmd.AddCommand(set)
	return cmd
}
