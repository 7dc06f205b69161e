package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyra-chat/lyra-cli/internal/chat"
)

func newHistoryCmd(a *app) *cobra.Command {
	var characterID int64

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the conversation with a character",
		RunE: func(cmd *cobra.Command, args []string) error {
			messages, err := a.service.History(cmd.Context(), characterID)
			if err != nil {
				// A broken history fetch degrades to an empty
				// conversation instead of failing the command.
				a.log.Warn("failed to fetch history", "character", characterID, "error", err)
				messages = nil
			}
			if len(messages) == 0 {
				fmt.Println("No messages yet")
				return nil
			}
			for _, m := range messages {
				printMessage(m)
			}
			return nil
		},
	}

	cmd.PersistentFlags().Int64VarP(&characterID, "character", "c", 0, "Character id")
	_ = cmd.MarkPersistentFlagRequired("character")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the conversation with a character",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.service.ClearHistory(cmd.Context(), characterID); err != nil {
				return err
			}
			fmt.Println("History cleared")
			return nil
		},
	})

	return cmd
}

func printMessage(m chat.Message) {
	speaker := "you"
	if m.Role == chat.RoleAssistant {
		speaker = "them"
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04"), speaker, m.Text)
}
