package commands

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lyra-chat/lyra-cli/internal/api"
	"github.com/lyra-chat/lyra-cli/internal/render"
)

func newChatCmd(a *app) *cobra.Command {
	var characterID int64

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message to a character and stream the reply",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := resolveMessage(args)
			if err != nil {
				return err
			}

			// Ctrl-C cancels the stream instead of killing the process
			// mid-render.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			renderer := render.NewTerminalRenderer(a.usePlainText())
			_, err = a.service.SendMessage(ctx, characterID, message, func(chunk string) {
				if werr := renderer.Write(chunk); werr != nil {
					a.log.Warn("render failed", "error", werr)
				}
			})
			if flushErr := renderer.Flush(); flushErr != nil {
				a.log.Warn("render flush failed", "error", flushErr)
			}

			if api.IsCancelled(err) {
				fmt.Fprintln(os.Stderr, "cancelled")
				return nil
			}
			return err
		},
	}

	cmd.Flags().Int64VarP(&characterID, "character", "c", 0, "Character id to chat with")
	_ = cmd.MarkFlagRequired("character")
	return cmd
}

// resolveMessage takes the message from the argument or from piped stdin.
func resolveMessage(args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}

	if stat, err := os.Stdin.Stat(); err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max buffer
		var buf strings.Builder
		for scanner.Scan() {
			buf.WriteString(scanner.Text())
			buf.WriteByte('\n')
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		if message := strings.TrimSpace(buf.String()); message != "" {
			return message, nil
		}
	}

	return "", fmt.Errorf("no message provided")
}
