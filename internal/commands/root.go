// Package commands wires the cobra command tree to the chat service.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lyra-chat/lyra-cli/internal/api"
	"github.com/lyra-chat/lyra-cli/internal/authstore"
	"github.com/lyra-chat/lyra-cli/internal/chat"
	"github.com/lyra-chat/lyra-cli/internal/config"
	"github.com/lyra-chat/lyra-cli/internal/logging"
)

// app holds the shared dependencies built once in PersistentPreRunE.
type app struct {
	cfg     *config.Config
	store   authstore.Store
	service *chat.Service
	log     *slog.Logger

	serverFlag string
	plainFlag  bool
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "lyra",
		Short:         "Chat with Lyra companions from your terminal",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.serverFlag, "server", "", "Override the API base URL")
	root.PersistentFlags().BoolVar(&a.plainFlag, "plain", false, "Disable markdown rendering")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newCharactersCmd(a),
		newChatCmd(a),
		newHistoryCmd(a),
	)
	return root
}

// Execute runs the CLI and reports errors to stderr.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.serverFlag != "" {
		cfg.BaseURL = a.serverFlag
	}
	a.cfg = cfg
	a.log = logging.New(logging.Options{File: cfg.Log.File, Level: cfg.Log.Level})

	authPath, err := config.AuthFile()
	if err != nil {
		return err
	}
	store, err := authstore.NewFileStore(authPath)
	if err != nil {
		return err
	}
	a.store = store

	client := api.NewClient(cfg.BaseURL, store,
		api.WithRetryPolicy(api.RetryPolicy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
		}),
		api.WithLogger(a.log),
		api.WithSessionInvalidated(func() {
			fmt.Fprintln(os.Stderr, "Session expired. Run `lyra login` to sign in again.")
		}),
	)
	a.service = chat.NewService(client, store, a.log)
	return nil
}

// usePlainText decides whether markdown rendering should be skipped based
// on the flag, the config, and the terminal environment.
func (a *app) usePlainText() bool {
	if a.plainFlag || a.cfg.Render.Format == "plain" {
		return true
	}

	// Redirected output gets plain text.
	if fileInfo, _ := os.Stdout.Stat(); fileInfo != nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			return true
		}
	}

	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return true
	}
	if term := os.Getenv("TERM"); term == "dumb" {
		return true
	}
	return false
}
