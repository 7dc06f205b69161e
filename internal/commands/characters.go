package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCharactersCmd(a *app) *cobra.Command {
	var tags []string

	cmd := &cobra.Command{
		Use:   "characters",
		Short: "List available characters",
		RunE: func(cmd *cobra.Command, args []string) error {
			characters, err := a.service.Characters(cmd.Context(), tags)
			if err != nil {
				return err
			}
			if len(characters) == 0 {
				fmt.Println("No characters found")
				return nil
			}
			for _, c := range characters {
				line := fmt.Sprintf("%4d  %s", c.ID, c.Name)
				if len(c.Tags) > 0 {
					line += "  [" + strings.Join(c.Tags, ", ") + "]"
				}
				fmt.Println(line)
				if c.Description != "" {
					fmt.Printf("      %s\n", c.Description)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Filter by tag (repeatable)")
	return cmd
}
