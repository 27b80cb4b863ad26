package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zakki0925224/aident/internal/config"
)

func newAskCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send a single prompt without conversation context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath, flags.envFile)
			if err != nil {
				return err
			}
			llmService, err := newLLMService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			completion, err := llmService.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), completion)
			return nil
		},
	}
}
