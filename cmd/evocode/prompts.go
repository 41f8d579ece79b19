package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrhq/evocode/pkg/agent/prompts"
	"github.com/entrhq/evocode/pkg/types"
)

func newPromptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Inspect and validate prompt files",
	}
	cmd.AddCommand(newPromptsValidateCmd(), newPromptsDefaultCmd())
	return cmd
}

func newPromptsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check that a prompts file defines every role",
		Long: `Parse a prompts file and check that every agent role has a system
prompt and that every user_prompt_template is a valid template. Without a
file the built-in prompts are checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			registry, err := prompts.LoadRegistry(path)
			if err != nil {
				return withExitCode(exitUsage, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: OK\n", registry.Source())
			for _, role := range types.AgentRoles {
				prompt, err := registry.SystemPrompt(role)
				if err != nil {
					return withExitCode(exitUsage, err)
				}
				fmt.Fprintf(out, "  %-26s %d chars\n", role, len(prompt))
			}
			return nil
		},
	}
}

func newPromptsDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default",
		Short: "Print the built-in prompts file",
		Long: `Print the built-in prompts.yaml. Redirect it to a file to start a
custom prompts file:

  evocode prompts default > prompts.yaml
  evocode run --prompts prompts.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(prompts.DefaultPromptsYAML())
			return err
		},
	}
}
