package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *App) modelCmd() *cobra.Command {
	model := &cobra.Command{
		Use:   "model",
		Short: "Manage GGUF models in the models directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("model requires a subcommand: list|add|fetch")
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List models with size and modification time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.ModelList()
		},
	}
	add := &cobra.Command{
		Use:   "add <path>",
		Short: "Copy a model file into the models directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.ModelAdd(args[0])
		},
	}
	fetch := &cobra.Command{
		Use:   "fetch [url]",
		Short: "Download a model (default: the configured model URL)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawURL := ""
			if len(args) > 0 {
				rawURL = args[0]
			}
			o, err := a.ops()
			if err != nil {
				return err
			}
			return o.ModelFetch(cmd.Context(), rawURL)
		},
	}

	model.AddCommand(list, add, fetch)
	return model
}
