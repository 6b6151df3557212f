package main

import (
	"fmt"

	"github.com/RichardoC/goblin/internal/config"
	"github.com/RichardoC/goblin/internal/persona"
	"github.com/spf13/cobra"
)

func newModelsCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List selectable models from the model catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := root.load()
			if err != nil {
				return err
			}
			names, err := config.LoadModels(loader.Get().Model.Catalog)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v; using built-in list\n", err)
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newPersonasCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List persona XML files under the prompts directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := root.load()
			if err != nil {
				return err
			}
			lib := persona.NewLibrary(loader.Get().Prompts.Dir)
			names, err := lib.Scan()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No .xml files found under %s\n", lib.Dir())
				return nil
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}
