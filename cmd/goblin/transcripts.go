package main

import (
	"fmt"
	"strings"

	"github.com/RichardoC/goblin/internal/config"
	"github.com/RichardoC/goblin/internal/db"
	"github.com/RichardoC/goblin/internal/transcript"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

func newTranscriptsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transcripts",
		Aliases: []string{"logs"},
		Short:   "Browse archived chat transcripts",
	}

	// withDB opens the archive for the duration of fn.
	withDB := func(fn func(config.Config, *db.Database) error) error {
		loader, err := root.load()
		if err != nil {
			return err
		}
		cfg := loader.Get()
		database, err := db.New(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer database.Close()
		return fn(cfg, database)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List archived transcripts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(_ config.Config, database *db.Database) error {
				transcripts, err := database.GetTranscripts()
				if err != nil {
					return err
				}
				table := uitable.New()
				table.MaxColWidth = 60
				table.AddRow("ID", "MODEL", "STARTED", "PERSONAS")
				for _, tr := range transcripts {
					table.AddRow(tr.ID, tr.Model, tr.StartedAt.Local().Format("2006-01-02 15:04:05"), strings.Join(tr.Personas, ","))
				}
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one transcript in log format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(cfg config.Config, database *db.Database) error {
				tr, err := database.GetTranscript(args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), transcript.Format(*tr, cfg.Prompts.Dir))
				return nil
			})
		},
	}

	var limit int
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over archived messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(_ config.Config, database *db.Database) error {
				hits, err := database.SearchTranscripts(strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				table := uitable.New()
				table.MaxColWidth = 80
				table.Wrap = true
				table.AddRow("TRANSCRIPT", "ROLE", "CONTENT")
				for _, h := range hits {
					table.AddRow(h.TranscriptID, string(h.Role), h.Content)
				}
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
	search.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of hits")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a transcript from the archive (the log file is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(_ config.Config, database *db.Database) error {
				return database.DeleteTranscript(args[0])
			})
		},
	}

	cmd.AddCommand(list, show, search, del)
	return cmd
}
