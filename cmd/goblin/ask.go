package main

import (
	"fmt"
	"strings"

	"github.com/RichardoC/goblin/internal/chat"
	"github.com/RichardoC/goblin/internal/llm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAskCommand(root *rootOptions) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send a single prompt and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := root.load()
			if err != nil {
				return err
			}
			cfg := loader.Get()

			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if err := cfg.Validate(); err != nil {
				return err
			}
			completer, err := newCompleter(cfg.LLMSettings(), logger)
			if err != nil {
				logger.Error("failed to initialize model client", zap.Error(err))
				return err
			}
			if model == "" {
				model = cfg.Model.Default
			}

			session := chat.New(completer,
				chat.WithModel(model),
				chat.WithTemperature(cfg.Model.Temperature),
				chat.WithMaxTokens(cfg.Model.MaxTokens),
				chat.WithLogger(logger),
			)

			ctx, cancel := withTimeout(cmd.Context(), cfg.Model.Timeout)
			defer cancel()
			reply, err := session.Send(ctx, strings.Join(args, " "))
			if err != nil {
				logger.Error("failed to generate completion", zap.Error(err), zap.String("kind", llm.KindName(err)))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model name (defaults to model.default)")
	return cmd
}
