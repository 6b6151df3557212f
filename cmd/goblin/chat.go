package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/RichardoC/goblin/internal/chat"
	"github.com/RichardoC/goblin/internal/config"
	"github.com/RichardoC/goblin/internal/db"
	"github.com/RichardoC/goblin/internal/persona"
	"github.com/RichardoC/goblin/internal/transcript"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type chatOptions struct {
	model       string
	personas    []string
	temperature float64
	maxTurns    int
	rollback    bool
	stream      bool
	noSave      bool
}

func newChatCommand(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal; the session is saved on exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := root.load()
			if err != nil {
				return err
			}
			cfg := loader.Get()
			if !cmd.Flags().Changed("temperature") {
				opts.temperature = cfg.Model.Temperature
			}
			if !cmd.Flags().Changed("rollback") {
				opts.rollback = cfg.Session.Rollback(opts.rollback)
			}
			return runChat(cmd.Context(), cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model name (defaults to model.default)")
	cmd.Flags().StringSliceVarP(&opts.personas, "persona", "p", []string{"goblin.xml"}, "persona files under prompts.dir, merged in order")
	cmd.Flags().Float64VarP(&opts.temperature, "temperature", "t", 0.7, "sampling temperature")
	cmd.Flags().IntVar(&opts.maxTurns, "max-turns", 8, "keep only the last N user/assistant turns (0 keeps all)")
	cmd.Flags().BoolVar(&opts.rollback, "rollback", true, "drop the user message when the model call fails")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "print the reply as it is generated")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "do not save the transcript on exit")
	return cmd
}

func runChat(ctx context.Context, cfg config.Config, opts *chatOptions, in io.Reader, out io.Writer) (err error) {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		return err
	}

	lib := persona.NewLibrary(cfg.Prompts.Dir)
	system, err := lib.Merge(opts.personas)
	if err != nil {
		return err
	}

	completer, err := newCompleter(cfg.LLMSettings(), logger)
	if err != nil {
		return err
	}

	model := opts.model
	if model == "" {
		model = cfg.Model.Default
	}
	session := chat.New(completer,
		chat.WithSystemPrompt(system),
		chat.WithPersonas(opts.personas),
		chat.WithModel(model),
		chat.WithTemperature(opts.temperature),
		chat.WithMaxTokens(cfg.Model.MaxTokens),
		chat.WithMaxTurns(opts.maxTurns),
		chat.WithRollbackOnError(opts.rollback),
		chat.WithLogger(logger),
	)

	if !opts.noSave {
		defer func() {
			err = multierr.Append(err, saveSession(cfg, session, out, logger))
		}()
	}

	fmt.Fprintln(out, "Goblin chat ready. Type 'exit' to quit.")
	fmt.Fprintln(out)

	lines, readErr := readLines(ctx, in)
	for {
		fmt.Fprint(out, "You: ")
		var text string
		select {
		case <-ctx.Done():
			interrupted(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				interrupted(out)
				return readErr()
			}
			text = strings.TrimSpace(line)
		}
		switch strings.ToLower(text) {
		case "exit", "quit":
			fmt.Fprintln(out, "Bye.")
			return nil
		case "":
			continue
		}

		callCtx, cancel := withTimeout(ctx, cfg.Model.Timeout)
		sendErr := exchange(callCtx, session, text, opts.stream, out)
		cancel()
		if ctx.Err() != nil {
			interrupted(out)
			return nil
		}
		if sendErr != nil {
			fmt.Fprintf(out, "[SDK Error] %v\n", sendErr)
		}
	}
}

func interrupted(out io.Writer) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[Info] Session interrupted.")
}

// readLines feeds in line by line so the REPL can stop on ctx while a read
// is blocked. The returned func reports the read error once lines is closed.
func readLines(ctx context.Context, in io.Reader) (<-chan string, func() error) {
	lines := make(chan string)
	var err error
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		err = scanner.Err()
	}()
	return lines, func() error { return err }
}

func exchange(ctx context.Context, session *chat.Session, text string, stream bool, out io.Writer) error {
	if !stream {
		reply, err := session.Send(ctx, text)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Goblin: %s\n\n", reply)
		return nil
	}

	fmt.Fprint(out, "Goblin: ")
	_, err := session.SendStream(ctx, text, func(delta string) error {
		_, werr := fmt.Fprint(out, delta)
		return werr
	})
	fmt.Fprint(out, "\n\n")
	return err
}

// saveSession writes the transcript file and archives it. Archive failures
// are reported but do not hide a successful file save.
func saveSession(cfg config.Config, session *chat.Session, out io.Writer, logger *zap.Logger) error {
	if session.Len() == 0 {
		fmt.Fprintln(out, "[Info] No dialogue to save.")
		return nil
	}

	tr := session.Transcript(time.Now())
	writer := &transcript.Writer{Dir: cfg.Logs.Dir, PersonaDir: cfg.Prompts.Dir}
	path, err := writer.Save(tr)
	if err != nil {
		fmt.Fprintf(out, "[Save Error] %v\n", err)
		return err
	}
	tr.Path = path
	fmt.Fprintf(out, "[Saved] Dialogue saved to: %s\n", path)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		logger.Warn("transcript not archived", zap.Error(err))
		return nil
	}
	if err := multierr.Append(database.SaveTranscript(tr), database.Close()); err != nil {
		logger.Warn("transcript not archived", zap.Error(err))
	}
	return nil
}
