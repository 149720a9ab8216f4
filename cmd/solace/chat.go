package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/ent0n29/solace/internal/app"
	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/protocol"
)

var chatUser string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the pipeline from the terminal, streaming replies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		return chat(cmd.Context(), cfg, chatUser)
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "cli", "user id the conversation belongs to")
}

func chat(ctx context.Context, cfg config.Config, userID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	built, err := app.Build(ctx, cfg, app.NewLogger(cfg))
	if err != nil {
		return err
	}
	defer built.Cleanup()

	conv, err := built.Chat.Create(ctx, userID, "")
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "你> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".solace_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintf(out, "conversation %s (Ctrl+D to quit)\n", conv.ID)
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			return nil
		}

		render := &terminalRenderer{out: out}
		if _, err := built.Chat.SendStream(ctx, userID, conv.ID, text, render.Emit); err != nil {
			fmt.Fprintf(out, "\n[error] %v\n", err)
		}
	}
}

// terminalRenderer prints deltas inline and reprints the whole answer when
// the server replaces it.
type terminalRenderer struct {
	out     io.Writer
	started bool
}

func (r *terminalRenderer) Emit(ev protocol.Event) error {
	switch ev.Type {
	case protocol.TypeDelta:
		if !r.started {
			fmt.Fprint(r.out, "solace> ")
			r.started = true
		}
		fmt.Fprint(r.out, ev.Text)
	case protocol.TypeReplace:
		if r.started {
			fmt.Fprintln(r.out)
		}
		fmt.Fprintf(r.out, "solace> %s", ev.Text)
		r.started = true
	case protocol.TypeDone:
		fmt.Fprintf(r.out, "\n[risk %s]\n", ev.Risk)
	}
	return nil
}
