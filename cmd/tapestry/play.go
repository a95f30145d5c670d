package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/tapestry/internal/cli"
	"github.com/aretw0/tapestry/internal/presentation/tui"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
	"github.com/aretw0/tapestry/pkg/runner"
	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a single session in the terminal",
	Long: `Starts an interactive story. The first line you type sets the scene; every
line after that is what you do next. Type /help for the commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ref, _ := cmd.Flags().GetString("session")
		load, _ := cmd.Flags().GetString("load")
		author, _ := cmd.Flags().GetString("author")
		logger := newLogger(cfg)

		sc := cli.NewSignalContext(context.Background())
		defer sc.Cancel()

		out := cmd.OutOrStdout()
		var textOpts []runner.TextSinkOption
		if tui.IsTerminal(os.Stdout) {
			if render := tui.NewRenderer(); render != nil {
				textOpts = append(textOpts, runner.WithTextSinkRenderer(render))
			}
			tui.PrintBanner(out)
		}

		// The text sink prints before the result is handed back to the prompt loop.
		results := make(chan domain.Result, 1)
		notify := ports.SinkFunc(func(ctx context.Context, r domain.Result) error {
			select {
			case results <- r:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})

		a, err := newApp(sc, cfg, logger, nil, runner.NewTextSink(out, textOpts...), notify)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			a.Close(closeCtx)
		}()

		p := &player{app: a, ref: ref, author: author, out: out, results: results}
		if load != "" {
			// A failed load is reported by the sink; the player can still start fresh.
			_, _ = p.do(sc, domain.Action{Kind: domain.KindLoad, SessionRef: ref, ID: load})
		} else {
			fmt.Fprintln(out, "Describe where your story begins, or type /help.")
		}
		return p.loop(sc, cmd.InOrStdin())
	},
}

type player struct {
	app     *app
	ref     string
	author  string
	out     io.Writer
	results <-chan domain.Result
}

func (p *player) phase() domain.Phase {
	if s, ok := p.app.Snapshot(p.ref); ok {
		return s.Phase()
	}
	return domain.PhaseUninitialized
}

// loop reads lines until EXIT, EOF or an interrupt.
func (p *player) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(p.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(p.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		a, err := cli.ParseLine(line, p.phase(), p.ref)
		switch {
		case errors.Is(err, cli.ErrEmptyLine):
			continue
		case errors.Is(err, cli.ErrHelp):
			fmt.Fprint(p.out, cli.Help())
			continue
		case err != nil:
			fmt.Fprintf(p.out, "%v. Type /help for the commands.\n", err)
			continue
		}

		res, err := p.do(ctx, a)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if res.Kind == domain.KindExit && !res.Failed() {
			return nil
		}
	}
}

// do submits a and waits for its result. Rejected actions are reported and
// returned as errors.
func (p *player) do(ctx context.Context, a domain.Action) (domain.Result, error) {
	a.Author = p.author
	if err := a.Validate(); err != nil {
		fmt.Fprintln(p.out, domain.UserMessage(err))
		return domain.Result{}, err
	}
	if _, err := p.app.Submit(ctx, a); err != nil {
		fmt.Fprintln(p.out, domain.UserMessage(err))
		return domain.Result{}, err
	}
	select {
	case res := <-p.results:
		if res.Failed() {
			return res, errors.New(res.Error)
		}
		return res, nil
	case <-ctx.Done():
		return domain.Result{}, ctx.Err()
	}
}

func init() {
	rootCmd.AddCommand(playCmd)
	playCmd.Flags().StringP("session", "s", "local", "Session ref to play in")
	playCmd.Flags().String("load", "", "Load this save before the first prompt")
	playCmd.Flags().String("author", "", "Name shown in the episode log")
}
