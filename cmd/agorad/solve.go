package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/agora/internal/conference"
	"github.com/h1v3-io/agora/internal/config"
	"github.com/h1v3-io/agora/internal/relay"
	"github.com/h1v3-io/agora/internal/webctx"
	"github.com/h1v3-io/agora/pkg/protocol"
)

type solveFlags struct {
	context    string
	contextURL string
	attendees  int
	names      []string
	models     []string
	timeLimit  time.Duration
	asJSON     bool
	quiet      bool
}

func newSolveCmd(root *rootFlags) *cobra.Command {
	f := &solveFlags{}
	cmd := &cobra.Command{
		Use:   "solve <statement>",
		Short: "Run one conference and print every attendee's answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(cmd.Context(), root, f, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&f.context, "context", "", "background the attendees should know")
	cmd.Flags().StringVar(&f.contextURL, "context-url", "", "fetch background from this page")
	cmd.Flags().IntVarP(&f.attendees, "attendees", "n", 3, "number of attendees")
	cmd.Flags().StringSliceVar(&f.names, "name", nil, "attendee names, in seat order")
	cmd.Flags().StringSliceVar(&f.models, "model", nil, "attendee models, assigned round robin")
	cmd.Flags().DurationVarP(&f.timeLimit, "time-limit", "t", 30*time.Second, "discussion time budget")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the deliverable as JSON")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "do not print the discussion")
	return cmd
}

func runSolve(ctx context.Context, root *rootFlags, f *solveFlags, statement string, out, errOut io.Writer) error {
	cfg, _, err := config.Load(root.configPath)
	if err != nil {
		return err
	}
	if !root.verbose {
		cfg.Logging.Level = "warn"
	}
	cfg.Logging.Format = "text"
	logger, _, _ := newLogger(cfg.Logging, root.verbose, errOut)

	var extra []conference.SubscriberFactory
	if !f.quiet && !f.asJSON {
		extra = append(extra, relay.Factory(relay.NewConsole(out), relay.Options{}, logger))
	}
	a, err := wire(cfg, logger, extra...)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	problem := protocol.Problem{Statement: statement, Context: f.context}
	if f.contextURL != "" {
		page, err := webctx.New(webctx.WithMaxSize(cfg.Context.MaxBytes)).Fetch(ctx, f.contextURL)
		if err != nil {
			return err
		}
		problem.Context = strings.TrimSpace(problem.Context + "\n\n" + page.Context())
	}

	d, err := a.service.Solve(ctx, problem, protocol.SolveOptions{
		TimeLimit: f.timeLimit,
		Attendees: seats(f.attendees, f.names, f.models),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("interrupted")
		}
		return err
	}

	if f.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	fmt.Fprintln(out)
	for i, item := range d.Items {
		fmt.Fprintf(out, "%d. %s\n", i+1, item.Answer)
		if item.Rationale != "" {
			fmt.Fprintf(out, "   %s\n", item.Rationale)
		}
	}
	return nil
}

// seats builds n attendee options. Names fill seats in order; models are
// handed out round robin. Missing values fall back to provisioning
// defaults.
func seats(n int, names, models []string) []protocol.AttendeeOptions {
	if len(names) > n {
		n = len(names)
	}
	out := make([]protocol.AttendeeOptions, n)
	for i := range out {
		if i < len(names) {
			out[i].Name = names[i]
		}
		if len(models) > 0 {
			out[i].Model = models[i%len(models)]
		}
	}
	return out
}
