// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/poiesic/kbpipe"
	"github.com/poiesic/kbpipe/config"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/schedule"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "kbpipe",
		Usage: "Index a document corpus and answer questions from it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the pipeline configuration file",
				Value:   "kbpipe.yaml",
				EnvVars: []string{"KBPIPE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run one pipeline once, resuming from its checkpoint",
				ArgsUsage: "<pipeline>",
				Action:    runCommand,
			},
			{
				Name:   "schedule",
				Usage:  "Run every pipeline on its interval until interrupted",
				Action: scheduleCommand,
			},
			{
				Name:   "status",
				Usage:  "Show checkpoint, lease and recent runs of each pipeline",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "runs",
						Usage: "Number of recent runs to show per pipeline",
						Value: 3,
					},
				},
			},
			{
				Name:      "reset",
				Usage:     "Clear a terminal failure so the pipeline is scheduled again",
				ArgsUsage: "<pipeline>",
				Action:    resetCommand,
			},
			{
				Name:  "credentials",
				Usage: "Inspect and synchronize pipeline credentials held by the index service",
				Subcommands: []*cli.Command{
					{
						Name:      "show",
						Usage:     "List credential fields and whether they are masked",
						ArgsUsage: "<pipeline>",
						Action:    credentialsShowCommand,
					},
					{
						Name:      "sync",
						Usage:     "Resolve declared credentials from the secret store and save them",
						ArgsUsage: "<pipeline>",
						Action:    credentialsSyncCommand,
					},
				},
			},
			{
				Name:   "ask",
				Usage:  "Answer a question from the index",
				Action: askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "query",
						Aliases:  []string{"q"},
						Usage:    "Question to answer",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "level",
						Usage: "Reasoning level (direct, balanced, thorough)",
						Value: "direct",
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	var level slog.Level
	switch strings.ToLower(c.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.String("log-level"))
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}

// openSystem loads the configuration named by the global flag and opens a System.
func openSystem(ctx context.Context, c *cli.Context, opts ...kbpipe.Option) (*kbpipe.System, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	opts = append(opts, kbpipe.WithLogger(slog.Default()))
	sys, err := kbpipe.Open(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open pipeline system: %w", err)
	}
	return sys, nil
}

func pipelineArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one pipeline name, got %d arguments", c.NArg())
	}
	return c.Args().First(), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

func runCommand(c *cli.Context) error {
	name, err := pipelineArg(c)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	sys, err := openSystem(ctx, c, kbpipe.WithProgress(os.Stderr))
	if err != nil {
		return err
	}
	defer sys.Close()

	def, err := sys.Definition(name)
	if err != nil {
		return err
	}
	run, err := sys.Scheduler().RunOnce(ctx, def)
	if run == nil && err == nil {
		fmt.Fprintf(c.App.Writer, "%s is already running elsewhere\n", name)
		return nil
	}
	if run != nil {
		printRun(c.App.Writer, run)
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", name, err)
	}
	return nil
}

func scheduleCommand(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	sys, err := openSystem(ctx, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	err = sys.Scheduler().Serve(ctx, sys.Definitions())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("scheduler stopped: %w", err)
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	ctx := context.Background()
	sys, err := openSystem(ctx, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	w := c.App.Writer
	for _, def := range sys.Definitions() {
		st, err := sys.Scheduler().Status(ctx, def)
		if err != nil {
			return fmt.Errorf("status of %s: %w", def.Name, err)
		}
		printStatus(w, st, c.Int("runs"))
	}
	return nil
}

func resetCommand(c *cli.Context) error {
	name, err := pipelineArg(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	sys, err := openSystem(ctx, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	run, err := sys.Scheduler().Reset(ctx, name)
	if errors.Is(err, schedule.ErrNothingToReset) {
		fmt.Fprintln(c.App.Writer, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reset %s: %w", name, err)
	}
	fmt.Fprintf(c.App.Writer, "%s: run %s is retryable again\n", name, run.ID)
	return nil
}

func credentialsShowCommand(c *cli.Context) error {
	name, err := pipelineArg(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	sys, err := openSystem(ctx, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	def, err := sys.Definition(name)
	if err != nil {
		return err
	}
	bundle, err := sys.Custodian().Load(ctx, def)
	if err != nil {
		return err
	}
	if len(bundle) == 0 {
		fmt.Fprintf(c.App.Writer, "%s has no stored credentials\n", name)
		return nil
	}
	for _, field := range bundle.Fields() {
		state := "set"
		if bundle[field].IsMasked() {
			state = "masked"
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", field, state)
	}
	return nil
}

func credentialsSyncCommand(c *cli.Context) error {
	name, err := pipelineArg(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	sys, err := openSystem(ctx, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	def, err := sys.Definition(name)
	if err != nil {
		return err
	}
	if err := sys.Custodian().Sync(ctx, def); err != nil {
		return fmt.Errorf("sync credentials of %s: %w", name, err)
	}
	fmt.Fprintf(c.App.Writer, "%s: %d credentials synchronized\n", name, len(def.Credentials))
	return nil
}

func askCommand(c *cli.Context) error {
	level, err := core.ParseReasoningLevel(c.String("level"))
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	sys, err := openSystem(ctx, c)
	if err != nil {
		return err
	}
	defer sys.Close()

	answer, err := sys.Router().Answer(ctx, &core.RetrievalRequest{
		Query: c.String("query"),
		Level: level,
	})
	if err != nil {
		return fmt.Errorf("failed to answer: %w", err)
	}
	printAnswer(c.App.Writer, answer)
	return nil
}

func printRun(w io.Writer, run *core.Run) {
	fmt.Fprintf(w, "run %s: %s\n", run.ID, run.State)
	fmt.Fprintf(w, "  batches: %d, items: %s, chunks: %s, image failures: %d\n",
		run.Batches, humanize.Comma(int64(run.ItemsCommitted)),
		humanize.Comma(int64(run.ChunksCommitted)), run.ImageFailures)
	if !run.FinishedAt.IsZero() && !run.StartedAt.IsZero() {
		fmt.Fprintf(w, "  took %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", run.Error)
	}
}

func printStatus(w io.Writer, st *schedule.Status, runs int) {
	fmt.Fprintf(w, "%s (version %s)\n", st.Definition, st.Version)
	if st.Checkpoint != nil {
		fmt.Fprintf(w, "  checkpoint: %s, committed %s\n",
			st.Checkpoint.Cursor, humanize.Time(st.Checkpoint.UpdatedAt))
	} else {
		fmt.Fprintln(w, "  checkpoint: none")
	}
	if st.Lease != nil {
		fmt.Fprintf(w, "  running on %s, lease expires %s\n", st.Lease.Holder, humanize.Time(st.Lease.ExpiresAt))
	}
	if st.Blocked {
		fmt.Fprintln(w, "  BLOCKED: latest run failed terminally; run reset after fixing the cause")
	}
	for i, run := range st.Runs {
		if i >= runs {
			break
		}
		fmt.Fprintf(w, "  %s %-9s %s items, started %s\n", run.ID, run.State,
			humanize.Comma(int64(run.ItemsCommitted)), humanize.Time(run.CreatedAt))
	}
}

func printAnswer(w io.Writer, answer *core.Answer) {
	fmt.Fprintln(w, answer.Text)
	if len(answer.Citations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for i, cite := range answer.Citations {
			ref := cite.DocumentID
			if cite.Title != "" {
				ref = cite.Title
			}
			fmt.Fprintf(w, "  [%d] %s (%s)", i+1, ref, cite.Location)
			if cite.URL != "" {
				fmt.Fprintf(w, " %s", cite.URL)
			}
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintf(w, "\n%s via %s in %s\n", answer.Level, answer.Strategy, answer.Latency.Round(time.Millisecond))
}
