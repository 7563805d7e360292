package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/breathlab/internal/archive"
	"github.com/user/breathlab/internal/config"
	"github.com/user/breathlab/internal/nback"
	"github.com/user/breathlab/internal/notify"
	"github.com/user/breathlab/internal/observe"
	"github.com/user/breathlab/internal/protocol"
	"github.com/user/breathlab/internal/scheduler"
	"github.com/user/breathlab/internal/session"
	"github.com/user/breathlab/internal/state"
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("participant", "", "registered participant name")
	runCmd.Flags().String("level", "", "run a single level (easy, normal, hard) instead of the protocol")
	runCmd.Flags().Bool("no-trial", false, "skip the trial block")
	runCmd.Flags().Bool("yes", false, "start each block without waiting for Enter")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the experiment protocol",
	Long: `Run the experiment protocol: the optional trial block followed by each level.

During a block press Enter to respond to the current stimulus and type q
then Enter to abort the block.`,
	Args: cobra.NoArgs,
	RunE: runExperiment,
}

type runFlags struct {
	participant string
	level       string
	noTrial     bool
	yes         bool
}

func runExperiment(cmd *cobra.Command, args []string) error {
	var flags runFlags
	flags.participant, _ = cmd.Flags().GetString("participant")
	flags.level, _ = cmd.Flags().GetString("level")
	flags.noTrial, _ = cmd.Flags().GetBool("no-trial")
	flags.yes, _ = cmd.Flags().GetBool("yes")

	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	proto, err := protocol.Load(cfg.ResolvedProtocolPath())
	if err != nil {
		return fmt.Errorf("load protocol: %w", err)
	}
	blocks, err := selectBlocks(proto, flags)
	if err != nil {
		return err
	}

	participants := participantStore(cfg)
	if flags.participant != "" {
		p, err := participants.Get(flags.participant)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				return fmt.Errorf("participant %q is not registered (see breathlab participant add)", flags.participant)
			}
			return err
		}
		flags.participant = p.Name
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, events, results := sessionStores(cfg)

	sink := &session.StoreSink{
		Sessions:     sessions,
		Events:       events,
		Results:      results,
		Participants: participants,
	}
	if cfg.Archive.Enabled {
		arc, err := archive.Open(ctx, cfg.ResolvedArchivePath())
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer arc.Close()
		sink.Archive = arc
	}

	notifier := notify.NewRegistry(0)
	if err := notifier.Register("event-log", "", sink.Listener()); err != nil {
		return err
	}
	if err := notifier.Register("console", "", consoleListener(os.Stdout)); err != nil {
		return err
	}

	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	runner := session.New(sched, notifier, sink, session.Options{
		Participant: flags.participant,
		Engine:      proto.Config(false),
		Eye:         cfg.Eye.Bridge("eye"),
		Breath:      cfg.Breath.Bridge("breath"),
		Window:      cfg.Window(),
	})

	if cfg.HTTP.Enabled {
		srv := observe.NewServer(runner, sessions, events, results, cfg.HTTP.Token)
		go func() {
			if err := srv.Run(ctx, cfg.HTTP.Listen); err != nil {
				slog.Error("observe server error", "error", err)
			}
		}()
	}

	slog.Info("breathlab started",
		"data_dir", cfg.DataDir,
		"participant", flags.participant,
		"blocks", len(blocks),
		"eye_command", cfg.Eye.Command,
		"breath_command", cfg.Breath.Command,
		"pid_file", pidPath,
	)

	input := readLines(os.Stdin)
	for i, b := range blocks {
		if err := announceBlock(ctx, i, len(blocks), b, flags.yes, input); err != nil {
			return nil
		}
		res, err := runBlock(ctx, runner, b, input)
		if err != nil {
			return err
		}
		printResult(os.Stdout, res)
		if ctx.Err() != nil {
			slog.Info("shutting down")
			return nil
		}
	}
	return nil
}

func selectBlocks(proto *protocol.Protocol, flags runFlags) ([]protocol.Block, error) {
	if flags.level != "" {
		level, err := nback.ParseLevel(flags.level)
		if err != nil {
			return nil, err
		}
		return []protocol.Block{{Level: level, Config: proto.Config(false)}}, nil
	}
	blocks := proto.Plan()
	if flags.noTrial {
		kept := blocks[:0]
		for _, b := range blocks {
			if !b.Config.Trial {
				kept = append(kept, b)
			}
		}
		blocks = kept
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("protocol has no blocks to run")
	}
	return blocks, nil
}

// readLines forwards stdin lines until EOF.
func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			out <- strings.TrimSpace(scanner.Text())
		}
	}()
	return out
}

func announceBlock(ctx context.Context, i, n int, b protocol.Block, yes bool, input <-chan string) error {
	kind := b.Level.String()
	if b.Config.Trial {
		kind = "trial (" + kind + ")"
	}
	fmt.Fprintf(os.Stdout, "\nBlock %d/%d: %s, %ds\n", i+1, n, kind, b.Config.SessionSeconds)
	if yes {
		return nil
	}
	fmt.Fprintln(os.Stdout, "Press Enter to start.")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-input:
		if !ok {
			return io.EOF
		}
		return nil
	}
}

func runBlock(ctx context.Context, runner *session.Runner, b protocol.Block, input <-chan string) (*session.Result, error) {
	if _, err := runner.Start(ctx, b.Level, b.Config); err != nil {
		return nil, fmt.Errorf("start %s session: %w", b.Level, err)
	}
	done := runner.Done()

	for input != nil {
		select {
		case <-done:
			input = nil
			continue
		case line, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			var err error
			if strings.EqualFold(line, "q") {
				err = runner.Abort()
			} else {
				_, _, err = runner.RespondNow()
			}
			if err != nil && !errors.Is(err, session.ErrNoSession) {
				slog.Warn("input ignored", "error", err)
			}
		}
	}

	res, err := runner.Wait(context.Background())
	if err != nil {
		slog.Error("persist session failed", "error", err)
	}
	if res == nil {
		return nil, fmt.Errorf("session ended without a result")
	}
	return res, nil
}

// consoleListener prints the session as it unfolds.
func consoleListener(w io.Writer) notify.Listener {
	return func(n notify.Notification) error {
		switch n.Kind {
		case notify.KindPresentation:
			if ev, ok := n.Payload.(session.PresentationEvent); ok {
				fmt.Fprintf(w, "  stimulus %s\n", ev.Stimulus)
			}
		case notify.KindResponse:
			if resp, ok := n.Payload.(nback.Response); ok {
				fmt.Fprintf(w, "  %s\n", describeResponse(resp))
			}
		case notify.KindState:
			if ev, ok := n.Payload.(session.StateEvent); ok {
				fmt.Fprintf(w, "  [%s]\n", ev.To)
			}
		case notify.KindWarning:
			fmt.Fprintf(w, "  warning: %v\n", n.Payload)
		}
		return nil
	}
}

func describeResponse(r nback.Response) string {
	if r.Reaction.Kind == nback.PressedSpace {
		return fmt.Sprintf("%s (pressed after %.2fs)", r.Outcome, r.Reaction.ReactionTime)
	}
	return fmt.Sprintf("%s (no press)", r.Outcome)
}

func printResult(w io.Writer, res *session.Result) {
	fmt.Fprintf(w, "\nSession %s %s in %s\n", res.SessionID, res.Status, res.EndedAt.Sub(res.StartedAt).Round(time.Second))
	fmt.Fprintf(w, "  responses  %d\n", len(res.Responses))
	if res.CorrectRate != nil {
		fmt.Fprintf(w, "  correct    %.1f%%\n", *res.CorrectRate)
	}
	fmt.Fprintf(w, "  records    %d\n", len(res.CollectedData))
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "  warning    %s\n", warning)
	}
}

var _ observe.Controller = (*session.Runner)(nil)

// sessionStores opens the file stores under the data directory.
func sessionStores(cfg *config.Config) (*state.SessionStore, *state.EventStore, *state.ResultStore) {
	return state.NewSessionStore(cfg.DataDir), state.NewEventStore(cfg.DataDir), state.NewResultStore(cfg.DataDir)
}
