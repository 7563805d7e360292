package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/breathlab/internal/archive"
	"github.com/user/breathlab/internal/session"
	"github.com/user/breathlab/internal/state"
	"github.com/user/breathlab/internal/types"
)

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().String("participant", "", "only sessions of this participant")
	statsCmd.Flags().Bool("json", false, "print JSON")
	statsCmd.Flags().Bool("rebuild", false, "re-import every stored result into the archive first")
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Per-level averages across archived sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		participant, _ := cmd.Flags().GetString("participant")
		asJSON, _ := cmd.Flags().GetBool("json")
		rebuild, _ := cmd.Flags().GetBool("rebuild")

		cfg := loadConfig()
		setupLogging(cfg)
		ctx := context.Background()

		arc, err := archive.Open(ctx, cfg.ResolvedArchivePath())
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer arc.Close()

		if rebuild {
			sessions, _, results := sessionStores(cfg)
			n, err := rebuildArchive(ctx, arc, sessions, results)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Imported %d sessions.\n", n)
		}

		stats, err := arc.Stats(ctx, participant)
		if err != nil {
			return fmt.Errorf("query archive: %w", err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}
		if len(stats) == 0 {
			fmt.Println("No archived sessions.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LEVEL\tSESSIONS\tCORRECT %\tREACTION s\tPUPIL\tBREATHS/MIN")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
				s.Level, s.Sessions,
				formatStat(s.CorrectRate, "%.1f"),
				formatStat(s.ReactionTime, "%.2f"),
				formatStat(s.PupilSize, "%.2f"),
				formatStat(s.RespiratoryRate, "%.1f"),
			)
		}
		return w.Flush()
	},
}

func formatStat(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

// rebuildArchive inserts every finished session that has a result document.
func rebuildArchive(ctx context.Context, arc *archive.Archive, sessions types.SessionStore, results types.ResultStore) (int, error) {
	list, err := sessions.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	n := 0
	for _, s := range list {
		if s.Status == types.StatusActive {
			continue
		}
		var res session.Result
		if err := results.Get(ctx, s.SessionID, &res); err != nil {
			if errors.Is(err, state.ErrNotFound) {
				continue
			}
			slog.Warn("skipping unreadable result", "session_id", s.SessionID, "error", err)
			continue
		}
		if err := arc.Insert(ctx, &res); err != nil {
			return n, fmt.Errorf("archive session %s: %w", s.SessionID, err)
		}
		n++
	}
	return n, nil
}
