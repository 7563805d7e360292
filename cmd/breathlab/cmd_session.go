package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/breathlab/internal/session"
	"github.com/user/breathlab/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionEventsCmd, sessionClearCmd)

	sessionListCmd.Flags().String("participant", "", "only sessions of this participant")
	sessionShowCmd.Flags().Bool("json", false, "print the full result document")
	sessionEventsCmd.Flags().Int("limit", 50, "number of most recent events (0 for all)")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect recorded sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		participant, _ := cmd.Flags().GetString("participant")
		sessions, events, _ := sessionStores(loadConfig())

		ctx := context.Background()
		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPARTICIPANT\tLEVEL\tSTATUS\tEVENTS\tCREATED")
		shown := 0
		for _, s := range list {
			if participant != "" && !strings.EqualFold(s.Participant, participant) {
				continue
			}
			count, err := events.Count(ctx, s.SessionID)
			if err != nil {
				count = 0
			}
			level := s.Level
			if s.Trial {
				level += " (trial)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				s.SessionID,
				orDash(s.Participant),
				level,
				s.Status,
				count,
				s.CreatedAt.Format("2006-01-02 15:04:05"),
			)
			shown++
		}
		if shown == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the result of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, results := sessionStores(loadConfig())

		var res session.Result
		if err := results.Get(context.Background(), types.SessionID(args[0]), &res); err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(&res)
		}

		fmt.Fprintf(os.Stdout, "participant  %s\n", orDash(res.Participant))
		fmt.Fprintf(os.Stdout, "level        %s (trial %t)\n", res.Level, res.Trial)
		printResult(os.Stdout, &res)
		fmt.Fprintf(os.Stdout, "  pupil      %d samples\n", len(res.SerialData.PupilSizes))
		fmt.Fprintf(os.Stdout, "  breathing  %d estimates\n", len(res.SerialData.RespiratoryRates))
		return nil
	},
}

var sessionEventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Print the event log of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		_, events, _ := sessionStores(loadConfig())

		list, err := events.Tail(context.Background(), types.SessionID(args[0]), limit)
		if err != nil {
			return fmt.Errorf("read events: %w", err)
		}
		for _, ev := range list {
			fmt.Fprintf(os.Stdout, "%4d %s %-15s %s\n", ev.Seq, ev.At.Format("15:04:05.000"), ev.Type, ev.Payload)
		}
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <id|all>",
	Short: "Delete a session or all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		if args[0] == "all" {
			if err := os.RemoveAll(filepath.Join(cfg.DataDir, "sessions")); err != nil {
				return fmt.Errorf("remove sessions directory: %w", err)
			}
			fmt.Println("All sessions cleared.")
			return nil
		}

		sessions, _, _ := sessionStores(cfg)
		if err := sessions.Delete(context.Background(), types.SessionID(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Session %s cleared.\n", args[0])
		return nil
	},
}
