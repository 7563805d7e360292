package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/breathlab/internal/config"
	"github.com/user/breathlab/internal/state"
)

func init() {
	rootCmd.AddCommand(participantCmd)
	participantCmd.AddCommand(participantAddCmd, participantListCmd, participantRemoveCmd)

	participantAddCmd.Flags().Int("age", 0, "age in years")
	participantAddCmd.Flags().String("gender", "", "gender")
}

func participantStore(cfg *config.Config) *state.ParticipantStore {
	return state.NewParticipantStore(filepath.Join(cfg.DataDir, "participants.json"))
}

var participantCmd = &cobra.Command{
	Use:   "participant",
	Short: "Manage participants",
}

var participantAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a participant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		age, _ := cmd.Flags().GetInt("age")
		gender, _ := cmd.Flags().GetString("gender")

		p := &state.Participant{Name: args[0], Age: age, Gender: gender}
		if err := participantStore(loadConfig()).Add(p); err != nil {
			return fmt.Errorf("add participant: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Participant %q added.\n", p.Name)
		return nil
	},
}

var participantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List participants",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := participantStore(loadConfig()).List()
		if err != nil {
			return fmt.Errorf("list participants: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No participants registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tAGE\tGENDER\tLAST LEVEL\tREGISTERED")
		for _, p := range list {
			age := "-"
			if p.Age > 0 {
				age = fmt.Sprint(p.Age)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				p.Name, age, orDash(p.Gender), orDash(p.LevelTried),
				p.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

var participantRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a participant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := participantStore(loadConfig()).Remove(args[0]); err != nil {
			return fmt.Errorf("remove participant: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Participant %q removed.\n", args[0])
		return nil
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
