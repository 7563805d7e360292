package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/breathlab/internal/config"
	"github.com/user/breathlab/internal/protocol"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("breathlab setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.DataDir = prompt(scanner, "Data directory", cfg.DataDir)
		cfg.Eye.Command = prompt(scanner, "Eye tracker command (prints pupil size per line)", cfg.Eye.Command)
		cfg.Breath.Command = prompt(scanner, "Breathing sensor command (prints amplitude per line)", cfg.Breath.Command)

		rate := prompt(scanner, "Breathing sample rate (Hz)", strconv.FormatFloat(cfg.Breath.SampleRate, 'f', -1, 64))
		if v, err := strconv.ParseFloat(rate, 64); err == nil && v > 0 {
			cfg.Breath.SampleRate = v
		}

		httpOn := prompt(scanner, "Enable observation HTTP API (y/n)", yesNo(cfg.HTTP.Enabled))
		cfg.HTTP.Enabled = strings.HasPrefix(strings.ToLower(httpOn), "y")
		if cfg.HTTP.Enabled {
			cfg.HTTP.Listen = prompt(scanner, "HTTP listen address", cfg.HTTP.Listen)
			cfg.HTTP.Token = prompt(scanner, "HTTP bearer token (optional)", cfg.HTTP.Token)
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)

		protoPath := cfg.ResolvedProtocolPath()
		if _, err := os.Stat(protoPath); os.IsNotExist(err) {
			if err := protocol.Default().Save(protoPath); err != nil {
				return fmt.Errorf("write protocol: %w", err)
			}
			fmt.Println("Default protocol written to", protoPath)
		}
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}
