package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/breathlab/internal/respiration"
	"github.com/user/breathlab/internal/sensor"
)

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().Duration("duration", 10*time.Second, "how long to read (0 until the sensor exits)")
}

var probeCmd = &cobra.Command{
	Use:       "probe <eye|breath>",
	Short:     "Run one sensor process and print its decoded output",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"eye", "breath"},
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		cfg := loadConfig()
		setupLogging(cfg)

		var (
			bc     sensor.Config
			window *respiration.Window
		)
		switch args[0] {
		case "eye":
			bc = cfg.Eye.Bridge("eye")
		case "breath":
			bc = cfg.Breath.Bridge("breath")
			w, err := respiration.NewWindow(cfg.Window(), respiration.CrossingEstimator{})
			if err != nil {
				return fmt.Errorf("respiration window: %w", err)
			}
			window = w
		default:
			return fmt.Errorf("unknown sensor %q (want eye or breath)", args[0])
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		var data, messages, errs int
		bridge := sensor.NewBridge(bc, func(ev sensor.Event) {
			switch ev.Kind {
			case sensor.KindData:
				data++
				line := fmt.Sprintf("%s data    %g", ev.At.Format("15:04:05.000"), ev.Value)
				if window != nil {
					if bpm := window.Add(ev.Value); bpm != nil {
						line += fmt.Sprintf("  -> %d breaths/min", *bpm)
					}
				}
				fmt.Fprintln(os.Stdout, line)
			case sensor.KindMessage:
				messages++
				fmt.Fprintf(os.Stdout, "%s message %s\n", ev.At.Format("15:04:05.000"), ev.Text)
			case sensor.KindError:
				errs++
				fmt.Fprintf(os.Stdout, "%s error   %q\n", ev.At.Format("15:04:05.000"), ev.Text)
			}
		})

		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("start %s sensor: %w", bc.Name, err)
		}
		select {
		case <-bridge.Done():
		case <-ctx.Done():
			bridge.Stop()
			<-bridge.Done()
		}

		fmt.Fprintf(os.Stdout, "\n%s: %d data, %d messages, %d errors\n", bc.Name, data, messages, errs)
		return nil
	},
}
