package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a session without the web server",
	Long: `Start a recording session immediately and stop it on Ctrl+C or after
the given duration. Useful for scripted captures and for checking the
recording hardware without a remote.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		duration, _ := cmd.Flags().GetDuration("duration")

		hw := openHardware(cfg)
		defer hw.shutdown()

		if userID != "" {
			if _, err := hw.recorder.SetUserID(userID); err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
		}

		if !hw.recorder.StartRecording() {
			return fmt.Errorf("no capture stream could be started")
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		if duration > 0 {
			slog.Info("recording", "duration", duration)
			select {
			case <-time.After(duration):
			case <-sigChan:
				slog.Info("interrupted")
			}
		} else {
			slog.Info("recording, press Ctrl+C to stop")
			<-sigChan
		}

		hw.recorder.StopRecording()
		return nil
	},
}

func init() {
	recordCmd.Flags().StringP("user", "u", "", "user id for the session directory")
	recordCmd.Flags().DurationP("duration", "d", 0, "stop automatically after this duration (0 = until interrupted)")
}
