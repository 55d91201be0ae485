package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robff/rovercap/internal/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rover control server",
	Long: `Probe the rover's hardware and start the web server for remote control.
This allows driving the rover and starting recording sessions from your
smartphone or any device on the same network.

The server will display the local network URL for easy access from mobile devices.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Server.Port = port
		}

		hw := openHardware(cfg)

		// Stop any active session before the process dies.
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			slog.Info("shutting down")
			hw.shutdown()
			os.Exit(0)
		}()

		srv := server.New(cfg, hw.recorder, hw.astar, hw.drive)

		// Start server (this blocks)
		if err := srv.Start(); err != nil {
			hw.shutdown()
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the web server (overrides config)")
}
