package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"retrans/internal/tui"
)

var (
	tuiLogFile   string
	tuiExportDir string
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive transfer form",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// The alternate screen owns the terminal, so logs go to a file.
		logFile, err := os.OpenFile(tuiLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()

		a, err := newApp(ctx, logFile)
		if err != nil {
			return err
		}
		defer a.Close()

		controller, err := a.controller()
		if err != nil {
			return err
		}
		go controller.Watch(ctx, a.accounts)

		err = tui.Run(ctx, tui.Options{
			Controller: controller,
			Balances:   a.balances(),
			ExportDir:  tuiExportDir,
			Logger:     a.log,
		})
		controller.Wait()
		return err
	},
}

func init() {
	tuiCmd.Flags().StringVar(&tuiLogFile, "log-file", "retrans.log", "file receiving logs while the form is open")
	tuiCmd.Flags().StringVar(&tuiExportDir, "export-dir", ".", "directory receiving the exported .env file")
}
