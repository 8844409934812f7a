package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var executeOnce bool

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Scan NewJob events and execute due jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		exec, _, err := a.executor(ctx)
		if err != nil {
			return err
		}
		if executeOnce {
			return exec.Tick(ctx)
		}
		return exec.Run(ctx)
	},
}

func init() {
	executeCmd.Flags().BoolVar(&executeOnce, "once", false, "run a single scan and execute pass, then exit")
}
