// Package cli holds the retrans command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath  string
	isDebug  bool
	fakeMode bool
)

var rootCmd = &cobra.Command{
	Use:   "retrans",
	Short: "Recurring ERC20 transfers",
	Long: `retrans creates recurring ERC20 token transfers through a job contract,
serves the transfer form over HTTP or in the terminal, and runs the executor
that triggers due jobs.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("CONFIG_PATH"), "config file (yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&fakeMode, "fake-chain", false, "use an in-memory chain that mines every write")

	rootCmd.AddCommand(serveCmd, tuiCmd, submitCmd, envCmd, templateCmd, validateCmd, ensOwnerCmd, executeCmd)
}
