package cli

import (
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"retrans/internal/configuration"
)

var submitFlags struct {
	recipient  string
	amount     string
	period     string
	executions string
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Approve the token and create a recurring transfer job",
	Example: `  retrans submit --recipient 0xAb58...eC9B --amount 1000000 --period 86400
  retrans submit --recipient 0xAb58...eC9B --amount 5 --period 3600 --executions 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		controller, err := a.controller()
		if err != nil {
			return err
		}
		for field, value := range map[configuration.Field]string{
			configuration.FieldRecipient:  submitFlags.recipient,
			configuration.FieldAmount:     submitFlags.amount,
			configuration.FieldPeriod:     submitFlags.period,
			configuration.FieldExecutions: submitFlags.executions,
		} {
			if err := controller.UpdateField(field, value); err != nil {
				return err
			}
		}

		status, err := controller.SubmitTransfer(ctx)
		var verr *configuration.ValidationError
		if errors.As(err, &verr) {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(status); encErr != nil {
			return encErr
		}
		return err
	},
}

func init() {
	f := submitCmd.Flags()
	f.StringVar(&submitFlags.recipient, "recipient", "", "recipient address")
	f.StringVar(&submitFlags.amount, "amount", "", "token amount per execution, in base units")
	f.StringVar(&submitFlags.period, "period", "", "seconds between executions")
	f.StringVar(&submitFlags.executions, "executions", "", "number of executions (default from config)")
	_ = submitCmd.MarkFlagRequired("recipient")
	_ = submitCmd.MarkFlagRequired("amount")
	_ = submitCmd.MarkFlagRequired("period")
}
