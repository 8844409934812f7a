package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"retrans/internal/ens"
	"retrans/internal/envfile"
	"retrans/internal/validate"
)

var envFlags struct {
	amount  string
	address string
	dir     string
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Render the delivery service .env file",
	Long:  "Prints the .env file for an amount and account, or writes it to --dir.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if envFlags.address != "" && !validate.IsAddress(envFlags.address) {
			return errors.New(validate.MsgInvalidAddress)
		}
		content := envfile.ConfigureEnv(envFlags.amount, envFlags.address)
		if envFlags.dir == "" {
			return envfile.Write(cmd.OutOrStdout(), content+"\n")
		}
		path, err := envfile.Save(envFlags.dir, envfile.DefaultName, content)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var templateDefaults bool

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Print the delivery service configuration template",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !templateDefaults {
			return envfile.Write(cmd.OutOrStdout(), envfile.ConfigurationTemplate)
		}
		d, err := envfile.Defaults()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "messageTTL=%d\nsizeLimit=%d\n", d.MessageTTL, d.SizeLimit)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:       "validate <" + strings.Join(validate.Kinds, "|") + "> <value>",
	Short:     "Run one field check",
	Args:      cobra.ExactArgs(2),
	ValidArgs: validate.Kinds,
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, msg, err := validate.Check(args[0], args[1])
		if err != nil {
			return err
		}
		if !ok {
			return errors.New(msg)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

type ownerReport struct {
	Name    string `json:"name"`
	Owner   string `json:"owner"`
	Account string `json:"account,omitempty"`
	IsOwner bool   `json:"isOwner"`
	Message string `json:"message,omitempty"`
}

var ensOwnerCmd = &cobra.Command{
	Use:   "ens-owner <name>",
	Short: "Look up the registry owner of an ENS name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ens.Normalize(args[0])
		if !validate.ValidateEns(name, nil) {
			return errors.New(validate.MsgInvalidEns)
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.requireClient(); err != nil {
			return err
		}

		owner, err := a.resolver().Owner(ctx, name)
		if err != nil {
			return err
		}
		report := ownerReport{Name: name, Owner: owner.Hex()}
		if account := a.accounts.Current(); account.Connected {
			report.Account = account.Address.Hex()
			report.IsOwner = owner != (common.Address{}) && owner == account.Address
			if !report.IsOwner {
				report.Message = ens.MsgNotOwner
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	envCmd.Flags().StringVar(&envFlags.amount, "amount", "", "amount written to the file")
	envCmd.Flags().StringVar(&envFlags.address, "address", "", "account used for key creation")
	envCmd.Flags().StringVar(&envFlags.dir, "dir", "", "write .env into this directory instead of stdout")
	templateCmd.Flags().BoolVar(&templateDefaults, "defaults", false, "print only the decoded default values")
}
