package tui

import (
	"strings"

	"retrans/internal/configuration"
	"retrans/internal/wallet"
)

const (
	AppTitle  = "ReTrans"
	introText = "You can use this tool to create, display or delete recurring ERC20 token transfers from your address to another address."
	createTip = "Connect the account that will pay for the transfers, then fill in the recipient, amount per execution and period in seconds."
	listTodo  = "Listing the recurring transactions of this address is not available yet."
	stopTodo  = "Stopping a recurring transaction on chain is not available yet. You can export the .env file for the connected account."
	// Disclaimer is the informational footer.
	Disclaimer = "DISCLAIMER: This tool is provided as is under the BSD 2-Clause License. It is in its infancy and comes with no guarantees. Consider it alpha and do not use it for production."
)

// RenderWelcome shows the active address and its balance.
func RenderWelcome(t Theme, account wallet.Account, bal wallet.Balance) string {
	var b strings.Builder
	b.WriteString(t.Text.Render(introText))
	b.WriteString("\n\n")
	address := ""
	if account.Connected {
		address = account.Address.Hex()
	}
	b.WriteString(t.Text.Render("Your address is: ") + t.Bold.Render(address) + "\n")
	b.WriteString(t.Text.Render("Your balance is: ") + t.Bold.Render(bal.String()))
	if bal.Loading {
		b.WriteString("\n" + t.Muted.Render("Loading balance..."))
	}
	if bal.Err != nil {
		b.WriteString("\n" + t.Error.Render("Error loading balance"))
	}
	return b.String()
}

// RenderTransactions shows the state of the last submission.
func RenderTransactions(t Theme, w configuration.WriteStatus) string {
	var b strings.Builder
	b.WriteString(t.Heading.Render("Show Recurring Transactions") + "\n")
	b.WriteString(t.Muted.Render(listTodo) + "\n")
	if w.Stage == configuration.StageIdle && w.Error == nil {
		return b.String()
	}
	state := "done"
	style := t.Success
	if w.Pending() {
		state = "pending"
		style = t.Pending
	}
	b.WriteString(t.Label.Render("State:") + style.Render(state) + t.Muted.Render(" ("+string(w.Stage)+")") + "\n")
	if w.ApprovalTx != "" {
		b.WriteString(t.Label.Render("Approval:") + t.Text.Render(w.ApprovalTx) + "\n")
	}
	if w.JobTx != "" {
		b.WriteString(t.Label.Render("Job:") + t.Text.Render(w.JobTx) + "\n")
	}
	if w.Error != nil {
		b.WriteString(t.Error.Render(w.Error.Message) + "\n")
	}
	if w.Stage == configuration.StageJobConfirmed {
		b.WriteString(t.Success.Render("Recurring transaction created successfully!") + "\n")
	}
	return b.String()
}

// RenderStop is the stop-transaction section with the env export action.
func RenderStop(t Theme, exportMsg string, exportErr bool) string {
	var b strings.Builder
	b.WriteString(t.Heading.Render("Stop Recurring Transaction") + "\n")
	b.WriteString(t.Muted.Render(stopTodo) + "\n")
	b.WriteString(t.Text.Render("ctrl+e: export .env"))
	if exportMsg != "" {
		style := t.Success
		if exportErr {
			style = t.Error
		}
		b.WriteString("\n" + style.Render(exportMsg))
	}
	return b.String()
}

func RenderInfo(t Theme, width int) string {
	style := t.Muted
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(Disclaimer)
}
