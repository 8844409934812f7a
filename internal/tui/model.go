// Package tui is the interactive terminal front end of the transfer form.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"retrans/internal/configuration"
	"retrans/internal/logging"
	"retrans/internal/wallet"
)

var formFields = []struct {
	field       configuration.Field
	label       string
	placeholder string
}{
	{configuration.FieldRecipient, "Recipient:", "0x..."},
	{configuration.FieldAmount, "Amount:", "token amount per execution"},
	{configuration.FieldPeriod, "Period:", "seconds between executions"},
	{configuration.FieldExecutions, "Executions:", "default if empty"},
}

type Options struct {
	Controller *configuration.Controller
	Balances   wallet.BalanceProvider
	Theme      *Theme
	// ExportDir receives the .env file written by ctrl+e.
	ExportDir string
	Logger    *slog.Logger
}

type (
	stateMsg     configuration.FormState
	balanceMsg   wallet.Balance
	submittedMsg struct{ err error }
	exportedMsg  struct {
		path string
		err  error
	}
)

// Model composes the welcome banner, the create form, the transaction list,
// the stop section and the footer around one configuration controller.
type Model struct {
	ctx        context.Context
	controller *configuration.Controller
	balances   wallet.BalanceProvider
	theme      Theme
	exportDir  string
	log        *slog.Logger

	states <-chan configuration.FormState
	cancel func()

	inputs    []textinput.Model
	focus     int
	state     configuration.FormState
	balance   wallet.Balance
	submitErr string
	exportMsg string
	exportErr bool
	width     int
}

func NewModel(ctx context.Context, opts Options) (*Model, error) {
	if opts.Controller == nil {
		return nil, errors.New("controller is required")
	}
	theme := DefaultTheme()
	if opts.Theme != nil {
		theme = *opts.Theme
	}
	if opts.ExportDir == "" {
		opts.ExportDir = "."
	}
	states, cancel := opts.Controller.Subscribe()
	m := &Model{
		ctx:        ctx,
		controller: opts.Controller,
		balances:   opts.Balances,
		theme:      theme,
		exportDir:  opts.ExportDir,
		log:        logging.OrDefault(opts.Logger).With("component", "tui"),
		states:     states,
		cancel:     cancel,
		state:      opts.Controller.State(),
	}
	for i, f := range formFields {
		in := textinput.New()
		in.Prompt = ""
		in.Placeholder = f.placeholder
		in.CharLimit = 80
		in.Width = 48
		in.SetValue(m.state.Value(f.field))
		if i == 0 {
			in.Focus()
		}
		m.inputs = append(m.inputs, in)
	}
	return m, nil
}

// Close releases the state subscription.
func (m *Model) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.fetchBalance(), m.waitForState())
}

func (m *Model) waitForState() tea.Cmd {
	ch := m.states
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return stateMsg(s)
	}
}

func (m *Model) fetchBalance() tea.Cmd {
	account := m.state.Account
	if !account.Connected || m.balances == nil {
		return nil
	}
	m.balance.Loading = true
	ctx, p := m.ctx, m.balances
	return func() tea.Msg {
		return balanceMsg(wallet.Fetch(ctx, p, account.Address))
	}
}

func (m *Model) submit() tea.Cmd {
	if !m.state.CanSubmit() {
		return nil
	}
	m.submitErr = ""
	ctx, c := m.ctx, m.controller
	return func() tea.Msg {
		_, err := c.SubmitTransferAsync(ctx)
		return submittedMsg{err: err}
	}
}

func (m *Model) export() tea.Cmd {
	c, dir := m.controller, m.exportDir
	return func() tea.Msg {
		path, err := c.SaveEnvFile(dir)
		return exportedMsg{path: path, err: err}
	}
}

func (m *Model) setFocus(i int) tea.Cmd {
	n := len(m.inputs)
	m.focus = (i%n + n) % n
	var cmd tea.Cmd
	for j := range m.inputs {
		if j == m.focus {
			cmd = m.inputs[j].Focus()
		} else {
			m.inputs[j].Blur()
		}
	}
	return cmd
}

// syncInputs copies controller values into the inputs, e.g. after an account reset.
func (m *Model) syncInputs() {
	for i, f := range formFields {
		if v := m.state.Value(f.field); m.inputs[i].Value() != v {
			m.inputs[i].SetValue(v)
		}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case stateMsg:
		prev := m.state.Account
		m.state = configuration.FormState(msg)
		m.syncInputs()
		cmds := []tea.Cmd{m.waitForState()}
		if prev != m.state.Account {
			m.balance = wallet.Balance{}
			cmds = append(cmds, m.fetchBalance())
		}
		return m, tea.Batch(cmds...)

	case balanceMsg:
		m.balance = wallet.Balance(msg)
		return m, nil

	case submittedMsg:
		if msg.err != nil {
			m.submitErr = msg.err.Error()
			m.log.Debug("submission rejected", "err", msg.err)
		}
		m.state = m.controller.State()
		return m, nil

	case exportedMsg:
		m.exportErr = msg.err != nil
		if msg.err != nil {
			m.exportMsg = "Export failed: " + msg.err.Error()
		} else {
			m.exportMsg = "Saved " + msg.path
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.Close()
			return m, tea.Quit
		case "tab", "down":
			return m, m.setFocus(m.focus + 1)
		case "shift+tab", "up":
			return m, m.setFocus(m.focus - 1)
		case "enter":
			return m, m.submit()
		case "ctrl+e":
			return m, m.export()
		case "ctrl+r":
			return m, m.fetchBalance()
		case "ctrl+x":
			m.controller.ResetWrite()
			m.state = m.controller.State()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	field := formFields[m.focus].field
	if v := m.inputs[m.focus].Value(); v != m.state.Value(field) {
		if err := m.controller.UpdateField(field, v); err != nil {
			m.log.Warn("field update failed", "field", field, "err", err)
		}
		m.state = m.controller.State()
	}
	return m, cmd
}

func (m *Model) renderForm() string {
	t := m.theme
	var b strings.Builder
	b.WriteString(t.Heading.Render("Create a recurring transaction") + "\n")
	b.WriteString(t.Muted.Render(createTip) + "\n\n")
	for i, f := range formFields {
		if msg := m.state.Error(f.field); msg != "" {
			b.WriteString(t.Label.Render("") + t.Error.Render(msg) + "\n")
		}
		label := t.Label.Render(f.label)
		if i == m.focus {
			label = t.Label.Foreground(Primary).Render(f.label)
		}
		b.WriteString(label + m.inputs[i].View() + "\n")
	}
	if f := configuration.FieldExecutions; m.state.Value(f) == "" {
		b.WriteString(t.Label.Render("") + t.Muted.Render(fmt.Sprintf("%s executions will be used", m.controller.ExecutionsOrDefault())) + "\n")
	}
	b.WriteString("\n")
	if m.state.CanSubmit() {
		b.WriteString(t.Button.Render("Create recurring transaction") + t.Muted.Render("  enter"))
	} else {
		b.WriteString(t.Disabled.Render("Create recurring transaction"))
	}
	if m.submitErr != "" {
		b.WriteString("\n" + t.Error.Render(m.submitErr))
	}
	return b.String()
}

func (m *Model) View() string {
	t := m.theme
	sections := []string{
		t.Title.Render(AppTitle),
		t.Section.Render(RenderWelcome(t, m.state.Account, m.balance)),
		t.Section.Render(m.renderForm()),
		t.Section.Render(RenderTransactions(t, m.state.Write)),
		t.Section.Render(RenderStop(t, m.exportMsg, m.exportErr)),
		RenderInfo(t, m.width),
		t.Muted.Render("tab/shift+tab: move  enter: submit  ctrl+x: clear status  ctrl+r: refresh balance  esc: quit"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// Run starts the program and blocks until the user quits or ctx ends.
func Run(ctx context.Context, opts Options) error {
	m, err := NewModel(ctx, opts)
	if err != nil {
		return err
	}
	defer m.Close()
	_, err = tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen()).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
