// Package configuration owns the recurring-transfer form: field state,
// validation errors and the on-chain submission saga.
package configuration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"retrans/internal/chain"
	"retrans/internal/contracts"
	"retrans/internal/envfile"
	"retrans/internal/logging"
	"retrans/internal/validate"
	"retrans/internal/wallet"
)

var (
	ErrSubmissionInFlight = errors.New("a submission is already in flight")
	ErrNotConnected       = errors.New("no connected account")
	ErrNotOwner           = errors.New("account does not own the ens name")
	ErrNoResolver         = errors.New("ens resolution is not configured")
	ErrAccountChanged     = errors.New("account changed during submission")
)

// ValidationError lists the field messages that blocked an action.
type ValidationError struct {
	Fields map[Field]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		keys = append(keys, string(f))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[Field(k)])
	}
	return "invalid form: " + strings.Join(parts, ", ")
}

// DefaultNativeFee is the value attached to createJob (0.01 in 18-decimal native units).
var DefaultNativeFee = big.NewInt(1e16)

const DefaultExecutions = 10

// Settings are the fixed contract parameters of a submission.
type Settings struct {
	Token             common.Address
	Recurring         common.Address
	NativeFee         *big.Int
	DefaultExecutions uint64
}

// OwnershipChecker resolves whether an account owns an ENS name.
type OwnershipChecker interface {
	IsAccountOwner(ctx context.Context, name string, account common.Address, setErr validate.ErrorSetter) bool
}

type Options struct {
	Writer   chain.Writer
	Owners   OwnershipChecker
	Settings Settings
	Account  wallet.Account
	Logger   *slog.Logger
	// OnStage is called after every saga stage change, outside the controller lock.
	OnStage func(Stage, *StepError)
}

// Controller is the single owner of a FormState. All methods are safe for concurrent use.
type Controller struct {
	writer   chain.Writer
	owners   OwnershipChecker
	settings Settings
	log      *slog.Logger
	onStage  func(Stage, *StepError)

	mu    sync.Mutex
	state FormState
	// gen changes on every account switch so a stale saga stops reporting.
	gen  uint64
	subs broadcaster[FormState]
	wg   sync.WaitGroup
}

func NewController(opts Options) (*Controller, error) {
	if opts.Writer == nil {
		return nil, fmt.Errorf("contract writer is required")
	}
	s := opts.Settings
	if s.Token == (common.Address{}) {
		return nil, fmt.Errorf("token contract address is required")
	}
	if s.Recurring == (common.Address{}) {
		return nil, fmt.Errorf("recurring transactions contract address is required")
	}
	if s.NativeFee == nil {
		s.NativeFee = new(big.Int).Set(DefaultNativeFee)
	}
	if s.DefaultExecutions == 0 {
		s.DefaultExecutions = DefaultExecutions
	}
	return &Controller{
		writer:   opts.Writer,
		owners:   opts.Owners,
		settings: s,
		log:      logging.OrDefault(opts.Logger).With("component", "configuration"),
		onStage:  opts.OnStage,
		state:    NewFormState(opts.Account),
	}, nil
}

func (c *Controller) Settings() Settings {
	return c.settings
}

// State returns a snapshot of the form.
func (c *Controller) State() FormState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Subscribe delivers a snapshot after every change. Slow readers only see the latest.
func (c *Controller) Subscribe() (<-chan FormState, func()) {
	return c.subs.subscribe()
}

// apply must be called with c.mu held.
func (c *Controller) apply(ev Event) {
	c.state = Reduce(c.state, ev)
	c.subs.publish(c.state.Clone())
}

// UpdateField sets a field and clears its error.
func (c *Controller) UpdateField(field Field, value string) error {
	if !editable[field] {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apply(FieldEdited{Field: field, Value: value})
	return nil
}

// OnAccountChanged resets every field, error and write status when the
// active address differs from the current one.
func (c *Controller) OnAccountChanged(a wallet.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a.Address != c.state.Account.Address {
		c.gen++
		c.log.Info("account changed, form reset", "account", a.String())
	}
	c.apply(AccountChanged{Account: a})
}

// Watch follows p until ctx is done.
func (c *Controller) Watch(ctx context.Context, p wallet.Provider) {
	ch, cancel := p.Subscribe()
	defer cancel()
	c.OnAccountChanged(p.Current())
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-ch:
			if !ok {
				return
			}
			c.OnAccountChanged(a)
		}
	}
}

// ExportEnvFile renders the environment file for the current amount and account.
func (c *Controller) ExportEnvFile() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	address := ""
	if c.state.Account.Connected {
		address = c.state.Account.Address.Hex()
	}
	return envfile.ConfigureEnv(c.state.Amount, address)
}

// SaveEnvFile writes ExportEnvFile to dir and returns the path.
func (c *Controller) SaveEnvFile(dir string) (string, error) {
	return envfile.Save(dir, envfile.DefaultName, c.ExportEnvFile())
}

type submission struct {
	id        string
	gen       uint64
	recipient common.Address
	amount    *big.Int
	period    *big.Int
	total     *big.Int
}

// prepare validates the draft and, on success, moves the saga to approval-pending.
func (c *Controller) prepare() (submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Write.Pending() {
		return submission{}, ErrSubmissionInFlight
	}

	s := c.state
	// The recipient is checked first and alone, matching the form's ordering of messages.
	if !validate.ValidateAddress(s.Recipient, nil) {
		fields := map[Field]string{FieldRecipient: validate.MsgInvalidAddress}
		c.apply(ValidationFailed{Errors: fields})
		c.log.Debug("submission rejected", "reason", "recipient")
		return submission{}, &ValidationError{Fields: fields}
	}

	fields := map[Field]string{}
	setter := func(f Field) validate.ErrorSetter {
		return func(msg string) { fields[f] = msg }
	}
	amount, _ := validate.ValidateUint(s.Amount, setter(FieldAmount), false)
	period, _ := validate.ValidateUint(s.Period, setter(FieldPeriod), false)
	executions := new(big.Int).SetUint64(c.settings.DefaultExecutions)
	if strings.TrimSpace(s.Executions) != "" {
		executions, _ = validate.ValidateUint(s.Executions, setter(FieldExecutions), false)
	}
	if len(fields) > 0 {
		c.apply(ValidationFailed{Errors: fields})
		return submission{}, &ValidationError{Fields: fields}
	}
	if !s.Account.Connected {
		return submission{}, ErrNotConnected
	}

	sub := submission{
		id:        uuid.NewString(),
		gen:       c.gen,
		recipient: common.HexToAddress(s.Recipient),
		amount:    amount,
		period:    period,
		total:     new(big.Int).Mul(amount, executions),
	}
	c.apply(WriteStatusChanged{Status: WriteStatus{SubmissionID: sub.id, Stage: StageApprovalPending}})
	return sub, nil
}

// SubmitTransfer validates the draft and runs the saga to completion:
// approve amount*executions for the recurring contract, wait, then createJob
// with the native fee attached, and wait. A failed approval never issues createJob.
func (c *Controller) SubmitTransfer(ctx context.Context) (WriteStatus, error) {
	sub, err := c.prepare()
	if err != nil {
		return c.State().Write, err
	}
	c.wg.Add(1)
	defer c.wg.Done()
	err = c.run(ctx, sub)
	return c.State().Write, err
}

// SubmitTransferAsync validates synchronously and runs the saga in the
// background. Progress is observed through State or Subscribe.
func (c *Controller) SubmitTransferAsync(ctx context.Context) (string, error) {
	sub, err := c.prepare()
	if err != nil {
		return "", err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.run(ctx, sub)
	}()
	return sub.id, nil
}

// Wait blocks until background submissions finish.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) run(ctx context.Context, sub submission) error {
	log := c.log.With("submission", sub.id)
	c.notify(sub, StageApprovalPending, nil)

	log.Info("requesting allowance", "spender", c.settings.Recurring.Hex(), "total", sub.total.String())
	approveHash, err := c.writeAndWait(ctx, chain.WriteRequest{
		Contract: c.settings.Token,
		ABI:      contracts.ERC20,
		Method:   contracts.MethodApprove,
		Args:     []any{c.settings.Recurring, sub.total},
	}, func(h common.Hash) {
		c.update(sub, func(w *WriteStatus) { w.ApprovalTx = h.Hex() })
	})
	if err != nil {
		stepErr := newStepError("approve", err)
		c.update(sub, func(w *WriteStatus) { w.Stage = StageApprovalFailed; w.Error = stepErr })
		c.notify(sub, StageApprovalFailed, stepErr)
		log.Error("allowance approval failed", "kind", stepErr.Kind.String(), "error", err)
		return fmt.Errorf("approve: %w", err)
	}
	c.update(sub, func(w *WriteStatus) { w.Stage = StageApprovalConfirmed })
	c.notify(sub, StageApprovalConfirmed, nil)
	log.Info("allowance approved", "tx", approveHash.Hex())

	if c.stale(sub) {
		log.Warn("account changed after approval, job not created")
		return ErrAccountChanged
	}
	c.update(sub, func(w *WriteStatus) { w.Stage = StageJobPending })
	c.notify(sub, StageJobPending, nil)
	jobHash, err := c.writeAndWait(ctx, chain.WriteRequest{
		Contract: c.settings.Recurring,
		ABI:      contracts.RecurringTransactions,
		Method:   contracts.MethodCreateJob,
		Args:     []any{sub.period, sub.amount, sub.recipient, c.settings.Token},
		Value:    new(big.Int).Set(c.settings.NativeFee),
	}, func(h common.Hash) {
		c.update(sub, func(w *WriteStatus) { w.JobTx = h.Hex() })
	})
	if err != nil {
		stepErr := newStepError("createJob", err)
		c.update(sub, func(w *WriteStatus) { w.Stage = StageJobFailed; w.Error = stepErr })
		c.notify(sub, StageJobFailed, stepErr)
		log.Error("job creation failed", "kind", stepErr.Kind.String(), "error", err)
		return fmt.Errorf("createJob: %w", err)
	}
	c.update(sub, func(w *WriteStatus) { w.Stage = StageJobConfirmed })
	c.notify(sub, StageJobConfirmed, nil)
	log.Info("recurring job created", "tx", jobHash.Hex(), "period", sub.period.String(), "recipient", sub.recipient.Hex())
	return nil
}

func (c *Controller) writeAndWait(ctx context.Context, req chain.WriteRequest, sent func(common.Hash)) (common.Hash, error) {
	hash, err := c.writer.Write(ctx, req)
	if err != nil {
		return common.Hash{}, err
	}
	sent(hash)
	if _, err := c.writer.WaitMined(ctx, hash); err != nil {
		return hash, err
	}
	return hash, nil
}

// update mutates the write status unless the account changed since sub started.
func (c *Controller) update(sub submission, fn func(*WriteStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != sub.gen || c.state.Write.SubmissionID != sub.id {
		return
	}
	w := c.state.Write
	fn(&w)
	c.apply(WriteStatusChanged{Status: w})
}

func (c *Controller) stale(sub submission) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen != sub.gen
}

func (c *Controller) notify(sub submission, stage Stage, err *StepError) {
	if c.onStage != nil && !c.stale(sub) {
		c.onStage(stage, err)
	}
}

// ResetWrite clears a finished submission so a new one can start.
func (c *Controller) ResetWrite() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Write.Pending() {
		return
	}
	c.apply(WriteStatusChanged{Status: WriteStatus{Stage: StageIdle}})
}

// PublishProfile validates the ENS name and checks that the active account
// owns it. Writing the profile record itself is not supported.
func (c *Controller) PublishProfile(ctx context.Context) error {
	c.mu.Lock()
	name := c.state.UserEns
	account := c.state.Account
	c.mu.Unlock()

	fields := map[Field]string{}
	if !validate.ValidateEns(name, func(msg string) { fields[FieldUserEns] = msg }) {
		c.fail(fields)
		return &ValidationError{Fields: fields}
	}
	if !account.Connected {
		return ErrNotConnected
	}
	if c.owners == nil {
		return ErrNoResolver
	}
	if !c.owners.IsAccountOwner(ctx, name, account.Address, func(msg string) { fields[FieldEnsOwnership] = msg }) {
		c.fail(fields)
		return ErrNotOwner
	}
	c.log.Info("ens ownership verified, profile publishing is disabled", "name", name)
	return nil
}

func (c *Controller) fail(fields map[Field]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apply(ValidationFailed{Errors: fields})
}

// ExecutionsOrDefault reports the executions count a submission would use.
func (c *Controller) ExecutionsOrDefault() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.TrimSpace(c.state.Executions) == "" {
		return strconv.FormatUint(c.settings.DefaultExecutions, 10)
	}
	return c.state.Executions
}
