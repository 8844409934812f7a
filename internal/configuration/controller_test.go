package configuration

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrans/internal/chain"
	"retrans/internal/contracts"
	"retrans/internal/envfile"
	"retrans/internal/validate"
	"retrans/internal/wallet"
)

var (
	tokenAddr     = common.HexToAddress("0xcB444e90D8198415266c6a2724b7900fb12FC56E")
	recurringAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipientHex  = "0x52908400098527886E0F7030069857D2E4169EE7"
)

type recordingWriter struct {
	mu        sync.Mutex
	reqs      []chain.WriteRequest
	writeErrs map[string]error
	waitErrs  map[string]error
	methods   map[common.Hash]string
	release   chan struct{}
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{
		writeErrs: map[string]error{},
		waitErrs:  map[string]error{},
		methods:   map[common.Hash]string{},
	}
}

func (w *recordingWriter) Write(_ context.Context, req chain.WriteRequest) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reqs = append(w.reqs, req)
	if err := w.writeErrs[req.Method]; err != nil {
		return common.Hash{}, err
	}
	h := common.BigToHash(big.NewInt(int64(len(w.reqs))))
	w.methods[h] = req.Method
	return h, nil
}

func (w *recordingWriter) WaitMined(ctx context.Context, hash common.Hash) (chain.Receipt, error) {
	w.mu.Lock()
	release := w.release
	method := w.methods[hash]
	err := w.waitErrs[method]
	w.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return chain.Receipt{}, ctx.Err()
		}
	}
	if err != nil {
		return chain.Receipt{}, err
	}
	return chain.Receipt{TxHash: hash, Status: 1}, nil
}

func (w *recordingWriter) requests() []chain.WriteRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]chain.WriteRequest(nil), w.reqs...)
}

func newTestController(t *testing.T, w chain.Writer, opts ...func(*Options)) *Controller {
	t.Helper()
	o := Options{
		Writer:   w,
		Settings: Settings{Token: tokenAddr, Recurring: recurringAddr},
		Account:  alice,
	}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := NewController(o)
	require.NoError(t, err)
	return c
}

func fill(t *testing.T, c *Controller, recipient, amount, period, executions string) {
	t.Helper()
	require.NoError(t, c.UpdateField(FieldRecipient, recipient))
	require.NoError(t, c.UpdateField(FieldAmount, amount))
	require.NoError(t, c.UpdateField(FieldPeriod, period))
	require.NoError(t, c.UpdateField(FieldExecutions, executions))
}

func TestSubmitTransferIssuesApproveThenCreateJob(t *testing.T) {
	w := newRecordingWriter()
	var stages []Stage
	c := newTestController(t, w, func(o *Options) {
		o.OnStage = func(s Stage, _ *StepError) { stages = append(stages, s) }
	})
	fill(t, c, recipientHex, "5", "3600", "10")

	status, err := c.SubmitTransfer(context.Background())
	require.NoError(t, err)

	reqs := w.requests()
	require.Len(t, reqs, 2)

	approve := reqs[0]
	assert.Equal(t, tokenAddr, approve.Contract)
	assert.Equal(t, contracts.MethodApprove, approve.Method)
	require.Len(t, approve.Args, 2)
	assert.Equal(t, recurringAddr, approve.Args[0])
	assert.Equal(t, "50", approve.Args[1].(*big.Int).String())
	assert.Nil(t, approve.Value)

	job := reqs[1]
	assert.Equal(t, recurringAddr, job.Contract)
	assert.Equal(t, contracts.MethodCreateJob, job.Method)
	require.Len(t, job.Args, 4)
	assert.Equal(t, "3600", job.Args[0].(*big.Int).String())
	assert.Equal(t, "5", job.Args[1].(*big.Int).String())
	assert.Equal(t, common.HexToAddress(recipientHex), job.Args[2])
	assert.Equal(t, tokenAddr, job.Args[3])
	assert.Equal(t, 0, job.Value.Cmp(DefaultNativeFee))

	assert.Equal(t, StageJobConfirmed, status.Stage)
	assert.NotEmpty(t, status.ApprovalTx)
	assert.NotEmpty(t, status.JobTx)
	assert.NotEmpty(t, status.SubmissionID)
	assert.Equal(t, []Stage{StageApprovalPending, StageApprovalConfirmed, StageJobPending, StageJobConfirmed}, stages)
}

func TestSubmitTransferInvalidRecipient(t *testing.T) {
	w := newRecordingWriter()
	c := newTestController(t, w)
	fill(t, c, "0xnot-an-address", "5", "60", "10")

	_, err := c.SubmitTransfer(context.Background())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validate.MsgInvalidAddress, c.State().Error(FieldRecipient))
	assert.Empty(t, w.requests())
	assert.Equal(t, StageIdle, c.State().Write.Stage)
}

func TestSubmitTransferNonNumericAmount(t *testing.T) {
	w := newRecordingWriter()
	c := newTestController(t, w)
	fill(t, c, recipientHex, "five", "60", "x")

	_, err := c.SubmitTransfer(context.Background())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validate.MsgInvalidNumber, c.State().Error(FieldAmount))
	assert.Equal(t, validate.MsgInvalidNumber, c.State().Error(FieldExecutions))
	assert.Empty(t, c.State().Error(FieldPeriod))
	assert.Empty(t, w.requests())
}

func TestSubmitTransferDefaultExecutions(t *testing.T) {
	w := newRecordingWriter()
	c := newTestController(t, w)
	fill(t, c, recipientHex, "7", "60", "")

	_, err := c.SubmitTransfer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "70", w.requests()[0].Args[1].(*big.Int).String())
	assert.Equal(t, "10", c.ExecutionsOrDefault())
}

func TestSubmitTransferRequiresConnectedAccount(t *testing.T) {
	w := newRecordingWriter()
	c := newTestController(t, w, func(o *Options) { o.Account = wallet.Account{} })
	fill(t, c, recipientHex, "1", "1", "1")

	_, err := c.SubmitTransfer(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, w.requests())
}

func TestSubmitTransferApprovalFailureStopsSaga(t *testing.T) {
	w := newRecordingWriter()
	w.writeErrs[contracts.MethodApprove] = errors.New("execution reverted: paused")
	var failed *StepError
	c := newTestController(t, w, func(o *Options) {
		o.OnStage = func(s Stage, e *StepError) {
			if s.Failed() {
				failed = e
			}
		}
	})
	fill(t, c, recipientHex, "5", "60", "10")

	status, err := c.SubmitTransfer(context.Background())
	require.Error(t, err)

	assert.Len(t, w.requests(), 1)
	assert.Equal(t, StageApprovalFailed, status.Stage)
	require.NotNil(t, status.Error)
	assert.Equal(t, "approve", status.Error.Step)
	assert.Equal(t, chain.KindContractRevert, status.Error.Kind)
	assert.Equal(t, "paused", status.Error.Reason)
	require.NotNil(t, failed)
	assert.Equal(t, "approve", failed.Step)
}

func TestSubmitTransferJobFailure(t *testing.T) {
	w := newRecordingWriter()
	w.waitErrs[contracts.MethodCreateJob] = errors.New("dial tcp: connection refused")
	c := newTestController(t, w)
	fill(t, c, recipientHex, "5", "60", "10")

	status, err := c.SubmitTransfer(context.Background())
	require.Error(t, err)

	assert.Len(t, w.requests(), 2)
	assert.Equal(t, StageJobFailed, status.Stage)
	assert.NotEmpty(t, status.ApprovalTx)
	assert.NotEmpty(t, status.JobTx)
	assert.Equal(t, "createJob", status.Error.Step)
	assert.Equal(t, chain.KindNetworkFailure, status.Error.Kind)

	c.ResetWrite()
	assert.Equal(t, StageIdle, c.State().Write.Stage)
}

func waitForStage(t *testing.T, ch <-chan FormState, want func(Stage) bool) FormState {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if want(s.Write.Stage) {
				return s
			}
		case <-timeout:
			t.Fatal("timed out waiting for stage")
		}
	}
}

func TestSubmitTransferAsyncRejectsConcurrentSubmission(t *testing.T) {
	w := newRecordingWriter()
	w.release = make(chan struct{})
	c := newTestController(t, w)
	fill(t, c, recipientHex, "5", "60", "10")

	ch, cancel := c.Subscribe()
	defer cancel()

	id, err := c.SubmitTransferAsync(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, c.State().Write.Pending())

	_, err = c.SubmitTransferAsync(context.Background())
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	close(w.release)
	final := waitForStage(t, ch, func(s Stage) bool { return s == StageJobConfirmed })
	assert.Equal(t, id, final.Write.SubmissionID)
	c.Wait()
	assert.Len(t, w.requests(), 2)
}

func TestAccountChangeDuringSagaAbandonsJob(t *testing.T) {
	w := newRecordingWriter()
	w.release = make(chan struct{})
	c := newTestController(t, w)
	fill(t, c, recipientHex, "5", "60", "10")

	_, err := c.SubmitTransferAsync(context.Background())
	require.NoError(t, err)

	c.OnAccountChanged(bob)
	close(w.release)
	c.Wait()

	reqs := w.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, contracts.MethodApprove, reqs[0].Method)

	s := c.State()
	assert.Equal(t, StageIdle, s.Write.Stage)
	assert.Empty(t, s.Recipient)
	assert.Equal(t, bob.Address, s.Account.Address)
}

func TestOnAccountChangedResetsForm(t *testing.T) {
	c := newTestController(t, newRecordingWriter())
	fill(t, c, "bad", "5", "60", "10")
	_, _ = c.SubmitTransfer(context.Background())
	require.NotEmpty(t, c.State().Error(FieldRecipient))

	c.OnAccountChanged(bob)

	s := c.State()
	assert.Empty(t, s.Recipient)
	assert.Empty(t, s.Amount)
	assert.Empty(t, s.Period)
	assert.Empty(t, s.Executions)
	assert.Nil(t, s.Errors)
}

func TestWatchFollowsProvider(t *testing.T) {
	p := wallet.NewStatic(alice)
	c := newTestController(t, newRecordingWriter())
	require.NoError(t, c.UpdateField(FieldAmount, "5"))

	ch, cancel := c.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Watch(ctx, p)
		close(done)
	}()

	p.Set(bob)
	timeout := time.After(2 * time.Second)
	for c.State().Account.Address != bob.Address {
		select {
		case <-ch:
		case <-timeout:
			t.Fatal("account change not observed")
		}
	}
	assert.Empty(t, c.State().Amount)

	stop()
	<-done
}

func TestExportEnvFile(t *testing.T) {
	c := newTestController(t, newRecordingWriter())
	require.NoError(t, c.UpdateField(FieldAmount, "100"))

	got := c.ExportEnvFile()
	assert.Equal(t, envfile.ConfigureEnv("100", alice.Address.Hex()), got)

	path, err := c.SaveEnvFile(t.TempDir())
	require.NoError(t, err)
	assert.FileExists(t, path)
}

type stubOwners struct{ owner bool }

func (s stubOwners) IsAccountOwner(_ context.Context, _ string, _ common.Address, setErr validate.ErrorSetter) bool {
	if !s.owner && setErr != nil {
		setErr("You are not the owner of this name")
	}
	return s.owner
}

func TestPublishProfile(t *testing.T) {
	ctx := context.Background()

	c := newTestController(t, newRecordingWriter(), func(o *Options) { o.Owners = stubOwners{owner: true} })
	require.NoError(t, c.UpdateField(FieldUserEns, "ab.eth"))
	var verr *ValidationError
	require.ErrorAs(t, c.PublishProfile(ctx), &verr)
	assert.Equal(t, validate.MsgInvalidEns, c.State().Error(FieldUserEns))

	require.NoError(t, c.UpdateField(FieldUserEns, "alice.eth"))
	assert.NoError(t, c.PublishProfile(ctx))

	c = newTestController(t, newRecordingWriter(), func(o *Options) { o.Owners = stubOwners{owner: false} })
	require.NoError(t, c.UpdateField(FieldUserEns, "alice.eth"))
	assert.ErrorIs(t, c.PublishProfile(ctx), ErrNotOwner)
	assert.NotEmpty(t, c.State().Error(FieldEnsOwnership))

	c = newTestController(t, newRecordingWriter())
	require.NoError(t, c.UpdateField(FieldUserEns, "alice.eth"))
	assert.ErrorIs(t, c.PublishProfile(ctx), ErrNoResolver)
}

func TestNewControllerValidatesOptions(t *testing.T) {
	_, err := NewController(Options{})
	assert.Error(t, err)
	_, err = NewController(Options{Writer: newRecordingWriter(), Settings: Settings{Token: tokenAddr}})
	assert.Error(t, err)

	c := newTestController(t, newRecordingWriter())
	assert.Equal(t, uint64(DefaultExecutions), c.Settings().DefaultExecutions)
	assert.ErrorIs(t, c.UpdateField("ensOwnership", "x"), ErrUnknownField)
}
