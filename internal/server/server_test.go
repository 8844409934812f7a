package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrans/internal/chain"
	"retrans/internal/config"
	"retrans/internal/configuration"
	"retrans/internal/contracts"
	"retrans/internal/envfile"
	"retrans/internal/hmacauth"
	"retrans/internal/idempotency"
	"retrans/internal/wallet"
)

const testSecret = "test-secret"

var (
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	jobAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type fakeOwners struct {
	owners map[string]common.Address
	err    error
}

func (f fakeOwners) Owner(_ context.Context, name string) (common.Address, error) {
	return f.owners[name], f.err
}

type fakeBalances struct{ v *big.Int }

func (f fakeBalances) Balance(context.Context, common.Address) (*big.Int, error) {
	if f.v == nil {
		return nil, errors.New("rpc down")
	}
	return f.v, nil
}

type fakePing struct{ err error }

func (f fakePing) Ping(context.Context) error { return f.err }

type testEnv struct {
	srv        *Server
	controller *configuration.Controller
	writer     *chain.FakeClient
	accounts   *wallet.Static
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	writer := &chain.FakeClient{}
	metrics := NewMetrics()
	ctrl, err := configuration.NewController(configuration.Options{
		Writer:   writer,
		Settings: configuration.Settings{Token: tokenAddr, Recurring: jobAddr},
		Account:  wallet.Account{Connected: true, Address: alice},
		OnStage:  metrics.ObserveStage,
	})
	require.NoError(t, err)
	t.Cleanup(ctrl.Wait)

	accounts := wallet.NewStatic(wallet.Account{Connected: true, Address: alice})
	deps := Deps{
		Controller: ctrl,
		Store:      idempotency.NewMemoryStore(),
		Accounts:   accounts,
		Balances:   fakeBalances{v: big.NewInt(1234)},
		ENS:        fakeOwners{owners: map[string]common.Address{"alice.eth": alice}},
		Metrics:    metrics,
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := NewServer(config.ServiceConfig{
		HMACSecret:        testSecret,
		HMACClockSkew:     time.Minute,
		IdempotencyWindow: time.Minute,
	}, deps)
	require.NoError(t, err)
	return &testEnv{srv: srv, controller: ctrl, writer: writer, accounts: accounts}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func signedRequest(method, path string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	hmacauth.Sign(req, testSecret, body, time.Now())
	return req
}

func submitRequest(key string, body []byte) *http.Request {
	req := signedRequest(http.MethodPost, "/api/v1/transfers", body)
	if key != "" {
		req.Header.Set(headerIdempotencyKey, key)
	}
	return req
}

func TestSubmitTransferIdempotency(t *testing.T) {
	env := newTestEnv(t, nil)
	body := []byte(`{"recipient":"` + bob.Hex() + `","amount":"5","period":"3600","executions":"2"}`)

	rec := env.do(t, submitRequest("key-1", body))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	first := rec.Body.Bytes()

	var resp transferResponse
	require.NoError(t, json.Unmarshal(first, &resp))
	assert.NotEmpty(t, resp.SubmissionID)
	assert.Equal(t, configuration.StageApprovalPending, resp.Stage)

	env.controller.Wait()
	assert.Equal(t, configuration.StageJobConfirmed, env.controller.State().Write.Stage)

	reqs := env.writer.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, contracts.MethodApprove, reqs[0].Method)
	assert.Equal(t, []any{jobAddr, big.NewInt(10)}, reqs[0].Args)
	assert.Equal(t, contracts.MethodCreateJob, reqs[1].Method)

	rec = env.do(t, submitRequest("key-1", body))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, first, rec.Body.Bytes())
	assert.Len(t, env.writer.Requests(), 2, "replay must not start a new saga")

	rec = env.do(t, submitRequest("key-1", []byte(`{"amount":"6"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmitTransferRequiresKey(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, submitRequest("", []byte(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTransferRejectsUnsigned(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", strings.NewReader(`{}`))
	req.Header.Set(headerIdempotencyKey, "k")
	rec := env.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, env.writer.Requests())
}

func TestSubmitTransferValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	body := []byte(`{"recipient":"0x123","amount":"5","period":"60"}`)

	rec := env.do(t, submitRequest("key-bad", body))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Invalid recipient address", resp.Fields[configuration.FieldRecipient])
	assert.Empty(t, env.writer.Requests())
	assert.Equal(t, "Invalid recipient address", env.controller.State().Error(configuration.FieldRecipient))
}

func TestSubmitTransferNotConnected(t *testing.T) {
	env := newTestEnv(t, nil)
	env.controller.OnAccountChanged(wallet.Account{})
	body := []byte(`{"recipient":"` + bob.Hex() + `","amount":"5","period":"60"}`)

	rec := env.do(t, submitRequest("key-nc", body))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFormFieldRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, signedRequest(http.MethodPut, "/api/v1/form/amount", []byte(`{"value":"42"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/form", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var state configuration.FormState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "42", state.Amount)
	assert.Equal(t, alice, state.Account.Address)

	rec = env.do(t, signedRequest(http.MethodPut, "/api/v1/form/nonsense", []byte(`{"value":"1"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountChangeResetsForm(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.controller.UpdateField(configuration.FieldAmount, "9"))

	rec := env.do(t, signedRequest(http.MethodPost, "/api/v1/account", []byte(`{"address":"`+bob.Hex()+`"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	state := env.controller.State()
	assert.Equal(t, bob, state.Account.Address)
	assert.Empty(t, state.Amount)
	assert.Equal(t, bob, env.accounts.Current().Address)

	rec = env.do(t, signedRequest(http.MethodPost, "/api/v1/account", []byte(`{"address":"nope"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnvFileDownload(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.controller.UpdateField(configuration.FieldAmount, "100"))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/env", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename=".env"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, envfile.ConfigureEnv("100", alice.Hex()), rec.Body.String())
}

func TestConfigTemplate(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/config-template", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, envfile.ConfigurationTemplate, rec.Body.String())
}

func TestValidateEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		kind    string
		value   string
		valid   bool
		message string
	}{
		{kind: "address", value: bob.Hex(), valid: true},
		{kind: "address", value: "0x12", message: "Invalid recipient address"},
		{kind: "ens", value: "alice.eth", valid: true},
		{kind: "ens", value: "ab.eth", message: "Invalid ENS name"},
		{kind: "rpc", value: "", valid: true},
		{kind: "rpc", value: "ws://node", message: "Invalid RPC endpoint"},
		{kind: "url", value: "https://example.com", valid: true},
		{kind: "url", value: "", message: "Invalid URL endpoint"},
	}
	for _, tc := range tests {
		t.Run(tc.kind+"/"+tc.value, func(t *testing.T) {
			body, _ := json.Marshal(fieldRequest{Value: tc.value})
			rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/validate/"+tc.kind, bytes.NewReader(body)))
			require.Equal(t, http.StatusOK, rec.Code)
			var resp validateResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.valid, resp.Valid)
			assert.Equal(t, tc.message, resp.Message)
		})
	}

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/validate/phone", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnsOwner(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ens/alice.eth/owner", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ensOwnerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsOwner)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ens/someone.eth/owner", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsOwner)
	assert.Equal(t, "You are not the owner of this name", resp.Message)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ens/x/owner", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBalance(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp balanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1234", resp.Balance)

	down := newTestEnv(t, func(d *Deps) { d.Balances = fakeBalances{} })
	rec = down.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unknown", resp.Balance)
	assert.Equal(t, "rpc down", resp.Error)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.RPC = fakePing{}
		d.QueueDepth = func(context.Context) (int, error) { return 3, nil }
	})
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queue_depth":3`)

	degraded := newTestEnv(t, func(d *Deps) { d.RPC = fakePing{err: errors.New("dial tcp: refused")} })
	rec = degraded.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

func TestMetricsAndRequestID(t *testing.T) {
	env := newTestEnv(t, nil)
	body := []byte(`{"recipient":"` + bob.Hex() + `","amount":"1","period":"60"}`)
	rec := env.do(t, submitRequest("key-m", body))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
	env.controller.Wait()

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `retrans_submissions_total{status="accepted"} 1`)
	assert.Contains(t, out, `retrans_saga_stages_total{stage="job-confirmed"} 1`)
}

func TestNewServerRequiresDeps(t *testing.T) {
	_, err := NewServer(config.ServiceConfig{}, Deps{})
	assert.Error(t, err)
}
