package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"retrans/internal/chain"
	"retrans/internal/config"
	"retrans/internal/configuration"
	"retrans/internal/ens"
	"retrans/internal/envfile"
	"retrans/internal/hmacauth"
	"retrans/internal/idempotency"
	"retrans/internal/logging"
	"retrans/internal/validate"
	"retrans/internal/wallet"
)

const (
	headerIdempotencyKey = "X-Idempotency-Key"
	headerRequestID      = "X-Request-Id"
	maxRequestBytes      = 1 << 20
)

// OwnerLookup resolves the registry owner of an ENS name.
type OwnerLookup interface {
	Owner(ctx context.Context, name string) (common.Address, error)
}

// Deps are the collaborators the API exposes. Only Controller and Store are required.
type Deps struct {
	Controller *configuration.Controller
	Store      idempotency.Store
	Accounts   *wallet.Static
	Balances   wallet.BalanceProvider
	ENS        OwnerLookup
	RPC        chain.HealthChecker
	Metrics    *Metrics
	Logger     *slog.Logger
	// QueueDepth reports scheduled executor jobs for /health when the executor runs in-process.
	QueueDepth func(context.Context) (int, error)
	// BaseContext outlives requests; background sagas run under it.
	BaseContext context.Context
}

type Server struct {
	cfg        config.ServiceConfig
	controller *configuration.Controller
	store      idempotency.Store
	accounts   *wallet.Static
	balances   wallet.BalanceProvider
	ens        OwnerLookup
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *Metrics
	log        *slog.Logger
	baseCtx    context.Context

	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
	queueDepth  func(context.Context) (int, error)
}

func NewServer(cfg config.ServiceConfig, deps Deps) (*Server, error) {
	if deps.Controller == nil {
		return nil, errors.New("controller is required")
	}
	if deps.Store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	log := logging.OrDefault(deps.Logger).With("component", "api")

	s := &Server{
		cfg:        cfg,
		controller: deps.Controller,
		store:      deps.Store,
		accounts:   deps.Accounts,
		balances:   deps.Balances,
		ens:        deps.ENS,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.HMACSecret,
			MaxSkew: cfg.HMACClockSkew,
			Logger:  log,
		},
		metrics:    deps.Metrics,
		log:        log,
		baseCtx:    deps.BaseContext,
		queueDepth: deps.QueueDepth,
	}

	if checker, ok := deps.Store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if deps.RPC != nil {
		s.rpcHealthFn = deps.RPC.Ping
	}

	signed := func(h http.HandlerFunc) http.Handler { return s.hmac.Middleware(h) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/form", s.handleGetForm)
	mux.Handle("PUT /api/v1/form/{field}", signed(s.handlePutField))
	mux.Handle("POST /api/v1/transfers", signed(s.handleSubmitTransfer))
	mux.HandleFunc("GET /api/v1/transfers/status", s.handleTransferStatus)
	mux.Handle("DELETE /api/v1/transfers/status", signed(s.handleResetTransfer))
	mux.Handle("POST /api/v1/account", signed(s.handleAccount))
	mux.Handle("POST /api/v1/profile", signed(s.handlePublishProfile))
	mux.HandleFunc("GET /api/v1/env", s.handleEnvFile)
	mux.HandleFunc("GET /api/v1/config-template", s.handleTemplate)
	mux.HandleFunc("POST /api/v1/validate/{kind}", s.handleValidate)
	mux.HandleFunc("GET /api/v1/ens/{name}/owner", s.handleEnsOwner)
	mux.HandleFunc("GET /api/v1/balance", s.handleBalance)
	mux.Handle("GET /api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           s.requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving HTTP. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.log.Info("API listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type errorResponse struct {
	Error  string                         `json:"error"`
	Fields map[configuration.Field]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var ve *configuration.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = ve.Fields
	}
	writeJSON(w, status, resp)
}

func readJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid json payload: %w", err)
	}
	return nil
}

func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.State())
}

type fieldRequest struct {
	Value string `json:"value"`
}

func (s *Server) handlePutField(w http.ResponseWriter, r *http.Request) {
	field, err := configuration.ParseField(r.PathValue("field"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	var req fieldRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.controller.UpdateField(field, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.State())
}

// transferRequest optionally sets form fields before submitting.
type transferRequest struct {
	Recipient  *string `json:"recipient,omitempty"`
	Amount     *string `json:"amount,omitempty"`
	Period     *string `json:"period,omitempty"`
	Executions *string `json:"executions,omitempty"`
}

type transferResponse struct {
	SubmissionID string              `json:"submissionId"`
	Stage        configuration.Stage `json:"stage"`
}

func (s *Server) handleSubmitTransfer(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing X-Idempotency-Key header"))
		return
	}
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	existing, err := idempotency.Lookup(ctx, s.store, key, body)
	if errors.Is(err, idempotency.ErrKeyReused) {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err != nil {
		s.log.Error("idempotency lookup failed", "key", key, "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("idempotency store unavailable"))
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.StatusCode)
		_, _ = w.Write(existing.Response)
		s.metrics.incSubmission("cached")
		return
	}

	var req transferRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid json payload"))
			return
		}
	}
	for field, value := range map[configuration.Field]*string{
		configuration.FieldRecipient:  req.Recipient,
		configuration.FieldAmount:     req.Amount,
		configuration.FieldPeriod:     req.Period,
		configuration.FieldExecutions: req.Executions,
	} {
		if value != nil {
			_ = s.controller.UpdateField(field, *value)
		}
	}

	id, err := s.controller.SubmitTransferAsync(s.baseCtx)
	if err != nil {
		s.metrics.incSubmission("rejected")
		var ve *configuration.ValidationError
		switch {
		case errors.As(err, &ve):
			writeError(w, http.StatusUnprocessableEntity, err)
		case errors.Is(err, configuration.ErrSubmissionInFlight), errors.Is(err, configuration.ErrNotConnected):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	resp, _ := json.Marshal(transferResponse{SubmissionID: id, Stage: configuration.StageApprovalPending})
	now := time.Now()
	record := idempotency.Record{
		RequestHash:  idempotency.HashRequest(body),
		SubmissionID: id,
		StatusCode:   http.StatusAccepted,
		Response:     resp,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.IdempotencyWindow),
	}
	if err := s.store.Save(ctx, key, record); err != nil {
		s.log.Warn("failed to save idempotency record", "key", key, "err", err)
	}

	s.log.Info("transfer submitted", "submission", id, "request_id", r.Header.Get(headerRequestID))
	s.metrics.incSubmission("accepted")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write(resp)
}

func (s *Server) handleTransferStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.State().Write)
}

func (s *Server) handleResetTransfer(w http.ResponseWriter, r *http.Request) {
	if s.controller.State().Write.Pending() {
		writeError(w, http.StatusConflict, configuration.ErrSubmissionInFlight)
		return
	}
	s.controller.ResetWrite()
	writeJSON(w, http.StatusOK, s.controller.State().Write)
}

type accountRequest struct {
	Address   string `json:"address"`
	Connected *bool  `json:"connected,omitempty"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account := wallet.Account{Connected: req.Connected == nil || *req.Connected}
	if account.Connected {
		if !validate.IsAddress(req.Address) {
			writeError(w, http.StatusBadRequest, errors.New("invalid account address"))
			return
		}
		account.Address = common.HexToAddress(req.Address)
	}
	if s.accounts != nil {
		s.accounts.Set(account)
	}
	s.controller.OnAccountChanged(account)
	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handlePublishProfile(w http.ResponseWriter, r *http.Request) {
	err := s.controller.PublishProfile(r.Context())
	var ve *configuration.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.controller.State())
	case errors.As(err, &ve):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, configuration.ErrNotOwner):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, configuration.ErrNotConnected):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, configuration.ErrNoResolver):
		writeError(w, http.StatusNotImplemented, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleEnvFile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+envfile.DefaultName+`"`)
	if err := envfile.Write(w, s.controller.ExportEnvFile()); err != nil {
		s.log.Warn("env file write failed", "err", err)
	}
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = io.WriteString(w, envfile.ConfigurationTemplate)
}

type validateResponse struct {
	Kind    string `json:"kind"`
	Value   string `json:"value"`
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	var req fieldRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	valid, msg, err := validate.Check(kind, req.Value)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	resp := validateResponse{Kind: kind, Value: req.Value, Valid: valid, Message: msg}
	writeJSON(w, http.StatusOK, resp)
}

type ensOwnerResponse struct {
	Name    string         `json:"name"`
	Owner   common.Address `json:"owner"`
	Account wallet.Account `json:"account"`
	IsOwner bool           `json:"isOwner"`
	Message string         `json:"message,omitempty"`
}

func (s *Server) handleEnsOwner(w http.ResponseWriter, r *http.Request) {
	if s.ens == nil {
		writeError(w, http.StatusNotImplemented, configuration.ErrNoResolver)
		return
	}
	name := r.PathValue("name")
	if !validate.ValidateEns(name, nil) {
		writeError(w, http.StatusBadRequest, errors.New(validate.MsgInvalidEns))
		return
	}
	account := s.controller.State().Account
	owner, err := s.ens.Owner(r.Context(), name)
	if err != nil {
		s.log.Warn("ens owner lookup failed", "name", name, "err", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	resp := ensOwnerResponse{Name: name, Owner: owner, Account: account}
	resp.IsOwner = account.Connected && owner != (common.Address{}) && owner == account.Address
	if !resp.IsOwner {
		resp.Message = ens.MsgNotOwner
	}
	writeJSON(w, http.StatusOK, resp)
}

type balanceResponse struct {
	Account wallet.Account `json:"account"`
	Balance string         `json:"balance"`
	Error   string         `json:"error,omitempty"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account := s.controller.State().Account
	if !account.Connected {
		writeJSON(w, http.StatusOK, balanceResponse{Account: account, Balance: wallet.Balance{}.String()})
		return
	}
	if addr := r.URL.Query().Get("address"); addr != "" {
		if !validate.IsAddress(addr) {
			writeError(w, http.StatusBadRequest, errors.New(validate.MsgInvalidAddress))
			return
		}
		account.Address = common.HexToAddress(addr)
	}
	b := wallet.Fetch(r.Context(), s.balances, account.Address)
	resp := balanceResponse{Account: account, Balance: b.String()}
	if b.Err != nil {
		resp.Error = b.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type dependencyHealth struct {
	Connected bool    `json:"connected"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
}

func checkDependency(ctx context.Context, fn func(context.Context) error) dependencyHealth {
	if fn == nil {
		return dependencyHealth{Connected: true}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := fn(ctx); err != nil {
		return dependencyHealth{Error: err.Error()}
	}
	return dependencyHealth{Connected: true, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rpcInfo := checkDependency(ctx, s.rpcHealthFn)
	dbInfo := checkDependency(ctx, s.dbHealthFn)

	queueDepth := 0
	if s.queueDepth != nil {
		if n, err := s.queueDepth(ctx); err == nil {
			queueDepth = n
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !rpcInfo.Connected || !dbInfo.Connected {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, struct {
		Status     string              `json:"status"`
		RPC        dependencyHealth    `json:"rpc"`
		Database   dependencyHealth    `json:"database"`
		QueueDepth int                 `json:"queue_depth"`
		Stage      configuration.Stage `json:"stage"`
	}{
		Status:     status,
		RPC:        rpcInfo,
		Database:   dbInfo,
		QueueDepth: queueDepth,
		Stage:      s.controller.State().Write.Stage,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.incRequest(route, strconv.Itoa(rec.code))
		s.log.Debug("request", "method", r.Method, "route", route, "code", rec.code, "request_id", id, "duration", time.Since(start))
	})
}
