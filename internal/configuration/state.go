package configuration

import (
	"errors"
	"fmt"

	"retrans/internal/chain"
	"retrans/internal/wallet"
)

// Field names a form input. FieldEnsOwnership only ever carries an error.
type Field string

const (
	FieldRecipient    Field = "recipient"
	FieldAmount       Field = "amount"
	FieldPeriod       Field = "period"
	FieldExecutions   Field = "executions"
	FieldUserEns      Field = "userEns"
	FieldUserProfile  Field = "userProfile"
	FieldEnsOwnership Field = "ensOwnership"
)

var ErrUnknownField = errors.New("unknown field")

var editable = map[Field]bool{
	FieldRecipient:   true,
	FieldAmount:      true,
	FieldPeriod:      true,
	FieldExecutions:  true,
	FieldUserEns:     true,
	FieldUserProfile: true,
}

func ParseField(s string) (Field, error) {
	f := Field(s)
	if !editable[f] {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
	}
	return f, nil
}

// Stage is the position of a submission in the approve-then-create saga.
type Stage string

const (
	StageIdle              Stage = "idle"
	StageApprovalPending   Stage = "approval-pending"
	StageApprovalConfirmed Stage = "approval-confirmed"
	StageJobPending        Stage = "job-pending"
	StageJobConfirmed      Stage = "job-confirmed"
	StageApprovalFailed    Stage = "approval-failed"
	StageJobFailed         Stage = "job-failed"
)

func (s Stage) Pending() bool {
	switch s {
	case StageApprovalPending, StageApprovalConfirmed, StageJobPending:
		return true
	}
	return false
}

func (s Stage) Failed() bool {
	return s == StageApprovalFailed || s == StageJobFailed
}

// StepError is the failure of one saga step, classified at the chain boundary.
type StepError struct {
	Step    string          `json:"step"`
	Kind    chain.ErrorKind `json:"kind"`
	Reason  string          `json:"reason,omitempty"`
	Message string          `json:"message"`
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Message
}

func newStepError(step string, err error) *StepError {
	we := chain.ClassifyError(err)
	return &StepError{Step: step, Kind: we.Kind, Reason: we.Reason, Message: chain.Describe(err)}
}

// WriteStatus mirrors what the contract-write collaborator reports.
type WriteStatus struct {
	SubmissionID string     `json:"submissionId,omitempty"`
	Stage        Stage      `json:"stage"`
	ApprovalTx   string     `json:"approvalTx,omitempty"`
	JobTx        string     `json:"jobTx,omitempty"`
	Error        *StepError `json:"error,omitempty"`
}

// Pending is true while any request of the saga is outstanding.
func (w WriteStatus) Pending() bool {
	return w.Stage.Pending()
}

// Hash is the most recent transaction hash.
func (w WriteStatus) Hash() string {
	if w.JobTx != "" {
		return w.JobTx
	}
	return w.ApprovalTx
}

// FormState is the whole transfer form, safe to copy and serialize.
type FormState struct {
	Account     wallet.Account   `json:"account"`
	Recipient   string           `json:"recipient"`
	Amount      string           `json:"amount"`
	Period      string           `json:"period"`
	Executions  string           `json:"executions"`
	UserEns     string           `json:"userEns"`
	UserProfile string           `json:"userProfile"`
	Errors      map[Field]string `json:"errors,omitempty"`
	Write       WriteStatus      `json:"write"`
}

func NewFormState(a wallet.Account) FormState {
	return FormState{Account: a, Write: WriteStatus{Stage: StageIdle}}
}

// Clone returns a copy that shares no maps with s.
func (s FormState) Clone() FormState {
	out := s
	if s.Errors != nil {
		out.Errors = make(map[Field]string, len(s.Errors))
		for k, v := range s.Errors {
			out.Errors[k] = v
		}
	}
	if s.Write.Error != nil {
		e := *s.Write.Error
		out.Write.Error = &e
	}
	return out
}

func (s FormState) Value(f Field) string {
	switch f {
	case FieldRecipient:
		return s.Recipient
	case FieldAmount:
		return s.Amount
	case FieldPeriod:
		return s.Period
	case FieldExecutions:
		return s.Executions
	case FieldUserEns:
		return s.UserEns
	case FieldUserProfile:
		return s.UserProfile
	}
	return ""
}

func (s FormState) Error(f Field) string {
	return s.Errors[f]
}

// CanSubmit mirrors the form's button state: connected with recipient and amount present.
func (s FormState) CanSubmit() bool {
	return s.Account.Connected && s.Recipient != "" && s.Amount != "" && !s.Write.Pending()
}

// Event is an input to Reduce.
type Event interface {
	isEvent()
}

type FieldEdited struct {
	Field Field
	Value string
}

type AccountChanged struct {
	Account wallet.Account
}

type ValidationFailed struct {
	Errors map[Field]string
}

type WriteStatusChanged struct {
	Status WriteStatus
}

func (FieldEdited) isEvent()        {}
func (AccountChanged) isEvent()     {}
func (ValidationFailed) isEvent()   {}
func (WriteStatusChanged) isEvent() {}

// Reduce applies ev to s and returns the new state. s is not modified.
func Reduce(s FormState, ev Event) FormState {
	next := s.Clone()
	switch e := ev.(type) {
	case FieldEdited:
		switch e.Field {
		case FieldRecipient:
			next.Recipient = e.Value
		case FieldAmount:
			next.Amount = e.Value
		case FieldPeriod:
			next.Period = e.Value
		case FieldExecutions:
			next.Executions = e.Value
		case FieldUserEns:
			next.UserEns = e.Value
			delete(next.Errors, FieldEnsOwnership)
		case FieldUserProfile:
			next.UserProfile = e.Value
		default:
			return next
		}
		delete(next.Errors, e.Field)
		if len(next.Errors) == 0 {
			next.Errors = nil
		}
	case AccountChanged:
		if e.Account.Address != s.Account.Address {
			next = NewFormState(e.Account)
		} else {
			next.Account = e.Account
		}
	case ValidationFailed:
		if len(e.Errors) == 0 {
			return next
		}
		if next.Errors == nil {
			next.Errors = make(map[Field]string, len(e.Errors))
		}
		for f, msg := range e.Errors {
			next.Errors[f] = msg
		}
	case WriteStatusChanged:
		next.Write = e.Status
		if next.Write.Stage == "" {
			next.Write.Stage = StageIdle
		}
	}
	return next
}
