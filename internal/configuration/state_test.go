package configuration

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"retrans/internal/wallet"
)

var (
	alice = wallet.Account{Connected: true, Address: common.HexToAddress("0x00000000000000000000000000000000000a11ce")}
	bob   = wallet.Account{Connected: true, Address: common.HexToAddress("0x0000000000000000000000000000000000000b0b")}
)

func TestReduceFieldEditClearsOnlyItsError(t *testing.T) {
	s := NewFormState(alice)
	s = Reduce(s, ValidationFailed{Errors: map[Field]string{
		FieldRecipient: "bad recipient",
		FieldAmount:    "bad amount",
	}})

	next := Reduce(s, FieldEdited{Field: FieldRecipient, Value: "0x1"})

	assert.Equal(t, "0x1", next.Recipient)
	assert.Equal(t, "", next.Error(FieldRecipient))
	assert.Equal(t, "bad amount", next.Error(FieldAmount))
	// the input state is untouched
	assert.Equal(t, "bad recipient", s.Error(FieldRecipient))
}

func TestReduceEveryFieldIsEditable(t *testing.T) {
	s := NewFormState(alice)
	for f := range editable {
		s = Reduce(s, ValidationFailed{Errors: map[Field]string{f: "x"}})
		s = Reduce(s, FieldEdited{Field: f, Value: string(f) + "-v"})
		assert.Equal(t, string(f)+"-v", s.Value(f))
		assert.Empty(t, s.Error(f))
	}
	assert.Nil(t, s.Errors)
}

func TestReduceUserEnsEditClearsOwnershipError(t *testing.T) {
	s := Reduce(NewFormState(alice), ValidationFailed{Errors: map[Field]string{FieldEnsOwnership: "not yours"}})
	s = Reduce(s, FieldEdited{Field: FieldUserEns, Value: "alice.eth"})
	assert.Empty(t, s.Error(FieldEnsOwnership))
}

func TestReduceAccountChangeResetsEverything(t *testing.T) {
	s := NewFormState(alice)
	for _, ev := range []Event{
		FieldEdited{Field: FieldRecipient, Value: "r"},
		FieldEdited{Field: FieldAmount, Value: "5"},
		FieldEdited{Field: FieldPeriod, Value: "60"},
		FieldEdited{Field: FieldExecutions, Value: "10"},
		FieldEdited{Field: FieldUserEns, Value: "alice.eth"},
		ValidationFailed{Errors: map[Field]string{FieldPeriod: "p"}},
		WriteStatusChanged{Status: WriteStatus{Stage: StageJobFailed, JobTx: "0xabc"}},
	} {
		s = Reduce(s, ev)
	}

	got := Reduce(s, AccountChanged{Account: bob})
	if diff := cmp.Diff(NewFormState(bob), got); diff != "" {
		t.Fatalf("state after account change (-want +got):\n%s", diff)
	}
}

func TestReduceSameAddressKeepsFields(t *testing.T) {
	s := Reduce(NewFormState(alice), FieldEdited{Field: FieldAmount, Value: "5"})
	disconnected := wallet.Account{Connected: false, Address: alice.Address}
	s = Reduce(s, AccountChanged{Account: disconnected})
	assert.Equal(t, "5", s.Amount)
	assert.False(t, s.Account.Connected)
}

func TestReduceUnknownFieldIsIgnored(t *testing.T) {
	s := NewFormState(alice)
	got := Reduce(s, FieldEdited{Field: "nope", Value: "x"})
	assert.Empty(t, cmp.Diff(s, got))
}

func TestStagePredicates(t *testing.T) {
	assert.True(t, StageApprovalPending.Pending())
	assert.True(t, StageApprovalConfirmed.Pending())
	assert.True(t, StageJobPending.Pending())
	assert.False(t, StageJobConfirmed.Pending())
	assert.True(t, StageApprovalFailed.Failed())
	assert.False(t, StageIdle.Failed())

	assert.Equal(t, "0xb", WriteStatus{ApprovalTx: "0xa", JobTx: "0xb"}.Hash())
	assert.Equal(t, "0xa", WriteStatus{ApprovalTx: "0xa"}.Hash())
}

func TestCanSubmit(t *testing.T) {
	s := NewFormState(alice)
	assert.False(t, s.CanSubmit())
	s = Reduce(s, FieldEdited{Field: FieldRecipient, Value: "r"})
	s = Reduce(s, FieldEdited{Field: FieldAmount, Value: "1"})
	assert.True(t, s.CanSubmit())
	s = Reduce(s, AccountChanged{Account: wallet.Account{Address: alice.Address}})
	assert.False(t, s.CanSubmit())
}

func TestParseField(t *testing.T) {
	f, err := ParseField("amount")
	assert.NoError(t, err)
	assert.Equal(t, FieldAmount, f)
	_, err = ParseField("ensOwnership")
	assert.ErrorIs(t, err, ErrUnknownField)
}
