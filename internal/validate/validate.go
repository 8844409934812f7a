// Package validate holds the synchronous field checks used by the transfer form.
// Checks never panic; they report failure through the return value and an
// optional ErrorSetter.
package validate

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
)

const (
	MsgInvalidAddress = "Invalid recipient address"
	MsgInvalidEns     = "Invalid ENS name"
	MsgInvalidRPC     = "Invalid RPC endpoint"
	MsgInvalidURL     = "Invalid URL endpoint"
	MsgInvalidNumber  = "Must be a whole number"
	MsgZeroNumber     = "Must be greater than zero"
)

// EnsSuffix is the only top-level suffix accepted for ENS names.
const EnsSuffix = ".eth"

const minEnsLabel = 3

// ErrorSetter receives a user-facing message when a check fails. A nil setter is allowed.
type ErrorSetter func(msg string)

func (s ErrorSetter) set(msg string) {
	if s != nil {
		s(msg)
	}
}

// IsAddress reports whether s is a hex account address, using go-ethereum's rule.
func IsAddress(s string) bool {
	return common.IsHexAddress(s)
}

func ValidateAddress(s string, setErr ErrorSetter) bool {
	if !IsAddress(s) {
		setErr.set(MsgInvalidAddress)
		return false
	}
	return true
}

// ValidateEns checks that name is structurally a second-level .eth name whose
// first label has at least three characters.
func ValidateEns(name string, setErr ErrorSetter) bool {
	ok := isValidName(name)
	if !strings.Contains(name, ".") || !strings.HasSuffix(name, EnsSuffix) {
		ok = false
	}
	if first, _, _ := strings.Cut(name, "."); len(first) < minEnsLabel {
		ok = false
	}
	if !ok {
		setErr.set(MsgInvalidEns)
	}
	return ok
}

// isValidName rejects names with empty labels or characters that cannot survive
// normalisation.
func isValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if label == "" {
			return false
		}
		for _, r := range label {
			if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune("/:?#@%\\", r) {
				return false
			}
		}
	}
	return true
}

// ValidateRPC accepts an empty value, meaning the endpoint will be configured later.
func ValidateRPC(rpc string, setErr ErrorSetter) bool {
	if rpc == "" {
		return true
	}
	if !isEndpoint(rpc) {
		setErr.set(MsgInvalidRPC)
		return false
	}
	return true
}

func ValidateURL(url string, setErr ErrorSetter) bool {
	if !isEndpoint(url) {
		setErr.set(MsgInvalidURL)
		return false
	}
	return true
}

func isEndpoint(s string) bool {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	parts := strings.Split(s, "//")
	return len(parts) > 1 && parts[1] != ""
}

// AllPropertiesValid runs every check, so each setter fires independently.
func AllPropertiesValid(ens string, setEnsErr ErrorSetter, rpc string, setRPCErr ErrorSetter, url string, setURLErr ErrorSetter) bool {
	ensOK := ValidateEns(ens, setEnsErr)
	rpcOK := ValidateRPC(rpc, setRPCErr)
	urlOK := ValidateURL(url, setURLErr)
	return ensOK && rpcOK && urlOK
}

// ParseUint parses a base-10 unsigned integer of arbitrary size.
func ParseUint(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, false
	}
	return v, true
}

// ValidateUint checks s with ParseUint and, unless allowZero, rejects zero.
func ValidateUint(s string, setErr ErrorSetter, allowZero bool) (*big.Int, bool) {
	v, ok := ParseUint(s)
	if !ok {
		setErr.set(MsgInvalidNumber)
		return nil, false
	}
	if !allowZero && v.Sign() == 0 {
		setErr.set(MsgZeroNumber)
		return nil, false
	}
	return v, true
}

// Kinds lists the names accepted by Check.
var Kinds = []string{"address", "ens", "rpc", "url", "amount"}

var ErrUnknownKind = errors.New("unknown validation kind")

// Check runs the check named by kind and returns the failure message, if any.
func Check(kind, value string) (bool, string, error) {
	var msg string
	setErr := func(m string) { msg = m }
	var ok bool
	switch kind {
	case "address":
		ok = ValidateAddress(value, setErr)
	case "ens":
		ok = ValidateEns(value, setErr)
	case "rpc":
		ok = ValidateRPC(value, setErr)
	case "url":
		ok = ValidateURL(value, setErr)
	case "amount":
		_, ok = ValidateUint(value, setErr, false)
	default:
		return false, "", fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	return ok, msg, nil
}
