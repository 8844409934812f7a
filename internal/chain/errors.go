package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrorKind is the closed set of write failure categories.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindUserRejected
	KindNetworkFailure
	KindContractRevert
)

func (k ErrorKind) String() string {
	switch k {
	case KindUserRejected:
		return "user-rejected"
	case KindNetworkFailure:
		return "network-failure"
	case KindContractRevert:
		return "contract-revert"
	default:
		return "unknown"
	}
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// userRejectedCode is the EIP-1193 code wallets return when the user declines.
const userRejectedCode = 4001

// WriteError describes why a contract write failed. Reason is only set for reverts.
type WriteError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *WriteError) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// ClassifyError maps an error from go-ethereum or the transport into a WriteError.
// It returns nil for a nil error.
func ClassifyError(err error) *WriteError {
	if err == nil {
		return nil
	}
	var we *WriteError
	if errors.As(err, &we) {
		return we
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return &WriteError{Kind: KindUserRejected, Err: err}
	}

	if reason, ok := revertReason(err); ok {
		return &WriteError{Kind: KindContractRevert, Reason: reason, Err: err}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied") {
		return &WriteError{Kind: KindUserRejected, Err: err}
	}
	if isNetworkError(err, msg) {
		return &WriteError{Kind: KindNetworkFailure, Err: err}
	}
	return &WriteError{Kind: KindUnknown, Err: err}
}

func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(raw); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason, true
				}
			}
		}
	}

	msg := err.Error()
	const marker = "execution reverted"
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return "", false
	}
	reason := strings.TrimPrefix(msg[idx+len(marker):], ":")
	return strings.TrimSpace(reason), true
}

func isNetworkError(err error, msg string) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	for _, frag := range []string{"connection refused", "no such host", "i/o timeout", "connection reset", "eof"} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether resubmitting the same write could succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	we := ClassifyError(err)
	switch we.Kind {
	case KindUserRejected, KindContractRevert:
		return false
	case KindNetworkFailure:
		return !errors.Is(err, context.Canceled)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "invalid") || strings.Contains(msg, "insufficient funds") {
		return false
	}
	return true
}

// Describe renders err for display, keeping the raw payload of unknown errors.
func Describe(err error) string {
	we := ClassifyError(err)
	if we == nil {
		return ""
	}
	if we.Kind == KindUnknown && we.Err != nil {
		return fmt.Sprintf("unknown error: %+v", we.Err)
	}
	return we.Error()
}
