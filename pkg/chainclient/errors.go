package chainclient

import (
	"errors"
	"strings"
)

// Class classifies an RPC/transaction failure so callers can decide a retry
// policy without string-matching at every call site.
type Class int

const (
	// ClassUnknown is the zero value; classify never assigns it to a
	// non-nil error, and ClassOf returns it for errors without a Class.
	ClassUnknown Class = iota
	ClassRpcUnavailable
	ClassNonceTooLow
	ClassInsufficientFunds
	ClassAlreadyKnown
	ClassReplacementUnderpriced
	ClassReverted
)

func (c Class) String() string {
	switch c {
	case ClassRpcUnavailable:
		return "RpcUnavailable"
	case ClassNonceTooLow:
		return "NonceTooLow"
	case ClassInsufficientFunds:
		return "InsufficientFunds"
	case ClassAlreadyKnown:
		return "AlreadyKnown"
	case ClassReplacementUnderpriced:
		return "ReplacementUnderpriced"
	case ClassReverted:
		return "Reverted"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying RPC/transaction error with its classification.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return e.Class.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrUnsupported is returned by GetProof when the endpoint does not support
// eth_getProof; callers treat it as a soft failure, never a hard one.
var ErrUnsupported = errors.New("chainclient: operation unsupported by endpoint")

// classify maps a raw go-ethereum / JSON-RPC error string to a Class. This
// mirrors the substring checks the teacher inlines at each send call site,
// centralized here so the Nonce Manager and Submitter consume a single type.
func classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "nonce too low"):
		return ClassNonceTooLow
	case strings.Contains(s, "already known"):
		return ClassAlreadyKnown
	case strings.Contains(s, "replacement transaction underpriced"):
		return ClassReplacementUnderpriced
	case strings.Contains(s, "insufficient funds"):
		return ClassInsufficientFunds
	case strings.Contains(s, "execution reverted"), strings.Contains(s, "revert"):
		return ClassReverted
	case strings.Contains(s, "connection refused"),
		strings.Contains(s, "no such host"),
		strings.Contains(s, "timeout"),
		strings.Contains(s, "eof"),
		strings.Contains(s, "i/o timeout"):
		return ClassRpcUnavailable
	default:
		return ClassRpcUnavailable
	}
}

// wrap classifies err and returns nil if err is nil.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: classify(err), Err: err}
}

// ClassOf extracts the Class from err, walking wrapped errors. Returns
// ClassUnknown if err does not carry a classification.
func ClassOf(err error) Class {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassUnknown
}
