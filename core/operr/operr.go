// Package operr defines the pipeline error taxonomy. Every failure surfaced
// by the submission pipeline carries a machine-readable Kind plus a
// human-readable remediation hint; policy (retry, fallback, surface) is
// decided by the coordinator based on the Kind alone.
package operr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	DeploymentRequired     Kind = "DEPLOYMENT_REQUIRED"
	InsufficientPrefund    Kind = "INSUFFICIENT_PREFUND"
	InvalidNonce           Kind = "INVALID_NONCE"
	UnsupportedPaymentType Kind = "UNSUPPORTED_PAYMENT_TYPE"
	ApprovalRequired       Kind = "APPROVAL_REQUIRED"
	SponsorshipRejected    Kind = "SPONSORSHIP_REJECTED"
	UserRejectedSignature  Kind = "USER_REJECTED_SIGNATURE"
	NetworkUnavailable     Kind = "NETWORK_UNAVAILABLE"
	PendingTimeout         Kind = "PENDING_TIMEOUT"
	ExpiredSessionKey      Kind = "EXPIRED_SESSION_KEY"
	Unknown                Kind = "UNKNOWN"
)

// defaultHints map each kind to the remediation a caller can act on.
var defaultHints = map[Kind]string{
	DeploymentRequired:     "deploy the smart wallet before retrying (it has no on-chain code yet)",
	InsufficientPrefund:    "fund the wallet's entrypoint deposit, then retry",
	InvalidNonce:           "the operation nonce is stale; rebuild with a fresh nonce",
	UnsupportedPaymentType: "the paymaster does not accept this payment method; pick another",
	ApprovalRequired:       "approve the paymaster on the gas token before retrying",
	SponsorshipRejected:    "the paymaster declined to sponsor this operation",
	UserRejectedSignature:  "the signature request was rejected; re-initiate the operation to sign again",
	NetworkUnavailable:     "a network call failed; the submission can be retried as-is",
	PendingTimeout:         "the operation is still pending at the bundler; poll again or resubmit later",
	ExpiredSessionKey:      "the session key has expired; create a new session key",
	Unknown:                "unrecognized failure from an external service; do not retry automatically",
}

// Error is the pipeline error type.
type Error struct {
	Kind Kind
	Hint string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind with its default remediation hint.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind: kind,
		Hint: defaultHints[kind],
		Err:  fmt.Errorf(format, args...),
	}
}

// Wrap attaches a kind (and its default hint) to an existing error.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Hint: defaultHints[kind], Err: err}
}

// KindOf extracts the Kind from err, or Unknown when err carries none.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return Unknown
}

// HintOf extracts the remediation hint from err, if any.
func HintOf(err error) string {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Hint
	}
	return defaultHints[Unknown]
}

// Is lets errors.Is match on bare kinds: errors.Is(err, operr.InvalidNonce.Sentinel()).
func (k Kind) Sentinel() error { return &Error{Kind: k, Hint: defaultHints[k]} }

func (e *Error) Is(target error) bool {
	var oe *Error
	if errors.As(target, &oe) {
		return e.Kind == oe.Kind
	}
	return false
}

// RetryableWithoutAction reports whether the caller may simply re-invoke the
// whole submission without changing anything first.
func RetryableWithoutAction(err error) bool {
	switch KindOf(err) {
	case PendingTimeout, NetworkUnavailable:
		return true
	}
	return false
}

// RequiresCallerAction reports whether the failure needs an external action
// (funding, approval, new key, re-sign) before a retry can succeed.
func RequiresCallerAction(err error) bool {
	switch KindOf(err) {
	case DeploymentRequired, InsufficientPrefund, ApprovalRequired,
		UserRejectedSignature, ExpiredSessionKey:
		return true
	}
	return false
}
