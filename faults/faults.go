// Package faults defines the error taxonomy shared by the aggregation core.
// Every failure that crosses a component boundary is a *Error carrying one
// of four kinds; the kind decides how far the failure propagates.
package faults

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
)

// Kind classifies a failure by the scope it is allowed to abort.
type Kind int

const (
	// KindUnknown is never produced by Classify; it marks a zero Error.
	KindUnknown Kind = iota
	// KindEnumeration is fatal to a run: without accounts nothing proceeds.
	KindEnumeration
	// KindAuthz skips one account.
	KindAuthz
	// KindTransientFetch skips the remaining pages of one account.
	KindTransientFetch
	// KindStorage skips one record.
	KindStorage
)

// String returns the reason string used in run reports.
func (k Kind) String() string {
	switch k {
	case KindEnumeration:
		return "EnumerationError"
	case KindAuthz:
		return "AuthzError"
	case KindTransientFetch:
		return "TransientFetchError"
	case KindStorage:
		return "StorageError"
	default:
		return "UnknownError"
	}
}

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrEnumeration    = &Error{Kind: KindEnumeration}
	ErrAuthz          = &Error{Kind: KindAuthz}
	ErrTransientFetch = &Error{Kind: KindTransientFetch}
	ErrStorage        = &Error{Kind: KindStorage}
)

// Error is a classified failure.
type Error struct {
	Kind      Kind
	Op        string // operation that failed, e.g. "sts:AssumeRole"
	AccountID string
	CaseID    string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.AccountID != "" {
		fmt.Fprintf(&b, " account=%s", e.AccountID)
	}
	if e.CaseID != "" {
		fmt.Fprintf(&b, " case=%s", e.CaseID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. A target with an
// empty Op matches any operation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Reason returns the report reason for err.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return KindOf(err).String()
}

// isAuthzCode reports whether an API error code means the trust relationship
// or the role's permissions rejected the call.
func isAuthzCode(code string) bool {
	switch code {
	case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation",
		"UnrecognizedClientException", "InvalidClientTokenId", "ExpiredToken",
		"ExpiredTokenException", "SignatureDoesNotMatch",
		"AWSOrganizationsNotInUseException", SubscriptionRequiredCode:
		return true
	}
	return false
}

// SubscriptionRequiredCode is returned by the Support API for accounts
// without a Business or Enterprise support plan.
const SubscriptionRequiredCode = "SubscriptionRequiredException"

// Classify wraps a remote-call error as either KindAuthz or fallback. A nil
// err returns nil and an existing *Error is returned unchanged.
func Classify(err error, fallback Kind, op, accountID string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	kind := fallback
	var ae smithy.APIError
	if errors.As(err, &ae) && isAuthzCode(ae.ErrorCode()) {
		kind = KindAuthz
	}
	return &Error{Kind: kind, Op: op, AccountID: accountID, Err: err}
}

// IsSubscriptionRequired reports whether err is the Support API's
// subscription-required rejection.
func IsSubscriptionRequired(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == SubscriptionRequiredCode
}
