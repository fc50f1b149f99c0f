package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
)

func TestClassifyAuthzCodes(t *testing.T) {
	testCases := []struct {
		name     string
		code     string
		fallback Kind
		want     Kind
	}{
		{"access denied", "AccessDenied", KindTransientFetch, KindAuthz},
		{"access denied exception", "AccessDeniedException", KindTransientFetch, KindAuthz},
		{"expired token", "ExpiredToken", KindTransientFetch, KindAuthz},
		{"subscription required", SubscriptionRequiredCode, KindTransientFetch, KindAuthz},
		{"throttling", "ThrottlingException", KindTransientFetch, KindTransientFetch},
		{"internal", "InternalServerError", KindEnumeration, KindEnumeration},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify(&smithy.GenericAPIError{Code: tc.code, Message: "nope"}, tc.fallback, "op", "111111111111")
			if got := KindOf(err); got != tc.want {
				t.Errorf("expected kind %v, got %v", tc.want, got)
			}
		})
	}
}

func TestClassifyNilAndExisting(t *testing.T) {
	if err := Classify(nil, KindAuthz, "op", ""); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	existing := &Error{Kind: KindStorage, Op: "dynamodb:PutItem"}
	wrapped := fmt.Errorf("outer: %w", existing)
	if got := Classify(wrapped, KindAuthz, "other", ""); got != wrapped {
		t.Errorf("expected already-classified error to be returned unchanged, got %v", got)
	}
}

func TestErrorIsMatchesKindSentinels(t *testing.T) {
	err := fmt.Errorf("account 1: %w", &Error{Kind: KindAuthz, Op: "sts:AssumeRole", Err: errors.New("denied")})

	if !errors.Is(err, ErrAuthz) {
		t.Error("expected error to match ErrAuthz")
	}
	if errors.Is(err, ErrStorage) {
		t.Error("did not expect error to match ErrStorage")
	}
	if !errors.Is(err, &Error{Kind: KindAuthz, Op: "sts:AssumeRole"}) {
		t.Error("expected error to match same kind and op")
	}
	if errors.Is(err, &Error{Kind: KindAuthz, Op: "support:DescribeCases"}) {
		t.Error("did not expect error to match a different op")
	}
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: KindStorage, Op: "dynamodb:PutItem", AccountID: "A1", CaseID: "C100", Err: errors.New("boom")}
	want := "StorageError: dynamodb:PutItem account=A1 case=C100: boom"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestReason(t *testing.T) {
	if Reason(nil) != "" {
		t.Error("expected empty reason for nil error")
	}
	if got := Reason(&Error{Kind: KindTransientFetch}); got != "TransientFetchError" {
		t.Errorf("expected TransientFetchError, got %s", got)
	}
	if got := Reason(errors.New("plain")); got != "UnknownError" {
		t.Errorf("expected UnknownError, got %s", got)
	}
}

func TestIsSubscriptionRequired(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &smithy.GenericAPIError{Code: SubscriptionRequiredCode})
	if !IsSubscriptionRequired(err) {
		t.Error("expected subscription-required error to be detected")
	}
	if IsSubscriptionRequired(&smithy.GenericAPIError{Code: "AccessDenied"}) {
		t.Error("did not expect AccessDenied to be subscription-required")
	}
}
