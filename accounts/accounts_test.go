package accounts

import (
	"context"
	"errors"
	"reflect"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"

	"github.com/Snapchat/aws-support-tickets-aggregator/aws"
	"github.com/Snapchat/aws-support-tickets-aggregator/broker"
	"github.com/Snapchat/aws-support-tickets-aggregator/faults"
)

// mockOrganizations serves pages of accounts keyed by the incoming token.
type mockOrganizations struct {
	pages [][]orgtypes.Account
	err   error
	calls int
}

func (m *mockOrganizations) ListAccounts(ctx context.Context, params *organizations.ListAccountsInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	idx := 0
	if params.NextToken != nil {
		idx = int(sdkaws.ToString(params.NextToken)[0] - '0')
	}
	out := &organizations.ListAccountsOutput{Accounts: m.pages[idx]}
	if idx+1 < len(m.pages) {
		out.NextToken = sdkaws.String(string(rune('0' + idx + 1)))
	}
	return out, nil
}

type mockFactory struct {
	org     *mockOrganizations
	signers []sdkaws.CredentialsProvider
}

func (f *mockFactory) STS(provider sdkaws.CredentialsProvider) aws.STSClient { return nil }

func (f *mockFactory) Organizations(provider sdkaws.CredentialsProvider) aws.OrganizationsClient {
	f.signers = append(f.signers, provider)
	return f.org
}

func (f *mockFactory) Support(provider sdkaws.CredentialsProvider) aws.SupportClient { return nil }

type mockAssumer struct {
	requests []broker.Request
	err      error
}

func (m *mockAssumer) AssumeRole(ctx context.Context, req broker.Request) (broker.Credential, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return broker.Credential{}, m.err
	}
	return broker.Credential{AccessKeyID: "AKIAVIEWER", SecretAccessKey: "s", SessionToken: "t"}, nil
}

func account(id string, status orgtypes.AccountStatus) orgtypes.Account {
	return orgtypes.Account{Id: sdkaws.String(id), Status: status}
}

func TestStaticEnumerator(t *testing.T) {
	e := NewStaticEnumerator([]string{"333", " 111 ", "", "333", "222"})
	ids, err := e.ListAccountIDs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"111", "222", "333"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("expected %v, got %v", want, ids)
	}

	// Mutating the result must not leak into the enumerator
	ids[0] = "mutated"
	again, _ := e.ListAccountIDs(context.Background())
	if again[0] != "111" {
		t.Errorf("expected enumerator to be unaffected by caller mutation, got %v", again)
	}
}

func TestOrganizationsEnumeratorPaginatesAndFiltersActive(t *testing.T) {
	org := &mockOrganizations{pages: [][]orgtypes.Account{
		{account("A1", orgtypes.AccountStatusActive), account("A3", orgtypes.AccountStatusSuspended)},
		{account("A2", orgtypes.AccountStatusActive), account("A1", orgtypes.AccountStatusActive)},
	}}
	factory := &mockFactory{org: org}
	e := NewOrganizationsEnumerator(factory, &mockAssumer{}, "")

	ids, err := e.ListAccountIDs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"A1", "A2"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("expected %v, got %v", want, ids)
	}
	if org.calls != 2 {
		t.Errorf("expected 2 page calls, got %d", org.calls)
	}
	if factory.signers[0] != nil {
		t.Error("expected base identity when no viewer role is configured")
	}
}

func TestOrganizationsEnumeratorAssumesViewerRole(t *testing.T) {
	factory := &mockFactory{org: &mockOrganizations{pages: [][]orgtypes.Account{{account("A1", orgtypes.AccountStatusActive)}}}}
	assumer := &mockAssumer{}
	e := NewOrganizationsEnumerator(factory, assumer, "arn:aws:iam::999999999999:role/OrgViewer")

	if _, err := e.ListAccountIDs(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assumer.requests) != 1 {
		t.Fatalf("expected 1 role assumption, got %d", len(assumer.requests))
	}
	if assumer.requests[0].RoleARN != "arn:aws:iam::999999999999:role/OrgViewer" {
		t.Errorf("unexpected role ARN %s", assumer.requests[0].RoleARN)
	}
	if assumer.requests[0].SessionName != ListSessionName {
		t.Errorf("expected session %s, got %s", ListSessionName, assumer.requests[0].SessionName)
	}
	if factory.signers[0] == nil {
		t.Error("expected listing to be signed by the viewer credential")
	}
}

func TestOrganizationsEnumeratorFailuresAreFatal(t *testing.T) {
	t.Run("listing fails", func(t *testing.T) {
		e := NewOrganizationsEnumerator(&mockFactory{org: &mockOrganizations{err: errors.New("boom")}}, &mockAssumer{}, "")
		_, err := e.ListAccountIDs(context.Background())
		if !errors.Is(err, faults.ErrEnumeration) {
			t.Errorf("expected enumeration error, got %v", err)
		}
	})

	t.Run("viewer role fails", func(t *testing.T) {
		assumer := &mockAssumer{err: &faults.Error{Kind: faults.KindAuthz, Err: errors.New("denied")}}
		e := NewOrganizationsEnumerator(&mockFactory{org: &mockOrganizations{}}, assumer, "arn:aws:iam::9:role/v")
		_, err := e.ListAccountIDs(context.Background())
		if faults.KindOf(err) != faults.KindEnumeration {
			t.Errorf("expected enumeration kind, got %v", faults.KindOf(err))
		}
	})
}

func TestOrganizationsEnumeratorEmptyOrganization(t *testing.T) {
	e := NewOrganizationsEnumerator(&mockFactory{org: &mockOrganizations{pages: [][]orgtypes.Account{{}}}}, &mockAssumer{}, "")
	ids, err := e.ListAccountIDs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no accounts, got %v", ids)
	}
}
