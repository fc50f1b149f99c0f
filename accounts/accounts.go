// Package accounts produces the set of member accounts a run collects from.
package accounts

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"

	"github.com/Snapchat/aws-support-tickets-aggregator/aws"
	"github.com/Snapchat/aws-support-tickets-aggregator/broker"
	"github.com/Snapchat/aws-support-tickets-aggregator/faults"
)

// ListSessionName is the role session name used for the org viewer role.
const ListSessionName = "listAccountIds"

// Enumerator returns unique account ids. Callers must not rely on order.
type Enumerator interface {
	ListAccountIDs(ctx context.Context) ([]string, error)
}

// Assumer is the part of the credential broker the enumerator needs.
type Assumer interface {
	AssumeRole(ctx context.Context, req broker.Request) (broker.Credential, error)
}

// StaticEnumerator returns an operator-supplied list of account ids.
type StaticEnumerator struct {
	ids []string
}

// NewStaticEnumerator removes blanks and duplicates from ids.
func NewStaticEnumerator(ids []string) *StaticEnumerator {
	return &StaticEnumerator{ids: unique(ids)}
}

// ListAccountIDs returns the configured ids.
func (s *StaticEnumerator) ListAccountIDs(ctx context.Context) ([]string, error) {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out, nil
}

// OrganizationsEnumerator lists every active account of an AWS Organization.
type OrganizationsEnumerator struct {
	clients       aws.ClientFactory
	assumer       Assumer
	viewerRoleARN string
}

// NewOrganizationsEnumerator creates an enumerator. When viewerRoleARN is
// set the listing runs under that role, assumed from the base identity.
func NewOrganizationsEnumerator(clients aws.ClientFactory, assumer Assumer, viewerRoleARN string) *OrganizationsEnumerator {
	return &OrganizationsEnumerator{
		clients:       clients,
		assumer:       assumer,
		viewerRoleARN: viewerRoleARN,
	}
}

// ListAccountIDs paginates organizations:ListAccounts. Any failure is a
// faults.KindEnumeration error.
func (o *OrganizationsEnumerator) ListAccountIDs(ctx context.Context) ([]string, error) {
	var provider sdkaws.CredentialsProvider
	if o.viewerRoleARN != "" {
		cred, err := o.assumer.AssumeRole(ctx, broker.Request{
			RoleARN:     o.viewerRoleARN,
			SessionName: ListSessionName,
		})
		if err != nil {
			return nil, enumerationError(fmt.Errorf("failed to assume org viewer role: %w", err))
		}
		provider = cred.Provider()
	}

	client := o.clients.Organizations(provider)
	paginator := organizations.NewListAccountsPaginator(client, &organizations.ListAccountsInput{})

	var ids []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, enumerationError(fmt.Errorf("failed to list accounts: %w", err))
		}
		for _, account := range page.Accounts {
			if account.Status != "" && account.Status != orgtypes.AccountStatusActive {
				continue
			}
			ids = append(ids, sdkaws.ToString(account.Id))
		}
	}

	return unique(ids), nil
}

func enumerationError(err error) error {
	return &faults.Error{Kind: faults.KindEnumeration, Op: "organizations:ListAccounts", Err: err}
}

// unique trims, drops blanks and duplicates, and sorts for stable reports.
func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Compile-time interface checks
var (
	_ Enumerator = (*StaticEnumerator)(nil)
	_ Enumerator = (*OrganizationsEnumerator)(nil)
	_ Assumer    = (*broker.Broker)(nil)
)
