package mock

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/aws-sdk-go-v2/service/support"
	supporttypes "github.com/aws/aws-sdk-go-v2/service/support/types"
	"github.com/aws/smithy-go"

	"github.com/Snapchat/aws-support-tickets-aggregator/aws"
)

// Account is one member account of the fake organization.
type Account struct {
	ID string
	// Roles that trust the aggregator's base identity.
	Roles []string
	// NoSubscription makes every Support call fail with
	// SubscriptionRequiredException.
	NoSubscription bool
	Suspended      bool
	Cases          []supporttypes.CaseDetails
}

// Cloud is an in-memory organization serving STS, Organizations and Support
// calls. It implements aws.ClientFactory: clients act as the identity of the
// credentials they are built with, and a nil provider is the base identity
// in the management account.
type Cloud struct {
	mu                  sync.Mutex
	managementAccountID string
	accounts            map[string]*Account
	order               []string
	sessions            map[string]string // access key id -> account id
	nextSession         int
	describeCalls       map[string]int

	// OrgPageSize bounds ListAccounts pages.
	OrgPageSize int
}

// NewCloud creates an organization managed from managementAccountID.
func NewCloud(managementAccountID string, accounts ...*Account) *Cloud {
	c := &Cloud{
		managementAccountID: managementAccountID,
		accounts:            make(map[string]*Account),
		sessions:            make(map[string]string),
		describeCalls:       make(map[string]int),
		OrgPageSize:         2,
	}
	for _, a := range accounts {
		c.accounts[a.ID] = a
		c.order = append(c.order, a.ID)
	}
	return c
}

// SetCases replaces the cases of an account.
func (c *Cloud) SetCases(accountID string, cs ...supporttypes.CaseDetails) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[accountID].Cases = cs
}

// Describes returns the number of DescribeCases calls made in accountID.
func (c *Cloud) Describes(accountID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.describeCalls[accountID]
}

func (c *Cloud) callerAccount(provider sdkaws.CredentialsProvider) (string, error) {
	if provider == nil {
		return c.managementAccountID, nil
	}
	creds, err := provider.Retrieve(context.Background())
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	account, ok := c.sessions[creds.AccessKeyID]
	if !ok {
		return "", apiError("InvalidClientTokenId", "The security token included in the request is invalid")
	}
	return account, nil
}

func apiError(code, message string) error {
	return &smithy.GenericAPIError{Code: code, Message: message, Fault: smithy.FaultClient}
}

// STS returns an STS client acting as the provider's identity.
func (c *Cloud) STS(provider sdkaws.CredentialsProvider) aws.STSClient {
	return &stsClient{cloud: c, provider: provider}
}

// Organizations returns an Organizations client.
func (c *Cloud) Organizations(provider sdkaws.CredentialsProvider) aws.OrganizationsClient {
	return &organizationsClient{cloud: c, provider: provider}
}

// Support returns a Support client.
func (c *Cloud) Support(provider sdkaws.CredentialsProvider) aws.SupportClient {
	return &supportClient{cloud: c, provider: provider}
}

type stsClient struct {
	cloud    *Cloud
	provider sdkaws.CredentialsProvider
}

func (s *stsClient) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	if _, err := s.cloud.callerAccount(s.provider); err != nil {
		return nil, err
	}
	roleARN := sdkaws.ToString(params.RoleArn)
	accountID, roleName, err := parseRoleARN(roleARN)
	if err != nil {
		return nil, apiError("ValidationError", err.Error())
	}

	c := s.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	account, ok := c.accounts[accountID]
	if ok && slices.Contains(account.Roles, roleName) {
		c.nextSession++
		keyID := "ASIA" + accountID + strconv.Itoa(c.nextSession)
		c.sessions[keyID] = accountID
		return &sts.AssumeRoleOutput{
			Credentials: &ststypes.Credentials{
				AccessKeyId:     sdkaws.String(keyID),
				SecretAccessKey: sdkaws.String("secret"),
				SessionToken:    sdkaws.String("token"),
				Expiration:      sdkaws.Time(time.Now().Add(time.Hour)),
			},
		}, nil
	}
	return nil, apiError("AccessDenied", fmt.Sprintf("not authorized to perform sts:AssumeRole on %s", roleARN))
}

func (s *stsClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	account, err := s.cloud.callerAccount(s.provider)
	if err != nil {
		return nil, err
	}
	return &sts.GetCallerIdentityOutput{
		Account: sdkaws.String(account),
		Arn:     sdkaws.String("arn:aws:sts::" + account + ":assumed-role/Aggregator/session"),
	}, nil
}

func parseRoleARN(arn string) (accountID, roleName string, err error) {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) != 6 || parts[2] != "iam" || !strings.HasPrefix(parts[5], "role/") {
		return "", "", fmt.Errorf("invalid role ARN %q", arn)
	}
	resource := strings.TrimPrefix(parts[5], "role/")
	return parts[4], resource[strings.LastIndex(resource, "/")+1:], nil
}

type organizationsClient struct {
	cloud    *Cloud
	provider sdkaws.CredentialsProvider
}

// ListAccounts serves the organization's accounts to the management
// account only.
func (o *organizationsClient) ListAccounts(ctx context.Context, params *organizations.ListAccountsInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error) {
	caller, err := o.cloud.callerAccount(o.provider)
	if err != nil {
		return nil, err
	}

	c := o.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.managementAccountID {
		return nil, apiError("AccessDeniedException", "You don't have permissions to access this resource.")
	}

	start := 0
	if params.NextToken != nil {
		start, err = strconv.Atoi(*params.NextToken)
		if err != nil {
			return nil, apiError("InvalidInputException", "invalid next token")
		}
	}
	end := min(start+max(c.OrgPageSize, 1), len(c.order))

	out := &organizations.ListAccountsOutput{}
	for _, id := range c.order[start:end] {
		status := orgtypes.AccountStatusActive
		if c.accounts[id].Suspended {
			status = orgtypes.AccountStatusSuspended
		}
		out.Accounts = append(out.Accounts, orgtypes.Account{Id: sdkaws.String(id), Status: status})
	}
	if end < len(c.order) {
		out.NextToken = sdkaws.String(strconv.Itoa(end))
	}
	return out, nil
}

type supportClient struct {
	cloud    *Cloud
	provider sdkaws.CredentialsProvider
}

// DescribeCases serves the caller account's cases, honouring the resolved
// filter, AfterTime, the case id list and MaxResults pagination.
func (s *supportClient) DescribeCases(ctx context.Context, params *support.DescribeCasesInput, optFns ...func(*support.Options)) (*support.DescribeCasesOutput, error) {
	caller, err := s.cloud.callerAccount(s.provider)
	if err != nil {
		return nil, err
	}

	c := s.cloud
	c.mu.Lock()
	defer c.mu.Unlock()

	c.describeCalls[caller]++
	account, ok := c.accounts[caller]
	if !ok || account.NoSubscription {
		return nil, apiError("SubscriptionRequiredException", "AWS Premium Support Subscription is required to use this service.")
	}

	var after time.Time
	if params.AfterTime != nil {
		after, err = time.Parse(time.RFC3339, *params.AfterTime)
		if err != nil {
			return nil, apiError("InvalidParameterValueException", "invalid afterTime")
		}
	}

	var matched []supporttypes.CaseDetails
	for _, cs := range account.Cases {
		resolved := sdkaws.ToString(cs.Status) == "resolved"
		if len(params.CaseIdList) > 0 {
			if !slices.Contains(params.CaseIdList, sdkaws.ToString(cs.CaseId)) {
				continue
			}
		} else if resolved && !params.IncludeResolvedCases {
			continue
		}
		if !after.IsZero() {
			created, err := time.Parse(time.RFC3339, sdkaws.ToString(cs.TimeCreated))
			if err == nil && created.Before(after) {
				continue
			}
		}
		matched = append(matched, cs)
	}

	start := 0
	if params.NextToken != nil {
		start, _ = strconv.Atoi(*params.NextToken)
	}
	size := len(matched)
	if params.MaxResults != nil {
		size = int(*params.MaxResults)
	}
	end := min(start+size, len(matched))

	out := &support.DescribeCasesOutput{Cases: matched[start:end]}
	if end < len(matched) {
		out.NextToken = sdkaws.String(strconv.Itoa(end))
	}
	return out, nil
}

var (
	_ aws.ClientFactory       = (*Cloud)(nil)
	_ aws.STSClient           = (*stsClient)(nil)
	_ aws.OrganizationsClient = (*organizationsClient)(nil)
	_ aws.SupportClient       = (*supportClient)(nil)
)
