// Package broker exchanges the aggregator's base identity for temporary,
// account-scoped credentials by assuming cross-account trust roles.
//
// Every call is self-contained: the broker keeps no session state, and
// chaining through an intermediary role is expressed by passing the
// intermediary Credential explicitly.
package broker

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/Snapchat/aws-support-tickets-aggregator/aws"
	"github.com/Snapchat/aws-support-tickets-aggregator/faults"
)

// Role session name limits, see RoleSessionName in the STS AssumeRole API.
const (
	SessionNameMinLength = 2
	SessionNameMaxLength = 64
)

// Defaults for the pre-provisioned trust roles.
const (
	DefaultCaseRoleName   = "GetSupportInfoRole"
	DefaultSessionName    = "support-aggregator"
	DefaultPartition      = "aws"
	DefaultSessionSeconds = 900
)

// Credential is a temporary credential scoped to one account and one role.
type Credential struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expires         time.Time
	AccountID       string
	RoleARN         string
}

// Provider returns a static credentials provider for c.
func (c Credential) Provider() sdkaws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
}

// Expired reports whether c has expired at now.
func (c Credential) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !now.Before(c.Expires)
}

// Request names the role to assume.
type Request struct {
	AccountID   string
	RoleName    string
	RoleARN     string // overrides AccountID and RoleName when set
	SessionName string
	// Via signs the AssumeRole call with an intermediary credential instead
	// of the base identity.
	Via *Credential
}

// Broker assumes roles through STS.
type Broker struct {
	clients   aws.ClientFactory
	partition string
	duration  int32
}

// Option configures a Broker.
type Option func(*Broker)

// WithPartition sets the ARN partition (aws, aws-cn, aws-us-gov).
func WithPartition(partition string) Option {
	return func(b *Broker) { b.partition = partition }
}

// WithSessionDuration sets the assumed-role session duration.
func WithSessionDuration(d time.Duration) Option {
	return func(b *Broker) { b.duration = int32(d / time.Second) }
}

// New creates a Broker that builds STS clients through clients.
func New(clients aws.ClientFactory, opts ...Option) *Broker {
	b := &Broker{
		clients:   clients,
		partition: DefaultPartition,
		duration:  DefaultSessionSeconds,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RoleARN builds the ARN of roleName in accountID.
func (b *Broker) RoleARN(accountID, roleName string) string {
	return fmt.Sprintf("arn:%s:iam::%s:role/%s", b.partition, accountID, roleName)
}

// AssumeRole returns credentials for the requested role. Rejections by the
// trust relationship are faults.KindAuthz; anything else is
// faults.KindTransientFetch.
func (b *Broker) AssumeRole(ctx context.Context, req Request) (Credential, error) {
	roleARN := req.RoleARN
	if roleARN == "" {
		if req.AccountID == "" || req.RoleName == "" {
			return Credential{}, &faults.Error{
				Kind: faults.KindAuthz,
				Op:   "sts:AssumeRole",
				Err:  fmt.Errorf("account id and role name are required"),
			}
		}
		roleARN = b.RoleARN(req.AccountID, req.RoleName)
	}

	var provider sdkaws.CredentialsProvider
	if req.Via != nil {
		provider = req.Via.Provider()
	}
	client := b.clients.STS(provider)

	out, err := client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         sdkaws.String(roleARN),
		RoleSessionName: sdkaws.String(SessionName(req.SessionName)),
		DurationSeconds: sdkaws.Int32(b.duration),
	})
	if err != nil {
		return Credential{}, faults.Classify(
			fmt.Errorf("failed to assume %s: %w", roleARN, err),
			faults.KindTransientFetch, "sts:AssumeRole", req.AccountID)
	}
	if out.Credentials == nil {
		return Credential{}, &faults.Error{
			Kind:      faults.KindAuthz,
			Op:        "sts:AssumeRole",
			AccountID: req.AccountID,
			Err:       fmt.Errorf("no credentials returned for %s", roleARN),
		}
	}

	cred := Credential{
		AccessKeyID:     sdkaws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: sdkaws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    sdkaws.ToString(out.Credentials.SessionToken),
		Expires:         sdkaws.ToTime(out.Credentials.Expiration),
		AccountID:       req.AccountID,
		RoleARN:         roleARN,
	}
	return cred, nil
}

// SessionName applies the STS session name limits: empty or too-short names
// fall back to DefaultSessionName and long names are truncated.
func SessionName(name string) string {
	if len(name) < SessionNameMinLength {
		return DefaultSessionName
	}
	if len(name) > SessionNameMaxLength {
		return name[:SessionNameMaxLength]
	}
	return name
}
