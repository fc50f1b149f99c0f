// Package aws declares the narrow AWS service interfaces the aggregator
// depends on. The SDK clients satisfy them directly; tests substitute
// hand-written fakes.
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/support"
)

// DynamoDBClient covers the conditional writes and reads of the case table.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// S3Client covers report uploads and CloudTrail log reads.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// IAMClient is used by the permission preflight.
// It matches iam.SimulatePrincipalPolicyAPIClient so the SDK paginator accepts it.
type IAMClient interface {
	SimulatePrincipalPolicy(ctx context.Context, params *iam.SimulatePrincipalPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error)
}

// STSClient performs role assumption and identity lookups.
type STSClient interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// OrganizationsClient lists the member accounts of an organization.
// It matches organizations.ListAccountsAPIClient so the SDK paginator accepts it.
type OrganizationsClient interface {
	ListAccounts(ctx context.Context, params *organizations.ListAccountsInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error)
}

// SupportClient lists support cases of one account.
// It matches support.DescribeCasesAPIClient so the SDK paginator accepts it.
type SupportClient interface {
	DescribeCases(ctx context.Context, params *support.DescribeCasesInput, optFns ...func(*support.Options)) (*support.DescribeCasesOutput, error)
}

// Compile-time interface checks
var (
	_ DynamoDBClient      = (*dynamodb.Client)(nil)
	_ S3Client            = (*s3.Client)(nil)
	_ IAMClient           = (*iam.Client)(nil)
	_ STSClient           = (*sts.Client)(nil)
	_ OrganizationsClient = (*organizations.Client)(nil)
	_ SupportClient       = (*support.Client)(nil)

	_ organizations.ListAccountsAPIClient  = (OrganizationsClient)(nil)
	_ support.DescribeCasesAPIClient       = (SupportClient)(nil)
	_ iam.SimulatePrincipalPolicyAPIClient = (IAMClient)(nil)

	_ ClientFactory = (*SDKFactory)(nil)
)
