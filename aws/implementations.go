package aws

import (
	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/support"
)

// DefaultSupportRegion is the region of the global Support API endpoint.
const DefaultSupportRegion = "us-east-1"

// ClientFactory builds service clients signed by a given credentials
// provider. A nil provider means the base identity of the process.
type ClientFactory interface {
	STS(provider sdkaws.CredentialsProvider) STSClient
	Organizations(provider sdkaws.CredentialsProvider) OrganizationsClient
	Support(provider sdkaws.CredentialsProvider) SupportClient
}

// SDKFactory implements ClientFactory on top of a loaded SDK configuration.
type SDKFactory struct {
	cfg           sdkaws.Config
	supportRegion string
}

// NewSDKFactory creates a factory. An empty supportRegion selects
// DefaultSupportRegion.
func NewSDKFactory(cfg sdkaws.Config, supportRegion string) *SDKFactory {
	if supportRegion == "" {
		supportRegion = DefaultSupportRegion
	}
	return &SDKFactory{cfg: cfg, supportRegion: supportRegion}
}

// STS returns an STS client; the base STS client is returned for a nil provider.
func (f *SDKFactory) STS(provider sdkaws.CredentialsProvider) STSClient {
	return sts.NewFromConfig(f.cfg, func(o *sts.Options) {
		if provider != nil {
			o.Credentials = provider
		}
	})
}

// Organizations returns an Organizations client.
func (f *SDKFactory) Organizations(provider sdkaws.CredentialsProvider) OrganizationsClient {
	return organizations.NewFromConfig(f.cfg, func(o *organizations.Options) {
		if provider != nil {
			o.Credentials = provider
		}
	})
}

// Support returns a Support client pinned to the Support endpoint region.
func (f *SDKFactory) Support(provider sdkaws.CredentialsProvider) SupportClient {
	return support.NewFromConfig(f.cfg, func(o *support.Options) {
		o.Region = f.supportRegion
		if provider != nil {
			o.Credentials = provider
		}
	})
}
