// Package support wraps the AWS Support case-listing API of one member
// account as a lazy sequence of raw case records.
package support

import (
	"context"
	"fmt"
	"iter"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	awssupport "github.com/aws/aws-sdk-go-v2/service/support"
	"golang.org/x/time/rate"

	"github.com/Snapchat/aws-support-tickets-aggregator/aws"
	"github.com/Snapchat/aws-support-tickets-aggregator/broker"
	"github.com/Snapchat/aws-support-tickets-aggregator/cases"
	"github.com/Snapchat/aws-support-tickets-aggregator/faults"
)

const (
	// DefaultPageSize is the largest page DescribeCases accepts.
	DefaultPageSize = 100
	// MinPageSize is the smallest page DescribeCases accepts.
	MinPageSize = 10
	// maxCaseIDs is the DescribeCases caseIdList limit.
	maxCaseIDs = 100

	opDescribeCases = "support:DescribeCases"
)

// Lister is the adapter surface the reconciler consumes.
type Lister interface {
	ListCases(ctx context.Context, cred broker.Credential, w Window) iter.Seq2[cases.RawCase, error]
	GetCases(ctx context.Context, cred broker.Credential, caseIDs []string) iter.Seq2[cases.RawCase, error]
}

// Adapter lists cases through per-account Support clients.
type Adapter struct {
	clients  aws.ClientFactory
	limiter  *rate.Limiter
	pageSize int32
	now      func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithPageSize sets the DescribeCases page size, clamped to the API limits.
func WithPageSize(n int) Option {
	return func(a *Adapter) {
		switch {
		case n > DefaultPageSize:
			n = DefaultPageSize
		case n < MinPageSize:
			n = MinPageSize
		}
		a.pageSize = int32(n)
	}
}

// WithRateLimit limits page fetches across all accounts to rps requests per
// second. A non-positive rps disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *Adapter) {
		if rps <= 0 {
			a.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClock overrides the time source used for window cutoffs.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter creates an Adapter.
func NewAdapter(clients aws.ClientFactory, opts ...Option) *Adapter {
	a := &Adapter{
		clients:  clients,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		pageSize: DefaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ListCases returns the cases of cred's account inside w. Nothing is fetched
// until the sequence is ranged over, and every range starts from the first
// page. Open cases are queried first, then resolved ones; a case is yielded
// at most once per range.
//
// On failure the sequence yields one error (faults.KindAuthz or
// faults.KindTransientFetch) and stops.
func (a *Adapter) ListCases(ctx context.Context, cred broker.Credential, w Window) iter.Seq2[cases.RawCase, error] {
	return func(yield func(cases.RawCase, error) bool) {
		client := a.clients.Support(cred.Provider())
		afterTime := w.AfterTime(a.now())
		seen := make(map[string]bool)

		for _, includeResolved := range []bool{false, true} {
			input := &awssupport.DescribeCasesInput{
				IncludeResolvedCases:  includeResolved,
				IncludeCommunications: sdkaws.Bool(true),
				MaxResults:            sdkaws.Int32(a.pageSize),
			}
			if afterTime != "" {
				input.AfterTime = sdkaws.String(afterTime)
			}
			if !a.drain(ctx, client, input, cred.AccountID, seen, yield) {
				return
			}
		}
	}
}

// GetCases returns the named cases of cred's account, resolved ones included.
func (a *Adapter) GetCases(ctx context.Context, cred broker.Credential, caseIDs []string) iter.Seq2[cases.RawCase, error] {
	return func(yield func(cases.RawCase, error) bool) {
		client := a.clients.Support(cred.Provider())
		seen := make(map[string]bool)

		for start := 0; start < len(caseIDs); start += maxCaseIDs {
			end := min(start+maxCaseIDs, len(caseIDs))
			input := &awssupport.DescribeCasesInput{
				CaseIdList:            caseIDs[start:end],
				IncludeResolvedCases:  true,
				IncludeCommunications: sdkaws.Bool(true),
			}
			if !a.drain(ctx, client, input, cred.AccountID, seen, yield) {
				return
			}
		}
	}
}

// drain follows every page of one query. It returns false once the consumer
// stops or an error has been yielded.
func (a *Adapter) drain(ctx context.Context, client aws.SupportClient, input *awssupport.DescribeCasesInput,
	accountID string, seen map[string]bool, yield func(cases.RawCase, error) bool) bool {
	paginator := awssupport.NewDescribeCasesPaginator(client, input)
	for paginator.HasMorePages() {
		if err := a.limiter.Wait(ctx); err != nil {
			yield(cases.RawCase{}, &faults.Error{
				Kind:      faults.KindTransientFetch,
				Op:        opDescribeCases,
				AccountID: accountID,
				Err:       fmt.Errorf("rate limiter: %w", err),
			})
			return false
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			yield(cases.RawCase{}, faults.Classify(
				fmt.Errorf("failed to describe cases: %w", err),
				faults.KindTransientFetch, opDescribeCases, accountID))
			return false
		}

		for _, c := range page.Cases {
			id := sdkaws.ToString(c.CaseId)
			if seen[id] {
				continue
			}
			seen[id] = true
			if !yield(c, nil) {
				return false
			}
		}
	}
	return true
}

var _ Lister = (*Adapter)(nil)
