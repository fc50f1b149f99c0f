package store

import (
	"context"
	"sync"

	"github.com/Snapchat/aws-support-tickets-aggregator/cases"
)

// DryRunGateway reports what UpsertIfNewer would do against a backing
// store without writing to it. Decisions made during the dry run are kept
// in an overlay so a case seen twice is judged against its first sighting.
type DryRunGateway struct {
	backing Reader

	mu      sync.Mutex
	overlay map[string]cases.Case
}

// NewDryRunGateway creates a DryRunGateway reading through backing.
func NewDryRunGateway(backing Reader) *DryRunGateway {
	return &DryRunGateway{backing: backing, overlay: make(map[string]cases.Case)}
}

// UpsertIfNewer returns the outcome a real write would have.
func (g *DryRunGateway) UpsertIfNewer(ctx context.Context, c cases.Case) (cases.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	stored, err := g.lookup(ctx, c.Key)
	if err != nil {
		return cases.Skipped, err
	}
	outcome := cases.Decide(stored, c)
	if outcome != cases.Skipped {
		g.overlay[c.Key] = c
	}
	return outcome, nil
}

// Get returns the overlay record if any, otherwise the backing record.
func (g *DryRunGateway) Get(ctx context.Context, key string) (*cases.Case, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lookup(ctx, key)
}

func (g *DryRunGateway) lookup(ctx context.Context, key string) (*cases.Case, error) {
	if c, ok := g.overlay[key]; ok {
		return &c, nil
	}
	return g.backing.Get(ctx, key)
}

var _ ReadWriter = (*DryRunGateway)(nil)
