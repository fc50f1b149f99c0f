// Package store persists canonical cases. Every implementation applies the
// last-modified-wins rule of cases.Decide atomically per record.
package store

import (
	"context"

	"github.com/Snapchat/aws-support-tickets-aggregator/cases"
)

// Gateway writes one case if it is newer than the stored record.
type Gateway interface {
	UpsertIfNewer(ctx context.Context, c cases.Case) (cases.Outcome, error)
}

// Reader looks up a stored case by composite key. It returns nil when no
// record exists.
type Reader interface {
	Get(ctx context.Context, key string) (*cases.Case, error)
}

// ReadWriter is a gateway that can also be read back.
type ReadWriter interface {
	Gateway
	Reader
}
