package trail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Snapchat/aws-support-tickets-aggregator/logger"
	"github.com/Snapchat/aws-support-tickets-aggregator/reconcile"
	"github.com/Snapchat/aws-support-tickets-aggregator/report"
)

// Streamer streams the decompressed lines of an S3 object. It is satisfied
// by s3streamer.Streamer.
type Streamer interface {
	Stream(ctx context.Context, bucket, key string, offset int64, fn func(line []byte, offset int64) error) error
}

// Refresher re-reads cases. It is satisfied by *reconcile.Reconciler.
type Refresher interface {
	RefreshAll(ctx context.Context, targets []reconcile.Target) (report.Report, error)
}

// Processor refreshes the cases touched by the events of a CloudTrail
// delivery.
type Processor struct {
	streamer  Streamer
	refresher Refresher
	logger    *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// NewProcessor creates a Processor.
func NewProcessor(streamer Streamer, refresher Refresher, opts ...Option) *Processor {
	p := &Processor{
		streamer:  streamer,
		refresher: refresher,
		logger:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one notification payload and returns the refresh report.
// Corrupt log objects are logged and skipped; failing to read an object
// aborts before any refresh.
func (p *Processor) Process(ctx context.Context, payload []byte) (report.Report, error) {
	objects, err := ParseNotification(payload)
	if err != nil {
		return report.Report{}, err
	}

	targets, err := p.Targets(ctx, objects)
	if err != nil {
		return report.Report{}, err
	}
	return p.refresher.RefreshAll(ctx, targets)
}

// Targets reads every object and groups the changed case ids by account.
func (p *Processor) Targets(ctx context.Context, objects []Object) ([]reconcile.Target, error) {
	set := NewCaseSet()
	for _, obj := range objects {
		events, err := p.read(ctx, obj)
		if errors.Is(err, ErrCorrupt) {
			p.logger.Warn("skipping unreadable cloudtrail log",
				slog.String("object", obj.String()), slog.String("error", err.Error()))
			continue
		}
		if err != nil {
			return nil, err
		}

		for _, e := range events {
			if !IsCaseEvent(e.EventName) {
				continue
			}
			if !set.Add(e) {
				p.logger.Warn("support event without case id",
					slog.String("event_id", e.EventID),
					slog.String("event_name", e.EventName),
					slog.String("account_id", e.RecipientAccountID))
			}
		}
	}

	targets := set.Targets()
	p.logger.Info("collected support case events",
		slog.Int("objects", len(objects)),
		slog.Int("accounts", len(targets)),
		slog.Int("cases", set.Len()))
	return targets, nil
}

func (p *Processor) read(ctx context.Context, obj Object) ([]Event, error) {
	var buf bytes.Buffer
	err := p.streamer.Stream(ctx, obj.Bucket, obj.Key, 0, func(line []byte, _ int64) error {
		buf.Write(line)
		buf.WriteByte('\n')
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", obj, err)
	}
	if buf.Len() == 0 {
		return nil, nil
	}
	events, err := DecodeLog(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", obj, err)
	}
	return events, nil
}
