// Package reconcile drives a collection run: it enumerates accounts, fans
// them out to a bounded pool of workers and reconciles every case each
// worker fetches against the central store.
//
// A failure of one account never affects another. Only a failed account
// enumeration aborts the run.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Snapchat/aws-support-tickets-aggregator/accounts"
	"github.com/Snapchat/aws-support-tickets-aggregator/broker"
	"github.com/Snapchat/aws-support-tickets-aggregator/cases"
	"github.com/Snapchat/aws-support-tickets-aggregator/config"
	"github.com/Snapchat/aws-support-tickets-aggregator/faults"
	"github.com/Snapchat/aws-support-tickets-aggregator/logger"
	"github.com/Snapchat/aws-support-tickets-aggregator/metrics"
	"github.com/Snapchat/aws-support-tickets-aggregator/report"
	"github.com/Snapchat/aws-support-tickets-aggregator/store"
	"github.com/Snapchat/aws-support-tickets-aggregator/support"
)

// Run modes as they appear in reports and metrics.
const (
	ModeRun     = "run"
	ModeRefresh = "refresh"
)

// ReasonCancelled marks accounts never handed to a worker because the run's
// context was cancelled.
const ReasonCancelled = "Cancelled"

// RunOptions select the scope of a Run.
type RunOptions struct {
	RecentCasesOnly bool
}

// Target names the cases to refresh in one account.
type Target struct {
	AccountID string
	CaseIDs   []string
}

// Reconciler collects cases from member accounts into a store.Gateway.
type Reconciler struct {
	cfg        *config.Config
	enumerator accounts.Enumerator
	assumer    accounts.Assumer
	lister     support.Lister
	gateway    store.Gateway

	logger   *slog.Logger
	recorder metrics.Recorder
	now      func() time.Time
	newRunID func() string
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Reconciler) { r.recorder = rec }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithRunID overrides the run id generator.
func WithRunID(newRunID func() string) Option {
	return func(r *Reconciler) { r.newRunID = newRunID }
}

// New creates a Reconciler with all required dependencies.
func New(
	cfg *config.Config,
	enumerator accounts.Enumerator,
	assumer accounts.Assumer,
	lister support.Lister,
	gateway store.Gateway,
	opts ...Option,
) *Reconciler {
	r := &Reconciler{
		cfg:        cfg,
		enumerator: enumerator,
		assumer:    assumer,
		lister:     lister,
		gateway:    gateway,
		logger:     logger.Discard(),
		recorder:   metrics.Nop{},
		now:        time.Now,
		newRunID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// job is the unit of work handed to a worker.
type job struct {
	accountID string
	run       func(ctx context.Context, log *slog.Logger, out *report.AccountOutcome)
}

// Run collects every account's cases. It returns the report and a nil error
// unless enumeration failed (a faults.KindEnumeration error) or ctx was
// cancelled before every account was dispatched.
func (r *Reconciler) Run(ctx context.Context, opts RunOptions) (report.Report, error) {
	runID := r.newRunID()
	start := r.now()
	log := r.logger.With(slog.String("run_id", runID), slog.String("mode", ModeRun))
	window := support.ForRun(opts.RecentCasesOnly, r.cfg.Lookback())

	collector := report.NewCollector(runID, ModeRun, start)
	collector.SetWindow(opts.RecentCasesOnly, window.String())
	collector.SetDryRun(r.cfg.DryRun)

	log.Info("run started", slog.String("window", window.String()))

	ids, err := r.enumerator.ListAccountIDs(ctx)
	if err != nil {
		err = faults.Classify(err, faults.KindEnumeration, "accounts:List", "")
		log.Error("account enumeration failed", slog.String("error", err.Error()))
		collector.Fail(err.Error())
		return r.finish(log, collector), err
	}
	log.Info("accounts enumerated", slog.Int("accounts", len(ids)))

	jobs := make([]job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, job{
			accountID: id,
			run: func(ctx context.Context, log *slog.Logger, out *report.AccountOutcome) {
				r.collectAccount(ctx, log, window, out)
			},
		})
	}

	err = r.dispatch(ctx, log, collector, jobs)
	return r.finish(log, collector), err
}

// Refresh re-reads the named cases of one account.
func (r *Reconciler) Refresh(ctx context.Context, accountID string, caseIDs []string) (report.Report, error) {
	return r.RefreshAll(ctx, []Target{{AccountID: accountID, CaseIDs: caseIDs}})
}

// RefreshAll re-reads the named cases of several accounts through the
// worker pool. Targets for the same account are merged.
func (r *Reconciler) RefreshAll(ctx context.Context, targets []Target) (report.Report, error) {
	runID := r.newRunID()
	log := r.logger.With(slog.String("run_id", runID), slog.String("mode", ModeRefresh))
	collector := report.NewCollector(runID, ModeRefresh, r.now())
	collector.SetWindow(false, support.AllTime().String())
	collector.SetDryRun(r.cfg.DryRun)

	merged := mergeTargets(targets)
	jobs := make([]job, 0, len(merged))
	for _, t := range merged {
		jobs = append(jobs, job{
			accountID: t.AccountID,
			run: func(ctx context.Context, log *slog.Logger, out *report.AccountOutcome) {
				r.refreshAccount(ctx, log, t.CaseIDs, out)
			},
		})
	}

	err := r.dispatch(ctx, log, collector, jobs)
	return r.finish(log, collector), err
}

// dispatch runs jobs on at most MaxWorkers goroutines. Cancelling ctx stops
// handing out jobs; the remaining accounts are recorded as cancelled.
func (r *Reconciler) dispatch(ctx context.Context, log *slog.Logger, collector *report.Collector, jobs []job) error {
	workers := min(max(r.cfg.MaxWorkers, 1), max(len(jobs), 1))
	tasks := make(chan job)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := range tasks {
				out := r.runJob(ctx, log.With(slog.Int("worker", workerID), slog.String("account_id", j.accountID)), j)
				collector.Record(out)
				r.recorder.AccountProcessed(out.Status)
			}
		}(i)
	}

	var cancelled error
	sent := 0
send:
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		select {
		case tasks <- j:
			sent++
		case <-ctx.Done():
			cancelled = ctx.Err()
			break send
		}
	}
	close(tasks)
	wg.Wait()

	for _, j := range jobs[sent:] {
		collector.Record(report.AccountOutcome{
			AccountID: j.accountID,
			Status:    report.StatusSkipped,
			Reason:    ReasonCancelled,
			Error:     cancelled.Error(),
		})
		r.recorder.AccountProcessed(report.StatusSkipped)
	}
	if cancelled != nil {
		log.Warn("run cancelled", slog.Int("undispatched", len(jobs)-sent))
	}
	return cancelled
}

// runJob executes one job and turns a panic into the account's failure.
// Counts recorded before the panic are kept.
func (r *Reconciler) runJob(ctx context.Context, log *slog.Logger, j job) (out report.AccountOutcome) {
	out = report.AccountOutcome{AccountID: j.accountID, Status: report.StatusCompleted}
	defer func() {
		if p := recover(); p != nil {
			err := &faults.Error{Kind: faults.KindUnknown, Op: "worker", AccountID: j.accountID, Err: fmt.Errorf("panic: %v", p)}
			r.skip(log, &out, err)
		}
	}()
	j.run(ctx, log, &out)
	return out
}

// collectAccount lists every case of one account inside window.
func (r *Reconciler) collectAccount(ctx context.Context, log *slog.Logger, window support.Window, out *report.AccountOutcome) {
	cred, err := r.assume(ctx, out.AccountID)
	if err != nil {
		r.skip(log, out, err)
		return
	}

	now := r.now()
	for raw, err := range r.lister.ListCases(ctx, cred, window) {
		if err != nil {
			r.skip(log, out, err)
			return
		}
		c := cases.Normalize(raw, out.AccountID)
		if !window.Admits(c.LastUpdated(), now) {
			out.Filtered++
			r.recorder.CaseProcessed("filtered")
			continue
		}
		r.upsert(ctx, log, c, out)
	}
	log.Debug("account collected",
		slog.Int("inserted", out.Inserted), slog.Int("updated", out.Updated), slog.Int("skipped", out.Skipped))
}

// refreshAccount fetches specific cases. An account without a Support
// subscription gets a placeholder for each requested case.
func (r *Reconciler) refreshAccount(ctx context.Context, log *slog.Logger, caseIDs []string, out *report.AccountOutcome) {
	cred, err := r.assume(ctx, out.AccountID)
	if err != nil {
		r.skip(log, out, err)
		return
	}

	for raw, err := range r.lister.GetCases(ctx, cred, caseIDs) {
		if err != nil {
			if faults.IsSubscriptionRequired(err) {
				r.placeholders(ctx, log, caseIDs, out)
			}
			r.skip(log, out, err)
			return
		}
		r.upsert(ctx, log, cases.Normalize(raw, out.AccountID), out)
	}
}

// placeholders stores a placeholder for every case that has no record yet.
func (r *Reconciler) placeholders(ctx context.Context, log *slog.Logger, caseIDs []string, out *report.AccountOutcome) {
	reader, canRead := r.gateway.(store.Reader)
	for _, id := range caseIDs {
		p := cases.Placeholder(out.AccountID, id)
		if canRead {
			stored, err := reader.Get(ctx, p.Key)
			if err != nil {
				out.Failed++
				r.recorder.CaseProcessed("failed")
				log.Error("placeholder lookup failed", slog.String("case_key", p.Key), slog.String("error", err.Error()))
				continue
			}
			if stored != nil {
				out.Skipped++
				r.recorder.CaseProcessed(cases.Skipped.String())
				continue
			}
		}
		r.upsert(ctx, log, p, out)
	}
}

func (r *Reconciler) assume(ctx context.Context, accountID string) (broker.Credential, error) {
	return r.assumer.AssumeRole(ctx, broker.Request{
		AccountID:   accountID,
		RoleName:    r.cfg.CaseRoleName,
		SessionName: r.cfg.SessionName,
	})
}

// upsert writes one case. A storage failure is counted and logged; it never
// stops the account.
func (r *Reconciler) upsert(ctx context.Context, log *slog.Logger, c cases.Case, out *report.AccountOutcome) {
	outcome, err := r.gateway.UpsertIfNewer(ctx, c)
	if err != nil {
		out.Failed++
		r.recorder.CaseProcessed("failed")
		log.Error("case upsert failed", slog.String("case_key", c.Key), slog.String("error", err.Error()))
		return
	}

	switch outcome {
	case cases.Inserted:
		out.Inserted++
	case cases.Updated:
		out.Updated++
	default:
		out.Skipped++
	}
	r.recorder.CaseProcessed(outcome.String())
	log.Debug("case reconciled", slog.String("case_key", c.Key), slog.String("outcome", outcome.String()))
}

// skip marks the account skipped. Cases already written stay written.
func (r *Reconciler) skip(log *slog.Logger, out *report.AccountOutcome, err error) {
	out.Status = report.StatusSkipped
	out.Reason = faults.Reason(err)
	out.Error = err.Error()
	log.Warn("account skipped", slog.String("reason", out.Reason), slog.String("error", out.Error))
}

func (r *Reconciler) finish(log *slog.Logger, collector *report.Collector) report.Report {
	rep := collector.Finish(r.now())
	r.recorder.RunFinished(rep.Mode, rep.Duration)
	log.Info("run finished",
		slog.Int("accounts", len(rep.Accounts)),
		slog.Int("skipped_accounts", len(rep.SkippedAccounts())),
		slog.Int("inserted", rep.Totals.Inserted),
		slog.Int("updated", rep.Totals.Updated),
		slog.Int("skipped", rep.Totals.Skipped),
		slog.Int("failed", rep.Totals.Failed),
		slog.String("duration", rep.Duration.String()))
	return rep
}

// mergeTargets groups case ids by account, dropping blanks and duplicates.
// Accounts keep their first-seen order.
func mergeTargets(targets []Target) []Target {
	var merged []Target
	index := make(map[string]int)
	seen := make(map[string]bool)
	for _, t := range targets {
		if t.AccountID == "" {
			continue
		}
		i, ok := index[t.AccountID]
		if !ok {
			i = len(merged)
			index[t.AccountID] = i
			merged = append(merged, Target{AccountID: t.AccountID})
		}
		for _, id := range t.CaseIDs {
			key := cases.Key(t.AccountID, id)
			if id == "" || seen[key] {
				continue
			}
			seen[key] = true
			merged[i].CaseIDs = append(merged[i].CaseIDs, id)
		}
	}
	return slices.DeleteFunc(merged, func(t Target) bool { return len(t.CaseIDs) == 0 })
}
