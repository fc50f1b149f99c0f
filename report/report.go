// Package report builds the structured per-run report of the aggregator:
// per-account outcomes, record counts and the fatal reason of an aborted run.
package report

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Account statuses.
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
)

// Counts are per-record outcomes.
type Counts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Filtered int `json:"filtered"` // outside the recent-cases window
	Failed   int `json:"failed"`   // storage errors
}

// Add returns the element-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Inserted: c.Inserted + o.Inserted,
		Updated:  c.Updated + o.Updated,
		Skipped:  c.Skipped + o.Skipped,
		Filtered: c.Filtered + o.Filtered,
		Failed:   c.Failed + o.Failed,
	}
}

// AccountOutcome is the result of processing one account.
type AccountOutcome struct {
	AccountID string `json:"accountId"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"` // error kind, e.g. AuthzError
	Error     string `json:"error,omitempty"`
	Counts
}

// Report summarizes one run.
type Report struct {
	RunID           string           `json:"runId"`
	Mode            string           `json:"mode"` // "run" or "refresh"
	RecentCasesOnly bool             `json:"recentCasesOnly"`
	Window          string           `json:"window,omitempty"`
	DryRun          bool             `json:"dryRun,omitempty"`
	StartTime       time.Time        `json:"startTime"`
	EndTime         time.Time        `json:"endTime"`
	Duration        time.Duration    `json:"duration"`
	Accounts        []AccountOutcome `json:"accounts"`
	Totals          Counts           `json:"totals"`
	Fatal           string           `json:"fatal,omitempty"`
}

// Account returns the outcome recorded for accountID.
func (r Report) Account(accountID string) (AccountOutcome, bool) {
	for _, a := range r.Accounts {
		if a.AccountID == accountID {
			return a, true
		}
	}
	return AccountOutcome{}, false
}

// SkippedAccounts returns the outcomes with StatusSkipped.
func (r Report) SkippedAccounts() []AccountOutcome {
	var skipped []AccountOutcome
	for _, a := range r.Accounts {
		if a.Status == StatusSkipped {
			skipped = append(skipped, a)
		}
	}
	return skipped
}

// MarshalJSON renders Duration as a string.
func (r Report) MarshalJSON() ([]byte, error) {
	type Alias Report
	accounts := r.Accounts
	if accounts == nil {
		accounts = []AccountOutcome{}
	}
	return json.Marshal(&struct {
		Alias
		Accounts []AccountOutcome `json:"accounts"`
		Duration string           `json:"duration"`
	}{
		Alias:    Alias(r),
		Accounts: accounts,
		Duration: r.Duration.String(),
	})
}

// String returns a human-readable summary for console output.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s, %s) completed in %s\n", r.RunID, r.Mode, r.windowLabel(), r.Duration)
	if r.Fatal != "" {
		fmt.Fprintf(&b, "Fatal: %s\n", r.Fatal)
	}
	fmt.Fprintf(&b, "Accounts: %d processed, %d skipped\n", len(r.Accounts)-len(r.SkippedAccounts()), len(r.SkippedAccounts()))
	fmt.Fprintf(&b, "Cases: %d inserted, %d updated, %d skipped, %d filtered, %d failed",
		r.Totals.Inserted, r.Totals.Updated, r.Totals.Skipped, r.Totals.Filtered, r.Totals.Failed)
	for _, a := range r.SkippedAccounts() {
		fmt.Fprintf(&b, "\n  skipped %s: %s", a.AccountID, a.Reason)
	}
	return b.String()
}

func (r Report) windowLabel() string {
	if r.Window != "" {
		return r.Window
	}
	if r.RecentCasesOnly {
		return "recent"
	}
	return "all-time"
}

// Collector accumulates account outcomes from concurrent workers.
type Collector struct {
	mu       sync.Mutex
	report   Report
	accounts map[string]AccountOutcome
}

// NewCollector starts a report for runID.
func NewCollector(runID, mode string, start time.Time) *Collector {
	return &Collector{
		report:   Report{RunID: runID, Mode: mode, StartTime: start},
		accounts: make(map[string]AccountOutcome),
	}
}

// SetWindow records the window the run used.
func (c *Collector) SetWindow(recentCasesOnly bool, window string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.RecentCasesOnly = recentCasesOnly
	c.report.Window = window
}

// SetDryRun marks the report as a dry run.
func (c *Collector) SetDryRun(dryRun bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.DryRun = dryRun
}

// Record stores the outcome of one account. A second outcome for the same
// account is merged into the first; a skip wins over completion.
func (c *Collector) Record(o AccountOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.accounts[o.AccountID]
	if !ok {
		c.accounts[o.AccountID] = o
		return
	}
	prev.Counts = prev.Counts.Add(o.Counts)
	if o.Status == StatusSkipped && prev.Status != StatusSkipped {
		prev.Status, prev.Reason, prev.Error = o.Status, o.Reason, o.Error
	}
	c.accounts[o.AccountID] = prev
}

// Fail records the fatal reason of an aborted run.
func (c *Collector) Fail(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.Fatal = reason
}

// Finish returns the report with accounts sorted by id and totals summed.
func (c *Collector) Finish(end time.Time) Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.report
	r.EndTime = end
	r.Duration = end.Sub(r.StartTime)
	r.Accounts = make([]AccountOutcome, 0, len(c.accounts))
	r.Totals = Counts{}
	for _, a := range c.accounts {
		r.Accounts = append(r.Accounts, a)
		r.Totals = r.Totals.Add(a.Counts)
	}
	slices.SortFunc(r.Accounts, func(a, b AccountOutcome) int {
		return strings.Compare(a.AccountID, b.AccountID)
	})
	return r
}
