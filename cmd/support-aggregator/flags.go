package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/Snapchat/aws-support-tickets-aggregator/config"
)

// options are the parsed command-line flags. Configuration flags override
// the environment only when given explicitly.
type options struct {
	fs *flag.FlagSet

	envFile        string
	once           bool
	allCases       bool
	preflight      bool
	refreshAccount string
	caseIDs        string
	trailEvent     string

	table           string
	region          string
	targetMode      string
	accountIDs      string
	roleName        string
	workers         int
	lookbackDays    int
	reportURI       string
	dryRun          bool
	schedule        string
	metricsAddr     string
	logLevel        string
	shutdownTimeout time.Duration
}

func parseFlags(args []string) (*options, error) {
	o := &options{fs: flag.NewFlagSet("support-aggregator", flag.ContinueOnError)}
	fs := o.fs

	fs.StringVar(&o.envFile, "env-file", "", "Optional .env file to load before the environment (default .env)")
	fs.BoolVar(&o.once, "once", false, "Run one collection and exit instead of starting the scheduler")
	fs.BoolVar(&o.allCases, "all-cases", false, "Collect all cases instead of the recent window")
	fs.BoolVar(&o.preflight, "preflight", false, "Check the required IAM actions and exit")
	fs.StringVar(&o.refreshAccount, "refresh-account", "", "Refresh the cases given by -case-ids in this account and exit")
	fs.StringVar(&o.caseIDs, "case-ids", "", "Comma-separated case ids for -refresh-account")
	fs.StringVar(&o.trailEvent, "trail-event", "", "S3 or SNS notification JSON file naming CloudTrail logs (- for stdin)")

	fs.StringVar(&o.table, "table", "", "DynamoDB table name")
	fs.StringVar(&o.region, "region", "", "AWS region of the table")
	fs.StringVar(&o.targetMode, "target", "", "Account source (organizations|static)")
	fs.StringVar(&o.accountIDs, "accounts", "", "Comma-separated account ids for static mode")
	fs.StringVar(&o.roleName, "role", "", "Role assumed in each member account")
	fs.IntVar(&o.workers, "workers", 0, "Maximum number of accounts processed concurrently")
	fs.IntVar(&o.lookbackDays, "lookback-days", 0, "Recent-cases window in days")
	fs.StringVar(&o.reportURI, "report", "", "Report destination (s3://bucket/key or file:///path)")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Compute outcomes without writing to the table")
	fs.StringVar(&o.schedule, "schedule", "", "Cron schedule for daemon mode")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "Listen address for the Prometheus /metrics endpoint")
	fs.StringVar(&o.logLevel, "log-level", "", "Logging level (DEBUG|INFO|WARN|ERROR)")
	fs.DurationVar(&o.shutdownTimeout, "shutdown-timeout", 0, "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if o.caseIDs != "" && o.refreshAccount == "" {
		return nil, fmt.Errorf("-case-ids requires -refresh-account")
	}
	if o.refreshAccount != "" && len(splitList(o.caseIDs)) == 0 {
		return nil, fmt.Errorf("-refresh-account requires -case-ids")
	}
	if o.refreshAccount != "" && o.trailEvent != "" {
		return nil, fmt.Errorf("-refresh-account and -trail-event are exclusive")
	}
	return o, nil
}

func (o *options) envFiles() []string {
	if o.envFile == "" {
		return nil
	}
	return []string{o.envFile}
}

// apply overrides cfg with every flag set on the command line.
func (o *options) apply(cfg *config.Config) {
	if o.allCases {
		cfg.RecentCasesOnly = false
	}
	o.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "table":
			cfg.TableName = o.table
		case "region":
			cfg.Region = o.region
		case "target":
			cfg.TargetMode = o.targetMode
		case "accounts":
			cfg.StaticAccountIDs = splitList(o.accountIDs)
		case "role":
			cfg.CaseRoleName = o.roleName
		case "workers":
			cfg.MaxWorkers = o.workers
		case "lookback-days":
			cfg.LookbackDays = o.lookbackDays
		case "report":
			cfg.ReportURI = o.reportURI
		case "dry-run":
			cfg.DryRun = o.dryRun
		case "schedule":
			cfg.Schedule = o.schedule
		case "metrics-addr":
			cfg.MetricsAddr = o.metricsAddr
		case "log-level":
			cfg.LogLevel = o.logLevel
		case "shutdown-timeout":
			cfg.ShutdownTimeout = o.shutdownTimeout
		}
	})
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
