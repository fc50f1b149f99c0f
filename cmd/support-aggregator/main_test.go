package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Snapchat/aws-support-tickets-aggregator/config"
	"github.com/Snapchat/aws-support-tickets-aggregator/logger"
	"github.com/Snapchat/aws-support-tickets-aggregator/metrics"
	"github.com/Snapchat/aws-support-tickets-aggregator/report"
)

func TestParseFlagsOverridesOnlyExplicitFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-table", "cli-table", "-workers", "8", "-all-cases", "-accounts", "111111111111, 222222222222"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := &config.Config{
		TableName:       "env-table",
		Region:          "eu-west-1",
		MaxWorkers:      4,
		RecentCasesOnly: true,
		DryRun:          true,
		ShutdownTimeout: 30 * time.Second,
	}
	opts.apply(cfg)

	if cfg.TableName != "cli-table" || cfg.MaxWorkers != 8 {
		t.Errorf("expected flag overrides, got %+v", cfg)
	}
	if cfg.Region != "eu-west-1" || !cfg.DryRun || cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected unset flags to keep env values, got %+v", cfg)
	}
	if cfg.RecentCasesOnly {
		t.Error("expected -all-cases to disable the recent window")
	}
	if len(cfg.StaticAccountIDs) != 2 || cfg.StaticAccountIDs[1] != "222222222222" {
		t.Errorf("unexpected accounts %v", cfg.StaticAccountIDs)
	}
}

func TestParseFlagsExplicitFalse(t *testing.T) {
	opts, err := parseFlags([]string{"-dry-run=false"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := &config.Config{DryRun: true}
	opts.apply(cfg)
	if cfg.DryRun {
		t.Error("expected explicit -dry-run=false to override the environment")
	}
}

func TestParseFlagsErrors(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"-bogus"}},
		{"positional argument", []string{"run"}},
		{"case ids without account", []string{"-case-ids", "c1"}},
		{"account without case ids", []string{"-refresh-account", "111111111111"}},
		{"refresh and trail", []string{"-refresh-account", "111111111111", "-case-ids", "c1", "-trail-event", "e.json"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			opts, err := parseFlags(tc.args)
			if err == nil {
				t.Errorf("expected error, got options %+v", opts)
			}
		})
	}
}

func TestEnvFiles(t *testing.T) {
	opts, _ := parseFlags(nil)
	if opts.envFiles() != nil {
		t.Errorf("expected default env files, got %v", opts.envFiles())
	}
	opts, _ = parseFlags([]string{"-env-file", "prod.env"})
	if files := opts.envFiles(); len(files) != 1 || files[0] != "prod.env" {
		t.Errorf("unexpected env files %v", files)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" case-1, ,case-2,")
	if len(got) != 2 || got[0] != "case-1" || got[1] != "case-2" {
		t.Errorf("unexpected list %v", got)
	}
	if splitList("") != nil {
		t.Error("expected nil for empty input")
	}
}

type recordingSink struct {
	reports []report.Report
	err     error
}

func (s *recordingSink) Write(ctx context.Context, r report.Report) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.reports = append(s.reports, r)
	return s.err
}

func testApp(sink report.Sink) *app {
	return &app{
		cfg:  &config.Config{ShutdownTimeout: time.Second},
		log:  logger.Discard(),
		sink: sink,
	}
}

func TestEmitWritesReportAfterCancellation(t *testing.T) {
	sink := &recordingSink{}
	a := testApp(sink)
	var out bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := report.Report{RunID: "run-1", Mode: "run"}

	err := a.emit(ctx, &out, rep, context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected the run error to be returned, got %v", err)
	}
	if len(sink.reports) != 1 || sink.reports[0].RunID != "run-1" {
		t.Errorf("expected report to be written, got %+v", sink.reports)
	}
	if !strings.Contains(out.String(), "run-1") {
		t.Errorf("expected report on stdout, got %q", out.String())
	}
}

func TestEmitReturnsSinkFailure(t *testing.T) {
	a := testApp(&recordingSink{err: errors.New("bucket missing")})
	if err := a.emit(context.Background(), io.Discard, report.Report{RunID: "run-1"}, nil); err == nil {
		t.Error("expected sink failure to be returned")
	}
}

func TestEmitSkipsEmptyReport(t *testing.T) {
	sink := &recordingSink{}
	a := testApp(sink)
	var out bytes.Buffer

	if err := a.emit(context.Background(), &out, report.Report{}, errors.New("invalid notification")); err == nil {
		t.Error("expected error")
	}
	if out.Len() != 0 || len(sink.reports) != 0 {
		t.Error("expected nothing to be emitted without a run")
	}
}

func TestEmitWithoutSink(t *testing.T) {
	a := testApp(nil)
	if err := a.emit(context.Background(), io.Discard, report.Report{RunID: "run-1"}, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDaemonRequiresSchedule(t *testing.T) {
	a := testApp(nil)
	if err := a.daemon(context.Background(), io.Discard); err == nil {
		t.Error("expected error without a schedule")
	}

	a.cfg.Schedule = "every so often"
	if err := a.daemon(context.Background(), io.Discard); err == nil {
		t.Error("expected error for an invalid schedule")
	}
}

func TestDaemonStopsOnCancel(t *testing.T) {
	a := testApp(nil)
	a.cfg.Schedule = "@every 1h"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.daemon(ctx, io.Discard); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	rec.AccountProcessed(report.StatusCompleted)

	srv := httptest.NewServer(newMetricsHandler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "support_aggregator_accounts_total") {
		t.Errorf("expected aggregator metrics, got %s", body)
	}

	health, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	health.Body.Close()
	if health.StatusCode != 200 {
		t.Errorf("unexpected health status %d", health.StatusCode)
	}
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	cl := cronLogger{log: logger.Setup(&buf, "DEBUG")}
	cl.Info("start", "entries", 1)
	cl.Error(errors.New("boom"), "panic", "job", "run")

	out := buf.String()
	if !strings.Contains(out, `"msg":"cron: start"`) || !strings.Contains(out, `"error":"boom"`) {
		t.Errorf("unexpected log output %s", out)
	}
}
