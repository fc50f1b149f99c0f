// Package main runs the support case aggregator, either once or as a daemon
// on a cron schedule, and handles targeted refreshes triggered by case ids
// or CloudTrail deliveries.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/gurre/s3streamer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/Snapchat/aws-support-tickets-aggregator/accounts"
	"github.com/Snapchat/aws-support-tickets-aggregator/aws"
	"github.com/Snapchat/aws-support-tickets-aggregator/broker"
	"github.com/Snapchat/aws-support-tickets-aggregator/config"
	"github.com/Snapchat/aws-support-tickets-aggregator/logger"
	"github.com/Snapchat/aws-support-tickets-aggregator/metrics"
	"github.com/Snapchat/aws-support-tickets-aggregator/preflight"
	"github.com/Snapchat/aws-support-tickets-aggregator/reconcile"
	"github.com/Snapchat/aws-support-tickets-aggregator/report"
	"github.com/Snapchat/aws-support-tickets-aggregator/store"
	"github.com/Snapchat/aws-support-tickets-aggregator/support"
	"github.com/Snapchat/aws-support-tickets-aggregator/trail"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run parses flags, loads the configuration and dispatches to the selected
// mode.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.envFiles()...)
	if err != nil {
		return err
	}
	opts.apply(cfg)

	log := logger.Setup(os.Stderr, cfg.LogLevel)
	if opts.preflight {
		return runPreflight(ctx, cfg, stdout)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	switch {
	case opts.trailEvent != "":
		payload, err := readPayload(opts.trailEvent)
		if err != nil {
			return err
		}
		processor := trail.NewProcessor(s3streamer.NewS3Streamer(a.s3), a.reconciler, trail.WithLogger(log))
		rep, err := processor.Process(ctx, payload)
		return a.emit(ctx, stdout, rep, err)

	case opts.refreshAccount != "":
		rep, err := a.reconciler.Refresh(ctx, opts.refreshAccount, splitList(opts.caseIDs))
		return a.emit(ctx, stdout, rep, err)

	case opts.once:
		rep, err := a.reconciler.Run(ctx, reconcile.RunOptions{RecentCasesOnly: cfg.RecentCasesOnly})
		return a.emit(ctx, stdout, rep, err)

	default:
		return a.daemon(ctx, stdout)
	}
}

// app holds the wired components of one process.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	s3         *s3.Client
	reconciler *reconcile.Reconciler
	sink       report.Sink
	metrics    *metricsServer
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	factory := aws.NewSDKFactory(awsCfg, cfg.SupportRegion)
	brk := broker.New(factory, broker.WithPartition(cfg.Partition))

	var enumerator accounts.Enumerator
	switch cfg.TargetMode {
	case config.TargetStatic:
		enumerator = accounts.NewStaticEnumerator(cfg.AccountIDs())
	default:
		enumerator = accounts.NewOrganizationsEnumerator(factory, brk, cfg.OrgViewerRoleARN)
	}

	adapter := support.NewAdapter(factory,
		support.WithPageSize(cfg.PageSize),
		support.WithRateLimit(cfg.SupportRPS, max(int(cfg.SupportRPS), 1)),
	)

	ddb := store.NewDynamoDBStore(dynamodb.NewFromConfig(awsCfg), cfg.TableName)
	var gateway store.Gateway = ddb
	if cfg.DryRun {
		gateway = store.NewDryRunGateway(ddb)
	}

	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewCollector(registry)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg)
	sink, err := report.NewSink(cfg.ReportURI, s3Client)
	if err != nil {
		return nil, err
	}

	reconciler := reconcile.New(cfg, enumerator, brk, adapter, gateway,
		reconcile.WithLogger(log),
		reconcile.WithRecorder(recorder),
	)

	a := &app{
		cfg:        cfg,
		log:        log,
		s3:         s3Client,
		reconciler: reconciler,
		sink:       sink,
	}
	if cfg.MetricsAddr != "" {
		a.metrics = startMetricsServer(cfg.MetricsAddr, registry, log)
	}
	return a, nil
}

func (a *app) close() {
	if a.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	a.metrics.shutdown(ctx)
}

// emit prints the report and writes it to the configured sink. The report
// is written even when the run was cancelled or failed.
func (a *app) emit(ctx context.Context, stdout io.Writer, rep report.Report, runErr error) error {
	if rep.RunID != "" {
		fmt.Fprintln(stdout, rep.String())
		if a.sink != nil {
			writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
			defer cancel()
			if err := a.sink.Write(writeCtx, rep); err != nil {
				a.log.Error("failed to write report", slog.String("run_id", rep.RunID), slog.String("error", err.Error()))
				if runErr == nil {
					runErr = err
				}
			}
		}
	}
	return runErr
}

// daemon runs collection on the configured schedule until ctx is done, then
// waits up to ShutdownTimeout for an in-flight run.
func (a *app) daemon(ctx context.Context, stdout io.Writer) error {
	if a.cfg.Schedule == "" {
		return errors.New("a schedule is required unless -once or a refresh is requested")
	}

	cl := cronLogger{log: a.log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	_, err := c.AddFunc(a.cfg.Schedule, func() {
		rep, err := a.reconciler.Run(ctx, reconcile.RunOptions{RecentCasesOnly: a.cfg.RecentCasesOnly})
		if err := a.emit(ctx, stdout, rep, err); err != nil {
			a.log.Error("scheduled run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %q: %w", a.cfg.Schedule, err)
	}

	a.log.Info("scheduler started", slog.String("schedule", a.cfg.Schedule))
	c.Start()
	<-ctx.Done()

	a.log.Info("shutting down", slog.Duration("timeout", a.cfg.ShutdownTimeout))
	select {
	case <-c.Stop().Done():
	case <-time.After(a.cfg.ShutdownTimeout):
		return errors.New("timed out waiting for the running collection to stop")
	}
	return nil
}

func runPreflight(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	checker := preflight.NewChecker(sts.NewFromConfig(awsCfg), iam.NewFromConfig(awsCfg))
	res, err := checker.Check(ctx, "", cfg.RequiredActions)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, res.String())
	if !res.OK() {
		return fmt.Errorf("missing permissions: %s", strings.Join(res.Denied(), ", "))
	}
	return nil
}

// readPayload reads a notification from a file, or from stdin for "-".
func readPayload(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trail event: %w", err)
	}
	return data, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
