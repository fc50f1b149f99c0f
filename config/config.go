// Package config holds the aggregator configuration. Values come from the
// environment (optionally seeded from a .env file) and may be overridden by
// command-line flags before Validate is called.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// EnvPrefix prefixes every variable, e.g. AGGREGATOR_MAX_WORKERS. The
// unprefixed names in the envconfig tags are accepted too.
const EnvPrefix = "AGGREGATOR"

// Target modes.
const (
	TargetOrganizations = "organizations"
	TargetStatic        = "static"
)

var accountIDPattern = regexp.MustCompile(`^[0-9]{12}$`)

// Config holds all configuration for a collection run.
type Config struct {
	TableName        string        `envconfig:"SUPPORT_CASES_TABLE_NAME"`                    // Central DynamoDB table, partition key caseKey
	Region           string        `envconfig:"AWS_REGION" default:"us-east-1"`              // Region of the table and report bucket
	SupportRegion    string        `envconfig:"SUPPORT_REGION" default:"us-east-1"`          // Support API endpoint region
	Partition        string        `envconfig:"PARTITION" default:"aws"`                     // ARN partition of case roles
	TargetMode       string        `envconfig:"TARGET_MODE" default:"organizations"`         // "organizations"|"static"
	StaticAccountIDs []string      `envconfig:"STATIC_ACCOUNT_IDS"`                          // Accounts for static mode
	CaseRoleName     string        `envconfig:"CASE_ROLE_NAME" default:"GetSupportInfoRole"` // Trust role in each member account
	OrgViewerRoleARN string        `envconfig:"ORG_MASTER_ACCOUNT_VIEWER_ROLE"`              // Role allowed to list the organization
	SessionName      string        `envconfig:"SESSION_NAME" default:"support-aggregator"`   // Role session name
	RecentCasesOnly  bool          `envconfig:"RECENT_CASES_ONLY" default:"true"`            // Restrict runs to the lookback window
	LookbackDays     int           `envconfig:"LOOKBACK_DAYS" default:"60"`                  // Recent-cases window
	MaxWorkers       int           `envconfig:"MAX_WORKERS" default:"4"`                     // Accounts processed concurrently
	PageSize         int           `envconfig:"PAGE_SIZE" default:"100"`                     // DescribeCases page size (10-100)
	SupportRPS       float64       `envconfig:"SUPPORT_RPS" default:"5"`                     // DescribeCases pages per second, 0 disables
	RequiredActions  []string      `envconfig:"REQUIRED_ACTIONS"`                            // Actions checked by the preflight
	ReportURI        string        `envconfig:"REPORT_URI"`                                  // s3://bucket/key or file:///path
	DryRun           bool          `envconfig:"DRY_RUN" default:"false"`                     // Report outcomes without writing
	Schedule         string        `envconfig:"SCHEDULE" default:"@every 72h"`               // Daemon cron schedule
	MetricsAddr      string        `envconfig:"METRICS_ADDR"`                                // Listen address for /metrics
	LogLevel         string        `envconfig:"LOGGING_LEVEL" default:"INFO"`                // DEBUG|INFO|WARN|ERROR
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`              // Grace period for in-flight runs
}

// DefaultRequiredActions are the actions the aggregator's base identity uses.
var DefaultRequiredActions = []string{
	"sts:AssumeRole",
	"organizations:ListAccounts",
	"dynamodb:PutItem",
	"dynamodb:GetItem",
}

// Load reads the configuration from the environment. Missing .env files are
// ignored; variables already set take precedence over the file.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if len(cfg.RequiredActions) == 0 {
		cfg.RequiredActions = append([]string(nil), DefaultRequiredActions...)
	}
	return &cfg, nil
}

// Lookback returns the recent-cases window as a duration.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// AccountIDs returns the static account list with blanks removed.
func (c *Config) AccountIDs() []string {
	var ids []string
	for _, id := range c.StaticAccountIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Validate ensures all required fields are present and have valid values.
func (c *Config) Validate() error {
	if c.TableName == "" {
		return fmt.Errorf("table name is required")
	}

	if c.Region == "" {
		return fmt.Errorf("region is required")
	}

	if c.SupportRegion == "" {
		return fmt.Errorf("support region is required")
	}

	switch c.TargetMode {
	case TargetOrganizations:
	case TargetStatic:
		ids := c.AccountIDs()
		if len(ids) == 0 {
			return fmt.Errorf("static target mode requires at least one account id")
		}
		for _, id := range ids {
			if !accountIDPattern.MatchString(id) {
				return fmt.Errorf("invalid account id %q: must be 12 digits", id)
			}
		}
	default:
		return fmt.Errorf("target mode must be %s or %s", TargetOrganizations, TargetStatic)
	}

	if c.CaseRoleName == "" {
		return fmt.Errorf("case role name is required")
	}

	if c.OrgViewerRoleARN != "" && !strings.HasPrefix(c.OrgViewerRoleARN, "arn:") {
		return fmt.Errorf("org viewer role must be a role ARN")
	}

	if c.LookbackDays < 1 {
		return fmt.Errorf("lookback days must be at least 1")
	}

	if c.MaxWorkers < 1 {
		return fmt.Errorf("max workers must be at least 1")
	}

	if c.PageSize < 10 || c.PageSize > 100 {
		return fmt.Errorf("page size must be between 10 and 100")
	}

	if c.SupportRPS < 0 {
		return fmt.Errorf("support rps must not be negative")
	}

	if c.ReportURI != "" && !strings.HasPrefix(c.ReportURI, "s3://") && !strings.HasPrefix(c.ReportURI, "file://") {
		return fmt.Errorf("report URI must start with s3:// or file://")
	}

	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
		}
	}

	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second")
	}

	return nil
}
