package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		TableName:       "support-cases",
		Region:          "us-west-2",
		SupportRegion:   "us-east-1",
		TargetMode:      TargetOrganizations,
		CaseRoleName:    "GetSupportInfoRole",
		SessionName:     "support-aggregator",
		LookbackDays:    60,
		MaxWorkers:      4,
		PageSize:        100,
		SupportRPS:      5,
		Schedule:        "@every 72h",
		ShutdownTimeout: 30 * time.Second,
	}
}

func TestValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config to pass validation, got: %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing table name", func(c *Config) { c.TableName = "" }},
		{"missing region", func(c *Config) { c.Region = "" }},
		{"missing support region", func(c *Config) { c.SupportRegion = "" }},
		{"unknown target mode", func(c *Config) { c.TargetMode = "ldap" }},
		{"static without accounts", func(c *Config) { c.TargetMode = TargetStatic; c.StaticAccountIDs = []string{" "} }},
		{"static with bad account", func(c *Config) { c.TargetMode = TargetStatic; c.StaticAccountIDs = []string{"12345"} }},
		{"missing role name", func(c *Config) { c.CaseRoleName = "" }},
		{"viewer role not an ARN", func(c *Config) { c.OrgViewerRoleARN = "OrgViewer" }},
		{"zero lookback", func(c *Config) { c.LookbackDays = 0 }},
		{"zero workers", func(c *Config) { c.MaxWorkers = 0 }},
		{"page too small", func(c *Config) { c.PageSize = 5 }},
		{"page too large", func(c *Config) { c.PageSize = 101 }},
		{"negative rps", func(c *Config) { c.SupportRPS = -1 }},
		{"http report URI", func(c *Config) { c.ReportURI = "https://bucket/key" }},
		{"bad schedule", func(c *Config) { c.Schedule = "every three days" }},
		{"short shutdown timeout", func(c *Config) { c.ShutdownTimeout = time.Millisecond }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidVariants(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"static accounts", func(c *Config) {
			c.TargetMode = TargetStatic
			c.StaticAccountIDs = []string{"111111111111", " 222222222222 "}
		}},
		{"viewer role", func(c *Config) { c.OrgViewerRoleARN = "arn:aws:iam::999999999999:role/OrgViewer" }},
		{"s3 report", func(c *Config) { c.ReportURI = "s3://reports/runs/" }},
		{"file report", func(c *Config) { c.ReportURI = "file:///tmp/report.json" }},
		{"cron schedule", func(c *Config) { c.Schedule = "0 6 */3 * *" }},
		{"no schedule", func(c *Config) { c.Schedule = "" }},
		{"rate limit disabled", func(c *Config) { c.SupportRPS = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err != nil {
				t.Errorf("expected valid config, got: %v", err)
			}
		})
	}
}

func TestAccountIDs(t *testing.T) {
	cfg := &Config{StaticAccountIDs: []string{" 111111111111", "", "222222222222 "}}
	ids := cfg.AccountIDs()
	if len(ids) != 2 || ids[0] != "111111111111" || ids[1] != "222222222222" {
		t.Errorf("unexpected ids %v", ids)
	}
}

func TestLookback(t *testing.T) {
	cfg := &Config{LookbackDays: 60}
	if cfg.Lookback() != 60*24*time.Hour {
		t.Errorf("unexpected lookback %s", cfg.Lookback())
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AGGREGATOR_SUPPORT_CASES_TABLE_NAME", "support-cases")
	t.Setenv("AGGREGATOR_AWS_REGION", "eu-west-1")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.TableName != "support-cases" || cfg.Region != "eu-west-1" {
		t.Errorf("unexpected table/region %s/%s", cfg.TableName, cfg.Region)
	}
	if cfg.MaxWorkers != 4 || cfg.LookbackDays != 60 || !cfg.RecentCasesOnly {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.CaseRoleName != "GetSupportInfoRole" || cfg.Schedule != "@every 72h" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if len(cfg.RequiredActions) != len(DefaultRequiredActions) {
		t.Errorf("expected default required actions, got %v", cfg.RequiredActions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected loaded config to validate, got: %v", err)
	}
}

func TestLoadUnprefixedAndLists(t *testing.T) {
	t.Setenv("SUPPORT_CASES_TABLE_NAME", "legacy-table")
	t.Setenv("ORG_MASTER_ACCOUNT_VIEWER_ROLE", "arn:aws:iam::999999999999:role/OrgViewer")
	t.Setenv("AGGREGATOR_STATIC_ACCOUNT_IDS", "111111111111,222222222222")
	t.Setenv("AGGREGATOR_REQUIRED_ACTIONS", "sts:AssumeRole,support:DescribeCases")
	t.Setenv("AGGREGATOR_RECENT_CASES_ONLY", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.TableName != "legacy-table" {
		t.Errorf("expected unprefixed table name, got %s", cfg.TableName)
	}
	if cfg.OrgViewerRoleARN != "arn:aws:iam::999999999999:role/OrgViewer" {
		t.Errorf("unexpected viewer role %s", cfg.OrgViewerRoleARN)
	}
	if len(cfg.StaticAccountIDs) != 2 {
		t.Errorf("expected 2 static accounts, got %v", cfg.StaticAccountIDs)
	}
	if len(cfg.RequiredActions) != 2 || cfg.RequiredActions[1] != "support:DescribeCases" {
		t.Errorf("unexpected required actions %v", cfg.RequiredActions)
	}
	if cfg.RecentCasesOnly {
		t.Error("expected recent cases only to be disabled")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("AGGREGATOR_MAX_WORKERS=9\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("AGGREGATOR_MAX_WORKERS") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxWorkers != 9 {
		t.Errorf("expected max workers from env file, got %d", cfg.MaxWorkers)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("AGGREGATOR_MAX_WORKERS", "many")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for malformed integer")
	}
}
