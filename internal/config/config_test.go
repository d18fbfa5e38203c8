package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/calspread/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	content := `
analysis:
  start_date: "2025-12-01"
  end_date: "2025-12-19"
  windows: [3, 5]
  instruments: [CL, YM, HO]
  cross_pairs:
    - [CL, YM]
    - [HO, CL]
  role_policy: density
  parallelism: 2

source:
  driver: sqlite
  dsn: "file:fixtures.db"
  query_timeout: 10s
  max_retries: 2
  breaker:
    consecutive_failures: 3

cache:
  enabled: true
  addr: "redis:6379"
  ttl: 1h

telegram:
  bot_token: "test_token"
  chat_id: "test_chat_id"
  enabled: true

logging:
  level: "debug"
  format: "text"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Analysis.StartDate != "2025-12-01" {
		t.Errorf("Unexpected start date: %s", cfg.Analysis.StartDate)
	}
	if len(cfg.Analysis.Windows) != 2 || cfg.Analysis.Windows[1] != 5 {
		t.Errorf("Unexpected windows: %v", cfg.Analysis.Windows)
	}
	if len(cfg.Analysis.CrossPairs) != 2 {
		t.Errorf("Expected 2 cross pairs, got %d", len(cfg.Analysis.CrossPairs))
	}
	if cfg.Source.QueryTimeout != 10*time.Second {
		t.Errorf("Unexpected query timeout: %v", cfg.Source.QueryTimeout)
	}
	if cfg.Source.Breaker.ConsecutiveFailures != 3 {
		t.Errorf("Unexpected breaker threshold: %d", cfg.Source.Breaker.ConsecutiveFailures)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("Unexpected cache TTL: %v", cfg.Cache.TTL)
	}
	// untouched keys keep their defaults
	if cfg.Source.Schema != "tr_ds_fut" {
		t.Errorf("Unexpected schema default: %s", cfg.Source.Schema)
	}
	if cfg.Cache.KeyPrefix != "calspread" {
		t.Errorf("Unexpected key prefix default: %s", cfg.Cache.KeyPrefix)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	pairs, err := cfg.Pairs()
	if err != nil {
		t.Fatalf("Pairs failed: %v", err)
	}
	if pairs[1] != [2]models.Instrument{models.HO, models.CL} {
		t.Errorf("Unexpected second pair: %v", pairs[1])
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	w, err := cfg.AnalysisWindow()
	if err != nil {
		t.Fatalf("AnalysisWindow failed: %v", err)
	}
	if w.Days() != 8 {
		t.Errorf("Expected 8 days, got %d", w.Days())
	}
	if len(w.Windows) != 4 {
		t.Errorf("Expected 4 windows, got %v", w.Windows)
	}

	insts, err := cfg.InstrumentList()
	if err != nil {
		t.Fatalf("InstrumentList failed: %v", err)
	}
	want := []models.Instrument{models.CL, models.HO, models.YM, models.RTY}
	for i := range want {
		if insts[i] != want[i] {
			t.Errorf("instrument %d = %s, want %s", i, insts[i], want[i])
		}
	}

	pairs, err := cfg.Pairs()
	if err != nil {
		t.Fatalf("Pairs failed: %v", err)
	}
	if len(pairs) != 1 || pairs[0] != [2]models.Instrument{models.CL, models.YM} {
		t.Errorf("Unexpected default pairs: %v", pairs)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CALSPREAD_SOURCE_DSN", "postgres://override")
	t.Setenv("CALSPREAD_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Source.DSN != "postgres://override" {
		t.Errorf("Expected env DSN override, got %q", cfg.Source.DSN)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected env level override, got %q", cfg.Logging.Level)
	}
}

func TestLoadSQLiteFixture(t *testing.T) {
	path := writeConfig(t, `
source:
  driver: sqlite
  dsn: ./fixture.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Source.Schema != "" {
		t.Errorf("Expected unqualified tables for sqlite, got schema %q", cfg.Source.Schema)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("sqlite without a schema should validate: %v", err)
	}
}

func TestValidateSchemaByDriver(t *testing.T) {
	cfg := validConfig(t)
	cfg.Source.Driver = "sqlite"
	cfg.Source.DSN = "fixture.db"
	cfg.Source.Schema = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("sqlite with empty schema: %v", err)
	}

	cfg.Source.Schema = "main"
	if err := cfg.Validate(); err != nil {
		t.Errorf("sqlite with explicit schema: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for a missing config file")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"start after end", func(c *Config) { c.Analysis.StartDate = "2025-12-20" }, "invalid date range"},
		{"bad date", func(c *Config) { c.Analysis.EndDate = "12/19/2025" }, "end_date"},
		{"no windows", func(c *Config) { c.Analysis.Windows = nil }, "analysis.windows"},
		{"zero window", func(c *Config) { c.Analysis.Windows = []int{3, 0} }, "invalid rolling window"},
		{"unknown instrument", func(c *Config) { c.Analysis.Instruments = []string{"CL", "ES"} }, "unknown instrument"},
		{"duplicate instrument", func(c *Config) { c.Analysis.Instruments = []string{"CL", "cl"} }, "listed twice"},
		{"pair outside instruments", func(c *Config) { c.Analysis.Instruments = []string{"CL", "HO"} }, "not in analysis.instruments"},
		{"pair with one side", func(c *Config) { c.Analysis.CrossPairs = [][]string{{"CL"}} }, "exactly two"},
		{"self pair", func(c *Config) { c.Analysis.CrossPairs = [][]string{{"CL", "CL"}} }, "two different"},
		{"bad policy", func(c *Config) { c.Analysis.RolePolicy = "volume" }, "role_policy"},
		{"bad driver", func(c *Config) { c.Source.Driver = "mysql" }, "source.driver"},
		{"postgres without schema", func(c *Config) { c.Source.Schema = "" }, "source.schema"},
		{"sqlite without dsn", func(c *Config) { c.Source.Driver = "sqlite" }, "source.dsn"},
		{"no retries", func(c *Config) { c.Source.MaxRetries = 0 }, "source.max_retries"},
		{"cache without ttl", func(c *Config) { c.Cache.Enabled = true; c.Cache.TTL = 0 }, "cache.ttl"},
		{"bad report format", func(c *Config) { c.Report.Formats = []string{"pdf"} }, "report.formats"},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }, "telegram.bot_token"},
		{"no history", func(c *Config) { c.Server.HistorySize = 0 }, "server.history_size"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() succeeded, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadCredentials(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("WRDS_USERNAME=alice\nWRDS_PASSWORD=from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// variables already set are not overwritten by the .env file
	t.Setenv("WRDS_PASSWORD", "from-env")
	t.Setenv("WRDS_USERNAME", "")
	os.Unsetenv("WRDS_USERNAME")

	creds, err := LoadCredentials(envFile, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if creds.Username != "alice" {
		t.Errorf("Expected username from .env, got %q", creds.Username)
	}
	if creds.Password != "from-env" {
		t.Errorf("Expected password from environment, got %q", creds.Password)
	}
}

func TestResolveDSN(t *testing.T) {
	cfg := validConfig(t)

	if _, err := cfg.ResolveDSN(Credentials{}); err == nil {
		t.Error("Expected error without credentials")
	}

	dsn, err := cfg.ResolveDSN(Credentials{Username: "alice", Password: "p w'd"})
	if err != nil {
		t.Fatalf("ResolveDSN failed: %v", err)
	}
	want := `host=wrds-pgdata.wharton.upenn.edu port=9737 dbname=wrds user=alice password='p w\'d' sslmode=require`
	if dsn != want {
		t.Errorf("ResolveDSN() = %q, want %q", dsn, want)
	}

	cfg.Source.DSN = "postgres://explicit"
	if dsn, _ := cfg.ResolveDSN(Credentials{}); dsn != "postgres://explicit" {
		t.Errorf("Expected explicit DSN, got %q", dsn)
	}

	cfg.Source.DSN = ""
	cfg.Source.Driver = "sqlite"
	if _, err := cfg.ResolveDSN(Credentials{Username: "a", Password: "b"}); err == nil {
		t.Error("Expected error for sqlite without DSN")
	}
}
