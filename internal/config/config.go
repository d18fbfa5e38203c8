package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/rewired-gh/calspread/internal/contracts"
	"github.com/rewired-gh/calspread/internal/models"
)

// WRDS PostgreSQL endpoint used when source.dsn is empty.
const (
	WRDSHost   = "wrds-pgdata.wharton.upenn.edu"
	WRDSPort   = 9737
	WRDSDBName = "wrds"

	// DefaultSchema holds the Datastream futures tables on WRDS.
	DefaultSchema = "tr_ds_fut"
)

// Config represents the complete application configuration
type Config struct {
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Source   SourceConfig   `mapstructure:"source"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Report   ReportConfig   `mapstructure:"report"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AnalysisConfig holds the analysis period and what to analyze
type AnalysisConfig struct {
	StartDate   string     `mapstructure:"start_date"`
	EndDate     string     `mapstructure:"end_date"`
	Windows     []int      `mapstructure:"windows"`
	Instruments []string   `mapstructure:"instruments"`
	CrossPairs  [][]string `mapstructure:"cross_pairs"`
	RolePolicy  string     `mapstructure:"role_policy"`
	Parallelism int        `mapstructure:"parallelism"`
}

// SourceConfig holds upstream database configuration
type SourceConfig struct {
	Driver         string        `mapstructure:"driver"`
	DSN            string        `mapstructure:"dsn"`
	Schema         string        `mapstructure:"schema"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Burst          int           `mapstructure:"burst"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig holds circuit breaker settings for the upstream source
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// CacheConfig holds Redis read-through cache configuration
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// ReportConfig holds report output configuration
type ReportConfig struct {
	OutputDir string   `mapstructure:"output_dir"`
	Formats   []string `mapstructure:"formats"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ServerConfig holds the HTTP listener for serve mode
type ServerConfig struct {
	Listen      string `mapstructure:"listen"`
	HistorySize int    `mapstructure:"history_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Credentials are the WRDS login, read from the environment or a .env file.
type Credentials struct {
	Username string `envconfig:"WRDS_USERNAME"`
	Password string `envconfig:"WRDS_PASSWORD"`
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	}

	setDefaults(v)

	// CALSPREAD_SOURCE_DSN overrides source.dsn
	v.SetEnvPrefix("CALSPREAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// an empty schema leaves table names unqualified, as sqlite fixtures need
	if cfg.Source.Schema == "" && cfg.Source.Driver == "postgres" {
		cfg.Source.Schema = DefaultSchema
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("analysis.start_date", "2025-12-12")
	v.SetDefault("analysis.end_date", "2025-12-19")
	v.SetDefault("analysis.windows", []int{3, 5, 10, 20})
	v.SetDefault("analysis.instruments", []string{"CL", "HO", "YM", "RTY"})
	v.SetDefault("analysis.cross_pairs", [][]string{{"CL", "YM"}})
	v.SetDefault("analysis.role_policy", string(contracts.PolicyExpiration))
	v.SetDefault("analysis.parallelism", 4)

	v.SetDefault("source.driver", "postgres")
	v.SetDefault("source.dsn", "")
	v.SetDefault("source.schema", "")
	v.SetDefault("source.query_timeout", "60s")
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.retry_delay_base", "2s")
	v.SetDefault("source.rate_limit", 2.0)
	v.SetDefault("source.burst", 1)
	v.SetDefault("source.breaker.max_requests", 1)
	v.SetDefault("source.breaker.interval", "0s")
	v.SetDefault("source.breaker.timeout", "30s")
	v.SetDefault("source.breaker.consecutive_failures", 5)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.key_prefix", "calspread")

	v.SetDefault("report.output_dir", "./output")
	v.SetDefault("report.formats", []string{"text", "json"})

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "2s")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.history_size", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if _, err := c.AnalysisWindow(); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	if len(c.Analysis.Windows) == 0 {
		return fmt.Errorf("analysis.windows must contain at least one window length")
	}
	if len(c.Analysis.Instruments) == 0 {
		return fmt.Errorf("analysis.instruments must contain at least one instrument")
	}
	if _, err := c.InstrumentList(); err != nil {
		return fmt.Errorf("analysis.instruments: %w", err)
	}
	if _, err := c.Pairs(); err != nil {
		return fmt.Errorf("analysis.cross_pairs: %w", err)
	}
	if _, err := contracts.ParsePolicy(c.Analysis.RolePolicy); err != nil {
		return fmt.Errorf("analysis.role_policy: %w", err)
	}
	if c.Analysis.Parallelism < 1 {
		return fmt.Errorf("analysis.parallelism must be at least 1")
	}

	switch c.Source.Driver {
	case "postgres":
		if c.Source.Schema == "" {
			return fmt.Errorf("source.schema is required for the postgres driver")
		}
	case "sqlite":
		if c.Source.DSN == "" {
			return fmt.Errorf("source.dsn is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("source.driver must be one of: postgres, sqlite")
	}
	if c.Source.QueryTimeout <= 0 {
		return fmt.Errorf("source.query_timeout must be positive")
	}
	if c.Source.MaxRetries < 1 {
		return fmt.Errorf("source.max_retries must be at least 1")
	}
	if c.Source.RateLimit <= 0 {
		return fmt.Errorf("source.rate_limit must be positive")
	}
	if c.Source.Burst < 1 {
		return fmt.Errorf("source.burst must be at least 1")
	}
	if c.Source.Breaker.ConsecutiveFailures < 1 {
		return fmt.Errorf("source.breaker.consecutive_failures must be at least 1")
	}

	if c.Cache.Enabled {
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache.addr is required when cache is enabled")
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache.ttl must be positive")
		}
	}

	if c.Report.OutputDir == "" {
		return fmt.Errorf("report.output_dir is required")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	for _, f := range c.Report.Formats {
		if !validFormats[f] {
			return fmt.Errorf("report.formats must only contain: text, json")
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return fmt.Errorf("telegram.max_retries must be at least 1")
		}
	}

	if c.Server.HistorySize < 1 {
		return fmt.Errorf("server.history_size must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// AnalysisWindow parses the configured period and window lengths.
func (c *Config) AnalysisWindow() (models.AnalysisWindow, error) {
	start, err := time.Parse(models.DateLayout, c.Analysis.StartDate)
	if err != nil {
		return models.AnalysisWindow{}, fmt.Errorf("start_date %q: %w", c.Analysis.StartDate, err)
	}
	end, err := time.Parse(models.DateLayout, c.Analysis.EndDate)
	if err != nil {
		return models.AnalysisWindow{}, fmt.Errorf("end_date %q: %w", c.Analysis.EndDate, err)
	}
	return models.NewAnalysisWindow(start, end, c.Analysis.Windows)
}

// InstrumentList parses the configured tickers, rejecting unknown and repeated ones.
func (c *Config) InstrumentList() ([]models.Instrument, error) {
	seen := make(map[models.Instrument]bool, len(c.Analysis.Instruments))
	out := make([]models.Instrument, 0, len(c.Analysis.Instruments))
	for _, s := range c.Analysis.Instruments {
		inst, err := models.ParseInstrument(s)
		if err != nil {
			return nil, err
		}
		if seen[inst] {
			return nil, fmt.Errorf("instrument %s listed twice", inst)
		}
		seen[inst] = true
		out = append(out, inst)
	}
	return out, nil
}

// Pairs parses the cross pairs. Both sides must be configured instruments.
func (c *Config) Pairs() ([][2]models.Instrument, error) {
	configured := make(map[models.Instrument]bool)
	for _, s := range c.Analysis.Instruments {
		if inst, err := models.ParseInstrument(s); err == nil {
			configured[inst] = true
		}
	}

	out := make([][2]models.Instrument, 0, len(c.Analysis.CrossPairs))
	for _, p := range c.Analysis.CrossPairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("pair %v must name exactly two instruments", p)
		}
		var pair [2]models.Instrument
		for i, s := range p {
			inst, err := models.ParseInstrument(s)
			if err != nil {
				return nil, err
			}
			if !configured[inst] {
				return nil, fmt.Errorf("pair %v uses %s which is not in analysis.instruments", p, inst)
			}
			pair[i] = inst
		}
		if pair[0] == pair[1] {
			return nil, fmt.Errorf("pair %v must name two different instruments", p)
		}
		out = append(out, pair)
	}
	return out, nil
}

// LoadCredentials reads WRDS_USERNAME and WRDS_PASSWORD, first loading any of the
// given .env files. Missing files are ignored; variables already set win.
func LoadCredentials(envFiles ...string) (Credentials, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Credentials{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var creds Credentials
	if err := envconfig.Process("", &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials: %w", err)
	}
	return creds, nil
}

// ResolveDSN returns source.dsn, or for postgres without one, a DSN for the
// WRDS host built from creds.
func (c *Config) ResolveDSN(creds Credentials) (string, error) {
	if c.Source.DSN != "" {
		return c.Source.DSN, nil
	}
	if c.Source.Driver != "postgres" {
		return "", fmt.Errorf("source.dsn is required for the %s driver", c.Source.Driver)
	}
	if creds.Username == "" || creds.Password == "" {
		return "", fmt.Errorf("WRDS_USERNAME and WRDS_PASSWORD are required when source.dsn is empty")
	}
	return WRDSDSN(creds), nil
}

// WRDSDSN builds a lib/pq key/value connection string for the WRDS host.
func WRDSDSN(creds Credentials) string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=require",
		WRDSHost, WRDSPort, WRDSDBName, quoteDSN(creds.Username), quoteDSN(creds.Password))
}

func quoteDSN(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}
