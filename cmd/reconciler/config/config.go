// Package config loads CLI settings from flags, an optional config file and
// SETTLEMENT_* environment variables, and turns them into the engine's typed
// configurations.
package config

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang-settlement-reconciler/internal/api"
	"golang-settlement-reconciler/internal/matcher"
	"golang-settlement-reconciler/internal/parsers"
	"golang-settlement-reconciler/internal/reconciler"
	"golang-settlement-reconciler/internal/reporter"
	"golang-settlement-reconciler/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SETTLEMENT_DATABASE_DSN.
const EnvPrefix = "SETTLEMENT"

// Config is the full CLI configuration.
type Config struct {
	Verbose    bool             `mapstructure:"verbose"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        logger.Config    `mapstructure:"log"`
	Matching   MatchingConfig   `mapstructure:"matching"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Parser     ParserConfig     `mapstructure:"parser"`
	Report     ReportConfig     `mapstructure:"report"`
	Server     ServerConfig     `mapstructure:"server"`
}

// DatabaseConfig locates the sqlite store.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MatchingConfig mirrors matcher.MatchingConfig with amounts as strings.
type MatchingConfig struct {
	BatchSize      int    `mapstructure:"batch_size"`
	MinTolerance   string `mapstructure:"min_tolerance"`
	ToleranceRatio string `mapstructure:"tolerance_ratio"`
	FallbackMonths []int  `mapstructure:"fallback_months"`
}

// ReconcilerConfig holds orchestration knobs.
type ReconcilerConfig struct {
	AuditBatchSize      int  `mapstructure:"audit_batch_size"`
	MaxRecordedErrors   int  `mapstructure:"max_recorded_errors"`
	PersistBatchSize    int  `mapstructure:"persist_batch_size"`
	MerchantConcurrency int  `mapstructure:"merchant_concurrency"`
	DetectDuplicates    bool `mapstructure:"detect_duplicates"`
}

// ParserConfig holds CSV input options.
type ParserConfig struct {
	// Delimiter is empty for auto-detection, or one character ("tab" is accepted)
	Delimiter       string              `mapstructure:"delimiter"`
	MaxErrors       int                 `mapstructure:"max_errors"`
	DefaultAcquirer string              `mapstructure:"default_acquirer"`
	ColumnAliases   map[string][]string `mapstructure:"column_aliases"`
}

// ReportConfig holds report rendering options.
type ReportConfig struct {
	Format         string `mapstructure:"format"`
	MaxItems       int    `mapstructure:"max_items"`
	IncludeMatched bool   `mapstructure:"include_matched"`
	CSVDelimiter   string `mapstructure:"csv_delimiter"`
}

// ServerConfig holds the HTTP server options.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SetDefaults registers every key with its default so environment variables
// are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	matching := matcher.DefaultMatchingConfig()
	rc := reconciler.DefaultConfig()
	pc := parsers.DefaultParseConfig()
	report := reporter.DefaultReportConfig()
	router := api.DefaultRouterConfig()
	log := logger.DefaultConfig()

	v.SetDefault("verbose", false)
	v.SetDefault("database.dsn", "settlement.db")

	v.SetDefault("log.level", string(log.Level))
	v.SetDefault("log.format", string(log.Format))
	v.SetDefault("log.output", string(log.Output))
	v.SetDefault("log.file", "")
	v.SetDefault("log.disable_timestamp", false)
	v.SetDefault("log.caller_info", false)

	v.SetDefault("matching.batch_size", matching.BatchSize)
	v.SetDefault("matching.min_tolerance", matching.MinTolerance.String())
	v.SetDefault("matching.tolerance_ratio", matching.ToleranceRatio.String())
	v.SetDefault("matching.fallback_months", matching.FallbackMonths)

	v.SetDefault("reconciler.audit_batch_size", rc.Audit.BatchSize)
	v.SetDefault("reconciler.max_recorded_errors", rc.Audit.MaxRecordedErrors)
	v.SetDefault("reconciler.persist_batch_size", rc.PersistBatchSize)
	v.SetDefault("reconciler.merchant_concurrency", rc.MerchantConcurrency)
	v.SetDefault("reconciler.detect_duplicates", rc.Preprocessing.DetectDuplicates)

	v.SetDefault("parser.delimiter", "")
	v.SetDefault("parser.max_errors", pc.MaxErrors)
	v.SetDefault("parser.default_acquirer", "")
	v.SetDefault("parser.column_aliases", map[string][]string{})

	v.SetDefault("report.format", string(report.Format))
	v.SetDefault("report.max_items", report.MaxItems)
	v.SetDefault("report.include_matched", report.IncludeMatched)
	v.SetDefault("report.csv_delimiter", string(report.CSVDelimiter))

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", router.AllowedOrigins)
	v.SetDefault("server.request_timeout", router.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
}

// Configure sets defaults and environment handling on v.
func Configure(v *viper.Viper) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every section by building its engine configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if err := c.LoggerConfig().Validate(); err != nil {
		return fmt.Errorf("invalid log config: %w", err)
	}
	if _, err := c.ReconcilerConfig(); err != nil {
		return err
	}
	if _, err := c.ParserConfig(); err != nil {
		return err
	}
	if _, err := c.ReportConfig(""); err != nil {
		return err
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}

// LoggerConfig returns the logger configuration. Verbose forces debug level.
func (c *Config) LoggerConfig() *logger.Config {
	lc := c.Log
	if c.Verbose {
		lc.Level = logger.DebugLevel
	}
	return &lc
}

// MatchingConfig builds the matcher configuration.
func (c *Config) MatchingConfig() (*matcher.MatchingConfig, error) {
	minTolerance, err := decimal.NewFromString(c.Matching.MinTolerance)
	if err != nil {
		return nil, fmt.Errorf("invalid matching.min_tolerance %q: %w", c.Matching.MinTolerance, err)
	}
	ratio, err := decimal.NewFromString(c.Matching.ToleranceRatio)
	if err != nil {
		return nil, fmt.Errorf("invalid matching.tolerance_ratio %q: %w", c.Matching.ToleranceRatio, err)
	}

	mc := &matcher.MatchingConfig{
		BatchSize:      c.Matching.BatchSize,
		MinTolerance:   minTolerance,
		ToleranceRatio: ratio,
		FallbackMonths: c.Matching.FallbackMonths,
	}
	if err := mc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching config: %w", err)
	}
	return mc, nil
}

// ReconcilerConfig builds the service configuration.
func (c *Config) ReconcilerConfig() (*reconciler.Config, error) {
	mc, err := c.MatchingConfig()
	if err != nil {
		return nil, err
	}

	rc := reconciler.DefaultConfig()
	rc.Matching = mc
	rc.Audit.Matching = mc
	rc.Audit.BatchSize = c.Reconciler.AuditBatchSize
	rc.Audit.MaxRecordedErrors = c.Reconciler.MaxRecordedErrors
	rc.PersistBatchSize = c.Reconciler.PersistBatchSize
	rc.MerchantConcurrency = c.Reconciler.MerchantConcurrency
	rc.Preprocessing.DetectDuplicates = c.Reconciler.DetectDuplicates

	if err := rc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reconciler config: %w", err)
	}
	return rc, nil
}

// ParserConfig builds the CSV parser configuration.
func (c *Config) ParserConfig() (*parsers.TransactionParserConfig, error) {
	delimiter, err := parseDelimiter(c.Parser.Delimiter)
	if err != nil {
		return nil, fmt.Errorf("invalid parser.delimiter: %w", err)
	}

	pc := parsers.DefaultTransactionParserConfig()
	pc.Delimiter = delimiter
	pc.MaxErrors = c.Parser.MaxErrors
	pc.DefaultAcquirer = c.Parser.DefaultAcquirer
	for column, aliases := range c.Parser.ColumnAliases {
		pc.ColumnAliases[column] = aliases
	}

	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parser config: %w", err)
	}
	return pc, nil
}

// ReportConfig builds the report configuration. A non-empty format overrides
// the configured one.
func (c *Config) ReportConfig(format string) (*reporter.ReportConfig, error) {
	if format == "" {
		format = c.Report.Format
	}
	delimiter, err := parseDelimiter(c.Report.CSVDelimiter)
	if err != nil {
		return nil, fmt.Errorf("invalid report.csv_delimiter: %w", err)
	}

	rc := reporter.DefaultReportConfig()
	rc.Format = reporter.OutputFormat(format)
	rc.MaxItems = c.Report.MaxItems
	rc.IncludeMatched = c.Report.IncludeMatched
	if delimiter != 0 {
		rc.CSVDelimiter = delimiter
	}

	if err := rc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report config: %w", err)
	}
	return rc, nil
}

// RouterConfig builds the HTTP router configuration.
func (c *Config) RouterConfig() *api.RouterConfig {
	return &api.RouterConfig{
		AllowedOrigins: c.Server.AllowedOrigins,
		RequestTimeout: c.Server.RequestTimeout,
	}
}

func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case "tab", `\t`:
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}
