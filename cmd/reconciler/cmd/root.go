package cmd

import (
	"fmt"
	"io"
	"os"

	"golang-settlement-reconciler/cmd/reconciler/config"
	"golang-settlement-reconciler/internal/reconciler"
	"golang-settlement-reconciler/internal/reporter"
	"golang-settlement-reconciler/internal/storage/sqlite"
	"golang-settlement-reconciler/pkg/errors"
	"golang-settlement-reconciler/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	verbose   bool
	appConfig *config.Config
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Card settlement prediction and reconciliation tool",
	Long: `Reconciler predicts when card sales will be paid out by the acquirer and
reconciles the bank receivables against those sales. Sales and receivables are
read from CSV files; predicted sales are kept in a sqlite store.

Examples:
  reconciler predict --sales vendas.csv --fee-rules taxas.csv --db store.db
  reconciler reconcile --receivables recebiveis.csv --merchant 123 --db store.db
  reconciler serve --addr :8080 --db store.db
  reconciler version`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	config.Configure(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("db", "", "sqlite database path (default from config: settlement.db)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")

	// Unchanged flags fall back to the config file, environment and defaults.
	viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.BindPFlag("database.dsn", flags.Lookup("db"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.format", flags.Lookup("log-format"))
}

// initConfig reads the config file, loads the configuration and sets up logging.
func initConfig(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
				WithSuggestion("Check the config file path and its YAML/JSON/TOML syntax")
		}
	}

	c, err := config.Load(viper.GetViper())
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "config", viper.ConfigFileUsed(), err).
			WithSuggestion("Fix the reported setting in the config file, flags or SETTLEMENT_* environment")
	}
	appConfig = c

	log, err := logger.NewLogger(c.LoggerConfig())
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", c.Log, err)
	}
	logger.SetGlobalLogger(log)

	if c.Verbose && viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
	return nil
}

// openService opens the store and builds the reconciliation service on it.
func openService() (*sqlite.Store, *reconciler.Service, error) {
	rc, err := appConfig.ReconcilerConfig()
	if err != nil {
		return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", nil, err)
	}

	store, err := sqlite.Open(appConfig.Database.DSN)
	if err != nil {
		return nil, nil, err
	}

	service, err := reconciler.NewService(store, rc)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, service, nil
}

// writeReport renders report to outputFile, or to stdout when it is empty.
func writeReport(report interface{}, format, outputFile string) error {
	reportConfig, err := appConfig.ReportConfig(format)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format, err).
			WithSuggestion("Valid formats: console, json, csv")
	}

	generator, err := reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}

	var output io.Writer = os.Stdout
	if outputFile != "" {
		file, err := reporter.CreateOutputFile(outputFile)
		if err != nil {
			return err
		}
		defer file.Close()
		output = file
	}

	return generator.GenerateReportSafely(report, output)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
