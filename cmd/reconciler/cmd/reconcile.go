package cmd

import (
	"fmt"
	"os"

	"golang-settlement-reconciler/internal/reconciler"
	"golang-settlement-reconciler/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the reconcile command
var (
	receivablesFile string
	merchantID      string
	withAudit       bool
	outputFormat    string
	outputFile      string
	showProgress    bool
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile bank receivables with predicted sales",
	Long: `Reconcile matches each receivable of a CSV file with the stored sale that
produced it, by sale date and transaction reference, within the amount
tolerance. Matched receivables carry the sale's predicted settlement date.

With --audit the status of every matched sale is written back to the store.
With --merchant only that merchant's rows are reconciled and rows without a
merchant column are assigned to it; otherwise every merchant in the file is
reconciled.

Examples:
  # One merchant, with audit
  reconciler reconcile --receivables recebiveis.csv --merchant 123 --db store.db

  # Every merchant in the file, JSON report to a file
  reconciler reconcile --receivables recebiveis.csv --output-format json --output-file report.json

  # Dry run without updating sale status
  reconciler reconcile --receivables recebiveis.csv --merchant 123 --audit=false`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVarP(&receivablesFile, "receivables", "r", "", "path to the receivables CSV file (required)")
	reconcileCmd.Flags().StringVarP(&merchantID, "merchant", "m", "", "merchant to reconcile (default: every merchant in the file)")
	reconcileCmd.Flags().BoolVar(&withAudit, "audit", true, "write match status back to the stored sales")
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "", "output format: console, json, csv (default from config)")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	reconcileCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress indicators")

	reconcileCmd.MarkFlagRequired("receivables")
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	if err := validateFileExists(receivablesFile, "receivables file"); err != nil {
		return errors.FileError(errors.CodeFileNotFound, receivablesFile, err)
	}
	return validateOutputFormat(outputFormat)
}

func validateOutputFormat(format string) error {
	switch format {
	case "", "console", "json", "csv":
		return nil
	default:
		return errors.ValidationError(errors.CodeInvalidData, "output-format", format,
			fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", format))
	}
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting reconciliation...\n")
		fmt.Fprintf(os.Stderr, "Receivables file: %s\n", receivablesFile)
		if merchantID != "" {
			fmt.Fprintf(os.Stderr, "Merchant: %s\n", merchantID)
		}
		fmt.Fprintf(os.Stderr, "Database: %s\n", appConfig.Database.DSN)
	}

	store, service, err := openService()
	if err != nil {
		return err
	}
	defer store.Close()

	parserConfig, err := appConfig.ParserConfig()
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "parser", nil, err)
	}
	orchestrator, err := reconciler.NewOrchestrator(service, store, parserConfig)
	if err != nil {
		return err
	}
	if showProgress {
		orchestrator.AddProgressCallback(printProgress)
	}

	result, err := orchestrator.ReconcileFile(ctx, &reconciler.ReconcileRequest{
		ReceivablesFile: receivablesFile,
		MerchantID:      merchantID,
		Audit:           withAudit,
	})
	if showProgress {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	if err := writeReport(result.Reports, outputFormat, outputFile); err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nReceivables: %s\n", result.ParseStats)
		printParseErrors(result.ParseStats.ErrorCount, result.ParseStats.GetSampleErrors(10))
		if result.OtherMerchants > 0 {
			fmt.Fprintf(os.Stderr, "Ignored %d rows of other merchants.\n", result.OtherMerchants)
		}

		fmt.Fprintf(os.Stderr, "\nReconciliation completed successfully.\n")
		for _, report := range result.Reports {
			s := report.Summary
			fmt.Fprintf(os.Stderr, "Merchant %s: %d receivables, %d matched, %d unmatched (%.1f%%).\n",
				report.MerchantID, s.TotalReceivables, s.Matched, s.Unmatched, s.MatchRate())
			if report.Audit != nil {
				fmt.Fprintf(os.Stderr, "  Audit: %d updated, %d skipped, %d errored.\n",
					report.Audit.Updated, report.Audit.Skipped, report.Audit.Errored)
			}
		}
	}

	return nil
}
