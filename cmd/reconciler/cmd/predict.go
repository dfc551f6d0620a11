package cmd

import (
	"fmt"
	"os"

	"golang-settlement-reconciler/internal/reconciler"
	"golang-settlement-reconciler/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the predict command
var (
	salesFile        string
	feeRulesFile     string
	persistSales     bool
	predictFormat    string
	predictOutput    string
	showPredProgress bool
)

// predictCmd represents the predict command
var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict settlement dates and fees of card sales",
	Long: `Predict reads a CSV file of card sales, resolves the fee rule of each sale
and computes its expected settlement date. Installment sales are numbered in
file order. Predicted sales are stored so receivables can be reconciled later.

Fee rules can be registered in the same run with --fee-rules; otherwise the
rules already stored in the database are used.

Examples:
  # Register fee rules and predict
  reconciler predict --sales vendas.csv --fee-rules taxas.csv --db store.db

  # Preview predictions as CSV without storing the sales
  reconciler predict --sales vendas.csv --persist=false --output-format csv`,

	PreRunE: validatePredictFlags,
	RunE:    runPredict,
}

func init() {
	rootCmd.AddCommand(predictCmd)

	predictCmd.Flags().StringVarP(&salesFile, "sales", "s", "", "path to the sales CSV file (required)")
	predictCmd.Flags().StringVar(&feeRulesFile, "fee-rules", "", "path to a fee rules CSV file to register first")
	predictCmd.Flags().BoolVar(&persistSales, "persist", true, "store the predicted sales")
	predictCmd.Flags().StringVarP(&predictFormat, "output-format", "f", "", "output format: console, json, csv (default from config)")
	predictCmd.Flags().StringVarP(&predictOutput, "output-file", "o", "", "output file path (default: stdout)")
	predictCmd.Flags().BoolVar(&showPredProgress, "progress", false, "show progress indicators")

	predictCmd.MarkFlagRequired("sales")
}

func validatePredictFlags(cmd *cobra.Command, args []string) error {
	if err := validateFileExists(salesFile, "sales file"); err != nil {
		return errors.FileError(errors.CodeFileNotFound, salesFile, err)
	}
	if feeRulesFile != "" {
		if err := validateFileExists(feeRulesFile, "fee rules file"); err != nil {
			return errors.FileError(errors.CodeFileNotFound, feeRulesFile, err)
		}
	}
	return validateOutputFormat(predictFormat)
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting prediction...\n")
		fmt.Fprintf(os.Stderr, "Sales file: %s\n", salesFile)
		if feeRulesFile != "" {
			fmt.Fprintf(os.Stderr, "Fee rules file: %s\n", feeRulesFile)
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
	if showPredProgress {
		orchestrator.AddProgressCallback(printProgress)
	}

	result, err := orchestrator.PredictFiles(ctx, &reconciler.PredictRequest{
		SalesFile:    salesFile,
		FeeRulesFile: feeRulesFile,
		Persist:      persistSales,
	})
	if showPredProgress {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	if err := writeReport(result.Report, predictFormat, predictOutput); err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		if result.FeeRuleStats != nil {
			fmt.Fprintf(os.Stderr, "\nFee rules: %s\n", result.FeeRuleStats)
			printParseErrors(result.FeeRuleStats.ErrorCount, result.FeeRuleStats.GetSampleErrors(10))
		}
		fmt.Fprintf(os.Stderr, "\nSales: %s\n", result.SalesStats)
		printParseErrors(result.SalesStats.ErrorCount, result.SalesStats.GetSampleErrors(10))

		stats := result.Report.Stats
		fmt.Fprintf(os.Stderr, "\nPrediction completed successfully.\n")
		fmt.Fprintf(os.Stderr, "Predicted %d of %d sales (%d without fee rule, %d without sale date).\n",
			stats.Predicted, stats.Total, stats.NoRule, stats.InvalidDate)
		fmt.Fprintf(os.Stderr, "Stored %d sales. Processing time: %v\n", result.Report.Persisted, result.Report.Duration)
	}

	return nil
}

func printProgress(p reconciler.Progress) {
	fmt.Fprintf(os.Stderr, "\r[%d/%d] %s (%.1f%% complete)",
		p.CompletedSteps, p.TotalSteps, p.CurrentStep, p.PercentComplete)
}

func printParseErrors(total int, samples []string) {
	if total > 0 {
		fmt.Fprintln(os.Stderr, FormatValidationErrors(total, samples))
	}
}
