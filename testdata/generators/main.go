// Command generators writes a consistent set of fee rules, sales and receivables
// CSV files for manual runs and benchmarks of the reconciler CLI.
//
//	go run ./testdata/generators -merchants 3 -count 500 -match-ratio 0.9 -output-dir ./generated
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang-settlement-reconciler/internal/calendar"
	"golang-settlement-reconciler/internal/feerule"
	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/internal/settlement"

	"github.com/shopspring/decimal"
)

// modality is a sale modality with its installment range.
type modality struct {
	Name            string
	MinInstallments int
	MaxInstallments int
}

var modalities = []modality{
	{Name: "Débito"},
	{Name: "Crédito à Vista"},
	{Name: "Crédito Parcelado", MinInstallments: 2, MaxInstallments: 12},
	{Name: "Pré-pago Débito"},
	{Name: "Pré-pago Crédito"},
}

var (
	acquirers = []string{"Cielo", "Rede", "Stone", "GetNet"}
	brands    = []string{"VISA", "MASTER", "ELO", "AMEX", "HIPERCARD"}
)

// Generator produces sales and the receivables that pay them.
type Generator struct {
	Merchants  int
	Count      int
	StartDate  time.Time
	Days       int
	MatchRatio float64
	rng        *rand.Rand
}

// Dataset is one generated run.
type Dataset struct {
	FeeRules    []models.FeeRule
	Sales       []models.Transaction
	Receivables []models.Transaction
}

func main() {
	var (
		outputDir  = flag.String("output-dir", "generated", "Output directory for the CSV files")
		merchants  = flag.Int("merchants", 2, "Number of merchants")
		count      = flag.Int("count", 200, "Number of sales per merchant")
		startDate  = flag.String("start-date", "2025-01-02", "First sale date (YYYY-MM-DD)")
		days       = flag.Int("days", 60, "Number of days sales are spread over")
		matchRatio = flag.Float64("match-ratio", 0.9, "Share of sale rows that get a receivable")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
	)
	flag.Parse()

	start, err := calendar.ParseDate(*startDate)
	if err != nil {
		log.Fatalf("Invalid start date: %v", err)
	}
	if *matchRatio < 0 || *matchRatio > 1 {
		log.Fatalf("Invalid match ratio %.2f: must be between 0 and 1", *matchRatio)
	}
	if *merchants < 1 || *count < 1 || *days < 1 {
		log.Fatalf("merchants, count and days must be positive")
	}

	g := &Generator{
		Merchants:  *merchants,
		Count:      *count,
		StartDate:  start,
		Days:       *days,
		MatchRatio: *matchRatio,
		rng:        rand.New(rand.NewSource(*seed)),
	}
	data := g.Generate()

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	files := []struct {
		name  string
		write func(*csv.Writer) error
	}{
		{"taxas.csv", data.writeFeeRules},
		{"vendas.csv", data.writeSales},
		{"recebiveis.csv", data.writeReceivables},
	}
	for _, f := range files {
		path := filepath.Join(*outputDir, f.name)
		if err := writeCSV(path, f.write); err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
	}

	fmt.Printf("Generated %d fee rules, %d sale rows and %d receivables in %s (seed %d)\n",
		len(data.FeeRules), len(data.Sales), len(data.Receivables), *outputDir, *seed)
}

// Generate builds fee rules, sales and receivables. Installment sales produce one
// row per installment sharing the transaction reference and sale date, and every
// receivable carries the predicted settlement date as its payment date.
func (g *Generator) Generate() *Dataset {
	data := &Dataset{}
	for _, m := range modalities {
		data.FeeRules = append(data.FeeRules, models.FeeRule{
			Modality:   m.Name,
			FeePercent: decimal.NewFromFloat(0.8 + g.rng.Float64()*3).Round(2),
			CutoffDays: g.rng.Intn(3),
		})
	}

	predictor := settlement.NewPredictor(feerule.NewResolver(data.FeeRules))
	seq := settlement.NewSequencer()
	nsu := 100000

	for merchant := 1; merchant <= g.Merchants; merchant++ {
		merchantID := fmt.Sprintf("%d", 1000+merchant)
		for i := 0; i < g.Count; i++ {
			nsu++
			m := modalities[g.rng.Intn(len(modalities))]
			installments := 1
			if m.MaxInstallments > 0 {
				installments = m.MinInstallments + g.rng.Intn(m.MaxInstallments-m.MinInstallments+1)
			}

			saleDate := calendar.AddCalendarDays(g.StartDate, g.rng.Intn(g.Days))
			total := decimal.NewFromFloat(5 + g.rng.Float64()*2000).Round(2)
			share := total.Div(decimal.NewFromInt(int64(installments))).Round(2)

			base := models.Transaction{
				MerchantID:       merchantID,
				Acquirer:         acquirers[g.rng.Intn(len(acquirers))],
				Brand:            brands[g.rng.Intn(len(brands))],
				Modality:         m.Name,
				TransactionRef:   strconv.Itoa(nsu),
				SaleDate:         saleDate,
				InstallmentCount: installments,
			}

			for n := 0; n < installments; n++ {
				sale := base
				sale.GrossAmount = share
				data.Sales = append(data.Sales, sale)

				prediction := predictor.Predict(&sale, seq)
				if !prediction.Predicted() || g.rng.Float64() >= g.MatchRatio {
					continue
				}

				receivable := sale
				receivable.SettlementDate = prediction.Date
				// Acquirers occasionally round installment shares differently.
				if g.rng.Float64() < 0.1 {
					receivable.GrossAmount = share.Add(decimal.NewFromFloat(0.01))
				}
				data.Receivables = append(data.Receivables, receivable)
			}
		}
	}
	return data
}

func writeCSV(path string, write func(*csv.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := write(w); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (d *Dataset) writeFeeRules(w *csv.Writer) error {
	w.Comma = ';'
	if err := w.Write([]string{"modality", "fee_percent", "cutoff_days"}); err != nil {
		return err
	}
	for _, rule := range d.FeeRules {
		if err := w.Write([]string{rule.Modality, brazilian(rule.FeePercent), strconv.Itoa(rule.CutoffDays)}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dataset) writeSales(w *csv.Writer) error {
	w.Comma = ';'
	header := []string{"merchant_id", "acquirer", "brand", "modality", "nsu", "data_venda", "valor_bruto", "parcelas"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, sale := range d.Sales {
		record := []string{
			sale.MerchantID, sale.Acquirer, sale.Brand, sale.Modality, sale.TransactionRef,
			sale.SaleDate.Format("02/01/2006"), brazilian(sale.GrossAmount), strconv.Itoa(sale.InstallmentCount),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dataset) writeReceivables(w *csv.Writer) error {
	header := []string{"estabelecimento", "adquirente", "bandeira", "nsu", "data_venda", "valor_bruto", "data_pagamento"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range d.Receivables {
		record := []string{
			r.MerchantID, r.Acquirer, r.Brand, r.TransactionRef,
			calendar.FormatISO(r.SaleDate), r.GrossAmount.StringFixed(2), calendar.FormatISO(*r.SettlementDate),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

// brazilian formats an amount with a decimal comma, as exported by acquirer portals.
func brazilian(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}
