// Package sqlite stores sales and fee rules in SQLite.
//
// Sales live in one table per (merchant, acquirer) pair named
// sales_<merchant>_<acquirer>, both parts reduced to [a-z0-9]. Tables are created on
// first insert. Fee rules share a single fee_rules table read in registration
// order.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang-settlement-reconciler/internal/calendar"
	"golang-settlement-reconciler/internal/models"
	"golang-settlement-reconciler/internal/normalize"
	"golang-settlement-reconciler/pkg/errors"
	"golang-settlement-reconciler/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// MaxUpdateBatch is the largest id list UpdateStatus accepts.
const MaxUpdateBatch = 1000

const salesPrefix = "sales_"

var tableNamePattern = regexp.MustCompile(`^sales_[a-z0-9]+_[a-z0-9]+$`)

// Store is the SQLite storage collaborator.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

// Open opens (or creates) a database at dsn and ensures the fee_rules table
// exists. Pass ":memory:" for an in-memory database.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if dsn == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec(feeRulesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create fee_rules: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.GetGlobalLogger().WithComponent("storage"),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const feeRulesSchema = `CREATE TABLE IF NOT EXISTS fee_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	merchant_id TEXT NOT NULL,
	acquirer TEXT NOT NULL,
	brand TEXT NOT NULL,
	modality TEXT NOT NULL,
	installment_count INTEGER NOT NULL DEFAULT 1,
	fee_percent TEXT NOT NULL,
	cutoff_days INTEGER NOT NULL DEFAULT 0
)`

func salesSchema(table string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
			id TEXT PRIMARY KEY,
			merchant_id TEXT NOT NULL,
			matrix_id TEXT NOT NULL DEFAULT '',
			acquirer TEXT NOT NULL,
			brand TEXT NOT NULL,
			modality TEXT NOT NULL,
			transaction_ref TEXT NOT NULL,
			sanitized_ref TEXT NOT NULL,
			sale_date TEXT NOT NULL,
			gross_amount TEXT NOT NULL,
			net_amount TEXT NOT NULL,
			installment_count INTEGER NOT NULL DEFAULT 1,
			fee_amount TEXT,
			predicted_settlement_date TEXT,
			settlement_date TEXT,
			status TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_` + table + `_date_ref ON ` + table + `(sale_date, sanitized_ref)`,
	}
}

// TableName returns the sales table of a merchant and acquirer.
func TableName(merchantID, acquirer string) (string, error) {
	m, a := tablePart(merchantID), tablePart(acquirer)
	if m == "" || a == "" {
		return "", errors.StorageError(errors.CodeInvalidTable, merchantID+"/"+acquirer,
			fmt.Errorf("merchant and acquirer must contain letters or digits"))
	}
	return salesPrefix + m + "_" + a, nil
}

// TableName returns the sales table of a merchant and acquirer.
func (s *Store) TableName(merchantID, acquirer string) (string, error) {
	return TableName(merchantID, acquirer)
}

func tablePart(s string) string {
	var b strings.Builder
	for _, r := range normalize.Text(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func checkTable(table string) error {
	if !tableNamePattern.MatchString(table) {
		return errors.StorageError(errors.CodeInvalidTable, table, fmt.Errorf("table name does not match %s", tableNamePattern))
	}
	return nil
}

// InsertSales persists sales into their merchant/acquirer tables inside one
// transaction. Sales without an id get a new UUID, written back into the slice.
// Rows whose id already exists are ignored. It returns the number of rows inserted.
func (s *Store) InsertSales(ctx context.Context, sales []models.Transaction) (int, error) {
	if len(sales) == 0 {
		return 0, nil
	}

	byTable := make(map[string][]int)
	var tables []string
	for i := range sales {
		if sales[i].ID == "" {
			sales[i].ID = uuid.NewString()
		}
		table, err := TableName(sales[i].MerchantID, sales[i].Acquirer)
		if err != nil {
			return 0, err
		}
		if _, ok := byTable[table]; !ok {
			tables = append(tables, table)
		}
		byTable[table] = append(byTable[table], i)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	inserted := 0
	for _, table := range tables {
		for _, stmt := range salesSchema(table) {
			if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
				return 0, errors.StorageError(errors.CodeInsertFailed, table, err)
			}
		}

		n, err := insertRows(ctx, sqlTx, table, sales, byTable[table])
		if err != nil {
			return 0, errors.StorageError(errors.CodeInsertFailed, table, err)
		}
		inserted += n
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.logger.WithFields(logger.Fields{
		"rows":   inserted,
		"tables": len(tables),
	}).Debug("Inserted sales")

	return inserted, nil
}

func insertRows(ctx context.Context, sqlTx *sql.Tx, table string, sales []models.Transaction, idx []int) (int, error) {
	stmt, err := sqlTx.PrepareContext(ctx, `INSERT OR IGNORE INTO `+table+`
		(id, merchant_id, matrix_id, acquirer, brand, modality, transaction_ref,
		 sanitized_ref, sale_date, gross_amount, net_amount, installment_count,
		 fee_amount, predicted_settlement_date, settlement_date, status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, i := range idx {
		tx := &sales[i]
		res, err := stmt.ExecContext(ctx,
			tx.ID, tx.MerchantID, tx.MatrixID, tx.Acquirer, tx.Brand, tx.Modality,
			tx.TransactionRef, tx.SanitizedRef(), calendar.FormatISO(tx.SaleDate),
			tx.GrossAmount.String(), tx.NetAmount.String(), tx.InstallmentCount,
			nullableDecimal(tx.FeeAmount), nullableDate(tx.PredictedSettlementDate),
			nullableDate(tx.SettlementDate), string(tx.Status),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert row %d: %w", i, err)
		}
		ra, _ := res.RowsAffected()
		inserted += int(ra)
	}
	return inserted, nil
}

// SalesTables lists the sales tables of a merchant, sorted by name.
func (s *Store) SalesTables(ctx context.Context, merchantID string) ([]string, error) {
	m := tablePart(merchantID)
	if m == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND substr(name, 1, ?) = ?`,
		len(salesPrefix)+len(m)+1, salesPrefix+m+"_")
	if err != nil {
		return nil, errors.StorageError(errors.CodeFetchFailed, "sqlite_master", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.StorageError(errors.CodeFetchFailed, "sqlite_master", err)
		}
		if tableNamePattern.MatchString(name) {
			tables = append(tables, name)
		}
	}
	sort.Strings(tables)
	return tables, rows.Err()
}

const saleColumns = `id, merchant_id, matrix_id, acquirer, brand, modality, transaction_ref,
	sale_date, gross_amount, net_amount, installment_count, fee_amount,
	predicted_settlement_date, settlement_date, status`

// FetchSales returns every sale of the merchant, across all its acquirer tables,
// with a sale date in [start, end]. Rows come ordered by table name, then
// insertion order.
func (s *Store) FetchSales(ctx context.Context, merchantID string, start, end time.Time) ([]models.Transaction, error) {
	tables, err := s.SalesTables(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	var out []models.Transaction
	for _, table := range tables {
		sales, err := s.querySales(ctx, table,
			`SELECT `+saleColumns+` FROM `+table+` WHERE sale_date BETWEEN ? AND ? ORDER BY rowid`,
			calendar.FormatISO(start), calendar.FormatISO(end))
		if err != nil {
			return nil, err
		}
		out = append(out, sales...)
	}

	s.logger.WithFields(logger.Fields{
		"merchant_id": merchantID,
		"start":       calendar.FormatISO(start),
		"end":         calendar.FormatISO(end),
		"rows":        len(out),
	}).Debug("Fetched sales")

	return out, nil
}

// FetchByReference returns the rows of table with the given reference and sale
// date. A non-empty brand keeps only rows of the same card network. A table that
// does not exist yet yields no rows.
func (s *Store) FetchByReference(ctx context.Context, table, transactionRef string, saleDate time.Time, brand string) ([]models.Transaction, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	exists, err := s.tableExists(ctx, table)
	if err != nil || !exists {
		return nil, err
	}

	sales, err := s.querySales(ctx, table,
		`SELECT `+saleColumns+` FROM `+table+` WHERE sanitized_ref = ? AND sale_date = ? ORDER BY rowid`,
		normalize.Ref(transactionRef), calendar.FormatISO(saleDate))
	if err != nil {
		return nil, err
	}

	want := normalize.Brand(brand)
	if want == "" {
		return sales, nil
	}
	filtered := sales[:0]
	for _, sale := range sales {
		if normalize.Brand(sale.Brand) == want {
			filtered = append(filtered, sale)
		}
	}
	return filtered, nil
}

// UpdateStatus sets status on the given ids of table in a single statement.
func (s *Store) UpdateStatus(ctx context.Context, table string, ids []string, status models.MatchStatus) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if len(ids) > MaxUpdateBatch {
		return errors.StorageError(errors.CodeBatchTooLarge, table,
			fmt.Errorf("%d ids exceed the limit of %d", len(ids), MaxUpdateBatch))
	}

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, string(status))
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	if _, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET status = ? WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return errors.StorageError(errors.CodeUpdateFailed, table, err)
	}
	return nil
}

// InsertFeeRules registers fee rules in order.
func (s *Store) InsertFeeRules(ctx context.Context, rules []models.FeeRule) (int, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	stmt, err := sqlTx.PrepareContext(ctx, `INSERT INTO fee_rules
		(merchant_id, acquirer, brand, modality, installment_count, fee_percent, cutoff_days)
		VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := range rules {
		r := &rules[i]
		if err := r.Validate(); err != nil {
			return 0, errors.ValidationError(errors.CodeInvalidData, "fee_rule", r.String(), err)
		}
		res, err := stmt.ExecContext(ctx, r.MerchantID, r.Acquirer, r.Brand, r.Modality,
			r.InstallmentCount, r.FeePercent.String(), r.CutoffDays)
		if err != nil {
			return 0, errors.StorageError(errors.CodeInsertFailed, "fee_rules", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			r.ID = id
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(rules), nil
}

// ListFeeRules returns every registered fee rule in registration order.
func (s *Store) ListFeeRules(ctx context.Context) ([]models.FeeRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, merchant_id, acquirer, brand, modality,
		installment_count, fee_percent, cutoff_days FROM fee_rules ORDER BY id`)
	if err != nil {
		return nil, errors.StorageError(errors.CodeFetchFailed, "fee_rules", err)
	}
	defer rows.Close()

	var rules []models.FeeRule
	for rows.Next() {
		var r models.FeeRule
		var pct string
		if err := rows.Scan(&r.ID, &r.MerchantID, &r.Acquirer, &r.Brand, &r.Modality,
			&r.InstallmentCount, &pct, &r.CutoffDays); err != nil {
			return nil, errors.StorageError(errors.CodeFetchFailed, "fee_rules", err)
		}
		if r.FeePercent, err = decimal.NewFromString(pct); err != nil {
			return nil, errors.StorageError(errors.CodeFetchFailed, "fee_rules", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) tableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, errors.StorageError(errors.CodeFetchFailed, table, err)
	}
	return n > 0, nil
}

func (s *Store) querySales(ctx context.Context, table, query string, args ...interface{}) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeFetchFailed, table, err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, err := scanSale(rows)
		if err != nil {
			return nil, errors.StorageError(errors.CodeFetchFailed, table, err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeFetchFailed, table, err)
	}
	return out, nil
}

func scanSale(rows *sql.Rows) (models.Transaction, error) {
	var (
		tx                      models.Transaction
		saleDate, gross, net    string
		fee, predicted, settled sql.NullString
		status                  string
	)

	if err := rows.Scan(&tx.ID, &tx.MerchantID, &tx.MatrixID, &tx.Acquirer, &tx.Brand,
		&tx.Modality, &tx.TransactionRef, &saleDate, &gross, &net, &tx.InstallmentCount,
		&fee, &predicted, &settled, &status); err != nil {
		return tx, err
	}

	var err error
	if saleDate != "" {
		if tx.SaleDate, err = time.Parse(calendar.ISOLayout, saleDate); err != nil {
			return tx, fmt.Errorf("sale_date: %w", err)
		}
	}
	if tx.GrossAmount, err = decimal.NewFromString(gross); err != nil {
		return tx, fmt.Errorf("gross_amount: %w", err)
	}
	if tx.NetAmount, err = decimal.NewFromString(net); err != nil {
		return tx, fmt.Errorf("net_amount: %w", err)
	}
	if fee.Valid {
		d, err := decimal.NewFromString(fee.String)
		if err != nil {
			return tx, fmt.Errorf("fee_amount: %w", err)
		}
		tx.FeeAmount = decimal.NewNullDecimal(d)
	}
	if tx.PredictedSettlementDate, err = parseNullableDate(predicted); err != nil {
		return tx, fmt.Errorf("predicted_settlement_date: %w", err)
	}
	if tx.SettlementDate, err = parseNullableDate(settled); err != nil {
		return tx, fmt.Errorf("settlement_date: %w", err)
	}
	tx.Status = models.MatchStatus(status)

	return tx, nil
}

func nullableDecimal(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func nullableDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return calendar.FormatISO(*t)
}

func parseNullableDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(calendar.ISOLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
