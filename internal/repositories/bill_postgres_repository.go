package repositories

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"billbook-backend/internal/config"
	"billbook-backend/internal/database"
	"billbook-backend/internal/db"
	ierr "billbook-backend/internal/errors"
	"billbook-backend/internal/logger"
	"billbook-backend/internal/models"
	"billbook-backend/migrations"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxQuerier is the part of *pgxpool.Pool the repository uses.
type PgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const billColumns = `s_no, to_char(date, 'YYYY-MM-DD'), customer_name, items,
	basket, luggage, old_balance, paid_amount`

// PostgresBillRepository is the relational backend.
type PostgresBillRepository struct {
	cfg config.DatabaseConfig
	log *logger.Logger

	mu   sync.Mutex
	db   PgxQuerier
	pool *pgxpool.Pool
}

// NewPostgresBillRepository connects lazily on Initialize.
func NewPostgresBillRepository(cfg config.DatabaseConfig, log *logger.Logger) *PostgresBillRepository {
	if log == nil {
		log = logger.NewNop()
	}
	return &PostgresBillRepository{cfg: cfg, log: log.Named(BackendPostgres)}
}

// NewPostgresBillRepositoryWithDB uses an existing connection.
func NewPostgresBillRepositoryWithDB(q PgxQuerier, log *logger.Logger) *PostgresBillRepository {
	r := NewPostgresBillRepository(config.DatabaseConfig{}, log)
	r.db = q
	return r
}

func (r *PostgresBillRepository) Name() string { return BackendPostgres }

// Initialize connects (once) and applies the schema migrations.
func (r *PostgresBillRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		if !r.cfg.Configured() {
			return ierr.Configuration(BackendPostgres, "no database credentials found")
		}
		pool, err := db.Connect(ctx, r.cfg)
		if err != nil {
			return ierr.Unavailable(err, "connect postgres")
		}
		r.pool = pool
		r.db = pool
	} else if err := r.db.Ping(ctx); err != nil {
		return ierr.Unavailable(err, "ping postgres")
	}

	migrator := database.NewMigrator(r.db, migrations.FS, ".", r.log)
	if err := migrator.RunMigrations(ctx); err != nil {
		return classifyPgError(err, "initialize bills schema")
	}
	r.log.Info("bills schema ready")
	return nil
}

func (r *PostgresBillRepository) SaveRecord(ctx context.Context, record *models.BillRecord) (*models.BillRecord, error) {
	q, err := r.querier()
	if err != nil {
		return nil, err
	}

	rec := record.Clone()
	rec.Normalize()
	items, err := json.Marshal(rec.Items)
	if err != nil {
		return nil, ierr.Data(err, "encode bill items")
	}

	row := q.QueryRow(ctx,
		`INSERT INTO bills (s_no, date, customer_name, items, basket, luggage, old_balance, paid_amount)
		 VALUES ($1, $2::text::date, $3, $4::jsonb, $5, $6, $7, $8)
		 ON CONFLICT (s_no)
		 DO UPDATE SET
			date = EXCLUDED.date,
			customer_name = EXCLUDED.customer_name,
			items = EXCLUDED.items,
			basket = EXCLUDED.basket,
			luggage = EXCLUDED.luggage,
			old_balance = EXCLUDED.old_balance,
			paid_amount = EXCLUDED.paid_amount,
			updated_at = CURRENT_TIMESTAMP
		 RETURNING `+billColumns,
		rec.SNo, rec.Date, rec.CustomerName, string(items),
		rec.Basket, rec.Luggage, rec.OldBalance, rec.PaidAmount,
	)

	saved, err := scanBill(row)
	if err != nil {
		return nil, classifyPgError(err, "save bill")
	}
	return &saved, nil
}

// Serial numbers grow past four digits without padding, so they are compared
// by length first.
func (r *PostgresBillRepository) FetchAll(ctx context.Context) ([]models.BillRecord, error) {
	return r.queryBills(ctx, "fetch bills",
		`SELECT `+billColumns+` FROM bills ORDER BY date DESC, LENGTH(s_no) DESC, s_no DESC`)
}

func (r *PostgresBillRepository) FetchByCustomer(ctx context.Context, customerName string) ([]models.BillRecord, error) {
	return r.queryBills(ctx, "fetch customer bills",
		`SELECT `+billColumns+` FROM bills
		 WHERE LOWER(customer_name) = LOWER($1)
		 ORDER BY date DESC, LENGTH(s_no) DESC, s_no DESC`, customerName)
}

func (r *PostgresBillRepository) DeleteRecord(ctx context.Context, sNo string) error {
	q, err := r.querier()
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `DELETE FROM bills WHERE s_no = $1`, sNo); err != nil {
		return classifyPgError(err, "delete bill")
	}
	return nil
}

// NextSequenceNumber takes the largest all-digit sNo and adds one.
func (r *PostgresBillRepository) NextSequenceNumber(ctx context.Context) (string, error) {
	q, err := r.querier()
	if err != nil {
		return "", err
	}

	var highest int64
	err = q.QueryRow(ctx,
		`SELECT COALESCE(MAX(CAST(s_no AS BIGINT)), 0) FROM bills WHERE s_no ~ '^[0-9]+$'`,
	).Scan(&highest)
	if err != nil {
		return "", classifyPgError(err, "next bill number")
	}
	return models.FormatSequence(highest + 1), nil
}

func (r *PostgresBillRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
		r.db = nil
	}
	return nil
}

func (r *PostgresBillRepository) querier() (PgxQuerier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		if !r.cfg.Configured() {
			return nil, ierr.Configuration(BackendPostgres, "no database credentials found")
		}
		return nil, ierr.Unavailable(errors.New("not initialized"), "postgres")
	}
	return r.db, nil
}

func (r *PostgresBillRepository) queryBills(ctx context.Context, op, sql string, args ...any) ([]models.BillRecord, error) {
	q, err := r.querier()
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, classifyPgError(err, op)
	}
	defer rows.Close()

	bills := make([]models.BillRecord, 0)
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, classifyPgError(err, op)
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError(err, op)
	}
	return bills, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (models.BillRecord, error) {
	var (
		bill  models.BillRecord
		items []byte
	)
	err := row.Scan(&bill.SNo, &bill.Date, &bill.CustomerName, &items,
		&bill.Basket, &bill.Luggage, &bill.OldBalance, &bill.PaidAmount)
	if err != nil {
		return models.BillRecord{}, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &bill.Items); err != nil {
			return models.BillRecord{}, ierr.Data(err, "decode bill items "+bill.SNo)
		}
	}
	bill.Normalize()
	return bill, nil
}

// classifyPgError separates bad data (SQLSTATE class 22, scan failures) from
// everything else, which is treated as the backend being unavailable.
func classifyPgError(err error, op string) error {
	if err == nil {
		return nil
	}
	if ierr.IsData(err) || ierr.IsUnavailable(err) || ierr.IsConfiguration(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "22") {
		return ierr.Data(err, op)
	}
	var scanErr pgx.ScanArgError
	if errors.As(err, &scanErr) {
		return ierr.Data(err, op)
	}
	return ierr.Unavailable(err, op)
}
