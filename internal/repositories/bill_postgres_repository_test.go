package repositories_test

import (
	"context"
	"testing"

	"billbook-backend/internal/config"
	ierr "billbook-backend/internal/errors"
	"billbook-backend/internal/repositories"
	"billbook-backend/internal/repositories/repotest"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var billRowColumns = []string{"s_no", "date", "customer_name", "items",
	"basket", "luggage", "old_balance", "paid_amount"}

func newPgMock(t *testing.T) (pgxmock.PgxPoolIface, *repositories.PostgresBillRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, repositories.NewPostgresBillRepositoryWithDB(mock, nil)
}

func TestPostgresBillRepository_NotConfigured(t *testing.T) {
	repo := repositories.NewPostgresBillRepository(config.DatabaseConfig{
		Host: "localhost", Port: 5432, User: "shop", Name: "bills",
	}, nil)

	err := repo.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, ierr.IsConfiguration(err))

	_, err = repo.NextSequenceNumber(context.Background())
	assert.True(t, ierr.IsConfiguration(err))
}

func TestPostgresBillRepository_InitializeRunsPendingMigrations(t *testing.T) {
	mock, repo := newPgMock(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_create_bills.sql"))
	mock.ExpectExec("idx_bills_customer_name_lower").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs("002_bills_customer_lower.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Initialize(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBillRepository_InitializeFailureIsUnavailable(t *testing.T) {
	mock, repo := newPgMock(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnError(errors.New("connection refused"))

	err := repo.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, ierr.IsUnavailable(err))
}

func TestPostgresBillRepository_SaveEchoesStoredRow(t *testing.T) {
	mock, repo := newPgMock(t)

	mock.ExpectQuery("INSERT INTO bills").
		WillReturnRows(pgxmock.NewRows(billRowColumns).AddRow(
			"0001", "2024-05-01", "Asha",
			[]byte(`[{"id":"0001-1","name":"Sugar","quantity":2,"rate":45}]`),
			0.0, 10.0, 0.0, 100.0,
		))

	rec := repotest.Bill("0001", "2024-05-01", "Asha")
	saved, err := repo.SaveRecord(context.Background(), &rec)
	require.NoError(t, err)
	assert.Equal(t, "0001", saved.SNo)
	assert.Equal(t, "2024-05-01", saved.Date)
	require.Len(t, saved.Items, 1)
	assert.Equal(t, 45.0, saved.Items[0].Rate)
	assert.Equal(t, 100.0, saved.PaidAmount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBillRepository_FetchByCustomerComparesLowercase(t *testing.T) {
	mock, repo := newPgMock(t)

	mock.ExpectQuery(`WHERE LOWER\(customer_name\) = LOWER\(\$1\)\s+ORDER BY date DESC, LENGTH\(s_no\) DESC, s_no DESC`).
		WithArgs("RAVI KUMAR").
		WillReturnRows(pgxmock.NewRows(billRowColumns).
			AddRow("0002", "2024-02-01", "ravi kumar", []byte(`[]`), 0.0, 0.0, 0.0, 0.0).
			AddRow("0001", "2024-01-01", "Ravi Kumar", []byte(nil), 0.0, 0.0, 50.0, 0.0))

	got, err := repo.FetchByCustomer(context.Background(), "RAVI KUMAR")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "0002", got[0].SNo)
	assert.NotNil(t, got[1].Items)
	assert.Equal(t, 50.0, got[1].OldBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBillRepository_FetchAllOrdersInSQL(t *testing.T) {
	mock, repo := newPgMock(t)

	mock.ExpectQuery(`FROM bills ORDER BY date DESC, LENGTH\(s_no\) DESC, s_no DESC`).
		WillReturnRows(pgxmock.NewRows(billRowColumns))

	got, err := repo.FetchAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBillRepository_UndecodableItemsIsDataError(t *testing.T) {
	mock, repo := newPgMock(t)

	mock.ExpectQuery("SELECT").
		WillReturnRows(pgxmock.NewRows(billRowColumns).
			AddRow("0001", "2024-01-01", "Asha", []byte(`{bad`), 0.0, 0.0, 0.0, 0.0))

	_, err := repo.FetchAll(context.Background())
	require.Error(t, err)
	assert.True(t, ierr.IsData(err))
}

func TestPostgresBillRepository_DataExceptionIsDataError(t *testing.T) {
	mock, repo := newPgMock(t)

	mock.ExpectQuery("INSERT INTO bills").
		WillReturnError(&pgconn.PgError{Code: "22007", Message: "invalid input syntax for type date"})

	rec := repotest.Bill("0001", "2024-05-01", "Asha")
	_, err := repo.SaveRecord(context.Background(), &rec)
	require.Error(t, err)
	assert.True(t, ierr.IsData(err))
}

func TestPostgresBillRepository_NextSequence(t *testing.T) {
	mock, repo := newPgMock(t)

	mock.ExpectQuery(`MAX\(CAST\(s_no AS BIGINT\)\)`).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(41)))
	mock.ExpectQuery(`MAX\(CAST\(s_no AS BIGINT\)\)`).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))

	next, err := repo.NextSequenceNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0042", next)

	next, err = repo.NextSequenceNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0001", next)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBillRepository_Delete(t *testing.T) {
	mock, repo := newPgMock(t)

	mock.ExpectExec("DELETE FROM bills WHERE s_no").
		WithArgs("0003").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM bills WHERE s_no").
		WithArgs("0004").
		WillReturnError(errors.New("broken pipe"))

	require.NoError(t, repo.DeleteRecord(context.Background(), "0003"))

	err := repo.DeleteRecord(context.Background(), "0004")
	require.Error(t, err)
	assert.True(t, ierr.IsUnavailable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
