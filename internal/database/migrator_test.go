package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/cockroachdb/errors"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var schema = fstest.MapFS{
	"sql/001_create.sql": {Data: []byte("CREATE TABLE IF NOT EXISTS bills (s_no TEXT PRIMARY KEY);")},
	"sql/002_index.sql":  {Data: []byte("CREATE INDEX IF NOT EXISTS bills_date ON bills (date);")},
	"sql/README.md":      {Data: []byte("not a migration")},
}

func TestRunMigrationsAppliesPendingInOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_create.sql"))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS bills_date").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs("002_index.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	m := NewMigrator(mock, schema, "sql", nil)
	require.NoError(t, m.RunMigrations(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrationsStopsOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS bills").
		WillReturnError(errors.New("permission denied"))

	m := NewMigrator(mock, schema, "sql", nil)
	err = m.RunMigrations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_create.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}
