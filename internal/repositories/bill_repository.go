package repositories

import (
	"context"

	"billbook-backend/internal/models"

	"github.com/samber/lo"
)

// Backend names, used in logs, metrics and config.
const (
	BackendPostgres    = "postgres"
	BackendObjectStore = "objectstore"
	BackendRedis       = "redis"
	BackendOffline     = "offline"
)

// BillRepository is the storage contract every backend implements,
// including the local offline store.
type BillRepository interface {
	// Name identifies the backend.
	Name() string

	// Initialize connects and ensures the schema exists. It is idempotent and
	// returns an ErrConfiguration error when connection parameters are absent.
	Initialize(ctx context.Context) error

	// SaveRecord upserts by sNo and echoes the stored record.
	SaveRecord(ctx context.Context, record *models.BillRecord) (*models.BillRecord, error)

	// FetchAll returns every record, newest date first.
	FetchAll(ctx context.Context) ([]models.BillRecord, error)

	// FetchByCustomer returns records whose customer name matches exactly,
	// ignoring case. No match is an empty slice, not an error.
	FetchByCustomer(ctx context.Context, customerName string) ([]models.BillRecord, error)

	// DeleteRecord removes a record. Deleting an unknown sNo succeeds.
	DeleteRecord(ctx context.Context, sNo string) error

	// NextSequenceNumber returns max(sNo)+1 zero padded, or "0001".
	NextSequenceNumber(ctx context.Context) (string, error)

	// Close releases connections.
	Close() error
}

// filterByCustomer keeps the records belonging to customerName.
func filterByCustomer(records []models.BillRecord, customerName string) []models.BillRecord {
	return lo.Filter(records, func(r models.BillRecord, _ int) bool {
		return models.SameCustomer(r.CustomerName, customerName)
	})
}
