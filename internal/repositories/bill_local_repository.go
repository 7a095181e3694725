package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	ierr "billbook-backend/internal/errors"
	"billbook-backend/internal/models"
)

// OfflineStorageKey is the fixed key of the offline entry. The file on disk
// is <dir>/savedBills.json.
const OfflineStorageKey = "savedBills"

// LocalBillRepository is the durable offline store: one JSON array of bills
// in a single file, rewritten wholesale on every mutation.
type LocalBillRepository struct {
	path string

	mu      sync.Mutex
	loaded  bool
	records []models.BillRecord
}

func NewLocalBillRepository(dir string) *LocalBillRepository {
	return &LocalBillRepository{path: filepath.Join(dir, OfflineStorageKey+".json")}
}

func (r *LocalBillRepository) Name() string { return BackendOffline }

// Path returns the file backing the store.
func (r *LocalBillRepository) Path() string { return r.path }

// Initialize creates the data directory and loads the entry.
func (r *LocalBillRepository) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return ierr.Unavailable(err, "create offline directory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *LocalBillRepository) SaveRecord(ctx context.Context, record *models.BillRecord) (*models.BillRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(); err != nil {
		return nil, err
	}

	stored := record.Clone()
	stored.Normalize()

	next := make([]models.BillRecord, len(r.records), len(r.records)+1)
	copy(next, r.records)
	replaced := false
	for i := range next {
		if next[i].SNo == stored.SNo {
			next[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, stored)
	}

	if err := r.persist(next); err != nil {
		return nil, err
	}
	r.records = next

	echo := stored.Clone()
	return &echo, nil
}

func (r *LocalBillRepository) FetchAll(ctx context.Context) ([]models.BillRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(); err != nil {
		return nil, err
	}
	out := make([]models.BillRecord, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Clone()
	}
	models.SortNewestFirst(out)
	return out, nil
}

func (r *LocalBillRepository) FetchByCustomer(ctx context.Context, customerName string) ([]models.BillRecord, error) {
	all, err := r.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterByCustomer(all, customerName), nil
}

func (r *LocalBillRepository) DeleteRecord(ctx context.Context, sNo string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(); err != nil {
		return err
	}

	next := make([]models.BillRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.SNo != sNo {
			next = append(next, rec)
		}
	}
	if len(next) == len(r.records) {
		return nil
	}

	if err := r.persist(next); err != nil {
		return err
	}
	r.records = next
	return nil
}

func (r *LocalBillRepository) NextSequenceNumber(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(); err != nil {
		return "", err
	}
	sNos := make([]string, len(r.records))
	for i, rec := range r.records {
		sNos[i] = rec.SNo
	}
	return models.NextSequence(sNos), nil
}

func (r *LocalBillRepository) Close() error { return nil }

// load reads the entry once. A missing or empty file is an empty store; an
// unparseable one is a data error and is left untouched on disk.
func (r *LocalBillRepository) load() error {
	if r.loaded {
		return nil
	}

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.records = []models.BillRecord{}
		r.loaded = true
		return nil
	}
	if err != nil {
		return ierr.Unavailable(err, "read offline store")
	}

	records := []models.BillRecord{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			return ierr.Data(err, "decode offline store")
		}
	}
	if records == nil {
		records = []models.BillRecord{}
	}

	r.records = records
	r.loaded = true
	return nil
}

// persist writes records to a temp file and renames it over the entry so a
// crash never leaves a half-written file behind.
func (r *LocalBillRepository) persist(records []models.BillRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return ierr.Data(err, "encode offline store")
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ierr.Unavailable(err, "create offline directory")
	}

	tmp, err := os.CreateTemp(dir, "."+OfflineStorageKey+"-*.tmp")
	if err != nil {
		return ierr.Unavailable(err, "write offline store")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ierr.Unavailable(err, "write offline store")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ierr.Unavailable(err, "sync offline store")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ierr.Unavailable(err, "write offline store")
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return ierr.Unavailable(err, "replace offline store")
	}
	return nil
}
