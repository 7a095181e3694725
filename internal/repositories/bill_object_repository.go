package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"billbook-backend/internal/config"
	ierr "billbook-backend/internal/errors"
	"billbook-backend/internal/logger"
	"billbook-backend/internal/models"
	"billbook-backend/internal/objectstore"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cockroachdb/errors"
)

// ObjectAPI is the part of *s3.Client the document backend uses.
type ObjectAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

const objectSuffix = ".json"

// ObjectBillRepository is the document-store backend: every bill is one
// JSON document at <prefix><sNo>.json in an S3-compatible bucket.
type ObjectBillRepository struct {
	cfg config.ObjectStoreConfig
	log *logger.Logger

	mu  sync.Mutex
	api ObjectAPI
}

func NewObjectBillRepository(cfg config.ObjectStoreConfig, log *logger.Logger) *ObjectBillRepository {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "bills/"
	}
	return &ObjectBillRepository{cfg: cfg, log: log.Named(BackendObjectStore)}
}

// NewObjectBillRepositoryWithAPI uses an existing client against bucket.
func NewObjectBillRepositoryWithAPI(api ObjectAPI, bucket, prefix string, log *logger.Logger) *ObjectBillRepository {
	r := NewObjectBillRepository(config.ObjectStoreConfig{Bucket: bucket, Prefix: prefix}, log)
	r.api = api
	return r
}

func (r *ObjectBillRepository) Name() string { return BackendObjectStore }

func (r *ObjectBillRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.api == nil {
		if !r.cfg.Configured() {
			return ierr.Configuration(BackendObjectStore, "no bucket credentials configured")
		}
		client, err := objectstore.NewClient(ctx, r.cfg)
		if err != nil {
			return ierr.Unavailable(err, "configure object store")
		}
		r.api = client
	}

	if _, err := r.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(r.cfg.Bucket)}); err != nil {
		return ierr.Unavailable(err, "open bucket "+r.cfg.Bucket)
	}
	r.log.Infow("bucket ready", "bucket", r.cfg.Bucket, "prefix", r.cfg.Prefix)
	return nil
}

func (r *ObjectBillRepository) SaveRecord(ctx context.Context, record *models.BillRecord) (*models.BillRecord, error) {
	api, err := r.objectAPI()
	if err != nil {
		return nil, err
	}

	rec := record.Clone()
	rec.Normalize()
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, ierr.Data(err, "encode bill")
	}

	_, err = api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.cfg.Bucket),
		Key:         aws.String(r.objectKey(rec.SNo)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, ierr.Unavailable(err, "save bill")
	}
	return &rec, nil
}

func (r *ObjectBillRepository) FetchAll(ctx context.Context) ([]models.BillRecord, error) {
	api, err := r.objectAPI()
	if err != nil {
		return nil, err
	}

	keys, err := r.listKeys(ctx, api)
	if err != nil {
		return nil, err
	}

	bills := make([]models.BillRecord, 0, len(keys))
	for _, key := range keys {
		bill, found, err := r.readBill(ctx, api, key)
		if err != nil {
			return nil, err
		}
		if found {
			bills = append(bills, bill)
		}
	}

	models.SortNewestFirst(bills)
	return bills, nil
}

func (r *ObjectBillRepository) FetchByCustomer(ctx context.Context, customerName string) ([]models.BillRecord, error) {
	all, err := r.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterByCustomer(all, customerName), nil
}

func (r *ObjectBillRepository) DeleteRecord(ctx context.Context, sNo string) error {
	api, err := r.objectAPI()
	if err != nil {
		return err
	}

	_, err = api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(r.objectKey(sNo)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil
		}
		return ierr.Unavailable(err, "delete bill")
	}
	return nil
}

// NextSequenceNumber works from key names alone; no document is read.
func (r *ObjectBillRepository) NextSequenceNumber(ctx context.Context) (string, error) {
	api, err := r.objectAPI()
	if err != nil {
		return "", err
	}

	keys, err := r.listKeys(ctx, api)
	if err != nil {
		return "", err
	}
	sNos := make([]string, 0, len(keys))
	for _, key := range keys {
		sNos = append(sNos, r.sNoFromKey(key))
	}
	return models.NextSequence(sNos), nil
}

func (r *ObjectBillRepository) Close() error { return nil }

func (r *ObjectBillRepository) objectAPI() (ObjectAPI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.api == nil {
		if !r.cfg.Configured() {
			return nil, ierr.Configuration(BackendObjectStore, "no bucket credentials configured")
		}
		return nil, ierr.Unavailable(errors.New("not initialized"), "objectstore")
	}
	return r.api, nil
}

func (r *ObjectBillRepository) objectKey(sNo string) string {
	return r.cfg.Prefix + sNo + objectSuffix
}

func (r *ObjectBillRepository) sNoFromKey(key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, r.cfg.Prefix), objectSuffix)
}

// listKeys pages through the prefix and returns the bill document keys.
func (r *ObjectBillRepository) listKeys(ctx context.Context, api ObjectAPI) ([]string, error) {
	var (
		keys  []string
		token *string
	)
	for {
		out, err := api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(r.cfg.Bucket),
			Prefix:            aws.String(r.cfg.Prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, ierr.Unavailable(err, "list bills")
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, objectSuffix) {
				keys = append(keys, key)
			}
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

// readBill fetches one document. found is false when the key disappeared
// between listing and reading.
func (r *ObjectBillRepository) readBill(ctx context.Context, api ObjectAPI, key string) (models.BillRecord, bool, error) {
	out, err := api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return models.BillRecord{}, false, nil
		}
		return models.BillRecord{}, false, ierr.Unavailable(err, "read bill "+key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return models.BillRecord{}, false, ierr.Unavailable(err, "read bill "+key)
	}

	var bill models.BillRecord
	if err := json.Unmarshal(data, &bill); err != nil {
		return models.BillRecord{}, false, ierr.Data(err, "decode bill "+key)
	}
	return bill, true, nil
}
