package repositories

import (
	"context"
	"encoding/json"
	"sync"

	"billbook-backend/internal/cache"
	"billbook-backend/internal/config"
	ierr "billbook-backend/internal/errors"
	"billbook-backend/internal/logger"
	"billbook-backend/internal/models"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

// Redis key layout
const (
	RedisBillKeyPrefix = "bill:"
	RedisBillIndexKey  = "all-bills"
)

// RedisBillRepository is the key-value backend. Each bill is a JSON string
// under bill:<sNo>; the set all-bills indexes the stored sNos.
type RedisBillRepository struct {
	cfg config.RedisConfig
	log *logger.Logger

	mu     sync.Mutex
	client redis.UniversalClient
	owned  bool
}

func NewRedisBillRepository(cfg config.RedisConfig, log *logger.Logger) *RedisBillRepository {
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisBillRepository{cfg: cfg, log: log.Named(BackendRedis)}
}

// NewRedisBillRepositoryWithClient uses an existing client, which the
// repository will not close.
func NewRedisBillRepositoryWithClient(client redis.UniversalClient, log *logger.Logger) *RedisBillRepository {
	r := NewRedisBillRepository(config.RedisConfig{}, log)
	r.client = client
	return r
}

func (r *RedisBillRepository) Name() string { return BackendRedis }

func (r *RedisBillRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		if !r.cfg.Configured() {
			return ierr.Configuration(BackendRedis, "no redis address configured")
		}
		client, err := cache.NewClient(ctx, r.cfg)
		if err != nil {
			return ierr.Unavailable(err, "connect redis")
		}
		r.client = client
		r.owned = true
		r.log.Infow("connected", "addr", r.cfg.Addr)
		return nil
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		return ierr.Unavailable(err, "ping redis")
	}
	return nil
}

func (r *RedisBillRepository) SaveRecord(ctx context.Context, record *models.BillRecord) (*models.BillRecord, error) {
	client, err := r.redisClient()
	if err != nil {
		return nil, err
	}

	rec := record.Clone()
	rec.Normalize()
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, ierr.Data(err, "encode bill")
	}

	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisBillKey(rec.SNo), data, 0)
		pipe.SAdd(ctx, RedisBillIndexKey, rec.SNo)
		return nil
	})
	if err != nil {
		return nil, ierr.Unavailable(err, "save bill")
	}
	return &rec, nil
}

// FetchAll reads every indexed bill. Index members whose value has gone are
// skipped. Ordering is done client side.
func (r *RedisBillRepository) FetchAll(ctx context.Context) ([]models.BillRecord, error) {
	client, err := r.redisClient()
	if err != nil {
		return nil, err
	}

	sNos, err := client.SMembers(ctx, RedisBillIndexKey).Result()
	if err != nil {
		return nil, ierr.Unavailable(err, "list bills")
	}
	bills := make([]models.BillRecord, 0, len(sNos))
	if len(sNos) == 0 {
		return bills, nil
	}

	keys := lo.Map(sNos, func(sNo string, _ int) string { return redisBillKey(sNo) })
	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, ierr.Unavailable(err, "read bills")
	}

	for i, v := range values {
		if v == nil {
			continue
		}
		raw, ok := v.(string)
		if !ok {
			return nil, ierr.Data(errors.Newf("unexpected value type %T", v), "read bill "+sNos[i])
		}
		var bill models.BillRecord
		if err := json.Unmarshal([]byte(raw), &bill); err != nil {
			return nil, ierr.Data(err, "decode bill "+sNos[i])
		}
		bills = append(bills, bill)
	}

	models.SortNewestFirst(bills)
	return bills, nil
}

func (r *RedisBillRepository) FetchByCustomer(ctx context.Context, customerName string) ([]models.BillRecord, error) {
	all, err := r.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterByCustomer(all, customerName), nil
}

func (r *RedisBillRepository) DeleteRecord(ctx context.Context, sNo string) error {
	client, err := r.redisClient()
	if err != nil {
		return err
	}

	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisBillKey(sNo))
		pipe.SRem(ctx, RedisBillIndexKey, sNo)
		return nil
	})
	if err != nil {
		return ierr.Unavailable(err, "delete bill")
	}
	return nil
}

// NextSequenceNumber recomputes max+1 from the index on every call, so
// deletes and out-of-band writes can never push it out of step.
func (r *RedisBillRepository) NextSequenceNumber(ctx context.Context) (string, error) {
	client, err := r.redisClient()
	if err != nil {
		return "", err
	}

	sNos, err := client.SMembers(ctx, RedisBillIndexKey).Result()
	if err != nil {
		return "", ierr.Unavailable(err, "next bill number")
	}
	return models.NextSequence(sNos), nil
}

func (r *RedisBillRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil && r.owned {
		err := r.client.Close()
		r.client = nil
		r.owned = false
		return err
	}
	return nil
}

func (r *RedisBillRepository) redisClient() (redis.UniversalClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		if !r.cfg.Configured() {
			return nil, ierr.Configuration(BackendRedis, "no redis address configured")
		}
		return nil, ierr.Unavailable(errors.New("not initialized"), "redis")
	}
	return r.client, nil
}

func redisBillKey(sNo string) string {
	return RedisBillKeyPrefix + sNo
}
