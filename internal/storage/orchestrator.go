// Package storage routes bill operations to the selected remote backend or,
// when that backend cannot be reached, to the local offline store.
package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	ierr "billbook-backend/internal/errors"
	"billbook-backend/internal/logger"
	"billbook-backend/internal/metrics"
	"billbook-backend/internal/models"
	"billbook-backend/internal/repositories"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateConnected     State = "connected"
	StateOffline       State = "offline"
)

// Status texts shown to the user.
const (
	MessageConnected = "Connected to database"
	MessageOffline   = "Using local storage"
)

// Operation labels for metrics.
const (
	opInitialize      = "initialize"
	opSave            = "save"
	opFetchAll        = "fetch_all"
	opFetchByCustomer = "fetch_by_customer"
	opDelete          = "delete"
	opNext            = "next_sequence"
	opSync            = "sync"
)

// Status is the orchestrator's externally visible state.
type Status struct {
	State   State  `json:"state"`
	Backend string `json:"backend"`
	// Active names the store currently serving requests.
	Active    string    `json:"active"`
	Message   string    `json:"message"`
	LastError string    `json:"lastError,omitempty"`
	Since     time.Time `json:"since"`
}

func (s Status) Connected() bool { return s.State == StateConnected }

type Options struct {
	// InitRetries is the number of extra Initialize attempts after the first.
	InitRetries     uint64
	InitialInterval time.Duration
	// InitTimeout bounds each Initialize attempt; zero means no bound.
	InitTimeout time.Duration
	// OperationTimeout bounds every other backend call; zero means no bound.
	OperationTimeout time.Duration
}

// SyncResult lists the offline bills pushed to the remote backend and those
// left alone because the remote already had that sNo.
type SyncResult struct {
	Pushed  []string `json:"pushed"`
	Skipped []string `json:"skipped"`
}

// Orchestrator owns the connection state. remote may be nil, meaning no
// backend is selected and everything is served offline.
type Orchestrator struct {
	remote  repositories.BillRepository
	offline repositories.BillRepository
	opts    Options
	log     *logger.Logger

	initMu sync.Mutex

	mu        sync.RWMutex
	status    Status
	observers []func(Status)
}

func New(remote, offline repositories.BillRepository, opts Options, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	o := &Orchestrator{
		remote:  remote,
		offline: offline,
		opts:    opts,
		log:     log.Named("storage"),
	}
	o.status = Status{
		State:   StateUninitialized,
		Backend: o.remoteName(),
		Active:  offline.Name(),
		Message: MessageOffline,
		Since:   time.Now(),
	}
	o.publishGauge(StateUninitialized)
	return o
}

// OnStatusChange registers fn to be called after every state transition.
func (o *Orchestrator) OnStatusChange(fn func(Status)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

func (o *Orchestrator) Remote() repositories.BillRepository  { return o.remote }
func (o *Orchestrator) Offline() repositories.BillRepository { return o.offline }

// Initialize tries to reach the remote backend, retrying transient failures
// with exponential backoff. It never fails: the outcome is the new status.
// It can be called again at any time to reconnect.
func (o *Orchestrator) Initialize(ctx context.Context) Status {
	o.initMu.Lock()
	defer o.initMu.Unlock()

	if err := o.offline.Initialize(ctx); err != nil {
		o.log.Warnw("offline store not readable", "error", err)
	}

	if o.remote == nil {
		o.setState(StateOffline, errors.New("no remote backend selected"))
		return o.Status()
	}

	attempt := 0
	operation := func() error {
		attempt++
		actx, cancel := o.withTimeout(ctx, o.opts.InitTimeout)
		defer cancel()

		err := o.remote.Initialize(actx)
		o.record(o.remote.Name(), opInitialize, err)
		if ierr.IsConfiguration(err) || ierr.IsData(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = o.opts.InitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, o.opts.InitRetries), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		o.log.Warnw("backend initialize failed, retrying",
			"backend", o.remote.Name(), "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		if ierr.IsConfiguration(err) {
			o.log.Infow("backend not configured", "backend", o.remote.Name(), "error", err)
		} else {
			o.log.Errorw("backend initialize failed", "backend", o.remote.Name(), "attempts", attempt, "error", err)
		}
		o.setState(StateOffline, err)
		return o.Status()
	}

	o.setState(StateConnected, nil)
	return o.Status()
}

// FetchAll never fails. A remote failure is served from the offline store,
// and if that fails too the result is empty.
func (o *Orchestrator) FetchAll(ctx context.Context) []models.BillRecord {
	return o.read(ctx, opFetchAll, func(ctx context.Context, r repositories.BillRepository) ([]models.BillRecord, error) {
		return r.FetchAll(ctx)
	})
}

// FetchByCustomer has the same fallback behaviour as FetchAll.
func (o *Orchestrator) FetchByCustomer(ctx context.Context, customerName string) []models.BillRecord {
	return o.read(ctx, opFetchByCustomer, func(ctx context.Context, r repositories.BillRepository) ([]models.BillRecord, error) {
		return r.FetchByCustomer(ctx, customerName)
	})
}

// NextSequenceNumber never fails. While connected it is the larger of the
// remote and offline next numbers, so bills written offline are never
// renumbered after a reconnect.
func (o *Orchestrator) NextSequenceNumber(ctx context.Context) string {
	local, err := o.callNext(ctx, o.offline)
	if err != nil {
		o.log.Warnw("offline next number failed", "error", err)
		local = ""
	}

	if o.connected() {
		remote, err := o.callNext(ctx, o.remote)
		if err == nil {
			if local == "" {
				return remote
			}
			return models.MaxSequence(remote, local)
		}
		o.remoteFailed(err, opNext)
		metrics.StorageFallbacksTotal.WithLabelValues(opNext).Inc()
	}

	if local != "" {
		return local
	}
	return models.FirstSequence
}

// SaveRecord validates and stores a record in the active store. Failures are
// returned to the caller; a failed remote write is not redirected offline.
func (o *Orchestrator) SaveRecord(ctx context.Context, record *models.BillRecord) (*models.BillRecord, error) {
	if record == nil {
		return nil, ierr.Validation("bill record is required")
	}
	rec := record.Clone()
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, ierr.ValidationWrap(err, "invalid bill "+rec.SNo)
	}

	repo, connected := o.active()
	cctx, cancel := o.withTimeout(ctx, o.opts.OperationTimeout)
	defer cancel()

	saved, err := repo.SaveRecord(cctx, &rec)
	o.record(repo.Name(), opSave, err)
	if err != nil {
		if connected {
			o.remoteFailed(err, opSave)
		}
		return nil, err
	}
	o.log.Debugw("bill saved", "sNo", saved.SNo, "backend", repo.Name())
	return saved, nil
}

func (o *Orchestrator) DeleteRecord(ctx context.Context, sNo string) error {
	if strings.TrimSpace(sNo) == "" {
		return ierr.Validation("bill number is required")
	}

	repo, connected := o.active()
	cctx, cancel := o.withTimeout(ctx, o.opts.OperationTimeout)
	defer cancel()

	err := repo.DeleteRecord(cctx, sNo)
	o.record(repo.Name(), opDelete, err)
	if err != nil {
		if connected {
			o.remoteFailed(err, opDelete)
		}
		return err
	}
	o.log.Debugw("bill deleted", "sNo", sNo, "backend", repo.Name())
	return nil
}

// SyncOffline copies offline bills the remote backend does not have. Remote
// records are never overwritten.
func (o *Orchestrator) SyncOffline(ctx context.Context) (SyncResult, error) {
	result := SyncResult{Pushed: []string{}, Skipped: []string{}}
	if !o.connected() {
		return result, ierr.Unavailable(errors.New("no remote backend connected"), "sync offline bills")
	}

	local, err := o.offline.FetchAll(ctx)
	o.record(o.offline.Name(), opFetchAll, err)
	if err != nil {
		return result, err
	}
	if len(local) == 0 {
		return result, nil
	}

	cctx, cancel := o.withTimeout(ctx, o.opts.OperationTimeout)
	remoteBills, err := o.remote.FetchAll(cctx)
	cancel()
	o.record(o.remote.Name(), opSync, err)
	if err != nil {
		o.remoteFailed(err, opSync)
		return result, err
	}

	held := lo.SliceToMap(remoteBills, func(r models.BillRecord) (string, struct{}) {
		return r.SNo, struct{}{}
	})
	missing, present := lo.FilterReject(local, func(r models.BillRecord, _ int) bool {
		_, ok := held[r.SNo]
		return !ok
	})
	result.Skipped = lo.Map(present, func(r models.BillRecord, _ int) string { return r.SNo })

	for i := range missing {
		rec := missing[i]
		cctx, cancel := o.withTimeout(ctx, o.opts.OperationTimeout)
		_, err := o.remote.SaveRecord(cctx, &rec)
		cancel()
		o.record(o.remote.Name(), opSync, err)
		if err != nil {
			o.remoteFailed(err, opSync)
			return result, err
		}
		result.Pushed = append(result.Pushed, rec.SNo)
	}

	o.log.Infow("offline bills synced", "pushed", len(result.Pushed), "skipped", len(result.Skipped))
	return result, nil
}

// Close releases both stores.
func (o *Orchestrator) Close() error {
	var err error
	if o.remote != nil {
		err = o.remote.Close()
	}
	return errors.CombineErrors(err, o.offline.Close())
}

func (o *Orchestrator) read(
	ctx context.Context,
	op string,
	fn func(context.Context, repositories.BillRepository) ([]models.BillRecord, error),
) []models.BillRecord {
	if o.connected() {
		cctx, cancel := o.withTimeout(ctx, o.opts.OperationTimeout)
		bills, err := fn(cctx, o.remote)
		cancel()
		o.record(o.remote.Name(), op, err)
		if err == nil {
			return bills
		}
		o.remoteFailed(err, op)
		if o.connected() {
			// The remote answered with something unreadable. Offline data
			// may be stale, so nothing is served.
			return []models.BillRecord{}
		}
		metrics.StorageFallbacksTotal.WithLabelValues(op).Inc()
	}

	bills, err := fn(ctx, o.offline)
	o.record(o.offline.Name(), op, err)
	if err != nil {
		o.log.Warnw("offline read failed", "operation", op, "error", err)
		return []models.BillRecord{}
	}
	return bills
}

func (o *Orchestrator) callNext(ctx context.Context, r repositories.BillRepository) (string, error) {
	cctx, cancel := o.withTimeout(ctx, o.opts.OperationTimeout)
	defer cancel()
	next, err := r.NextSequenceNumber(cctx)
	o.record(r.Name(), opNext, err)
	return next, err
}

// remoteFailed drops to offline when the remote backend stopped answering.
// Data errors leave the state alone.
func (o *Orchestrator) remoteFailed(err error, op string) {
	o.log.Warnw("remote operation failed", "backend", o.remoteName(), "operation", op, "error", err)
	if ierr.IsUnavailable(err) || ierr.IsConfiguration(err) {
		o.setState(StateOffline, err)
	}
}

func (o *Orchestrator) active() (repositories.BillRepository, bool) {
	if o.connected() {
		return o.remote, true
	}
	return o.offline, false
}

func (o *Orchestrator) connected() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status.State == StateConnected
}

func (o *Orchestrator) setState(state State, cause error) {
	o.mu.Lock()
	prev := o.status
	next := prev
	next.State = state
	next.LastError = ""
	if cause != nil {
		next.LastError = cause.Error()
	}
	if state == StateConnected {
		next.Active = o.remote.Name()
		next.Message = MessageConnected
	} else {
		next.Active = o.offline.Name()
		next.Message = MessageOffline
	}
	changed := prev.State != state
	if changed {
		next.Since = time.Now()
	}
	o.status = next
	observers := append(([]func(Status))(nil), o.observers...)
	o.mu.Unlock()

	if !changed {
		return
	}
	o.publishGauge(state)
	o.log.Infow("storage state changed", "from", prev.State, "to", state,
		"backend", next.Backend, "active", next.Active, "reason", next.LastError)
	for _, fn := range observers {
		fn(next)
	}
}

func (o *Orchestrator) publishGauge(state State) {
	for _, s := range []State{StateUninitialized, StateConnected, StateOffline} {
		v := 0.0
		if s == state {
			v = 1
		}
		metrics.StorageState.WithLabelValues(string(s)).Set(v)
	}
}

func (o *Orchestrator) record(backend, op string, err error) {
	result := ierr.Kind(err)
	metrics.StorageOperationsTotal.WithLabelValues(backend, op, result).Inc()
}

func (o *Orchestrator) remoteName() string {
	if o.remote == nil {
		return ""
	}
	return o.remote.Name()
}

func (o *Orchestrator) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
