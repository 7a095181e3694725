package services

import (
	"context"
	"strings"
	"sync"
	"time"

	ierr "billbook-backend/internal/errors"
	"billbook-backend/internal/logger"
	"billbook-backend/internal/metrics"
	"billbook-backend/internal/models"
	"billbook-backend/internal/storage"
	"billbook-backend/internal/timeutil"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// BillStore is the storage surface the billing service works against.
// *storage.Orchestrator implements it.
type BillStore interface {
	Initialize(ctx context.Context) storage.Status
	Status() storage.Status
	FetchAll(ctx context.Context) []models.BillRecord
	FetchByCustomer(ctx context.Context, customerName string) []models.BillRecord
	NextSequenceNumber(ctx context.Context) string
	SaveRecord(ctx context.Context, record *models.BillRecord) (*models.BillRecord, error)
	DeleteRecord(ctx context.Context, sNo string) error
	SyncOffline(ctx context.Context) (storage.SyncResult, error)
}

// EventPublisher receives change notifications for connected clients.
type EventPublisher interface {
	Publish(eventType string, data interface{})
}

// Event types published by the billing service.
const (
	EventBillsChanged = "bills_changed"
	EventDraftChanged = "draft_changed"
)

// BillsChanged is the payload of EventBillsChanged.
type BillsChanged struct {
	Action string `json:"action"`
	SNo    string `json:"sNo,omitempty"`
	Count  int    `json:"count"`
}

// DraftView is the draft together with its derived totals.
type DraftView struct {
	Bill   models.BillRecord `json:"bill"`
	Totals models.Totals     `json:"totals"`
}

// DraftPatch updates the header fields of the draft. Nil fields are left
// alone. The customer name has its own call because it drives auto-fill.
type DraftPatch struct {
	SNo        *string  `json:"sNo,omitempty"`
	Date       *string  `json:"date,omitempty"`
	Basket     *float64 `json:"basket,omitempty"`
	Luggage    *float64 `json:"luggage,omitempty"`
	OldBalance *float64 `json:"oldBalance,omitempty"`
	PaidAmount *float64 `json:"paidAmount,omitempty"`
}

type ItemPatch struct {
	Name     *string  `json:"name,omitempty"`
	Quantity *float64 `json:"quantity,omitempty"`
	Rate     *float64 `json:"rate,omitempty"`
}

// CustomerUpdate reports what SetCustomerName did.
type CustomerUpdate struct {
	Draft DraftView `json:"draft"`
	// AutoFilled is true when oldBalance was taken from an earlier bill.
	AutoFilled bool   `json:"autoFilled"`
	FromSNo    string `json:"fromSNo,omitempty"`
}

type BillingOption func(*BillingService)

func WithClock(clock timeutil.Clock) BillingOption {
	return func(s *BillingService) { s.clock = clock }
}

func WithIDGenerator(fn func() string) BillingOption {
	return func(s *BillingService) { s.newID = fn }
}

// BillingService owns the single in-memory draft and the last fetched bill
// list. State changes happen under mu; storage calls are made without it.
type BillingService struct {
	store     BillStore
	publisher EventPublisher
	clock     timeutil.Clock
	newID     func() string
	log       *logger.Logger

	mu    sync.Mutex
	draft models.BillRecord
	bills []models.BillRecord

	// Revisions used to discard stale auto-fill results. draftRev changes
	// when the draft is replaced, nameRev on every customer name change and
	// balanceRev on every explicit oldBalance edit.
	draftRev   uint64
	nameRev    uint64
	balanceRev uint64
}

func NewBillingService(store BillStore, publisher EventPublisher, log *logger.Logger, opts ...BillingOption) *BillingService {
	if log == nil {
		log = logger.NewNop()
	}
	s := &BillingService{
		store:     store,
		publisher: publisher,
		clock:     time.Now,
		newID:     uuid.NewString,
		log:       log.Named("billing"),
		bills:     []models.BillRecord{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.draft = s.blankDraft(models.FirstSequence)
	return s
}

// Start connects storage, loads the bill list and opens a fresh draft.
func (s *BillingService) Start(ctx context.Context) storage.Status {
	status := s.store.Initialize(ctx)
	s.refresh(ctx)
	s.NewBill(ctx)
	s.log.Infow("billing ready", "state", status.State, "active", status.Active)
	return status
}

// NewBill replaces the draft with an empty bill numbered after the highest
// stored sNo.
func (s *BillingService) NewBill(ctx context.Context) DraftView {
	next := s.store.NextSequenceNumber(ctx)

	s.mu.Lock()
	s.draft = s.blankDraft(next)
	s.draftRev++
	view := s.viewLocked()
	s.mu.Unlock()

	s.publish(EventDraftChanged, view)
	return view
}

func (s *BillingService) Draft() DraftView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *BillingService) UpdateDraft(patch DraftPatch) (DraftView, error) {
	if patch.SNo != nil && strings.TrimSpace(*patch.SNo) == "" {
		return DraftView{}, ierr.Validation("bill number cannot be empty")
	}
	if patch.Date != nil {
		if _, err := time.Parse(models.DateLayout, *patch.Date); err != nil {
			return DraftView{}, ierr.ValidationWrap(err, "date must be YYYY-MM-DD")
		}
	}

	s.mu.Lock()
	if patch.SNo != nil {
		s.draft.SNo = strings.TrimSpace(*patch.SNo)
	}
	if patch.Date != nil {
		s.draft.Date = *patch.Date
	}
	if patch.Basket != nil {
		s.draft.Basket = *patch.Basket
	}
	if patch.Luggage != nil {
		s.draft.Luggage = *patch.Luggage
	}
	if patch.OldBalance != nil {
		s.draft.OldBalance = *patch.OldBalance
		s.balanceRev++
	}
	if patch.PaidAmount != nil {
		s.draft.PaidAmount = *patch.PaidAmount
	}
	view := s.viewLocked()
	s.mu.Unlock()

	return view, nil
}

// SetCustomerName changes the customer and, when oldBalance is still zero,
// pre-fills it with the balance due of that customer's latest bill. The
// lookup result is dropped if the name, oldBalance or the draft itself
// changed while it was in flight.
func (s *BillingService) SetCustomerName(ctx context.Context, name string) (CustomerUpdate, error) {
	if len(name) > 255 {
		return CustomerUpdate{}, ierr.Validation("customer name is longer than 255 characters")
	}

	s.mu.Lock()
	s.draft.CustomerName = name
	s.nameRev++
	nameRev, balanceRev, draftRev := s.nameRev, s.balanceRev, s.draftRev
	ownSNo := s.draft.SNo
	lookup := s.draft.OldBalance == 0 && strings.TrimSpace(name) != ""
	s.mu.Unlock()

	update := CustomerUpdate{}
	if lookup {
		history := s.store.FetchByCustomer(ctx, name)
		if latest, ok := latestBill(history, ownSNo); ok {
			due := latest.Totals().BalanceDue

			s.mu.Lock()
			if s.nameRev == nameRev && s.balanceRev == balanceRev &&
				s.draftRev == draftRev && s.draft.OldBalance == 0 {
				s.draft.OldBalance = due.InexactFloat64()
				update.AutoFilled = true
				update.FromSNo = latest.SNo
			}
			s.mu.Unlock()

			if !update.AutoFilled {
				s.log.Debugw("discarded stale customer lookup", "customer", name)
			}
		}
	}

	update.Draft = s.Draft()
	return update, nil
}

func (s *BillingService) AddItem() (models.BillItem, DraftView) {
	item := models.BillItem{ID: s.newID()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Items = append(s.draft.Items, item)
	return item, s.viewLocked()
}

func (s *BillingService) UpdateItem(id string, patch ItemPatch) (DraftView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, idx, ok := lo.FindIndexOf(s.draft.Items, func(it models.BillItem) bool { return it.ID == id })
	if !ok {
		return DraftView{}, ierr.NotFound("item %s not found", id)
	}
	item := &s.draft.Items[idx]
	if patch.Name != nil {
		item.Name = *patch.Name
	}
	if patch.Quantity != nil {
		item.Quantity = *patch.Quantity
	}
	if patch.Rate != nil {
		item.Rate = *patch.Rate
	}
	return s.viewLocked(), nil
}

func (s *BillingService) RemoveItem(id string) (DraftView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := lo.Reject(s.draft.Items, func(it models.BillItem, _ int) bool { return it.ID == id })
	if len(kept) == len(s.draft.Items) {
		return DraftView{}, ierr.NotFound("item %s not found", id)
	}
	s.draft.Items = kept
	return s.viewLocked(), nil
}

// SaveDraft persists the draft and then refreshes the bill list. The draft
// stays open for further edits.
func (s *BillingService) SaveDraft(ctx context.Context) (*models.BillRecord, error) {
	s.mu.Lock()
	rec := s.draft.Clone()
	s.mu.Unlock()

	saved, err := s.store.SaveRecord(ctx, &rec)
	if err != nil {
		s.log.Errorw("save bill failed", "sNo", rec.SNo, "error", err)
		return nil, err
	}
	metrics.BillsSavedTotal.Inc()

	bills := s.refresh(ctx)
	s.publish(EventBillsChanged, BillsChanged{Action: "saved", SNo: saved.SNo, Count: len(bills)})
	s.log.Infow("bill saved", "sNo", saved.SNo, "customer", saved.CustomerName)
	return saved, nil
}

// LoadBill replaces the draft with a stored bill.
func (s *BillingService) LoadBill(ctx context.Context, sNo string) (DraftView, error) {
	bills := s.refresh(ctx)
	bill, ok := lo.Find(bills, func(b models.BillRecord) bool { return b.SNo == sNo })
	if !ok {
		return DraftView{}, ierr.NotFound("bill %s not found", sNo)
	}

	s.mu.Lock()
	s.draft = bill.Clone()
	s.draft.Normalize()
	s.draftRev++
	view := s.viewLocked()
	s.mu.Unlock()

	s.publish(EventDraftChanged, view)
	return view, nil
}

func (s *BillingService) DeleteBill(ctx context.Context, sNo string) error {
	if err := s.store.DeleteRecord(ctx, sNo); err != nil {
		s.log.Errorw("delete bill failed", "sNo", sNo, "error", err)
		return err
	}
	bills := s.refresh(ctx)
	s.publish(EventBillsChanged, BillsChanged{Action: "deleted", SNo: sNo, Count: len(bills)})
	return nil
}

// Bills refreshes and returns every stored bill, newest first.
func (s *BillingService) Bills(ctx context.Context) []models.BillRecord {
	return s.refresh(ctx)
}

func (s *BillingService) BillsByCustomer(ctx context.Context, name string) []models.BillRecord {
	return s.store.FetchByCustomer(ctx, name)
}

// CachedBills returns the list from the last refresh without touching storage.
func (s *BillingService) CachedBills() []models.BillRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBills(s.bills)
}

func (s *BillingService) NextNumber(ctx context.Context) string {
	return s.store.NextSequenceNumber(ctx)
}

func (s *BillingService) Status() storage.Status {
	return s.store.Status()
}

// Reconnect retries the remote backend and reloads the list from whichever
// store is active afterwards.
func (s *BillingService) Reconnect(ctx context.Context) storage.Status {
	status := s.store.Initialize(ctx)
	bills := s.refresh(ctx)
	s.publish(EventBillsChanged, BillsChanged{Action: "reloaded", Count: len(bills)})
	return status
}

func (s *BillingService) SyncOffline(ctx context.Context) (storage.SyncResult, error) {
	res, err := s.store.SyncOffline(ctx)
	if err != nil {
		return res, err
	}
	if len(res.Pushed) > 0 {
		bills := s.refresh(ctx)
		s.publish(EventBillsChanged, BillsChanged{Action: "synced", Count: len(bills)})
	}
	return res, nil
}

func (s *BillingService) refresh(ctx context.Context) []models.BillRecord {
	bills := s.store.FetchAll(ctx)

	s.mu.Lock()
	s.bills = cloneBills(bills)
	s.mu.Unlock()
	return bills
}

func (s *BillingService) blankDraft(sNo string) models.BillRecord {
	return models.NewBillRecord(sNo, timeutil.DateOf(s.clock()), s.newID())
}

func (s *BillingService) viewLocked() DraftView {
	bill := s.draft.Clone()
	return DraftView{Bill: bill, Totals: bill.Totals()}
}

func (s *BillingService) publish(eventType string, data interface{}) {
	if s.publisher != nil {
		s.publisher.Publish(eventType, data)
	}
}

// latestBill picks the bill with the latest date, skipping exclude. Among
// bills sharing that date the first one in the given order wins.
func latestBill(bills []models.BillRecord, exclude string) (models.BillRecord, bool) {
	candidates := lo.Reject(bills, func(b models.BillRecord, _ int) bool { return b.SNo == exclude })
	if len(candidates) == 0 {
		return models.BillRecord{}, false
	}
	models.SortByDateDesc(candidates)
	return candidates[0], true
}

func cloneBills(bills []models.BillRecord) []models.BillRecord {
	return lo.Map(bills, func(b models.BillRecord, _ int) models.BillRecord { return b.Clone() })
}
