// Package repotest holds test doubles and a contract suite shared by every
// BillRepository implementation.
package repotest

import (
	"context"

	"billbook-backend/internal/models"
	"billbook-backend/internal/repositories"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

// ContractSuite checks the storage contract against one backend. Embed it or
// run it with suite.Run after setting NewRepository.
type ContractSuite struct {
	suite.Suite

	// NewRepository returns a fresh, empty, uninitialized repository.
	NewRepository func() repositories.BillRepository
	// Reopen, when set, returns a second repository over the same storage as
	// the last one built, to check durability across restarts.
	Reopen func() repositories.BillRepository

	ctx  context.Context
	repo repositories.BillRepository
}

func (s *ContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = s.NewRepository()
	s.Require().NoError(s.repo.Initialize(s.ctx))
}

func (s *ContractSuite) TearDownTest() {
	if s.repo != nil {
		s.NoError(s.repo.Close())
	}
}

func (s *ContractSuite) save(rec models.BillRecord) *models.BillRecord {
	saved, err := s.repo.SaveRecord(s.ctx, &rec)
	s.Require().NoError(err)
	return saved
}

func (s *ContractSuite) sNos(records []models.BillRecord) []string {
	return lo.Map(records, func(r models.BillRecord, _ int) string { return r.SNo })
}

func (s *ContractSuite) TestEmptyStore() {
	all, err := s.repo.FetchAll(s.ctx)
	s.Require().NoError(err)
	s.Empty(all)

	next, err := s.repo.NextSequenceNumber(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.FirstSequence, next)
}

func (s *ContractSuite) TestInitializeIsIdempotent() {
	s.save(Bill("0001", "2024-05-01", "Asha"))
	s.Require().NoError(s.repo.Initialize(s.ctx))

	all, err := s.repo.FetchAll(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *ContractSuite) TestSaveEchoesRecord() {
	rec := Bill("0001", "2024-05-01", "Asha")
	saved := s.save(rec)

	s.Equal(rec.SNo, saved.SNo)
	s.Equal(rec.Date, saved.Date)
	s.Equal(rec.CustomerName, saved.CustomerName)
	s.Equal(rec.Items, saved.Items)
	s.Equal(rec.OldBalance, saved.OldBalance)
}

func (s *ContractSuite) TestSaveUpsertsBySNo() {
	first := Bill("0001", "2024-05-01", "Asha")
	s.save(first)

	second := first.Clone()
	second.CustomerName = "Asha Devi"
	second.PaidAmount = 40
	second.Items = append(second.Items, models.BillItem{ID: "i-3", Name: "Rice", Quantity: 1, Rate: 60})
	s.save(second)

	all, err := s.repo.FetchAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal("Asha Devi", all[0].CustomerName)
	s.Equal(40.0, all[0].PaidAmount)
	s.Len(all[0].Items, 3)
}

func (s *ContractSuite) TestFetchAllNewestFirst() {
	s.save(Bill("0001", "2024-01-10", "Asha"))
	s.save(Bill("0002", "2024-03-01", "Babu"))
	s.save(Bill("0003", "2024-03-01", "Chitra"))
	s.save(Bill("0004", "2024-02-15", "Asha"))

	all, err := s.repo.FetchAll(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"0003", "0002", "0004", "0001"}, s.sNos(all))
}

func (s *ContractSuite) TestNumbersKeepFullPrecision() {
	rec := Bill("0001", "2024-05-01", "Asha")
	rec.Items = []models.BillItem{{ID: "i-1", Name: "Ghee", Quantity: 0.25, Rate: 612.35}}
	rec.Basket = 3
	rec.Luggage = 12.75
	rec.OldBalance = 1234.56
	rec.PaidAmount = 99.99
	s.save(rec)

	all, err := s.repo.FetchAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	got := all[0]
	s.Equal(0.25, got.Items[0].Quantity)
	s.Equal(612.35, got.Items[0].Rate)
	s.Equal(3.0, got.Basket)
	s.Equal(12.75, got.Luggage)
	s.Equal(1234.56, got.OldBalance)
	s.Equal(99.99, got.PaidAmount)
	s.True(rec.Totals().BalanceDue.Equal(got.Totals().BalanceDue))
}

func (s *ContractSuite) TestItemsRoundTripInOrder() {
	rec := Bill("0001", "2024-05-01", "Asha")
	rec.Items = []models.BillItem{
		{ID: "z", Name: "Tomato", Quantity: 2, Rate: 30},
		{ID: "a", Name: "Onion", Quantity: 5, Rate: 25},
		{ID: "m"},
	}
	s.save(rec)

	all, err := s.repo.FetchAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal(rec.Items, all[0].Items)
}

func (s *ContractSuite) TestEmptyItemsStayEmpty() {
	rec := Bill("0001", "2024-05-01", "Asha")
	rec.Items = nil
	s.save(rec)

	all, err := s.repo.FetchAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.NotNil(all[0].Items)
	s.Empty(all[0].Items)
}

func (s *ContractSuite) TestFetchByCustomerIgnoresCaseOnly() {
	s.save(Bill("0001", "2024-01-01", "Ravi Kumar"))
	s.save(Bill("0002", "2024-02-01", "ravi kumar"))
	s.save(Bill("0003", "2024-03-01", "Ravi"))
	s.save(Bill("0004", "2024-04-01", "Ravi Kumar Jr"))

	got, err := s.repo.FetchByCustomer(s.ctx, "RAVI KUMAR")
	s.Require().NoError(err)
	s.Equal([]string{"0002", "0001"}, s.sNos(got))
}

func (s *ContractSuite) TestFetchByCustomerTreatsWildcardsLiterally() {
	s.save(Bill("0001", "2024-01-01", "Ravi"))

	got, err := s.repo.FetchByCustomer(s.ctx, "R%")
	s.Require().NoError(err)
	s.Empty(got)
}

func (s *ContractSuite) TestFetchByUnknownCustomerIsEmpty() {
	s.save(Bill("0001", "2024-01-01", "Ravi"))

	got, err := s.repo.FetchByCustomer(s.ctx, "Meena")
	s.Require().NoError(err)
	s.Empty(got)
}

func (s *ContractSuite) TestDeleteRemovesRecord() {
	s.save(Bill("0001", "2024-01-01", "Asha"))
	s.save(Bill("0002", "2024-01-02", "Babu"))

	s.Require().NoError(s.repo.DeleteRecord(s.ctx, "0001"))

	all, err := s.repo.FetchAll(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"0002"}, s.sNos(all))
}

func (s *ContractSuite) TestDeleteUnknownSucceeds() {
	s.NoError(s.repo.DeleteRecord(s.ctx, "9999"))
	s.NoError(s.repo.DeleteRecord(s.ctx, "9999"))
}

func (s *ContractSuite) TestNextSequenceIsMaxPlusOne() {
	s.save(Bill("0001", "2024-01-01", "Asha"))
	s.save(Bill("0007", "2024-01-02", "Babu"))
	s.save(Bill("0003", "2024-01-03", "Chitra"))

	next, err := s.repo.NextSequenceNumber(s.ctx)
	s.Require().NoError(err)
	s.Equal("0008", next)

	s.Require().NoError(s.repo.DeleteRecord(s.ctx, "0007"))
	next, err = s.repo.NextSequenceNumber(s.ctx)
	s.Require().NoError(err)
	s.Equal("0004", next)
}

func (s *ContractSuite) TestNextSequenceSkipsNonNumeric() {
	s.save(Bill("A12", "2024-01-01", "Asha"))
	s.save(Bill("0002", "2024-01-02", "Babu"))

	next, err := s.repo.NextSequenceNumber(s.ctx)
	s.Require().NoError(err)
	s.Equal("0003", next)
}

func (s *ContractSuite) TestNextSequenceGrowsPastWidth() {
	s.save(Bill("9999", "2024-01-01", "Asha"))

	next, err := s.repo.NextSequenceNumber(s.ctx)
	s.Require().NoError(err)
	s.Equal("10000", next)
}

func (s *ContractSuite) TestSurvivesReopen() {
	if s.Reopen == nil {
		s.T().Skip("backend has no reopen hook")
	}
	s.save(Bill("0001", "2024-01-01", "Asha"))
	s.save(Bill("0002", "2024-01-02", "Babu"))
	s.Require().NoError(s.repo.Close())

	s.repo = s.Reopen()
	s.Require().NoError(s.repo.Initialize(s.ctx))

	all, err := s.repo.FetchAll(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"0002", "0001"}, s.sNos(all))
}

// Bill builds a valid record with two items.
func Bill(sNo, date, customer string) models.BillRecord {
	return models.BillRecord{
		SNo:          sNo,
		Date:         date,
		CustomerName: customer,
		Items: []models.BillItem{
			{ID: sNo + "-1", Name: "Sugar", Quantity: 2, Rate: 45},
			{ID: sNo + "-2", Name: "Dal", Quantity: 1.5, Rate: 110},
		},
		Luggage:    10,
		OldBalance: 0,
		PaidAmount: 100,
	}
}
