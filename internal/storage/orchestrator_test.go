package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"billbook-backend/internal/config"
	ierr "billbook-backend/internal/errors"
	"billbook-backend/internal/models"
	"billbook-backend/internal/repositories"
	"billbook-backend/internal/repositories/repotest"
	"billbook-backend/internal/storage"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var errDown = ierr.Unavailable(errors.New("connection refused"), "test")

type OrchestratorSuite struct {
	suite.Suite
	ctx     context.Context
	remote  *repotest.MemoryBillRepository
	offline *repotest.MemoryBillRepository
	orch    *storage.Orchestrator
}

func TestOrchestrator(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = context.Background()
	s.remote = repotest.NewMemoryBillRepository("remote")
	s.offline = repotest.NewMemoryBillRepository("offline")
	s.orch = s.newOrchestrator(2)
}

func (s *OrchestratorSuite) newOrchestrator(retries uint64) *storage.Orchestrator {
	return storage.New(s.remote, s.offline, storage.Options{
		InitRetries:     retries,
		InitialInterval: time.Millisecond,
	}, nil)
}

func (s *OrchestratorSuite) connect() {
	st := s.orch.Initialize(s.ctx)
	s.Require().Equal(storage.StateConnected, st.State)
}

func (s *OrchestratorSuite) TestStartsUninitializedOnOfflineStore() {
	st := s.orch.Status()
	s.Equal(storage.StateUninitialized, st.State)
	s.Equal("remote", st.Backend)
	s.Equal(storage.MessageOffline, st.Message)

	rec := repotest.Bill("0001", "2024-05-01", "Asha")
	_, err := s.orch.SaveRecord(s.ctx, &rec)
	s.Require().NoError(err)
	s.Equal(1, s.offline.Len())
	s.Equal(0, s.remote.Len())
}

func (s *OrchestratorSuite) TestInitializeConnects() {
	st := s.orch.Initialize(s.ctx)

	s.Equal(storage.StateConnected, st.State)
	s.Equal("remote", st.Active)
	s.Equal(storage.MessageConnected, st.Message)
	s.Empty(st.LastError)
	s.True(st.Connected())
	s.Equal(1, s.offline.Calls(repotest.OpInitialize))
}

func (s *OrchestratorSuite) TestNoRemoteMeansOffline() {
	orch := storage.New(nil, s.offline, storage.Options{}, nil)
	st := orch.Initialize(s.ctx)

	s.Equal(storage.StateOffline, st.State)
	s.Equal("offline", st.Active)
	s.Empty(st.Backend)

	rec := repotest.Bill("0001", "2024-05-01", "Asha")
	_, err := orch.SaveRecord(s.ctx, &rec)
	s.Require().NoError(err)
	s.Equal(1, s.offline.Len())
	s.Equal("0002", orch.NextSequenceNumber(s.ctx))
}

func (s *OrchestratorSuite) TestConfigurationErrorIsNotRetried() {
	s.remote.FailOn(repotest.OpInitialize, ierr.Configuration("remote", "missing credentials"))

	st := s.orch.Initialize(s.ctx)

	s.Equal(storage.StateOffline, st.State)
	s.Equal(1, s.remote.Calls(repotest.OpInitialize))
	s.Contains(st.LastError, "missing credentials")
}

func (s *OrchestratorSuite) TestUnavailableIsRetriedThenOffline() {
	s.remote.FailOn(repotest.OpInitialize, errDown)

	st := s.orch.Initialize(s.ctx)

	s.Equal(storage.StateOffline, st.State)
	s.Equal(3, s.remote.Calls(repotest.OpInitialize))
}

func (s *OrchestratorSuite) TestTransientInitializeFailureRecovers() {
	s.remote.FailOn(repotest.OpInitialize, errDown)
	calls := 0
	s.remote.OnCall(repotest.OpInitialize, func(context.Context) {
		calls++
		if calls == 2 {
			s.remote.FailOn(repotest.OpInitialize, nil)
		}
	})

	st := s.orch.Initialize(s.ctx)

	s.Equal(storage.StateConnected, st.State)
	s.Equal(2, s.remote.Calls(repotest.OpInitialize))
}

func (s *OrchestratorSuite) TestConnectedRoutesToRemote() {
	s.connect()

	rec := repotest.Bill("0001", "2024-05-01", "Asha")
	saved, err := s.orch.SaveRecord(s.ctx, &rec)
	s.Require().NoError(err)
	s.Equal("0001", saved.SNo)
	s.Equal(1, s.remote.Len())
	s.Equal(0, s.offline.Len())

	s.Len(s.orch.FetchAll(s.ctx), 1)
	s.Require().NoError(s.orch.DeleteRecord(s.ctx, "0001"))
	s.Equal(0, s.remote.Len())
}

func (s *OrchestratorSuite) TestZeroRemoteResultsAreReturnedAsIs() {
	s.offline.Seed(repotest.Bill("0005", "2024-01-01", "Asha"))
	s.connect()

	s.Empty(s.orch.FetchAll(s.ctx))
	s.Equal(0, s.offline.Calls(repotest.OpFetchAll))
}

func (s *OrchestratorSuite) TestReadFallsBackWhenRemoteUnavailable() {
	s.offline.Seed(repotest.Bill("0005", "2024-01-01", "Asha"))
	s.connect()
	s.remote.FailOn(repotest.OpFetchAll, errDown)

	bills := s.orch.FetchAll(s.ctx)

	s.Require().Len(bills, 1)
	s.Equal("0005", bills[0].SNo)
	s.Equal(storage.StateOffline, s.orch.Status().State)
}

func (s *OrchestratorSuite) TestDataErrorReadsEmptyAndStaysConnected() {
	s.offline.Seed(repotest.Bill("0005", "2024-01-01", "Asha"))
	s.connect()
	s.remote.FailOn(repotest.OpFetchByCustomer, ierr.Data(errors.New("bad json"), "test"))
	s.remote.FailOn(repotest.OpFetchAll, ierr.Data(errors.New("bad json"), "test"))

	byCustomer := s.orch.FetchByCustomer(s.ctx, "asha")
	all := s.orch.FetchAll(s.ctx)

	s.NotNil(byCustomer)
	s.Empty(byCustomer)
	s.NotNil(all)
	s.Empty(all)
	s.Equal(0, s.offline.Calls(repotest.OpFetchByCustomer))
	s.Equal(0, s.offline.Calls(repotest.OpFetchAll))
	s.Equal(storage.StateConnected, s.orch.Status().State)
}

func (s *OrchestratorSuite) TestReadWithBothStoresFailingIsEmpty() {
	s.connect()
	s.remote.FailOn(repotest.OpFetchAll, errDown)
	s.offline.FailOn(repotest.OpFetchAll, ierr.Data(errors.New("corrupt"), "test"))

	bills := s.orch.FetchAll(s.ctx)

	s.NotNil(bills)
	s.Empty(bills)
}

func (s *OrchestratorSuite) TestNextSequenceTakesLargerOfRemoteAndOffline() {
	s.remote.Seed(repotest.Bill("0003", "2024-01-01", "Asha"))
	s.offline.Seed(repotest.Bill("0010", "2024-01-01", "Asha"))
	s.connect()

	s.Equal("0011", s.orch.NextSequenceNumber(s.ctx))

	s.remote.Seed(repotest.Bill("0020", "2024-01-02", "Babu"))
	s.Equal("0021", s.orch.NextSequenceNumber(s.ctx))
}

func (s *OrchestratorSuite) TestNextSequenceFallsBack() {
	s.offline.Seed(repotest.Bill("0004", "2024-01-01", "Asha"))
	s.connect()
	s.remote.FailOn(repotest.OpNext, errDown)

	s.Equal("0005", s.orch.NextSequenceNumber(s.ctx))

	s.offline.FailOn(repotest.OpNext, errDown)
	s.Equal("0001", s.orch.NextSequenceNumber(s.ctx))
}

func (s *OrchestratorSuite) TestFailedRemoteSaveIsNotRedirected() {
	s.connect()
	s.remote.FailOn(repotest.OpSave, errDown)

	rec := repotest.Bill("0001", "2024-05-01", "Asha")
	_, err := s.orch.SaveRecord(s.ctx, &rec)

	s.Require().Error(err)
	s.True(ierr.IsUnavailable(err))
	s.Equal(0, s.offline.Len())
	s.Equal(storage.StateOffline, s.orch.Status().State)

	// subsequent writes go to the offline store
	_, err = s.orch.SaveRecord(s.ctx, &rec)
	s.Require().NoError(err)
	s.Equal(1, s.offline.Len())
}

func (s *OrchestratorSuite) TestDataErrorOnSaveKeepsConnection() {
	s.connect()
	s.remote.FailOn(repotest.OpSave, ierr.Data(errors.New("numeric overflow"), "test"))

	rec := repotest.Bill("0001", "2024-05-01", "Asha")
	_, err := s.orch.SaveRecord(s.ctx, &rec)

	s.True(ierr.IsData(err))
	s.Equal(storage.StateConnected, s.orch.Status().State)
}

func (s *OrchestratorSuite) TestSaveRejectsInvalidRecord() {
	s.connect()

	rec := repotest.Bill("", "2024-05-01", "Asha")
	_, err := s.orch.SaveRecord(s.ctx, &rec)
	s.True(ierr.IsValidation(err))

	rec = repotest.Bill("0001", "01/05/2024", "Asha")
	_, err = s.orch.SaveRecord(s.ctx, &rec)
	s.True(ierr.IsValidation(err))

	_, err = s.orch.SaveRecord(s.ctx, nil)
	s.True(ierr.IsValidation(err))

	s.Equal(0, s.remote.Calls(repotest.OpSave))
}

func (s *OrchestratorSuite) TestDeleteRequiresSNo() {
	err := s.orch.DeleteRecord(s.ctx, "  ")
	s.True(ierr.IsValidation(err))
}

func (s *OrchestratorSuite) TestReconnectAfterOutage() {
	s.connect()
	s.remote.FailOn(repotest.OpFetchAll, errDown)
	s.orch.FetchAll(s.ctx)
	s.Require().Equal(storage.StateOffline, s.orch.Status().State)

	s.remote.FailOn(repotest.OpFetchAll, nil)
	st := s.orch.Initialize(s.ctx)
	s.Equal(storage.StateConnected, st.State)
}

func (s *OrchestratorSuite) TestSyncOfflinePushesMissingOnly() {
	remoteCopy := repotest.Bill("0002", "2024-01-02", "Remote Babu")
	s.remote.Seed(remoteCopy)
	s.offline.Seed(
		repotest.Bill("0001", "2024-01-01", "Asha"),
		repotest.Bill("0002", "2024-01-02", "Offline Babu"),
	)
	s.connect()

	res, err := s.orch.SyncOffline(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"0001"}, res.Pushed)
	s.Equal([]string{"0002"}, res.Skipped)

	got, ok := s.remote.Get("0002")
	s.Require().True(ok)
	s.Equal("Remote Babu", got.CustomerName)
	_, ok = s.remote.Get("0001")
	s.True(ok)
}

func (s *OrchestratorSuite) TestSyncOfflineRequiresConnection() {
	_, err := s.orch.SyncOffline(s.ctx)
	s.True(ierr.IsUnavailable(err))
}

func (s *OrchestratorSuite) TestCloseClosesBothStores() {
	s.Require().NoError(s.orch.Close())
	s.True(s.remote.Closed())
	s.True(s.offline.Closed())
}

func TestOrchestratorNotifiesOnTransitions(t *testing.T) {
	remote := repotest.NewMemoryBillRepository("remote")
	offline := repotest.NewMemoryBillRepository("offline")
	orch := storage.New(remote, offline, storage.Options{InitialInterval: time.Millisecond}, nil)

	var (
		mu   sync.Mutex
		seen []storage.Status
	)
	orch.OnStatusChange(func(st storage.Status) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st)
	})

	orch.Initialize(context.Background())
	orch.Initialize(context.Background())
	remote.FailOn(repotest.OpFetchAll, errDown)
	orch.FetchAll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, storage.StateConnected, seen[0].State)
	assert.Equal(t, storage.MessageConnected, seen[0].Message)
	assert.Equal(t, storage.StateOffline, seen[1].State)
	assert.Equal(t, storage.MessageOffline, seen[1].Message)
	assert.Contains(t, seen[1].LastError, "connection refused")
}

func TestOfflineFallbackSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	open := func() *storage.Orchestrator {
		remote := repositories.NewPostgresBillRepository(config.DatabaseConfig{}, nil)
		return storage.New(remote, repositories.NewLocalBillRepository(dir), storage.Options{
			InitRetries:     2,
			InitialInterval: time.Millisecond,
		}, nil)
	}

	first := open()
	st := first.Initialize(ctx)
	require.Equal(t, storage.StateOffline, st.State)
	assert.Equal(t, repositories.BackendPostgres, st.Backend)

	for _, rec := range []models.BillRecord{
		repotest.Bill("0001", "2024-05-01", "Asha"),
		repotest.Bill("0002", "2024-05-02", "Ravi"),
	} {
		rec := rec
		_, err := first.SaveRecord(ctx, &rec)
		require.NoError(t, err)
	}
	changed := repotest.Bill("0001", "2024-05-01", "Asha Traders")
	_, err := first.SaveRecord(ctx, &changed)
	require.NoError(t, err)
	assert.Equal(t, "0003", first.NextSequenceNumber(ctx))
	require.NoError(t, first.Close())

	second := open()
	defer second.Close()
	require.Equal(t, storage.StateOffline, second.Initialize(ctx).State)

	all := second.FetchAll(ctx)
	require.Len(t, all, 2)
	assert.Equal(t, "0002", all[0].SNo)
	assert.Equal(t, "0001", all[1].SNo)
	assert.Equal(t, "Asha Traders", all[1].CustomerName)
	assert.Equal(t, "0003", second.NextSequenceNumber(ctx))
}
