package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/chainindexor/erc20indexer/internal/chunkgov"
	"github.com/chainindexor/erc20indexer/internal/coordinator"
	internaldb "github.com/chainindexor/erc20indexer/internal/db"
	"github.com/chainindexor/erc20indexer/internal/errorgov"
	"github.com/chainindexor/erc20indexer/internal/logger"
	"github.com/chainindexor/erc20indexer/internal/migrations"
	"github.com/chainindexor/erc20indexer/internal/reorg"
	"github.com/chainindexor/erc20indexer/internal/store/sqlite"
	"github.com/chainindexor/erc20indexer/pkg/config"
	pkgqueue "github.com/chainindexor/erc20indexer/pkg/queue"
	pkgrpc "github.com/chainindexor/erc20indexer/pkg/rpc"
)

type fakeEthClient struct{ head uint64 }

func (f *fakeEthClient) SwitchChain(chainID uint64) error                  { return nil }
func (f *fakeEthClient) SwitchToNextProvider() error                      { return nil }
func (f *fakeEthClient) GetBlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }
func (f *fakeEthClient) GetBlockByNumber(ctx context.Context, number uint64) (*pkgrpc.BlockHeader, error) {
	return nil, nil
}
func (f *fakeEthClient) GetBlockByHash(ctx context.Context, hash common.Hash) (*pkgrpc.BlockHeader, error) {
	return nil, nil
}
func (f *fakeEthClient) GetLogs(ctx context.Context, query pkgrpc.FilterQuery) ([]pkgrpc.Log, error) {
	return nil, nil
}
func (f *fakeEthClient) Close() {}

var _ pkgrpc.EthClient = (*fakeEthClient)(nil)

type fakeQueue struct{}

func (q *fakeQueue) Add(ctx context.Context, queueName pkgqueue.Name, payload interface{}, opts pkgqueue.AddOptions) error {
	return nil
}
func (q *fakeQueue) Pause(ctx context.Context, queueName pkgqueue.Name) error  { return nil }
func (q *fakeQueue) Resume(ctx context.Context, queueName pkgqueue.Name) error { return nil }
func (q *fakeQueue) Metrics(ctx context.Context, queueName pkgqueue.Name) (pkgqueue.Metrics, error) {
	return pkgqueue.Metrics{Waiting: 1, Active: 2}, nil
}
func (q *fakeQueue) Consume(ctx context.Context, queueName pkgqueue.Name, workerCount int, handler pkgqueue.Handler) error {
	return nil
}
func (q *fakeQueue) Close() error { return nil }

var _ pkgqueue.Ports = (*fakeQueue)(nil)

func setupAPIStore(t *testing.T) *sqlite.Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "api_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	dbPath := tmpFile.Name()
	t.Cleanup(func() { os.Remove(dbPath) })

	require.NoError(t, migrations.RunMigrations(dbPath))

	dbCfg := config.DatabaseConfig{Path: dbPath}
	dbCfg.ApplyDefaults()

	sqlDB, err := internaldb.NewSQLiteDBFromConfig(dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return sqlite.New(sqlDB, logger.NewNopLogger(), dbCfg)
}

func newTestHandler(t *testing.T) (*Handler, *sqlite.Store) {
	st := setupAPIStore(t)
	q := &fakeQueue{}
	rpcClient := &fakeEthClient{head: 1000}

	var engCfg config.EngineConfig
	engCfg.ApplyDefaults()
	var qCfg config.QueueConfig
	qCfg.ApplyDefaults()

	gov := chunkgov.New(10, 1, 500)
	errGov := errorgov.New(nil)
	detector := reorg.New(rpcClient, st, &internaldb.NoOpMaintenance{}, q, logger.NewNopLogger())
	coord := coordinator.New(rpcClient, st, q, gov, errGov, detector, engCfg, qCfg, logger.NewNopLogger())

	return NewHandler(coord, st, q, engCfg.CatchUpRepeatWindow, logger.NewNopLogger()), st
}

func TestStartHandlerCreatesRunningState(t *testing.T) {
	t.Parallel()

	h, st := newTestHandler(t)

	body, _ := json.Marshal(StartRequest{ChainID: 1, ContractAddress: "0xcontract"})
	req := httptest.NewRequest(http.MethodPost, "/indexer/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Start(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	state, err := st.GetState(context.Background(), 1, "0xcontract")
	require.NoError(t, err)
	require.Equal(t, "running", string(state.Status))
}

func TestStartHandlerRejectsMissingContract(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)

	body, _ := json.Marshal(StartRequest{ChainID: 1})
	req := httptest.NewRequest(http.MethodPost, "/indexer/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Start(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatchUpRejectsOversizedRange(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)

	body, _ := json.Marshal(CatchUpRequest{ChainID: 1, ContractAddress: "0xcontract", FromBlock: 0, ToBlock: 3000})
	req := httptest.NewRequest(http.MethodPost, "/indexer/catch-up", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CatchUp(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatchUpRejectsRepeatWithinWindow(t *testing.T) {
	t.Parallel()

	h, st := newTestHandler(t)
	h.catchUpWindow = time.Hour

	_, err := st.GetOrCreateState(context.Background(), 1, "0xcontract", 0)
	require.NoError(t, err)

	body, _ := json.Marshal(CatchUpRequest{ChainID: 1, ContractAddress: "0xcontract", FromBlock: 100, ToBlock: 200})

	req1 := httptest.NewRequest(http.MethodPost, "/indexer/catch-up", bytes.NewReader(body))
	rec1 := httptest.NewRecorder()
	h.CatchUp(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/indexer/catch-up", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	h.CatchUp(rec2, req2)
	require.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestQueueMetricsReportsTotals(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/indexer/queue-metrics", nil)
	rec := httptest.NewRecorder()
	h.QueueMetrics(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var view QueueMetricsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, int64(3), view.BlockRanges.Total)
}

func TestStatusRequiresChainID(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/indexer/status", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
