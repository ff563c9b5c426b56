package reorg

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	internaldb "github.com/chainindexor/erc20indexer/internal/db"
	"github.com/chainindexor/erc20indexer/internal/logger"
	"github.com/chainindexor/erc20indexer/internal/migrations"
	"github.com/chainindexor/erc20indexer/internal/store/sqlite"
	"github.com/chainindexor/erc20indexer/pkg/config"
	"github.com/chainindexor/erc20indexer/pkg/model"
	"github.com/chainindexor/erc20indexer/pkg/rpc"
)

// fakeEthClient serves canned block headers keyed by block number so tests
// can simulate a chain that diverged from what was stored.
type fakeEthClient struct {
	headers map[uint64]*rpc.BlockHeader
}

func newFakeEthClient() *fakeEthClient {
	return &fakeEthClient{headers: make(map[uint64]*rpc.BlockHeader)}
}

func (f *fakeEthClient) setHeader(number uint64, hash string) {
	f.headers[number] = &rpc.BlockHeader{Number: number, Hash: common.HexToHash(hash)}
}

func (f *fakeEthClient) SwitchChain(chainID uint64) error    { return nil }
func (f *fakeEthClient) SwitchToNextProvider() error         { return nil }
func (f *fakeEthClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	return 0, nil
}
func (f *fakeEthClient) GetBlockByNumber(ctx context.Context, number uint64) (*rpc.BlockHeader, error) {
	h, ok := f.headers[number]
	if !ok {
		return nil, nil
	}
	return h, nil
}
func (f *fakeEthClient) GetBlockByHash(ctx context.Context, hash common.Hash) (*rpc.BlockHeader, error) {
	return nil, nil
}
func (f *fakeEthClient) GetLogs(ctx context.Context, query rpc.FilterQuery) ([]rpc.Log, error) {
	return nil, nil
}
func (f *fakeEthClient) Close() {}

var _ rpc.EthClient = (*fakeEthClient)(nil)

func setupTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "detector_test_*.db")
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

func TestCheckForReorgNoOpWhenHashesMatch(t *testing.T) {
	t.Parallel()

	st := setupTestStore(t)
	ctx := context.Background()

	_, err := st.GetOrCreateState(ctx, 1, "0xcontract", 100)
	require.NoError(t, err)
	require.NoError(t, st.UpsertTransfersBatch(ctx, []*model.Transfer{{
		ChainID: 1, TxHash: "0xa", LogIndex: 0, BlockNumber: 100, BlockHash: common.HexToHash("0xaa").Hex(),
		Timestamp: time.Now().UTC(), From: "0xf", To: "0xt",
		Amount: model.NewBigInt(nil), ContractID: 1, ContractAddress: "0xcontract",
	}}))

	fake := newFakeEthClient()
	fake.setHeader(100, "0xaa")

	d := New(fake, st, &internaldb.NoOpMaintenance{}, nil, logger.NewNopLogger())
	defer d.Close()

	result, err := d.CheckForReorg(ctx, 1, "0xcontract", 100, 105)
	require.NoError(t, err)
	require.False(t, result.RolledBack)
}

func TestCheckForReorgNoOpOutsideCheckDepth(t *testing.T) {
	t.Parallel()

	st := setupTestStore(t)
	ctx := context.Background()
	fake := newFakeEthClient()

	d := New(fake, st, &internaldb.NoOpMaintenance{}, nil, logger.NewNopLogger())
	defer d.Close()

	result, err := d.CheckForReorg(ctx, 1, "0xcontract", 100, 200)
	require.NoError(t, err)
	require.False(t, result.RolledBack, "a block far behind head should not even trigger a live fetch")
}

func TestCheckForReorgDetectsAndRollsBackOneBlock(t *testing.T) {
	t.Parallel()

	st := setupTestStore(t)
	ctx := context.Background()

	_, err := st.GetOrCreateState(ctx, 1, "0xcontract", 100)
	require.NoError(t, err)
	require.NoError(t, st.UpsertTransfersBatch(ctx, []*model.Transfer{
		{ChainID: 1, TxHash: "0xa", LogIndex: 0, BlockNumber: 99, BlockHash: common.HexToHash("0xa1").Hex(),
			Timestamp: time.Now().UTC(), From: "0xf", To: "0xt",
			Amount: model.NewBigInt(nil), ContractID: 1, ContractAddress: "0xcontract"},
		{ChainID: 1, TxHash: "0xb", LogIndex: 0, BlockNumber: 100, BlockHash: common.HexToHash("0xb0").Hex(),
			Timestamp: time.Now().UTC(), From: "0xf", To: "0xt",
			Amount: model.NewBigInt(nil), ContractID: 1, ContractAddress: "0xcontract"},
	}))

	fake := newFakeEthClient()
	fake.setHeader(99, "0xa1")  // unchanged ancestor
	fake.setHeader(100, "0xc0") // diverged tip

	d := New(fake, st, &internaldb.NoOpMaintenance{}, nil, logger.NewNopLogger())
	defer d.Close()

	result, err := d.CheckForReorg(ctx, 1, "0xcontract", 100, 105)
	require.NoError(t, err)
	require.True(t, result.RolledBack)
	require.Equal(t, uint64(1), result.Depth)
	require.Equal(t, uint64(99), result.RollbackBlock)
	require.Equal(t, uint64(1), result.TransfersDeleted)

	count, err := st.CountTransfersInRange(ctx, 1, 0, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(1), count, "only the block-99 transfer should survive")

	state, err := st.GetState(ctx, 1, "0xcontract")
	require.NoError(t, err)
	require.Equal(t, uint64(99), state.LastProcessedBlock)

	reorgs, err := st.ListReorgs(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, reorgs, 1)
	require.Equal(t, model.ReorgResolved, reorgs[0].Status)
	require.Equal(t, int64(1), reorgs[0].TransfersAffected)
}

func TestCheckForReorgDedupWithinWindow(t *testing.T) {
	t.Parallel()

	st := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateReorg(ctx, &model.Reorg{
		ChainID: 1, DetectedAtBlock: 100, ReorgDepth: 1,
		OldBlockHash: "0xold100", NewBlockHash: "0xnew100",
		Status: model.ReorgDetected, DetectedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.UpsertTransfersBatch(ctx, []*model.Transfer{{
		ChainID: 1, TxHash: "0xb", LogIndex: 0, BlockNumber: 100, BlockHash: common.HexToHash("0xb0").Hex(),
		Timestamp: time.Now().UTC(), From: "0xf", To: "0xt",
		Amount: model.NewBigInt(nil), ContractID: 1, ContractAddress: "0xcontract",
	}}))

	fake := newFakeEthClient()
	fake.setHeader(99, "0xa1")
	fake.setHeader(100, "0xc0")

	d := New(fake, st, &internaldb.NoOpMaintenance{}, nil, logger.NewNopLogger())
	defer d.Close()

	result, err := d.CheckForReorg(ctx, 1, "0xcontract", 100, 105)
	require.NoError(t, err)
	require.False(t, result.RolledBack, "a reorg already recorded within the dedup window must be skipped")
}

func TestCheckForReorgNoOpWhenStoredHashMissing(t *testing.T) {
	t.Parallel()

	st := setupTestStore(t)
	ctx := context.Background()

	fake := newFakeEthClient()
	fake.setHeader(100, "0xsomething")

	d := New(fake, st, &internaldb.NoOpMaintenance{}, nil, logger.NewNopLogger())
	defer d.Close()

	result, err := d.CheckForReorg(ctx, 1, "0xcontract", 100, 105)
	require.NoError(t, err)
	require.False(t, result.RolledBack)
}
