package sqlite

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	internaldb "github.com/chainindexor/erc20indexer/internal/db"
	"github.com/chainindexor/erc20indexer/internal/errkind"
	"github.com/chainindexor/erc20indexer/internal/logger"
	"github.com/chainindexor/erc20indexer/internal/migrations"
	"github.com/chainindexor/erc20indexer/pkg/config"
	"github.com/chainindexor/erc20indexer/pkg/model"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "store_test_*.db")
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

	return New(sqlDB, logger.NewNopLogger(), dbCfg)
}

func sampleTransfer(chainID uint64, block uint64, logIndex uint, contractID int64) *model.Transfer {
	return &model.Transfer{
		ChainID:         chainID,
		TxHash:          fmt.Sprintf("0xabc%d", block),
		LogIndex:        logIndex,
		BlockNumber:     block,
		BlockHash:       "0xblockhash",
		Timestamp:       time.Now().UTC().Truncate(time.Second),
		From:            "0xfrom",
		To:              "0xto",
		Amount:          model.NewBigInt(big.NewInt(1000)),
		ContractID:      contractID,
		ContractAddress: "0xcontract",
		Confirmations:   0,
		IsConfirmed:     false,
		Status:          1,
	}
}

func TestUpsertTransfersBatchAndCount(t *testing.T) {
	t.Parallel()

	s := setupStore(t)
	ctx := context.Background()

	transfers := []*model.Transfer{
		sampleTransfer(1, 100, 0, 1),
		sampleTransfer(1, 101, 0, 1),
		sampleTransfer(1, 102, 0, 1),
	}
	require.NoError(t, s.UpsertTransfersBatch(ctx, transfers))

	count, err := s.CountTransfersInRange(ctx, 1, 99, 102)
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)

	hash, ok, err := s.GetStoredBlockHash(ctx, 1, 101)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0xblockhash", hash)

	_, ok, err = s.GetStoredBlockHash(ctx, 1, 999)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpsertTransfersBatchIsIdempotent(t *testing.T) {
	t.Parallel()

	s := setupStore(t)
	ctx := context.Background()

	transfer := sampleTransfer(1, 100, 0, 1)
	require.NoError(t, s.UpsertTransfersBatch(ctx, []*model.Transfer{transfer}))

	transfer.Confirmations = 5
	transfer.IsConfirmed = true
	require.NoError(t, s.UpsertTransfersBatch(ctx, []*model.Transfer{transfer}))

	count, err := s.CountTransfersInRange(ctx, 1, 99, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(1), count, "redelivered upsert must not duplicate the row")
}

func TestDeleteTransfersInRange(t *testing.T) {
	t.Parallel()

	s := setupStore(t)
	ctx := context.Background()

	transfers := []*model.Transfer{
		sampleTransfer(1, 100, 0, 1),
		sampleTransfer(1, 105, 0, 1),
		sampleTransfer(1, 110, 0, 1),
	}
	require.NoError(t, s.UpsertTransfersBatch(ctx, transfers))

	deleted, err := s.DeleteTransfersInRange(ctx, 1, 100, 109)
	require.NoError(t, err)
	require.Equal(t, uint64(1), deleted)

	count, err := s.CountTransfersInRange(ctx, 1, 0, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)
}

func TestIndexerStateLifecycle(t *testing.T) {
	t.Parallel()

	s := setupStore(t)
	ctx := context.Background()

	state, err := s.GetOrCreateState(ctx, 1, "0xcontract", 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), state.LastProcessedBlock)
	require.Equal(t, model.StatusStopped, state.Status)

	again, err := s.GetOrCreateState(ctx, 1, "0xcontract", 5000)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), again.LastProcessedBlock, "second call must not overwrite")

	require.NoError(t, s.UpdateStatus(ctx, 1, "0xcontract", model.StatusRunning))
	require.NoError(t, s.UpdateCurrentBlock(ctx, 1, "0xcontract", 2000))
	require.NoError(t, s.UpdateLastProcessedBlock(ctx, 1, "0xcontract", 1500, 10))

	updated, err := s.GetState(ctx, 1, "0xcontract")
	require.NoError(t, err)
	require.Equal(t, model.StatusRunning, updated.Status)
	require.Equal(t, uint64(2000), updated.CurrentBlock)
	require.Equal(t, uint64(1500), updated.LastProcessedBlock)
	require.Equal(t, uint64(1500), updated.HighestProcessedBlock)
	require.Equal(t, int64(10), updated.TransfersIndexed)

	require.NoError(t, s.RecordError(ctx, 1, "0xcontract", "boom"))
	afterError, err := s.GetState(ctx, 1, "0xcontract")
	require.NoError(t, err)
	require.Equal(t, 1, afterError.ErrorCount)
	require.Equal(t, "boom", afterError.LastError)

	reset, err := s.ResetState(ctx, 1, "0xcontract", 1200)
	require.NoError(t, err)
	require.Equal(t, uint64(1200), reset.LastProcessedBlock)
	require.Equal(t, 0, reset.ErrorCount)

	require.NoError(t, s.SetCatchingUp(ctx, 1, "0xcontract", true))
	caughtUp, err := s.GetState(ctx, 1, "0xcontract")
	require.NoError(t, err)
	require.True(t, caughtUp.IsCatchingUp)

	running, err := s.GetAllRunningStates(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)

	all, err := s.ListStates(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestGetStateNotFound(t *testing.T) {
	t.Parallel()

	s := setupStore(t)
	_, err := s.GetState(context.Background(), 99, "0xnope")
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.NotFound))
}

func TestReorgLifecycle(t *testing.T) {
	t.Parallel()

	s := setupStore(t)
	ctx := context.Background()

	r := &model.Reorg{
		ChainID:         1,
		DetectedAtBlock: 500,
		ReorgDepth:      3,
		OldBlockHash:    "0xold",
		NewBlockHash:    "0xnew",
		Status:          model.ReorgDetected,
		DetectedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.CreateReorg(ctx, r))
	require.NotZero(t, r.ID)

	dup, err := s.GetReorgAtBlock(ctx, 1, 500, 24*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, dup)
	require.Equal(t, r.ID, dup.ID)

	require.NoError(t, s.MarkReorgResolved(ctx, r.ID, 7))

	list, err := s.ListReorgs(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, model.ReorgResolved, list[0].Status)
	require.Equal(t, int64(7), list[0].TransfersAffected)
}

func TestGetReorgAtBlockRespectsWindow(t *testing.T) {
	t.Parallel()

	s := setupStore(t)
	ctx := context.Background()

	r := &model.Reorg{
		ChainID:         1,
		DetectedAtBlock: 500,
		ReorgDepth:      1,
		OldBlockHash:    "0xold",
		NewBlockHash:    "0xnew",
		Status:          model.ReorgDetected,
		DetectedAt:      time.Now().UTC().Add(-48 * time.Hour),
	}
	require.NoError(t, s.CreateReorg(ctx, r))

	dup, err := s.GetReorgAtBlock(ctx, 1, 500, 24*time.Hour)
	require.NoError(t, err)
	require.Nil(t, dup, "a reorg outside the dedup window must not be returned")
}

func TestContractUpsertAndLookup(t *testing.T) {
	t.Parallel()

	s := setupStore(t)
	ctx := context.Background()

	c := &model.Contract{
		Address:  "0xcontract",
		Name:     "Test Token",
		Symbol:   "TST",
		Decimals: 18,
		ChainIDs: []uint64{1, 137},
		Active:   true,
	}
	require.NoError(t, s.UpsertContract(ctx, c))

	found, err := s.GetContractByAddressAndChain(ctx, "0xcontract", 137)
	require.NoError(t, err)
	require.Equal(t, "Test Token", found.Name)

	_, err = s.GetContractByAddressAndChain(ctx, "0xcontract", 999)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.NotFound))

	active, err := s.GetAllActiveContracts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	c.Active = false
	require.NoError(t, s.UpsertContract(ctx, c))
	active, err = s.GetAllActiveContracts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 0)
}
