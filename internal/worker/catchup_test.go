package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainindexor/erc20indexer/internal/logger"
	pkgqueue "github.com/chainindexor/erc20indexer/pkg/queue"
)

func catchupJob(payload pkgqueue.CatchupJob) pkgqueue.Job {
	raw, _ := json.Marshal(payload)
	return pkgqueue.Job{Queue: pkgqueue.Catchup, Payload: raw}
}

func TestCatchupWorkerFansOutChunksAndClearsFlag(t *testing.T) {
	t.Parallel()

	st := setupWorkerStore(t)
	ctx := context.Background()

	_, err := st.GetOrCreateState(ctx, 1, "0xcontract", 0)
	require.NoError(t, err)
	require.NoError(t, st.SetCatchingUp(ctx, 1, "0xcontract", true))

	q := &fakeQueue{}
	w := NewCatchup(st, q, logger.NewNopLogger())

	err = w.Handle(ctx, catchupJob(pkgqueue.CatchupJob{
		ChainID: 1, ContractAddress: "0xcontract",
		FromBlock: 100, ToBlock: 125, ChunkSize: 10,
	}))
	require.NoError(t, err)

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.added, 3)
	require.Equal(t, uint64(101), q.added[0].FromBlock)
	require.Equal(t, uint64(110), q.added[0].ToBlock)
	require.Equal(t, uint64(111), q.added[1].FromBlock)
	require.Equal(t, uint64(120), q.added[1].ToBlock)
	require.Equal(t, uint64(121), q.added[2].FromBlock)
	require.Equal(t, uint64(125), q.added[2].ToBlock)

	state, err := st.GetState(ctx, 1, "0xcontract")
	require.NoError(t, err)
	require.False(t, state.IsCatchingUp)
}

func TestCatchupWorkerRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	st := setupWorkerStore(t)
	q := &fakeQueue{}
	w := NewCatchup(st, q, logger.NewNopLogger())

	err := w.Handle(context.Background(), pkgqueue.Job{Queue: pkgqueue.Catchup, Payload: []byte("not json")})
	require.Error(t, err)
}
