// Package chunkgov implements the Adaptive Chunk Governor (C2): the
// per-chain block-range size that the Coordinator hands to Block-Range
// Workers, shrunk on MaxResultsExceeded and grown back as the chain stays
// healthy.
package chunkgov

import (
	"fmt"
	"sync"

	"github.com/chainindexor/erc20indexer/internal/metrics"
)

// Governor tracks one adaptive chunk-size ceiling per chain. Safe for
// concurrent use; the Coordinator reads Optimal for every catch-up decision
// while Block-Range Workers call Reduce/Increase as jobs complete or fail.
type Governor struct {
	mu          sync.Mutex
	maxPerChain map[uint64]uint64
	floor       uint64
	ceiling     uint64
}

// New creates a Governor whose per-chain value starts at ceiling and is
// never allowed to fall below floor or exceed ceiling. initial is not used.
func New(initial, floor, ceiling uint64) *Governor {
	return &Governor{
		maxPerChain: make(map[uint64]uint64),
		floor:       floor,
		ceiling:     ceiling,
	}
}

func (g *Governor) get(chainID uint64, initial uint64) uint64 {
	if v, ok := g.maxPerChain[chainID]; ok {
		return v
	}
	g.maxPerChain[chainID] = initial
	return initial
}

// Optimal returns the block-range size to request for the given lag,
// tiered per §4.2: lag<=1 -> 1, <=5 -> 2, <=20 -> 5, <=100 -> 10, <=500 -> 20,
// otherwise the chain's current adaptive ceiling (maxPerChain).
func (g *Governor) Optimal(chainID uint64, lag uint64) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case lag <= 1:
		return 1
	case lag <= 5:
		return 2
	case lag <= 20:
		return 5
	case lag <= 100:
		return 10
	case lag <= 500:
		return 20
	default:
		return g.get(chainID, g.ceiling)
	}
}

// Reduce halves the chain's ceiling on MaxResultsExceeded, never going
// below floor.
func (g *Governor) Reduce(chainID uint64) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	current := g.get(chainID, g.ceiling)
	reduced := current / 2
	if reduced < g.floor {
		reduced = g.floor
	}
	g.maxPerChain[chainID] = reduced
	metrics.ChunkMaxPerChain.WithLabelValues(fmt.Sprintf("%d", chainID)).Set(float64(reduced))
	return reduced
}

// Increase grows the chain's ceiling by a quarter (minimum 10) after a run
// of successful jobs, never exceeding ceiling.
func (g *Governor) Increase(chainID uint64) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	current := g.get(chainID, g.ceiling)
	step := current / 4
	if step < 10 {
		step = 10
	}
	increased := current + step
	if increased > g.ceiling {
		increased = g.ceiling
	}
	g.maxPerChain[chainID] = increased
	metrics.ChunkMaxPerChain.WithLabelValues(fmt.Sprintf("%d", chainID)).Set(float64(increased))
	return increased
}

// Reset restores the chain's ceiling to the configured ceiling, used after
// a provider switch clears whatever pressure caused prior reductions.
func (g *Governor) Reset(chainID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.maxPerChain[chainID] = g.ceiling
}

// Current returns the chain's present ceiling without mutating it.
func (g *Governor) Current(chainID uint64) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.get(chainID, g.ceiling)
}
