package common

const (
	ComponentCoordinator      = "coordinator"
	ComponentBlockRangeWorker = "block-range-worker"
	ComponentCatchupWorker    = "catchup-worker"
	ComponentReorgWorker      = "reorg-worker"
	ComponentReorgDetector    = "reorg-detector"
	ComponentRPC              = "rpc"
	ComponentQueue            = "queue"
	ComponentStore            = "store"
	ComponentErrorGovernor    = "error-governor"
	ComponentChunkGovernor    = "chunk-governor"
	ComponentAPI              = "api"
	ComponentMaintenance      = "maintenance"
)

var AllComponents = map[string]struct{}{
	ComponentCoordinator:      {},
	ComponentBlockRangeWorker: {},
	ComponentCatchupWorker:    {},
	ComponentReorgWorker:      {},
	ComponentReorgDetector:    {},
	ComponentRPC:              {},
	ComponentQueue:            {},
	ComponentStore:            {},
	ComponentErrorGovernor:    {},
	ComponentChunkGovernor:    {},
	ComponentAPI:              {},
	ComponentMaintenance:      {},
}
