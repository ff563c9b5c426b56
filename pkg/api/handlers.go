package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chainindexor/erc20indexer/internal/coordinator"
	"github.com/chainindexor/erc20indexer/internal/errkind"
	"github.com/chainindexor/erc20indexer/internal/logger"
	pkgqueue "github.com/chainindexor/erc20indexer/pkg/queue"
	"github.com/chainindexor/erc20indexer/pkg/store"
)

// Handler implements the §6.1 control-plane HTTP surface: start/stop/
// reset/catch-up commands plus read-only status/reorgs/queue-metrics.
type Handler struct {
	coord           *coordinator.Coordinator
	store           store.Ports
	queue           pkgqueue.Ports
	catchUpWindow   time.Duration
	log             *logger.Logger
	recentCatchUpMu sync.Mutex
	recentCatchUp   map[string]time.Time
}

// NewHandler constructs a Handler.
func NewHandler(coord *coordinator.Coordinator, storePorts store.Ports, queuePorts pkgqueue.Ports, catchUpWindow time.Duration, log *logger.Logger) *Handler {
	return &Handler{
		coord:         coord,
		store:         storePorts,
		queue:         queuePorts,
		catchUpWindow: catchUpWindow,
		log:           log,
		recentCatchUp: make(map[string]time.Time),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start implements POST /indexer/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ContractAddress == "" {
		writeError(w, http.StatusBadRequest, "validation", "contractAddress is required")
		return
	}

	state, err := h.coord.StartIndexer(r.Context(), req.ChainID, req.ContractAddress, req.StartBlock)
	if !h.writeErrIfAny(w, err) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "indexer started",
		"status":  newIndexerStateView(state),
	})
}

// Stop implements POST /indexer/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.coord.StopIndexer(r.Context(), req.ChainID, req.ContractAddress); !h.writeErrIfAny(w, err) {
		return
	}

	state, err := h.store.GetState(r.Context(), req.ChainID, req.ContractAddress)
	if !h.writeErrIfAny(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "indexer stopped",
		"status":  newIndexerStateView(state),
	})
}

// Reset implements POST /indexer/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	state, err := h.coord.ResetIndexer(r.Context(), req.ChainID, req.ContractAddress, req.BlockNumber)
	if !h.writeErrIfAny(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "indexer reset",
		"status":  newIndexerStateView(state),
	})
}

// CatchUp implements POST /indexer/catch-up, including the §7
// RepeatedRequest idempotency window.
func (h *Handler) CatchUp(w http.ResponseWriter, r *http.Request) {
	var req CatchUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key := fmt.Sprintf("%d:%s:%d:%d", req.ChainID, req.ContractAddress, req.FromBlock, req.ToBlock)
	now := time.Now()

	h.recentCatchUpMu.Lock()
	last, seen := h.recentCatchUp[key]
	if seen && now.Sub(last) < h.catchUpWindow {
		h.recentCatchUpMu.Unlock()
		writeError(w, errkind.RepeatedRequest.HTTPStatus(), errkind.RepeatedRequest.String(),
			"identical catch-up request submitted within the idempotency window")
		return
	}
	h.recentCatchUp[key] = now
	h.recentCatchUpMu.Unlock()

	if err := h.coord.TriggerCatchUp(r.Context(), req.ChainID, req.ContractAddress, req.FromBlock, req.ToBlock); !h.writeErrIfAny(w, err) {
		return
	}

	state, err := h.store.GetState(r.Context(), req.ChainID, req.ContractAddress)
	if !h.writeErrIfAny(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"details": fmt.Sprintf("catch-up queued for blocks %d-%d", req.FromBlock, req.ToBlock),
		"status":  newIndexerStateView(state),
	})
}

// Status implements GET /indexer/status?chainId&contractAddress?.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chainIDStr := q.Get("chainId")
	contractAddress := q.Get("contractAddress")

	if chainIDStr == "" {
		writeError(w, http.StatusBadRequest, "validation", "chainId is required")
		return
	}
	chainID, err := strconv.ParseUint(chainIDStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "chainId must be a non-negative integer")
		return
	}

	if contractAddress != "" {
		state, err := h.store.GetState(r.Context(), chainID, contractAddress)
		if !h.writeErrIfAny(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, newIndexerStateView(state))
		return
	}

	states, err := h.store.ListStates(r.Context(), &chainID)
	if !h.writeErrIfAny(w, err) {
		return
	}
	views := make([]IndexerStateView, 0, len(states))
	for _, s := range states {
		views = append(views, newIndexerStateView(s))
	}
	writeJSON(w, http.StatusOK, views)
}

// Reorgs implements GET /indexer/reorgs?chainId?&limit?.
func (h *Handler) Reorgs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var chainIDPtr *uint64
	if s := q.Get("chainId"); s != "" {
		chainID, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "chainId must be a non-negative integer")
			return
		}
		chainIDPtr = &chainID
	}

	limit := 50
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "validation", "limit must be a positive integer")
			return
		}
		limit = n
	}

	reorgs, err := h.store.ListReorgs(r.Context(), chainIDPtr, limit)
	if !h.writeErrIfAny(w, err) {
		return
	}
	views := make([]ReorgView, 0, len(reorgs))
	for _, rg := range reorgs {
		views = append(views, newReorgView(rg))
	}
	writeJSON(w, http.StatusOK, views)
}

// QueueMetrics implements GET /indexer/queue-metrics.
func (h *Handler) QueueMetrics(w http.ResponseWriter, r *http.Request) {
	view := QueueMetricsView{}

	for _, entry := range []struct {
		name pkgqueue.Name
		dest *QueueMetricsEntry
	}{
		{pkgqueue.BlockRanges, &view.BlockRanges},
		{pkgqueue.Catchup, &view.Catchup},
		{pkgqueue.Reorg, &view.Reorg},
	} {
		m, err := h.queue.Metrics(r.Context(), entry.name)
		if !h.writeErrIfAny(w, err) {
			return
		}
		*entry.dest = QueueMetricsEntry{
			Waiting: m.Waiting, Active: m.Active, Completed: m.Completed,
			Failed: m.Failed, Delayed: m.Delayed, Total: m.Total(),
		}
	}

	writeJSON(w, http.StatusOK, view)
}

// writeErrIfAny writes the appropriate error response (classified via
// errkind) if err is non-nil, returning false so callers can early-return
// in one line. Returns true when there was no error.
func (h *Handler) writeErrIfAny(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	kind := errkind.KindOf(err)
	h.log.Warnf("control-plane request failed: %v", err)
	writeError(w, kind.HTTPStatus(), kind.String(), err.Error())
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body: "+err.Error())
		return false
	}
	return true
}
