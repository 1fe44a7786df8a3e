// Package server implements the oracle's Status Surface: a read-only
// JSON HTTP API over the oracle's in-memory state. No endpoint mutates
// anything — every state-changing interaction with the escrow contracts
// is chain-driven (spec.md §6).
package server

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/crosschain-oracle/pkg/health"
	"github.com/certen/crosschain-oracle/pkg/metrics"
	"github.com/certen/crosschain-oracle/pkg/oracle"
)

// ChainView is the subset of a running chain's components the server
// reads from; one exists per Chain.
type ChainView struct {
	Name    string
	State   *oracle.ChainState
	Monitor *health.Monitor
	Reader  oracle.ChainReader
	Gateway *oracle.Gateway
	Chain   oracle.Chain
}

// Server serves the Status Surface.
type Server struct {
	startedAt time.Time
	views     map[oracle.Chain]*ChainView
	pairs     *oracle.PairTable
	metrics   *metrics.Metrics
	logBuffer   *LogBuffer
	logsEnabled bool
}

// New constructs a Server.
func New(views map[oracle.Chain]*ChainView, pairs *oracle.PairTable, m *metrics.Metrics, logBuffer *LogBuffer, logsEnabled bool) *Server {
	return &Server{
		startedAt:   time.Now(),
		views:       views,
		pairs:       pairs,
		metrics:     m,
		logBuffer:   logBuffer,
		logsEnabled: logsEnabled,
	}
}

// Mux builds the HTTP handler tree.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/trade/", s.handleTrade)
	mux.HandleFunc("/payment/", s.handlePayment)
	if s.logsEnabled {
		mux.HandleFunc("/logs", s.handleLogs)
	}
	if s.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// healthResponse is GET /health's body.
type healthResponse struct {
	Status string          `json:"status"`
	Uptime float64         `json:"uptime_seconds"`
	Chains []health.Report `json:"chains"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := "ok"
	reports := make([]health.Report, 0, len(s.views))
	for _, v := range s.views {
		v.Monitor.Check()
		rep := v.Monitor.Snapshot()
		reports = append(reports, rep)
		if rep.Status != "healthy" {
			overall = "degraded"
		}
	}

	statusCode := http.StatusOK
	if overall != "ok" {
		for _, rep := range reports {
			if rep.Status == "unreachable" {
				statusCode = http.StatusServiceUnavailable
			}
		}
	}

	writeJSON(w, statusCode, healthResponse{
		Status: overall,
		Uptime: time.Since(s.startedAt).Seconds(),
		Chains: reports,
	})
}

type chainStatus struct {
	LastProcessedBlock uint64   `json:"last_processed_block"`
	CurrentBlock       uint64   `json:"current_block,omitempty"`
	ActiveTradeIDs     []string `json:"active_trade_ids"`
	PendingEventsCount int      `json:"pending_events_count"`
}

type statusResponse struct {
	Chains             map[string]chainStatus `json:"chains"`
	CrossChainMappings []string                `json:"cross_chain_mappings"`
	LogFile            string                  `json:"log_file,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Chains: make(map[string]chainStatus)}
	for _, v := range s.views {
		cs := chainStatus{
			LastProcessedBlock: v.State.LastProcessedBlock(),
			ActiveTradeIDs:     v.State.ActiveTradeIDs(),
			PendingEventsCount: v.State.PendingEventCount(),
		}
		if v.Reader != nil {
			if current, err := v.Reader.BlockNumber(r.Context()); err == nil {
				cs.CurrentBlock = current
			}
		}
		resp.Chains[v.Name] = cs
	}
	resp.CrossChainMappings = s.pairs.Snapshot()
	if s.logBuffer != nil {
		resp.LogFile = s.logBuffer.Path()
	}
	writeJSON(w, http.StatusOK, resp)
}

type statsResponse struct {
	Chains        map[string]chainStats `json:"chains"`
	MemoryAllocMB float64               `json:"memory_alloc_mb"`
	Goroutines    int                   `json:"goroutines"`
	UptimeSeconds float64               `json:"uptime_seconds"`
}

type chainStats struct {
	ActiveTradeCount int `json:"active_trade_count"`
	PendingEvents    int `json:"pending_events"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := statsResponse{
		Chains:        make(map[string]chainStats),
		MemoryAllocMB: float64(mem.Alloc) / (1024 * 1024),
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
	for _, v := range s.views {
		resp.Chains[v.Name] = chainStats{
			ActiveTradeCount: len(v.State.ActiveTradeIDs()),
			PendingEvents:    v.State.PendingEventCount(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseTradeID(path, prefix string) (string, bool) {
	id := strings.TrimPrefix(path, prefix)
	id = strings.Trim(id, "/")
	if id == "" {
		return "", false
	}
	return id, true
}

type tradeResponse struct {
	TradeID                        string               `json:"trade_id"`
	Asset                          *oracle.OnChainTrade `json:"asset,omitempty"`
	Payment                        *oracle.OnChainTrade `json:"payment,omitempty"`
	Paired                         bool                 `json:"paired"`
	SecondsUntilConfirmationDeadline *int64             `json:"seconds_until_confirmation_deadline,omitempty"`
	SecondsUntilExecutionDeadline    *int64             `json:"seconds_until_execution_deadline,omitempty"`
}

// deadlineSeconds reports the signed number of seconds remaining until
// trade's confirmation- or execution-phase deadline (negative once
// elapsed), for operator convenience — observability only, computed
// locally rather than stored on-chain (spec.md §12 supplement).
func deadlineSeconds(trade oracle.OnChainTrade) (confirmation, execution *int64) {
	now := time.Now().Unix()
	if trade.InceptionTime > 0 {
		v := int64(trade.InceptionTime) + int64(trade.Duration) - now
		confirmation = &v
	}
	if trade.ConfirmationTime > 0 {
		v := int64(trade.ConfirmationTime) + int64(trade.Duration) - now
		execution = &v
	}
	return confirmation, execution
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	idStr, ok := parseTradeID(r.URL.Path, "/trade/")
	if !ok {
		writeError(w, http.StatusBadRequest, "missing trade id")
		return
	}
	s.handleTradeOrPayment(w, r, idStr, oracle.Asset)
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	idStr, ok := parseTradeID(r.URL.Path, "/payment/")
	if !ok {
		writeError(w, http.StatusBadRequest, "missing payment id")
		return
	}
	s.handleTradeOrPayment(w, r, idStr, oracle.Payment)
}

func (s *Server) handleTradeOrPayment(w http.ResponseWriter, r *http.Request, idStr string, primary oracle.Chain) {
	tradeID, ok := new(big.Int).SetString(idStr, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid trade id")
		return
	}

	resp := tradeResponse{TradeID: idStr}
	primaryView := s.views[primary]
	onChain, err := primaryView.Gateway.GetOnChainTrade(r.Context(), primary, tradeID)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("failed to read %s leg: %v", primary, err))
		return
	}

	paired := s.pairs.IsPaired(tradeID)
	resp.Paired = paired
	if primary == oracle.Asset {
		resp.Asset = &onChain
	} else {
		resp.Payment = &onChain
	}
	resp.SecondsUntilConfirmationDeadline, resp.SecondsUntilExecutionDeadline = deadlineSeconds(onChain)

	if paired {
		other := primary.Other()
		otherView := s.views[other]
		if otherOnChain, err := otherView.Gateway.GetOnChainTrade(r.Context(), other, tradeID); err == nil {
			if other == oracle.Asset {
				resp.Asset = &otherOnChain
			} else {
				resp.Payment = &otherOnChain
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	lines := s.logBuffer.Tail(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"lines": lines})
}
