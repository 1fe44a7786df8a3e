package oracle

import (
	"context"
	"log"
	"math/big"
)

// Recorder is the optional audit trail hook (pkg/auditlog). Every method
// is best-effort: a Recorder failure is logged and swallowed, never
// propagated, per SPEC_FULL.md §11 ("strictly additive ... never block the
// state machine").
type Recorder interface {
	RecordCallback(chain, callback, tradeID string, txHash string, err error)
}

// Metrics is the optional Prometheus counters hook (pkg/metrics).
type Metrics interface {
	IncFulfillTime(chain string)
	IncFailedConfirmation(chain string)
	IncExecutionTimeout(chain string)
	IncDoubleSpend()
}

type noopRecorder struct{}

func (noopRecorder) RecordCallback(string, string, string, string, error) {}

type noopMetrics struct{}

func (noopMetrics) IncFulfillTime(string)        {}
func (noopMetrics) IncFailedConfirmation(string) {}
func (noopMetrics) IncExecutionTimeout(string)   {}
func (noopMetrics) IncDoubleSpend()              {}

// Coordinator is the Swap Coordinator of spec.md §4.3, the state machine
// core. It handles one TimeRequest at a time per trade_id (serialization
// is enforced upstream by the Dispatcher) and owns the decision of
// whether an incoming request is a creation or a confirmation, the
// immediate double-spend check, and cross-chain failure propagation.
type Coordinator struct {
	states  map[Chain]*ChainState
	pairs   *PairTable
	gateway *Gateway
	clock   Clock
	ctx     context.Context

	recorder Recorder
	metrics  Metrics
	log      *log.Logger
}

// CoordinatorOption configures optional Coordinator behavior, following the
// functional-options pattern used throughout the example pack's
// constructors.
type CoordinatorOption func(*Coordinator)

// WithRecorder attaches an audit trail sink.
func WithRecorder(r Recorder) CoordinatorOption {
	return func(c *Coordinator) { c.recorder = r }
}

// WithMetrics attaches a Prometheus counters sink.
func WithMetrics(m Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator wires a Coordinator over the given per-chain state tables,
// pair table, and contract gateway.
func NewCoordinator(ctx context.Context, states map[Chain]*ChainState, pairs *PairTable, gateway *Gateway, clock Clock, logger *log.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		states:   states,
		pairs:    pairs,
		gateway:  gateway,
		clock:    clock,
		ctx:      ctx,
		recorder: noopRecorder{},
		metrics:  noopMetrics{},
		log:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle implements the Handler interface the Dispatcher drains into. It
// is only ever called with at most one concurrent invocation per
// (chain, trade_id) — the Dispatcher's ProcessingSet check guarantees
// this (P1).
func (c *Coordinator) Handle(req TimeRequest) {
	state := c.states[req.Chain]
	rec := state.Get(req.TradeID)

	if rec == nil {
		c.handleCreation(req, state)
		return
	}
	c.handleConfirmation(req, rec, state)
}

// handleCreation implements spec.md §4.3 case 1: the first request for a
// trade_id on this chain.
func (c *Coordinator) handleCreation(req TimeRequest, state *ChainState) {
	peerChain := req.Chain.Other()
	peerState := c.states[peerChain]
	peerRec := peerState.Get(req.TradeID)

	if peerRec != nil {
		assetDur, paymentDur := req.Duration, peerRec.Duration
		if req.Chain == Payment {
			assetDur, paymentDur = peerRec.Duration, req.Duration
		}

		if assetDur < paymentDur {
			// Immediate Double-Spend Check failed: both legs driven to
			// failure, incoming request is NOT stamped.
			c.log.Printf("[coordinator] timeout inversion detected trade_id=%s asset_dur=%d payment_dur=%d",
				req.TradeID.String(), assetDur, paymentDur)
			c.metrics.IncDoubleSpend()
			c.cancelSelf(req.Chain, req.TradeID, false)
			c.cancelPeer(peerChain, req.TradeID)
			c.pairs.Clear(req.TradeID)
			return
		}

		inception := peerRec.InceptionTime
		if req.Chain == Asset {
			inception = nowUnix(c.clock)
		}
		c.pairs.Bind(req.TradeID)
		c.createAndFulfill(req, state, inception)
		return
	}

	c.createAndFulfill(req, state, nowUnix(c.clock))
}

func (c *Coordinator) createAndFulfill(req TimeRequest, state *ChainState, inception uint64) {
	rec := &TradeRecord{
		TradeID:         req.TradeID,
		InceptionTime:   inception,
		Duration:        req.Duration,
		LastRequestID:   req.RequestID,
		LastRequestTime: nowUnix(c.clock),
	}
	state.Insert(rec)

	result, err := c.gateway.FulfillTime(c.ctx, req.Chain, req.RequestID, inception)
	c.recorder.RecordCallback(req.Chain.String(), "fulfillTime", req.TradeID.String(), result.TxHash.Hex(), err)
	if err != nil {
		c.log.Printf("[coordinator %s] fulfillTime failed trade_id=%s: %v", req.Chain, req.TradeID.String(), err)
		// Submission terminal: drop the local record to avoid repeated
		// failing attempts (spec.md §4.3 case 3, §7).
		state.Remove(req.TradeID)
		return
	}
	c.metrics.IncFulfillTime(req.Chain.String())
}

// handleConfirmation implements spec.md §4.3 case 2: a subsequent request
// for an existing trade_id.
func (c *Coordinator) handleConfirmation(req TimeRequest, rec *TradeRecord, state *ChainState) {
	peerChain := req.Chain.Other()
	peerRec := c.states[peerChain].Get(req.TradeID)

	now := nowUnix(c.clock)
	confirmationTime := now
	if peerRec != nil {
		peerTime := peerRec.LastRequestTime
		if peerTime == 0 {
			peerTime = peerRec.InceptionTime
		}
		if peerTime > confirmationTime {
			confirmationTime = peerTime
		}
	}

	if confirmationTime-rec.InceptionTime > rec.Duration {
		c.log.Printf("[coordinator %s] confirmation window exceeded trade_id=%s", req.Chain, req.TradeID.String())
		c.cancelSelf(req.Chain, req.TradeID, true)
		if c.pairs.IsPaired(req.TradeID) {
			c.cancelPeer(peerChain, req.TradeID)
		}
		c.pairs.Clear(req.TradeID)
		return
	}

	rec.LastRequestID = req.RequestID
	rec.LastRequestTime = now
	rec.IsConfirmationPhase = true
	rec.ConfirmationTime = confirmationTime

	result, err := c.gateway.FulfillTime(c.ctx, req.Chain, req.RequestID, confirmationTime)
	c.recorder.RecordCallback(req.Chain.String(), "fulfillTime", req.TradeID.String(), result.TxHash.Hex(), err)
	if err != nil {
		c.log.Printf("[coordinator %s] fulfillTime (confirmation) failed trade_id=%s: %v", req.Chain, req.TradeID.String(), err)
		state.Remove(req.TradeID)
		return
	}
	c.metrics.IncFulfillTime(req.Chain.String())
}

// cancelSelf drives chain's own leg to Failed. It never acquires that
// chain's ProcessingSet — the caller is already the sole handler for this
// (chain, trade_id) by virtue of being inside Handle, dispatched under the
// Dispatcher's serialization guarantee.
func (c *Coordinator) cancelSelf(chain Chain, tradeID *big.Int, hadLocalRecord bool) {
	result, err := c.gateway.HandleFailedConfirmation(c.ctx, chain, tradeID)
	c.recorder.RecordCallback(chain.String(), "handleFailedConfirmation", tradeID.String(), result.TxHash.Hex(), err)
	if err != nil {
		c.log.Printf("[coordinator %s] handleFailedConfirmation failed trade_id=%s: %v", chain, tradeID.String(), err)
	}
	c.metrics.IncFailedConfirmation(chain.String())
	if hadLocalRecord || c.states[chain].Get(tradeID) != nil {
		c.states[chain].Remove(tradeID)
	}
}

// cancelPeer drives the paired leg to Failed, acquiring that chain's
// ProcessingSet first so it never races the peer's own handler or sweeper
// (spec.md §5). If the peer is already being handled, cancellation is
// skipped here — the sweeper's own pass will observe the now-cleared pair
// state (or the peer's own handler will reach the same terminal outcome).
func (c *Coordinator) cancelPeer(chain Chain, tradeID *big.Int) {
	peerState := c.states[chain]
	if !peerState.TryMarkProcessing(tradeID) {
		c.log.Printf("[coordinator] peer trade_id=%s on %s already processing, skipping inline propagation", tradeID.String(), chain)
		return
	}
	defer peerState.UnmarkProcessing(tradeID)

	result, err := c.gateway.HandleFailedConfirmation(c.ctx, chain, tradeID)
	c.recorder.RecordCallback(chain.String(), "handleFailedConfirmation", tradeID.String(), result.TxHash.Hex(), err)
	if err != nil {
		c.log.Printf("[coordinator %s] peer handleFailedConfirmation failed trade_id=%s: %v", chain, tradeID.String(), err)
	}
	c.metrics.IncFailedConfirmation(chain.String())
	peerState.Remove(tradeID)
}
