package oracle

import (
	"context"
	"log"
	"time"
)

// TimeoutClass classifies a TradeRecord's standing relative to its
// confirmation- or execution-phase deadline, modeled on the typed
// classification result pattern (SPEC_FULL.md §12).
type TimeoutClass int

const (
	// TimeoutHealthy means the record is within its current phase's window.
	TimeoutHealthy TimeoutClass = iota
	// TimeoutConfirmationExpired means the confirmation phase's duration
	// has elapsed with no confirmation_time ever stamped, or that a
	// confirmed record's execution window has elapsed after now has passed
	// 2×duration from inception_time.
	TimeoutConfirmationExpired
	// TimeoutExecutionExpired means the execution phase's duration,
	// measured from confirmation_time, has elapsed.
	TimeoutExecutionExpired
)

func (c TimeoutClass) String() string {
	switch c {
	case TimeoutHealthy:
		return "healthy"
	case TimeoutConfirmationExpired:
		return "confirmation_expired"
	case TimeoutExecutionExpired:
		return "execution_expired"
	default:
		return "unknown"
	}
}

// classify applies spec.md §4.5's timeout test to rec as of now. The
// execution-phase-expired verdict only holds while now is still within
// 2×duration of inception_time; past that bound the record is treated as
// confirmation-phase-expired instead, per the literal algorithm.
func classify(rec *TradeRecord, now uint64) TimeoutClass {
	if rec.HasConfirmationTime() {
		if now-rec.ConfirmationTime > rec.Duration {
			if now-rec.InceptionTime <= 2*rec.Duration {
				return TimeoutExecutionExpired
			}
			return TimeoutConfirmationExpired
		}
		return TimeoutHealthy
	}
	if now-rec.InceptionTime > rec.Duration {
		return TimeoutConfirmationExpired
	}
	return TimeoutHealthy
}

// Sweeper is the Timeout Sweeper of spec.md §4.5: a periodic, chain-blind
// safety net that catches trades whose timeout elapsed without a fresh
// on-chain event ever arriving to drive the Coordinator.
type Sweeper struct {
	states   map[Chain]*ChainState
	pairs    *PairTable
	gateway  *Gateway
	clock    Clock
	interval time.Duration
	log      *log.Logger

	metrics Metrics
}

// NewSweeper returns a Sweeper that scans every interval.
func NewSweeper(states map[Chain]*ChainState, pairs *PairTable, gateway *Gateway, clock Clock, interval time.Duration, logger *log.Logger, metrics Metrics) *Sweeper {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Sweeper{states: states, pairs: pairs, gateway: gateway, clock: clock, interval: interval, log: logger, metrics: metrics}
}

// Run blocks, scanning both chains every interval until ctx is canceled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.sweep(ctx)
		}
	}
}

// sweep scans every tracked trade on both chains once.
func (sw *Sweeper) sweep(ctx context.Context) {
	now := nowUnix(sw.clock)
	for _, chain := range []Chain{Asset, Payment} {
		state := sw.states[chain]
		for _, rec := range state.Snapshot() {
			class := classify(rec, now)
			if class == TimeoutHealthy {
				continue
			}
			sw.handleExpired(ctx, chain, rec, class)
		}
	}
}

// handleExpired drives an expired record's contract callback, first
// confirming the on-chain trade hasn't already moved to a terminal state
// (avoiding a redundant, revert-prone callback), then propagating the
// failure to the paired leg if one exists.
func (sw *Sweeper) handleExpired(ctx context.Context, chain Chain, rec *TradeRecord, class TimeoutClass) {
	state := sw.states[chain]
	if !state.TryMarkProcessing(rec.TradeID) {
		// Already being handled by the live event path; defer to next sweep.
		return
	}
	defer state.UnmarkProcessing(rec.TradeID)

	if onChain, err := sw.gateway.GetOnChainTrade(ctx, chain, rec.TradeID); err == nil && onChain.State.IsTerminal() {
		sw.log.Printf("[sweeper %s] trade_id=%s already terminal on-chain (%s), dropping local record", chain, rec.TradeID.String(), onChain.State)
		state.Remove(rec.TradeID)
		return
	}

	var err error
	if class == TimeoutConfirmationExpired {
		sw.log.Printf("[sweeper %s] trade_id=%s confirmation phase expired, submitting handleFailedConfirmation", chain, rec.TradeID.String())
		_, err = sw.gateway.HandleFailedConfirmation(ctx, chain, rec.TradeID)
		sw.metrics.IncFailedConfirmation(chain.String())
	} else {
		sw.log.Printf("[sweeper %s] trade_id=%s execution phase expired, submitting handleExecutionTimeout", chain, rec.TradeID.String())
		_, err = sw.gateway.HandleExecutionTimeout(ctx, chain, rec.TradeID)
		sw.metrics.IncExecutionTimeout(chain.String())
	}
	if err != nil {
		sw.log.Printf("[sweeper %s] timeout callback failed trade_id=%s: %v", chain, rec.TradeID.String(), err)
		return
	}
	state.Remove(rec.TradeID)

	if sw.pairs.IsPaired(rec.TradeID) {
		sw.propagate(ctx, chain.Other(), rec.TradeID, class)
	}
}

// propagate drives the peer leg of a timed-out paired trade to the
// matching failure callback, acquiring the peer's ProcessingSet first per
// spec.md §5.
func (sw *Sweeper) propagate(ctx context.Context, peerChain Chain, tradeID TradeID, class TimeoutClass) {
	peerState := sw.states[peerChain]
	if !peerState.TryMarkProcessing(tradeID) {
		return
	}
	defer peerState.UnmarkProcessing(tradeID)

	peerRec := peerState.Get(tradeID)
	if peerRec == nil {
		sw.pairs.Clear(tradeID)
		return
	}

	var err error
	if class == TimeoutConfirmationExpired {
		_, err = sw.gateway.HandleFailedConfirmation(ctx, peerChain, tradeID)
		sw.metrics.IncFailedConfirmation(peerChain.String())
	} else {
		_, err = sw.gateway.HandleExecutionTimeout(ctx, peerChain, tradeID)
		sw.metrics.IncExecutionTimeout(peerChain.String())
	}
	if err != nil {
		sw.log.Printf("[sweeper %s] peer propagation failed trade_id=%s: %v", peerChain, tradeID.String(), err)
		return
	}
	peerState.Remove(tradeID)
	sw.pairs.Clear(tradeID)
}
