// Package oracle implements the control plane described in spec.md §3-5:
// per-chain TradeRecord tables, the CrossChainPair mapping, per-trade
// serialization (ProcessingSet + EventQueue), the Swap Coordinator state
// machine, and the Timeout Sweeper. The map-keyed per-trade-id state
// pattern here is modeled on the swap coordinator found in the wider
// example pack (a `swaps map[string]*ActiveSwap` guarded by one
// sync.RWMutex per coordinator), generalized to two symmetric per-chain
// tables instead of one.
package oracle

import (
	"math/big"
)

// Chain identifies which leg of a trade a record or event belongs to.
type Chain int

const (
	Asset Chain = iota
	Payment
)

func (c Chain) String() string {
	if c == Asset {
		return "asset"
	}
	return "payment"
}

// Other returns the opposite leg.
func (c Chain) Other() Chain {
	if c == Asset {
		return Payment
	}
	return Asset
}

// TradeID is the shared uint256 identifier correlating a trade's two legs.
// big.Int values compare by value via String(), so TradeID is keyed in
// maps by its decimal string form (tradeKey).
type TradeID = *big.Int

func tradeKey(id TradeID) string {
	return id.String()
}

// TradeRecord is the oracle's in-memory mirror of one leg of a trade, per
// spec.md §3.
type TradeRecord struct {
	TradeID             TradeID
	InceptionTime        uint64 // wall-clock seconds, oracle-local
	Duration             uint64 // swap validity window, from the contract event
	LastRequestID        [32]byte
	LastRequestTime      uint64
	ConfirmationTime     uint64 // 0 means unset
	IsConfirmationPhase  bool
}

// HasConfirmationTime reports whether ConfirmationTime has been set.
func (r *TradeRecord) HasConfirmationTime() bool {
	return r.ConfirmationTime != 0
}

// TimeRequest is the tuple the Event Pump forwards to the Trade Dispatcher,
// per spec.md §4.6: (chain, request_id, trade_id, duration,
// event_block_timestamp). EventBlockTimestamp is observability-only — it
// is never used for timing decisions (spec.md §4.6).
type TimeRequest struct {
	Chain               Chain
	RequestID           [32]byte
	TradeID             TradeID
	Duration            uint64
	EventBlockTimestamp uint64
}

// PairEntry is the explicit CrossChainPair struct spec.md §9 calls for,
// replacing the source's double-sided string-keyed map trick. Since both
// legs of a pair share the same trade_id (spec.md §1: "correlates the two
// legs of each swap by a shared identifier"), a pair is really just "this
// trade_id is bound on both chains". PairTable stores bindings as a set of
// trade_ids and does not use this type; Bind/Clear on PairTable are the
// explicit binding operations.
type PairEntry struct {
	TradeID TradeID
	Bound   bool
}
