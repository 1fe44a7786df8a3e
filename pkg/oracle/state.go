package oracle

import "sync"

// ChainState owns one chain's TradeRecord table, ProcessingSet, and
// EventQueue, each guarded by a single coarse lock — the per-structure
// locking spec.md §5 calls out as acceptable "given event rate is bounded
// by block time". Two instances exist in a running oracle, one per Chain.
type ChainState struct {
	mu         sync.Mutex
	chain      Chain
	trades     map[string]*TradeRecord
	processing map[string]bool
	queues     map[string][]TimeRequest

	lastProcessedBlock uint64
}

// NewChainState returns an empty state table for chain.
func NewChainState(chain Chain) *ChainState {
	return &ChainState{
		chain:      chain,
		trades:     make(map[string]*TradeRecord),
		processing: make(map[string]bool),
		queues:     make(map[string][]TimeRequest),
	}
}

// Get returns the record for id, or nil if none exists.
func (s *ChainState) Get(id TradeID) *TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trades[tradeKey(id)]
}

// Insert stores rec, keyed by rec.TradeID.
func (s *ChainState) Insert(rec *TradeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[tradeKey(rec.TradeID)] = rec
}

// Remove drops the record for id, if any.
func (s *ChainState) Remove(id TradeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trades, tradeKey(id))
}

// Snapshot returns a shallow copy of every record currently held, for the
// Timeout Sweeper's periodic scan (spec.md §4.5: "snapshot the entries").
func (s *ChainState) Snapshot() []*TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TradeRecord, 0, len(s.trades))
	for _, r := range s.trades {
		out = append(out, r)
	}
	return out
}

// TryMarkProcessing attempts to enter the ProcessingSet for id. Returns
// false if id is already being processed — the caller must then Enqueue
// the event instead of handling it inline (spec.md §3 ProcessingSet
// invariant: "at most one goroutine/task is inside the Swap Coordinator
// handling t at a time").
func (s *ChainState) TryMarkProcessing(id TradeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tradeKey(id)
	if s.processing[k] {
		return false
	}
	s.processing[k] = true
	return true
}

// UnmarkProcessing leaves the ProcessingSet for id. Deferred events for id
// stay queued; the Dispatcher's drain loop uses DequeueOrUnmark instead so
// that no queued event is left without a goroutine to drain it.
func (s *ChainState) UnmarkProcessing(id TradeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processing, tradeKey(id))
}

// IsProcessing reports whether id is currently in the ProcessingSet —
// used by cross-chain cancellation propagation (spec.md §5: "acquire the
// peer's ProcessingSet membership before calling the peer's contract").
func (s *ChainState) IsProcessing(id TradeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing[tradeKey(id)]
}

// Enqueue appends ev to id's deferred EventQueue.
func (s *ChainState) Enqueue(id TradeID, ev TimeRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tradeKey(id)
	s.queues[k] = append(s.queues[k], ev)
}

// Dequeue removes and returns the oldest deferred event for id (FIFO drain,
// spec.md §3: "events for a trade already being processed are appended to
// that trade's queue and drained FIFO").
func (s *ChainState) Dequeue(id TradeID) (TimeRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.dequeueLocked(id)
	return ev, ok
}

func (s *ChainState) dequeueLocked(id TradeID) (TimeRequest, bool) {
	k := tradeKey(id)
	q := s.queues[k]
	if len(q) == 0 {
		return TimeRequest{}, false
	}
	ev := q[0]
	if len(q) == 1 {
		delete(s.queues, k)
	} else {
		s.queues[k] = q[1:]
	}
	return ev, true
}

// DequeueOrUnmark atomically either pops the next deferred event for id, or
// — if the queue is empty — leaves the ProcessingSet. Doing both under one
// lock closes the race where an event is enqueued between a Dequeue miss
// and the subsequent UnmarkProcessing, which would otherwise leave the
// event stranded with nothing scheduled to drain it.
func (s *ChainState) DequeueOrUnmark(id TradeID) (TimeRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.dequeueLocked(id); ok {
		return ev, true
	}
	delete(s.processing, tradeKey(id))
	return TimeRequest{}, false
}

// LastProcessedBlock returns the Event Pump's resume cursor for this chain.
func (s *ChainState) LastProcessedBlock() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProcessedBlock
}

// SetLastProcessedBlock advances the cursor. Per spec.md §3's invariant,
// callers must never call this with a value lower than the current one.
func (s *ChainState) SetLastProcessedBlock(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.lastProcessedBlock {
		s.lastProcessedBlock = n
	}
}

// ActiveTradeIDs returns the decimal string form of every trade_id
// currently tracked, for the Status Surface.
func (s *ChainState) ActiveTradeIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.trades))
	for k := range s.trades {
		out = append(out, k)
	}
	return out
}

// PendingEventCount returns the total number of deferred events queued
// across all trade_ids, for the Status Surface.
func (s *ChainState) PendingEventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

// PairTable is the CrossChainPair map from spec.md §3: "set when the
// Payment leg's creation observes a pre-existing Asset leg (or vice
// versa)". Because both legs of a pair share one trade_id, binding is
// simply "mark this id as paired"; Bind/Clear are explicit operations so
// the sweeper's propagation step (spec.md §4.5) can consult and clear pair
// state without reaching into two chains' tables directly.
type PairTable struct {
	mu     sync.Mutex
	paired map[string]bool
}

// NewPairTable returns an empty PairTable.
func NewPairTable() *PairTable {
	return &PairTable{paired: make(map[string]bool)}
}

// Bind marks id as cross-chain paired.
func (p *PairTable) Bind(id TradeID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paired[tradeKey(id)] = true
}

// Clear removes id's pair binding.
func (p *PairTable) Clear(id TradeID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.paired, tradeKey(id))
}

// IsPaired reports whether id is bound.
func (p *PairTable) IsPaired(id TradeID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paired[tradeKey(id)]
}

// Snapshot returns the decimal trade_ids currently bound, for the Status
// Surface's cross_chain_mappings field.
func (p *PairTable) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.paired))
	for k := range p.paired {
		out = append(out, k)
	}
	return out
}
