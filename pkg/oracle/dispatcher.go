package oracle

import "log"

// Handler processes one TimeRequest to completion. The Swap Coordinator
// implements this.
type Handler interface {
	Handle(req TimeRequest)
}

// Dispatcher is the Trade Dispatcher of spec.md §4.3: a per-trade-id
// serialization queue. Events for a trade_id already being processed are
// appended to that chain's EventQueue and drained FIFO by the goroutine
// already handling it; events for idle trade_ids start processing
// immediately on their own goroutine. This is the worker-pool-per-pinned-
// trade_id model spec.md §9 describes ("each in-flight trade_id pins one
// worker slot while active").
type Dispatcher struct {
	states  map[Chain]*ChainState
	handler Handler
	log     *log.Logger
}

// NewDispatcher returns a Dispatcher draining into handler.
func NewDispatcher(states map[Chain]*ChainState, handler Handler, logger *log.Logger) *Dispatcher {
	return &Dispatcher{states: states, handler: handler, log: logger}
}

// Dispatch is called by each chain's Event Pump. The sweeper does not go
// through Dispatch; it enters the ProcessingSet directly.
func (d *Dispatcher) Dispatch(req TimeRequest) {
	state := d.states[req.Chain]

	if !state.TryMarkProcessing(req.TradeID) {
		state.Enqueue(req.TradeID, req)
		return
	}

	go d.drain(state, req)
}

// drain runs req and then keeps pulling queued events for the same
// trade_id until the queue is empty, enforcing P1 (per-trade
// serialization): the coordinator never has two goroutines inside the
// same trade_id's handler concurrently.
func (d *Dispatcher) drain(state *ChainState, first TimeRequest) {
	req := first
	for {
		d.log.Printf("[dispatch %s] enter trade_id=%s request_id=%x", req.Chain, req.TradeID.String(), req.RequestID)
		d.handler.Handle(req)
		d.log.Printf("[dispatch %s] exit trade_id=%s request_id=%x", req.Chain, req.TradeID.String(), req.RequestID)

		next, ok := state.DequeueOrUnmark(req.TradeID)
		if !ok {
			return
		}
		req = next
	}
}
