package oracle

import (
	"io"
	"log"
	"math/big"
	"sync"
	"testing"
	"time"
)

// recordingHandler records the order in which TimeRequests are handled
// and can optionally block the first invocation on a channel, letting
// tests force a second request to queue behind it.
type recordingHandler struct {
	mu      sync.Mutex
	order   []string
	block   chan struct{}
	blocked bool
}

func (h *recordingHandler) Handle(req TimeRequest) {
	h.mu.Lock()
	if h.block != nil && !h.blocked {
		h.blocked = true
		ch := h.block
		h.mu.Unlock()
		<-ch
		h.mu.Lock()
	}
	h.order = append(h.order, string(req.RequestID[:]))
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

func TestDispatcher_SerializesSameTradeID(t *testing.T) {
	states := map[Chain]*ChainState{Asset: NewChainState(Asset), Payment: NewChainState(Payment)}
	handler := &recordingHandler{block: make(chan struct{})}
	d := NewDispatcher(states, handler, log.New(io.Discard, "", 0))

	tradeID := big.NewInt(1)
	req1 := TimeRequest{Chain: Asset, TradeID: tradeID, RequestID: [32]byte{1}}
	req2 := TimeRequest{Chain: Asset, TradeID: tradeID, RequestID: [32]byte{2}}

	d.Dispatch(req1)
	// req1's goroutine is now blocked inside Handle; req2 must be queued,
	// not handled concurrently.
	waitUntil(t, func() bool { return states[Asset].IsProcessing(tradeID) })
	d.Dispatch(req2)

	close(handler.block)
	waitUntil(t, func() bool { return len(handler.snapshot()) == 2 })

	order := handler.snapshot()
	if order[0] != string(req1.RequestID[:]) || order[1] != string(req2.RequestID[:]) {
		t.Fatalf("expected FIFO drain order req1,req2; got %v", order)
	}
	if states[Asset].IsProcessing(tradeID) {
		t.Fatalf("expected trade_id to leave ProcessingSet once its queue drains")
	}
}

func TestDispatcher_DifferentTradeIDsRunConcurrently(t *testing.T) {
	states := map[Chain]*ChainState{Asset: NewChainState(Asset), Payment: NewChainState(Payment)}
	handler := &recordingHandler{}
	d := NewDispatcher(states, handler, log.New(io.Discard, "", 0))

	d.Dispatch(TimeRequest{Chain: Asset, TradeID: big.NewInt(10), RequestID: [32]byte{1}})
	d.Dispatch(TimeRequest{Chain: Asset, TradeID: big.NewInt(20), RequestID: [32]byte{2}})

	waitUntil(t, func() bool { return len(handler.snapshot()) == 2 })
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
