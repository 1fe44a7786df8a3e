package oracle

import (
	"context"
	"io"
	"log"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/crosschain-oracle/pkg/submit"
)

// fakeClock lets tests advance wall-clock time deterministically, the
// injected-Clock pattern spec.md §9 calls for to exercise timeout
// scenarios without real sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGateway records every callback it's asked to make and lets tests
// script failures per (chain, callback).
type fakeGateway struct {
	mu        sync.Mutex
	calls     []fakeCall
	failNext  map[string]error
	onChain   map[string]OnChainTrade
}

type fakeCall struct {
	Chain    Chain
	Callback string
	TradeID  string
	Param    uint64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failNext: make(map[string]error), onChain: make(map[string]OnChainTrade)}
}

func (g *fakeGateway) key(chain Chain, callback string) string {
	return chain.String() + ":" + callback
}

func (g *fakeGateway) setFailure(chain Chain, callback string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext[g.key(chain, callback)] = err
}

func (g *fakeGateway) record(chain Chain, callback, tradeID string, param uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, fakeCall{Chain: chain, Callback: callback, TradeID: tradeID, Param: param})
	k := g.key(chain, callback)
	if err, ok := g.failNext[k]; ok {
		delete(g.failNext, k)
		return err
	}
	return nil
}

func (g *fakeGateway) callsFor(chain Chain, callback string) []fakeCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []fakeCall
	for _, c := range g.calls {
		if c.Chain == chain && c.Callback == callback {
			out = append(out, c)
		}
	}
	return out
}

// fakeSubmitter adapts fakeGateway to the ChainSubmitter interface so a
// real oracle.Gateway can be used against the fake in coordinator tests.
type fakeSubmitter struct {
	chain   Chain
	gateway *fakeGateway
}

func (s *fakeSubmitter) Submit(ctx context.Context, to common.Address, data []byte) (submit.Result, error) {
	name, tradeID, param, err := decodeCall(data)
	if err != nil {
		return submit.Result{}, err
	}
	if callErr := s.gateway.record(s.chain, name, tradeID, param); callErr != nil {
		return submit.Result{}, callErr
	}
	return submit.Result{}, nil
}

type fakeCaller struct {
	chain   Chain
	gateway *fakeGateway
}

func (c *fakeCaller) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return nil, nil
}

// decodeCall unpacks the ABI-encoded call to recover which callback and
// trade_id a Submit invocation targeted, so the fake can record it
// without re-deriving a mock contract.
func decodeCall(data []byte) (name string, tradeID string, param uint64, err error) {
	method, err := EscrowABI.MethodById(data[:4])
	if err != nil {
		return "", "", 0, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return "", "", 0, err
	}
	switch method.Name {
	case "fulfillTime":
		return method.Name, "", args[1].(*big.Int).Uint64(), nil
	default:
		return method.Name, args[0].(*big.Int).String(), 0, nil
	}
}

func newTestHarness() (*Coordinator, map[Chain]*ChainState, *PairTable, *fakeGateway, *fakeClock) {
	states := map[Chain]*ChainState{Asset: NewChainState(Asset), Payment: NewChainState(Payment)}
	pairs := NewPairTable()
	fg := newFakeGateway()
	gateway := NewGateway(
		map[Chain]ChainSubmitter{Asset: &fakeSubmitter{Asset, fg}, Payment: &fakeSubmitter{Payment, fg}},
		map[Chain]ChainCaller{Asset: &fakeCaller{Asset, fg}, Payment: &fakeCaller{Payment, fg}},
		map[Chain]common.Address{Asset: common.HexToAddress("0x1"), Payment: common.HexToAddress("0x2")},
	)
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	logger := log.New(io.Discard, "", 0)
	coord := NewCoordinator(context.Background(), states, pairs, gateway, clock, logger)
	return coord, states, pairs, fg, clock
}

func TestCreation_FirstRequestNoPeer(t *testing.T) {
	coord, states, _, fg, _ := newTestHarness()
	tradeID := big.NewInt(42)

	coord.Handle(TimeRequest{Chain: Asset, TradeID: tradeID, Duration: 3600, RequestID: [32]byte{1}})

	rec := states[Asset].Get(tradeID)
	if rec == nil {
		t.Fatalf("expected asset leg record to be created")
	}
	if len(fg.callsFor(Asset, "fulfillTime")) != 1 {
		t.Fatalf("expected exactly one fulfillTime call on asset chain")
	}
}

func TestCreation_SecondLegSyncsInception(t *testing.T) {
	coord, states, pairs, _, clock := newTestHarness()
	tradeID := big.NewInt(7)

	coord.Handle(TimeRequest{Chain: Asset, TradeID: tradeID, Duration: 3600, RequestID: [32]byte{1}})
	assetRec := states[Asset].Get(tradeID)

	clock.Advance(10 * time.Second)
	coord.Handle(TimeRequest{Chain: Payment, TradeID: tradeID, Duration: 1800, RequestID: [32]byte{2}})
	paymentRec := states[Payment].Get(tradeID)

	if paymentRec == nil {
		t.Fatalf("expected payment leg record to be created")
	}
	if paymentRec.InceptionTime != assetRec.InceptionTime {
		t.Fatalf("expected payment leg inception_time to sync to asset leg: got %d, want %d", paymentRec.InceptionTime, assetRec.InceptionTime)
	}
	if !pairs.IsPaired(tradeID) {
		t.Fatalf("expected trade to be marked paired")
	}
}

func TestCreation_TimeoutInversionTriggersDoubleSpendHandling(t *testing.T) {
	coord, states, pairs, fg, _ := newTestHarness()
	tradeID := big.NewInt(99)

	// Asset duration (1800) < Payment duration (3600) violates the
	// "Asset duration >= Payment duration" invariant.
	coord.Handle(TimeRequest{Chain: Asset, TradeID: tradeID, Duration: 1800, RequestID: [32]byte{1}})
	coord.Handle(TimeRequest{Chain: Payment, TradeID: tradeID, Duration: 3600, RequestID: [32]byte{2}})

	if states[Asset].Get(tradeID) != nil {
		t.Fatalf("expected asset leg record to be dropped on double-spend detection")
	}
	if pairs.IsPaired(tradeID) {
		t.Fatalf("expected pair binding to be cleared after double-spend handling")
	}
	if len(fg.callsFor(Asset, "handleFailedConfirmation")) != 1 {
		t.Fatalf("expected handleFailedConfirmation on asset leg")
	}
	if len(fg.callsFor(Payment, "handleFailedConfirmation")) != 1 {
		t.Fatalf("expected handleFailedConfirmation propagated to payment leg")
	}
}

func TestConfirmation_WithinWindowAdvancesPhase(t *testing.T) {
	coord, states, _, fg, clock := newTestHarness()
	tradeID := big.NewInt(5)

	coord.Handle(TimeRequest{Chain: Asset, TradeID: tradeID, Duration: 3600, RequestID: [32]byte{1}})
	clock.Advance(100 * time.Second)
	coord.Handle(TimeRequest{Chain: Asset, TradeID: tradeID, Duration: 3600, RequestID: [32]byte{2}})

	rec := states[Asset].Get(tradeID)
	if rec == nil {
		t.Fatalf("expected record to survive confirmation")
	}
	if !rec.IsConfirmationPhase {
		t.Fatalf("expected record to be marked confirmation phase")
	}
	if len(fg.callsFor(Asset, "fulfillTime")) != 2 {
		t.Fatalf("expected two fulfillTime calls (creation + confirmation)")
	}
}

func TestConfirmation_WindowExceededFailsLeg(t *testing.T) {
	coord, states, _, fg, clock := newTestHarness()
	tradeID := big.NewInt(6)

	coord.Handle(TimeRequest{Chain: Asset, TradeID: tradeID, Duration: 100, RequestID: [32]byte{1}})
	clock.Advance(200 * time.Second)
	coord.Handle(TimeRequest{Chain: Asset, TradeID: tradeID, Duration: 100, RequestID: [32]byte{2}})

	if states[Asset].Get(tradeID) != nil {
		t.Fatalf("expected record to be dropped after confirmation window exceeded")
	}
	if len(fg.callsFor(Asset, "handleFailedConfirmation")) != 1 {
		t.Fatalf("expected handleFailedConfirmation on window exceeded")
	}
}

func TestCreation_SubmitFailureDropsRecord(t *testing.T) {
	coord, states, _, fg, _ := newTestHarness()
	tradeID := big.NewInt(11)

	fg.setFailure(Asset, "fulfillTime", context.DeadlineExceeded)
	coord.Handle(TimeRequest{Chain: Asset, TradeID: tradeID, Duration: 3600, RequestID: [32]byte{1}})

	if states[Asset].Get(tradeID) != nil {
		t.Fatalf("expected record to be dropped after submit failure")
	}
}
