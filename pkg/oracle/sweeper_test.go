package oracle

import (
	"context"
	"io"
	"log"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		rec  *TradeRecord
		now  uint64
		want TimeoutClass
	}{
		{
			name: "within confirmation window",
			rec:  &TradeRecord{InceptionTime: 1000, Duration: 3600},
			now:  1500,
			want: TimeoutHealthy,
		},
		{
			name: "confirmation window exceeded",
			rec:  &TradeRecord{InceptionTime: 1000, Duration: 3600},
			now:  5000,
			want: TimeoutConfirmationExpired,
		},
		{
			name: "within execution window",
			rec:  &TradeRecord{InceptionTime: 1000, Duration: 3600, ConfirmationTime: 2000},
			now:  2500,
			want: TimeoutHealthy,
		},
		{
			name: "execution window exceeded",
			rec:  &TradeRecord{InceptionTime: 1000, Duration: 3600, ConfirmationTime: 2000},
			now:  6000,
			want: TimeoutExecutionExpired,
		},
		{
			name: "execution window exceeded but past 2x duration from inception",
			rec:  &TradeRecord{InceptionTime: 1000, Duration: 3600, ConfirmationTime: 2000},
			now:  1000 + 2*3600 + 1,
			want: TimeoutConfirmationExpired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.rec, tc.now)
			if got != tc.want {
				t.Errorf("classify() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSweeper_ConfirmationExpiredFailsAndPropagates(t *testing.T) {
	states := map[Chain]*ChainState{Asset: NewChainState(Asset), Payment: NewChainState(Payment)}
	pairs := NewPairTable()
	fg := newFakeGateway()
	// GetOnChainTrade needs callers too; wire a caller that errors so the
	// sweeper falls through to submitting the timeout callback instead of
	// treating the trade as already terminal.
	gateway := NewGateway(
		map[Chain]ChainSubmitter{Asset: &fakeSubmitter{Asset, fg}, Payment: &fakeSubmitter{Payment, fg}},
		map[Chain]ChainCaller{Asset: &erroringCaller{}, Payment: &erroringCaller{}},
		nil,
	)

	tradeID := big.NewInt(1)
	rec := &TradeRecord{TradeID: tradeID, InceptionTime: 1000, Duration: 100}
	states[Asset].Insert(rec)
	peerRec := &TradeRecord{TradeID: tradeID, InceptionTime: 1000, Duration: 50}
	states[Payment].Insert(peerRec)
	pairs.Bind(tradeID)

	clock := newFakeClock(time.Unix(1000+200, 0))
	sw := NewSweeper(states, pairs, gateway, clock, time.Second, log.New(io.Discard, "", 0), nil)

	sw.sweep(context.Background())

	if states[Asset].Get(tradeID) != nil {
		t.Fatalf("expected asset leg to be dropped after sweeper timeout")
	}
	if states[Payment].Get(tradeID) != nil {
		t.Fatalf("expected payment leg to be dropped via propagation")
	}
	if pairs.IsPaired(tradeID) {
		t.Fatalf("expected pair to be cleared after propagation")
	}
	if len(fg.callsFor(Asset, "handleFailedConfirmation")) != 1 {
		t.Fatalf("expected one handleFailedConfirmation call on asset leg")
	}
	if len(fg.callsFor(Payment, "handleFailedConfirmation")) != 1 {
		t.Fatalf("expected propagated handleFailedConfirmation call on payment leg")
	}
}

func TestSweeper_HealthyRecordUntouched(t *testing.T) {
	states := map[Chain]*ChainState{Asset: NewChainState(Asset), Payment: NewChainState(Payment)}
	pairs := NewPairTable()
	fg := newFakeGateway()
	gateway := NewGateway(
		map[Chain]ChainSubmitter{Asset: &fakeSubmitter{Asset, fg}, Payment: &fakeSubmitter{Payment, fg}},
		map[Chain]ChainCaller{Asset: &erroringCaller{}, Payment: &erroringCaller{}},
		nil,
	)

	tradeID := big.NewInt(2)
	rec := &TradeRecord{TradeID: tradeID, InceptionTime: 1000, Duration: 3600}
	states[Asset].Insert(rec)

	clock := newFakeClock(time.Unix(1000+10, 0))
	sw := NewSweeper(states, pairs, gateway, clock, time.Second, log.New(io.Discard, "", 0), nil)

	sw.sweep(context.Background())

	if states[Asset].Get(tradeID) == nil {
		t.Fatalf("expected healthy record to survive sweep untouched")
	}
	if len(fg.calls) != 0 {
		t.Fatalf("expected no callbacks for a healthy record")
	}
}

type erroringCaller struct{}

func (erroringCaller) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return nil, context.DeadlineExceeded
}
