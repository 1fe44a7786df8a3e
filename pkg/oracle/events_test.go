package oracle

import (
	"context"
	"errors"
	"io"
	"log"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeChainReader struct {
	height   uint64
	logs     []types.Log
	logsErr  error
	blockErr error
}

func (f *fakeChainReader) BlockNumber(ctx context.Context) (uint64, error) {
	return f.height, nil
}

func (f *fakeChainReader) Logs(ctx context.Context, filter ethereum.FilterQuery) ([]types.Log, error) {
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	return f.logs, nil
}

func (f *fakeChainReader) Block(ctx context.Context, number *big.Int) (*types.Block, error) {
	if f.blockErr != nil {
		return nil, f.blockErr
	}
	header := &types.Header{Number: number, Time: 12345}
	return types.NewBlockWithHeader(header), nil
}

type fakeForwarder struct {
	mu  sync.Mutex
	got []TimeRequest
}

func (f *fakeForwarder) Dispatch(req TimeRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, req)
}

func (f *fakeForwarder) snapshot() []TimeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TimeRequest, len(f.got))
	copy(out, f.got)
	return out
}

func encodeTimeRequestSent(t *testing.T, requestID [32]byte, tradeID *big.Int, duration uint64) []byte {
	t.Helper()
	data, err := EscrowABI.Events["TimeRequestSent"].Inputs.Pack(requestID, tradeID, new(big.Int).SetUint64(duration))
	if err != nil {
		t.Fatalf("failed to pack TimeRequestSent: %v", err)
	}
	return data
}

func TestPump_TickAdvancesCursorAndForwards(t *testing.T) {
	state := NewChainState(Asset)
	state.SetLastProcessedBlock(100)

	requestID := [32]byte{9}
	tradeID := big.NewInt(7)
	reader := &fakeChainReader{
		height: 105,
		logs: []types.Log{
			{BlockNumber: 103, Data: encodeTimeRequestSent(t, requestID, tradeID, 3600)},
		},
	}
	forwarder := &fakeForwarder{}
	pump := NewPump(Asset, reader, common.HexToAddress("0x1"), time.Second, state, forwarder, SystemClock, log.New(io.Discard, "", 0))

	pump.tick(context.Background())

	if state.LastProcessedBlock() != 105 {
		t.Fatalf("LastProcessedBlock() = %d, want 105", state.LastProcessedBlock())
	}
	got := forwarder.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected 1 forwarded request, got %d", len(got))
	}
	if got[0].TradeID.Cmp(tradeID) != 0 || got[0].Duration != 3600 || got[0].RequestID != requestID {
		t.Fatalf("forwarded request mismatch: %+v", got[0])
	}
}

func TestPump_TickDoesNotAdvanceCursorOnLogQueryFailure(t *testing.T) {
	state := NewChainState(Asset)
	state.SetLastProcessedBlock(100)

	reader := &fakeChainReader{height: 105, logsErr: errors.New("rpc unavailable")}
	forwarder := &fakeForwarder{}
	pump := NewPump(Asset, reader, common.HexToAddress("0x1"), time.Second, state, forwarder, SystemClock, log.New(io.Discard, "", 0))

	pump.tick(context.Background())

	if state.LastProcessedBlock() != 100 {
		t.Fatalf("LastProcessedBlock() = %d, want unchanged 100 after log query failure", state.LastProcessedBlock())
	}
	if len(forwarder.snapshot()) != 0 {
		t.Fatalf("expected no forwarded requests on failure")
	}
}

func TestPump_TickNoNewBlocksIsNoop(t *testing.T) {
	state := NewChainState(Asset)
	state.SetLastProcessedBlock(100)

	reader := &fakeChainReader{height: 100}
	forwarder := &fakeForwarder{}
	pump := NewPump(Asset, reader, common.HexToAddress("0x1"), time.Second, state, forwarder, SystemClock, log.New(io.Discard, "", 0))

	pump.tick(context.Background())

	if len(forwarder.snapshot()) != 0 {
		t.Fatalf("expected no forwarded requests when no new blocks")
	}
}
