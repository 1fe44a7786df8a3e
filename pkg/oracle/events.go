package oracle

import (
	"context"
	"log"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainReader is the subset of chainclient.Client the Event Pump needs:
// latest block height and log queries. Narrowed to an interface so tests
// can drive the pump against a fake chain.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Logs(ctx context.Context, filter ethereum.FilterQuery) ([]types.Log, error)
	Block(ctx context.Context, number *big.Int) (*types.Block, error)
}

// Forwarder is the Trade Dispatcher's intake, the only thing the pump
// talks to downstream.
type Forwarder interface {
	Dispatch(req TimeRequest)
}

// Pump is the per-chain Event Pump of spec.md §4.6. One instance exists per
// Chain. On start it resumes from the current head, and
// last_processed_block never decreases, so a block range is not queried
// again once a tick has delivered it. Events are not deduplicated by
// request_id downstream: an event delivered twice reaches the Coordinator
// twice.
type Pump struct {
	chain        Chain
	client       ChainReader
	contractAddr common.Address
	pollInterval time.Duration
	state        *ChainState
	forward      Forwarder
	clock        Clock
	log          *log.Logger
}

// NewPump constructs a Pump for one chain.
func NewPump(chain Chain, client ChainReader, contractAddr common.Address, pollInterval time.Duration, state *ChainState, forward Forwarder, clock Clock, logger *log.Logger) *Pump {
	return &Pump{
		chain:        chain,
		client:       client,
		contractAddr: contractAddr,
		pollInterval: pollInterval,
		state:        state,
		forward:      forward,
		clock:        clock,
		log:          logger,
	}
}

// Run starts the pump's poll loop. It blocks until ctx is cancelled,
// following the ticker+select idiom used throughout the example pack for
// pump/sweeper/scheduler loops.
func (p *Pump) Run(ctx context.Context) error {
	latest, err := p.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	p.state.SetLastProcessedBlock(latest)
	p.log.Printf("[%s-pump] starting from block %d", p.chain, latest)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick performs one poll cycle. Errors are logged, never fatal — the
// cursor is only advanced on success, so the next tick retries the same
// range (spec.md §4.6).
func (p *Pump) tick(ctx context.Context) {
	latest, err := p.client.BlockNumber(ctx)
	if err != nil {
		p.log.Printf("[%s-pump] block_number failed: %v", p.chain, err)
		return
	}

	last := p.state.LastProcessedBlock()
	if latest <= last {
		return
	}

	filter := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(last + 1),
		ToBlock:   new(big.Int).SetUint64(latest),
		Addresses: []common.Address{p.contractAddr},
		Topics:    [][]common.Hash{{TimeRequestSentTopic}},
	}

	logs, err := p.client.Logs(ctx, filter)
	if err != nil {
		p.log.Printf("[%s-pump] log query failed: %v", p.chain, err)
		return
	}

	blockTimestamps := make(map[uint64]uint64)
	for _, l := range logs {
		requestID, tradeID, duration, err := DecodeTimeRequestSent(l)
		if err != nil {
			p.log.Printf("[%s-pump] failed to decode log at block %d: %v", p.chain, l.BlockNumber, err)
			continue
		}

		ts, ok := blockTimestamps[l.BlockNumber]
		if !ok {
			ts = p.blockTimestamp(ctx, l.BlockNumber)
			blockTimestamps[l.BlockNumber] = ts
		}

		p.forward.Dispatch(TimeRequest{
			Chain:               p.chain,
			RequestID:           requestID,
			TradeID:             tradeID,
			Duration:            duration,
			EventBlockTimestamp: ts,
		})
	}

	p.state.SetLastProcessedBlock(latest)
}

// blockTimestamp resolves a block's timestamp for observability only; a
// failure here never blocks event delivery (spec.md §4.6 — the field is
// "not used for logic").
func (p *Pump) blockTimestamp(ctx context.Context, number uint64) uint64 {
	block, err := p.client.Block(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0
	}
	return block.Time()
}
