package oracle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/crosschain-oracle/pkg/submit"
)

// ChainSubmitter is the per-chain write path: pack-and-send one of the
// three oracle callbacks (spec.md §6's GLOSSARY: "privileged calls the
// oracle makes into the escrow contracts").
type ChainSubmitter interface {
	Submit(ctx context.Context, to common.Address, data []byte) (submit.Result, error)
}

// ChainCaller is the per-chain read path: getTrade/getPayment.
type ChainCaller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Gateway binds each Chain to its contract address, submitter, and reader,
// so the Coordinator and Sweeper share one place that knows how to talk to
// the escrow contracts, per the three oracle callbacks and two on-chain
// reads spec.md §6 declares.
type Gateway struct {
	submitters map[Chain]ChainSubmitter
	callers    map[Chain]ChainCaller
	addresses  map[Chain]common.Address
}

// NewGateway wires the per-chain submitters, callers, and contract
// addresses.
func NewGateway(submitters map[Chain]ChainSubmitter, callers map[Chain]ChainCaller, addresses map[Chain]common.Address) *Gateway {
	return &Gateway{submitters: submitters, callers: callers, addresses: addresses}
}

// FulfillTime calls fulfillTime(requestId, timestamp) on chain's contract.
func (g *Gateway) FulfillTime(ctx context.Context, chain Chain, requestID [32]byte, timestamp uint64) (submit.Result, error) {
	data, err := PackFulfillTime(requestID, timestamp)
	if err != nil {
		return submit.Result{}, fmt.Errorf("pack fulfillTime: %w", err)
	}
	return g.submitters[chain].Submit(ctx, g.addresses[chain], data)
}

// HandleFailedConfirmation calls handleFailedConfirmation(id) on chain's
// contract.
func (g *Gateway) HandleFailedConfirmation(ctx context.Context, chain Chain, tradeID *big.Int) (submit.Result, error) {
	data, err := PackHandleFailedConfirmation(tradeID)
	if err != nil {
		return submit.Result{}, fmt.Errorf("pack handleFailedConfirmation: %w", err)
	}
	return g.submitters[chain].Submit(ctx, g.addresses[chain], data)
}

// HandleExecutionTimeout calls handleExecutionTimeout(id) on chain's
// contract.
func (g *Gateway) HandleExecutionTimeout(ctx context.Context, chain Chain, tradeID *big.Int) (submit.Result, error) {
	data, err := PackHandleExecutionTimeout(tradeID)
	if err != nil {
		return submit.Result{}, fmt.Errorf("pack handleExecutionTimeout: %w", err)
	}
	return g.submitters[chain].Submit(ctx, g.addresses[chain], data)
}

// GetOnChainTrade reads the contract's current state for tradeID on chain
// — getTrade on the Asset contract, getPayment on the Payment contract,
// per spec.md §6.
func (g *Gateway) GetOnChainTrade(ctx context.Context, chain Chain, tradeID *big.Int) (OnChainTrade, error) {
	var data []byte
	var err error
	if chain == Asset {
		data, err = PackGetTrade(tradeID)
	} else {
		data, err = PackGetPayment(tradeID)
	}
	if err != nil {
		return OnChainTrade{}, fmt.Errorf("pack get: %w", err)
	}

	out, err := g.callers[chain].Call(ctx, g.addresses[chain], data)
	if err != nil {
		return OnChainTrade{}, err
	}

	if chain == Asset {
		return UnpackTrade(out)
	}
	return UnpackPayment(out)
}
