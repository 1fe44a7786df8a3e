// Package verifier implements the Cross-Chain Verifier: an optional,
// read-only check that a payment-release transaction actually landed,
// survived a reorg window, and carries the expected PaymentCompleted
// event. It never mutates chain state and never blocks the Swap
// Coordinator or Timeout Sweeper — a failed verification is reported to
// the caller; the contracts' own timeouts remain the real safety net.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/certen/crosschain-oracle/pkg/chainclient"
	"github.com/certen/crosschain-oracle/pkg/oracle"
)

// ErrTxFailed is returned when the receipt's status is not 1.
var ErrTxFailed = errors.New("verifier: transaction reverted")

// ErrReorgDetected is returned when the receipt's block hash changed
// between the initial read and the confirmation-wait re-read.
var ErrReorgDetected = errors.New("verifier: block hash changed across wait window, possible reorg")

// ErrNotIncluded is returned when the re-fetched block does not actually
// list the transaction hash.
var ErrNotIncluded = errors.New("verifier: transaction hash not listed in its claimed block")

// ErrPaymentIDMismatch is returned when the decoded PaymentCompleted event
// does not carry the expected payment id.
var ErrPaymentIDMismatch = errors.New("verifier: PaymentCompleted payment id mismatch")

// ErrEventNotFound is returned when no PaymentCompleted log is present in
// the receipt for the expected contract address.
var ErrEventNotFound = errors.New("verifier: no PaymentCompleted log from expected contract")

// Result is the verdict for one payment-release check.
type Result struct {
	Confirmed             bool
	RequiredConfirmations uint64
	ProofVerified         bool
	PaymentID             *big.Int
	Recipient             common.Address
	Amount                *big.Int
}

// Verifier checks payment-release transactions on one chain.
type Verifier struct {
	chain        *chainclient.Client
	contractAddr common.Address
	pollInterval time.Duration
	log          *log.Logger
}

// New returns a Verifier for the given chain client and the contract
// address expected to emit PaymentCompleted.
func New(chain *chainclient.Client, contractAddr common.Address, pollInterval time.Duration, logger *log.Logger) *Verifier {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &Verifier{chain: chain, contractAddr: contractAddr, pollInterval: pollInterval, log: logger}
}

// requiredConfirmations implements spec.md §4.4 step 2's value-tiered
// table. amountWei is the transferred value in wei.
func requiredConfirmations(amountWei *big.Int) uint64 {
	eth := new(big.Float).Quo(new(big.Float).SetInt(amountWei), big.NewFloat(1e18))
	v, _ := eth.Float64()
	switch {
	case v >= 10:
		return 30
	case v >= 1:
		return 20
	case v >= 0.1:
		return 15
	default:
		return 10
	}
}

// Verify runs the full six-step check from spec.md §4.4 against txHash,
// expecting a PaymentCompleted event carrying expectedPaymentID.
func (v *Verifier) Verify(ctx context.Context, txHash common.Hash, amountWei *big.Int, expectedPaymentID *big.Int) (Result, error) {
	receipt, err := v.pollReceipt(ctx, txHash)
	if err != nil {
		return Result{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Result{}, ErrTxFailed
	}

	required := requiredConfirmations(amountWei)
	deadline := time.Duration(required)*12*time.Second*2 + 60*time.Second
	if err := v.waitForConfirmations(ctx, receipt.BlockNumber.Uint64(), required, deadline); err != nil {
		return Result{}, err
	}

	block, err := v.chain.Block(ctx, receipt.BlockNumber)
	if err != nil {
		return Result{}, fmt.Errorf("re-fetch block: %w", err)
	}
	if !blockContainsTx(block, txHash) {
		return Result{}, ErrNotIncluded
	}

	proofVerified := v.attemptProof(ctx, receipt.BlockNumber)

	reReceipt, err := v.chain.Receipt(ctx, txHash)
	if err != nil {
		return Result{}, fmt.Errorf("re-read receipt: %w", err)
	}
	if reReceipt == nil || reReceipt.BlockHash != receipt.BlockHash {
		return Result{}, ErrReorgDetected
	}

	paymentID, recipient, amount, err := v.decodePaymentCompleted(reReceipt.Logs)
	if err != nil {
		return Result{}, err
	}
	if paymentID.Cmp(expectedPaymentID) != 0 {
		return Result{}, ErrPaymentIDMismatch
	}

	return Result{
		Confirmed:             true,
		RequiredConfirmations: required,
		ProofVerified:         proofVerified,
		PaymentID:             paymentID,
		Recipient:             recipient,
		Amount:                amount,
	}, nil
}

// pollReceipt polls for txHash's receipt until present or ctx is done.
func (v *Verifier) pollReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	for {
		r, err := v.chain.Receipt(ctx, txHash)
		if err != nil {
			return nil, fmt.Errorf("poll receipt: %w", err)
		}
		if r != nil {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitForConfirmations blocks until current_block - receiptBlock ≥
// required, or deadline elapses.
func (v *Verifier) waitForConfirmations(ctx context.Context, receiptBlock uint64, required uint64, deadline time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	for {
		latest, err := v.chain.BlockNumber(cctx)
		if err != nil {
			return fmt.Errorf("wait for confirmations: %w", err)
		}
		if latest >= receiptBlock && latest-receiptBlock >= required {
			return nil
		}
		select {
		case <-cctx.Done():
			return fmt.Errorf("verifier: deadline exceeded waiting for %d confirmations: %w", required, cctx.Err())
		case <-ticker.C:
		}
	}
}

// attemptProof tries eth_getProof as an optional verification strengthener.
// Unsupported or failing proofs are logged and downgrade to false, per spec.md
// §4.4 step 4 ("downgrades to basic verification without failing the
// whole check").
func (v *Verifier) attemptProof(ctx context.Context, blockNumber *big.Int) bool {
	_, err := v.chain.GetProof(ctx, v.contractAddr, nil, blockNumber)
	if err != nil {
		if errors.Is(err, chainclient.ErrUnsupported) {
			v.log.Printf("[verifier] eth_getProof unsupported by endpoint, continuing without proof strengthening")
		} else {
			v.log.Printf("[verifier] eth_getProof failed, continuing without proof strengthening: %v", err)
		}
		return false
	}
	return true
}

func blockContainsTx(block *types.Block, txHash common.Hash) bool {
	for _, tx := range block.Transactions() {
		if tx.Hash() == txHash {
			return true
		}
	}
	return false
}

// decodePaymentCompleted scans receipt logs for a PaymentCompleted event
// emitted by this verifier's expected contract address.
func (v *Verifier) decodePaymentCompleted(logs []*types.Log) (*big.Int, common.Address, *big.Int, error) {
	for _, l := range logs {
		if l == nil || l.Address != v.contractAddr {
			continue
		}
		if len(l.Topics) == 0 || l.Topics[0] != oracle.PaymentCompletedTopic {
			continue
		}
		paymentID, recipient, amount, err := oracle.DecodePaymentCompleted(*l)
		if err != nil {
			return nil, common.Address{}, nil, fmt.Errorf("decode PaymentCompleted: %w", err)
		}
		return paymentID, recipient, amount, nil
	}
	return nil, common.Address{}, nil, ErrEventNotFound
}
