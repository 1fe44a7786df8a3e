// Package submit implements the Transaction Submitter (spec.md §4.2): it
// wraps a Chain Client and a Nonce Manager, retries on specific recoverable
// errors with a fresh nonce, and classifies failures as retryable or
// terminal. Every callback it sends is tagged with a correlation id so
// operators can trace a single fulfillTime/handleFailedConfirmation call
// through logs end to end — the role github.com/google/uuid plays
// throughout the wider example pack for request/anchor/batch ids.
package submit

import (
	"context"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/certen/crosschain-oracle/pkg/chainclient"
	"github.com/certen/crosschain-oracle/pkg/nonce"
)

// Submitter retries recoverable failures with a fresh nonce and surfaces a
// classified, terminal error otherwise.
type Submitter struct {
	chain      *chainclient.Client
	nonces     *nonce.Manager
	signer     chainclient.Signer
	gasLimit   uint64
	maxRetries int
	backoff    time.Duration
	log        *log.Logger
}

// Config carries the fixed parameters spec.md §6 names: callback_gas_limit
// and submit_max_retries.
type Config struct {
	GasLimit   uint64
	MaxRetries int
	Backoff    time.Duration
}

// New returns a Submitter bound to one chain's client, nonce manager, and
// signing key.
func New(chain *chainclient.Client, nonces *nonce.Manager, signer chainclient.Signer, cfg Config, logger *log.Logger) *Submitter {
	if cfg.Backoff == 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Submitter{
		chain:      chain,
		nonces:     nonces,
		signer:     signer,
		gasLimit:   cfg.GasLimit,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		log:        logger,
	}
}

// Result describes the outcome of a Submit call.
type Result struct {
	TxHash        common.Hash
	CorrelationID string
	Attempts      int
}

// Submit packs data against `to` and sends it, retrying per spec.md §4.2:
//   - NonceTooLow: resync next_nonce from chain, retry once.
//   - AlreadyKnown: treat as success (it was us).
//   - RpcUnavailable: bounded backoff retry, up to maxRetries.
//   - Reverted, InsufficientFunds: terminal, returned to caller immediately.
func (s *Submitter) Submit(ctx context.Context, to common.Address, data []byte) (Result, error) {
	correlationID := uuid.NewString()
	var lastErr error
	resynced := false

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		n, err := s.nonces.Acquire(ctx)
		if err != nil {
			return Result{}, err
		}

		pending, err := s.chain.Send(ctx, s.signer, to, data, n, s.gasLimit, nil)
		if err == nil {
			s.nonces.Commit(n)
			s.log.Printf("[submit %s] tx=%s nonce=%d attempt=%d", correlationID, pending.TxHash.Hex(), n, attempt)
			return Result{TxHash: pending.TxHash, CorrelationID: correlationID, Attempts: attempt}, nil
		}

		class := chainclient.ClassOf(err)
		lastErr = err

		switch class {
		case chainclient.ClassAlreadyKnown:
			// It was us; the nonce did get used.
			s.nonces.Commit(n)
			s.log.Printf("[submit %s] already known at nonce=%d, treating as success", correlationID, n)
			return Result{CorrelationID: correlationID, Attempts: attempt}, nil

		case chainclient.ClassNonceTooLow:
			if resynced {
				return Result{}, err
			}
			resynced = true
			s.log.Printf("[submit %s] nonce too low at %d, resyncing", correlationID, n)
			if _, rerr := s.nonces.Resync(ctx); rerr != nil {
				return Result{}, rerr
			}
			continue // retry once with the resynced nonce; counts against maxRetries

		case chainclient.ClassRpcUnavailable:
			s.log.Printf("[submit %s] rpc unavailable (attempt %d/%d): %v", correlationID, attempt, s.maxRetries, err)
			if attempt < s.maxRetries {
				select {
				case <-ctx.Done():
					return Result{}, ctx.Err()
				case <-time.After(s.backoff * time.Duration(attempt)):
				}
				continue
			}
			return Result{}, err

		case chainclient.ClassReverted, chainclient.ClassInsufficientFunds, chainclient.ClassReplacementUnderpriced:
			// Terminal for this call — caller drops the local record.
			return Result{}, err

		default:
			return Result{}, err
		}
	}

	return Result{}, lastErr
}
