// Package nonce implements the per-signer nonce counter described in
// spec.md §4.2: a monotonic counter seeded from the chain at startup,
// advanced only on confirmed submission, and resynchronized on demand when
// the chain reports NonceTooLow.
package nonce

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ChainReader is the subset of chainclient.Client the Manager needs to
// (re)seed its counter. Kept narrow so tests can fake it without a real
// RPC endpoint.
type ChainReader interface {
	TransactionCount(ctx context.Context, address common.Address) (uint64, error)
}

// Manager holds next_nonce for a single signer address. All access is
// serialized by mu — the Submitter is the only component allowed to call
// Acquire/Commit/Resync, per spec.md §9 ("isolate behind the Nonce
// Manager; the submitter is the only component that advances or resyncs").
type Manager struct {
	mu      sync.Mutex
	next    uint64
	seeded  bool
	address common.Address
	chain   ChainReader
}

// New returns a Manager for address, reading chain for (re)seeding.
func New(address common.Address, chain ChainReader) *Manager {
	return &Manager{address: address, chain: chain}
}

// Seed initializes next_nonce from the chain if it has not been seeded yet.
// Called once at startup; idempotent afterwards.
func (m *Manager) Seed(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seeded {
		return nil
	}
	n, err := m.chain.TransactionCount(ctx, m.address)
	if err != nil {
		return fmt.Errorf("seed nonce: %w", err)
	}
	m.next = n
	m.seeded = true
	return nil
}

// Acquire returns the nonce to use for the next submission. It does NOT
// advance next_nonce — that only happens on Commit, so a failed send never
// leaves a permanent gap (this replaces the source's pre-increment, see
// DESIGN.md's Open Question decision).
func (m *Manager) Acquire(ctx context.Context) (uint64, error) {
	if err := m.Seed(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next, nil
}

// Commit advances next_nonce past the nonce that was just used
// successfully. Call exactly once per confirmed submission.
func (m *Manager) Commit(usedNonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if usedNonce >= m.next {
		m.next = usedNonce + 1
	}
}

// Resync re-reads next_nonce from the chain, discarding the locally held
// value. Called by the Submitter after a NonceTooLow response.
func (m *Manager) Resync(ctx context.Context) (uint64, error) {
	n, err := m.chain.TransactionCount(ctx, m.address)
	if err != nil {
		return 0, fmt.Errorf("resync nonce: %w", err)
	}
	m.mu.Lock()
	m.next = n
	m.seeded = true
	m.mu.Unlock()
	return n, nil
}

// Peek returns the current next_nonce without acquiring it, for status
// reporting / tests.
func (m *Manager) Peek() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}
