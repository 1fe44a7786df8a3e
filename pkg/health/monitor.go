// Package health monitors per-chain RPC reachability and block-height
// liveness, the two-EVM-chain analog of the teacher's consensus stall
// detector: instead of watching CometBFT height stop advancing, it
// watches each chain's RPC endpoint stop advancing blocks or stop
// responding at all.
package health

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrChainStalled indicates a chain's reported block height has not
// advanced within the stall threshold.
var ErrChainStalled = errors.New("health: chain stalled, no new blocks")

// ErrChainUnreachable indicates the chain's RPC endpoint failed to
// respond to a liveness check.
var ErrChainUnreachable = errors.New("health: chain endpoint unreachable")

// Checker is the minimal chain liveness probe (chainclient.Client
// satisfies this).
type Checker interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config configures a Monitor.
type Config struct {
	StallThreshold time.Duration // default 2 minutes
	CheckInterval  time.Duration // default 15 seconds
}

// DefaultConfig returns the teacher-derived defaults.
func DefaultConfig() Config {
	return Config{StallThreshold: 2 * time.Minute, CheckInterval: 15 * time.Second}
}

// Monitor watches one chain's reachability and block-height liveness.
type Monitor struct {
	mu sync.RWMutex

	name    string
	checker Checker

	stallThreshold time.Duration
	checkInterval  time.Duration

	lastHeight        uint64
	lastHeightChange  time.Time
	lastCheckTime     time.Time
	lastErr           error
	consecutiveStalls int
	isStalled         bool
	unreachable       bool

	onStall      func(name string, height uint64, d time.Duration)
	onRecovery   func(name string, height uint64)
	onUnreachable func(name string, err error)

	log *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a Monitor for one chain, identified by name ("asset" /
// "payment") in logs and status reports.
func New(name string, checker Checker, cfg Config, logger *log.Logger) *Monitor {
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = DefaultConfig().StallThreshold
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		name:           name,
		checker:        checker,
		stallThreshold: cfg.StallThreshold,
		checkInterval:  cfg.CheckInterval,
		log:            logger,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// OnStall registers a callback fired (in its own goroutine) the moment a
// stall is first detected.
func (m *Monitor) OnStall(fn func(name string, height uint64, d time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStall = fn
}

// OnRecovery registers a callback fired when block height resumes
// advancing after a stall.
func (m *Monitor) OnRecovery(fn func(name string, height uint64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecovery = fn
}

// OnUnreachable registers a callback fired each time a check's RPC call
// itself fails.
func (m *Monitor) OnUnreachable(fn func(name string, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnreachable = fn
}

// Run starts the periodic check loop; it blocks until Stop is called or
// ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// Stop halts the monitor's background loop.
func (m *Monitor) Stop() {
	m.cancel()
}

// Check performs a single on-demand liveness check and returns its
// classified error, if any.
func (m *Monitor) Check() error {
	return m.check()
}

func (m *Monitor) check() error {
	cctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	height, err := m.checker.BlockNumber(cctx)

	m.mu.Lock()
	now := time.Now()
	m.lastCheckTime = now

	if err != nil {
		m.unreachable = true
		m.lastErr = err
		cb := m.onUnreachable
		m.mu.Unlock()

		m.log.Printf("[health %s] unreachable: %v", m.name, err)
		if cb != nil {
			go cb(m.name, err)
		}
		return fmt.Errorf("%w: %v", ErrChainUnreachable, err)
	}
	defer m.mu.Unlock()
	m.unreachable = false
	m.lastErr = nil

	if m.lastHeightChange.IsZero() {
		m.lastHeight = height
		m.lastHeightChange = now
		return nil
	}

	if height == m.lastHeight {
		stallDuration := now.Sub(m.lastHeightChange)
		if stallDuration > m.stallThreshold {
			if !m.isStalled {
				m.isStalled = true
				m.consecutiveStalls++
				cb := m.onStall
				m.log.Printf("[health %s] stalled at height=%d duration=%v consecutive=%d", m.name, height, stallDuration, m.consecutiveStalls)
				if cb != nil {
					go cb(m.name, height, stallDuration)
				}
			}
			return fmt.Errorf("%s: %w (height=%d, %v)", m.name, ErrChainStalled, height, stallDuration)
		}
		return nil
	}

	wasStalled := m.isStalled
	m.lastHeight = height
	m.lastHeightChange = now
	m.isStalled = false
	if wasStalled {
		m.log.Printf("[health %s] recovered at height=%d", m.name, height)
		if cb := m.onRecovery; cb != nil {
			go cb(m.name, height)
		}
	}
	return nil
}

// Report is the JSON-serializable snapshot exposed by the Status
// Surface's /health endpoint.
type Report struct {
	Chain             string    `json:"chain"`
	Status            string    `json:"status"`
	LastBlockHeight   uint64    `json:"last_block_height"`
	LastHeightChange  time.Time `json:"last_height_change"`
	IsStalled         bool      `json:"is_stalled"`
	Unreachable       bool      `json:"unreachable"`
	ConsecutiveStalls int       `json:"consecutive_stalls"`
	LastCheckTime     time.Time `json:"last_check_time"`
	LastError         string    `json:"last_error,omitempty"`
}

// Snapshot returns the monitor's current status for reporting.
func (m *Monitor) Snapshot() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := "healthy"
	if m.unreachable {
		status = "unreachable"
	} else if m.isStalled {
		status = "stalled"
	}

	errText := ""
	if m.lastErr != nil {
		errText = m.lastErr.Error()
	}

	return Report{
		Chain:             m.name,
		Status:            status,
		LastBlockHeight:   m.lastHeight,
		LastHeightChange:  m.lastHeightChange,
		IsStalled:         m.isStalled,
		Unreachable:       m.unreachable,
		ConsecutiveStalls: m.consecutiveStalls,
		LastCheckTime:     m.lastCheckTime,
		LastError:         errText,
	}
}
