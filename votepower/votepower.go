// Package votepower exposes the narrow capability views this module needs
// from the external wNat and pChainStakeMirror vote-power providers.
package votepower

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// WNatProvider is the read-only view of the wNat vote-power contract.
type WNatProvider interface {
	// TotalVotePowerAt returns the total wNat vote power at block.
	TotalVotePowerAt(block uint64) (*uint256.Int, error)
	// VotePowerOfAt returns addr's wNat vote power at block.
	VotePowerOfAt(addr common.Address, block uint64) (*uint256.Int, error)
}

// PChainStakeMirrorProvider is the read-only view of the P-Chain stake
// mirror contract. When the mirror is disabled, implementations should
// return zero values rather than an error (per spec.md §4.3 step 1).
type PChainStakeMirrorProvider interface {
	// BatchVotePowerAt returns the stake amount for each of nodeIDs at
	// block, in the same order. Disabled nodes/providers return zeros.
	BatchVotePowerAt(nodeIDs [][20]byte, block uint64) ([]*uint256.Int, error)
}

// MemWNat is a deterministic in-memory WNatProvider fake. Vote power is
// recorded as a flat snapshot per block; querying a block with no
// snapshot falls back to the latest snapshot not after that block.
type MemWNat struct {
	mu        sync.RWMutex
	snapshots []wnatSnapshot
}

type wnatSnapshot struct {
	block    uint64
	total    *uint256.Int
	balances map[common.Address]*uint256.Int
}

// NewMemWNat creates an empty in-memory wNat fake.
func NewMemWNat() *MemWNat {
	return &MemWNat{}
}

// SetSnapshot records the total vote power and per-address balances
// effective from block onward.
func (w *MemWNat) SetSnapshot(block uint64, total *uint256.Int, balances map[common.Address]*uint256.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := make(map[common.Address]*uint256.Int, len(balances))
	for a, v := range balances {
		cp[a] = new(uint256.Int).Set(v)
	}
	w.snapshots = append(w.snapshots, wnatSnapshot{block: block, total: new(uint256.Int).Set(total), balances: cp})
}

func (w *MemWNat) resolve(block uint64) *wnatSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var best *wnatSnapshot
	for i := range w.snapshots {
		if w.snapshots[i].block > block {
			continue
		}
		if best == nil || w.snapshots[i].block > best.block {
			best = &w.snapshots[i]
		}
	}
	return best
}

func (w *MemWNat) TotalVotePowerAt(block uint64) (*uint256.Int, error) {
	s := w.resolve(block)
	if s == nil {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Set(s.total), nil
}

func (w *MemWNat) VotePowerOfAt(addr common.Address, block uint64) (*uint256.Int, error) {
	s := w.resolve(block)
	if s == nil {
		return new(uint256.Int), nil
	}
	if v, ok := s.balances[addr]; ok {
		return new(uint256.Int).Set(v), nil
	}
	return new(uint256.Int), nil
}

// MemPChainMirror is a deterministic in-memory PChainStakeMirrorProvider
// fake. When Enabled is false it behaves as a disabled mirror, always
// returning zeros (per spec.md §4.3).
type MemPChainMirror struct {
	mu      sync.RWMutex
	Enabled bool
	stakes  map[[20]byte]*uint256.Int
}

// NewMemPChainMirror creates an enabled, empty in-memory mirror fake.
func NewMemPChainMirror() *MemPChainMirror {
	return &MemPChainMirror{Enabled: true, stakes: make(map[[20]byte]*uint256.Int)}
}

// SetStake records nodeID's stake amount, ignoring the historical block
// (this fake has no per-block stake history; callers needing that should
// maintain multiple MemPChainMirror instances keyed by epoch).
func (p *MemPChainMirror) SetStake(nodeID [20]byte, stake *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stakes[nodeID] = new(uint256.Int).Set(stake)
}

func (p *MemPChainMirror) BatchVotePowerAt(nodeIDs [][20]byte, block uint64) ([]*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*uint256.Int, len(nodeIDs))
	for i, id := range nodeIDs {
		if !p.Enabled {
			out[i] = new(uint256.Int)
			continue
		}
		if v, ok := p.stakes[id]; ok {
			out[i] = new(uint256.Int).Set(v)
		} else {
			out[i] = new(uint256.Int)
		}
	}
	return out, nil
}
