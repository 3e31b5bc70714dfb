// Package chill implements the chill table shared by the voter registry and
// the weight calculator: a voter (or node, or delegation address) barred
// from counting until a given reward epoch.
package chill

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Table is a concurrent-safe chill table. The zero value is not usable;
// construct with New.
type Table struct {
	mu    sync.RWMutex
	until map[common.Address]uint64
}

// New creates an empty chill table.
func New() *Table {
	return &Table{until: make(map[common.Address]uint64)}
}

// Chill bars addr from counting until rewardEpochId untilEpoch (inclusive
// lower bound at which it becomes eligible again).
func (t *Table) Chill(addr common.Address, untilEpoch uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.until[addr] = untilEpoch
}

// ChilledUntil returns the reward epoch at which addr becomes eligible
// again, or 0 if addr is not chilled.
func (t *Table) ChilledUntil(addr common.Address) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.until[addr]
}

// IsChilledAt reports whether addr is still barred as of rewardEpochId.
// A zero ChilledUntil means "not chilled".
func (t *Table) IsChilledAt(addr common.Address, rewardEpochId uint64) bool {
	u := t.ChilledUntil(addr)
	return u != 0 && rewardEpochId < u
}
