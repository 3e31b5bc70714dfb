// Package entity exposes the narrow capability view this module needs from
// an external EntityManager: voter -> (signing, submit, submit-signatures,
// delegation) address and node-id lookups at a historical block.
//
// Per spec.md §9's polymorphism design note, the core never depends on a
// concrete contract binding here -- only on this interface -- so it can be
// satisfied by a real chain client, a mock, or the deterministic fake below.
package entity

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownVoter is returned by view lookups for a voter the manager has
// no record of at the requested block.
var ErrUnknownVoter = errors.New("entity: unknown voter at requested block")

// Manager is the read-only view of the external EntityManager contract.
// All lookups are at a specific historical block so that registration
// weight computed during one reward epoch is reproducible.
type Manager interface {
	// SigningAddressOfAt returns the signing address voter had registered
	// as of block.
	SigningAddressOfAt(voter common.Address, block uint64) (common.Address, error)
	// SubmitAddressOfAt returns the submit1/submit2 address.
	SubmitAddressOfAt(voter common.Address, block uint64) (common.Address, error)
	// SubmitSignaturesAddressOfAt returns the submitSignatures address.
	SubmitSignaturesAddressOfAt(voter common.Address, block uint64) (common.Address, error)
	// DelegationAddressOfAt returns the wNat delegation address.
	DelegationAddressOfAt(voter common.Address, block uint64) (common.Address, error)
	// NodeIDsOfAt returns the P-Chain node IDs voter had staked as of block.
	NodeIDsOfAt(voter common.Address, block uint64) ([][20]byte, error)
}

// registration bundles the addresses and node IDs a voter registers with
// the entity manager, all valid from a given block onward.
type registration struct {
	fromBlock          uint64
	signing            common.Address
	submit             common.Address
	submitSignatures   common.Address
	delegation         common.Address
	nodeIDs            [][20]byte
}

// MemManager is a deterministic in-memory EntityManager fake. Each voter
// may have multiple registrations over time; lookups resolve to the latest
// registration with fromBlock <= the requested block.
type MemManager struct {
	mu   sync.RWMutex
	regs map[common.Address][]registration
}

// NewMemManager creates an empty in-memory EntityManager fake.
func NewMemManager() *MemManager {
	return &MemManager{regs: make(map[common.Address][]registration)}
}

// Register records voter's addresses and node IDs as effective from
// fromBlock onward. Registrations for the same voter may be added in any
// order; lookups always pick the latest one not after the query block.
func (m *MemManager) Register(voter common.Address, fromBlock uint64, signing, submit, submitSignatures, delegation common.Address, nodeIDs [][20]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[voter] = append(m.regs[voter], registration{
		fromBlock:        fromBlock,
		signing:          signing,
		submit:           submit,
		submitSignatures: submitSignatures,
		delegation:       delegation,
		nodeIDs:          nodeIDs,
	})
}

func (m *MemManager) resolve(voter common.Address, block uint64) (registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	regs := m.regs[voter]
	var best *registration
	for i := range regs {
		if regs[i].fromBlock > block {
			continue
		}
		if best == nil || regs[i].fromBlock > best.fromBlock {
			best = &regs[i]
		}
	}
	if best == nil {
		return registration{}, ErrUnknownVoter
	}
	return *best, nil
}

func (m *MemManager) SigningAddressOfAt(voter common.Address, block uint64) (common.Address, error) {
	r, err := m.resolve(voter, block)
	if err != nil {
		return common.Address{}, err
	}
	return r.signing, nil
}

func (m *MemManager) SubmitAddressOfAt(voter common.Address, block uint64) (common.Address, error) {
	r, err := m.resolve(voter, block)
	if err != nil {
		return common.Address{}, err
	}
	return r.submit, nil
}

func (m *MemManager) SubmitSignaturesAddressOfAt(voter common.Address, block uint64) (common.Address, error) {
	r, err := m.resolve(voter, block)
	if err != nil {
		return common.Address{}, err
	}
	return r.submitSignatures, nil
}

func (m *MemManager) DelegationAddressOfAt(voter common.Address, block uint64) (common.Address, error) {
	r, err := m.resolve(voter, block)
	if err != nil {
		return common.Address{}, err
	}
	return r.delegation, nil
}

func (m *MemManager) NodeIDsOfAt(voter common.Address, block uint64) ([][20]byte, error) {
	r, err := m.resolve(voter, block)
	if err != nil {
		return nil, err
	}
	return r.nodeIDs, nil
}
