// Package host implements the dependency-container wiring spec.md §9 calls
// for: the relay, registry, pre-registry, weight calculator, and submission
// gate all reference each other by name, and the concrete collaborators
// (entity manager, vote-power providers, fee schedule, chill table) are
// supplied after construction rather than baked into a constructor that
// would otherwise have to resolve a cyclic import. Forbids calls through a
// slot that was never populated with a clear error kind instead of a nil
// pointer panic.
package host

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flare-foundation/signing-policy-relay/chill"
	"github.com/flare-foundation/signing-policy-relay/entity"
	"github.com/flare-foundation/signing-policy-relay/fees"
	"github.com/flare-foundation/signing-policy-relay/preregistry"
	"github.com/flare-foundation/signing-policy-relay/registry"
	"github.com/flare-foundation/signing-policy-relay/relay"
	"github.com/flare-foundation/signing-policy-relay/submission"
	"github.com/flare-foundation/signing-policy-relay/votepower"
	"github.com/flare-foundation/signing-policy-relay/weight"
)

// ErrSlotNotPopulated is returned by an accessor when the corresponding
// dependency has not been wired in yet.
var ErrSlotNotPopulated = errors.New("host: dependency slot not populated")

// Host is the relay node's dependency container: it owns every component's
// concrete instance and the collaborators wired between them, built once at
// process start. The zero value is not usable; construct with New.
type Host struct {
	mu sync.RWMutex

	entities entity.Manager
	wNat     votepower.WNatProvider
	pChain   votepower.PChainStakeMirrorProvider
	fees     fees.Schedule
	chill    *chill.Table

	weights     *weight.Calculator
	registry    *registry.Registry
	preregistry *preregistry.PreRegistry
	relayCore   *relay.Core
	submission  *submission.Gate
}

// New creates an empty Host. Every slot starts unpopulated; callers must
// call the Set* methods before the corresponding Get* accessor succeeds.
func New() *Host {
	return &Host{}
}

// SetEntityManager populates the EntityManager slot.
func (h *Host) SetEntityManager(m entity.Manager) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entities = m
}

// EntityManager returns the populated EntityManager, or ErrSlotNotPopulated.
func (h *Host) EntityManager() (entity.Manager, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.entities == nil {
		return nil, ErrSlotNotPopulated
	}
	return h.entities, nil
}

// SetWNatProvider populates the wNat vote-power provider slot.
func (h *Host) SetWNatProvider(p votepower.WNatProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.wNat = p
}

// WNatProvider returns the populated wNat provider, or ErrSlotNotPopulated.
func (h *Host) WNatProvider() (votepower.WNatProvider, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.wNat == nil {
		return nil, ErrSlotNotPopulated
	}
	return h.wNat, nil
}

// SetPChainStakeMirror populates the P-Chain stake mirror provider slot.
func (h *Host) SetPChainStakeMirror(p votepower.PChainStakeMirrorProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pChain = p
}

// PChainStakeMirror returns the populated P-Chain stake mirror provider, or
// ErrSlotNotPopulated.
func (h *Host) PChainStakeMirror() (votepower.PChainStakeMirrorProvider, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.pChain == nil {
		return nil, ErrSlotNotPopulated
	}
	return h.pChain, nil
}

// SetFeeSchedule populates the fee percentage schedule slot.
func (h *Host) SetFeeSchedule(s fees.Schedule) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fees = s
}

// FeeSchedule returns the populated fee schedule, or ErrSlotNotPopulated.
func (h *Host) FeeSchedule() (fees.Schedule, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.fees == nil {
		return nil, ErrSlotNotPopulated
	}
	return h.fees, nil
}

// SetChillTable populates the shared chill table slot.
func (h *Host) SetChillTable(t *chill.Table) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chill = t
}

// ChillTable returns the populated chill table, or ErrSlotNotPopulated.
func (h *Host) ChillTable() (*chill.Table, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.chill == nil {
		return nil, ErrSlotNotPopulated
	}
	return h.chill, nil
}

// Build wires the weight calculator, voter registry, pre-registry, relay
// core, and submission gate from the previously populated collaborator
// slots. Requires EntityManager, WNatProvider, PChainStakeMirror,
// FeeSchedule, and ChillTable to already be set; returns ErrSlotNotPopulated
// if any is missing. wNatCapPPM bounds the wNat contribution to registration
// weight (spec.md §6); 0 falls back to weight.DefaultWNatCapPPM.
func (h *Host) Build(maxVoters uint16, epochManager common.Address, relayCfg relay.Config, wNatCapPPM uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.entities == nil || h.wNat == nil || h.pChain == nil || h.fees == nil || h.chill == nil {
		return ErrSlotNotPopulated
	}

	h.weights = &weight.Calculator{
		Entities:   h.entities,
		WNat:       h.wNat,
		PChain:     h.pChain,
		Chill:      h.chill,
		Fees:       h.fees,
		WNatCapPPM: wNatCapPPM,
	}
	h.registry = registry.New(maxVoters, h.entities, h.weights, h.chill)
	h.preregistry = preregistry.New(h.registry)
	h.relayCore = relay.New(relayCfg)
	h.submission = submission.New(epochManager)
	return nil
}

// WeightCalculator returns the built weight calculator, or
// ErrSlotNotPopulated if Build has not run yet.
func (h *Host) WeightCalculator() (*weight.Calculator, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.weights == nil {
		return nil, ErrSlotNotPopulated
	}
	return h.weights, nil
}

// Registry returns the built voter registry, or ErrSlotNotPopulated if
// Build has not run yet.
func (h *Host) Registry() (*registry.Registry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.registry == nil {
		return nil, ErrSlotNotPopulated
	}
	return h.registry, nil
}

// PreRegistry returns the built pre-registry, or ErrSlotNotPopulated if
// Build has not run yet.
func (h *Host) PreRegistry() (*preregistry.PreRegistry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.preregistry == nil {
		return nil, ErrSlotNotPopulated
	}
	return h.preregistry, nil
}

// Relay returns the built relay core, or ErrSlotNotPopulated if Build has
// not run yet.
func (h *Host) Relay() (*relay.Core, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.relayCore == nil {
		return nil, ErrSlotNotPopulated
	}
	return h.relayCore, nil
}

// SubmissionGate returns the built submission gate, or ErrSlotNotPopulated
// if Build has not run yet.
func (h *Host) SubmissionGate() (*submission.Gate, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.submission == nil {
		return nil, ErrSlotNotPopulated
	}
	return h.submission, nil
}
