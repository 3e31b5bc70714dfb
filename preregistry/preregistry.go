// Package preregistry implements the VoterPreRegistry: collecting eligible
// voters before registration opens for a reward epoch, then replaying them
// into the VoterRegistry at switchover (spec.md §4.5).
package preregistry

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	ourcrypto "github.com/flare-foundation/signing-policy-relay/crypto"
	"github.com/flare-foundation/signing-policy-relay/metrics"
)

// Errors returned by PreRegistry methods.
var (
	ErrRegistrationAlreadyOpen = errors.New("preregistry: registration for the next reward epoch has already opened")
	ErrNotCurrentlyRegistered  = errors.New("preregistry: voter is not registered for the current reward epoch")
	ErrWrongSigningAddress     = errors.New("preregistry: recovered signer does not match voter's signing address")
	ErrAlreadyPreRegistered    = errors.New("preregistry: voter already pre-registered for this epoch")
)

// VoterRegistrationFailed is the event emitted for a per-voter failure
// inside TriggerVoterRegistration; the batch continues regardless.
type VoterRegistrationFailed struct {
	Voter         common.Address
	RewardEpochId uint64
	Err           error
}

// Registry is the subset of registry.Registry this component depends on.
type Registry interface {
	IsRegistrationOpen(epoch uint64) bool
	IsVoterRegistered(voter common.Address, epoch uint64) bool
	InitStartBlockOf(epoch uint64) (uint64, bool)
	SigningAddressOfAt(voter common.Address, block uint64) (common.Address, error)
	SystemRegistration(voter common.Address, epoch uint64) error
}

// PreRegistry collects pre-registration candidates per reward epoch.
type PreRegistry struct {
	mu sync.Mutex

	registry Registry

	// CurrentRewardEpochId models the host clock.
	CurrentRewardEpochId func() uint64

	sets map[uint64][]common.Address
	seen map[uint64]map[common.Address]bool

	Failed []VoterRegistrationFailed
}

// New creates an empty VoterPreRegistry bound to registry.
func New(registry Registry) *PreRegistry {
	return &PreRegistry{
		registry: registry,
		sets:     make(map[uint64][]common.Address),
		seen:     make(map[uint64]map[common.Address]bool),
	}
}

// PreRegisterVoter implements preRegisterVoter (spec.md §4.5).
func (p *PreRegistry) PreRegisterVoter(voter common.Address, eip191Digest common.Hash, sig *ourcrypto.CompactSignature) (err error) {
	defer func() {
		if err != nil {
			metrics.PreRegistrationsRejected.Inc()
		} else {
			metrics.PreRegistrationsAccepted.Inc()
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	currentEpoch := p.CurrentRewardEpochId()
	nextEpoch := currentEpoch + 1

	if p.registry.IsRegistrationOpen(nextEpoch) {
		return ErrRegistrationAlreadyOpen
	}
	if !p.registry.IsVoterRegistered(voter, currentEpoch) {
		return ErrNotCurrentlyRegistered
	}

	sigRecover := ourcrypto.NewSigRecover()
	signer, err := sigRecover.SignatureToAddress(eip191Digest[:], sig)
	if err != nil {
		return err
	}

	block, ok := p.registry.InitStartBlockOf(currentEpoch)
	if !ok {
		return ErrNotCurrentlyRegistered
	}
	expectedSigner, err := p.registry.SigningAddressOfAt(voter, block)
	if err != nil {
		return err
	}
	if signer != expectedSigner {
		return ErrWrongSigningAddress
	}

	if p.seen[nextEpoch] == nil {
		p.seen[nextEpoch] = make(map[common.Address]bool)
	}
	if p.seen[nextEpoch][voter] {
		return ErrAlreadyPreRegistered
	}
	p.seen[nextEpoch][voter] = true
	p.sets[nextEpoch] = append(p.sets[nextEpoch], voter)
	return nil
}

// TriggerVoterRegistration replays epoch's pre-registered set into the
// registry in insertion order; per-voter failures are recorded in Failed
// and do not abort the batch (spec.md §4.5, §7).
func (p *PreRegistry) TriggerVoterRegistration(epoch uint64) {
	p.mu.Lock()
	voters := append([]common.Address(nil), p.sets[epoch]...)
	p.mu.Unlock()

	for _, v := range voters {
		if err := p.registry.SystemRegistration(v, epoch); err != nil {
			p.mu.Lock()
			p.Failed = append(p.Failed, VoterRegistrationFailed{Voter: v, RewardEpochId: epoch, Err: err})
			p.mu.Unlock()
			metrics.TriggerRegistrationFailures.Inc()
		}
	}
}

// PreRegisteredVoters returns epoch's pre-registered set in insertion order.
func (p *PreRegistry) PreRegisteredVoters(epoch uint64) []common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]common.Address, len(p.sets[epoch]))
	copy(out, p.sets[epoch])
	return out
}
