// Package registry implements the VoterRegistry: admission of voters for an
// upcoming reward epoch, top-K-by-weight eviction, chilling, and the
// normalized-weight snapshot consumed when a new signing policy is built.
package registry

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/flare-foundation/signing-policy-relay/chill"
	ourcrypto "github.com/flare-foundation/signing-policy-relay/crypto"
	"github.com/flare-foundation/signing-policy-relay/entity"
	"github.com/flare-foundation/signing-policy-relay/metrics"
	"github.com/flare-foundation/signing-policy-relay/weight"
)

// Errors returned by Registry methods.
var (
	ErrVoterChilled             = errors.New("registry: voter is chilled for the next reward epoch")
	ErrWrongSigningAddress      = errors.New("registry: recovered signer does not match voter's signing address")
	ErrRegistrationNotOpen      = errors.New("registry: registration for this reward epoch is not open")
	ErrZeroWeight               = errors.New("registry: computed registration weight is zero")
	ErrVotePowerTooLow          = errors.New("registry: vote power too low to displace lowest-weight voter")
	ErrInitStartBlockAlreadySet = errors.New("registry: init start block already set for this epoch")
	ErrEpochNotOpen             = errors.New("registry: vote power block unknown for this epoch")
)

// WeightCalculator is the subset of weight.Calculator this registry depends on.
type WeightCalculator interface {
	CalculateRegistrationWeight(voter common.Address, rewardEpochId, votePowerBlock uint64) (*weight.RegistrationWeight, error)
}

// EntityManager is the subset of entity.Manager this registry depends on.
type EntityManager interface {
	SigningAddressOfAt(voter common.Address, block uint64) (common.Address, error)
}

var (
	_ WeightCalculator = (*weight.Calculator)(nil)
	_ EntityManager    = entity.Manager(nil)
)

// VoterRemoval records an eviction emitted during registerVoter's admission
// policy (spec.md §4.4 step 5).
type VoterRemoval struct {
	Voter         common.Address
	RewardEpochId uint64
}

// VoterRegistered is the event payload emitted on successful admission.
type VoterRegistered struct {
	Voter         common.Address
	RewardEpochId uint64
	Weight        *uint256.Int
}

// voterRecord is the per-reward-epoch admission state (spec.md §3).
type voterRecord struct {
	list                 []common.Address
	weight               map[common.Address]*uint256.Int
	weightsSum           *uint256.Int
	normalizedWeightsSum uint16
	normalized           map[common.Address]uint16
	initStartBlock       uint64
	initStartBlockSet    bool
	votePowerBlock       uint64
	votePowerBlockSet    bool

	// snapshotSigningAddresses and snapshotNormalized hold the last
	// CreateSigningPolicySnapshot result, aligned index-for-index with
	// list, so getRegisteredSigningPolicyAddresses/
	// getVoterWithNormalisedWeight (spec.md §6) can be answered by
	// repeated reads after the epoch boundary, without re-snapshotting.
	snapshotSigningAddresses []common.Address
	snapshotNormalized       []uint16
	snapshotted              bool
}

func newVoterRecord() *voterRecord {
	return &voterRecord{weight: make(map[common.Address]*uint256.Int)}
}

func (r *voterRecord) indexOf(voter common.Address) int {
	for i, v := range r.list {
		if v == voter {
			return i
		}
	}
	return -1
}

// Registry is the VoterRegistry. The zero value is not usable; construct
// with New.
type Registry struct {
	mu sync.Mutex

	maxVoters uint16

	entities EntityManager
	weights  WeightCalculator
	chill    *chill.Table

	records map[uint64]*voterRecord

	// CurrentRewardEpochId and CurrentBlockNumber model the host clock the
	// real contracts read from the system manager; tests supply fakes.
	CurrentRewardEpochId func() uint64
	CurrentBlockNumber   func() uint64

	// Removed and Registered record emitted events in call order, for
	// callers (or tests) that want to observe them without a full event bus.
	Removed    []VoterRemoval
	Registered []VoterRegistered
}

// New creates a VoterRegistry with the given admission cap and collaborators.
func New(maxVoters uint16, entities EntityManager, weights WeightCalculator, chillTable *chill.Table) *Registry {
	return &Registry{
		maxVoters: maxVoters,
		entities:  entities,
		weights:   weights,
		chill:     chillTable,
		records:   make(map[uint64]*voterRecord),
	}
}

func (r *Registry) recordFor(epoch uint64) *voterRecord {
	rec, ok := r.records[epoch]
	if !ok {
		rec = newVoterRecord()
		r.records[epoch] = rec
	}
	return rec
}

// SetNewSigningPolicyInitializationStartBlockNumber freezes the block number
// historical EntityManager reads are taken at for epoch e. Must be called
// exactly once per epoch (spec.md §4.4).
func (r *Registry) SetNewSigningPolicyInitializationStartBlockNumber(epoch, blockNumber uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.recordFor(epoch)
	if rec.initStartBlockSet {
		return ErrInitStartBlockAlreadySet
	}
	rec.initStartBlock = blockNumber
	rec.initStartBlockSet = true
	return nil
}

// OpenVotePowerBlock enables registration for epoch by fixing the vote-power
// block future registerVoter calls read weight at. This models "the voting
// power block is known and the phase is enabled" (spec.md §4.4 step 3).
func (r *Registry) OpenVotePowerBlock(epoch, votePowerBlock uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.recordFor(epoch)
	rec.votePowerBlock = votePowerBlock
	rec.votePowerBlockSet = true
}

// ChillVoter bars voter from registering until rewardEpochId + k (spec.md §4.4).
func (r *Registry) ChillVoter(voter common.Address, rewardEpochId uint64, k uint64) {
	r.chill.Chill(voter, rewardEpochId+k)
	metrics.VotersChilled.Inc()
}

// SigningAddressOfAt exposes the entity manager's signing-address lookup,
// so collaborators (the pre-registry) can verify signatures without holding
// their own entity manager reference.
func (r *Registry) SigningAddressOfAt(voter common.Address, block uint64) (common.Address, error) {
	return r.entities.SigningAddressOfAt(voter, block)
}

// RegisterVoter implements registerVoter: signature-gated self-registration
// for the next reward epoch (spec.md §4.4).
func (r *Registry) RegisterVoter(voter common.Address, eip191Digest common.Hash, sig *ourcrypto.CompactSignature) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	nextEpoch := r.CurrentRewardEpochId() + 1

	if u := r.chill.ChilledUntil(voter); u != 0 && nextEpoch < u {
		return ErrVoterChilled
	}

	sigRecover := ourcrypto.NewSigRecover()
	signer, err := sigRecover.SignatureToAddress(eip191Digest[:], sig)
	if err != nil {
		return err
	}

	rec := r.recordFor(nextEpoch)
	if !rec.initStartBlockSet {
		return ErrRegistrationNotOpen
	}

	expectedSigner, err := r.entities.SigningAddressOfAt(voter, rec.initStartBlock)
	if err != nil {
		return err
	}
	if signer != expectedSigner {
		return ErrWrongSigningAddress
	}

	return r.admit(voter, nextEpoch)
}

// SystemRegistration implements systemRegistration: the same admission path
// as RegisterVoter but without signature verification, callable only from
// the pre-registry switchover trigger (spec.md §4.4, §4.5).
func (r *Registry) SystemRegistration(voter common.Address, rewardEpochId uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	metrics.SystemRegistrations.Inc()
	return r.admit(voter, rewardEpochId)
}

// admit runs the shared admission policy (spec.md §4.4 steps 3-6). Caller
// must hold r.mu.
func (r *Registry) admit(voter common.Address, epoch uint64) error {
	rec := r.recordFor(epoch)
	if !rec.votePowerBlockSet {
		return ErrEpochNotOpen
	}

	rw, err := r.weights.CalculateRegistrationWeight(voter, epoch, rec.votePowerBlock)
	if err != nil {
		return err
	}
	w := rw.Weight
	if w.IsZero() {
		return ErrZeroWeight
	}

	if idx := rec.indexOf(voter); idx >= 0 {
		// Already registered: no-op success.
		return nil
	}

	if len(rec.list) < int(r.maxVoters) {
		rec.list = append(rec.list, voter)
		rec.weight[voter] = w
		r.Registered = append(r.Registered, VoterRegistered{Voter: voter, RewardEpochId: epoch, Weight: w})
		metrics.VotersRegistered.Inc()
		metrics.RegisteredVoterCount.Set(int64(len(rec.list)))
		return nil
	}

	minIdx, minWeight := 0, rec.weight[rec.list[0]]
	for i := 1; i < len(rec.list); i++ {
		wv := rec.weight[rec.list[i]]
		if wv.Lt(minWeight) {
			minIdx, minWeight = i, wv
		}
	}
	if !minWeight.Lt(w) {
		return ErrVotePowerTooLow
	}

	evicted := rec.list[minIdx]
	delete(rec.weight, evicted)
	rec.list[minIdx] = voter
	rec.weight[voter] = w
	r.Removed = append(r.Removed, VoterRemoval{Voter: evicted, RewardEpochId: epoch})
	r.Registered = append(r.Registered, VoterRegistered{Voter: voter, RewardEpochId: epoch, Weight: w})
	metrics.VotersEvicted.Inc()
	metrics.VotersRegistered.Inc()
	metrics.RegisteredVoterCount.Set(int64(len(rec.list)))
	return nil
}

// Snapshot is the result of createSigningPolicySnapshot: the frozen,
// insertion-ordered committee with normalized weights (spec.md §4.4).
type Snapshot struct {
	SigningAddresses     []common.Address
	Normalized           []uint16
	NormalizedWeightsSum uint16
	WeightsSum           *uint256.Int
}

const maxNormalizedWeight = (1 << 16) - 1

// CreateSigningPolicySnapshot freezes the admitted voter list for epoch into
// a normalized-weight committee snapshot (spec.md §4.4).
func (r *Registry) CreateSigningPolicySnapshot(epoch uint64) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[epoch]
	if !ok || len(rec.list) == 0 {
		return nil, ErrEpochNotOpen
	}

	weightsSum := new(uint256.Int)
	for _, v := range rec.list {
		weightsSum.Add(weightsSum, rec.weight[v])
	}

	signingAddresses := make([]common.Address, len(rec.list))
	normalized := make([]uint16, len(rec.list))
	var normalizedSum uint64

	for i, v := range rec.list {
		signer, err := r.entities.SigningAddressOfAt(v, rec.initStartBlock)
		if err != nil {
			return nil, err
		}
		signingAddresses[i] = signer

		num := new(uint256.Int).Mul(rec.weight[v], uint256.NewInt(maxNormalizedWeight))
		num.Div(num, weightsSum)
		n := uint16(num.Uint64())
		normalized[i] = n
		normalizedSum += uint64(n)
	}

	rec.weightsSum = weightsSum
	rec.normalizedWeightsSum = uint16(normalizedSum)
	rec.snapshotSigningAddresses = signingAddresses
	rec.snapshotNormalized = normalized
	rec.snapshotted = true

	return &Snapshot{
		SigningAddresses:     signingAddresses,
		Normalized:           normalized,
		NormalizedWeightsSum: uint16(normalizedSum),
		WeightsSum:           weightsSum,
	}, nil
}

// InitStartBlockOf returns the frozen initialization start block for epoch,
// and whether it has been set yet.
func (r *Registry) InitStartBlockOf(epoch uint64) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[epoch]
	if !ok || !rec.initStartBlockSet {
		return 0, false
	}
	return rec.initStartBlock, true
}

// IsRegistrationOpen reports whether epoch's vote-power block has been
// fixed, i.e. registerVoter/systemRegistration calls for epoch are accepted.
func (r *Registry) IsRegistrationOpen(epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[epoch]
	return ok && rec.votePowerBlockSet
}

// RegisteredVoters returns epoch's admitted voter list in insertion order.
func (r *Registry) RegisteredVoters(epoch uint64) []common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[epoch]
	if !ok {
		return nil
	}
	out := make([]common.Address, len(rec.list))
	copy(out, rec.list)
	return out
}

// IsVoterRegistered reports whether voter is admitted for epoch.
func (r *Registry) IsVoterRegistered(voter common.Address, epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[epoch]
	if !ok {
		return false
	}
	return rec.indexOf(voter) >= 0
}

// NumberOfRegisteredVoters returns the number of admitted voters for epoch.
func (r *Registry) NumberOfRegisteredVoters(epoch uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[epoch]
	if !ok {
		return 0
	}
	return len(rec.list)
}

// GetRegisteredSigningPolicyAddresses returns epoch's snapshot signing
// addresses in committee (insertion) order, implementing
// getRegisteredSigningPolicyAddresses (spec.md §6). Requires
// CreateSigningPolicySnapshot to have run for epoch.
func (r *Registry) GetRegisteredSigningPolicyAddresses(epoch uint64) ([]common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[epoch]
	if !ok || !rec.snapshotted {
		return nil, ErrEpochNotOpen
	}
	out := make([]common.Address, len(rec.snapshotSigningAddresses))
	copy(out, rec.snapshotSigningAddresses)
	return out, nil
}

// GetVoterWithNormalisedWeight returns the voter address and normalized
// weight for the committee member whose snapshot signing address is
// signer, implementing getVoterWithNormalisedWeight (spec.md §6). Requires
// CreateSigningPolicySnapshot to have run for epoch.
func (r *Registry) GetVoterWithNormalisedWeight(epoch uint64, signer common.Address) (voter common.Address, normalizedWeight uint16, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[epoch]
	if !ok || !rec.snapshotted {
		return common.Address{}, 0, false
	}
	for i, s := range rec.snapshotSigningAddresses {
		if s == signer {
			return rec.list[i], rec.snapshotNormalized[i], true
		}
	}
	return common.Address{}, 0, false
}
