// Package relay implements the Relay: the single entry point that
// initializes, rotates, and verifies signed Merkle-root submissions against
// a chain of committee-signed SigningPolicy descriptors (spec.md §4.2).
//
// All three dispatch modes share the same first segment: a reference
// SigningPolicy the caller claims is already installed. The mode is
// distinguished purely by input length and the discriminator byte
// immediately following the reference policy's wire bytes.
package relay

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	ourcrypto "github.com/flare-foundation/signing-policy-relay/crypto"
	"github.com/flare-foundation/signing-policy-relay/metrics"
	"github.com/flare-foundation/signing-policy-relay/policy"
	"github.com/flare-foundation/signing-policy-relay/sigagg"
)

// MessageLength is the fixed size of a mode-3 protocol message: protocolId(1)
// || votingRoundId(4) || randomQualityScore(1) || merkleRoot(32).
const MessageLength = 38

// modeDispatchFloor is the minimum trailing byte count (beyond the
// reference policy) required to attempt a mode-2 parse: the 1-byte
// discriminator plus the first 11 bytes of the new policy (N, rewardEpochId,
// startingVotingRoundId, threshold), from which its wire length is derived.
const modeDispatchFloor = 12

// Errors returned by Core.Relay, carrying the exact revert strings named in
// spec.md §6.
var (
	ErrAlreadyInitialized = errors.New("Already initialized")
	ErrHashMismatch       = errors.New("Signing policy hash mismatch")
	ErrTooShortMessage    = errors.New("Too short message")
	ErrDelayedSignPolicy  = errors.New("Delayed sign policy")
	ErrWrongRewardEpoch   = errors.New("Wrong sign policy reward epoch")
	ErrNoNewPolicySize    = errors.New("No new sign policy size")
	ErrWrongNewPolicySize = errors.New("Wrong size for new sign policy")
	ErrNotNextRewardEpoch = errors.New("Not next reward epoch")
)

// ErrRootAlreadySet is returned by a mode-3 submission for a
// (protocolId, votingRoundId) pair that already has a Merkle root recorded.
//
// spec.md §9 flags this as an Open Question: the source silently overwrites.
// This implementation sides with the Data Model's write-once invariant
// (§3: "merkleRoots entries are write-once (never overwritten)") over the
// flagged behavior -- see DESIGN.md.
var ErrRootAlreadySet = errors.New("relay: merkle root already set for this protocol id and voting round")

// Config holds the deploy-time constants needed to translate a voting round
// into the reward epoch that is authoritative for it, and the threshold
// escalation applied to forward-relayed (previous-committee) messages.
type Config struct {
	FirstRewardEpochVotingRoundId uint64
	RewardEpochDurationInEpochs   uint64
	// ThresholdIncreasePercent scales the threshold required of a message
	// signed by the previous committee for the next epoch's voting rounds.
	// spec.md §4.2 fixes this at 120 (a 20% increase).
	ThresholdIncreasePercent uint64
}

// DefaultThresholdIncreasePercent is spec.md §4.2's fixed escalation factor.
const DefaultThresholdIncreasePercent = 120

// RewardEpochIdFromVotingRoundId implements
// rewardEpochIdFromVotingRoundId(r) = (r - firstRewardEpochVotingRoundId) / rewardEpochDurationInEpochs
// (spec.md §4.2). Core.Relay uses it to find the reward epoch authoritative
// for a mode-3 message; weight.BurnFactor and registry.Registry do not call it.
func (c Config) RewardEpochIdFromVotingRoundId(votingRoundId uint64) uint64 {
	return (votingRoundId - c.FirstRewardEpochVotingRoundId) / c.RewardEpochDurationInEpochs
}

// rootKey identifies one (protocolId, votingRoundId) Merkle root slot.
type rootKey struct {
	protocolId    uint8
	votingRoundId uint32
}

// State is the Relay's persistent state (spec.md §3 RelayState): the highest
// installed reward epoch, the hash installed for every initialized epoch,
// and the write-once Merkle roots. Reads are safe for concurrent use (the
// query API reads State while Core.Relay serializes writes).
type State struct {
	mu sync.RWMutex

	lastInitializedRewardEpoch uint64
	policyHashByEpoch          map[uint64]common.Hash
	merkleRoots                map[rootKey]common.Hash
}

// NewState creates an empty RelayState.
func NewState() *State {
	return &State{
		policyHashByEpoch: make(map[uint64]common.Hash),
		merkleRoots:       make(map[rootKey]common.Hash),
	}
}

// LastInitializedRewardEpoch returns the highest reward epoch with an
// installed signing policy.
func (s *State) LastInitializedRewardEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastInitializedRewardEpoch
}

// PolicyHash returns the installed policy hash for epoch, or the zero hash
// if none is installed.
func (s *State) PolicyHash(epoch uint64) common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policyHashByEpoch[epoch]
}

// MerkleRoot returns the accepted root for (protocolId, votingRoundId), or
// the zero hash if none has been finalized yet.
func (s *State) MerkleRoot(protocolId uint8, votingRoundId uint32) common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.merkleRoots[rootKey{protocolId, votingRoundId}]
}

// Core is the Relay's single entry point. The zero value is not usable;
// construct with New.
type Core struct {
	// writeMu serializes Relay calls. spec.md §5 models the execution host
	// as a single-threaded deterministic sequencer: every entry point runs
	// to completion without interleaving. This mutex is the Go-host
	// equivalent of that guarantee, not a performance optimization.
	writeMu sync.Mutex

	cfg      Config
	state    *State
	verifier *sigagg.Verifier
}

// New creates a Relay Core with the given configuration, an empty RelayState,
// and a signature verifier with the default cache capacity.
func New(cfg Config) *Core {
	if cfg.ThresholdIncreasePercent == 0 {
		cfg.ThresholdIncreasePercent = DefaultThresholdIncreasePercent
	}
	return &Core{
		cfg:      cfg,
		state:    NewState(),
		verifier: sigagg.NewVerifier(0),
	}
}

// State returns the Relay's persistent state for read access (e.g. by the
// query API).
func (c *Core) State() *State {
	return c.state
}

// Relay is the sole entry point, dispatching on input length and the
// discriminator byte following the reference policy, per spec.md §4.2.
func (c *Core) Relay(input []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if len(input) < policy.HeaderLength {
		return policy.ErrInvalidPolicyLength
	}
	n := int(binary.BigEndian.Uint16(input[0:2]))
	l := policy.WireLength(n)
	if len(input) < l {
		return policy.ErrInvalidPolicyLength
	}

	var err error
	switch {
	case len(input) == l:
		err = c.mode1(input[:l])
	case len(input) >= l+modeDispatchFloor && input[l] == 0:
		err = c.mode2(input, l)
	case len(input) >= l+MessageLength && input[l] != 0:
		err = c.mode3(input, l)
	default:
		err = ErrTooShortMessage
	}
	if err != nil {
		metrics.RelayRejections.Inc()
	}
	return err
}

// mode1 implements the initial install (spec.md §4.2 Mode 1).
func (c *Core) mode1(refWire []byte) error {
	ref, err := policy.Decode(refWire)
	if err != nil {
		return err
	}
	if err := ref.Validate(); err != nil {
		return policy.ErrInvalidPolicyMetadata
	}

	epoch := uint64(ref.RewardEpochId)

	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.lastInitializedRewardEpoch != 0 {
		return ErrAlreadyInitialized
	}
	if _, set := c.state.policyHashByEpoch[epoch]; set {
		return ErrAlreadyInitialized
	}

	c.state.lastInitializedRewardEpoch = epoch
	c.state.policyHashByEpoch[epoch] = policy.HashFromWire(refWire)

	metrics.RewardEpochInstalled.Inc()
	metrics.CurrentThresholdWeight.Set(int64(ref.Threshold))
	metrics.CurrentVoterCount.Set(int64(len(ref.Voters)))
	return nil
}

// mode2 implements policy rotation under the old committee's signatures
// (spec.md §4.2 Mode 2).
func (c *Core) mode2(input []byte, l int) error {
	ref, err := policy.Decode(input[:l])
	if err != nil {
		return err
	}
	refHash := policy.HashFromWire(input[:l])

	c.state.mu.RLock()
	stored, ok := c.state.policyHashByEpoch[uint64(ref.RewardEpochId)]
	lastEpoch := c.state.lastInitializedRewardEpoch
	c.state.mu.RUnlock()
	if !ok || stored != refHash {
		return ErrHashMismatch
	}

	rest := input[l+1:]
	if len(rest) < policy.HeaderLength {
		return ErrNoNewPolicySize
	}
	nPrime := int(binary.BigEndian.Uint16(rest[0:2]))
	lPrime := policy.WireLength(nPrime)
	if len(rest) < lPrime {
		return ErrWrongNewPolicySize
	}

	newWire := rest[:lPrime]
	newPolicy, err := policy.Decode(newWire)
	if err != nil {
		return err
	}
	if err := newPolicy.Validate(); err != nil {
		return policy.ErrInvalidPolicyMetadata
	}
	if uint64(newPolicy.RewardEpochId) != lastEpoch+1 {
		return ErrNotNextRewardEpoch
	}

	sigs := rest[lPrime:]
	digest := policy.HashFromWire(newWire)
	if err := c.verifier.Verify(ref, digest, sigs, uint64(ref.Threshold)); err != nil {
		return err
	}

	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	c.state.lastInitializedRewardEpoch = uint64(newPolicy.RewardEpochId)
	c.state.policyHashByEpoch[uint64(newPolicy.RewardEpochId)] = digest

	metrics.SigningPolicyRotations.Inc()
	metrics.CurrentThresholdWeight.Set(int64(newPolicy.Threshold))
	metrics.CurrentVoterCount.Set(int64(len(newPolicy.Voters)))
	return nil
}

// mode3 implements a committee-signed protocol message carrying an opaque
// Merkle root (spec.md §4.2 Mode 3).
func (c *Core) mode3(input []byte, l int) error {
	ref, err := policy.Decode(input[:l])
	if err != nil {
		return err
	}
	refHash := policy.HashFromWire(input[:l])

	c.state.mu.RLock()
	stored, ok := c.state.policyHashByEpoch[uint64(ref.RewardEpochId)]
	c.state.mu.RUnlock()
	if !ok || stored != refHash {
		return ErrHashMismatch
	}

	msg := input[l : l+MessageLength]
	protocolId := msg[0]
	votingRoundId := binary.BigEndian.Uint32(msg[1:5])
	var merkleRoot common.Hash
	copy(merkleRoot[:], msg[6:38])

	refEpoch := uint64(ref.RewardEpochId)
	messageEpoch := c.cfg.RewardEpochIdFromVotingRoundId(uint64(votingRoundId))
	if messageEpoch < refEpoch || messageEpoch > refEpoch+1 {
		return ErrWrongRewardEpoch
	}

	threshold := uint64(ref.Threshold)
	if messageEpoch == refEpoch {
		if uint64(votingRoundId) < uint64(ref.StartingVotingRoundId) {
			return ErrDelayedSignPolicy
		}
	} else {
		threshold = threshold * c.cfg.ThresholdIncreasePercent / 100
	}

	sigs := input[l+MessageLength:]
	digest := ourcrypto.Keccak256Hash(msg)
	if err := c.verifier.Verify(ref, digest, sigs, threshold); err != nil {
		return err
	}

	key := rootKey{protocolId, votingRoundId}
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if existing, set := c.state.merkleRoots[key]; set && existing != (common.Hash{}) {
		return ErrRootAlreadySet
	}
	c.state.merkleRoots[key] = merkleRoot

	metrics.ProtocolMessagesRelayed.Inc()
	return nil
}
