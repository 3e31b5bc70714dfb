// Package policy implements the SigningPolicy wire codec: the packed
// committee descriptor that identifies which addresses, at which weights,
// are authoritative for a reward epoch.
//
// Wire layout (big-endian, byte-packed, no alignment):
//
//	offset  size  field
//	0       2     N                         (number of voters)
//	2       3     rewardEpochId
//	5       4     startingVotingRoundId
//	9       2     threshold
//	11      32    randomSeed
//	43      22·N  N × (address[20] || weight[2])
//
// A policy's identity is the keccak-256 hash of its packed wire bytes.
package policy

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	ourcrypto "github.com/flare-foundation/signing-policy-relay/crypto"
)

// HeaderLength is the fixed-size prefix before the voter array: N(2) ||
// rewardEpochId(3) || startingVotingRoundId(4) || threshold(2) || randomSeed(32).
const HeaderLength = 43

// VoterEntryLength is the packed size of one (address, weight) voter entry.
const VoterEntryLength = 22

// Errors returned by the codec. Decode errors carry the exact revert string
// from the relay's external interface so callers translating to that
// surface need no lookup table.
var (
	ErrInvalidPolicyLength   = errors.New("Invalid sign policy length")
	ErrInvalidPolicyMetadata = errors.New("Invalid sign policy metadata")
	ErrDuplicateVoter        = errors.New("policy: duplicate voter address")
	ErrTooManyVoters         = errors.New("policy: voter count exceeds 2^16-1")
	ErrWeightSumOverflow     = errors.New("policy: sum of voter weights exceeds 2^16-1")
	ErrThresholdTooHigh      = errors.New("policy: threshold must be less than sum of weights")
	ErrNoVoters              = errors.New("policy: voter count must be at least 1")
)

// Voter is one committee member: a signing address and its fixed-point
// weight share.
type Voter struct {
	Address common.Address
	Weight  uint16
}

// Policy is the decoded SigningPolicy committee descriptor for one reward
// epoch.
type Policy struct {
	RewardEpochId         uint32 // 24-bit value, upper byte always zero
	StartingVotingRoundId uint32
	Threshold             uint16
	RandomSeed            [32]byte
	Voters                []Voter
}

// WireLength returns the exact wire size in bytes for a policy with n
// voters: 43 + 22*n.
func WireLength(n int) int {
	return HeaderLength + VoterEntryLength*n
}

// WeightSum returns the sum of the policy's voter weights.
func (p *Policy) WeightSum() uint64 {
	var sum uint64
	for _, v := range p.Voters {
		sum += uint64(v.Weight)
	}
	return sum
}

// Validate checks the structural invariants from the data model: unique
// addresses, N >= 1, weight sum within a 16-bit budget, and threshold
// strictly below the weight sum.
func (p *Policy) Validate() error {
	n := len(p.Voters)
	if n == 0 {
		return ErrNoVoters
	}
	if n > 0xFFFF {
		return ErrTooManyVoters
	}
	seen := make(map[common.Address]struct{}, n)
	for _, v := range p.Voters {
		if _, ok := seen[v.Address]; ok {
			return ErrDuplicateVoter
		}
		seen[v.Address] = struct{}{}
	}
	sum := p.WeightSum()
	if sum > 0xFFFF {
		return ErrWeightSumOverflow
	}
	if uint64(p.Threshold) >= sum {
		return ErrThresholdTooHigh
	}
	return nil
}

// Encode packs the policy into its wire byte form.
func Encode(p *Policy) []byte {
	n := len(p.Voters)
	buf := make([]byte, WireLength(n))

	binary.BigEndian.PutUint16(buf[0:2], uint16(n))
	put24(buf[2:5], p.RewardEpochId)
	binary.BigEndian.PutUint32(buf[5:9], p.StartingVotingRoundId)
	binary.BigEndian.PutUint16(buf[9:11], p.Threshold)
	copy(buf[11:43], p.RandomSeed[:])

	for i, v := range p.Voters {
		off := HeaderLength + i*VoterEntryLength
		copy(buf[off:off+20], v.Address[:])
		binary.BigEndian.PutUint16(buf[off+20:off+22], v.Weight)
	}
	return buf
}

// Decode unpacks a wire-format policy. It fails with ErrInvalidPolicyLength
// if len(data) does not equal 43 + 22*N for the N declared in the first two
// bytes.
func Decode(data []byte) (*Policy, error) {
	if len(data) < HeaderLength {
		return nil, ErrInvalidPolicyLength
	}
	n := int(binary.BigEndian.Uint16(data[0:2]))
	want := WireLength(n)
	if len(data) != want {
		return nil, ErrInvalidPolicyLength
	}

	p := &Policy{
		RewardEpochId:         get24(data[2:5]),
		StartingVotingRoundId: binary.BigEndian.Uint32(data[5:9]),
		Threshold:             binary.BigEndian.Uint16(data[9:11]),
	}
	copy(p.RandomSeed[:], data[11:43])

	p.Voters = make([]Voter, n)
	for i := 0; i < n; i++ {
		off := HeaderLength + i*VoterEntryLength
		var addr common.Address
		copy(addr[:], data[off:off+20])
		p.Voters[i] = Voter{
			Address: addr,
			Weight:  binary.BigEndian.Uint16(data[off+20 : off+22]),
		}
	}
	return p, nil
}

// Hash returns keccak256 of the policy's packed wire bytes.
func Hash(p *Policy) common.Hash {
	return ourcrypto.Keccak256Hash(Encode(p))
}

// HashFromWire returns keccak256 over the exact wire byte range, without
// decoding into a Policy first. Used by the relay to hash a reference
// policy slice drawn directly from calldata.
func HashFromWire(wire []byte) common.Hash {
	return ourcrypto.Keccak256Hash(wire)
}

// HashFromCalldata requires a full 43-byte header at data[offset:], derives
// the policy's wire length from its voter count N (the first 2 bytes), then
// hashes exactly that many bytes starting at offset, without
// decoding the voter array. Returns the policy's wire length alongside the
// hash so the caller can advance past it.
func HashFromCalldata(data []byte, offset int) (hash common.Hash, wireLen int, err error) {
	if len(data) < offset+HeaderLength {
		return common.Hash{}, 0, ErrInvalidPolicyLength
	}
	n := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	wireLen = WireLength(n)
	if len(data) < offset+wireLen {
		return common.Hash{}, 0, ErrInvalidPolicyLength
	}
	return HashFromWire(data[offset : offset+wireLen]), wireLen, nil
}

func put24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func get24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
