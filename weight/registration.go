package weight

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/flare-foundation/signing-policy-relay/chill"
	"github.com/flare-foundation/signing-policy-relay/entity"
	"github.com/flare-foundation/signing-policy-relay/fees"
	"github.com/flare-foundation/signing-policy-relay/metrics"
	"github.com/flare-foundation/signing-policy-relay/votepower"
)

// DefaultWNatCapPPM is the wNat cap applied when a Calculator's WNatCapPPM
// field is left at its zero value: 20%, matching the Flare system default.
const DefaultWNatCapPPM = 200_000

// RegistrationWeight bundles the inputs and outputs of one voter's
// registration weight calculation, matching the VoterRegistrationInfo event
// payload described in spec.md §4.3.
type RegistrationWeight struct {
	Voter         common.Address
	RewardEpochId uint64
	Delegation    common.Address
	FeeBIPS       uint16
	Raw           *uint256.Int
	CappedW       *uint256.Int
	Nodes         [][20]byte
	NodeStakes    []*uint256.Int
	Weight        *uint256.Int
}

// Calculator computes registration weight from the entity manager, wNat and
// P-Chain stake mirror providers, chill table, and fee schedule, the way the
// external VoterRegistry/WeightCalculator contracts do at registration time.
type Calculator struct {
	Entities Manager
	WNat     votepower.WNatProvider
	PChain   votepower.PChainStakeMirrorProvider
	Chill    ChillTable
	Fees     fees.Schedule

	// WNatCapPPM bounds the wNat contribution to a voter's registration
	// weight to WNatCapPPM parts per million of the total wNat vote power,
	// preventing a single large delegation from dominating a reward epoch's
	// voter set (spec.md §6: governance-mutable, ≤ 1,000,000). Zero means
	// DefaultWNatCapPPM.
	WNatCapPPM uint32
}

// wNatCapPPM returns the effective cap, applying DefaultWNatCapPPM when the
// Calculator was built without one set explicitly.
func (c *Calculator) wNatCapPPM() uint32 {
	if c.WNatCapPPM == 0 {
		return DefaultWNatCapPPM
	}
	return c.WNatCapPPM
}

// Manager is the subset of entity.Manager this calculator depends on.
type Manager interface {
	NodeIDsOfAt(voter common.Address, block uint64) ([][20]byte, error)
	DelegationAddressOfAt(voter common.Address, block uint64) (common.Address, error)
}

// ChillTable is the subset of chill.Table this calculator depends on.
type ChillTable interface {
	ChilledUntil(addr common.Address) uint64
}

var _ Manager = entity.Manager(nil)
var _ ChillTable = (*chill.Table)(nil)

// CalculateRegistrationWeight implements spec.md §4.3's registration weight
// algorithm: sum non-chilled P-Chain node stakes with a capped wNat
// delegation contribution, then take two integer square roots (s^{3/4}).
func (c *Calculator) CalculateRegistrationWeight(voter common.Address, rewardEpochId, votePowerBlock uint64) (*RegistrationWeight, error) {
	start := time.Now()
	defer func() { metrics.WeightCalculationTime.Observe(float64(time.Since(start).Microseconds())) }()

	nodes, err := c.Entities.NodeIDsOfAt(voter, votePowerBlock)
	if err != nil {
		return nil, err
	}
	nodeStakes, err := c.PChain.BatchVotePowerAt(nodes, votePowerBlock)
	if err != nil {
		return nil, err
	}

	stakingSum := new(uint256.Int)
	for i, nodeID := range nodes {
		if rewardEpochId < c.Chill.ChilledUntil(common.BytesToAddress(nodeID[:])) {
			nodeStakes[i] = new(uint256.Int)
			continue
		}
		stakingSum.Add(stakingSum, nodeStakes[i])
	}

	delegation, err := c.Entities.DelegationAddressOfAt(voter, votePowerBlock)
	if err != nil {
		return nil, err
	}

	raw := new(uint256.Int)
	cappedW := new(uint256.Int)
	if rewardEpochId >= c.Chill.ChilledUntil(delegation) {
		totalW, err := c.WNat.TotalVotePowerAt(votePowerBlock)
		if err != nil {
			return nil, err
		}
		raw, err = c.WNat.VotePowerOfAt(delegation, votePowerBlock)
		if err != nil {
			return nil, err
		}

		cap := new(uint256.Int).Mul(totalW, uint256.NewInt(uint64(c.wNatCapPPM())))
		cap.Div(cap, uint256.NewInt(1_000_000))

		if cap.Lt(raw) {
			cappedW.Set(cap)
		} else {
			cappedW.Set(raw)
		}
		stakingSum.Add(stakingSum, cappedW)
	}

	// innerSqrt = floor(sqrt(stakingSum)); weight = floor(sqrt(innerSqrt)) * innerSqrt.
	innerSqrt := Sqrt(stakingSum)
	weight := new(uint256.Int).Mul(Sqrt(innerSqrt), innerSqrt)

	feeBIPS := c.Fees.FeeBIPSAt([20]byte(voter), rewardEpochId)

	return &RegistrationWeight{
		Voter:         voter,
		RewardEpochId: rewardEpochId,
		Delegation:    delegation,
		FeeBIPS:       feeBIPS,
		Raw:           raw,
		CappedW:       cappedW,
		Nodes:         nodes,
		NodeStakes:    nodeStakes,
		Weight:        weight,
	}, nil
}
