package weight

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/flare-foundation/signing-policy-relay/chill"
	"github.com/flare-foundation/signing-policy-relay/entity"
	"github.com/flare-foundation/signing-policy-relay/fees"
	"github.com/flare-foundation/signing-policy-relay/votepower"
)

func newTestCalculator() (*Calculator, *entity.MemManager, *votepower.MemWNat, *votepower.MemPChainMirror, *chill.Table, *fees.MemSchedule) {
	ents := entity.NewMemManager()
	wnat := votepower.NewMemWNat()
	mirror := votepower.NewMemPChainMirror()
	ch := chill.New()
	fs := fees.NewMemSchedule()
	return &Calculator{Entities: ents, WNat: wnat, PChain: mirror, Chill: ch, Fees: fs}, ents, wnat, mirror, ch, fs
}

func TestCalculateRegistrationWeightBasic(t *testing.T) {
	calc, ents, wnat, mirror, _, fs := newTestCalculator()

	voter := common.HexToAddress("0xaa")
	delegation := common.HexToAddress("0xbb")
	node := [20]byte{0x01}

	ents.Register(voter, 0, common.Address{}, common.Address{}, common.Address{}, delegation, [][20]byte{node})
	mirror.SetStake(node, uint256.NewInt(10000))
	wnat.SetSnapshot(0, uint256.NewInt(100000), map[common.Address]*uint256.Int{
		delegation: uint256.NewInt(50000),
	})
	fs.SetEntry([20]byte(voter), 0, 1234)

	rw, err := calc.CalculateRegistrationWeight(voter, 5, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// cap = 100000 * 200000 / 1e6 = 20000; raw = 50000; cappedW = min(20000,50000) = 20000.
	if rw.CappedW.Uint64() != 20000 {
		t.Fatalf("CappedW = %s, want 20000", rw.CappedW)
	}
	if rw.Raw.Uint64() != 50000 {
		t.Fatalf("Raw = %s, want 50000", rw.Raw)
	}

	// stakingSum = 10000 + 20000 = 30000.
	// innerSqrt = floor(sqrt(30000)) = 173 (173^2=29929, 174^2=30276).
	// weight = floor(sqrt(173)) * 173 = 13 * 173 = 2249.
	if rw.Weight.Uint64() != 2249 {
		t.Fatalf("Weight = %s, want 2249", rw.Weight)
	}
	if rw.FeeBIPS != 1234 {
		t.Fatalf("FeeBIPS = %d, want 1234", rw.FeeBIPS)
	}
	if rw.Delegation != delegation {
		t.Fatalf("Delegation = %s, want %s", rw.Delegation, delegation)
	}
	if len(rw.NodeStakes) != 1 || rw.NodeStakes[0].Uint64() != 10000 {
		t.Fatalf("NodeStakes = %v, want [10000]", rw.NodeStakes)
	}
}

func TestCalculateRegistrationWeightChilledNodeContributesZero(t *testing.T) {
	calc, ents, _, mirror, ch, _ := newTestCalculator()

	voter := common.HexToAddress("0xaa")
	delegation := common.HexToAddress("0xbb")
	node := [20]byte{0x01}

	ents.Register(voter, 0, common.Address{}, common.Address{}, common.Address{}, delegation, [][20]byte{node})
	mirror.SetStake(node, uint256.NewInt(10000))

	rewardEpochId := uint64(5)
	ch.Chill(common.BytesToAddress(node[:]), rewardEpochId+1) // chilled until e+1, so still chilled at e

	rw, err := calc.CalculateRegistrationWeight(voter, rewardEpochId, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rw.NodeStakes[0].Sign() != 0 {
		t.Fatalf("NodeStakes[0] = %s, want 0 for chilled node", rw.NodeStakes[0])
	}
	if rw.Weight.Sign() != 0 {
		t.Fatalf("Weight = %s, want 0 (only chilled node staked, no wNat delegation)", rw.Weight)
	}
}

func TestCalculateRegistrationWeightChilledDelegationExcludesWNat(t *testing.T) {
	calc, ents, wnat, mirror, ch, _ := newTestCalculator()

	voter := common.HexToAddress("0xaa")
	delegation := common.HexToAddress("0xbb")
	node := [20]byte{0x01}

	ents.Register(voter, 0, common.Address{}, common.Address{}, common.Address{}, delegation, [][20]byte{node})
	mirror.SetStake(node, uint256.NewInt(10000))
	wnat.SetSnapshot(0, uint256.NewInt(100000), map[common.Address]*uint256.Int{
		delegation: uint256.NewInt(50000),
	})

	rewardEpochId := uint64(5)
	ch.Chill(delegation, rewardEpochId+1)

	rw, err := calc.CalculateRegistrationWeight(voter, rewardEpochId, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rw.CappedW.Sign() != 0 {
		t.Fatalf("CappedW = %s, want 0 when delegation is chilled", rw.CappedW)
	}
	if rw.Raw.Sign() != 0 {
		t.Fatalf("Raw = %s, want 0 when delegation is chilled (wNat never queried)", rw.Raw)
	}

	// stakingSum = 10000 only.
	// innerSqrt = floor(sqrt(10000)) = 100.
	// weight = floor(sqrt(100)) * 100 = 10 * 100 = 1000.
	if rw.Weight.Uint64() != 1000 {
		t.Fatalf("Weight = %s, want 1000", rw.Weight)
	}
}

func TestCalculateRegistrationWeightZeroStakingSum(t *testing.T) {
	calc, ents, _, _, _, _ := newTestCalculator()

	voter := common.HexToAddress("0xaa")
	ents.Register(voter, 0, common.Address{}, common.Address{}, common.Address{}, common.Address{}, nil)

	rw, err := calc.CalculateRegistrationWeight(voter, 5, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rw.Weight.Sign() != 0 {
		t.Fatalf("Weight = %s, want 0", rw.Weight)
	}
}

func TestCalculateRegistrationWeightPropagatesEntityManagerError(t *testing.T) {
	calc, _, _, _, _, _ := newTestCalculator()
	_, err := calc.CalculateRegistrationWeight(common.HexToAddress("0xdead"), 5, 0)
	if err != entity.ErrUnknownVoter {
		t.Fatalf("expected ErrUnknownVoter, got %v", err)
	}
}

func TestCalculateRegistrationWeightRespectsConfiguredWNatCap(t *testing.T) {
	calc, ents, wnat, mirror, _, fs := newTestCalculator()
	calc.WNatCapPPM = 500_000 // 50%, double the default.

	voter := common.HexToAddress("0xaa")
	delegation := common.HexToAddress("0xbb")
	node := [20]byte{0x01}

	ents.Register(voter, 0, common.Address{}, common.Address{}, common.Address{}, delegation, [][20]byte{node})
	mirror.SetStake(node, uint256.NewInt(0))
	wnat.SetSnapshot(0, uint256.NewInt(100000), map[common.Address]*uint256.Int{
		delegation: uint256.NewInt(80000),
	})
	fs.SetEntry([20]byte(voter), 0, 0)

	rw, err := calc.CalculateRegistrationWeight(voter, 5, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// cap = 100000 * 500000 / 1e6 = 50000; raw = 80000; cappedW = min(50000,80000) = 50000.
	if rw.CappedW.Uint64() != 50000 {
		t.Fatalf("CappedW = %s, want 50000", rw.CappedW)
	}
}

func TestWNatCapPPMDefaultsWhenUnset(t *testing.T) {
	calc, _, _, _, _, _ := newTestCalculator()
	if got := calc.wNatCapPPM(); got != DefaultWNatCapPPM {
		t.Fatalf("wNatCapPPM() = %d, want DefaultWNatCapPPM (%d)", got, DefaultWNatCapPPM)
	}
}
