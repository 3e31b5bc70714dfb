package votepower

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestMemWNatSnapshotResolution(t *testing.T) {
	w := NewMemWNat()
	addr := common.HexToAddress("0x01")

	w.SetSnapshot(100, uint256.NewInt(1000), map[common.Address]*uint256.Int{addr: uint256.NewInt(400)})
	w.SetSnapshot(200, uint256.NewInt(2000), map[common.Address]*uint256.Int{addr: uint256.NewInt(900)})

	total, err := w.TotalVotePowerAt(150)
	if err != nil {
		t.Fatal(err)
	}
	if total.Uint64() != 1000 {
		t.Fatalf("expected 1000, got %s", total)
	}

	v, err := w.VotePowerOfAt(addr, 250)
	if err != nil {
		t.Fatal(err)
	}
	if v.Uint64() != 900 {
		t.Fatalf("expected 900, got %s", v)
	}

	// Before any snapshot: zero, not an error.
	total, err = w.TotalVotePowerAt(10)
	if err != nil {
		t.Fatal(err)
	}
	if !total.IsZero() {
		t.Fatalf("expected zero before any snapshot, got %s", total)
	}
}

func TestMemPChainMirrorDisabledReturnsZero(t *testing.T) {
	p := NewMemPChainMirror()
	var node [20]byte
	node[0] = 1
	p.SetStake(node, uint256.NewInt(500))
	p.Enabled = false

	out, err := p.BatchVotePowerAt([][20]byte{node}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !out[0].IsZero() {
		t.Fatalf("expected zero for disabled mirror, got %s", out[0])
	}
}

func TestMemPChainMirrorEnabled(t *testing.T) {
	p := NewMemPChainMirror()
	var n1, n2 [20]byte
	n1[0], n2[0] = 1, 2
	p.SetStake(n1, uint256.NewInt(100))

	out, err := p.BatchVotePowerAt([][20]byte{n1, n2}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Uint64() != 100 {
		t.Fatalf("expected 100, got %s", out[0])
	}
	if !out[1].IsZero() {
		t.Fatalf("expected zero for unknown node, got %s", out[1])
	}
}
