package weight

import (
	"errors"

	"github.com/flare-foundation/signing-policy-relay/metrics"
)

// ErrSigningPolicyNotSignedYet is returned when the queried reward epoch's
// signing-policy sign window has not yet closed (endTs == 0).
var ErrSigningPolicyNotSignedYet = errors.New("weight: signing policy not signed yet")

// BurnFactorWindow carries the observed timing of a reward epoch's
// signing-policy sign window, as read for rewardEpochId+1.
type BurnFactorWindow struct {
	StartTs    uint64
	StartBlock uint64
	EndTs      uint64
	EndBlock   uint64
	// VoterSignBlock is the block at which voter's signature landed, or 0
	// if the voter never signed (in which case EndBlock is used instead).
	VoterSignBlock uint64
}

// BurnFactorConfig holds the governance-configured duration constants the
// schedule is evaluated against.
type BurnFactorConfig struct {
	SignNonPunishableDurationSeconds uint64
	SignNonPunishableDurationBlocks  uint64
	SignNoRewardsDurationBlocks      uint64
}

// BurnFactor computes the quadratic-in-missed-blocks burn factor for a
// voter's signing behavior over one reward epoch's sign window, returning a
// value in [0, 1_000_000].
func BurnFactor(w BurnFactorWindow, cfg BurnFactorConfig) (uint64, error) {
	if w.EndTs == 0 {
		return 0, ErrSigningPolicyNotSignedYet
	}
	if w.EndTs-w.StartTs <= cfg.SignNonPunishableDurationSeconds {
		metrics.BurnFactorComputed.Observe(0)
		return 0, nil
	}

	lastOK := w.StartBlock + cfg.SignNonPunishableDurationBlocks
	if w.EndBlock <= lastOK {
		metrics.BurnFactorComputed.Observe(0)
		return 0, nil
	}

	signBlock := w.VoterSignBlock
	if signBlock == 0 {
		signBlock = w.EndBlock
	}
	if signBlock <= lastOK {
		metrics.BurnFactorComputed.Observe(0)
		return 0, nil
	}

	p := signBlock - lastOK
	if p >= cfg.SignNoRewardsDurationBlocks {
		metrics.BurnFactorComputed.Observe(1_000_000)
		return 1_000_000, nil
	}

	l := p * 1_000_000 / cfg.SignNoRewardsDurationBlocks
	result := l * l / 1_000_000
	metrics.BurnFactorComputed.Observe(float64(result))
	return result, nil
}
