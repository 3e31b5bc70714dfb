// Package submission implements the SubmissionGate: four independent
// per-address one-shot allowlists gating the four submission phases of a
// voting round, plus the submitAndPass forwarding entry point (spec.md §4.6).
package submission

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flare-foundation/signing-policy-relay/metrics"
)

// ErrUnauthorized is returned when a caller other than the configured epoch
// manager invokes InitNewVotingRound.
var ErrUnauthorized = errors.New("submission: caller is not the configured epoch manager")

// ErrSubmit3Disabled is returned when InitNewVotingRound is given a submit3
// allowlist while the governance flag enabling it is off.
var ErrSubmit3Disabled = errors.New("submission: submit3 allowlist is disabled by governance")

// ErrReentrantCall is returned when SubmitAndPass is invoked while a
// previous call to it on the same Gate is still executing. spec.md §5
// requires a reentrancy guard on any path that forwards to an externally
// supplied contract; SubmitAndPass is the only such path this gate exposes.
var ErrReentrantCall = errors.New("submission: reentrant call to a guarded method")

// DefaultRevertReason is used for submitAndPass forwarding failures whose
// returndata is too short to carry a standard revert-reason encoding
// (spec.md §7).
const DefaultRevertReason = "Transaction reverted silently"

// minRevertDataLength is the shortest returndata that can carry a decodable
// revert reason; anything shorter falls back to DefaultRevertReason.
const minRevertDataLength = 68

// Forwarder executes the governance-configured (contract, selector) call
// submitAndPass forwards to.
type Forwarder interface {
	Call(selector [4]byte, data []byte) (returnData []byte, reverted bool, err error)
}

// Gate is the SubmissionGate. The zero value is not usable; construct with
// New.
type Gate struct {
	mu sync.Mutex

	epochManager common.Address

	submit3Enabled bool

	allow1   map[common.Address]bool
	allow2   map[common.Address]bool
	allow3   map[common.Address]bool
	allowSig map[common.Address]bool

	target   common.Address
	selector [4]byte
	forward  Forwarder

	// entered guards SubmitAndPass against reentrancy (spec.md §5): while a
	// forwarded call is executing, a nested SubmitAndPass on the same Gate
	// is rejected rather than allowed to run concurrently underneath it.
	entered bool
}

// New creates a SubmissionGate whose InitNewVotingRound calls must come
// from epochManager.
func New(epochManager common.Address) *Gate {
	return &Gate{
		epochManager: epochManager,
		allow1:       make(map[common.Address]bool),
		allow2:       make(map[common.Address]bool),
		allow3:       make(map[common.Address]bool),
		allowSig:     make(map[common.Address]bool),
	}
}

// SetSubmit3Enabled toggles the governance flag gating the submit3
// allowlist (spec.md §4.6).
func (g *Gate) SetSubmit3Enabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submit3Enabled = enabled
}

// SetForwardTarget configures the (contract, selector) pair submitAndPass
// forwards to.
func (g *Gate) SetForwardTarget(target common.Address, selector [4]byte, forward Forwarder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.target = target
	g.selector = selector
	g.forward = forward
}

// InitNewVotingRound replaces all four allowlists for the upcoming voting
// round. Callable only by the configured epoch manager (spec.md §4.6, §5).
func (g *Gate) InitNewVotingRound(caller common.Address, submit1, submit2, submit3, submitSignatures []common.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if caller != g.epochManager {
		return ErrUnauthorized
	}
	if len(submit3) > 0 && !g.submit3Enabled {
		return ErrSubmit3Disabled
	}

	g.allow1 = toSet(submit1)
	g.allow2 = toSet(submit2)
	g.allow3 = toSet(submit3)
	g.allowSig = toSet(submitSignatures)
	metrics.VotingRoundsInitialized.Inc()
	return nil
}

func toSet(addrs []common.Address) map[common.Address]bool {
	m := make(map[common.Address]bool, len(addrs))
	for _, a := range addrs {
		m[a] = true
	}
	return m
}

// consume checks and clears a, one-shot, in the given allowlist.
func consume(allow map[common.Address]bool, a common.Address) bool {
	if !allow[a] {
		return false
	}
	delete(allow, a)
	return true
}

// recordConsume increments the shared accepted/rejected submission counters
// for the result of a one-shot allowlist consumption.
func recordConsume(ok bool) bool {
	if ok {
		metrics.SubmissionsAccepted.Inc()
	} else {
		metrics.SubmissionsRejected.Inc()
	}
	return ok
}

// Submit1 consumes caller's entry in the submit1 allowlist, if present.
func (g *Gate) Submit1(caller common.Address) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return recordConsume(consume(g.allow1, caller))
}

// Submit2 consumes caller's entry in the submit2 allowlist, if present.
func (g *Gate) Submit2(caller common.Address) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return recordConsume(consume(g.allow2, caller))
}

// Submit3 consumes caller's entry in the submit3 allowlist, if present.
func (g *Gate) Submit3(caller common.Address) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return recordConsume(consume(g.allow3, caller))
}

// SubmitSignatures consumes caller's entry in the submitSignatures
// allowlist, if present.
func (g *Gate) SubmitSignatures(caller common.Address) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return recordConsume(consume(g.allowSig, caller))
}

// SubmitAndPass forwards data to the configured (target, selector) pair,
// propagating the callee's revert reason verbatim (spec.md §4.6, §7).
func (g *Gate) SubmitAndPass(data []byte) ([]byte, error) {
	g.mu.Lock()
	if g.entered {
		g.mu.Unlock()
		return nil, ErrReentrantCall
	}
	g.entered = true
	forward := g.forward
	selector := g.selector
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.entered = false
		g.mu.Unlock()
	}()

	if forward == nil {
		metrics.SubmissionForwardFailures.Inc()
		return nil, errors.New("submission: forward target not configured")
	}

	out, reverted, err := forward.Call(selector, data)
	if err != nil {
		metrics.SubmissionForwardFailures.Inc()
		return nil, err
	}
	if reverted {
		metrics.SubmissionForwardFailures.Inc()
		return nil, errors.New(decodeRevertReason(out))
	}
	return out, nil
}

// decodeRevertReason extracts a Solidity Error(string) revert reason from
// returndata, falling back to DefaultRevertReason when the data is too
// short to carry one.
func decodeRevertReason(data []byte) string {
	if len(data) < minRevertDataLength {
		return DefaultRevertReason
	}
	// Error(string) selector (4) || offset (32) || length (32) || string data.
	lengthOffset := 4 + 32
	if len(data) < lengthOffset+32 {
		return DefaultRevertReason
	}
	length := new(big.Int).SetBytes(data[lengthOffset : lengthOffset+32])
	if !length.IsInt64() {
		return DefaultRevertReason
	}
	start := lengthOffset + 32
	end := start + int(length.Int64())
	if end < start || end > len(data) {
		return DefaultRevertReason
	}
	return string(data[start:end])
}
