// Package sigagg implements the signature-aggregation walk shared by the
// relay's policy-rotation and protocol-message dispatch paths: parse a
// trailing block of 67-byte signatures, recover each signer, and accumulate
// weight against a reference policy until it strictly exceeds a threshold.
package sigagg

import (
	"crypto/ecdsa"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	ourcrypto "github.com/flare-foundation/signing-policy-relay/crypto"
	"github.com/flare-foundation/signing-policy-relay/metrics"
	"github.com/flare-foundation/signing-policy-relay/policy"
)

// SignatureLength is the wire size of one relay signature: v(1) || r(32) ||
// s(32) || index(2).
const SignatureLength = 67

// Errors returned by Verify, matching the revert strings named in spec.md §6.
var (
	ErrWrongSignaturesLength = errors.New("Wrong signatures length")
	ErrIndexOutOfRange       = errors.New("Index out of range")
	ErrIndexOutOfOrder       = errors.New("Index out of order")
	ErrEcrecoverFailed       = errors.New("ecrecover error")
	ErrWrongSignature        = errors.New("Wrong signature")
	ErrNotEnoughWeight       = errors.New("Not enough weight")
)

// Verifier walks signature blocks against a reference policy, optionally
// skipping ecrecover for signatures already verified against the same
// digest in this process's lifetime.
type Verifier struct {
	cache *ourcrypto.SignatureCache
}

// NewVerifier creates a Verifier backed by a signature verification cache
// of the given capacity (0 uses crypto.DefaultSigCacheSize).
func NewVerifier(cacheCapacity int) *Verifier {
	return &Verifier{cache: ourcrypto.NewSignatureCache(cacheCapacity)}
}

// Verify walks sigs (the raw trailing signature block) against ref,
// recovering each signer and accumulating ref.Voters[index].Weight, and
// succeeds as soon as the accumulator strictly exceeds threshold. It
// processes signatures in the order given and requires indices to be
// strictly increasing, matching spec.md §4.2's sequential sufficiency
// check (no signature beyond the one that first crosses threshold is
// required, but all signatures up to that point must still be well-formed).
func (vf *Verifier) Verify(ref *policy.Policy, digest common.Hash, sigs []byte, threshold uint64) error {
	start := time.Now()
	defer func() { metrics.SignatureVerifyTime.Observe(float64(time.Since(start).Microseconds())) }()

	if len(sigs)%SignatureLength != 0 {
		return ErrWrongSignaturesLength
	}
	n := len(sigs) / SignatureLength

	eip191 := ourcrypto.EIP191DigestForHash32(digest)

	var accumulated uint64
	nextUnusedIndex := uint32(0)
	for i := 0; i < n; i++ {
		off := i * SignatureLength
		v := sigs[off]
		r := sigs[off+1 : off+33]
		s := sigs[off+33 : off+65]
		index := uint32(sigs[off+65])<<8 | uint32(sigs[off+66])

		if uint64(index) >= uint64(len(ref.Voters)) {
			return ErrIndexOutOfRange
		}
		if uint64(index) < uint64(nextUnusedIndex) {
			return ErrIndexOutOfOrder
		}
		nextUnusedIndex = index + 1

		sig65 := make([]byte, 65)
		copy(sig65[0:32], r)
		copy(sig65[32:64], s)
		sig65[64] = normalizeRecoveryID(v)

		signer, err := vf.recover(eip191, sig65)
		if err != nil {
			return ErrEcrecoverFailed
		}
		if signer != ref.Voters[index].Address {
			return ErrWrongSignature
		}

		accumulated += uint64(ref.Voters[index].Weight)
		if accumulated > threshold {
			return nil
		}
	}

	return ErrNotEnoughWeight
}

func (vf *Verifier) recover(eip191 common.Hash, sig65 []byte) (common.Address, error) {
	if vf.cache == nil {
		return recoverUncached(eip191, sig65)
	}

	key := ourcrypto.SigCacheKey(ourcrypto.SigTypeECDSA, sig65, eip191)
	if entry, ok := vf.cache.Get(key); ok {
		if !entry.Valid {
			return common.Address{}, errEcrecoverCached
		}
		return entry.Signer, nil
	}

	signer, err := recoverUncached(eip191, sig65)
	if err != nil {
		vf.cache.Add(key, ourcrypto.SigCacheEntry{Valid: false})
		return common.Address{}, err
	}
	vf.cache.Add(key, ourcrypto.SigCacheEntry{Signer: signer, Valid: true, SigType: ourcrypto.SigTypeECDSA})
	return signer, nil
}

var errEcrecoverCached = errors.New("sigagg: cached ecrecover failure")

func recoverUncached(eip191 common.Hash, sig65 []byte) (common.Address, error) {
	pub, err := ourcrypto.SigToPub(eip191[:], sig65)
	if err != nil {
		return common.Address{}, err
	}
	return ourcrypto.PubkeyToAddress(*pub), nil
}

// Verify is a convenience wrapper around an uncached Verifier, for callers
// that don't need cross-call signature memoization (e.g. tests).
func Verify(ref *policy.Policy, digest common.Hash, sigs []byte, threshold uint64) error {
	return (&Verifier{}).Verify(ref, digest, sigs, threshold)
}

// Sign produces one 67-byte signature entry (v || r || s || index) over
// digest's EIP-191 prefixed hash, for the voter at the given index. Intended
// for tests and offline signing tooling, not the verify path.
func Sign(priv *ecdsa.PrivateKey, digest common.Hash, index uint16) ([]byte, error) {
	eip191 := ourcrypto.EIP191DigestForHash32(digest)
	sig, err := ourcrypto.Sign(eip191[:], priv)
	if err != nil {
		return nil, err
	}

	out := make([]byte, SignatureLength)
	out[0] = sig[64] // raw recovery id (0 or 1)
	copy(out[1:33], sig[0:32])
	copy(out[33:65], sig[32:64])
	out[65] = byte(index >> 8)
	out[66] = byte(index)
	return out, nil
}

// normalizeRecoveryID accepts either raw (0/1) or legacy Ethereum (27/28)
// recovery IDs, since signers in the wild produce both.
func normalizeRecoveryID(v byte) byte {
	if v >= 27 {
		return v - 27
	}
	return v
}
