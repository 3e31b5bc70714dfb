package crypto

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Keccak256 calculates the Keccak-256 hash of the given data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash calculates Keccak-256 and returns it as a common.Hash.
func Keccak256Hash(data ...[]byte) common.Hash {
	return common.BytesToHash(Keccak256(data...))
}

// eip191Prefix is the byte sequence EIP-191 prepends to a 32-byte digest
// before ECDSA signing/verification: "\x19Ethereum Signed Message:\n32".
var eip191Prefix = []byte("\x19Ethereum Signed Message:\n32")

// EIP191DigestForHash32 returns keccak256(eip191Prefix || hash), the
// digest actually signed/verified for both relay modes 2 and 3 per
// spec.md §4.2.
func EIP191DigestForHash32(hash common.Hash) common.Hash {
	return Keccak256Hash(eip191Prefix, hash[:])
}
