package weight

import "github.com/holiman/uint256"

// Sqrt computes floor(sqrt(x)) for a 256-bit unsigned integer, matching
// EIP-7054's algorithm exactly: a leading-bit-scan initial approximation,
// seven Newton iterations, and a final min(r, x/r) correction. The
// double-sqrt identity in CalculateRegistrationWeight depends on this exact
// rounding behavior, so this must not be replaced with a different isqrt.
func Sqrt(x *uint256.Int) *uint256.Int {
	if x.IsZero() {
		return new(uint256.Int)
	}

	// Initial approximation: r = 2^ceil(bitlen(x)/2), i.e. a power of two
	// at least as large as the true root, found by scanning the highest
	// set bit.
	shift := (x.BitLen() + 1) / 2
	r := new(uint256.Int).Lsh(uint256.NewInt(1), uint(shift))

	// Seven Newton iterations: r = (r + x/r) / 2.
	for i := 0; i < 7; i++ {
		t := new(uint256.Int).Div(x, r)
		t.Add(t, r)
		r = t.Rsh(t, 1)
	}

	// Final correction: Newton's method can overshoot from above by one;
	// x/r never overshoots, so the true floor is min(r, x/r).
	xOverR := new(uint256.Int).Div(x, r)
	if xOverR.Lt(r) {
		return xOverR
	}
	return r
}
