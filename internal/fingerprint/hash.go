package fingerprint

import (
	"fmt"
	"math/bits"
	"strconv"
)

// Kind identifies one of the perceptual fingerprint families. Keeping this
// an explicit enum (rather than positional arguments) lets the similarity
// index maintain one structure per kind.
type Kind int

const (
	// KindPHash is the frequency-domain (DCT) fingerprint, robust to
	// resizing and recompression.
	KindPHash Kind = iota
	// KindDHash is the gradient fingerprint, cheap to compute and a good
	// complement to pHash for reducing false positives.
	KindDHash
	// KindCount is the number of fingerprint kinds.
	KindCount
)

func (k Kind) String() string {
	switch k {
	case KindPHash:
		return "phash"
	case KindDHash:
		return "dhash"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Hash256 is a 256-bit perceptual fingerprint stored as four big-endian
// words: bit 0 is the most significant bit of word 0.
type Hash256 [4]uint64

// Distance returns the Hamming distance to another fingerprint: the number
// of differing bits. Symmetric, and zero only for identical fingerprints.
func (h Hash256) Distance(o Hash256) int {
	return bits.OnesCount64(h[0]^o[0]) +
		bits.OnesCount64(h[1]^o[1]) +
		bits.OnesCount64(h[2]^o[2]) +
		bits.OnesCount64(h[3]^o[3])
}

// SetBit sets bit i (0 = most significant of the first word).
func (h *Hash256) SetBit(i int) {
	h[i/64] |= 1 << (63 - uint(i%64))
}

// Bit reports whether bit i is set.
func (h Hash256) Bit(i int) bool {
	return h[i/64]&(1<<(63-uint(i%64))) != 0
}

// Hex renders the fingerprint as 64 lowercase hex characters.
func (h Hash256) Hex() string {
	return fmt.Sprintf("%016x%016x%016x%016x", h[0], h[1], h[2], h[3])
}

// ParseHash256 parses the 64-character hex form produced by Hex.
func ParseHash256(s string) (Hash256, error) {
	var h Hash256
	if len(s) != 64 {
		return h, fmt.Errorf("perceptual hash must be 64 hex characters, got %d", len(s))
	}
	for i := 0; i < 4; i++ {
		word, err := strconv.ParseUint(s[i*16:(i+1)*16], 16, 64)
		if err != nil {
			return h, fmt.Errorf("invalid perceptual hash %q: %w", s, err)
		}
		h[i] = word
	}
	return h, nil
}

// Similar returns true if two fingerprints are within the given Hamming
// distance threshold.
func Similar(a, b Hash256, threshold int) bool {
	return a.Distance(b) <= threshold
}
