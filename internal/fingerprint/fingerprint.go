// Package fingerprint computes locality-sensitive signatures for
// near-duplicate detection. Articles whose text mostly overlaps get
// fingerprints within a small Hamming distance of each other.
package fingerprint

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// DefaultShingleSize is the token count per shingle.
const DefaultShingleSize = 5

// Hasher computes 64-bit simhash fingerprints over k-token shingles.
// The zero-size Hasher is not usable; construct with New.
type Hasher struct {
	shingleSize int
}

// New creates a Hasher. A non-positive size falls back to
// DefaultShingleSize.
func New(shingleSize int) *Hasher {
	if shingleSize <= 0 {
		shingleSize = DefaultShingleSize
	}
	return &Hasher{shingleSize: shingleSize}
}

// Hash computes the simhash of text. Deterministic and pure. Empty input
// or input shorter than one shingle returns the zero sentinel.
func (h *Hasher) Hash(text string) uint64 {
	tokens := tokenize(text)
	if len(tokens) < h.shingleSize {
		return 0
	}

	// Each shingle votes on every bit: +1 if the shingle hash has the
	// bit set, -1 otherwise. The sign of the tally becomes the output bit.
	var votes [64]int
	for i := 0; i+h.shingleSize <= len(tokens); i++ {
		sh := strings.Join(tokens[i:i+h.shingleSize], " ")
		hv := fnv64(sh)
		for b := 0; b < 64; b++ {
			if hv&(1<<uint(b)) != 0 {
				votes[b]++
			} else {
				votes[b]--
			}
		}
	}

	var out uint64
	for b := 0; b < 64; b++ {
		if votes[b] > 0 {
			out |= 1 << uint(b)
		}
	}
	return out
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similarity maps the Hamming distance to [0,1], 1 meaning identical.
func Similarity(a, b uint64) float64 {
	return float64(64-Distance(a, b)) / 64.0
}

// Similar reports whether two fingerprints are within maxDist bits.
// The zero sentinel never matches anything, including itself.
func Similar(a, b uint64, maxDist int) bool {
	if a == 0 || b == 0 {
		return false
	}
	return Distance(a, b) <= maxDist
}

// tokenize lowercases and splits text into alphanumeric words.
func tokenize(text string) []string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return ' '
		}
	}, text)
	return strings.Fields(mapped)
}

func fnv64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
