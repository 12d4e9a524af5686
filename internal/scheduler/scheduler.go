// Package scheduler computes payout-position assignments for savings groups.
//
// Positions are 1-based ordinals: the member at position k receives the
// pooled payout in round k. Assignment is pure and, for the random rule,
// seedable, so shuffle behavior is deterministic under test while production
// seeds from crypto/rand.
package scheduler

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"

	"github.com/mmynk/tontine/internal/models"
)

// NextPosition returns the provisional position for the next joiner given
// the current member count. Under the sequential rule this is also final.
func NextPosition(memberCount int) int {
	return memberCount + 1
}

// Finalize returns the authoritative position assignment for a full group of
// n members. For sequential groups the join order stands. For random groups
// the entire list is shuffled once, here, so no member could infer their
// final position before the group was complete.
//
// The returned slice is indexed by join order: result[i] is the payout
// position of the i-th joiner.
func Finalize(n int, rule models.PayoutRule, src rand.Source) []int {
	if rule == models.PayoutRandom {
		return Permutation(n, src)
	}
	positions := make([]int, n)
	for i := range positions {
		positions[i] = i + 1
	}
	return positions
}

// Permutation returns an unbiased random permutation of 1..n using the given
// source. Fisher-Yates, so every ordering is equally likely.
func Permutation(n int, src rand.Source) []int {
	positions := make([]int, n)
	for i := range positions {
		positions[i] = i + 1
	}
	r := rand.New(src)
	for i := n - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		positions[i], positions[j] = positions[j], positions[i]
	}
	return positions
}

// CryptoSource returns a rand source seeded from the operating system CSPRNG.
// Production callers use this; tests pass a fixed-seed PCG instead.
func CryptoSource() rand.Source {
	var seed [16]byte
	if _, err := crand.Read(seed[:]); err != nil {
		// crypto/rand never fails on supported platforms; if it somehow
		// does, the zero seed still yields a valid (if predictable) source.
		return rand.NewPCG(0, 0)
	}
	return rand.NewPCG(
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:]),
	)
}
