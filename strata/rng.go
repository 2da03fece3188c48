package strata

import (
	"encoding/binary"
	"math/rand/v2"
	"sort"

	"github.com/spaolacci/murmur3"
)

// Stream kind tags keep child streams for different purposes disjoint even
// when their identifiers collide (a day key and a group value can share a
// string without sharing randomness).
const (
	streamGlobal = "global"
	streamDay    = "day"
	streamGroup  = "group"
)

// newStream derives an independent, reproducible random stream from the
// master seed and an identifier. The derivation is a keyed hash, never
// sequential advancement of a shared generator, so draws are independent of
// partition processing order and safe under parallelism.
func newStream(seed int64, kind, id string) *rand.Rand {
	h := murmur3.New128()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seed))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(kind))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(id))

	hi, lo := h.Sum128()
	return rand.New(rand.NewPCG(hi, lo))
}

// drawWithout selects k distinct integers uniformly without replacement from
// [0, n), returned in ascending order. Uses Floyd's algorithm so memory is
// O(k) regardless of n. Callers must clamp k to n beforehand.
func drawWithout(r *rand.Rand, k, n int64) []int64 {
	if k <= 0 {
		return nil
	}
	if k >= n {
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(i)
		}
		return out
	}

	chosen := make(map[int64]struct{}, k)
	for j := n - k; j < n; j++ {
		t := r.Int64N(j + 1)
		if _, taken := chosen[t]; taken {
			chosen[j] = struct{}{}
		} else {
			chosen[t] = struct{}{}
		}
	}

	out := make([]int64, 0, k)
	for v := range chosen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
