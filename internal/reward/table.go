// Package reward draws weighted-random rewards from loot tables and applies
// them to accounts, honouring a one-shot luck modifier that boosts the
// weight of selected quality tiers.
package reward

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/starfall/economy-engine/internal/model"
)

// AdjustedTable returns a copy of t with the weights of the tiers affected
// by m multiplied by its boost factor. applied is false, and the copy equals
// t, when m is nil or does not apply to t.
func AdjustedTable(t model.LootTable, m *model.LuckModifier) (adjusted model.LootTable, applied bool) {
	adjusted = t.Clone()
	if !m.AppliesTo(t.ID) {
		return adjusted, false
	}
	for i, e := range adjusted.Entries {
		if m.Affects(e.Quality) {
			adjusted.Entries[i].Weight = e.Weight.Mul(m.BoostFactor)
		}
	}
	return adjusted, true
}

// Sample picks an entry by cumulative weight: the first entry whose running
// sum of positive weights exceeds r, for r in [0, total). Entries with a
// non-positive weight are never chosen. ok is false when no entry has a
// positive weight.
func Sample(entries []model.LootEntry, r decimal.Decimal) (index int, ok bool) {
	last := -1
	sum := decimal.Zero
	for i, e := range entries {
		if !e.Weight.IsPositive() {
			continue
		}
		sum = sum.Add(e.Weight)
		last = i
		if sum.GreaterThan(r) {
			return i, true
		}
	}
	// r >= total only happens for out-of-range input; clamp to the last
	// eligible entry.
	return last, last >= 0
}

// rollQuantity returns a uniform integer in the reward's inclusive range,
// or its fixed quantity (default 1). Ranges are validated with Min >= 0, so
// the span fits in a uint64 even for [0, MaxInt64].
func rollQuantity(r model.Reward, src Source) int64 {
	if qr := r.QuantityRange; qr != nil {
		if qr.Max <= qr.Min {
			return qr.Min
		}
		return qr.Min + int64(src.Uint64N(uint64(qr.Max-qr.Min)+1))
	}
	if r.Quantity > 0 {
		return r.Quantity
	}
	return 1
}

// pick draws one entry of t using src.
func pick(t model.LootTable, src Source) (model.LootEntry, bool) {
	total := t.TotalWeight()
	if !total.IsPositive() {
		return model.LootEntry{}, false
	}
	r := total.Mul(decimal.NewFromFloat(src.Float64()))
	i, ok := Sample(t.Entries, r)
	if !ok {
		return model.LootEntry{}, false
	}
	return t.Entries[i], true
}

// Source is the randomness used by draws. Implementations must be safe for
// concurrent use.
type Source interface {
	// Float64 returns a number in [0, 1).
	Float64() float64
	// Uint64N returns a number in [0, n). n must be positive.
	Uint64N(n uint64) uint64
}

type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *lockedSource) Uint64N(n uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Uint64N(n)
}

// NewSource returns a PCG source seeded from crypto/rand.
func NewSource() Source {
	var seed [16]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic("reward: cannot seed random source: " + err.Error())
	}
	return &lockedSource{rng: rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:]),
	))}
}

// NewSeededSource returns a deterministic source.
func NewSeededSource(seed uint64) Source {
	return &lockedSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}
