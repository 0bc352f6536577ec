package util

import "math/rand"

// New returns a seeded generator. Seed 0 is treated as 1 so that an unset
// seed still reproduces.
func New(seed int64) *rand.Rand {
	if seed == 0 {
		seed = 1
	}
	src := rand.NewSource(seed)
	return rand.New(src)
}

// Derive returns an independent generator seeded from parent, so that a
// single master seed reproduces every downstream stream.
func Derive(parent *rand.Rand) *rand.Rand {
	seed := parent.Int63()
	if seed == 0 {
		seed = 1
	}
	return rand.New(rand.NewSource(seed))
}

// Sign returns +1 or -1 with equal probability.
func Sign(r *rand.Rand) float64 {
	if r.Float64() >= 0.5 {
		return 1
	}
	return -1
}
