package ensemble

import "math/rand"

// seedPlanner hands out seedBase + counter + jitter, redrawing the jitter
// until the seed is unused within the ensemble. The top of each window is
// above every earlier draw, so a redraw always terminates.
type seedPlanner struct {
	base    int64
	jitter  int64
	counter int64
	rng     *rand.Rand
	used    map[int64]bool
}

func newSeedPlanner(base, jitter int64, rng *rand.Rand) *seedPlanner {
	return &seedPlanner{base: base, jitter: jitter, rng: rng, used: make(map[int64]bool)}
}

func (p *seedPlanner) next() int64 {
	p.counter++
	for {
		seed := p.base + p.counter
		if p.jitter > 0 {
			seed += p.rng.Int63n(p.jitter + 1)
		}
		if !p.used[seed] {
			p.used[seed] = true
			return seed
		}
	}
}
