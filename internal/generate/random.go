package generate

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"ecoswarm/internal/types"
)

// RandomGenerator produces pseudo-random blueprint candidates. The rand
// source is injected so candidate streams are reproducible in tests.
type RandomGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomGenerator creates a generator over the given source. A nil rng
// falls back to a time-seeded source.
func NewRandomGenerator(rng *rand.Rand) *RandomGenerator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RandomGenerator{rng: rng}
}

// Generate returns count candidates titled "<topic> plan v<N>". Metric axes
// land in [40,100) so candidates cluster around plausible scores; roughly one
// in five is flagged high risk.
func (g *RandomGenerator) Generate(_ context.Context, topic string, count int) ([]types.Blueprint, error) {
	if count < 1 {
		count = 1
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]types.Blueprint, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, types.Blueprint{
			Description: fmt.Sprintf("%s plan v%d", topic, i+1),
			Metrics: types.Metrics{
				Financial:  40 + g.rng.Float64()*60,
				Ecological: 40 + g.rng.Float64()*60,
				Social:     40 + g.rng.Float64()*60,
			},
			IsHighRisk: g.rng.Float64() < 0.2,
		})
	}
	return out, nil
}
