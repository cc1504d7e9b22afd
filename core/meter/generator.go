package meter

import (
	"math"
	"math/rand"
	"sync"
)

// Source produces the energy imported and exported by one entity during the
// given hour of day.
type Source interface {
	Generate(hour int) (imported, exported float64)
}

// Generator synthesizes diurnal consumption and daylight solar curves with
// bounded uniform jitter.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator returns a generator whose jitter sequence is fixed by seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

// Generate returns non-negative imported and exported energy, rounded to two
// decimals. Hours outside [0, 24) are wrapped.
func (g *Generator) Generate(hour int) (float64, float64) {
	h := float64(((hour % 24) + 24) % 24)

	g.mu.Lock()
	consumptionJitter := g.rnd.Float64() - 0.5
	solarJitter := (g.rnd.Float64() - 0.5) / 2
	g.mu.Unlock()

	consumption := 2 + math.Sin(h/24*math.Pi)*2 + consumptionJitter
	solar := math.Max(0, 3+math.Sin((h-6)/12*math.Pi)*2) + solarJitter

	return round2(math.Max(0, consumption)), round2(math.Max(0, solar))
}

// Func adapts a plain function to Source.
type Func func(hour int) (float64, float64)

func (f Func) Generate(hour int) (float64, float64) { return f(hour) }

func round2(x float64) float64 {
	return math.Round(x*100+math.Copysign(1e-9, x)) / 100
}
