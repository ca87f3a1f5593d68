package source

import (
	"math/rand"

	"codeberg.org/mutker/agrimon/internal/telemetry"
)

// DefaultSeed keeps simulated runs reproducible
const DefaultSeed int64 = 42

// Ranges of the synthetic readings, lower bound inclusive
const (
	simTempMin, simTempSpan = 20.0, 10.0
	simHumMin, simHumSpan   = 40.0, 30.0
	simSoilMin, simSoilSpan = 300.0, 400.0
)

// Simulated generates plausible readings from a seeded PRNG.
// It is not safe for concurrent use.
type Simulated struct {
	rng *rand.Rand
}

func NewSimulated(seed int64) *Simulated {
	return &Simulated{rng: rand.New(rand.NewSource(seed))}
}

// Next draws temperature in [20,30), humidity in [40,70) and soil moisture
// in [300,700).
func (s *Simulated) Next() telemetry.Fields {
	temp := simTempMin + s.rng.Float64()*simTempSpan
	hum := simHumMin + s.rng.Float64()*simHumSpan
	soil := simSoilMin + s.rng.Float64()*simSoilSpan

	return telemetry.Fields{
		Temperature:  &temp,
		Humidity:     &hum,
		SoilMoisture: &soil,
	}
}
