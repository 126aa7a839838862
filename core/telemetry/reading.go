package telemetry

import (
	"encoding/json"
	"math/rand/v2"
	"time"
)

// Base values the synthetic readings are drawn around.
const (
	BaseTemperature = 25.1
	BaseHumidity    = 77.5
)

// Reading is a single synthetic sensor sample.
type Reading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// Encode serializes r as {"temperature":..,"humidity":..}.
func Encode(r Reading) ([]byte, error) {
	return json.Marshal(r)
}

// Generator produces readings offset from the base values by independent
// uniform draws in [0, 1). It is not safe for concurrent use.
type Generator struct {
	rnd *rand.Rand
}

// NewGenerator uses src for the offsets; a nil src seeds a PCG from the clock.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.NewPCG(now, now>>1|1)
	}
	return &Generator{rnd: rand.New(src)}
}

// Next returns a fresh reading.
func (g *Generator) Next() Reading {
	return Reading{
		Temperature: BaseTemperature + g.rnd.Float64(),
		Humidity:    BaseHumidity + g.rnd.Float64(),
	}
}
