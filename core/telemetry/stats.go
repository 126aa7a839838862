package telemetry

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is the number of recent readings Stats keeps.
const DefaultWindow = 1000

// Stats counts successfully published readings and keeps the most recent
// ones in a fixed-size window for mean and deviation.
type Stats struct {
	mu          sync.Mutex
	window      int
	total       int
	next        int
	temperature []float64
	humidity    []float64
}

// NewStats returns Stats keeping the last window readings; window <= 0 means DefaultWindow.
func NewStats(window int) *Stats {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Stats{
		window:      window,
		temperature: make([]float64, 0, window),
		humidity:    make([]float64, 0, window),
	}
}

// Add folds r into the statistics.
func (s *Stats) Add(r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if len(s.temperature) < s.window {
		s.temperature = append(s.temperature, r.Temperature)
		s.humidity = append(s.humidity, r.Humidity)
		return
	}
	s.temperature[s.next] = r.Temperature
	s.humidity[s.next] = r.Humidity
	s.next = (s.next + 1) % s.window
}

// Summary is a snapshot of Stats. Means and deviations cover the window.
type Summary struct {
	Count           int
	MeanTemperature float64
	StdTemperature  float64
	MeanHumidity    float64
	StdHumidity     float64
}

// Summary computes mean and standard deviation over the window.
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{Count: s.total}
	if len(s.temperature) == 0 {
		return sum
	}
	sum.MeanTemperature, sum.StdTemperature = meanStd(s.temperature)
	sum.MeanHumidity, sum.StdHumidity = meanStd(s.humidity)
	return sum
}

func meanStd(x []float64) (float64, float64) {
	if len(x) == 1 {
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}

func (s Summary) String() string {
	if s.Count == 0 {
		return "Published 0 readings"
	}
	return fmt.Sprintf("Published %d readings: temperature %.3f ± %.3f, humidity %.3f ± %.3f",
		s.Count, s.MeanTemperature, s.StdTemperature, s.MeanHumidity, s.StdHumidity)
}
