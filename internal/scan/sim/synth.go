package sim

import (
	"math"
	"math/cmplx"
	"math/rand"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/floats"

	"github.com/roman-kulish/spectral-scan/internal/frame"
)

const (
	// NoiseFloor is the mean power of an empty bin in dBm.
	NoiseFloor = -100.0

	// CarrierPower is the power of the access point carrier in dBm.
	CarrierPower = -70.0

	// BurstPower is the power of the hopping narrowband burst in dBm.
	BurstPower = -50.0

	// BurstDwell is how long the burst stays on one channel, in µs.
	BurstDwell = 625

	// CarrierDuty is the fraction of scans the access point is transmitting in.
	CarrierDuty = 0.3
)

// synth produces the bins of simulated scans. It is not safe for concurrent
// use.
type synth struct {
	n     int
	burst bool
	rng   *rand.Rand

	samples []complex128
	powers  []float64

	burstBin   int
	burstUntil int64
}

func newSynth(bins int, burst bool, seed int64) *synth {
	return &synth{
		n:       bins,
		burst:   burst,
		rng:     rand.New(rand.NewSource(seed)),
		samples: make([]complex128, bins),
		powers:  make([]float64, bins),
	}
}

// amplitude returns the tone amplitude that shows up as pwr dBm in its bin.
func (s *synth) amplitude(pwr float64) float64 {
	return math.Sqrt(math.Pow(10, (pwr-NoiseFloor)/10) / float64(s.n))
}

func (s *synth) tone(bin int, amp float64) {
	// bins are stored lowest frequency first, the FFT puts DC at index 0
	k := float64(bin - s.n/2)
	phase := s.rng.Float64() * 2 * math.Pi

	for t := range s.samples {
		s.samples[t] += cmplx.Rect(amp, 2*math.Pi*k*float64(t)/float64(s.n)+phase)
	}
}

// scan synthesizes one scan taken at now µs.
func (s *synth) scan(centerFreq uint16, now int64) frame.Frame {
	for i := range s.samples {
		s.samples[i] = complex(s.rng.NormFloat64()*math.Sqrt2/2, s.rng.NormFloat64()*math.Sqrt2/2)
	}

	// the access point occupies the middle half of the span
	if s.rng.Float64() < CarrierDuty {
		amp := s.amplitude(CarrierPower)
		for bin := s.n / 4; bin < s.n*3/4; bin++ {
			s.tone(bin, amp)
		}
	}

	if s.burst {
		width := max(2, s.n/frame.SpanWidth)
		if now >= s.burstUntil {
			s.burstBin = s.rng.Intn(s.n - width)
			s.burstUntil = now + BurstDwell
		}

		amp := s.amplitude(BurstPower)
		for bin := s.burstBin; bin < s.burstBin+width; bin++ {
			s.tone(bin, amp)
		}
	}

	spectrum := fft.FFT(s.samples)
	for i := range s.powers {
		c := spectrum[(i+s.n/2)%s.n]
		s.powers[i] = (real(c)*real(c) + imag(c)*imag(c)) / float64(s.n)
	}

	for i, p := range s.powers {
		s.powers[i] = 10 * math.Log10(math.Max(p, 1e-12))
	}
	floats.AddConst(NoiseFloor, s.powers)

	bins := make([]int8, s.n)
	for i, p := range s.powers {
		bins[i] = int8(math.Max(math.MinInt8, math.Min(math.MaxInt8, math.Round(p))))
	}

	return frame.Frame{
		CenterFreq: centerFreq,
		Timestamp:  int32(now),
		Bins:       bins,
	}
}
