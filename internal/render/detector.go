package render

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/roman-kulish/spectral-scan/internal/frame"
)

const (
	// windowTime is how long (µs) a scan contributes to the running average.
	windowTime = 625

	// maxWindowSize bounds the number of scans in the running average.
	maxWindowSize = 200

	// thresMin is the power (dBm) a bin must exceed to be part of a pulse.
	thresMin = -100

	// thresDiff is the drop (dB) from the peak that ends a pulse.
	thresDiff = 10

	// pulses seen in consecutive scans are the same transmission if they
	// are within these limits
	matchFreq = 1.0 // MHz
	matchPwr  = 3.0 // dB
	matchTime = 150 // µs

	btBaseFreq        = 2402 // MHz, Bluetooth channel 0
	btChannels        = 79
	btMaxScore        = 2_000_000
	btDetectScore     = 1_000_000
	btMaxWindowLength = 20_000 // µs
	nonBTHold         = 2500   // µs a wideband emission masks its channels
)

// DetectMode selects which narrowband readout is shown.
type DetectMode string

const (
	DetectBluetooth DetectMode = "bluetooth"
	DetectPulse     DetectMode = "pulse"
	DetectOff       DetectMode = "off"
)

// ParseDetectMode validates a detection mode name.
func ParseDetectMode(s string) (DetectMode, error) {
	switch m := DetectMode(s); m {
	case DetectBluetooth, DetectPulse, DetectOff:
		return m, nil
	case "":
		return DetectBluetooth, nil
	default:
		return "", fmt.Errorf("unknown detection mode: %s", s)
	}
}

// Pulse is a narrowband emission tracked across consecutive scans.
type Pulse struct {
	Center    float64 // MHz
	Bandwidth float64 // MHz
	Power     float64 // dBm
	First     int32   // µs
	Last      int32   // µs
	Count     int

	matched bool
}

// Length returns how long the pulse has been observed, in µs.
func (p Pulse) Length() int32 {
	return p.Last - p.First
}

// Readout is the detection result after the latest scan. NaN fields have
// nothing to report.
type Readout struct {
	CenterFreq     uint16
	BluetoothPower float64
	PulseFreq      float64
}

type windowScan struct {
	bins       []int8
	centerFreq uint16
	tstamp     int32
}

type btSample struct {
	pwrTotal float64
	length   int32
}

// Detector finds narrowband pulses in the stream of scans and scores them as
// Bluetooth hops. It must see every scan in arrival order; it is safe to
// feed from the frame receive goroutine while the render loop reads it.
type Detector struct {
	mu sync.Mutex

	window      [maxWindowSize]windowScan
	windowStart int
	windowSize  int
	windowSum   [frame.MaxBins]int
	avg         []float64

	pulses []Pulse
	fresh  []Pulse
	ended  []Pulse

	prevTstamp int32
	nonBT      [btChannels]int32
	btScore    int
	lastBTChan int

	btWindow      [maxWindowSize]btSample
	btWindowStart int
	btWindowSize  int
	btWindowSum   float64
	btWindowLen   int32

	readout Readout
}

// NewDetector creates a detector with an empty history.
func NewDetector() *Detector {
	return &Detector{
		avg:        make([]float64, 0, frame.MaxBins),
		prevTstamp: math.MaxInt32,
		lastBTChan: -1,
		readout: Readout{
			BluetoothPower: math.NaN(),
			PulseFreq:      math.NaN(),
		},
	}
}

// Readout returns the detection result after the latest scan.
func (d *Detector) Readout() Readout {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.readout
}

// Pulses returns the pulses detected in the latest scan and those that ended
// with it.
func (d *Detector) Pulses() (fresh, ended []Pulse) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Pulse(nil), d.fresh...), append([]Pulse(nil), d.ended...)
}

// Observe feeds one scan to the detector.
func (d *Detector) Observe(f frame.Frame) {
	if len(f.Bins) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.average(f)

	fresh := detectPulses(d.avg, f.CenterFreq, f.Timestamp)
	old := d.pulses
	d.pulses = matchPulses(fresh, old)

	d.ended = d.ended[:0]
	for _, p := range old {
		if !p.matched {
			d.ended = append(d.ended, p)
		}
	}
	d.fresh = fresh

	d.scoreBluetooth(f.Timestamp)

	d.readout.CenterFreq = f.CenterFreq
	d.readout.BluetoothPower = math.NaN()
	if d.btScore >= btDetectScore && d.btWindowLen > 0 {
		d.readout.BluetoothPower = d.btWindowSum / float64(d.btWindowLen)
	}

	d.readout.PulseFreq = math.NaN()
	longest := int32(-1)
	for _, p := range old {
		if l := p.Length(); l > longest {
			longest = l
			d.readout.PulseFreq = p.Center
		}
	}
}

// average adds f to the time window and recomputes the per-bin mean. Scans
// with a different shape or center, or older than windowTime, leave the
// window first.
func (d *Detector) average(f frame.Frame) {
	n := len(f.Bins)

	for d.windowSize > 0 {
		oldest := &d.window[d.windowStart]
		if len(oldest.bins) == n && oldest.centerFreq == f.CenterFreq && oldest.tstamp > f.Timestamp-windowTime {
			break
		}
		d.evict()
	}

	if d.windowSize == maxWindowSize {
		d.evict()
	}

	end := (d.windowStart + d.windowSize) % maxWindowSize
	slot := &d.window[end]
	slot.bins = append(slot.bins[:0], f.Bins...)
	slot.centerFreq = f.CenterFreq
	slot.tstamp = f.Timestamp

	for i, p := range f.Bins {
		d.windowSum[i] += int(p)
	}
	d.windowSize++

	d.avg = d.avg[:n]
	for i := range d.avg {
		d.avg[i] = float64(d.windowSum[i]) / float64(d.windowSize)
	}
}

func (d *Detector) evict() {
	old := &d.window[d.windowStart]
	for i, p := range old.bins {
		d.windowSum[i] -= int(p)
	}

	d.windowStart = (d.windowStart + 1) % maxWindowSize
	d.windowSize--
}

// scoreBluetooth looks at the pulses that ended with the latest scan. Short
// narrowband pulses on a new channel each time look like Bluetooth hops;
// wideband emissions mask the channels they cover for a while.
func (d *Detector) scoreBluetooth(tstamp int32) {
	if tstamp > d.prevTstamp {
		elapsed := tstamp - d.prevTstamp

		for ch := range d.nonBT {
			d.nonBT[ch] = max(d.nonBT[ch]-elapsed, 0)
		}
		d.btScore = max(d.btScore-int(elapsed), 0)
	}
	d.prevTstamp = tstamp

	for _, p := range d.ended {
		length := p.Length()
		chCenter := int(math.Round(p.Center - btBaseFreq))
		chStart := max(int(math.Round(p.Center-p.Bandwidth/2-btBaseFreq)), 0)
		chEnd := min(int(math.Round(p.Center+p.Bandwidth/2-btBaseFreq))+1, btChannels)

		switch {
		case p.Bandwidth > 2:
			for ch := chStart; ch < chEnd; ch++ {
				d.nonBT[ch] = nonBTHold
			}

		case length > 150 && length < 3750 && p.Bandwidth > 0.5 && p.Bandwidth < 1 &&
			chCenter >= 0 && chCenter < btChannels &&
			d.nonBT[chCenter] <= 0 && chCenter != d.lastBTChan:

			d.lastBTChan = chCenter
			d.btScore = min(d.btScore+int(length)*100, btMaxScore)
			d.pushBT(p.Power*float64(length), length)
		}
	}
}

func (d *Detector) pushBT(pwrTotal float64, length int32) {
	if d.btWindowSize == maxWindowSize {
		d.popBT()
	}

	end := (d.btWindowStart + d.btWindowSize) % maxWindowSize
	d.btWindow[end] = btSample{pwrTotal: pwrTotal, length: length}
	d.btWindowSum += pwrTotal
	d.btWindowLen += length
	d.btWindowSize++

	for d.btWindowSize > 0 && d.btWindowLen >= btMaxWindowLength {
		d.popBT()
	}
}

func (d *Detector) popBT() {
	old := d.btWindow[d.btWindowStart]
	d.btWindowSum -= old.pwrTotal
	d.btWindowLen -= old.length
	d.btWindowStart = (d.btWindowStart + 1) % maxWindowSize
	d.btWindowSize--
}

// detectPulses finds local peaks in the averaged bins and grows each one
// while neighbouring bins stay within thresDiff of the peak and above
// thresMin. A pulse needs at least two bins.
func detectPulses(pwr []float64, centerFreq uint16, tstamp int32) []Pulse {
	n := len(pwr)
	var pulses []Pulse

	for start, end, peak, next := 0, 0, 0, 0; end < n; start, peak, end = next, next, next {
		for start > 0 && pwr[start-1] > pwr[peak]-thresDiff && pwr[start-1] < pwr[peak] {
			start--
		}
		if start > 0 && pwr[start-1] >= pwr[peak] {
			next++
			continue
		}

		for end < n && pwr[end] > pwr[peak]-thresDiff && pwr[end] <= pwr[peak] {
			end++
		}
		next = end
		if end < n && pwr[end] > pwr[peak] {
			continue
		}
		if pwr[peak] <= thresMin {
			continue
		}

		for start < peak && pwr[start] <= thresMin {
			start++
		}
		for end > peak && pwr[end-1] <= thresMin {
			end--
		}
		if start+1 >= end {
			continue
		}

		pulses = append(pulses, makePulse(pwr, start, end, peak, centerFreq, tstamp))
	}

	return pulses
}

// makePulse uses the power-weighted centroid of bins [start, end) as center
// and twice the weighted standard deviation as bandwidth.
func makePulse(pwr []float64, start, end, peak int, centerFreq uint16, tstamp int32) Pulse {
	n := float64(len(pwr))
	span := pwr[start:end]

	idx := make([]float64, len(span))
	floats.Span(idx, float64(start), float64(end-1))

	sumPwr := floats.Sum(span)
	centerBin := floats.Dot(idx, span) / sumPwr

	dis := make([]float64, len(span))
	floats.AddConst(-centerBin, idx)
	floats.MulTo(dis, idx, idx)
	bwBin := 2 * math.Sqrt(floats.Dot(dis, span)/sumPwr)

	return Pulse{
		Center:    (centerBin/n-0.5)*frame.SpanWidth + float64(centerFreq),
		Bandwidth: bwBin / n * frame.SpanWidth,
		Power:     pwr[peak],
		First:     tstamp,
		Last:      tstamp,
		Count:     1,
	}
}

// matchPulses continues old pulses with the fresh ones that are close in
// frequency, bandwidth, power and time. Both lists are ordered by center
// frequency. Matched old pulses are flagged.
func matchPulses(fresh []Pulse, old []Pulse) []Pulse {
	pulses := make([]Pulse, 0, len(fresh))

	oldIdx := 0
	for _, p := range fresh {
		for oldIdx < len(old) && old[oldIdx].Center <= p.Center-matchFreq {
			oldIdx++
		}

		if oldIdx < len(old) {
			o := &old[oldIdx]

			if o.Center < p.Center+matchFreq &&
				math.Abs(o.Bandwidth-p.Bandwidth) < matchFreq*2 &&
				math.Abs(o.Power-p.Power) < matchPwr &&
				p.Last < o.Last+matchTime {

				cnt := float64(o.Count)
				pulses = append(pulses, Pulse{
					Center:    (p.Center + cnt*o.Center) / (cnt + 1),
					Bandwidth: (p.Bandwidth + cnt*o.Bandwidth) / (cnt + 1),
					Power:     (p.Power + cnt*o.Power) / (cnt + 1),
					First:     o.First,
					Last:      p.Last,
					Count:     o.Count + 1,
				})

				o.matched = true
				oldIdx++
				continue
			}
		}

		pulses = append(pulses, p)
	}

	return pulses
}
