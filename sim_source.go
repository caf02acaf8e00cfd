package flashlog

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Target block delivery rate, and the floor on samples delivered per block.
// At low sample rates the tick is stretched rather than shrinking blocks:
// tiny blocks at low rates once produced visually broken traces downstream.
const (
	blocksPerSecond = 10
	minBlockSamples = 8
)

// blockSizeFor returns the per-block sample count for a configured rate.
func blockSizeFor(sampleRate float64) int {
	n := int(sampleRate / blocksPerSecond)
	if n < minBlockSamples {
		return minBlockSamples
	}
	return n
}

// Waveform synthesizes the voltage of a simulated channel at stream time t.
type Waveform func(t float64) float64

// SineWave returns amplitude*sin(2π*freq*t) volts.
func SineWave(amplitude, freq float64) Waveform {
	return func(t float64) float64 {
		return amplitude * math.Sin(2*math.Pi*freq*t)
	}
}

// TriangleWave ramps between ±amplitude at the given frequency.
func TriangleWave(amplitude, freq float64) Waveform {
	return func(t float64) float64 {
		phase := t*freq - math.Floor(t*freq)
		if phase < 0.5 {
			return amplitude * (4*phase - 1)
		}
		return amplitude * (3 - 4*phase)
	}
}

// DCLevel returns a constant voltage.
func DCLevel(volts float64) Waveform {
	return func(float64) float64 { return volts }
}

// SimulatedSource synthesizes raw sample blocks in place of hardware. It
// paces ReadBlock to wall-clock time so the whole pipeline can be exercised
// end to end, and its stream clock is sample-counted, so timestamps are
// exactly uniform regardless of scheduling jitter.
type SimulatedSource struct {
	Waves map[string]Waveform // per channel id; DCLevel(0) when absent

	mu          sync.Mutex
	channels    []ChannelConfig
	sampleRate  float64
	blockSamp   int
	sampleCount int64 // stream clock, survives Stop/Start
	lastRead    time.Time
	configured  bool
}

// NewSimulatedSource returns a source with no waveforms bound; channels
// without an entry in Waves read as 0 V.
func NewSimulatedSource() *SimulatedSource {
	return &SimulatedSource{Waves: make(map[string]Waveform)}
}

// Configure prepares block synthesis for the enabled channels of cfg.
func (ss *SimulatedSource) Configure(cfg *SessionConfig) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	enabled := cfg.EnabledChannels()
	if len(enabled) == 0 {
		return &DeviceError{Op: "configure", Err: fmt.Errorf("no enabled channels")}
	}
	ss.channels = enabled
	ss.sampleRate = cfg.SampleRate
	ss.blockSamp = blockSizeFor(cfg.SampleRate)
	ss.lastRead = time.Now()
	ss.configured = true
	return nil
}

// ReadBlock waits until the next block of samples is due, then synthesizes
// it. The wait is bounded by timeout; an expired timeout yields an
// *AcquisitionError with Timeout set, as a stalled driver would.
func (ss *SimulatedSource) ReadBlock(timeout time.Duration) (*Block, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if !ss.configured {
		return nil, &AcquisitionError{Err: fmt.Errorf("source not configured")}
	}

	interval := 1.0 / ss.sampleRate
	blockPeriod := time.Duration(float64(ss.blockSamp) * interval * float64(time.Second))
	next := ss.lastRead.Add(blockPeriod)
	if wait := time.Until(next); wait > 0 {
		if wait > timeout {
			time.Sleep(timeout)
			return nil, &AcquisitionError{Timeout: true}
		}
		time.Sleep(wait)
	}
	ss.lastRead = time.Now()

	block := &Block{
		StartTime:      float64(ss.sampleCount) * interval,
		SampleInterval: interval,
		Samples:        make(map[string][]RawType, len(ss.channels)),
	}
	for _, ch := range ss.channels {
		wave := ss.Waves[ch.ID]
		codes := make([]RawType, ss.blockSamp)
		for i := range codes {
			t := float64(ss.sampleCount+int64(i)) * interval
			v := 0.0
			if wave != nil {
				v = wave(t)
			}
			codes[i] = VoltsToCode(v, ch.Range)
		}
		block.Samples[ch.ID] = codes
	}
	ss.sampleCount += int64(ss.blockSamp)
	return block, nil
}

// Disconnect releases the (simulated) hardware handle.
func (ss *SimulatedSource) Disconnect() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.configured = false
	ss.sampleCount = 0
	return nil
}
