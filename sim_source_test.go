package flashlog

import (
	"math"
	"testing"
	"time"
)

func TestBlockSizeFor(t *testing.T) {
	tests := []struct {
		rate float64
		want int
	}{
		{5000, 500},
		{1000, 100},
		{100, 10},
		{80, minBlockSamples},
		{10, minBlockSamples},
	}
	for _, test := range tests {
		if got := blockSizeFor(test.rate); got != test.want {
			t.Errorf("blockSizeFor(%.0f) = %d, want %d", test.rate, got, test.want)
		}
	}
}

func TestSimulatedSourceBlocks(t *testing.T) {
	source := NewSimulatedSource()
	source.Waves["A"] = DCLevel(2.5)
	source.Waves["B"] = SineWave(1.0, 5.0)

	cfg := DefaultSessionConfig()
	cfg.Channels[1].Enabled = true
	cfg.SampleRate = 1000
	if err := source.Configure(&cfg); err != nil {
		t.Fatal(err)
	}

	b1, err := source.ReadBlock(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if b1.Nsamp() != 100 {
		t.Errorf("block holds %d samples, want 100", b1.Nsamp())
	}
	if b1.StartTime != 0 {
		t.Errorf("first block starts at %v, want 0", b1.StartTime)
	}
	if b1.SampleInterval != 0.001 {
		t.Errorf("sample interval %v, want 0.001", b1.SampleInterval)
	}
	if len(b1.Samples["A"]) != 100 || len(b1.Samples["B"]) != 100 {
		t.Fatalf("missing channel data: %d/%d", len(b1.Samples["A"]), len(b1.Samples["B"]))
	}

	// Channel A holds a constant 2.5 V at the ±5 V range.
	for i, code := range b1.Samples["A"] {
		if v := ConvertReading(code, Range5V); math.Abs(v-2.5) > 1e-3 {
			t.Fatalf("sample %d of channel A = %v V, want 2.5", i, v)
		}
	}

	// The stream clock is sample counted: consecutive blocks abut exactly.
	b2, err := source.ReadBlock(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if want := float64(b1.Nsamp()) * b1.SampleInterval; b2.StartTime != want {
		t.Errorf("second block starts at %v, want %v", b2.StartTime, want)
	}
}

func TestSimulatedSourceUnconfigured(t *testing.T) {
	source := NewSimulatedSource()
	if _, err := source.ReadBlock(time.Second); err == nil {
		t.Error("ReadBlock on an unconfigured source should fail")
	}
}

func TestSimulatedSourceTimeout(t *testing.T) {
	source := NewSimulatedSource()
	source.Waves["A"] = DCLevel(0)
	cfg := DefaultSessionConfig()
	cfg.SampleRate = 10 // one block per ~0.8 s
	if err := source.Configure(&cfg); err != nil {
		t.Fatal(err)
	}
	_, err := source.ReadBlock(10 * time.Millisecond)
	aqe, ok := err.(*AcquisitionError)
	if !ok {
		t.Fatalf("expected *AcquisitionError, got %v", err)
	}
	if !aqe.Timeout {
		t.Error("expired read should be marked as a timeout")
	}
}

func TestWaveforms(t *testing.T) {
	tri := TriangleWave(2.0, 1.0)
	for _, tc := range []struct{ t, want float64 }{
		{0, -2}, {0.25, 0}, {0.5, 2}, {0.75, 0}, {1.0, -2},
	} {
		if got := tri(tc.t); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("triangle(%v) = %v, want %v", tc.t, got, tc.want)
		}
	}
	sine := SineWave(3.0, 1.0)
	if got := sine(0.25); math.Abs(got-3.0) > 1e-9 {
		t.Errorf("sine(0.25) = %v, want 3", got)
	}
	if got := DCLevel(1.25)(123.0); got != 1.25 {
		t.Errorf("DCLevel = %v", got)
	}
}
