package flashlog

import "time"

// Block is one delivery unit of raw samples from the acquisition boundary.
// StartTime is seconds since the hardware stream started (monotonic,
// per-block); the session subtracts its own origin so every run's time axis
// begins at zero. All channels in one block share the sample interval, but
// block sizes vary between reads and consumers must never assume a fixed
// sample count per tick.
type Block struct {
	StartTime      float64
	SampleInterval float64
	Samples        map[string][]RawType // keyed by physical channel id
}

// Nsamp returns the per-channel sample count of the block.
func (b *Block) Nsamp() int {
	for _, s := range b.Samples {
		return len(s)
	}
	return 0
}

// AcquisitionSource is the hardware acquisition boundary. Implementations
// wrap a vendor driver (or synthesize data); the session owns exactly one
// and touches it only from the Acquire stage.
//
// Configure returns a *DeviceError when the device cannot be set up.
// ReadBlock blocks until a block is ready or the timeout expires, returning
// an *AcquisitionError on a timeout or driver fault; a single failure is
// recoverable and the caller decides when repetition becomes fatal.
type AcquisitionSource interface {
	Configure(cfg *SessionConfig) error
	ReadBlock(timeout time.Duration) (*Block, error)
	Disconnect() error
}
