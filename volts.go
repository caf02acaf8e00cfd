package flashlog

import "fmt"

// RawType holds one raw ADC reading. The device uses a 16-bit signed ADC, so
// codes run from -32768 to +32767 and the positive full-scale magnitude is
// 32768 counts.
type RawType int16

// adcHalfScale is the positive full-scale code magnitude of the ADC.
const adcHalfScale = 32768.0

// RangeID selects one of the device's input voltage ranges.
type RangeID int

// The input ranges supported by the device, smallest to largest.
const (
	Range10mV RangeID = iota
	Range20mV
	Range50mV
	Range100mV
	Range200mV
	Range500mV
	Range1V
	Range2V
	Range5V
	Range10V
	numRanges // must be last
)

// rangeFullScale maps a RangeID to its full-scale voltage. This table is
// derived once from the device data sheet; the conversion formula
// V = (code/32768)*fullScale then holds on every range with no per-range
// correction factors.
var rangeFullScale = [numRanges]float64{
	0.010, 0.020, 0.050, 0.100, 0.200, 0.500, 1.0, 2.0, 5.0, 10.0,
}

var rangeNames = [numRanges]string{
	"±10mV", "±20mV", "±50mV", "±100mV", "±200mV", "±500mV",
	"±1V", "±2V", "±5V", "±10V",
}

// Valid says whether r names a supported input range.
func (r RangeID) Valid() bool { return r >= 0 && r < numRanges }

// FullScale returns the full-scale voltage of range r. It panics on an
// invalid RangeID; configurations are validated before any conversion runs.
func (r RangeID) FullScale() float64 {
	if !r.Valid() {
		panic(fmt.Sprintf("RangeID %d out of range [0,%d)", r, int(numRanges)))
	}
	return rangeFullScale[r]
}

func (r RangeID) String() string {
	if !r.Valid() {
		return fmt.Sprintf("RangeID(%d)", int(r))
	}
	return rangeNames[r]
}

// Coupling selects AC or DC input coupling on a physical channel.
type Coupling int

// Input coupling modes.
const (
	CouplingDC Coupling = iota
	CouplingAC
)

func (c Coupling) String() string {
	if c == CouplingAC {
		return "AC"
	}
	return "DC"
}

// ConvertReading converts one raw ADC code to volts on the given range:
// V = (code / 32768) × fullScale. Pure and total for any valid RangeID.
func ConvertReading(code RawType, r RangeID) float64 {
	return float64(code) / adcHalfScale * rangeFullScale[r]
}

// convertSlice converts a block of raw codes to volts, adding the channel's
// DC offset, appending to dst to avoid reallocation in the steady state.
func convertSlice(dst []float64, codes []RawType, r RangeID, offset float64) []float64 {
	scale := rangeFullScale[r] / adcHalfScale
	for _, c := range codes {
		dst = append(dst, float64(c)*scale+offset)
	}
	return dst
}

// VoltsToCode is the inverse of ConvertReading, rounding to the nearest code
// and clamping at the ADC limits. Used by the simulated source and by tests.
func VoltsToCode(volts float64, r RangeID) RawType {
	scaled := volts / rangeFullScale[r] * adcHalfScale
	if scaled >= 32767 {
		return 32767
	}
	if scaled <= -32768 {
		return -32768
	}
	if scaled >= 0 {
		return RawType(scaled + 0.5)
	}
	return RawType(scaled - 0.5)
}
