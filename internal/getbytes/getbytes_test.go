package getbytes

import (
	"encoding/hex"
	"testing"
)

func TestFromGetBytes(t *testing.T) {
	var byteslicetests = []struct {
		byteslice []byte
		expect    string
	}{
		{FromSliceUint64([]uint64{0xABCDEF0123456789}), "8967452301efcdab"},
		{FromSliceInt16([]int16{1, 2, 3, 4}), "0100020003000400"},
		{FromSliceFloat64([]float64{2, 4}), "00000000000000400000000000001040"},
		{FromSliceUint64([]uint64{}), ""},
		{FromSliceInt16([]int16{}), ""},
		{FromSliceFloat64([]float64{}), ""},
	}
	for _, test := range byteslicetests {
		encodedStr := hex.EncodeToString(test.byteslice)
		if expectStr := test.expect; encodedStr != expectStr {
			t.Errorf("want %v, have %v", expectStr, encodedStr)
		}
	}
}
