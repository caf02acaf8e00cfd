// Package csvlog writes the comma-delimited data log: a self-describing
// comment block, one header line of column names, then one row per sample
// time slice. Rows pass through an asynchronous buffered writer so the
// streaming pipeline never waits on disk latency.
package csvlog

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flashdaq/flashlog/internal/asyncbufio"
)

// How the writer is buffered. 16k queued rows absorbs several seconds of
// the highest supported sample rate before producers block.
const (
	channelDepth  = 16384
	flushInterval = time.Second
)

// Header is everything recorded in the leading comment block, so that a
// data file carries its own acquisition context.
type Header struct {
	StartTime  time.Time
	SampleRate float64
	Columns    []string // value column names, excluding "timestamp"
	Comments   []string // extra lines: channel ranges, coupling, formulas
}

// Writer appends rows to one data log file.
type Writer struct {
	Path string

	file *os.File
	aw   *asyncbufio.Writer
	ncol int
	rows int
}

// Create opens path for writing and emits the comment block and the column
// header line.
func Create(path string, hdr Header) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		Path: path,
		file: f,
		aw:   asyncbufio.NewWriter(f, channelDepth, flushInterval),
		ncol: len(hdr.Columns),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Flash Data Logger\n")
	fmt.Fprintf(&b, "# session start: %s\n", hdr.StartTime.Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "# sample rate (Hz): %g\n", hdr.SampleRate)
	for _, line := range hdr.Comments {
		fmt.Fprintf(&b, "# %s\n", line)
	}
	b.WriteString("timestamp")
	for _, col := range hdr.Columns {
		b.WriteByte(',')
		b.WriteString(col)
	}
	b.WriteByte('\n')
	if _, err := w.aw.WriteString(b.String()); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// WriteRow appends one time slice. A NaN value (a failed derived-channel
// evaluation) becomes an empty field, never the token "NaN", so downstream
// tooling can parse every populated field as a number.
func (w *Writer) WriteRow(timestamp float64, values []float64) error {
	if len(values) != w.ncol {
		return fmt.Errorf("row has %d values, log has %d columns", len(values), w.ncol)
	}
	var b strings.Builder
	b.Grow(16 * (w.ncol + 1))
	b.WriteString(formatTimestamp(timestamp))
	for _, v := range values {
		b.WriteByte(',')
		if !math.IsNaN(v) {
			b.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
		}
	}
	b.WriteByte('\n')
	if _, err := w.aw.WriteString(b.String()); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Rows returns how many data rows have been accepted.
func (w *Writer) Rows() int { return w.rows }

// Flush forces queued rows through to the file.
func (w *Writer) Flush() error { return w.aw.Flush() }

// Close flushes and closes the file. The writer cannot be reused.
func (w *Writer) Close() error {
	werr := w.aw.Close()
	cerr := w.file.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// formatTimestamp matches the precision ramp of the original logger: more
// decimals for sub-second times so high rates remain distinguishable.
func formatTimestamp(t float64) string {
	switch {
	case t < 0.001:
		return strconv.FormatFloat(t, 'f', 9, 64)
	case t < 1.0:
		return strconv.FormatFloat(t, 'f', 6, 64)
	default:
		return strconv.FormatFloat(t, 'f', 3, 64)
	}
}
