// Package asyncbufio wraps an io.Writer with a goroutine-owned buffered
// writer. Writes are handed off through a channel, so the producer never
// blocks on disk latency except when the channel itself is full; for a data
// log that must not drop rows, a full channel blocks rather than failing.
package asyncbufio

import (
	"bufio"
	"io"
	"time"
)

// Writer provides asynchronous buffered writing to an underlying io.Writer.
type Writer struct {
	writer        *bufio.Writer
	data          chan []byte
	flushNow      chan struct{} // request an immediate flush
	flushComplete chan struct{} // signals a requested flush finished
	flushInterval time.Duration
	err           error // first error from the underlying writer
}

// NewWriter starts the write loop. channelDepth bounds how many pending
// writes may queue before producers block; flushInterval bounds how stale
// the on-disk file can be.
func NewWriter(w io.Writer, channelDepth int, flushInterval time.Duration) *Writer {
	aw := &Writer{
		writer:        bufio.NewWriter(w),
		data:          make(chan []byte, channelDepth),
		flushNow:      make(chan struct{}),
		flushComplete: make(chan struct{}),
		flushInterval: flushInterval,
	}
	go aw.writeLoop()
	return aw
}

// Write queues p for writing. It blocks when the channel is full instead of
// dropping: callers use this for data that must reach disk exactly once.
// The caller must not reuse p's backing array after Write returns.
func (aw *Writer) Write(p []byte) (int, error) {
	aw.data <- p
	return len(p), nil
}

// WriteString queues s for writing (with a copy).
func (aw *Writer) WriteString(s string) (int, error) {
	return aw.Write([]byte(s))
}

// Flush drains the channel into the underlying writer and flushes it,
// blocking until complete. It reports the first write error seen, if any.
func (aw *Writer) Flush() error {
	aw.flushNow <- struct{}{}
	<-aw.flushComplete
	return aw.err
}

// Close flushes remaining data and stops the write loop. Write or Flush
// after Close will panic; we don't guard that case.
func (aw *Writer) Close() error {
	close(aw.flushNow)
	<-aw.flushComplete
	return aw.err
}

func (aw *Writer) writeLoop() {
	ticker := time.NewTicker(aw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-aw.data:
			aw.write(data)

		case _, ok := <-aw.flushNow:
			aw.flush()
			aw.flushComplete <- struct{}{}
			if !ok {
				return
			}

		case <-ticker.C:
			aw.flush()
		}
	}
}

func (aw *Writer) write(data []byte) {
	if _, err := aw.writer.Write(data); err != nil && aw.err == nil {
		aw.err = err
	}
}

// flush empties the data channel, then flushes the bufio layer.
func (aw *Writer) flush() {
	for {
		select {
		case data := <-aw.data:
			aw.write(data)
		default:
			if err := aw.writer.Flush(); err != nil && aw.err == nil {
				aw.err = err
			}
			return
		}
	}
}
