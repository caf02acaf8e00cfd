package flashlog

// The Persist stage: an asynchronous consumer that writes every accepted
// row to the data log exactly once, in timestamp order. The inbound queue
// is unbounded; a slow disk grows the queue but never loses a row. Render
// may drop, Persist may not.

import (
	"sync/atomic"

	"github.com/flashdaq/flashlog/internal/csvlog"
	"github.com/flashdaq/flashlog/internal/unboundedchan"
)

type logSink struct {
	w     *csvlog.Writer
	in    *unboundedchan.UnboundedChannel[*Row]
	done  chan struct{}
	fault func(error) // session-level fault escalation
	rows  atomic.Int64
}

func newLogSink(w *csvlog.Writer, fault func(error)) *logSink {
	ls := &logSink{
		w:     w,
		in:    unboundedchan.NewUnboundedChannel[*Row](),
		done:  make(chan struct{}),
		fault: fault,
	}
	go ls.writeLoop()
	return ls
}

func (ls *logSink) enqueue(row *Row) {
	ls.in.In() <- row
}

// finishInput declares that no more rows are coming. Called exactly once,
// by the process stage, after its input channel closes.
func (ls *logSink) finishInput() {
	close(ls.in.In())
}

// writeLoop drains the queue into the log writer. A write failure (disk
// full, permission) escalates once; rows already flushed stay on disk.
func (ls *logSink) writeLoop() {
	defer close(ls.done)
	faulted := false
	for row := range ls.in.Out() {
		if faulted {
			continue // drain without writing; the session is stopping
		}
		if err := ls.w.WriteRow(row.T, row.Values); err != nil {
			faulted = true
			ls.fault(&PersistenceError{Path: ls.w.Path, Err: err})
			continue
		}
		ls.rows.Add(1)
	}
}

// closeAndFlush waits for the writer to drain, then flushes and closes the
// file. It is the only blocking step of session Stop.
func (ls *logSink) closeAndFlush() error {
	<-ls.done
	if err := ls.w.Close(); err != nil {
		return &PersistenceError{Path: ls.w.Path, Err: err}
	}
	return nil
}

// rowsWritten reports rows durably accepted by the writer so far.
func (ls *logSink) rowsWritten() int64 { return ls.rows.Load() }

// queueDepth reports the pending row count, for status broadcasts.
func (ls *logSink) queueDepth() int { return ls.in.Depth() }
