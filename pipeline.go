package flashlog

// The Process and Fan-out stages of the streaming pipeline. One goroutine
// (processLoop) owns both: it converts raw blocks to physical values,
// evaluates math channels, and hands results to the retained series, the
// plot queue, and the persistence queue. Because the stage is a single
// goroutine, per-channel timestamp order is preserved end to end.

import "math"

// dataFrame is one processed block: session-relative timestamps plus one
// value slice per column, ordered as Session.columns (physical then math).
type dataFrame struct {
	times  []float64
	values [][]float64
}

// Row is one time slice bound for the data log.
type Row struct {
	T      float64
	Values []float64 // ordered as the log's columns
}

// plotQueueDepth bounds the plot queue. Visualization may coalesce or skip,
// so overflow drops the oldest frame rather than blocking the pipeline.
const plotQueueDepth = 64

func (s *Session) processLoop() {
	defer s.runDone.Done()
	for block := range s.blockQueue {
		frame := s.processBlock(block)
		s.fanOut(frame)
	}
	// Input exhausted (source stopped): no more rows will be produced.
	s.sink.finishInput()
}

// processBlock converts one raw block into a dataFrame. The session origin
// is pinned to the first block seen after the last Reset, so the first
// emitted timestamp of a fresh session is 0.
func (s *Session) processBlock(b *Block) *dataFrame {
	if s.origin < 0 {
		s.origin = b.StartTime
	}
	nsamp := b.Nsamp()
	frame := &dataFrame{
		times:  make([]float64, nsamp),
		values: make([][]float64, len(s.columns)),
	}
	t0 := b.StartTime - s.origin
	for i := range frame.times {
		frame.times[i] = t0 + float64(i)*b.SampleInterval
	}

	for ci, ch := range s.physical {
		codes := b.Samples[ch.ID]
		vals := make([]float64, 0, nsamp)
		vals = convertSlice(vals, codes, ch.Range, ch.OffsetV)
		// A channel missing from the block (driver hiccup) reads as NaN.
		for len(vals) < nsamp {
			vals = append(vals, math.NaN())
		}
		frame.values[ci] = vals[:nsamp]
	}

	// Math channels see the same-timestamp values of everything resolved so
	// far: physical channels and math channels earlier in the list.
	if len(s.mathChans) > 0 {
		for mi := range s.mathChans {
			frame.values[len(s.physical)+mi] = make([]float64, nsamp)
		}
		bindings := s.evalScratch
		for i := 0; i < nsamp; i++ {
			for ci, ch := range s.physical {
				bindings[ch.ID] = frame.values[ci][i]
			}
			for mi, mc := range s.mathChans {
				v := mc.EvalSample(bindings)
				frame.values[len(s.physical)+mi][i] = v
				bindings[mc.ID] = v
			}
		}
	}
	s.counters.Processed.Add(int64(nsamp))
	return frame
}

// fanOut distributes one processed frame to the retained series, the plot
// queue, and the persistence queue. It must never block on a slow consumer:
// the plot queue drops its oldest frame when full, and the persistence
// queue is unbounded because durability is a hard requirement.
func (s *Session) fanOut(frame *dataFrame) {
	for ci, id := range s.columns {
		points := make([]Sample, len(frame.times))
		for i := range points {
			points[i] = Sample{T: frame.times[i], V: frame.values[ci][i]}
		}
		s.retained[id].Append(points)
	}

	select {
	case s.plotQueue <- frame:
	default:
		// Full: discard the oldest frame, then retry once. If the renderer
		// raced us to the slot, dropping the new frame is equally fine.
		select {
		case <-s.plotQueue:
			s.counters.PlotDropped.Add(1)
		default:
		}
		select {
		case s.plotQueue <- frame:
		default:
			s.counters.PlotDropped.Add(1)
		}
	}

	for i := range frame.times {
		vals := make([]float64, len(s.columns))
		for ci := range s.columns {
			vals[ci] = frame.values[ci][i]
		}
		s.sink.enqueue(&Row{T: frame.times[i], Values: vals})
	}
}
