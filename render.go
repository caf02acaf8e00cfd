package flashlog

// The Render stage: a fixed-rate consumer decoupled from the acquisition
// rate, so drawing cost can never throttle the pipeline. On each tick it
// drains the plot queue, snapshots each channel's visible window from its
// retained series, and bumps a per-channel revision counter the view layer
// can use to detect "no new data" without diffing content.

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/flashdaq/flashlog/internal/getbytes"
	zmq "github.com/pebbe/zmq4"
)

// renderInterval is the fixed visual refresh period (10 Hz).
const renderInterval = 100 * time.Millisecond

// Frame is one channel's currently visible window. Times run from the
// session origin; NaN points (failed math evaluations) are already removed,
// so a view layer plots every pair it receives.
type Frame struct {
	ChannelID string
	Revision  uint64
	Times     []float64
	Values    []float64
}

// Renderer produces Frames at a fixed rate from the retained series.
type Renderer struct {
	window float64
	order  []string
	series map[string]*RetainedSeries
	pub    *FramePublisher // may be nil

	mu      sync.Mutex
	frames  map[string]Frame
	lastRev map[string]uint64
}

func newRenderer(order []string, series map[string]*RetainedSeries, window float64, pub *FramePublisher) *Renderer {
	return &Renderer{
		window:  window,
		order:   order,
		series:  series,
		pub:     pub,
		frames:  make(map[string]Frame, len(order)),
		lastRev: make(map[string]uint64, len(order)),
	}
}

// Frames returns the latest frame per channel, in channel order. The slices
// inside are snapshots; callers may keep them.
func (r *Renderer) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, 0, len(r.order))
	for _, id := range r.order {
		if f, ok := r.frames[id]; ok {
			out = append(out, f)
		}
	}
	return out
}

func (r *Renderer) run(abort <-chan struct{}, plotQueue <-chan *dataFrame, done *sync.WaitGroup) {
	defer done.Done()
	ticker := time.NewTicker(renderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-abort:
			r.drain(plotQueue)
			r.refresh() // final frame so the view shows everything acquired
			return
		case <-ticker.C:
			r.drain(plotQueue)
			r.refresh()
		}
	}
}

// drain empties the plot queue. Frames in the queue only signal arrival;
// window content comes from retained-series snapshots, which makes render
// coalescing under load free and safe.
func (r *Renderer) drain(plotQueue <-chan *dataFrame) {
	for {
		select {
		case <-plotQueue:
		default:
			return
		}
	}
}

// refresh rebuilds the visible window of every channel whose retained
// series has changed since the last tick.
func (r *Renderer) refresh() {
	for _, id := range r.order {
		rs := r.series[id]
		rev := rs.Revision()
		r.mu.Lock()
		last, seen := r.lastRev[id]
		r.mu.Unlock()
		if seen && rev == last {
			continue
		}
		points, rev := rs.Snapshot(r.window)
		frame := Frame{ChannelID: id, Revision: rev}
		frame.Times = make([]float64, 0, len(points))
		frame.Values = make([]float64, 0, len(points))
		for _, p := range points {
			if p.V != p.V { // NaN: skip the point, never plot it as zero
				continue
			}
			frame.Times = append(frame.Times, p.T)
			frame.Values = append(frame.Values, p.V)
		}
		r.mu.Lock()
		r.frames[id] = frame
		r.lastRev[id] = rev
		r.mu.Unlock()
		if r.pub != nil {
			r.pub.publish(&frame)
		}
	}
}

// FramePublisher pushes rendered frames out a ZMQ PUB socket as three-part
// messages: channel tag, JSON header, then the raw float64 payload
// (times followed by values, little-endian, reinterpreted in place).
type FramePublisher struct {
	socket *zmq.Socket
}

type frameHeader struct {
	Revision uint64
	Npoints  int
}

// NewFramePublisher binds the frame port. Frames are best-effort: a slow
// subscriber loses frames, never data.
func NewFramePublisher(port int) (*FramePublisher, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	if err := socket.Bind(hostPort(port)); err != nil {
		socket.Close()
		return nil, err
	}
	socket.SetSndhwm(10)
	return &FramePublisher{socket: socket}, nil
}

// Close destroys the socket.
func (fp *FramePublisher) Close() {
	if fp != nil && fp.socket != nil {
		fp.socket.Close()
	}
}

func (fp *FramePublisher) publish(f *Frame) {
	header, err := json.Marshal(frameHeader{Revision: f.Revision, Npoints: len(f.Times)})
	if err != nil {
		return
	}
	payload := make([]float64, 0, 2*len(f.Times))
	payload = append(payload, f.Times...)
	payload = append(payload, f.Values...)
	fp.socket.SendBytes([]byte(f.ChannelID), zmq.SNDMORE)
	fp.socket.SendBytes(header, zmq.SNDMORE)
	fp.socket.SendBytes(getbytes.FromSliceFloat64(payload), 0)
}
