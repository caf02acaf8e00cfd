package flashlog

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/oklog/ulid/v2"

	"github.com/flashdaq/flashlog/internal/csvlog"
	"github.com/flashdaq/flashlog/internal/rundb"
)

// SessionState is the lifecycle state of a logging session.
type SessionState int

// The session lifecycle: Idle → Connected → Running ⇄ Stopped, with Reset
// valid whenever the session is not Running.
const (
	Idle SessionState = iota
	Connected
	Running
	Stopped
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connected:
		return "Connected"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// maxConsecutiveReadFaults is how many back-to-back failed block reads are
// tolerated before the session is forced from Running to Stopped.
const maxConsecutiveReadFaults = 5

// Session owns the configuration, the time origin, the active channels and
// their retained series, the hardware handle, and the lifecycle state. All
// mutation goes through its methods; the streaming stages communicate only
// over the channels Start wires up.
type Session struct {
	source     AcquisitionSource
	sourceName string
	updates    chan<- ClientUpdate // nil when no status socket
	framePub   *FramePublisher     // nil when no frame socket
	db         *rundb.Connection

	stateLock sync.Mutex
	state     SessionState

	cfg         SessionConfig
	cfgGen      int // bumped by Configure; retained rebuilt when it changes
	mathChans   []*MathChannel
	skippedMath []SkippedMathChannel

	// Built at Start, torn down at Reset.
	physical    []ChannelConfig
	columns     []string
	retained    map[string]*RetainedSeries
	retainedGen int
	renderer    *Renderer
	evalScratch map[string]float64

	origin     float64 // hardware-stream time pinned as t=0; <0 when unset
	originWall time.Time

	// Per-run pipeline state.
	runID      string
	stopping   bool
	sink       *logSink
	blockQueue chan *Block
	plotQueue  chan *dataFrame
	abort      chan struct{}
	runDone    sync.WaitGroup
	faultOnce  *sync.Once
	lastFault  error

	counters Counters
}

// Counters tracks pipeline throughput for status broadcasts.
type Counters struct {
	Acquired    atomic.Int64
	Processed   atomic.Int64
	ReadFaults  atomic.Int64
	PlotDropped atomic.Int64
}

// NewSession wraps an acquisition source with the default configuration.
// The source name labels log output and run records ("sim", "ps4000", ...).
func NewSession(source AcquisitionSource, sourceName string) *Session {
	return &Session{
		source:     source,
		sourceName: sourceName,
		state:      Idle,
		cfg:        DefaultSessionConfig(),
		origin:     -1,
		db:         rundb.Dummy(),
	}
}

// SetUpdates directs status broadcasts at a client updater channel.
func (s *Session) SetUpdates(ch chan<- ClientUpdate) { s.updates = ch }

// SetFramePublisher directs rendered frames at a ZMQ publisher.
func (s *Session) SetFramePublisher(fp *FramePublisher) { s.framePub = fp }

// SetRunDB directs run metadata at a database recorder.
func (s *Session) SetRunDB(db *rundb.Connection) { s.db = db }

// State returns the lifecycle state in a race-free fashion.
func (s *Session) State() SessionState {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.state
}

// Config returns a copy of the current configuration.
func (s *Session) Config() SessionConfig {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.cfg
}

// Configure validates and installs a new configuration. Permitted in any
// state except Running; changes take effect at the next entry to Running.
// A math channel whose formula fails to compile is left inactive and
// reported, without rejecting the rest of the configuration.
func (s *Session) Configure(cfg SessionConfig) error {
	mathChans, skipped, err := cfg.Validate()
	if err != nil {
		return err
	}
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.state == Running {
		return fmt.Errorf("cannot configure while %v; Stop first", s.state)
	}
	s.cfg = cfg
	s.mathChans = mathChans
	s.skippedMath = skipped
	s.cfgGen++
	for _, sk := range skipped {
		ProblemLogger.Printf("math channel %q not activated: %v", sk.ID, sk.Err)
	}
	log.Printf("session configured:\n%s", spew.Sdump(cfg))
	return nil
}

// SkippedMathChannels lists the math channels of the current configuration
// that were left inactive because their formulas did not compile.
func (s *Session) SkippedMathChannels() []SkippedMathChannel {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return append([]SkippedMathChannel(nil), s.skippedMath...)
}

// Connect acquires the hardware handle: Idle → Connected. On a DeviceError
// the session stays Idle and the error is reported verbatim, never retried
// automatically.
func (s *Session) Connect() error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.state != Idle {
		return fmt.Errorf("cannot Connect a session that's %v, not Idle", s.state)
	}
	if err := s.source.Configure(&s.cfg); err != nil {
		return err
	}
	s.state = Connected
	s.broadcastState()
	return nil
}

// Start begins acquisition: Connected or Stopped → Running. The time origin
// is pinned once, at the first block after the last Reset; a Stopped →
// Running re-entry keeps the origin and the retained data.
func (s *Session) Start() error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	switch s.state {
	case Connected, Stopped:
	default:
		return fmt.Errorf("cannot Start a session that's %v", s.state)
	}

	// Reconfigure the existing handle; rate or range may have changed while
	// Stopped. This never re-enumerates hardware.
	if err := s.source.Configure(&s.cfg); err != nil {
		return err
	}
	s.prepareChannels()

	runID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	w, err := s.openDataLog(runID)
	if err != nil {
		return err
	}

	s.runID = runID
	s.faultOnce = new(sync.Once)
	s.lastFault = nil
	s.sink = newLogSink(w, s.fault)
	s.blockQueue = make(chan *Block, 16)
	s.plotQueue = make(chan *dataFrame, plotQueueDepth)
	s.abort = make(chan struct{})
	s.renderer = newRenderer(s.columns, s.retained, s.cfg.WindowSec, s.framePub)
	if s.origin < 0 {
		s.originWall = time.Now()
	}

	s.runDone.Add(3)
	go s.acquireLoop()
	go s.processLoop()
	go s.renderer.run(s.abort, s.plotQueue, &s.runDone)

	s.db.RecordRun(&rundb.RunMessage{
		ID:            runID,
		Hostname:      hostname(),
		SourceName:    s.sourceName,
		Nchannels:     len(s.columns),
		SampleRate:    s.cfg.SampleRate,
		Start:         time.Now(),
		ConfigSummary: configSummary(&s.cfg),
	})

	s.state = Running
	s.broadcastState()
	return nil
}

// Stop halts acquisition: Running → Stopped. It interrupts the acquire wait
// within one block period, drains in-flight data through Process and
// Fan-out, and blocks only on the final persistence flush. The hardware
// handle is retained so a later Start does not reconnect.
func (s *Session) Stop() error {
	s.stateLock.Lock()
	if s.state != Running || s.stopping {
		s.stateLock.Unlock()
		return fmt.Errorf("cannot Stop a session that's %v", s.state)
	}
	s.stopping = true
	closeIfOpen(s.abort)
	s.stateLock.Unlock()

	s.runDone.Wait() // acquire, process, render all exited; sink input closed
	err := s.sink.closeAndFlush()

	s.stateLock.Lock()
	rows := s.sink.rowsWritten()
	s.db.RecordFile(&rundb.FileMessage{
		RunID:    s.runID,
		Filename: s.sink.w.Path,
		Rows:     rows,
		Size:     fileSize(s.sink.w.Path),
	})
	s.db.FinishRun(&rundb.RunMessage{ID: s.runID})
	s.stopping = false
	s.state = Stopped
	s.broadcastState()
	fault := s.lastFault
	s.stateLock.Unlock()

	if err != nil {
		return err
	}
	return fault
}

// Reset clears the retained data and the time origin and finalizes the
// current data log, without releasing the hardware handle. Valid whenever
// the session is not Running. (The specification names Stopped and Idle;
// Connected is accepted too, being data-equivalent to Stopped.)
func (s *Session) Reset() error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.state == Running {
		return fmt.Errorf("cannot Reset a session that's %v; Stop first", s.state)
	}
	s.clearDataLocked()
	s.broadcastState()
	return nil
}

// clearDataLocked drops the retained data, the aggregate windows, the time
// origin, and the throughput counters. Callers hold stateLock.
func (s *Session) clearDataLocked() {
	for _, rs := range s.retained {
		rs.Clear()
	}
	for _, mc := range s.mathChans {
		mc.Reset()
	}
	s.origin = -1
	s.originWall = time.Time{}
	s.counters.Acquired.Store(0)
	s.counters.Processed.Store(0)
	s.counters.ReadFaults.Store(0)
	s.counters.PlotDropped.Store(0)
}

// Disconnect releases the hardware handle. Valid from Connected or Stopped;
// the session returns to Idle with its configuration intact. The source's
// stream clock does not survive a reconnect, so the retained data and the
// time origin are cleared as by Reset: timestamps from the next connection
// start at 0 again.
func (s *Session) Disconnect() error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	switch s.state {
	case Connected, Stopped:
	default:
		return fmt.Errorf("cannot Disconnect a session that's %v", s.state)
	}
	if err := s.source.Disconnect(); err != nil {
		return err
	}
	s.clearDataLocked()
	s.state = Idle
	s.broadcastState()
	return nil
}

// Renderer returns the active renderer, or nil before the first Start.
func (s *Session) Renderer() *Renderer {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.renderer
}

// LastFault returns the most recent session-level fault, if any.
func (s *Session) LastFault() error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.lastFault
}

// ZeroOffset measures a channel's idle level by averaging nsamples readings
// and installs the negated average as the channel's DC offset. Only valid
// while acquisition is not running.
func (s *Session) ZeroOffset(channelID string, nsamples int) (float64, error) {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	switch s.state {
	case Connected, Stopped:
	default:
		return 0, fmt.Errorf("cannot ZeroOffset while %v; Stop first", s.state)
	}
	idx := -1
	for i, ch := range s.cfg.Channels {
		if ch.ID == channelID && ch.Enabled {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, &ConfigurationError{Field: "Channels",
			Msg: fmt.Sprintf("no enabled channel %q", channelID)}
	}

	var sum float64
	var n int
	timeout := 2 * blockReadTimeout(&s.cfg)
	for n < nsamples {
		block, err := s.source.ReadBlock(timeout)
		if err != nil {
			return 0, err
		}
		codes := block.Samples[channelID]
		for _, c := range codes {
			sum += ConvertReading(c, s.cfg.Channels[idx].Range)
			n++
			if n >= nsamples {
				break
			}
		}
	}
	offset := -sum / float64(n)
	s.cfg.Channels[idx].OffsetV = offset
	s.cfgGen++
	return offset, nil
}

// ----- internals -----

// prepareChannels rebuilds the column order and retained series when the
// configuration changed since the last Start. Across an unchanged Stop →
// Start the retained data survives, preserving the time axis continuity.
func (s *Session) prepareChannels() {
	if s.retained != nil && s.retainedGen == s.cfgGen {
		return
	}
	s.physical = s.cfg.EnabledChannels()
	s.columns = make([]string, 0, len(s.physical)+len(s.mathChans))
	for _, ch := range s.physical {
		s.columns = append(s.columns, ch.ID)
	}
	for _, mc := range s.mathChans {
		s.columns = append(s.columns, mc.ID)
	}
	s.retained = make(map[string]*RetainedSeries, len(s.columns))
	for _, id := range s.columns {
		s.retained[id] = NewRetainedSeries(s.cfg.SampleRate, s.cfg.WindowSec)
	}
	s.evalScratch = make(map[string]float64, len(s.columns))
	s.retainedGen = s.cfgGen
}

func (s *Session) openDataLog(runID string) (*csvlog.Writer, error) {
	if err := os.MkdirAll(s.cfg.DataDir, 0755); err != nil {
		return nil, &PersistenceError{Path: s.cfg.DataDir, Err: err}
	}
	name := fmt.Sprintf("flashlog_%s_%s.csv", time.Now().Format("20060102_150405"), runID)
	path := filepath.Join(s.cfg.DataDir, name)

	comments := make([]string, 0, len(s.physical)+len(s.mathChans))
	for _, ch := range s.physical {
		comments = append(comments, fmt.Sprintf("channel %s: range %s, coupling %s, offset %.6f V",
			ch.ID, ch.Range, ch.Coupling, ch.OffsetV))
	}
	for _, mc := range s.mathChans {
		comments = append(comments, fmt.Sprintf("math %s: %s", mc.ID, mc.Formula))
	}
	w, err := csvlog.Create(path, csvlog.Header{
		StartTime:  time.Now(),
		SampleRate: s.cfg.SampleRate,
		Columns:    s.columns,
		Comments:   comments,
	})
	if err != nil {
		return nil, &PersistenceError{Path: path, Err: err}
	}
	return w, nil
}

// acquireLoop is the Acquire stage: it owns all access to the hardware
// handle while Running. A single failed read is logged and skipped; too
// many in a row escalate to a session fault.
func (s *Session) acquireLoop() {
	defer s.runDone.Done()
	defer close(s.blockQueue)
	timeout := blockReadTimeout(&s.cfg)
	consecutive := 0
	for {
		select {
		case <-s.abort:
			return
		default:
		}
		block, err := s.source.ReadBlock(timeout)
		if err != nil {
			var aqe *AcquisitionError
			if errors.As(err, &aqe) {
				consecutive++
				s.counters.ReadFaults.Add(1)
				ProblemLogger.Printf("block read failed (%d consecutive): %v", consecutive, err)
				if consecutive > maxConsecutiveReadFaults {
					s.fault(fmt.Errorf("%d consecutive acquisition failures, last: %w", consecutive, err))
					return
				}
				continue
			}
			s.fault(err)
			return
		}
		consecutive = 0
		select {
		case s.blockQueue <- block:
			s.counters.Acquired.Add(int64(block.Nsamp()))
		case <-s.abort:
			return
		}
	}
}

// fault records a session-level fault and forces Running → Stopped, once
// per run. Safe to call from any pipeline stage.
func (s *Session) fault(err error) {
	s.faultOnce.Do(func() {
		s.stateLock.Lock()
		s.lastFault = err
		s.stateLock.Unlock()
		ProblemLogger.Printf("session fault: %v", err)
		if s.updates != nil {
			s.updates <- ClientUpdate{Tag: "FAULT", State: struct{ Error string }{err.Error()}}
		}
		go s.Stop()
	})
}

func (s *Session) broadcastState() {
	if s.updates == nil {
		return
	}
	s.updates <- ClientUpdate{Tag: "STATUS", State: s.statusLocked()}
}

// SessionStatus is the externally visible summary broadcast to clients.
type SessionStatus struct {
	State        string
	SourceName   string
	SampleRate   float64
	Channels     []string
	SkippedMath  []string  // math channels left inactive, with the compile error
	OriginTime   time.Time // wall time of the current time origin; zero before data
	Acquired     int64
	Processed    int64
	Persisted    int64
	ReadFaults   int64
	PlotDropped  int64
	PersistQueue int
}

// Status returns the current status summary.
func (s *Session) Status() SessionStatus {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() SessionStatus {
	st := SessionStatus{
		State:       s.state.String(),
		SourceName:  s.sourceName,
		SampleRate:  s.cfg.SampleRate,
		Channels:    append([]string(nil), s.columns...),
		OriginTime:  s.originWall,
		Acquired:    s.counters.Acquired.Load(),
		Processed:   s.counters.Processed.Load(),
		ReadFaults:  s.counters.ReadFaults.Load(),
		PlotDropped: s.counters.PlotDropped.Load(),
	}
	for _, sk := range s.skippedMath {
		st.SkippedMath = append(st.SkippedMath, fmt.Sprintf("%s: %v", sk.ID, sk.Err))
	}
	if s.sink != nil {
		st.Persisted = s.sink.rowsWritten()
		st.PersistQueue = s.sink.queueDepth()
	}
	return st
}

// blockReadTimeout bounds one hardware wait to a single block period, so a
// Stop is noticed within one period. Floored so degenerate configurations
// don't spin; the floor never binds for a valid sample rate.
func blockReadTimeout(cfg *SessionConfig) time.Duration {
	period := float64(blockSizeFor(cfg.SampleRate)) / cfg.SampleRate
	timeout := time.Duration(period * float64(time.Second))
	if timeout < 50*time.Millisecond {
		timeout = 50 * time.Millisecond
	}
	return timeout
}

func closeIfOpen(c chan struct{}) {
	select {
	case <-c:
	default:
		close(c)
	}
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown host"
}

func fileSize(path string) int64 {
	if fi, err := os.Stat(path); err == nil {
		return fi.Size()
	}
	return 0
}

func configSummary(cfg *SessionConfig) string {
	return spew.Sdump(*cfg)
}
