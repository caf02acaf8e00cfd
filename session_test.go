package flashlog

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testSession builds a session over a simulated source writing to a temp
// directory. The source holds 2.5 V DC on channel A.
func testSession(t *testing.T, cfg SessionConfig) (*Session, *SimulatedSource) {
	t.Helper()
	source := NewSimulatedSource()
	source.Waves["A"] = DCLevel(2.5)
	source.Waves["B"] = DCLevel(1.0)
	cfg.DataDir = t.TempDir()
	session := NewSession(source, "sim")
	require.NoError(t, session.Configure(cfg))
	return session, source
}

// dataFiles lists the log files in dir, oldest first.
func dataFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

// readLog parses one log file into its column names and data rows.
func readLog(t *testing.T, path string) (columns []string, rows [][]string) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if columns == nil {
			columns = fields
			continue
		}
		rows = append(rows, fields)
	}
	return columns, rows
}

func TestSessionStateMachine(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.SampleRate = 1000
	session, _ := testSession(t, cfg)

	if err := session.Start(); err == nil {
		t.Error("Start from Idle should fail")
	}
	if err := session.Stop(); err == nil {
		t.Error("Stop from Idle should fail")
	}
	if err := session.Disconnect(); err == nil {
		t.Error("Disconnect from Idle should fail")
	}

	require.NoError(t, session.Connect())
	if session.State() != Connected {
		t.Fatalf("state = %v, want Connected", session.State())
	}
	if err := session.Connect(); err == nil {
		t.Error("double Connect should fail")
	}
	require.NoError(t, session.Reset()) // allowed before any data

	require.NoError(t, session.Start())
	if session.State() != Running {
		t.Fatalf("state = %v, want Running", session.State())
	}
	if err := session.Reset(); err == nil {
		t.Error("Reset while Running should fail")
	}
	if err := session.Configure(cfg); err == nil {
		t.Error("Configure while Running should fail")
	}
	if err := session.Disconnect(); err == nil {
		t.Error("Disconnect while Running should fail")
	}

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, session.Stop())
	if session.State() != Stopped {
		t.Fatalf("state = %v, want Stopped", session.State())
	}
	if err := session.Stop(); err == nil {
		t.Error("double Stop should fail")
	}
	require.NoError(t, session.Disconnect())
	if session.State() != Idle {
		t.Fatalf("state = %v, want Idle", session.State())
	}
}

func TestSessionEndToEnd(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.SampleRate = 1000
	cfg.MathChannels = []MathChannelConfig{
		{ID: "P", Formula: "A*A", Enabled: true},
		{ID: "Q", Formula: "A/(A-2.5)", Enabled: true}, // divides by zero: always NaN
	}
	session, _ := testSession(t, cfg)

	require.NoError(t, session.Connect())
	require.NoError(t, session.Start())
	time.Sleep(350 * time.Millisecond)
	require.NoError(t, session.Stop())

	status := session.Status()
	if status.Acquired == 0 {
		t.Fatal("no samples acquired")
	}
	// Exactly once: every acquired sample became exactly one log row.
	if status.Persisted != status.Acquired {
		t.Errorf("persisted %d rows for %d acquired samples", status.Persisted, status.Acquired)
	}
	if status.Processed != status.Acquired {
		t.Errorf("processed %d of %d acquired samples", status.Processed, status.Acquired)
	}

	files := dataFiles(t, session.Config().DataDir)
	require.Equal(t, 1, len(files))
	columns, rows := readLog(t, files[0])
	require.Equal(t, []string{"timestamp", "A", "P", "Q"}, columns)
	require.Equal(t, int(status.Persisted), len(rows))

	// The first row of a fresh session is at t = 0.
	t0, err := strconv.ParseFloat(rows[0][0], 64)
	require.NoError(t, err)
	if t0 != 0 {
		t.Errorf("first timestamp = %v, want 0", t0)
	}

	prev := math.Inf(-1)
	for i, row := range rows {
		ts, err := strconv.ParseFloat(row[0], 64)
		require.NoError(t, err)
		if ts <= prev {
			t.Fatalf("row %d: timestamp %v not increasing past %v", i, ts, prev)
		}
		prev = ts

		a, err := strconv.ParseFloat(row[1], 64)
		require.NoError(t, err)
		if math.Abs(a-2.5) > 1e-3 {
			t.Fatalf("row %d: A = %v, want 2.5", i, a)
		}
		p, err := strconv.ParseFloat(row[2], 64)
		require.NoError(t, err)
		if math.Abs(p-6.25) > 1e-2 {
			t.Fatalf("row %d: P = %v, want 6.25", i, p)
		}
		// A failed evaluation persists as an empty field, never "NaN".
		if row[3] != "" {
			t.Fatalf("row %d: Q = %q, want empty", i, row[3])
		}
	}

	// Rendered frames carry A and P but suppress every NaN point of Q.
	frames := session.Renderer().Frames()
	byID := make(map[string]Frame, len(frames))
	for _, f := range frames {
		byID[f.ChannelID] = f
	}
	if f := byID["A"]; len(f.Times) == 0 {
		t.Error("channel A rendered no points")
	}
	if f := byID["Q"]; len(f.Times) != 0 {
		t.Errorf("channel Q rendered %d NaN points", len(f.Times))
	}
	if f := byID["P"]; len(f.Times) != len(f.Values) {
		t.Error("frame times and values disagree")
	}
}

func TestSessionRestartAndReset(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.SampleRate = 1000
	session, _ := testSession(t, cfg)
	require.NoError(t, session.Connect())

	run := func() {
		require.NoError(t, session.Start())
		time.Sleep(250 * time.Millisecond)
		require.NoError(t, session.Stop())
	}
	run() // first file: t starts at 0
	run() // second file: origin kept, t continues

	require.NoError(t, session.Reset())
	run() // third file: t starts at 0 again

	files := dataFiles(t, session.Config().DataDir)
	require.Equal(t, 3, len(files))

	firstT := func(path string) float64 {
		_, rows := readLog(t, path)
		require.NotEmpty(t, rows)
		v, err := strconv.ParseFloat(rows[0][0], 64)
		require.NoError(t, err)
		return v
	}
	if v := firstT(files[0]); v != 0 {
		t.Errorf("first run starts at %v, want 0", v)
	}
	if v := firstT(files[1]); v <= 0 {
		t.Errorf("second run starts at %v, want a continued time axis", v)
	}
	if v := firstT(files[2]); v != 0 {
		t.Errorf("run after Reset starts at %v, want 0", v)
	}
}

func TestSessionResetClearsRetained(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.SampleRate = 1000
	session, _ := testSession(t, cfg)
	require.NoError(t, session.Connect())
	require.NoError(t, session.Start())
	time.Sleep(250 * time.Millisecond)
	require.NoError(t, session.Stop())

	series := session.retained["A"]
	require.NotNil(t, series)
	if series.Len() == 0 {
		t.Fatal("no retained data before Reset")
	}
	require.NoError(t, session.Reset())
	if n := series.Len(); n != 0 {
		t.Errorf("retained %d points after Reset", n)
	}
	status := session.Status()
	if status.Acquired != 0 || status.Processed != 0 {
		t.Errorf("counters survived Reset: acquired %d, processed %d",
			status.Acquired, status.Processed)
	}
}

func TestSessionReconnectRestartsTimeAxis(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.SampleRate = 1000
	session, _ := testSession(t, cfg)

	run := func() {
		require.NoError(t, session.Connect())
		require.NoError(t, session.Start())
		time.Sleep(250 * time.Millisecond)
		require.NoError(t, session.Stop())
		require.NoError(t, session.Disconnect())
	}
	run()
	// Disconnecting restarts the source's stream clock, so the old origin
	// and retained data must not carry into the new connection: the second
	// log starts at t = 0 and the retained series never runs backwards.
	run()

	files := dataFiles(t, session.Config().DataDir)
	require.Equal(t, 2, len(files))
	_, rows := readLog(t, files[1])
	require.NotEmpty(t, rows)
	t0, err := strconv.ParseFloat(rows[0][0], 64)
	require.NoError(t, err)
	if t0 != 0 {
		t.Errorf("first timestamp after reconnect = %v, want 0", t0)
	}

	points, _ := session.retained["A"].Snapshot(cfg.WindowSec)
	prev := math.Inf(-1)
	for _, p := range points {
		if p.T < 0 || p.T <= prev {
			t.Fatalf("retained timestamp %v after %v; want increasing from 0", p.T, prev)
		}
		prev = p.T
	}
}

func TestBlockReadTimeoutWithinBlockPeriod(t *testing.T) {
	// Stop interrupts the acquire wait, so the wait may never outlast one
	// block period.
	for _, rate := range []float64{10, 50, 100, 1000, 5000} {
		cfg := DefaultSessionConfig()
		cfg.SampleRate = rate
		period := time.Duration(float64(blockSizeFor(rate)) / rate * float64(time.Second))
		if got := blockReadTimeout(&cfg); got > period {
			t.Errorf("rate %.0f Hz: timeout %v exceeds one block period %v", rate, got, period)
		}
	}
}

func TestZeroOffset(t *testing.T) {
	cfg := DefaultSessionConfig()
	session, source := testSession(t, cfg)
	source.Waves["A"] = DCLevel(1.0)
	require.NoError(t, session.Connect())

	offset, err := session.ZeroOffset("A", 30)
	require.NoError(t, err)
	if math.Abs(offset+1.0) > 1e-3 {
		t.Errorf("offset = %v, want about -1", offset)
	}
	if got := session.Config().Channels[0].OffsetV; got != offset {
		t.Errorf("config offset = %v, want %v", got, offset)
	}

	if _, err := session.ZeroOffset("B", 10); err == nil {
		t.Error("ZeroOffset on a disabled channel should fail")
	}
}
