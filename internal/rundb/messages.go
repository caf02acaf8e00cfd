package rundb

import "time"

// The composite types used for messages to the ClickHouse database.

// RunMessage is one entry in the runs table: a single Running period of a
// logging session.
type RunMessage struct {
	ID            string // ULID
	Hostname      string
	SourceName    string
	Nchannels     int
	SampleRate    float64
	Start         time.Time
	End           time.Time
	ConfigSummary string
}

// FileMessage is one entry in the files table: a data log produced during
// a run.
type FileMessage struct {
	RunID    string
	Filename string
	Rows     int64
	Size     int64
}
