package flashlog

import (
	"fmt"
	"time"
)

// Limits on the configuration surface. The device exposes two analog inputs;
// math channels are capped so per-sample evaluation can never lag acquisition.
const (
	MaxPhysicalChannels = 2
	MaxMathChannels     = 4
	MinSampleRate       = 10
	MaxSampleRate       = 5000
)

// ChannelConfig describes one physical input channel.
type ChannelConfig struct {
	ID       string // column name in the data log, e.g. "A"
	Enabled  bool
	Coupling Coupling
	Range    RangeID
	OffsetV  float64 // DC offset added after conversion, volts
}

// MathChannelConfig describes one derived channel as (id, formula text).
type MathChannelConfig struct {
	ID      string
	Formula string
	Enabled bool
}

// SessionConfig is the full configuration surface validated before a session
// may enter Connected or leave Stopped.
type SessionConfig struct {
	Channels     []ChannelConfig
	MathChannels []MathChannelConfig
	SampleRate   float64 // per channel, Hz
	WindowSec    float64 // visualization window length, seconds
	YMin, YMax   float64 // plot bounds, volts
	DataDir      string  // where data log files are created
}

// DefaultSessionConfig mirrors the power-on defaults of the original logger:
// channel A only, ±5 V, DC coupled, 100 Hz, 60 s window.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Channels: []ChannelConfig{
			{ID: "A", Enabled: true, Coupling: CouplingDC, Range: Range5V},
			{ID: "B", Enabled: false, Coupling: CouplingDC, Range: Range5V},
		},
		SampleRate: 100,
		WindowSec:  60,
		YMin:       -5,
		YMax:       5,
		DataDir:    ".",
	}
}

// SampleInterval returns the time between consecutive samples.
func (cfg *SessionConfig) SampleInterval() time.Duration {
	return time.Duration(float64(time.Second) / cfg.SampleRate)
}

// EnabledChannels returns the enabled physical channel configs, in order.
func (cfg *SessionConfig) EnabledChannels() []ChannelConfig {
	out := make([]ChannelConfig, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		if ch.Enabled {
			out = append(out, ch)
		}
	}
	return out
}

// SkippedMathChannel records a math channel left inactive because its
// formula failed to compile. The rest of the configuration stands.
type SkippedMathChannel struct {
	ID  string
	Err error
}

// Validate checks every field of the configuration and compiles all enabled
// math formulas. It returns the compiled math channels on success, so a
// valid configuration is never re-parsed when the session starts. Formula
// failures are channel-local: a channel whose formula does not compile is
// skipped and reported, and no other channel is affected by it. Only
// structural problems (bad rate, duplicate ids, too many channels) reject
// the configuration as a whole.
func (cfg *SessionConfig) Validate() ([]*MathChannel, []SkippedMathChannel, error) {
	if cfg.SampleRate < MinSampleRate || cfg.SampleRate > MaxSampleRate {
		return nil, nil, &ConfigurationError{Field: "SampleRate",
			Msg: fmt.Sprintf("%.0f Hz outside [%d, %d]", cfg.SampleRate, MinSampleRate, MaxSampleRate)}
	}
	if cfg.WindowSec <= 0 {
		return nil, nil, &ConfigurationError{Field: "WindowSec", Msg: "must be positive"}
	}
	if cfg.YMax <= cfg.YMin {
		return nil, nil, &ConfigurationError{Field: "YMax", Msg: "must exceed YMin"}
	}
	if len(cfg.Channels) > MaxPhysicalChannels {
		return nil, nil, &ConfigurationError{Field: "Channels",
			Msg: fmt.Sprintf("%d physical channels configured, max %d", len(cfg.Channels), MaxPhysicalChannels)}
	}

	seen := make(map[string]bool)
	nEnabled := 0
	for _, ch := range cfg.Channels {
		if ch.ID == "" {
			return nil, nil, &ConfigurationError{Field: "Channels", Msg: "channel id must not be empty"}
		}
		if seen[ch.ID] {
			return nil, nil, &ConfigurationError{Field: "Channels",
				Msg: fmt.Sprintf("duplicate channel id %q", ch.ID)}
		}
		seen[ch.ID] = true
		if !ch.Range.Valid() {
			return nil, nil, &ConfigurationError{Field: "Channels",
				Msg: fmt.Sprintf("channel %q: invalid voltage range %d", ch.ID, int(ch.Range))}
		}
		if ch.Enabled {
			nEnabled++
		}
	}
	if nEnabled == 0 {
		return nil, nil, &ConfigurationError{Field: "Channels", Msg: "no physical channel enabled"}
	}

	// Math channels may reference enabled physical channels and math channels
	// declared earlier in the list. Resolving in declaration order makes
	// dependency cycles impossible by construction. A skipped channel is not
	// added to knownVars, so anything referencing it is skipped too.
	knownVars := make([]string, 0, nEnabled+len(cfg.MathChannels))
	for _, ch := range cfg.Channels {
		if ch.Enabled {
			knownVars = append(knownVars, ch.ID)
		}
	}
	nMath := 0
	mathChans := make([]*MathChannel, 0, len(cfg.MathChannels))
	var skipped []SkippedMathChannel
	for _, mc := range cfg.MathChannels {
		if !mc.Enabled {
			continue
		}
		nMath++
		if nMath > MaxMathChannels {
			return nil, nil, &ConfigurationError{Field: "MathChannels",
				Msg: fmt.Sprintf("more than %d math channels enabled", MaxMathChannels)}
		}
		if mc.ID == "" {
			return nil, nil, &ConfigurationError{Field: "MathChannels", Msg: "math channel id must not be empty"}
		}
		if seen[mc.ID] {
			return nil, nil, &ConfigurationError{Field: "MathChannels",
				Msg: fmt.Sprintf("duplicate channel id %q", mc.ID)}
		}
		seen[mc.ID] = true
		m, err := NewMathChannel(mc.ID, mc.Formula, knownVars)
		if err != nil {
			skipped = append(skipped, SkippedMathChannel{ID: mc.ID, Err: err})
			continue
		}
		mathChans = append(mathChans, m)
		knownVars = append(knownVars, mc.ID)
	}
	return mathChans, skipped, nil
}
