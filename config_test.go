package flashlog

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaults(t *testing.T) {
	cfg := DefaultSessionConfig()
	mathChans, skipped, err := cfg.Validate()
	require.NoError(t, err)
	assert.Empty(t, mathChans)
	assert.Empty(t, skipped)
	assert.Equal(t, 1, len(cfg.EnabledChannels()))
}

func TestValidateRejects(t *testing.T) {
	mangle := []struct {
		name  string
		field string
		f     func(*SessionConfig)
	}{
		{"rate too low", "SampleRate", func(c *SessionConfig) { c.SampleRate = 5 }},
		{"rate too high", "SampleRate", func(c *SessionConfig) { c.SampleRate = 100000 }},
		{"window", "WindowSec", func(c *SessionConfig) { c.WindowSec = 0 }},
		{"y bounds", "YMax", func(c *SessionConfig) { c.YMin, c.YMax = 1, -1 }},
		{"no channels", "Channels", func(c *SessionConfig) {
			for i := range c.Channels {
				c.Channels[i].Enabled = false
			}
		}},
		{"empty id", "Channels", func(c *SessionConfig) { c.Channels[0].ID = "" }},
		{"duplicate id", "Channels", func(c *SessionConfig) { c.Channels[1].ID = "A" }},
		{"bad range", "Channels", func(c *SessionConfig) { c.Channels[0].Range = RangeID(99) }},
	}
	for _, test := range mangle {
		cfg := DefaultSessionConfig()
		test.f(&cfg)
		_, _, err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: Validate unexpectedly succeeded", test.name)
			continue
		}
		cerr, ok := err.(*ConfigurationError)
		if !ok {
			t.Errorf("%s: error type %T, want *ConfigurationError", test.name, err)
			continue
		}
		if cerr.Field != test.field {
			t.Errorf("%s: error names field %q, want %q", test.name, cerr.Field, test.field)
		}
	}
}

func TestValidateMathChannels(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.Channels[1].Enabled = true
	cfg.MathChannels = []MathChannelConfig{
		{ID: "P", Formula: "A*A", Enabled: true},
		{ID: "Q", Formula: "P + B", Enabled: true}, // sees earlier math channel
		{ID: "R", Formula: "whatever", Enabled: false},
	}
	mathChans, skipped, err := cfg.Validate()
	require.NoError(t, err)
	require.Empty(t, skipped)
	require.Equal(t, 2, len(mathChans))
	assert.Equal(t, []string{"A"}, mathChans[0].Dependencies())
	assert.Equal(t, []string{"P", "B"}, mathChans[1].Dependencies())
}

func TestValidateSkipsBadFormula(t *testing.T) {
	// A formula that does not compile skips only its own channel. The rest
	// of the configuration, including later math channels, still activates.
	cfg := DefaultSessionConfig()
	cfg.MathChannels = []MathChannelConfig{
		{ID: "P", Formula: "A +", Enabled: true},
		{ID: "Q", Formula: "A*2", Enabled: true},
	}
	mathChans, skipped, err := cfg.Validate()
	require.NoError(t, err)
	require.Equal(t, 1, len(mathChans))
	assert.Equal(t, "Q", mathChans[0].ID)
	require.Equal(t, 1, len(skipped))
	assert.Equal(t, "P", skipped[0].ID)
	var ferr *FormulaError
	assert.True(t, errors.As(skipped[0].Err, &ferr))

	// A channel referencing a skipped one cannot resolve it and is skipped
	// in turn.
	cfg.MathChannels = append(cfg.MathChannels,
		MathChannelConfig{ID: "R", Formula: "P+1", Enabled: true})
	mathChans, skipped, err = cfg.Validate()
	require.NoError(t, err)
	require.Equal(t, 1, len(mathChans))
	require.Equal(t, 2, len(skipped))
	assert.Equal(t, "R", skipped[1].ID)
}

func TestValidateMathChannelOrdering(t *testing.T) {
	// A math channel may not reference one declared after it; the forward
	// reference fails to resolve and the channel is left inactive.
	cfg := DefaultSessionConfig()
	cfg.MathChannels = []MathChannelConfig{
		{ID: "P", Formula: "Q*2", Enabled: true},
		{ID: "Q", Formula: "A+1", Enabled: true},
	}
	mathChans, skipped, err := cfg.Validate()
	require.NoError(t, err)
	require.Equal(t, 1, len(mathChans))
	assert.Equal(t, "Q", mathChans[0].ID)
	require.Equal(t, 1, len(skipped))
	assert.Equal(t, "P", skipped[0].ID)
	assert.True(t, strings.Contains(skipped[0].Err.Error(), "Q"),
		"skip reason should name the unresolved variable: %v", skipped[0].Err)

	// Self reference is likewise unknown at compile time.
	cfg.MathChannels = []MathChannelConfig{{ID: "S", Formula: "S+1", Enabled: true}}
	mathChans, skipped, err = cfg.Validate()
	require.NoError(t, err)
	assert.Empty(t, mathChans)
	require.Equal(t, 1, len(skipped))

	// A formula over a disabled physical channel is skipped, too.
	cfg.MathChannels = []MathChannelConfig{{ID: "P", Formula: "B*2", Enabled: true}}
	mathChans, skipped, err = cfg.Validate()
	require.NoError(t, err)
	assert.Empty(t, mathChans)
	require.Equal(t, 1, len(skipped))
}

func TestValidateMathChannelLimits(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.MathChannels = nil
	for _, id := range []string{"M1", "M2", "M3", "M4", "M5"} {
		cfg.MathChannels = append(cfg.MathChannels,
			MathChannelConfig{ID: id, Formula: "A+1", Enabled: true})
	}
	_, _, err := cfg.Validate()
	require.Error(t, err)

	cfg.MathChannels = cfg.MathChannels[:4]
	_, _, err = cfg.Validate()
	assert.NoError(t, err)

	// Duplicate against a physical channel id.
	cfg.MathChannels = []MathChannelConfig{{ID: "A", Formula: "A+1", Enabled: true}}
	_, _, err = cfg.Validate()
	require.Error(t, err)
}
