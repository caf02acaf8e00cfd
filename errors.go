package flashlog

import "fmt"

// DeviceError indicates a failure to connect to or configure the acquisition
// hardware. It is fatal to the attempted state transition but leaves the
// session in its prior state; it is never retried automatically.
type DeviceError struct {
	Op     string // what we were trying to do ("open", "configure", ...)
	Status int    // underlying driver status code, 0 if none
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device error during %s (driver status %d)", e.Op, e.Status)
	}
	if e.Status != 0 {
		return fmt.Sprintf("device error during %s (driver status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("device error during %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// AcquisitionError indicates a single failed or timed-out block read. It is
// recoverable: the block is skipped and acquisition continues, unless too
// many occur consecutively (see maxConsecutiveReadFaults).
type AcquisitionError struct {
	Timeout bool
	Err     error
}

func (e *AcquisitionError) Error() string {
	if e.Timeout {
		return "acquisition timed out waiting for a data block"
	}
	return fmt.Sprintf("acquisition read failed: %v", e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// FormulaError indicates that a math-channel formula failed to compile. It is
// reported at configuration time; the offending channel is not activated and
// the error never reaches the streaming pipeline.
type FormulaError struct {
	Formula string
	Pos     int // byte offset of the offending token, -1 if not localized
	Msg     string
}

func (e *FormulaError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("formula %q: %s (at offset %d)", e.Formula, e.Msg, e.Pos)
	}
	return fmt.Sprintf("formula %q: %s", e.Formula, e.Msg)
}

// PersistenceError indicates a failure writing the data log (disk full,
// permissions). It escalates to a session-level fault; data already flushed
// is preserved.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("cannot write data log %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigurationError indicates an invalid session configuration value. It is
// reported before the configuration is accepted; the previous configuration
// remains in force.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Msg)
}
