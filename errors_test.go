package flashlog

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorWrapping(t *testing.T) {
	inner := errors.New("handle stale")
	derr := &DeviceError{Op: "connect", Status: 0x0D, Err: inner}
	if !errors.Is(derr, inner) {
		t.Error("DeviceError does not unwrap to its cause")
	}
	if msg := derr.Error(); !strings.Contains(msg, "connect") {
		t.Errorf("DeviceError message %q omits the operation", msg)
	}

	aerr := &AcquisitionError{Timeout: true}
	var target *AcquisitionError
	if !errors.As(fmt.Errorf("read: %w", aerr), &target) {
		t.Error("AcquisitionError lost through wrapping")
	}
	if !target.Timeout {
		t.Error("Timeout flag lost through wrapping")
	}

	perr := &PersistenceError{Path: "/data/run.csv", Err: inner}
	if !errors.Is(perr, inner) {
		t.Error("PersistenceError does not unwrap to its cause")
	}
	if msg := perr.Error(); !strings.Contains(msg, "/data/run.csv") {
		t.Errorf("PersistenceError message %q omits the path", msg)
	}

	ferr := &FormulaError{Formula: "A+", Pos: 2, Msg: "unexpected end of formula"}
	if msg := ferr.Error(); !strings.Contains(msg, "A+") {
		t.Errorf("FormulaError message %q omits the formula", msg)
	}
}
