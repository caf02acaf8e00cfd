package flashlog

import (
	"fmt"
	"log"
	"os"
	"time"
)

// Portnumbers structs can contain all TCP port numbers used by Flashlog.
type Portnumbers struct {
	RPC    int
	Status int
	Frames int
}

// Ports globally holds all TCP port numbers used by Flashlog.
var Ports Portnumbers

func setPortnumbers(base int) {
	Ports.RPC = base
	Ports.Status = base + 1
	Ports.Frames = base + 2
}

// hostPort formats a ZMQ tcp endpoint bound on all interfaces.
func hostPort(port int) string {
	return fmt.Sprintf("tcp://*:%d", port)
}

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Date    string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.1.0",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// FlashlogStartTime is a global holding the time init() was run
var FlashlogStartTime time.Time

// ProblemLogger will log warning messages to a file
var ProblemLogger *log.Logger

func init() {
	setPortnumbers(5500)
	FlashlogStartTime = time.Now()

	// Flashlog main program will override this, but at least initialize with a sensible value
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
}
