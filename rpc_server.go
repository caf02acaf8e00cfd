package flashlog

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/spf13/viper"
)

// SessionControl is the RPC sub-server that handles configuration and
// operation of a logging session.
type SessionControl struct {
	session       *Session
	clientUpdates chan<- ClientUpdate
}

// NewSessionControl wraps a session for RPC access.
func NewSessionControl(session *Session, updates chan<- ClientUpdate) *SessionControl {
	return &SessionControl{session: session, clientUpdates: updates}
}

// Connect acquires the hardware handle.
func (sc *SessionControl) Connect(dummy *string, reply *bool) error {
	err := sc.session.Connect()
	*reply = (err == nil)
	return err
}

// Start begins acquisition and opens a new data log.
func (sc *SessionControl) Start(dummy *string, reply *bool) error {
	log.Printf("Starting acquisition at %.1f Hz\n", sc.session.Config().SampleRate)
	err := sc.session.Start()
	*reply = (err == nil)
	return err
}

// Stop halts acquisition and finalizes the data log.
func (sc *SessionControl) Stop(dummy *string, reply *bool) error {
	log.Printf("Stopping acquisition\n")
	err := sc.session.Stop()
	*reply = (err == nil)
	return err
}

// Reset clears the retained data and the time origin.
func (sc *SessionControl) Reset(dummy *string, reply *bool) error {
	err := sc.session.Reset()
	*reply = (err == nil)
	return err
}

// Disconnect releases the hardware handle.
func (sc *SessionControl) Disconnect(dummy *string, reply *bool) error {
	err := sc.session.Disconnect()
	*reply = (err == nil)
	return err
}

// ConfigureChannels replaces the physical channel setup.
func (sc *SessionControl) ConfigureChannels(args []ChannelConfig, reply *bool) error {
	cfg := sc.session.Config()
	cfg.Channels = args
	err := sc.configure(cfg)
	*reply = (err == nil)
	return err
}

// ConfigureMathChannels replaces the math channel setup. Formulas are
// compiled up front; a channel whose formula fails to compile is left
// inactive and reported, without rejecting the others.
func (sc *SessionControl) ConfigureMathChannels(args []MathChannelConfig, reply *bool) error {
	cfg := sc.session.Config()
	cfg.MathChannels = args
	err := sc.configure(cfg)
	*reply = (err == nil)
	return err
}

// SessionSettings carries the session-wide knobs for ConfigureSession.
type SessionSettings struct {
	SampleRate float64
	WindowSec  float64
	YMin, YMax float64
	DataDir    string
}

// ConfigureSession replaces the sample rate, display window, Y bounds, and
// data directory.
func (sc *SessionControl) ConfigureSession(args *SessionSettings, reply *bool) error {
	cfg := sc.session.Config()
	cfg.SampleRate = args.SampleRate
	cfg.WindowSec = args.WindowSec
	cfg.YMin, cfg.YMax = args.YMin, args.YMax
	if args.DataDir != "" {
		cfg.DataDir = args.DataDir
	}
	err := sc.configure(cfg)
	*reply = (err == nil)
	return err
}

func (sc *SessionControl) configure(cfg SessionConfig) error {
	if err := sc.session.Configure(cfg); err != nil {
		return err
	}
	sc.clientUpdates <- ClientUpdate{"CONFIG", cfg}
	viper.Set("session", cfg)
	if err := viper.WriteConfig(); err != nil {
		ProblemLogger.Printf("could not save configuration: %v", err)
	}
	return nil
}

// ZeroArgs holds the arguments to a ZeroOffset operation.
type ZeroArgs struct {
	ChannelID string
	Nsamples  int
}

// ZeroOffset measures a channel's idle level and installs the compensating
// DC offset. The reply is the offset in volts.
func (sc *SessionControl) ZeroOffset(args *ZeroArgs, reply *float64) error {
	n := args.Nsamples
	if n <= 0 {
		n = 1000
	}
	offset, err := sc.session.ZeroOffset(args.ChannelID, n)
	if err != nil {
		return err
	}
	log.Printf("ZeroOffset %s: %.6f V over %d samples\n", args.ChannelID, offset, n)
	*reply = offset
	return nil
}

// ExportNPY writes a snapshot of every retained channel to NumPy files in
// the named directory. The reply lists the files written.
func (sc *SessionControl) ExportNPY(dir *string, reply *[]string) error {
	written, err := sc.session.ExportNPY(*dir)
	if err != nil {
		return err
	}
	log.Printf("Exported %d channels to %s\n", len(written), *dir)
	*reply = written
	return nil
}

// Status reports the session status summary.
func (sc *SessionControl) Status(dummy *string, reply *SessionStatus) error {
	*reply = sc.session.Status()
	return nil
}

func (sc *SessionControl) broadcastUpdate() {
	sc.clientUpdates <- ClientUpdate{"STATUS", sc.session.Status()}
}

// SendAllStatus causes a broadcast to clients containing all broadcastable status info
func (sc *SessionControl) SendAllStatus(dummy *string, reply *bool) error {
	sc.broadcastUpdate()
	sc.clientUpdates <- ClientUpdate{sendAllTag, 0}
	*reply = true
	return nil
}

// RunRPCServer sets up and runs a permanent JSON-RPC server.
func RunRPCServer(session *Session, messageChan chan<- ClientUpdate, portrpc int) {
	sessionControl := NewSessionControl(session, messageChan)

	// Load stored settings.
	log.Printf("Flashlog is using config file %s\n", viper.ConfigFileUsed())
	var saved SessionConfig
	if err := viper.UnmarshalKey("session", &saved); err == nil && len(saved.Channels) > 0 {
		if err := session.Configure(saved); err != nil {
			ProblemLogger.Printf("stored configuration rejected: %v", err)
		}
	}

	go func() {
		ticker := time.Tick(2 * time.Second)
		for range ticker {
			sessionControl.broadcastUpdate()
		}
	}()

	// Now launch the connection handler and accept connections.
	server := rpc.NewServer()
	server.Register(sessionControl)
	server.HandleHTTP(rpc.DefaultRPCPath, rpc.DefaultDebugPath)
	port := fmt.Sprintf(":%d", portrpc)
	listener, err := net.Listen("tcp", port)
	if err != nil {
		log.Fatal("listen error:", err)
	}
	for {
		if conn, err := listener.Accept(); err != nil {
			log.Fatal("accept error: " + err.Error())
		} else {
			log.Printf("new connection established\n")
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}
}
