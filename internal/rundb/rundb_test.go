package rundb

import (
	"testing"
	"time"
)

func TestDummyRecorder(t *testing.T) {
	db := Dummy()
	if db.IsConnected() {
		t.Error("dummy recorder claims a database connection")
	}
	// Every call is a no-op that must not block or panic.
	db.RecordRun(&RunMessage{ID: "01TEST", SourceName: "sim", Start: time.Now()})
	db.RecordFile(&FileMessage{RunID: "01TEST", Filename: "x.csv", Rows: 10})
	db.FinishRun(&RunMessage{ID: "01TEST"})
	db.RecordRun(nil)
	db.RecordFile(nil)
	db.FinishRun(nil)
}

func TestStartWithoutServer(t *testing.T) {
	if PingServer() == nil {
		t.Skip("a ClickHouse server is reachable; skipping the no-server test")
	}
	abort := make(chan struct{})
	db := Start(abort)
	if db.IsConnected() {
		t.Fatal("connected without a reachable server")
	}
	// Recording against a failed connection degrades to no-ops.
	db.RecordRun(&RunMessage{ID: "01TEST"})
	db.RecordFile(&FileMessage{RunID: "01TEST"})
	close(abort)
	db.Wait()
}
