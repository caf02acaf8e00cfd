// Package rundb records session-run metadata in a ClickHouse database, when
// one is reachable. The recorder degrades gracefully: with no database the
// Record* calls are no-ops, and acquisition never waits on the database.
package rundb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const databaseName = "flashlog"

// Connection owns the database link and the message channels feeding it.
type Connection struct {
	conn    clickhouse.Conn
	err     error
	runmsg  chan *RunMessage
	filemsg chan *FileMessage
	sync.WaitGroup
}

// IsConnected reports whether the recorder has a usable database link.
func (db *Connection) IsConnected() bool {
	return db != nil && db.conn != nil && db.err == nil
}

// PingServer checks that a ClickHouse server is reachable and prints its
// version. Used by the -ping command-line flag.
func PingServer() error {
	db := connect()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected: %v", db.err)
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	return db.conn.Close()
}

// Start opens the connection (if possible) and launches the handler that
// serializes inserts. abort stops the handler and closes the link.
func Start(abort <-chan struct{}) *Connection {
	db := connect()
	go db.handle(abort)
	return db
}

// Dummy returns a recorder with no database behind it; every Record* call
// is a no-op. Used in tests and when recording is disabled.
func Dummy() *Connection {
	db := &Connection{}
	db.Add(1)
	return db
}

func connect() *Connection {
	db := &Connection{}
	opt := clickhouse.Options{
		Addr: []string{"localhost:9000"},
		Auth: clickhouse.Auth{
			Database: databaseName,
			Username: os.Getenv("FLASHLOG_DB_USER"),
			Password: os.Getenv("FLASHLOG_DB_PASSWORD"),
		},
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	if err := conn.Ping(context.Background()); err != nil {
		db.err = err
		return db
	}
	db.conn = conn
	db.runmsg = make(chan *RunMessage)
	db.filemsg = make(chan *FileMessage)
	db.Add(1)
	return db
}

func (db *Connection) handle(abort <-chan struct{}) {
	defer db.Done()
	if !db.IsConnected() {
		<-abort
		return
	}
	for {
		select {
		case <-abort:
			db.conn.Close()
			return
		case m := <-db.runmsg:
			db.insertRun(m)
		case m := <-db.filemsg:
			db.insertFile(m)
		}
	}
}

// RecordRun stores a run entry. It blocks until the handler accepts the
// message, so the run row exists before any file rows that reference it.
func (db *Connection) RecordRun(m *RunMessage) {
	if !db.IsConnected() || m == nil {
		return
	}
	db.runmsg <- m
}

// FinishRun re-records a run with its end time filled in. Asynchronous.
func (db *Connection) FinishRun(m *RunMessage) {
	if !db.IsConnected() || m == nil {
		return
	}
	m.End = time.Now()
	go func() { db.runmsg <- m }()
}

// RecordFile stores a data-file entry. Asynchronous.
func (db *Connection) RecordFile(m *FileMessage) {
	if !db.IsConnected() || m == nil {
		return
	}
	go func() { db.filemsg <- m }()
}

func (db *Connection) insertRun(m *RunMessage) {
	const nowait = false
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO runs VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, m.Hostname, m.SourceName, m.Nchannels, m.SampleRate,
		m.Start.Format("2006-01-02 15:04:05.000000"),
		m.End.Format("2006-01-02 15:04:05.000000"),
		m.ConfigSummary,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into runs ", err)
		db.err = err
	}
}

func (db *Connection) insertFile(m *FileMessage) {
	const nowait = false
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO files VALUES (?, ?, ?, ?)`, nowait,
		m.RunID, m.Filename, m.Rows, m.Size,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into files ", err)
		db.err = err
	}
}
