package flashlog

// Contain the ClientUpdate type and RunClientUpdater, which publishes
// JSON-encoded messages giving the latest session state.

import (
	"encoding/json"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// ClientUpdate carries one message to be published on the status port.
// State is JSON-encoded at publish time.
type ClientUpdate struct {
	Tag   string
	State interface{}
}

// sendAllTag asks the updater to republish every message seen so far, so a
// late-joining client can learn the full state.
const sendAllTag = "SENDALL"

// RunClientUpdater forwards any message from its input channel to the ZMQ
// publisher socket, remembering the last message per tag for replay. It
// returns when the messages channel is closed.
func RunClientUpdater(messages <-chan ClientUpdate, portstatus int) {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		ProblemLogger.Printf("could not create status socket: %v", err)
		return
	}
	defer pubSocket.Close()
	if err = pubSocket.Bind(hostPort(portstatus)); err != nil {
		ProblemLogger.Printf("could not bind status socket: %v", err)
		return
	}

	saved := make(map[string][]byte)
	var order []string

	publish := func(tag string, message []byte) {
		pubSocket.SendBytes([]byte(tag), zmq.SNDMORE)
		pubSocket.SendBytes(message, 0)
	}

	for update := range messages {
		if update.Tag == sendAllTag {
			for _, tag := range order {
				publish(tag, saved[tag])
			}
			continue
		}
		message, err := json.Marshal(update.State)
		if err != nil {
			ProblemLogger.Printf("could not encode %s update: %v", update.Tag, err)
			continue
		}
		if _, seen := saved[update.Tag]; !seen {
			order = append(order, update.Tag)
		}
		saved[update.Tag] = message
		publish(update.Tag, message)
	}

	// Give the socket a moment to drain before teardown.
	time.Sleep(50 * time.Millisecond)
}
