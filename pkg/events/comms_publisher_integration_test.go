package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

const publisherTestPrefix = "events:comms_publisher_integration_test"

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) (*comms.Conn, func()) {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", publisherTestPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", publisherTestPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", publisherTestPrefix, err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}

	return nc, cleanup
}

func TestCommsPublisher_StatusSubject(t *testing.T) {
	nc, cleanup := startTestServer(t, 14230)
	defer cleanup()

	publisher := NewCommsPublisher(nc, nil)

	received := make(chan *OperationEvent, 1)
	sub, err := nc.Subscribe("gateway.operations.failed", func(msg *comms.Msg) {
		var event OperationEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Errorf("%s - failed to unmarshal: %v", publisherTestPrefix, err)
			return
		}
		received <- &event
	})
	if err != nil {
		t.Fatalf("%s - failed to subscribe: %v", publisherTestPrefix, err)
	}
	defer sub.Unsubscribe()

	event := &OperationEvent{
		OperationID: "op-42",
		CommandType: "scene.build",
		Status:      "failed",
		Progress:    1.0,
		Error:       "operation timed out after 5m0s",
		Timestamp:   "2025-01-01T00:00:00Z",
	}
	if err := publisher.PublishOperation(context.Background(), event); err != nil {
		t.Fatalf("%s - PublishOperation failed: %v", publisherTestPrefix, err)
	}
	nc.Flush()

	select {
	case got := <-received:
		if got.OperationID != "op-42" {
			t.Errorf("%s - OperationID = %q, want %q", publisherTestPrefix, got.OperationID, "op-42")
		}
		if got.Error != event.Error {
			t.Errorf("%s - Error = %q, want %q", publisherTestPrefix, got.Error, event.Error)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timeout waiting for status event", publisherTestPrefix)
	}
}

func TestCommsPublisher_CustomSubjectReceivesBoth(t *testing.T) {
	nc, cleanup := startTestServer(t, 14231)
	defer cleanup()

	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{Subject: "ops"})

	statusReceived := make(chan bool, 1)
	baseReceived := make(chan bool, 1)

	sub1, err := nc.Subscribe("ops.running", func(*comms.Msg) { statusReceived <- true })
	if err != nil {
		t.Fatalf("%s - subscribe status failed: %v", publisherTestPrefix, err)
	}
	defer sub1.Unsubscribe()

	sub2, err := nc.Subscribe("ops", func(*comms.Msg) { baseReceived <- true })
	if err != nil {
		t.Fatalf("%s - subscribe base failed: %v", publisherTestPrefix, err)
	}
	defer sub2.Unsubscribe()

	err = publisher.PublishOperation(context.Background(), &OperationEvent{OperationID: "op-1", Status: "running"})
	if err != nil {
		t.Fatalf("%s - PublishOperation failed: %v", publisherTestPrefix, err)
	}
	nc.Flush()

	for name, ch := range map[string]chan bool{"status": statusReceived, "base": baseReceived} {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("%s - timeout waiting for %s event", publisherTestPrefix, name)
		}
	}
}
