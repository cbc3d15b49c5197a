package gateway

import (
	"context"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

const commsTestPrefix = "gateway:comms_integration_test"

func startTestServer(t *testing.T, port int) *comms.Conn {
	t.Helper()

	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", commsTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", commsTestPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", commsTestPrefix, err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func TestSubscribeRoundTrip(t *testing.T) {
	nc := startTestServer(t, 14232)
	f := newFixture()

	sub, err := Subscribe(context.Background(), nc, "gateway.test", f.gw, 5*time.Second)
	if err != nil {
		t.Fatalf("%s - Subscribe: %v", commsTestPrefix, err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := Call(ctx, nc, "gateway.test", &Request{
		ID:     "r-1",
		Method: "execute",
		Params: []byte(`{"type":"get_scene_info"}`),
		Ctx:    &InvocationContext{TimeoutMs: 1000},
	})
	if err != nil {
		t.Fatalf("%s - Call: %v", commsTestPrefix, err)
	}
	if !resp.Ok || resp.ID != "r-1" {
		t.Fatalf("%s - unexpected response %+v", commsTestPrefix, resp)
	}
	result, _ := resp.Result.(map[string]interface{})
	if result["success"] != true {
		t.Errorf("%s - unexpected result %v", commsTestPrefix, result)
	}

	resp, err = Call(ctx, nc, "gateway.test", &Request{ID: "r-2", Method: "resolve"})
	if err != nil {
		t.Fatalf("%s - Call: %v", commsTestPrefix, err)
	}
	if resp.Ok || resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Errorf("%s - expected METHOD_NOT_FOUND, got %+v", commsTestPrefix, resp)
	}
}

func TestSubscribeInvalidRequest(t *testing.T) {
	nc := startTestServer(t, 14233)
	sub, err := Subscribe(context.Background(), nc, "gateway.test", newFixture().gw, time.Second)
	if err != nil {
		t.Fatalf("%s - Subscribe: %v", commsTestPrefix, err)
	}
	defer sub.Unsubscribe()

	msg, err := nc.Request("gateway.test", []byte("{not json"), 5*time.Second)
	if err != nil {
		t.Fatalf("%s - Request: %v", commsTestPrefix, err)
	}
	if got := string(msg.Data); got != `{"id":"","ok":false,"error":{"code":"INVALID_REQUEST","message":"Failed to decode request","retryable":false}}` {
		t.Errorf("%s - unexpected reply %s", commsTestPrefix, got)
	}
}
