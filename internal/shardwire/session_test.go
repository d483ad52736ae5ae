package shardwire

import (
	"fmt"
	"net"
	"testing"
)

func TestSessionAcquireAcquiredRoundTrip(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	server := NewServerSession(serverConn)
	client := NewClientSession(clientConn)

	done := make(chan error, 1)
	go func() {
		req, err := server.ReadRequest()
		if err != nil {
			done <- err
			return
		}
		if req.Acquire == nil || req.Acquire.ShardID != "7" {
			done <- fmt.Errorf("unexpected request: %+v", req)
			return
		}
		done <- server.WriteResponse(LockResponse{Acquired: &AcquiredMsg{Data: ShardData{Locks: map[string]bool{"7/0": false}}}})
	}()

	if err := client.WriteRequest(LockRequest{Acquire: &AcquireMsg{ShardID: "7"}}); err != nil {
		t.Fatalf("write acquire: %v", err)
	}

	resp, err := client.ReadResponse()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Acquired == nil {
		t.Fatalf("expected Acquired, got %+v", resp)
	}
	if held := resp.Acquired.Data.Locks["7/0"]; held {
		t.Fatalf("expected key 7/0 unheld")
	}

	if err := <-done; err != nil {
		t.Fatalf("server goroutine: %v", err)
	}
}

func TestSessionStatusFrame(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	server := NewServerSession(serverConn)
	client := NewClientSession(clientConn)

	go func() {
		server.WriteStatus(CodeNotFound, "unknown shard: 99")
	}()

	_, err := client.ReadResponse()
	se, ok := AsStatusError(err)
	if !ok {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Code != CodeNotFound {
		t.Fatalf("expected CodeNotFound, got %v", se.Code)
	}
}
