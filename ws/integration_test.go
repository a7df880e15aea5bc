package ws

import (
	"bufio"
	"net"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/wattframework/ampere/httpwire"
)

// TestHandshakeAgainstGorillaClient cross-checks the handshake and frame
// codec against gorilla/websocket acting as an independent client
// implementation, mirroring the role gorilla/websocket plays (an
// unused-at-runtime reference implementation) in
// shockwave/benchmarks/competitors/websocket_test.go.
func TestHandshakeAgainstGorillaClient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()

		br := bufio.NewReader(conn)
		bw := bufio.NewWriter(conn)
		parser := httpwire.NewParser(br)
		req := httpwire.GetRequest()
		defer httpwire.PutRequest(req)
		if err := parser.Parse(req); err != nil {
			serverDone <- err
			return
		}

		u := &Upgrader{}
		wsConn, err := u.Upgrade(req, conn, bw)
		if err != nil {
			serverDone <- err
			return
		}
		defer wsConn.Close(CloseNormal, "")

		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			serverDone <- err
			return
		}
		if err := wsConn.WriteMessage(msgType, data); err != nil {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	url := "ws://" + ln.Addr().String() + "/chat"
	dialer := gorilla.Dialer{HandshakeTimeout: 2 * time.Second}
	client, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("gorilla Dial: %v", err)
	}
	defer client.Close()

	if err := client.WriteMessage(gorilla.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(data) != "ping" {
		t.Fatalf("got %q, want %q", data, "ping")
	}

	select {
	case err := <-serverDone:
		if err != nil {
			t.Fatalf("server: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not complete in time")
	}
}
