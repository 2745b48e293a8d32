package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(ctx context.Context, command string, args json.RawMessage) (any, error) {
	switch command {
	case "echo":
		var v map[string]any
		if err := json.Unmarshal(args, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, errors.New("unknown command: " + command)
	}
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(&Config{
		Addr:       "127.0.0.1:0",
		Dispatcher: echoDispatcher{},
		Classify:   func(error) string { return "validation" },
		Logger:     log.New(io.Discard, "", 0),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	// Consume hello.
	var hello Message
	readJSON(t, conn, &hello)
	if hello.Type != MessageTypeHello {
		t.Fatalf("first message type = %q, want hello", hello.Type)
	}
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("Unmarshal() failed: %v (%s)", err, data)
	}
}

func TestServer_EmitBroadcasts(t *testing.T) {
	s := startTestServer(t)
	conn := dial(t, s)

	// Wait for registration to be visible.
	deadline := time.Now().Add(time.Second)
	for s.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	s.Emit("project-artifacts-changed-p1", map[string]any{"paths": []string{"/p/a.md"}})

	var msg Message
	readJSON(t, conn, &msg)
	if msg.Type != MessageTypeEvent || msg.Name != "project-artifacts-changed-p1" {
		t.Errorf("message = %+v", msg)
	}
	var payload struct{ Paths []string }
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Paths) != 1 || payload.Paths[0] != "/p/a.md" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestServer_Requests(t *testing.T) {
	s := startTestServer(t)
	conn := dial(t, s)

	ctx := context.Background()
	req, _ := json.Marshal(Request{ID: "1", Command: "echo", Args: json.RawMessage(`{"a":1}`)})
	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		t.Fatal(err)
	}

	var resp struct {
		Type   MessageType    `json:"type"`
		ID     string         `json:"id"`
		Result map[string]any `json:"result"`
		Error  *ErrorBody     `json:"error"`
	}
	readJSON(t, conn, &resp)
	if resp.ID != "1" || resp.Error != nil || resp.Result["a"] != float64(1) {
		t.Errorf("response = %+v", resp)
	}

	req, _ = json.Marshal(Request{ID: "2", Command: "nope"})
	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		t.Fatal(err)
	}
	resp.Result = nil
	readJSON(t, conn, &resp)
	if resp.ID != "2" || resp.Error == nil || resp.Error.Kind != "validation" {
		t.Errorf("error response = %+v", resp)
	}
}

func TestServer_Health(t *testing.T) {
	s := startTestServer(t)

	res, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer res.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestServer_EmitWithoutClients(t *testing.T) {
	s := NewServer(&Config{Addr: "127.0.0.1:0", Logger: log.New(io.Discard, "", 0)})
	// Not started: Emit must not block even when nobody drains the queue.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Emit("x", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked")
	}
}
