// Package events provides the WebSocket channel between the backend and the
// GUI shell.
//
// The server broadcasts change notifications (watcher events, sync
// progress) to every connected client and answers command requests sent by
// a client on the same connection.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of a wire message.
type MessageType string

const (
	// MessageTypeEvent is a server push notification.
	MessageTypeEvent MessageType = "event"

	// MessageTypeResponse answers a client request.
	MessageTypeResponse MessageType = "response"

	// MessageTypeHello is sent once when a client connects.
	MessageTypeHello MessageType = "hello"
)

// Message is a server-to-client frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Name      string          `json:"name,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Request is a client-to-server command invocation.
type Request struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// ErrorBody describes a failed command.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response answers a Request.
type Response struct {
	Type   MessageType `json:"type"`
	ID     string      `json:"id"`
	Result any         `json:"result,omitempty"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

// Dispatcher executes a named command.
type Dispatcher interface {
	Dispatch(ctx context.Context, command string, args json.RawMessage) (any, error)
}

// ErrorClassifier maps an error to its taxonomy kind for the wire.
type ErrorClassifier func(error) string

// Server manages WebSocket connections and broadcasts messages.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	dispatcher Dispatcher
	classify   ErrorClassifier

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:7430)
	Addr string

	// Dispatcher answers client requests; nil disables requests.
	Dispatcher Dispatcher

	// Classify maps errors to kinds in responses.
	Classify ErrorClassifier

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:7430",
		Logger: log.New(os.Stderr, "[events] ", log.LstdFlags),
	}
}

// NewServer creates a new event server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[events] ", log.LstdFlags)
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	classify := config.Classify
	if classify == nil {
		classify = func(error) string { return "internal" }
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:       config.Addr,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Message, 256),
		dispatcher: config.Dispatcher,
		classify:   classify,
		ctx:        ctx,
		cancel:     cancel,
		logger:     config.Logger,
	}
}

// SetDispatcher installs the request dispatcher. It must be called before Start.
func (s *Server) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Event server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping event server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Event server stopped")
	return nil
}

// Emit broadcasts a named event. It never blocks: when the broadcast queue
// is full the event is dropped with a warning.
func (s *Server) Emit(name string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Printf("Failed to marshal payload for %s: %v", name, err)
			return
		}
		raw = data
	}
	s.Broadcast(Message{
		Type:      MessageTypeEvent,
		Name:      name,
		Timestamp: time.Now(),
		Payload:   raw,
	})
}

// Broadcast sends a message to all connected clients.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Printf("Warning: broadcast channel full, dropping %s", msg.Name)
	}
}

// broadcastLoop handles message broadcasting to all clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := s.write(conn, data); err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// handleWebSocket upgrades HTTP connections to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// The GUI shell loads from a custom scheme, so origins are not checked;
	// the listener is bound to loopback.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	hello, _ := json.Marshal(Message{Type: MessageTypeHello, Timestamp: time.Now()})
	_ = s.write(conn, hello)

	// The handler must not return while the connection is in use.
	s.readLoop(conn)
}

// readLoop serves requests until the client disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Printf("Ignoring malformed request: %v", err)
			continue
		}
		if req.Command == "" {
			continue
		}

		// Each request runs on its own goroutine so long commands (sync,
		// reorg) do not stall the connection.
		s.wg.Add(1)
		go func(req Request) {
			defer s.wg.Done()
			resp := s.handleRequest(req)
			out, err := json.Marshal(resp)
			if err != nil {
				s.logger.Printf("Failed to marshal response for %s: %v", req.Command, err)
				return
			}
			if err := s.write(conn, out); err != nil {
				s.logger.Printf("Failed to send response for %s: %v", req.Command, err)
			}
		}(req)
	}
}

func (s *Server) handleRequest(req Request) Response {
	resp := Response{Type: MessageTypeResponse, ID: req.ID}
	if s.dispatcher == nil {
		resp.Error = &ErrorBody{Kind: "internal", Message: "commands are not enabled"}
		return resp
	}

	result, err := s.dispatcher.Dispatch(s.ctx, req.Command, req.Args)
	if err != nil {
		resp.Error = &ErrorBody{Kind: s.classify(err), Message: err.Error()}
		return resp
	}
	resp.Result = result
	return resp
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
