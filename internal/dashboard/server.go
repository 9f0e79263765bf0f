// Package dashboard provides a real-time WebSocket server for observing
// the history store.
//
// The dashboard broadcasts store lifecycle and merge events to connected
// WebSocket clients and serves a small HTTP API for timeline queries, so
// local UI layers can render the unified history without touching the
// database directly.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mstride/historyd/internal/store"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeStoreReady indicates the history store finished loading.
	// Broadcast exactly once per process lifetime.
	MessageTypeStoreReady MessageType = "store_ready"

	// MessageTypeMergeComplete indicates a report batch was merged
	MessageTypeMergeComplete MessageType = "merge_complete"

	// MessageTypeMergeFailed indicates a report batch merge rolled back
	MessageTypeMergeFailed MessageType = "merge_failed"

	// MessageTypeStats indicates updated history statistics
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MergeCompleteData summarizes a finished batch merge
type MergeCompleteData struct {
	Records  int           `json:"records"`
	Created  int           `json:"created"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Days     []string      `json:"days,omitempty"`
	Duration time.Duration `json:"duration"`
}

// MergeFailedData carries the error of a rolled-back batch
type MergeFailedData struct {
	Records int    `json:"records"`
	Error   string `json:"error"`
}

// StatsData contains history statistics
type StatsData struct {
	Total  int            `json:"total"`
	ByKind map[string]int `json:"by_kind"`
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	db       *store.DB
	listener net.Listener
	server   *http.Server

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Logging
	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8770)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8770,
		Logger: log.Default(),
	}
}

// NewServer creates a new dashboard server over the given store. The
// store may still be loading when the server starts; timeline queries
// fail gracefully until it is ready.
func NewServer(db *store.DB, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		db:        db,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/health", s.handleHealth) // legacy alias
	mux.HandleFunc("/api/timeline", s.handleTimeline)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// BroadcastStoreReady announces that the history store finished loading.
func (s *Server) BroadcastStoreReady() {
	s.Broadcast(Message{Type: MessageTypeStoreReady, Timestamp: time.Now()})
}

// BroadcastMergeComplete announces a finished batch merge plus fresh stats.
func (s *Server) BroadcastMergeComplete(data MergeCompleteData) {
	s.broadcastWithData(MessageTypeMergeComplete, data)
	s.broadcastStats()
}

// BroadcastMergeFailed announces a rolled-back batch merge.
func (s *Server) BroadcastMergeFailed(data MergeFailedData) {
	s.broadcastWithData(MessageTypeMergeFailed, data)
}

func (s *Server) broadcastWithData(typ MessageType, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	s.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: dataJSON})
}

// broadcastStats queries current per-kind counts and broadcasts them.
func (s *Server) broadcastStats() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	counts, err := s.db.CountByKind(ctx)
	if err != nil {
		s.logger.Printf("Failed to query stats: %v", err)
		return
	}

	stats := StatsData{ByKind: make(map[string]int, len(counts))}
	for kind, n := range counts {
		stats.ByKind[string(kind)] = n
		stats.Total += n
	}

	s.broadcastWithData(MessageTypeStats, stats)
}

// broadcastLoop handles message broadcasting to all clients
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

			// Send to clients (outside read lock to avoid blocking broadcasts)
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // Local-only service
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

	go s.readLoop(conn)

	// Late joiners still get a stats snapshot.
	s.broadcastStats()
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// We don't process client messages, just keep connection alive
	}
}

// removeClient safely removes a client connection
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

// timelineItem is the JSON shape of one history item in API responses.
type timelineItem struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Title        string    `json:"title"`
	ImageName    string    `json:"image_name,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	DateBucket   string    `json:"date_bucket"`
	TimeBucketID string    `json:"time_bucket_id,omitempty"`
	TZChanged    bool      `json:"tz_changed,omitempty"`
}

// handleTimeline serves GET /api/timeline?day=YYYY-MM-DD
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day == "" {
		http.Error(w, "missing day parameter", http.StatusBadRequest)
		return
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		http.Error(w, "day must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	items, err := s.db.ItemsForDay(r.Context(), day)
	if err != nil {
		s.logger.Printf("Timeline query failed: %v", err)
		http.Error(w, "timeline unavailable", http.StatusServiceUnavailable)
		return
	}

	out := make([]timelineItem, 0, len(items))
	for _, it := range items {
		out = append(out, timelineItem{
			ID:           it.ID,
			Kind:         string(it.Kind),
			Title:        it.Title,
			ImageName:    it.ImageName,
			Timestamp:    it.Timestamp,
			DateBucket:   it.DateBucket,
			TimeBucketID: it.TimeBucketID,
			TZChanged:    it.TZChanged,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"day":   day,
		"items": out,
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>historyd Dashboard</title>
</head>
<body>
    <h1>historyd Dashboard Server</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Timeline API: <code>/api/timeline?day=YYYY-MM-DD</code></p>
    <p>Health check: <a href="/api/health">/api/health</a></p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
