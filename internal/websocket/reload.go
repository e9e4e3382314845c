// Package websocket provides the live-reload channel: a websocket endpoint on
// its own ephemeral port that tells connected browsers to reload.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/localdev/internal/logging"
)

const (
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
	listenTries  = 5
)

// ReloadChannel handles browser connections and reload broadcasts.
//
// The hub goroutine owns registration, unregistration and broadcast. Any
// number of watchers may call Reload concurrently; a reload is an idempotent
// broadcast and the channel keeps no other state.
type ReloadChannel struct {
	host     string
	mainPort int
	logger   logging.Logger

	clients      map[*websocket.Conn]*browser
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *browser
	unregister chan *websocket.Conn

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	port     int
	// closed is set before Close waits on wg, so no handler adds to wg
	// after the wait has begun.
	closed bool

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewReloadChannel creates a channel that will listen on host. mainPort is
// the HTTP server's port, which the channel never binds.
func NewReloadChannel(host string, mainPort int, logger logging.Logger) *ReloadChannel {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReloadChannel{
		host:       host,
		mainPort:   mainPort,
		logger:     logger.WithComponent("reload-channel"),
		clients:    make(map[*websocket.Conn]*browser),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *browser, 32),
		unregister: make(chan *websocket.Conn, 32),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start binds a free ephemeral port and begins serving.
func (rc *ReloadChannel) Start(ctx context.Context) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.listener != nil {
		return errors.New("reload channel already started")
	}
	if rc.ctx.Err() != nil {
		return errors.New("reload channel closed")
	}

	ln, err := rc.listen()
	if err != nil {
		return err
	}
	rc.listener = ln
	rc.port = ln.Addr().(*net.TCPAddr).Port
	rc.server = &http.Server{
		Handler:           http.HandlerFunc(rc.HandleWebSocket),
		ReadHeaderTimeout: 10 * time.Second,
	}

	rc.wg.Add(2)
	go func() {
		defer rc.wg.Done()
		rc.runHub()
	}()
	go func() {
		defer rc.wg.Done()
		if err := rc.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rc.logger.Error(rc.ctx, err, "Reload channel server stopped")
		}
	}()

	rc.logger.Info(ctx, "Reload channel listening", "port", rc.port)
	return nil
}

func (rc *ReloadChannel) listen() (net.Listener, error) {
	addr := net.JoinHostPort(rc.host, "0")
	for i := 0; i < listenTries; i++ {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("binding reload channel on %s: %w", addr, err)
		}
		if ln.Addr().(*net.TCPAddr).Port != rc.mainPort {
			return ln, nil
		}
		ln.Close()
	}
	return nil, fmt.Errorf("no free port distinct from %d on %s", rc.mainPort, rc.host)
}

// Port returns the bound port, or 0 before Start.
func (rc *ReloadChannel) Port() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.port
}

// URL returns the websocket URL browsers connect to.
func (rc *ReloadChannel) URL() string {
	host := rc.host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(rc.Port())) + "/"
}

// HandleWebSocket upgrades a browser connection and registers it.
func (rc *ReloadChannel) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if rc.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	// The page is served from another port of the same host.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"localhost:*", "127.0.0.1:*", "[::1]:*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		rc.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	client := &browser{
		conn: conn,
		send: make(chan []byte, 16),
	}

	select {
	case rc.register <- client:
	case <-rc.ctx.Done():
		conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	}

	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	}
	rc.wg.Add(1)
	rc.mu.Unlock()

	go func() {
		defer rc.wg.Done()
		rc.handleClient(client)
	}()
}

// runHub manages client connections and broadcasting
func (rc *ReloadChannel) runHub() {
	for {
		select {
		case client := <-rc.register:
			rc.registerClient(client)
		case conn := <-rc.unregister:
			rc.unregisterClient(conn)
		case message := <-rc.broadcast:
			rc.broadcastToClients(message)
		case <-rc.ctx.Done():
			return
		}
	}
}

func (rc *ReloadChannel) registerClient(client *browser) {
	rc.clientsMutex.Lock()
	if rc.ctx.Err() != nil {
		rc.clientsMutex.Unlock()
		client.conn.Close(websocket.StatusGoingAway, "Server shutdown")
		return
	}
	rc.clients[client.conn] = client
	total := len(rc.clients)
	rc.clientsMutex.Unlock()

	rc.logger.Debug(rc.ctx, "Browser connected", "clients", total)
}

func (rc *ReloadChannel) unregisterClient(conn *websocket.Conn) {
	rc.clientsMutex.Lock()
	client, exists := rc.clients[conn]
	if exists {
		delete(rc.clients, conn)
		close(client.send)
	}
	total := len(rc.clients)
	rc.clientsMutex.Unlock()

	if exists {
		conn.Close(websocket.StatusNormalClosure, "")
		rc.logger.Debug(rc.ctx, "Browser disconnected", "clients", total)
	}
}

func (rc *ReloadChannel) broadcastToClients(message []byte) {
	rc.clientsMutex.RLock()
	clients := make([]*browser, 0, len(rc.clients))
	for _, client := range rc.clients {
		clients = append(clients, client)
	}
	rc.clientsMutex.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			// A browser this far behind only needs one reload.
			rc.logger.Debug(rc.ctx, "Client send buffer full, dropping message")
		}
	}
}

func (rc *ReloadChannel) handleClient(client *browser) {
	defer func() {
		select {
		case rc.unregister <- client.conn:
		case <-rc.ctx.Done():
		}
	}()

	go rc.writeToClient(client)
	rc.readFromClient(client)
}

// readFromClient drains the connection until it closes. Browsers never send
// anything meaningful.
func (rc *ReloadChannel) readFromClient(client *browser) {
	for {
		if _, _, err := client.conn.Read(rc.ctx); err != nil {
			return
		}
	}
}

func (rc *ReloadChannel) writeToClient(client *browser) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(rc.ctx, writeTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				rc.logger.Debug(rc.ctx, "WebSocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(rc.ctx, writeTimeout)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}

		case <-rc.ctx.Done():
			return
		}
	}
}

// Reload tells every connected browser to reload.
func (rc *ReloadChannel) Reload(reason string) {
	rc.BroadcastMessage(Message{
		Type:      MessageTypeReload,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

// BroadcastMessage sends a message to all connected clients
func (rc *ReloadChannel) BroadcastMessage(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		rc.logger.Error(rc.ctx, err, "Failed to marshal broadcast message")
		return
	}

	select {
	case rc.broadcast <- data:
	case <-rc.ctx.Done():
	default:
		rc.logger.Warn(rc.ctx, nil, "Broadcast channel full, dropping message", "type", message.Type)
	}
}

// ConnectedClients returns the number of connected browsers
func (rc *ReloadChannel) ConnectedClients() int {
	rc.clientsMutex.RLock()
	defer rc.clientsMutex.RUnlock()
	return len(rc.clients)
}

// Close stops the server and disconnects every client. It is safe to call
// more than once.
func (rc *ReloadChannel) Close(ctx context.Context) error {
	var closeErr error

	rc.shutdownOnce.Do(func() {
		rc.cancel()

		rc.mu.Lock()
		rc.closed = true
		server := rc.server
		rc.mu.Unlock()
		if server != nil {
			closeErr = server.Shutdown(ctx)
		}

		rc.clientsMutex.Lock()
		for conn := range rc.clients {
			conn.Close(websocket.StatusGoingAway, "Server shutdown")
		}
		rc.clients = make(map[*websocket.Conn]*browser)
		rc.clientsMutex.Unlock()

		rc.wg.Wait()
		rc.logger.Debug(ctx, "Reload channel closed")
	})

	return closeErr
}
