// Package websocket pushes refresh instructions to the browser pages that
// are open on a proxy.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/aemfed/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Manager tracks the connected pages of one proxy and broadcasts to them.
//
// A single hub goroutine owns registration and broadcasting. The clients map
// is additionally guarded by clientsMutex so it can be inspected from other
// goroutines.
type Manager struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn

	originValidator OriginValidator
	logger          logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	done         chan struct{}
}

// NewManager creates a manager and starts its hub. A nil validator accepts
// every origin.
func NewManager(originValidator OriginValidator, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		clients:         make(map[*websocket.Conn]*Client),
		broadcast:       make(chan []byte, 256),
		register:        make(chan *Client, 32),
		unregister:      make(chan *websocket.Conn, 32),
		originValidator: originValidator,
		logger:          logger.WithComponent("websocket"),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
	go m.runHub()
	return m
}

// HandleWebSocket upgrades a page connection and registers it.
func (m *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if m.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	origin := r.Header.Get("Origin")
	if origin != "" && m.originValidator != nil && !m.originValidator.IsAllowedOrigin(origin) {
		m.logger.Warn(r.Context(), nil, "websocket connection rejected", "origin", origin)
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origins were checked above.
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		m.logger.Debug(r.Context(), "websocket upgrade failed", "error", err.Error())
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &Client{
		conn:         conn,
		send:         make(chan []byte, 16),
		lastActivity: time.Now(),
	}

	select {
	case m.register <- client:
	case <-m.ctx.Done():
		_ = conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	}

	go m.writeToClient(client)
	m.readFromClient(client)
}

func (m *Manager) runHub() {
	defer close(m.done)
	for {
		select {
		case client := <-m.register:
			m.clientsMutex.Lock()
			m.clients[client.conn] = client
			count := len(m.clients)
			m.clientsMutex.Unlock()
			m.logger.Debug(m.ctx, "page connected", "clients", count)

		case conn := <-m.unregister:
			m.removeClient(conn)

		case message := <-m.broadcast:
			m.clientsMutex.RLock()
			var slow []*websocket.Conn
			for conn, client := range m.clients {
				select {
				case client.send <- message:
				default:
					slow = append(slow, conn)
				}
			}
			m.clientsMutex.RUnlock()
			for _, conn := range slow {
				m.removeClient(conn)
			}

		case <-m.ctx.Done():
			m.clientsMutex.Lock()
			for conn, client := range m.clients {
				close(client.send)
				_ = conn.Close(websocket.StatusGoingAway, "Server shutdown")
			}
			m.clients = make(map[*websocket.Conn]*Client)
			m.clientsMutex.Unlock()
			return
		}
	}
}

func (m *Manager) removeClient(conn *websocket.Conn) {
	m.clientsMutex.Lock()
	client, ok := m.clients[conn]
	if ok {
		delete(m.clients, conn)
		close(client.send)
	}
	count := len(m.clients)
	m.clientsMutex.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		m.logger.Debug(m.ctx, "page disconnected", "clients", count)
	}
}

// readFromClient drains the connection until it closes. Pages never send
// anything meaningful.
func (m *Manager) readFromClient(client *Client) {
	defer func() {
		select {
		case m.unregister <- client.conn:
		case <-m.ctx.Done():
		}
	}()

	for {
		ctx, cancel := context.WithTimeout(m.ctx, pongWait)
		_, _, err := client.conn.Read(ctx)
		cancel()
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && m.ctx.Err() == nil {
				m.logger.Debug(m.ctx, "websocket read error", "error", err.Error())
			}
			return
		}
		client.lastActivity = time.Now()
	}
}

func (m *Manager) writeToClient(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(m.ctx, writeWait)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				m.logger.Debug(m.ctx, "websocket write error", "error", err.Error())
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(m.ctx, writeWait)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}

		case <-m.ctx.Done():
			return
		}
	}
}

// BroadcastMessage queues message for every connected page. It is dropped
// when the queue is full or the manager is shut down.
func (m *Manager) BroadcastMessage(message UpdateMessage) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	data, err := json.Marshal(message)
	if err != nil {
		m.logger.Error(m.ctx, err, "failed to marshal broadcast message")
		return
	}

	select {
	case m.broadcast <- data:
	case <-m.ctx.Done():
	default:
		m.logger.Warn(m.ctx, nil, "broadcast queue full, dropping message", "type", message.Type)
	}
}

// InjectCSS asks the pages to swap the given stylesheets in place.
func (m *Manager) InjectCSS(targets []string) {
	m.BroadcastMessage(UpdateMessage{Type: MessageCSS, Targets: targets})
}

// Reload asks the pages to reload.
func (m *Manager) Reload() {
	m.BroadcastMessage(UpdateMessage{Type: MessageReload})
}

// ConnectedClients returns the number of connected pages.
func (m *Manager) ConnectedClients() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}

// Shutdown closes every connection and stops the hub.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(m.cancel)
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LocalOrigins accepts pages served by the proxy on port, through localhost
// or any of hosts.
type LocalOrigins struct {
	Port  int
	Hosts []string
}

// IsAllowedOrigin implements OriginValidator.
func (l LocalOrigins) IsAllowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if u.Port() != strconv.Itoa(l.Port) {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	for _, h := range l.Hosts {
		if host == h {
			return true
		}
	}
	return false
}
