package services

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"defeatthememe-backend/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Connection is one live websocket client. An empty Player receives every event.
type Connection struct {
	ID       string          `json:"id"`
	Player   string          `json:"player,omitempty"`
	Conn     *websocket.Conn `json:"-"`
	Send     chan []byte     `json:"-"`
	LastPing time.Time       `json:"last_ping"`
}

// PushMessage is the envelope written to websocket clients.
type PushMessage struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id"`
	Player    string      `json:"player,omitempty"`
	Data      interface{} `json:"data"`
}

// WebSocketPushService fans relay and game-result events out to connected clients.
type WebSocketPushService struct {
	connections map[string]*Connection
	hub         chan PushMessage
	register    chan *Connection
	unregister  chan *Connection
	done        chan struct{}
	stopOnce    sync.Once
	mutex       sync.RWMutex
	log         *logrus.Entry
}

// NewWebSocketPushService starts the hub loop.
func NewWebSocketPushService(log *logrus.Entry) *WebSocketPushService {
	service := &WebSocketPushService{
		connections: make(map[string]*Connection),
		hub:         make(chan PushMessage, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		log:         log,
	}

	go service.run()
	return service
}

func (s *WebSocketPushService) run() {
	for {
		select {
		case conn := <-s.register:
			s.handleRegister(conn)

		case conn := <-s.unregister:
			s.handleUnregister(conn)

		case message := <-s.hub:
			s.handleBroadcast(message)

		case <-s.done:
			s.closeAll()
			return
		}
	}
}

// Stop closes every connection and ends the hub loop.
func (s *WebSocketPushService) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Publish queues an event for delivery. Subjects map directly to message types.
func (s *WebSocketPushService) Publish(subject string, payload interface{}) error {
	msg := PushMessage{
		Type:      subject,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: uuid.NewString(),
		Player:    playerOf(payload),
		Data:      payload,
	}
	select {
	case s.hub <- msg:
	case <-s.done:
	default:
		s.log.WithField("type", subject).Warn("⚠️  Push hub full, dropping message")
	}
	return nil
}

// PublishRaw forwards an already-encoded event, as received from NATS.
func (s *WebSocketPushService) PublishRaw(subject string, data []byte) {
	var payload interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		s.log.WithError(err).WithField("type", subject).Warn("⚠️  Dropping undecodable event")
		return
	}
	_ = s.Publish(subject, payload)
}

func (s *WebSocketPushService) handleRegister(conn *Connection) {
	s.mutex.Lock()
	s.connections[conn.ID] = conn
	s.mutex.Unlock()
	metrics.WebSocketConnections.Inc()

	s.log.WithFields(logrus.Fields{"conn_id": conn.ID, "player": conn.Player}).Info("📱 WebSocket connection registered")

	s.sendToConnection(conn, PushMessage{
		Type:      "connection_established",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: uuid.NewString(),
		Player:    conn.Player,
		Data: map[string]interface{}{
			"connection_id": conn.ID,
			"message":       "Real-time event connection established",
		},
	})
}

func (s *WebSocketPushService) handleUnregister(conn *Connection) {
	s.mutex.Lock()
	_, exists := s.connections[conn.ID]
	delete(s.connections, conn.ID)
	s.mutex.Unlock()
	if !exists {
		return
	}
	metrics.WebSocketConnections.Dec()

	close(conn.Send)
	s.log.WithField("conn_id", conn.ID).Info("📱 WebSocket connection unregistered")
}

func (s *WebSocketPushService) closeAll() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for id, conn := range s.connections {
		close(conn.Send)
		delete(s.connections, id)
		metrics.WebSocketConnections.Dec()
	}
}

func (s *WebSocketPushService) handleBroadcast(message PushMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		s.log.WithError(err).Error("❌ Failed to marshal push message")
		return
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	sent, dropped := 0, 0
	for _, conn := range s.connections {
		if conn.Player != "" && message.Player != "" && !strings.EqualFold(conn.Player, message.Player) {
			continue
		}
		select {
		case conn.Send <- data:
			sent++
		default:
			dropped++
		}
	}
	if dropped > 0 {
		s.log.WithFields(logrus.Fields{"type": message.Type, "sent": sent, "dropped": dropped}).Warn("⚠️  Some push messages were dropped")
	}
}

func (s *WebSocketPushService) sendToConnection(conn *Connection, message PushMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	select {
	case conn.Send <- data:
	default:
		s.log.WithField("conn_id", conn.ID).Warn("⚠️  Failed to send to connection")
	}
}

// HandleWebSocket upgrades the request and attaches the connection to the hub.
func (s *WebSocketPushService) HandleWebSocket(w http.ResponseWriter, r *http.Request, player string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("❌ WebSocket upgrade failed")
		return
	}

	connection := &Connection{
		ID:       "conn_" + uuid.NewString(),
		Player:   strings.ToLower(player),
		Conn:     conn,
		Send:     make(chan []byte, wsSendBuffer),
		LastPing: time.Now(),
	}

	select {
	case s.register <- connection:
	case <-s.done:
		conn.Close()
		return
	}

	go s.writePump(connection)
	go s.readPump(connection)
}

// ActiveConnections reports the number of registered clients.
func (s *WebSocketPushService) ActiveConnections() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.connections)
}

func (s *WebSocketPushService) writePump(conn *Connection) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.WithError(err).Debug("WebSocket write failed")
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketPushService) readPump(conn *Connection) {
	defer func() {
		select {
		case s.unregister <- conn:
		case <-s.done:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.LastPing = time.Now()
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.WithError(err).Warn("❌ WebSocket read error")
			}
			return
		}
	}
}

// playerOf extracts the player address from known event payloads so clients
// subscribed to one player only receive their own events.
func playerOf(payload interface{}) string {
	switch p := payload.(type) {
	case *RelayEvent:
		return strings.ToLower(p.From)
	case RelayEvent:
		return strings.ToLower(p.From)
	case interface{ GetPlayer() string }:
		return strings.ToLower(p.GetPlayer())
	case map[string]interface{}:
		for _, k := range []string{"playerAddress", "from"} {
			if v, ok := p[k].(string); ok {
				return strings.ToLower(v)
			}
		}
	}
	return ""
}
