package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second
	// sendBuffer is the per-client outbound queue; clients that fall this
	// far behind are disconnected.
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The front end is served from the mirror host itself; cross-origin
	// checks would only block local reconfigurations.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub implements Notifier by broadcasting messages to all connected
// websocket clients. The most recent STATUS and DATA messages are replayed
// to late-joining clients so a reconnecting front end renders immediately
// instead of waiting for the next poll cycle.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*hubClient
	lastStatus *Message
	lastData   *Message
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan Message
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*hubClient)}
}

// Status implements Notifier.
func (h *Hub) Status(message string) {
	log.Infof("status: %s", message)
	h.broadcast(Message{Type: MessageTypeStatus, Payload: StatusPayload{Message: message}}, true)
}

// Data implements Notifier.
func (h *Hub) Data(snapshot any) {
	h.broadcast(Message{Type: MessageTypeData, Payload: snapshot}, true)
}

// broadcast queues the message for every connected client. Clients whose
// send queue is full are dropped rather than allowed to stall the others.
func (h *Hub) broadcast(msg Message, remember bool) {
	h.mu.Lock()
	if remember {
		stored := msg
		switch msg.Type {
		case MessageTypeStatus:
			h.lastStatus = &stored
		case MessageTypeData:
			h.lastData = &stored
		}
	}
	var stale []*hubClient
	for _, client := range h.clients {
		select {
		case client.send <- msg:
		default:
			stale = append(stale, client)
		}
	}
	for _, client := range stale {
		delete(h.clients, client.id)
		close(client.send)
	}
	h.mu.Unlock()

	for _, client := range stale {
		log.Warnf("dropping slow websocket client %s", client.id)
		_ = client.conn.Close()
	}
}

// HandleWS upgrades the request to a websocket, registers the client and
// replays the last known status and snapshot.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("websocket upgrade failed: %v", err)
		return
	}

	client := &hubClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Message, sendBuffer),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	if h.lastStatus != nil {
		client.send <- *h.lastStatus
	}
	if h.lastData != nil {
		client.send <- *h.lastData
	}
	h.mu.Unlock()

	log.Infof("websocket client connected: %s", client.id)
	go h.writeLoop(client)
	go h.readLoop(client)
}

// writeLoop serializes queued messages onto the connection.
func (h *Hub) writeLoop(client *hubClient) {
	for msg := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteJSON(msg); err != nil {
			log.Debugf("websocket write to %s failed: %v", client.id, err)
			h.remove(client)
			return
		}
	}
	_ = client.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
}

// readLoop drains inbound frames so pings and close frames are processed.
func (h *Hub) readLoop(client *hubClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

// remove unregisters a client and closes its connection.
func (h *Hub) remove(client *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		close(client.send)
	}
	h.mu.Unlock()
	_ = client.conn.Close()
	log.Infof("websocket client disconnected: %s", client.id)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
