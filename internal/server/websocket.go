package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"Showrunner/internal/model"
	"Showrunner/pkg/bus"
	pkglog "Showrunner/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	clientSendSize = 64
	maxMessageSize = 4096
)

// inboundMessage is the client -> server control protocol: join or leave a
// room. Rooms are event bus topics.
type inboundMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// outboundMessage is everything the gateway sends: room events, join/leave
// acknowledgements and protocol errors.
type outboundMessage struct {
	Type  string       `json:"type"`
	Room  string       `json:"room,omitempty"`
	Event *model.Event `json:"event,omitempty"`
	Error string       `json:"error,omitempty"`
}

// Gateway bridges the event bus to websocket clients. Each client joins the
// rooms it cares about and receives every event published on those topics;
// the gateway is push-only, clients cannot publish.
type Gateway struct {
	bus    *bus.Bus
	logger *pkglog.LogHelper

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewGateway creates the websocket gateway. The cleanup disconnects every
// client.
func NewGateway(b *bus.Bus, logger log.Logger) (*Gateway, func()) {
	gw := &Gateway{
		bus:    b,
		logger: pkglog.NewLogHelper(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The gateway carries no credentials and no client input beyond
			// room names, so cross-origin dashboards are allowed.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
	return gw, gw.Close
}

// Handle upgrades the HTTP request and runs the connection until the client
// disconnects or the heartbeat declares it dead.
func (gw *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		gw.logger.Gateway("websocket upgrade failed", "remote", r.RemoteAddr, "error", err.Error())
		return
	}

	c := &wsClient{
		gw:    gw,
		conn:  conn,
		send:  make(chan outboundMessage, clientSendSize),
		rooms: make(map[string]*bus.Subscription),
		done:  make(chan struct{}),
	}

	gw.mu.Lock()
	if gw.closed {
		gw.mu.Unlock()
		_ = conn.Close()
		return
	}
	gw.clients[c] = struct{}{}
	gw.mu.Unlock()

	gw.logger.Gateway("client connected", "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump()
}

// ClientCount returns the number of connected clients.
func (gw *Gateway) ClientCount() int {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return len(gw.clients)
}

// Close disconnects all clients and refuses new connections.
func (gw *Gateway) Close() {
	gw.mu.Lock()
	gw.closed = true
	clients := make([]*wsClient, 0, len(gw.clients))
	for c := range gw.clients {
		clients = append(clients, c)
	}
	gw.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (gw *Gateway) drop(c *wsClient) {
	gw.mu.Lock()
	delete(gw.clients, c)
	gw.mu.Unlock()
}

// wsClient is one connected websocket peer. The write pump goroutine owns
// the connection for writes; the read pump owns it for reads and drives the
// join/leave protocol.
type wsClient struct {
	gw   *Gateway
	conn *websocket.Conn
	send chan outboundMessage

	mu    sync.Mutex
	rooms map[string]*bus.Subscription

	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.logger.Gateway("client read error", "error", err.Error())
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(outboundMessage{Type: "error", Error: "malformed message"})
			continue
		}

		switch msg.Type {
		case "join_room":
			c.join(msg.Room)
		case "leave_room":
			c.leave(msg.Room)
		default:
			c.reply(outboundMessage{Type: "error", Error: "unknown message type: " + msg.Type})
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) join(room string) {
	if room == "" {
		c.reply(outboundMessage{Type: "error", Error: "room name is required"})
		return
	}

	c.mu.Lock()
	if _, joined := c.rooms[room]; joined {
		c.mu.Unlock()
		c.reply(outboundMessage{Type: "joined", Room: room})
		return
	}
	sub := c.gw.bus.Subscribe(room, func(evt model.Event) {
		e := evt
		c.reply(outboundMessage{Type: "event", Room: evt.Topic, Event: &e})
	})
	c.rooms[room] = sub
	c.mu.Unlock()

	c.gw.logger.Gateway("client joined room", "room", room)
	c.reply(outboundMessage{Type: "joined", Room: room})
}

func (c *wsClient) leave(room string) {
	c.mu.Lock()
	sub, joined := c.rooms[room]
	if joined {
		delete(c.rooms, room)
	}
	c.mu.Unlock()

	if joined {
		c.gw.bus.Unsubscribe(sub)
		c.gw.logger.Gateway("client left room", "room", room)
	}
	c.reply(outboundMessage{Type: "left", Room: room})
}

// reply enqueues without blocking: a client that stops reading gets its
// excess messages dropped, never a stalled bus dispatcher.
func (c *wsClient) reply(msg outboundMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.gw.logger.Gateway("dropping message for slow client", "type", msg.Type, "room", msg.Room)
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		subs := make([]*bus.Subscription, 0, len(c.rooms))
		for _, sub := range c.rooms {
			subs = append(subs, sub)
		}
		c.rooms = make(map[string]*bus.Subscription)
		c.mu.Unlock()

		for _, sub := range subs {
			c.gw.bus.Unsubscribe(sub)
		}

		_ = c.conn.Close()
		c.gw.drop(c)
		c.gw.logger.Gateway("client disconnected")
	})
}
