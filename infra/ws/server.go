// Package ws pushes grid and meter updates to websocket clients. Every client
// receives global updates; a client joins a user's room with
// {"event":"subscribe_user","user_id":"..."} to also receive that user's
// MY_METER_UPDATE messages.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kilianp07/gridx/infra/logger"
	"github.com/kilianp07/gridx/internal/eventbus"
)

// Client events.
const (
	EventSubscribeUser   = "subscribe_user"
	EventUnsubscribeUser = "unsubscribe_user"
	EventSubscribed      = "subscribed"
	EventUnsubscribed    = "unsubscribed"
	EventError           = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

// Envelope is the JSON frame written to clients.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type request struct {
	Event  string `json:"event"`
	UserID string `json:"user_id"`
}

type client struct {
	id      string
	conn    *websocket.Conn
	control chan Envelope

	mu    sync.RWMutex
	rooms map[string]struct{}
}

func (c *client) join(user string) {
	c.mu.Lock()
	c.rooms[user] = struct{}{}
	c.mu.Unlock()
}

func (c *client) leave(user string) {
	c.mu.Lock()
	delete(c.rooms, user)
	c.mu.Unlock()
}

func (c *client) wants(m eventbus.Message) bool {
	if m.Global() {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[m.Scope]
	return ok
}

// Server upgrades HTTP requests and relays hub messages.
type Server struct {
	hub      *eventbus.Hub
	upgrader websocket.Upgrader
	log      logger.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

// NewServer returns a websocket server reading from hub.
func NewServer(hub *eventbus.Hub) *Server {
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:     logger.New("ws"),
		clients: make(map[string]*client),
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP handles the websocket upgrade.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub := s.hub.Subscribe("", eventbus.AnyScope)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.Unsubscribe(sub)
		s.log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		control: make(chan Envelope, 4),
		rooms:   make(map[string]struct{}),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.log.Infof("client %s connected", c.id)

	go s.writePump(c, sub)
	s.readPump(c)

	s.hub.Unsubscribe(sub)
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.log.Infof("client %s disconnected", c.id)
}

func (s *Server) readPump(c *client) {
	defer func() { _ = c.conn.Close() }()
	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warnf("client %s read: %v", c.id, err)
			}
			return
		}
		s.handle(c, data)
	}
}

func (s *Server) handle(c *client, data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		s.reply(c, Envelope{Event: EventError, Data: "invalid message"})
		return
	}
	switch req.Event {
	case EventSubscribeUser:
		if req.UserID == "" {
			s.reply(c, Envelope{Event: EventError, Data: "user_id required"})
			return
		}
		c.join(req.UserID)
		s.log.Debugf("client %s joined user_%s", c.id, req.UserID)
		s.reply(c, Envelope{Event: EventSubscribed, Data: map[string]string{"user_id": req.UserID}})
	case EventUnsubscribeUser:
		c.leave(req.UserID)
		s.reply(c, Envelope{Event: EventUnsubscribed, Data: map[string]string{"user_id": req.UserID}})
	default:
		s.reply(c, Envelope{Event: EventError, Data: "unknown event " + req.Event})
	}
}

func (s *Server) reply(c *client, e Envelope) {
	select {
	case c.control <- e:
	default:
		s.log.Warnf("client %s control queue full", c.id)
	}
}

func (s *Server) writePump(c *client, sub <-chan eventbus.Message) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case m, ok := <-sub:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if !c.wants(m) {
				continue
			}
			if err := s.write(c, Envelope{Event: m.Topic, Data: m.Payload}); err != nil {
				return
			}
		case e := <-c.control:
			if err := s.write(c, e); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(c *client, e Envelope) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(e); err != nil {
		s.log.Warnf("client %s write: %v", c.id, err)
		return err
	}
	return nil
}
