package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/campuslms/messaging/pkg/auth"
	"github.com/campuslms/messaging/pkg/event"
	"github.com/campuslms/messaging/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the client to present its auth frame after the upgrade.
	authWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the REST API enforces CORS; the gateway accepts any origin
	},
}

// Client is one authenticated websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames, drained by writePump.
	send chan []byte

	// Connection id, unique per socket.
	ID string

	// Identity from the verified bearer token.
	UserID string
	Role   model.Role

	// rooms and closed are owned by the hub dispatcher.
	rooms  map[string]bool
	closed bool
}

// trySend queues a frame without blocking. False means the buffer is full and
// the dispatcher should drop this connection.
func (c *Client) trySend(data []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) sendError(code event.ErrorCode, reason string) {
	data, err := event.Marshal(event.TypeError, event.Error{Code: code, Reason: reason})
	if err != nil {
		log.Printf("Failed to encode error ack: %v", err)
		return
	}
	c.trySend(data)
}

// closeSend is called only by the hub dispatcher, once.
func (c *Client) closeSend() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump decodes inbound frames into hub commands. One goroutine per
// connection; frames enter the dispatcher strictly in arrival order.
func (c *Client) readPump() {
	defer func() {
		c.hub.commands <- disconnectCmd{client: c}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("Read error on connection %s: %v", c.ID, err)
			}
			break
		}

		var env event.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("Malformed frame from connection %s: %v", c.ID, err)
			continue
		}

		switch env.Type {
		case event.TypeJoinConversation:
			var p event.Room
			if env.Decode(&p) == nil {
				c.hub.commands <- joinCmd{client: c, room: p.ConversationID}
			}
		case event.TypeLeaveConversation:
			var p event.Room
			if env.Decode(&p) == nil {
				c.hub.commands <- leaveCmd{client: c, room: p.ConversationID}
			}
		case event.TypeSendMessage:
			var p event.Send
			if env.Decode(&p) == nil {
				c.hub.commands <- relayCmd{client: c, room: p.ConversationID, content: p.Content}
			}
		case event.TypeTypingStart:
			var p event.Room
			if env.Decode(&p) == nil {
				c.hub.commands <- typingCmd{client: c, room: p.ConversationID, active: true}
			}
		case event.TypeTypingStop:
			var p event.Room
			if env.Decode(&p) == nil {
				c.hub.commands <- typingCmd{client: c, room: p.ConversationID, active: false}
			}
		default:
			log.Printf("Ignoring unexpected %s frame from connection %s", env.Type, c.ID)
		}
	}
}

// writePump drains the send channel to the peer, one frame per websocket
// message, and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, t event.Type, payload any) error {
	data, err := event.Marshal(t, payload)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// serveWs upgrades the connection and runs the application-level handshake:
// the first frame must be an auth event carrying a valid bearer token, and the
// connection is unusable until the server has answered auth_ok. The token
// travels in the payload, not a header, because the channel is no longer plain
// HTTP after the upgrade.
func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Upgrade failed: %v", err)
		return
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(authWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		log.Printf("Handshake read failed: %v", err)
		conn.Close()
		return
	}

	var env event.Envelope
	var payload event.Auth
	if json.Unmarshal(raw, &env) != nil || env.Type != event.TypeAuth || env.Decode(&payload) != nil {
		writeEvent(conn, event.TypeError, event.Error{Code: event.CodeAuthFailed, Reason: "expected auth frame"})
		conn.Close()
		return
	}

	claims, err := auth.ValidateToken(payload.Token)
	if err != nil {
		log.Printf("Handshake rejected: %v", err)
		writeEvent(conn, event.TypeError, event.Error{Code: event.CodeAuthFailed, Reason: "invalid or expired token"})
		conn.Close()
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		ID:     uuid.NewString(),
		UserID: claims.UserID,
		Role:   claims.Role,
		rooms:  make(map[string]bool),
	}

	if err := writeEvent(conn, event.TypeAuthOK, event.AuthOK{UserID: claims.UserID, Role: string(claims.Role)}); err != nil {
		conn.Close()
		return
	}

	hub.commands <- connectCmd{client: client}

	go client.writePump()
	go client.readPump()
}
