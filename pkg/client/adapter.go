// Package client is the consumer-facing adapter for the real-time
// conversation channel. It owns the websocket connection, the auth handshake,
// and an explicit reconnect state machine; the rest of the application only
// sees Connect/Join/Send calls and a notification channel.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campuslms/messaging/pkg/event"
	"github.com/campuslms/messaging/pkg/model"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

var (
	// ErrAuthFailed means the gateway refused the credential; reconnecting
	// with the same token will not help.
	ErrAuthFailed = errors.New("authentication rejected")

	// ErrNotConnected is returned by channel operations when no live
	// connection exists and no fallback applies.
	ErrNotConnected = errors.New("no live connection")

	errClosed = errors.New("adapter closed")
)

type NotificationKind string

const (
	KindStateChange   NotificationKind = "state_change"
	KindMessage       NotificationKind = "message"
	KindTyping        NotificationKind = "typing"
	KindStoppedTyping NotificationKind = "stopped_typing"
	KindError         NotificationKind = "error"
)

// Notification is one item on the subscription channel. Kind selects which
// field is populated.
type Notification struct {
	Kind    NotificationKind
	State   State
	Message *model.Message
	Typing  *event.Typing
	Err     *event.Error
}

// Fallback creates a durable message record over plain request/response when
// the channel is down, so user-visible delivery never depends on it.
type Fallback interface {
	CreateMessage(ctx context.Context, conversationID, content string) error
}

type Adapter struct {
	url      string
	fallback Fallback
	events   chan Notification

	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	state  State
	token  string
	cancel context.CancelFunc
	closed bool

	// writeMu serializes frames onto the socket. It is separate from mu so a
	// stalled network write never blocks State, setState or Close.
	writeMu sync.Mutex
}

// New builds an adapter for the given websocket URL. fallback may be nil, in
// which case SendMessage fails fast while disconnected.
func New(url string, fallback Fallback) *Adapter {
	return &Adapter{
		url:         url,
		fallback:    fallback,
		events:      make(chan Notification, 64),
		baseBackoff: 500 * time.Millisecond,
		maxBackoff:  30 * time.Second,
		state:       StateDisconnected,
	}
}

// Events is the subscription surface for incoming message, presence and
// connection-state notifications.
func (a *Adapter) Events() <-chan Notification { return a.events }

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Connect dials the gateway and completes the auth handshake. On later
// unexpected disconnects the adapter reconnects itself with backoff; the
// caller re-joins whatever rooms it considers open after each state_change to
// connected, since room membership is not durable across reconnects.
func (a *Adapter) Connect(ctx context.Context, token string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errClosed
	}
	if a.conn != nil {
		a.mu.Unlock()
		return errors.New("already connected")
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.token = token
	a.mu.Unlock()

	conn, err := a.dial(ctx)
	if err != nil {
		cancel()
		return err
	}

	a.setConn(conn)
	a.setState(StateConnected)
	go a.readLoop(ctx, conn)
	return nil
}

// dial opens the socket and performs the application-level handshake. The
// socket being open means nothing until the server has answered auth_ok.
func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return nil, err
	}

	data, err := event.Marshal(event.TypeAuth, event.Auth{Token: a.token})
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, err
	}
	var env event.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		conn.Close()
		return nil, err
	}
	if env.Type != event.TypeAuthOK {
		conn.Close()
		if env.Type == event.TypeError {
			var e event.Error
			if env.Decode(&e) == nil && e.Code == event.CodeAuthFailed {
				return nil, ErrAuthFailed
			}
		}
		return nil, errors.New("unexpected handshake reply")
	}

	conn.SetReadDeadline(time.Time{})
	return conn, nil
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		a.handleFrame(raw)
	}
	conn.Close()

	a.mu.Lock()
	closed := a.closed
	a.conn = nil
	a.mu.Unlock()

	if closed || ctx.Err() != nil {
		a.setState(StateDisconnected)
		return
	}
	a.emit(Notification{Kind: KindError, Err: &event.Error{Code: event.CodeTransportError, Reason: "connection lost"}})
	a.reconnect(ctx)
}

// reconnect retries with exponential backoff until it succeeds, the context
// is cancelled, or the credential is rejected outright.
func (a *Adapter) reconnect(ctx context.Context) {
	a.setState(StateReconnecting)

	backoff := a.baseBackoff
	for {
		select {
		case <-ctx.Done():
			a.setState(StateDisconnected)
			return
		case <-time.After(backoff):
		}

		conn, err := a.dial(ctx)
		if err == nil {
			a.setConn(conn)
			a.setState(StateConnected)
			go a.readLoop(ctx, conn)
			return
		}
		if errors.Is(err, ErrAuthFailed) {
			a.emit(Notification{Kind: KindError, Err: &event.Error{Code: event.CodeAuthFailed}})
			a.setState(StateDisconnected)
			return
		}

		backoff *= 2
		if backoff > a.maxBackoff {
			backoff = a.maxBackoff
		}
	}
}

func (a *Adapter) handleFrame(raw []byte) {
	var env event.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("Malformed frame from gateway: %v", err)
		return
	}

	switch env.Type {
	case event.TypeNewMessage:
		var msg model.Message
		if env.Decode(&msg) == nil {
			a.emit(Notification{Kind: KindMessage, Message: &msg})
		}
	case event.TypeUserTyping:
		var p event.Typing
		if env.Decode(&p) == nil {
			a.emit(Notification{Kind: KindTyping, Typing: &p})
		}
	case event.TypeUserStoppedTyping:
		var p event.Typing
		if env.Decode(&p) == nil {
			a.emit(Notification{Kind: KindStoppedTyping, Typing: &p})
		}
	case event.TypeError:
		var e event.Error
		if env.Decode(&e) == nil {
			a.emit(Notification{Kind: KindError, Err: &e})
		}
	default:
		// auth_ok replays and unknown types are ignored.
	}
}

func (a *Adapter) emit(n Notification) {
	select {
	case a.events <- n:
	default:
		log.Printf("Dropping %s notification: subscriber not keeping up", n.Kind)
	}
}

func (a *Adapter) setConn(conn *websocket.Conn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	if a.state == s {
		a.mu.Unlock()
		return
	}
	a.state = s
	a.mu.Unlock()
	a.emit(Notification{Kind: KindStateChange, State: s})
}

// write serializes outbound frames; gorilla permits one concurrent writer.
func (a *Adapter) write(t event.Type, payload any) error {
	data, err := event.Marshal(t, payload)
	if err != nil {
		return err
	}

	a.mu.Lock()
	conn, state := a.conn, a.state
	a.mu.Unlock()
	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (a *Adapter) JoinRoom(conversationID string) error {
	return a.write(event.TypeJoinConversation, event.Room{ConversationID: conversationID})
}

func (a *Adapter) LeaveRoom(conversationID string) error {
	return a.write(event.TypeLeaveConversation, event.Room{ConversationID: conversationID})
}

func (a *Adapter) NotifyTyping(conversationID string, isTyping bool) error {
	t := event.TypeTypingStart
	if !isTyping {
		t = event.TypeTypingStop
	}
	return a.write(t, event.Room{ConversationID: conversationID})
}

// SendMessage relays over the channel when it is up and falls back to the
// REST collaborator otherwise. It never silently drops a message.
func (a *Adapter) SendMessage(ctx context.Context, conversationID, content string) error {
	err := a.write(event.TypeSendMessage, event.Send{ConversationID: conversationID, Content: content})
	if err == nil {
		return nil
	}
	if a.fallback == nil {
		return err
	}
	return a.fallback.CreateMessage(ctx, conversationID, content)
}

// Close tears the adapter down, cancelling any pending reconnect.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	if a.cancel != nil {
		a.cancel()
	}
	conn := a.conn
	a.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	a.setState(StateDisconnected)
	return nil
}
