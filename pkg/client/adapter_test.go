package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslms/messaging/pkg/event"
	"github.com/campuslms/messaging/pkg/model"
)

// fakeGateway speaks just enough of the channel protocol to exercise the
// adapter: auth handshake, frame capture, and server-initiated pushes.
type fakeGateway struct {
	srv        *httptest.Server
	upgrader   websocket.Upgrader
	frames     chan event.Envelope
	rejectAuth bool

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newFakeGateway(t *testing.T) *fakeGateway {
	g := &fakeGateway{frames: make(chan event.Envelope, 32)}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		var env event.Envelope
		var auth event.Auth
		if json.Unmarshal(raw, &env) != nil || env.Type != event.TypeAuth || env.Decode(&auth) != nil ||
			auth.Token == "" || g.rejectAuth {
			data, _ := event.Marshal(event.TypeError, event.Error{Code: event.CodeAuthFailed})
			conn.WriteMessage(websocket.TextMessage, data)
			conn.Close()
			return
		}
		data, _ := event.Marshal(event.TypeAuthOK, event.AuthOK{UserID: "u1", Role: "STUDENT"})
		if conn.WriteMessage(websocket.TextMessage, data) != nil {
			conn.Close()
			return
		}

		g.mu.Lock()
		g.conns = append(g.conns, conn)
		g.mu.Unlock()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env event.Envelope
			if json.Unmarshal(raw, &env) == nil {
				g.frames <- env
			}
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) push(t *testing.T, typ event.Type, payload any) {
	t.Helper()
	data, err := event.Marshal(typ, payload)
	require.NoError(t, err)
	g.mu.Lock()
	conn := g.conns[len(g.conns)-1]
	g.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func (g *fakeGateway) dropConns() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		c.Close()
	}
	g.conns = nil
}

func recvFrame(t *testing.T, g *fakeGateway) event.Envelope {
	t.Helper()
	select {
	case env := <-g.frames:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return event.Envelope{}
	}
}

func recvNotification(t *testing.T, a *Adapter, kind NotificationKind) Notification {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-a.Events():
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s notification", kind)
			return Notification{}
		}
	}
}

func TestConnectCompletesHandshake(t *testing.T) {
	g := newFakeGateway(t)
	a := New(g.url(), nil)
	t.Cleanup(func() { a.Close() })

	require.NoError(t, a.Connect(context.Background(), "tok"))
	assert.Equal(t, StateConnected, a.State())
	n := recvNotification(t, a, KindStateChange)
	assert.Equal(t, StateConnected, n.State)
}

func TestConnectRejectedCredential(t *testing.T) {
	g := newFakeGateway(t)
	g.rejectAuth = true
	a := New(g.url(), nil)
	t.Cleanup(func() { a.Close() })

	err := a.Connect(context.Background(), "tok")
	require.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, StateDisconnected, a.State())
}

func TestJoinAndSendEmitFrames(t *testing.T) {
	g := newFakeGateway(t)
	a := New(g.url(), nil)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.Connect(context.Background(), "tok"))

	require.NoError(t, a.JoinRoom("conv1"))
	env := recvFrame(t, g)
	assert.Equal(t, event.TypeJoinConversation, env.Type)

	require.NoError(t, a.SendMessage(context.Background(), "conv1", "hello"))
	env = recvFrame(t, g)
	require.Equal(t, event.TypeSendMessage, env.Type)
	var p event.Send
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "hello", p.Content)

	require.NoError(t, a.NotifyTyping("conv1", true))
	env = recvFrame(t, g)
	assert.Equal(t, event.TypeTypingStart, env.Type)
	require.NoError(t, a.NotifyTyping("conv1", false))
	env = recvFrame(t, g)
	assert.Equal(t, event.TypeTypingStop, env.Type)
}

func TestIncomingEventsSurfaceAsNotifications(t *testing.T) {
	g := newFakeGateway(t)
	a := New(g.url(), nil)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.Connect(context.Background(), "tok"))

	g.push(t, event.TypeNewMessage, model.Message{
		ID: 7, ConversationID: "conv1", SenderID: "alice", Content: "hi", Timestamp: time.Now(),
	})
	n := recvNotification(t, a, KindMessage)
	assert.Equal(t, "hi", n.Message.Content)
	assert.Equal(t, "alice", n.Message.SenderID)

	g.push(t, event.TypeUserTyping, event.Typing{ConversationID: "conv1", UserID: "alice"})
	n = recvNotification(t, a, KindTyping)
	assert.Equal(t, "alice", n.Typing.UserID)

	g.push(t, event.TypeUserStoppedTyping, event.Typing{ConversationID: "conv1", UserID: "alice"})
	n = recvNotification(t, a, KindStoppedTyping)
	assert.Equal(t, "alice", n.Typing.UserID)
}

func TestReconnectAfterUnexpectedDrop(t *testing.T) {
	g := newFakeGateway(t)
	a := New(g.url(), nil)
	a.baseBackoff = 10 * time.Millisecond
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.Connect(context.Background(), "tok"))
	recvNotification(t, a, KindStateChange) // connected

	g.dropConns()

	n := recvNotification(t, a, KindStateChange)
	assert.Equal(t, StateReconnecting, n.State)
	n = recvNotification(t, a, KindStateChange)
	assert.Equal(t, StateConnected, n.State)

	// The re-established connection is usable.
	require.NoError(t, a.JoinRoom("conv1"))
	env := recvFrame(t, g)
	assert.Equal(t, event.TypeJoinConversation, env.Type)
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	g := newFakeGateway(t)
	a := New(g.url(), nil)
	a.baseBackoff = time.Hour // reconnect would wait forever
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.Connect(context.Background(), "tok"))
	recvNotification(t, a, KindStateChange)

	g.dropConns()
	n := recvNotification(t, a, KindStateChange)
	require.Equal(t, StateReconnecting, n.State)

	require.NoError(t, a.Close())
	n = recvNotification(t, a, KindStateChange)
	assert.Equal(t, StateDisconnected, n.State)
}

func TestStalledWriteDoesNotBlockControlPaths(t *testing.T) {
	g := newFakeGateway(t)
	a := New(g.url(), nil)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.Connect(context.Background(), "tok"))
	recvNotification(t, a, KindStateChange)

	// Hold the frame lock as a write stuck on a dead network would.
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	done := make(chan struct{})
	go func() {
		assert.Equal(t, StateConnected, a.State())
		assert.NoError(t, a.Close())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("State/Close blocked behind an in-flight write")
	}
}

type recordingFallback struct {
	mu    sync.Mutex
	calls []string
}

func (f *recordingFallback) CreateMessage(ctx context.Context, conversationID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, conversationID+":"+content)
	return nil
}

func TestSendFallsBackWhenDisconnected(t *testing.T) {
	fb := &recordingFallback{}
	a := New("ws://127.0.0.1:0", fb)
	t.Cleanup(func() { a.Close() })

	require.NoError(t, a.SendMessage(context.Background(), "conv1", "offline hello"))
	assert.Equal(t, []string{"conv1:offline hello"}, fb.calls)
}

func TestSendFailsWithoutFallback(t *testing.T) {
	a := New("ws://127.0.0.1:0", nil)
	t.Cleanup(func() { a.Close() })

	err := a.SendMessage(context.Background(), "conv1", "hello")
	assert.ErrorIs(t, err, ErrNotConnected)
}
