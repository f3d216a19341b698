package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslms/messaging/pkg/auth"
	"github.com/campuslms/messaging/pkg/event"
	"github.com/campuslms/messaging/pkg/model"
)

func startGateway(t *testing.T) string {
	t.Helper()
	h := newHub()
	go h.Run()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWs(h, w, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialWs(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, typ event.Type, payload any) {
	t.Helper()
	data, err := event.Marshal(typ, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) event.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env event.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func authenticate(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	token, err := auth.GenerateToken(userID, model.RoleStudent)
	require.NoError(t, err)
	writeFrame(t, conn, event.TypeAuth, event.Auth{Token: token})
	env := readFrame(t, conn)
	require.Equal(t, event.TypeAuthOK, env.Type)
	var ok event.AuthOK
	require.NoError(t, env.Decode(&ok))
	require.Equal(t, userID, ok.UserID)
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	url := startGateway(t)
	conn := dialWs(t, url)

	writeFrame(t, conn, event.TypeAuth, event.Auth{Token: "not-a-token"})

	env := readFrame(t, conn)
	require.Equal(t, event.TypeError, env.Type)
	var e event.Error
	require.NoError(t, env.Decode(&e))
	assert.Equal(t, event.CodeAuthFailed, e.Code)

	// The server closes the connection after refusing the handshake.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHandshakeRequiresAuthFrameFirst(t *testing.T) {
	url := startGateway(t)
	conn := dialWs(t, url)

	// A join before auth must refuse the connection, not degrade to anonymous.
	writeFrame(t, conn, event.TypeJoinConversation, event.Room{ConversationID: "conv1"})

	env := readFrame(t, conn)
	require.Equal(t, event.TypeError, env.Type)
	var e event.Error
	require.NoError(t, env.Decode(&e))
	assert.Equal(t, event.CodeAuthFailed, e.Code)
}

func TestMessageFlowOverWebsocket(t *testing.T) {
	url := startGateway(t)

	sender := dialWs(t, url)
	receiver := dialWs(t, url)
	authenticate(t, sender, "alice")
	authenticate(t, receiver, "bob")

	writeFrame(t, sender, event.TypeJoinConversation, event.Room{ConversationID: "conv1"})
	writeFrame(t, receiver, event.TypeJoinConversation, event.Room{ConversationID: "conv1"})
	// Joins travel on separate connections; give the dispatcher a moment.
	time.Sleep(200 * time.Millisecond)

	writeFrame(t, sender, event.TypeSendMessage, event.Send{ConversationID: "conv1", Content: "hello"})

	env := readFrame(t, receiver)
	require.Equal(t, event.TypeNewMessage, env.Type)
	var msg model.Message
	require.NoError(t, env.Decode(&msg))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "conv1", msg.ConversationID)

	// The sender must not receive its own message back.
	sender.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := sender.ReadMessage()
	assert.Error(t, err)
}
