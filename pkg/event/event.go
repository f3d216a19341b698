// Package event defines the wire protocol spoken over the conversation channel.
// Every frame is a JSON envelope carrying a type tag and a type-specific payload.
package event

import (
	"encoding/json"
	"fmt"
)

type Type string

const (
	// Handshake
	TypeAuth   Type = "auth"
	TypeAuthOK Type = "auth_ok"

	// Client -> server
	TypeJoinConversation  Type = "join_conversation"
	TypeLeaveConversation Type = "leave_conversation"
	TypeSendMessage       Type = "send_message"
	TypeTypingStart       Type = "typing_start"
	TypeTypingStop        Type = "typing_stop"

	// Server -> client
	TypeNewMessage        Type = "new_message"
	TypeUserTyping        Type = "user_typing"
	TypeUserStoppedTyping Type = "user_stopped_typing"
	TypeError             Type = "error"
)

type ErrorCode string

const (
	CodeAuthFailed     ErrorCode = "AUTH_FAILED"
	CodeNotInRoom      ErrorCode = "NOT_IN_ROOM"
	CodeEmptyMessage   ErrorCode = "EMPTY_MESSAGE"
	CodeTransportError ErrorCode = "TRANSPORT_ERROR"
)

// Envelope is the outer frame. Payload stays raw until the type tag has been
// inspected, so a dispatcher can switch exhaustively before decoding.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Auth is the first frame a client must send after the socket opens.
type Auth struct {
	Token string `json:"token"`
}

// AuthOK confirms the handshake and echoes the resolved identity.
type AuthOK struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Room identifies a conversation for join/leave requests.
type Room struct {
	ConversationID string `json:"conversation_id"`
}

// Send is a relay request.
type Send struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// Typing is broadcast to other members on typing transitions.
type Typing struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// Error is an acknowledgment sent only to the originating connection.
type Error struct {
	Code   ErrorCode `json:"code"`
	Reason string    `json:"reason,omitempty"`
}

// Marshal wraps a payload in an envelope and encodes the whole frame.
func Marshal(t Type, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}
