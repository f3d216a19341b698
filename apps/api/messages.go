package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/campuslms/messaging/pkg/db"
	"github.com/campuslms/messaging/pkg/model"
	"github.com/campuslms/messaging/pkg/snowflake"
)

type CreateMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// messageStore is the slice of storage the message-creation handler needs.
type messageStore interface {
	IsMember(conversationID, userID string) (bool, error)
	SaveMessage(msg model.Message) error
	Touch(conversationID string, at time.Time)
}

// MessagesHandler is the durable message-creation endpoint the client adapter
// falls back to when the real-time channel is down. Records land in the same
// table the archiver writes to, so history stays complete either way.
//
// Conversation-membership authorization lives here, on the REST layer: the
// gateway's room registry deliberately performs no ownership checks.
func MessagesHandler(store messageStore, ids *snowflake.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		claims, ok := claimsFrom(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req CreateMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		req.Content = strings.TrimSpace(req.Content)
		if req.ConversationID == "" || req.Content == "" {
			http.Error(w, "Missing conversation_id or content", http.StatusBadRequest)
			return
		}

		member, err := store.IsMember(req.ConversationID, claims.UserID)
		if err != nil {
			log.Printf("Failed to check membership of %s in %s: %v", claims.UserID, req.ConversationID, err)
			http.Error(w, "Failed to store message", http.StatusInternalServerError)
			return
		}
		if !member {
			http.Error(w, "Not a member of this conversation", http.StatusForbidden)
			return
		}

		msg := model.Message{
			ID:             ids.Generate(),
			ConversationID: req.ConversationID,
			SenderID:       claims.UserID,
			Content:        req.Content,
			Timestamp:      time.Now().UTC(),
		}

		if err := store.SaveMessage(msg); err != nil {
			log.Printf("Failed to store message %d: %v", msg.ID, err)
			http.Error(w, "Failed to store message", http.StatusInternalServerError)
			return
		}

		store.Touch(msg.ConversationID, msg.Timestamp)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(msg)
	}
}

// HistoryHandler returns archived messages for a conversation, newest first
// per the table's clustering order.
func HistoryHandler(session *db.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := r.URL.Query().Get("conversation_id")
		if conversationID == "" {
			http.Error(w, "Missing conversation_id", http.StatusBadRequest)
			return
		}

		iter := session.Query(
			`SELECT conversation_id, id, sender_id, content, timestamp FROM messages WHERE conversation_id = ?`,
			conversationID,
		).Iter()

		messages := []model.Message{}
		var m model.Message
		for iter.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.Content, &m.Timestamp) {
			messages = append(messages, m)
		}
		if err := iter.Close(); err != nil {
			log.Printf("Failed to read history for %s: %v", conversationID, err)
			http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messages)
	}
}

// scyllaMessageStore backs the messages handler with the campus keyspace.
type scyllaMessageStore struct {
	session *db.Session
}

func (s *scyllaMessageStore) IsMember(conversationID, userID string) (bool, error) {
	var found string
	err := s.session.Query(
		`SELECT user_id FROM conversation_members WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID,
	).Scan(&found)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *scyllaMessageStore) SaveMessage(msg model.Message) error {
	return s.session.Query(
		`INSERT INTO messages (conversation_id, id, sender_id, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.ID, msg.SenderID, msg.Content, msg.Timestamp,
	).Exec()
}

// Touch refreshes last_activity for every member's conversation listing.
// Best effort; listing staleness never fails a message write.
func (s *scyllaMessageStore) Touch(conversationID string, at time.Time) {
	iter := s.session.Query(
		`SELECT user_id FROM conversation_members WHERE conversation_id = ?`, conversationID,
	).Iter()

	var userID string
	for iter.Scan(&userID) {
		err := s.session.Query(
			`INSERT INTO user_conversations (user_id, conversation_id, last_activity) VALUES (?, ?, ?)`,
			userID, conversationID, at,
		).Exec()
		if err != nil {
			log.Printf("Failed to touch conversation %s for %s: %v", conversationID, userID, err)
		}
	}
	if err := iter.Close(); err != nil {
		log.Printf("Failed to list members of %s: %v", conversationID, err)
	}
}
