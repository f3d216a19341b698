package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/campuslms/messaging/pkg/db"
)

type Conversation struct {
	ConversationID string    `json:"conversation_id"`
	LastActivity   time.Time `json:"last_activity"`
}

type CreateConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
}

type CreateConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// ConversationsHandler creates and lists conversations. Membership recorded
// here is what authorizes a user to open the conversation in the UI before
// the real-time join is ever attempted.
func ConversationsHandler(session *db.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		switch r.Method {
		case http.MethodPost:
			var req CreateConversationRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
			if len(req.ParticipantIDs) == 0 {
				http.Error(w, "Missing participant_ids", http.StatusBadRequest)
				return
			}

			conversationID := uuid.NewString()
			now := time.Now().UTC()

			members := append([]string{claims.UserID}, req.ParticipantIDs...)
			for _, userID := range members {
				err := session.Query(
					`INSERT INTO conversation_members (conversation_id, user_id) VALUES (?, ?)`,
					conversationID, userID,
				).Exec()
				if err == nil {
					err = session.Query(
						`INSERT INTO user_conversations (user_id, conversation_id, last_activity) VALUES (?, ?, ?)`,
						userID, conversationID, now,
					).Exec()
				}
				if err != nil {
					log.Printf("Failed to add %s to conversation %s: %v", userID, conversationID, err)
					http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
					return
				}
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(CreateConversationResponse{ConversationID: conversationID})

		case http.MethodGet:
			iter := session.Query(
				`SELECT conversation_id, last_activity FROM user_conversations WHERE user_id = ?`,
				claims.UserID,
			).Iter()

			conversations := []Conversation{}
			var c Conversation
			for iter.Scan(&c.ConversationID, &c.LastActivity) {
				conversations = append(conversations, c)
			}
			if err := iter.Close(); err != nil {
				log.Printf("Failed to list conversations for %s: %v", claims.UserID, err)
				http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(conversations)

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}
