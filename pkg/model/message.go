package model

import "time"

// Message is a delivered conversation message. The gateway relays it as the
// new_message payload and publishes the same record to the archive topic; the
// archiver persists it unchanged.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

type Role string

const (
	RoleProfessor Role = "PROFESSOR"
	RoleStudent   Role = "STUDENT"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}
