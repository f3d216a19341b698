package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/campuslms/messaging/pkg/db"
	"github.com/campuslms/messaging/pkg/event"
	"github.com/campuslms/messaging/pkg/model"
)

// Consumer drains the gateway's archive topic into ScyllaDB. The gateway
// never waits on this path; a relayed message reaches its recipients whether
// or not the archiver is keeping up.
type Consumer struct {
	reader *kafka.Reader
	db     *db.Session
}

func NewConsumer(brokers []string, topic string, groupID string, session *db.Session) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: r, db: session}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Error reading from archive topic: %v. Retrying in 1s...", err)
			time.Sleep(1 * time.Second)
			continue
		}

		var env event.Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			log.Printf("Failed to unmarshal archive record: %v", err)
			continue
		}
		// Only delivered messages are archived; anything else on the topic
		// is ephemeral and skipped.
		if env.Type != event.TypeNewMessage {
			continue
		}
		var msg model.Message
		if err := env.Decode(&msg); err != nil {
			log.Printf("Failed to decode archive record: %v", err)
			continue
		}

		c.persist(msg)
	}
}

func (c *Consumer) persist(msg model.Message) {
	err := c.db.Query(
		`INSERT INTO messages (conversation_id, id, sender_id, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.ID, msg.SenderID, msg.Content, msg.Timestamp,
	).Exec()
	if err != nil {
		log.Printf("Failed to archive message %d: %v", msg.ID, err)
		return
	}

	// Refresh each member's conversation listing.
	iter := c.db.Query(
		`SELECT user_id FROM conversation_members WHERE conversation_id = ?`, msg.ConversationID,
	).Iter()
	var userID string
	for iter.Scan(&userID) {
		err := c.db.Query(
			`INSERT INTO user_conversations (user_id, conversation_id, last_activity) VALUES (?, ?, ?)`,
			userID, msg.ConversationID, msg.Timestamp,
		).Exec()
		if err != nil {
			log.Printf("Failed to refresh conversation %s for %s: %v", msg.ConversationID, userID, err)
		}
	}
	if err := iter.Close(); err != nil {
		log.Printf("Failed to list members of %s: %v", msg.ConversationID, err)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
