package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/campuslms/messaging/pkg/db"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	godotenv.Load()

	brokers := strings.Split(env("KAFKA_BROKERS", "localhost:19092"), ",")
	scyllaHosts := strings.Split(env("SCYLLA_HOSTS", "localhost:9042"), ",")
	topic := env("KAFKA_TOPIC", "campus-chat-messages")
	groupID := "archiver-group"
	keyspace := "campus"

	// Schema bootstrap. Migration tooling would own this in production; for
	// now the archiver creates what it needs on startup.
	sysSession, err := db.NewSession(scyllaHosts, "system")
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB system keyspace: %v", err)
	}
	err = sysSession.Query(`CREATE KEYSPACE IF NOT EXISTS campus WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	if err != nil {
		log.Fatalf("Failed to create keyspace: %v", err)
	}
	sysSession.Close()

	session, err := db.NewSession(scyllaHosts, keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB campus keyspace: %v", err)
	}
	defer session.Close()

	schema := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			conversation_id text,
			id bigint,
			sender_id text,
			content text,
			timestamp timestamp,
			PRIMARY KEY (conversation_id, id)
		) WITH CLUSTERING ORDER BY (id DESC)`,
		`CREATE TABLE IF NOT EXISTS users_by_email (
			email text PRIMARY KEY,
			id text,
			name text,
			password_hash text,
			role text
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_members (
			conversation_id text,
			user_id text,
			PRIMARY KEY (conversation_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_conversations (
			user_id text,
			conversation_id text,
			last_activity timestamp,
			PRIMARY KEY (user_id, conversation_id)
		)`,
	}
	for _, stmt := range schema {
		if err := session.Query(stmt).Exec(); err != nil {
			log.Fatalf("Failed to create table: %v", err)
		}
	}

	consumer := NewConsumer(brokers, topic, groupID, session)
	defer consumer.Close()

	log.Println("Archiver Starting...")
	consumer.Consume(context.Background())
}
