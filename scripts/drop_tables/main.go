package main

import (
	"log"

	"github.com/campuslms/messaging/pkg/db"
)

// Dev reset: drops every table in the campus keyspace. The archiver recreates
// them on its next start.
func main() {
	session, err := db.NewSession([]string{"localhost:9042"}, "campus")
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	for _, table := range []string{"messages", "users_by_email", "conversation_members", "user_conversations"} {
		log.Printf("Dropping table %s...", table)
		if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			log.Fatalf("Failed to drop table %s: %v", table, err)
		}
	}
	log.Println("Done.")
}
