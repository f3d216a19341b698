package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/campuslms/messaging/pkg/db"
	"github.com/campuslms/messaging/pkg/snowflake"
)

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	godotenv.Load()

	scyllaHosts := strings.Split(env("SCYLLA_HOSTS", "localhost:9042"), ",")
	redisAddr := env("REDIS_ADDR", "localhost:6379")
	addr := env("API_ADDR", ":8081")
	keyspace := "campus"

	session, err := db.NewSession(scyllaHosts, keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	// Node 2; the gateway runs node 1.
	ids, err := snowflake.NewNode(2)
	if err != nil {
		log.Fatalf("Failed to initialize snowflake node: %v", err)
	}

	// Public endpoints
	http.Handle("/signup", CORSMiddleware(SignupHandler(session)))
	http.Handle("/login", CORSMiddleware(LoginHandler(session)))

	// Protected endpoints
	http.Handle("/messages", CORSMiddleware(AuthMiddleware(MessagesHandler(&scyllaMessageStore{session: session}, ids))))
	http.Handle("/history", CORSMiddleware(AuthMiddleware(HistoryHandler(session))))
	http.Handle("/conversations", CORSMiddleware(AuthMiddleware(ConversationsHandler(session))))

	// Online roster: /conversations/{id}/users
	http.Handle("/conversations/", CORSMiddleware(AuthMiddleware(NewPresenceHandler(redisAddr))))

	log.Printf("API Service Starting on %s...", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal(err)
	}
}
