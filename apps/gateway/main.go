package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	godotenv.Load()

	if logFile := os.Getenv("GATEWAY_LOG"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("error opening log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	kafkaBrokers := strings.Split(env("KAFKA_BROKERS", "localhost:19092"), ",")
	redisAddr := env("REDIS_ADDR", "localhost:6379")
	topic := env("KAFKA_TOPIC", "campus-chat-messages")
	addr := env("GATEWAY_ADDR", ":8080")

	hub := NewHub(kafkaBrokers, topic, redisAddr)
	go hub.Run()

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})

	log.Printf("Gateway Service Starting on %s...", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal(err)
	}
}
