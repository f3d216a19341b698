package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
)

type PresenceHandler struct {
	redis *redis.Client
}

func NewPresenceHandler(redisAddr string) *PresenceHandler {
	return &PresenceHandler{redis: redis.NewClient(&redis.Options{Addr: redisAddr})}
}

// ServeHTTP answers GET /conversations/{id}/users with the ids of users the
// gateway currently has connected to that conversation.
func (h *PresenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Path: /conversations/{id}/users
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) != 4 || parts[1] != "conversations" || parts[3] != "users" || parts[2] == "" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	conversationID := parts[2]

	users, err := h.redis.SMembers(r.Context(), "conversation:"+conversationID+":online").Result()
	if err != nil {
		log.Printf("Failed to fetch online users for %s: %v", conversationID, err)
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}
