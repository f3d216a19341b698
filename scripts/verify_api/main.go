package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
)

// Smoke check against a running api service: signup (or login), create a
// conversation, post a message through the durable endpoint, read it back.
func main() {
	apiAddr := "http://localhost:8081"

	token := authenticate(apiAddr)
	fmt.Printf("Token: %s...\n", token[:10])

	// Create a conversation with a second (possibly nonexistent) user.
	var conv struct {
		ConversationID string `json:"conversation_id"`
	}
	post(apiAddr+"/conversations", token, map[string]any{"participant_ids": []string{"smoke-peer"}}, &conv)
	log.Printf("Created conversation %s", conv.ConversationID)

	var msg map[string]any
	post(apiAddr+"/messages", token, map[string]any{
		"conversation_id": conv.ConversationID,
		"content":         "hello from verify_api",
	}, &msg)
	log.Printf("Stored message id %v", msg["id"])

	req, _ := http.NewRequest("GET", apiAddr+"/history?conversation_id="+conv.ConversationID, nil)
	req.Header.Add("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("History request failed:", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	log.Printf("History: %s", body)
}

func authenticate(apiAddr string) string {
	creds := map[string]string{
		"email":    "smoke@example.edu",
		"name":     "Smoke Test",
		"password": "smoke-password",
		"role":     "STUDENT",
	}

	var out struct {
		Token string `json:"token"`
	}
	reqBody, _ := json.Marshal(creds)
	resp, err := http.Post(apiAddr+"/signup", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		// Already registered from a previous run; log in instead.
		post(apiAddr+"/login", "", map[string]any{"email": creds["email"], "password": creds["password"]}, &out)
		return out.Token
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Fatalf("signup failed: %s", body)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatal(err)
	}
	return out.Token
}

func post(url, token string, payload any, out any) {
	reqBody, _ := json.Marshal(payload)
	req, _ := http.NewRequest("POST", url, bytes.NewBuffer(reqBody))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Fatalf("POST %s failed: %s", url, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Fatal(err)
	}
}
