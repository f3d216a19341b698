package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/campuslms/messaging/pkg/client"
	"github.com/campuslms/messaging/pkg/model"
)

type loginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

func login(apiAddr, email, password string) (*loginResponse, error) {
	reqBody, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("login failed: %s", string(body))
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func main() {
	gatewayAddr := flag.String("gateway", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	conversation := flag.String("conversation", "", "conversation id to open")
	flag.Parse()

	if *email == "" || *password == "" || *conversation == "" {
		log.Fatal("email, password and conversation are required")
	}

	log.Printf("Logging in as %s...", *email)
	session, err := login(*apiAddr, *email, *password)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Logged in as %s (%s)", session.User.Name, session.User.Role)

	adapter := client.New("ws://"+*gatewayAddr+"/ws", &client.RESTFallback{
		BaseURL: *apiAddr,
		Token:   session.Token,
	})
	defer adapter.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := adapter.Connect(ctx, session.Token); err != nil {
		// The channel is an enhancement; messages still go out over REST.
		log.Printf("Real-time channel unavailable (%v); sending via REST only", err)
	} else if err := adapter.JoinRoom(*conversation); err != nil {
		log.Printf("join failed: %v", err)
	}

	go func() {
		for n := range adapter.Events() {
			switch n.Kind {
			case client.KindMessage:
				fmt.Printf("\r%s: %s\n> ", n.Message.SenderID, n.Message.Content)
			case client.KindTyping:
				fmt.Printf("\r%s is typing...\n> ", n.Typing.UserID)
			case client.KindStoppedTyping:
				// quiet; the next message or prompt repaints the line
			case client.KindError:
				fmt.Printf("\rserver error: %s %s\n> ", n.Err.Code, n.Err.Reason)
			case client.KindStateChange:
				fmt.Printf("\r[%s]\n> ", n.State)
				if n.State == client.StateConnected {
					// Membership is not durable across reconnects.
					if err := adapter.JoinRoom(*conversation); err != nil {
						log.Printf("rejoin failed: %v", err)
					}
				}
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			if text == "" {
				fmt.Print("> ")
				continue
			}
			if text == "/quit" {
				close(interrupt)
				return
			}
			if text == "/typing" {
				if err := adapter.NotifyTyping(*conversation, true); err != nil {
					log.Printf("typing: %v", err)
				}
				fmt.Print("> ")
				continue
			}

			if err := adapter.SendMessage(ctx, *conversation, text); err != nil {
				log.Printf("send failed: %v", err)
			}
			adapter.NotifyTyping(*conversation, false)
			fmt.Print("> ")
		}
	}()

	<-interrupt
	log.Println("bye")
}
