package main

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/campuslms/messaging/pkg/event"
	"github.com/campuslms/messaging/pkg/model"
	"github.com/campuslms/messaging/pkg/snowflake"
)

// command is the tagged-variant vocabulary processed by the hub's dispatch
// loop. Every inbound event, including timer expiries, becomes one of these
// and is handled to completion before the next is taken. That single-threaded
// model is what keeps the registry and typing tracker lock-free and gives each
// sender an in-order stream per room.
type command interface{ isCommand() }

type connectCmd struct{ client *Client }
type disconnectCmd struct{ client *Client }
type joinCmd struct {
	client *Client
	room   string
}
type leaveCmd struct {
	client *Client
	room   string
}
type relayCmd struct {
	client  *Client
	room    string
	content string
}
type typingCmd struct {
	client *Client
	room   string
	active bool
}
type typingExpiredCmd struct {
	room string
	user string
	gen  uint64
}

func (connectCmd) isCommand()       {}
func (disconnectCmd) isCommand()    {}
func (joinCmd) isCommand()          {}
func (leaveCmd) isCommand()         {}
func (relayCmd) isCommand()         {}
func (typingCmd) isCommand()        {}
func (typingExpiredCmd) isCommand() {}

type Hub struct {
	commands chan command

	// Dispatcher-owned state.
	clients map[string]*Client // connection id -> client
	rooms   *roomRegistry
	typing  *typingTracker
	ids     *snowflake.Node

	// Side-channel collaborators; nil disables them (tests run without).
	archive  *kafka.Writer
	presence *redis.Client
}

// NewHub wires the production hub: archive publishing to Kafka and online
// rosters in Redis.
func NewHub(kafkaBrokers []string, topic string, redisAddr string) *Hub {
	h := newHub()
	h.archive = &kafka.Writer{
		Addr:     kafka.TCP(kafkaBrokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	h.presence = redis.NewClient(&redis.Options{Addr: redisAddr})
	return h
}

func newHub() *Hub {
	node, err := snowflake.NewNode(1)
	if err != nil {
		log.Fatalf("Failed to initialize snowflake node: %v", err)
	}

	h := &Hub{
		commands: make(chan command, 256),
		clients:  make(map[string]*Client),
		rooms:    newRoomRegistry(),
		ids:      node,
	}
	h.typing = newTypingTracker(typingIdle, func(room, user string, gen uint64) {
		h.commands <- typingExpiredCmd{room: room, user: user, gen: gen}
	})
	return h
}

// Run is the dispatch loop. It must be the only goroutine that touches
// h.clients, h.rooms and h.typing.
func (h *Hub) Run() {
	if h.archive != nil {
		defer h.archive.Close()
	}
	if h.presence != nil {
		defer h.presence.Close()
	}

	for cmd := range h.commands {
		h.dispatch(cmd)
	}
}

func (h *Hub) dispatch(cmd command) {
	switch c := cmd.(type) {
	case connectCmd:
		h.handleConnect(c.client)
	case disconnectCmd:
		h.handleDisconnect(c.client)
	case joinCmd:
		h.handleJoin(c.client, c.room)
	case leaveCmd:
		h.handleLeave(c.client, c.room)
	case relayCmd:
		h.handleRelay(c.client, c.room, c.content)
	case typingCmd:
		h.handleTyping(c.client, c.room, c.active)
	case typingExpiredCmd:
		h.handleTypingExpired(c.room, c.user, c.gen)
	default:
		log.Printf("Unknown hub command %T", cmd)
	}
}

func (h *Hub) handleConnect(c *Client) {
	h.clients[c.ID] = c
	log.Printf("Connection %s authenticated as user %s", c.ID, c.UserID)
}

// tracked reports whether the connection is still live. A client dropped for
// a full send buffer keeps reading until its socket closes, so commands from
// it can trail the teardown; they must be discarded, not handled.
func (h *Hub) tracked(c *Client) bool {
	_, ok := h.clients[c.ID]
	return ok
}

// handleDisconnect is the single teardown path. Because it runs inside the
// dispatcher, no relay or typing command can interleave with it: the
// connection leaves every room and sheds its typing indicators atomically.
func (h *Hub) handleDisconnect(c *Client) {
	if _, ok := h.clients[c.ID]; !ok {
		return // already torn down (e.g. dropped for a full send buffer)
	}
	delete(h.clients, c.ID)

	cleared := h.typing.stopAll(c.UserID, c.rooms)
	for _, room := range cleared {
		h.broadcastTyping(event.TypeUserStoppedTyping, room, c.UserID)
	}

	for room := range c.rooms {
		h.rooms.leave(c, room)
		h.removeOnline(room, c.UserID)
	}
	c.rooms = nil

	c.closeSend()
	log.Printf("Connection %s (user %s) disconnected", c.ID, c.UserID)
}

func (h *Hub) handleJoin(c *Client, room string) {
	if !h.tracked(c) {
		return
	}
	if room == "" || c.rooms[room] {
		return
	}
	h.rooms.join(c, room)
	c.rooms[room] = true
	h.addOnline(room, c.UserID)
	log.Printf("User %s joined conversation %s", c.UserID, room)
}

func (h *Hub) handleLeave(c *Client, room string) {
	if !h.tracked(c) || !c.rooms[room] {
		return
	}
	// Leaving also ends any typing indicator the user had there.
	if h.typing.stop(room, c.UserID) {
		h.broadcastTyping(event.TypeUserStoppedTyping, room, c.UserID)
	}
	h.rooms.leave(c, room)
	delete(c.rooms, room)
	h.removeOnline(room, c.UserID)
	log.Printf("User %s left conversation %s", c.UserID, room)
}

// handleRelay validates, stamps and fans out a message to every other current
// member of the room. Members not connected at this instant simply do not
// receive it; there is no queuing.
func (h *Hub) handleRelay(c *Client, room, content string) {
	if !h.tracked(c) {
		return
	}
	if !h.rooms.isMember(c, room) {
		c.sendError(event.CodeNotInRoom, "not a member of conversation "+room)
		return
	}
	content = strings.TrimSpace(content)
	if content == "" {
		c.sendError(event.CodeEmptyMessage, "message content is empty")
		return
	}

	msg := model.Message{
		ID:             h.ids.Generate(),
		ConversationID: room,
		SenderID:       c.UserID,
		Content:        content,
		Timestamp:      time.Now().UTC(),
	}

	data, err := event.Marshal(event.TypeNewMessage, msg)
	if err != nil {
		log.Printf("Failed to encode message %d: %v", msg.ID, err)
		return
	}

	h.fanOut(room, data, func(m *Client) bool { return m == c })

	if h.archive != nil {
		go h.publishArchive(msg)
	}
}

func (h *Hub) handleTyping(c *Client, room string, active bool) {
	if !h.tracked(c) {
		return
	}
	if !h.rooms.isMember(c, room) {
		c.sendError(event.CodeNotInRoom, "not a member of conversation "+room)
		return
	}
	if active {
		if h.typing.start(room, c.UserID) {
			h.broadcastTyping(event.TypeUserTyping, room, c.UserID)
		}
		return
	}
	if h.typing.stop(room, c.UserID) {
		h.broadcastTyping(event.TypeUserStoppedTyping, room, c.UserID)
	}
}

func (h *Hub) handleTypingExpired(room, user string, gen uint64) {
	if h.typing.expire(room, user, gen) {
		h.broadcastTyping(event.TypeUserStoppedTyping, room, user)
	}
}

// broadcastTyping delivers a presence transition to every member of the room
// except connections belonging to the typing user.
func (h *Hub) broadcastTyping(t event.Type, room, user string) {
	data, err := event.Marshal(t, event.Typing{ConversationID: room, UserID: user})
	if err != nil {
		log.Printf("Failed to encode %s: %v", t, err)
		return
	}
	h.fanOut(room, data, func(m *Client) bool { return m.UserID == user })
}

// fanOut sends data to every member of the room for which skip is false. A
// member whose send buffer is full is dropped and torn down; a slow consumer
// must not stall the dispatcher.
func (h *Hub) fanOut(room string, data []byte, skip func(*Client) bool) {
	var dropped []*Client
	for m := range h.rooms.members(room) {
		if skip(m) {
			continue
		}
		if !m.trySend(data) {
			dropped = append(dropped, m)
		}
	}
	for _, m := range dropped {
		log.Printf("Dropping connection %s (user %s): send buffer full", m.ID, m.UserID)
		h.handleDisconnect(m)
	}
}

func (h *Hub) publishArchive(msg model.Message) {
	data, err := event.Marshal(event.TypeNewMessage, msg)
	if err != nil {
		log.Printf("Failed to encode archive record %d: %v", msg.ID, err)
		return
	}
	err = h.archive.WriteMessages(context.Background(), kafka.Message{
		Value: data,
		Time:  msg.Timestamp,
	})
	if err != nil {
		log.Printf("Failed to publish message %d to archive topic: %v", msg.ID, err)
	}
}

func (h *Hub) addOnline(room, userID string) {
	if h.presence == nil {
		return
	}
	go func() {
		err := h.presence.SAdd(context.Background(), onlineKey(room), userID).Err()
		if err != nil {
			log.Printf("Failed to record presence for %s in %s: %v", userID, room, err)
		}
	}()
}

func (h *Hub) removeOnline(room, userID string) {
	if h.presence == nil {
		return
	}
	go func() {
		err := h.presence.SRem(context.Background(), onlineKey(room), userID).Err()
		if err != nil {
			log.Printf("Failed to clear presence for %s in %s: %v", userID, room, err)
		}
	}()
}

func onlineKey(room string) string {
	return "conversation:" + room + ":online"
}
