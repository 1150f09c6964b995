package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Events pushed to subscribed connections. Each carries the full room
// snapshot; consumers must not assume ordering between the specific event
// and the room_updated that follows it.
const (
	eventRoomUpdated  = "ROOM_UPDATED"
	eventGameStarted  = "GAME_STARTED"
	eventResultsReady = "RESULTS_READY"
	eventError        = "ERROR"
)

// Events accepted from connections. Both tag the connection with a
// (room, player) pair; REJOIN_ROOM is how a dropped connection resumes
// receiving updates without creating a new player.
const (
	eventJoinRoom   = "JOIN_ROOM"
	eventRejoinRoom = "REJOIN_ROOM"
)

type wsMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type wsEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type subscribePayload struct {
	Code     string `json:"code"`
	PlayerID string `json:"playerId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Client is one open websocket connection. A client receives no pushes
// until it announces a (room, player) pair; the tag fields are guarded by
// the relay mutex.
type Client struct {
	conn *websocket.Conn
	send chan any

	roomCode string
	playerID string
}

// Relay fans room snapshots out to every connection subscribed to a room
// code. Delivery is best-effort: a client that cannot keep up is dropped
// rather than blocking the others.
type Relay struct {
	cfg   *Config
	store *Store

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func newRelay(cfg *Config, store *Store) *Relay {
	return &Relay{
		cfg:     cfg,
		store:   store,
		clients: make(map[*Client]struct{}),
	}
}

// removeLocked assumes rl.mu is already held.
func (rl *Relay) removeLocked(c *Client) {
	if _, ok := rl.clients[c]; ok {
		delete(rl.clients, c)
		close(c.send)
	}
}

// Broadcast sends an event with the given room snapshot to every
// connection tagged with the room code.
func (rl *Relay) Broadcast(code, event string, room *Room) {
	msg := wsEvent{
		Event: event,
		Data:  room,
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for client := range rl.clients {
		if client.roomCode != code {
			continue
		}
		select {
		case client.send <- msg:
		default:
			rl.removeLocked(client)
		}
	}
}

// CloseRoom disconnects every client subscribed to a room (used by the
// idle-room reaper).
func (rl *Relay) CloseRoom(code string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for client := range rl.clients {
		if client.roomCode == code {
			rl.removeLocked(client)
		}
	}
}

// handleSubscribe tags the connection and replies with the current room
// snapshot. Re-subscription with the same pair is idempotent.
func (rl *Relay) handleSubscribe(c *Client, raw json.RawMessage) {
	var sub subscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil || sub.Code == "" || sub.PlayerID == "" {
		rl.sendTo(c, wsEvent{
			Event: eventError,
			Data:  errorPayload{Message: "a room code and player id are required"},
		})
		return
	}

	code, err := validateRoomCode(sub.Code)
	if err != nil {
		rl.sendTo(c, wsEvent{
			Event: eventError,
			Data:  errorPayload{Message: err.Error()},
		})
		return
	}

	rl.mu.Lock()
	c.roomCode = code
	c.playerID = sub.PlayerID
	rl.mu.Unlock()

	room, err := rl.store.GetRoom(code)
	if err != nil {
		return
	}
	rl.sendTo(c, wsEvent{
		Event: eventRoomUpdated,
		Data:  room,
	})
}

func (rl *Relay) sendTo(c *Client, msg wsEvent) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if _, ok := rl.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		rl.removeLocked(c)
	}
}

// scheduleRemoval waits out the grace period, and if no connection with
// this (room, player) pair has resubscribed, removes the player and
// broadcasts the new roster. A destroyed room broadcasts nothing.
func (rl *Relay) scheduleRemoval(code, playerID string, d time.Duration) {
	time.Sleep(d)

	rl.mu.Lock()
	for client := range rl.clients {
		if client.roomCode == code && client.playerID == playerID {
			rl.mu.Unlock()
			return
		}
	}
	rl.mu.Unlock()

	room := rl.store.RemovePlayer(code, playerID)
	if room == nil {
		logf(rl.cfg, "GAMES: Room %s destroyed", code)
		return
	}

	logf(rl.cfg, "GAMES: Player %s removed from %s", playerID, code)
	rl.Broadcast(code, eventRoomUpdated, room)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (rl *Relay) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(rl.cfg, "GAMES: Websocket upgrade failed for %s: %v", realIP(r), err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
		}

		rl.mu.Lock()
		rl.clients[client] = struct{}{}
		rl.mu.Unlock()

		go client.writePump()
		client.readPump(rl)
	}
}

func (c *Client) readPump(rl *Relay) {
	defer func() {
		rl.mu.Lock()
		code, playerID := c.roomCode, c.playerID
		rl.removeLocked(c)
		rl.mu.Unlock()

		_ = c.conn.Close()

		if code != "" && playerID != "" {
			go rl.scheduleRemoval(code, playerID, rl.cfg.playerGrace)
		}
	}()

	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Event {
		case eventJoinRoom, eventRejoinRoom:
			rl.handleSubscribe(c, msg.Data)
		default:
			// ignore unknown events
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
