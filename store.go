package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrInvalidState        = errors.New("not allowed in the current game state")
	ErrInsufficientPlayers = errors.New("at least 2 players are required")
	ErrValidation          = errors.New("invalid input")
)

type gameState string

const (
	stateLobby   gameState = "LOBBY"
	statePlaying gameState = "PLAYING"
	stateResults gameState = "RESULTS"
)

type gameAction string

const (
	actionJoin    gameAction = "join"
	actionStart   gameAction = "start"
	actionSubmit  gameAction = "submit"
	actionResults gameAction = "results"
	actionNewGame gameAction = "new_game"
)

// transitions is the full transition table: (current state, action) → next
// state. A missing entry means the action is rejected with ErrInvalidState.
// Joining is only legal in the lobby; everyone starts a round together.
var transitions = map[gameState]map[gameAction]gameState{
	stateLobby: {
		actionJoin:    stateLobby,
		actionStart:   statePlaying,
		actionSubmit:  stateLobby,
		actionResults: stateResults,
		actionNewGame: stateLobby,
	},
	statePlaying: {
		actionStart:   statePlaying,
		actionSubmit:  statePlaying,
		actionResults: stateResults,
		actionNewGame: stateLobby,
	},
	stateResults: {
		actionStart:   statePlaying,
		actionSubmit:  stateResults,
		actionResults: stateResults,
		actionNewGame: stateLobby,
	},
}

type Player struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsCreator    bool   `json:"isCreator"`
	HasSubmitted bool   `json:"hasSubmitted"`
}

type Answer struct {
	PlayerID      string `json:"playerId"`
	QuestionIndex int    `json:"questionIndex"`
	Answer        string `json:"answer"`
}

type Room struct {
	Code            string     `json:"code"`
	CreatorID       string     `json:"creatorId"`
	Players         []Player   `json:"players"`
	GameState       gameState  `json:"gameState"`
	Answers         []Answer   `json:"answers"`
	CurrentQuestion *int       `json:"currentQuestion"`
	MixedResults    [][]string `json:"mixedResults"`

	lastActive time.Time
}

// transition applies the table. It mutates GameState on success and leaves
// the room untouched on rejection.
func (r *Room) transition(action gameAction) error {
	next, ok := transitions[r.GameState][action]
	if !ok {
		return fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, action, r.GameState)
	}
	r.GameState = next
	return nil
}

func (r *Room) player(playerID string) *Player {
	for i := range r.Players {
		if r.Players[i].ID == playerID {
			return &r.Players[i]
		}
	}
	return nil
}

// snapshot returns a deep copy safe to hand to callers after the store
// lock is released.
func (r *Room) snapshot() *Room {
	out := &Room{
		Code:      r.Code,
		CreatorID: r.CreatorID,
		Players:   append([]Player(nil), r.Players...),
		GameState: r.GameState,
		Answers:   append([]Answer(nil), r.Answers...),
	}
	if r.CurrentQuestion != nil {
		q := *r.CurrentQuestion
		out.CurrentQuestion = &q
	}
	if r.MixedResults != nil {
		out.MixedResults = make([][]string, len(r.MixedResults))
		for i, set := range r.MixedResults {
			out.MixedResults[i] = append([]string(nil), set...)
		}
	}
	return out
}

// Store is the authoritative in-memory room registry. Every operation is
// atomic under the store mutex: it either fully applies or leaves the room
// untouched.
type Store struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func newStore() *Store {
	return &Store{
		rooms: make(map[string]*Room),
	}
}

// newRoomCode generates a crypto-random 6-letter code and ensures it
// doesn't collide with a live room. Letters only; the join form hints at
// digits, but the generator never emits them.
func (s *Store) newRoomCode() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	for {
		buf := make([]byte, 6)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 6)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		code := string(out)

		if _, exists := s.rooms[code]; !exists {
			return code
		}
	}
}

func newPlayerID() string {
	return "player_" + uuid.NewString()
}

// Limits count runes, not bytes: Latvian names and answers are full of
// two-byte diacritics.
func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > 50 {
		return "", fmt.Errorf("%w: name must be 1-50 characters", ErrValidation)
	}
	return name, nil
}

func validateAnswerText(answer string) (string, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" || utf8.RuneCountInString(answer) > 200 {
		return "", fmt.Errorf("%w: answer must be 1-200 characters", ErrValidation)
	}
	return answer, nil
}

func validateRoomCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 6 {
		return "", fmt.Errorf("%w: room code must be exactly 6 letters", ErrValidation)
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return "", fmt.Errorf("%w: room code must be exactly 6 letters", ErrValidation)
		}
	}
	return code, nil
}

// CreateRoom opens a new lobby with the creator as its only player, and
// returns the room snapshot along with the creator's player id.
func (s *Store) CreateRoom(creatorName string) (*Room, string, error) {
	name, err := validateName(creatorName)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code := s.newRoomCode()
	playerID := newPlayerID()

	room := &Room{
		Code:      code,
		CreatorID: playerID,
		Players: []Player{{
			ID:        playerID,
			Name:      name,
			IsCreator: true,
		}},
		GameState:  stateLobby,
		Answers:    []Answer{},
		lastActive: time.Now(),
	}
	s.rooms[code] = room

	return room.snapshot(), playerID, nil
}

func (s *Store) GetRoom(code string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.snapshot(), nil
}

// JoinRoom adds a new player to a lobby. Late joins are rejected so that
// every round starts with the same roster.
func (s *Store) JoinRoom(code, playerName string) (*Room, string, error) {
	name, err := validateName(playerName)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return nil, "", ErrRoomNotFound
	}
	if err := room.transition(actionJoin); err != nil {
		return nil, "", err
	}

	playerID := newPlayerID()
	room.Players = append(room.Players, Player{
		ID:   playerID,
		Name: name,
	})
	room.lastActive = time.Now()

	return room.snapshot(), playerID, nil
}

// StartGame begins a round: answers are wiped, submission flags reset, and
// the active question rewinds to the first prompt.
func (s *Store) StartGame(code string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if len(room.Players) < 2 {
		return nil, ErrInsufficientPlayers
	}
	if err := room.transition(actionStart); err != nil {
		return nil, err
	}

	first := 0
	room.CurrentQuestion = &first
	room.Answers = []Answer{}
	room.MixedResults = nil
	for i := range room.Players {
		room.Players[i].HasSubmitted = false
	}
	room.lastActive = time.Now()

	return room.snapshot(), nil
}

// SubmitAnswer records one answer. Submission is idempotent per
// (player, question): a resubmission overwrites the earlier record in
// place, keeping its arrival position so the mixing columns stay stable.
// The returned flag reports whether every current player has now answered
// every prompt.
func (s *Store) SubmitAnswer(code, playerID string, questionIndex int, answer string) (*Room, bool, error) {
	text, err := validateAnswerText(answer)
	if err != nil {
		return nil, false, err
	}
	if questionIndex < 0 || questionIndex >= len(questions) {
		return nil, false, fmt.Errorf("%w: question index out of range", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return nil, false, ErrRoomNotFound
	}
	player := room.player(playerID)
	if player == nil {
		return nil, false, fmt.Errorf("%w: player is not in this room", ErrValidation)
	}
	if err := room.transition(actionSubmit); err != nil {
		return nil, false, err
	}

	replaced := false
	for i := range room.Answers {
		if room.Answers[i].PlayerID == playerID && room.Answers[i].QuestionIndex == questionIndex {
			room.Answers[i].Answer = text
			replaced = true
			break
		}
	}
	if !replaced {
		room.Answers = append(room.Answers, Answer{
			PlayerID:      playerID,
			QuestionIndex: questionIndex,
			Answer:        text,
		})
	}

	count := 0
	for _, a := range room.Answers {
		if a.PlayerID == playerID {
			count++
		}
	}
	if count == len(questions) {
		player.HasSubmitted = true
	}

	allSubmitted := true
	for _, p := range room.Players {
		if !p.HasSubmitted {
			allSubmitted = false
			break
		}
	}
	room.lastActive = time.Now()

	return room.snapshot(), allSubmitted, nil
}

// GenerateResults recombines the collected answers into one story set per
// player and moves the room into the results state.
//
// For story set s and prompt q, the chosen answer is the one at position
// (s+q) mod P within the answers submitted for prompt q, in arrival order.
// Arrival order is not roster order when players answer at different
// paces, which is part of the fun. A position with no answer (a player
// left mid-round) falls through to the "???" placeholder.
func (s *Store) GenerateResults(code string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if err := room.transition(actionResults); err != nil {
		return nil, err
	}

	playerCount := len(room.Players)
	mixed := make([][]string, 0, playerCount)

	for setIndex := 0; setIndex < playerCount; setIndex++ {
		storySet := make([]string, 0, len(questions))

		for questionIndex := range questions {
			var forQuestion []Answer
			for _, a := range room.Answers {
				if a.QuestionIndex == questionIndex {
					forQuestion = append(forQuestion, a)
				}
			}

			source := (setIndex + questionIndex) % playerCount
			if source < len(forQuestion) {
				storySet = append(storySet, forQuestion[source].Answer)
			} else {
				storySet = append(storySet, "???")
			}
		}

		mixed = append(mixed, storySet)
	}

	room.MixedResults = mixed
	room.CurrentQuestion = nil
	room.lastActive = time.Now()

	return room.snapshot(), nil
}

// StartNewGame returns the room to the lobby with the roster intact.
func (s *Store) StartNewGame(code string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if err := room.transition(actionNewGame); err != nil {
		return nil, err
	}

	room.Answers = []Answer{}
	room.CurrentQuestion = nil
	room.MixedResults = nil
	for i := range room.Players {
		room.Players[i].HasSubmitted = false
	}
	room.lastActive = time.Now()

	return room.snapshot(), nil
}

// RemovePlayer drops a player from the roster. It is idempotent: an
// unknown room or player is a no-op. The room is destroyed once its last
// player leaves, and creator status moves to the earliest-joined remaining
// player when the creator goes. Returns nil when the room no longer
// exists.
func (s *Store) RemovePlayer(code, playerID string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return nil
	}

	dst := room.Players[:0]
	for _, p := range room.Players {
		if p.ID == playerID {
			continue
		}
		dst = append(dst, p)
	}
	room.Players = dst

	if len(room.Players) == 0 {
		delete(s.rooms, code)
		return nil
	}

	if room.player(room.CreatorID) == nil {
		room.CreatorID = room.Players[0].ID
		room.Players[0].IsCreator = true
	}
	room.lastActive = time.Now()

	return room.snapshot()
}

// reaperLoop periodically destroys rooms that have been idle longer than
// idleTimeout, invoking onReap for each destroyed code so the relay can
// drop its connections.
func (s *Store) reaperLoop(idleTimeout time.Duration, onReap func(code string)) {
	ticker := time.NewTicker(idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-idleTimeout)

		s.mu.Lock()
		var reaped []string
		for code, room := range s.rooms {
			if room.lastActive.Before(cutoff) {
				delete(s.rooms, code)
				reaped = append(reaped, code)
			}
		}
		s.mu.Unlock()

		for _, code := range reaped {
			onReap(code)
		}
	}
}
