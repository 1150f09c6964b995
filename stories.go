package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

type createRoomRequest struct {
	PlayerName string `json:"playerName"`
}

type joinRoomRequest struct {
	Code       string `json:"code"`
	PlayerName string `json:"playerName"`
}

type roomCodeRequest struct {
	Code string `json:"code"`
}

type submitAnswerRequest struct {
	RoomCode      string `json:"roomCode"`
	PlayerID      string `json:"playerId"`
	QuestionIndex int    `json:"questionIndex"`
	Answer        string `json:"answer"`
}

type createRoomResponse struct {
	Code     string `json:"code"`
	PlayerID string `json:"playerId"`
	Room     *Room  `json:"room"`
}

type joinRoomResponse struct {
	PlayerID string `json:"playerId"`
	Room     *Room  `json:"room"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInsufficientPlayers):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(cfg *Config, w http.ResponseWriter, err error) {
	writeJSON(cfg, w, errorStatus(err), messageResponse{Message: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body", ErrValidation)
	}
	return nil
}

func serveCreateRoom(cfg *Config, store *Store) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req createRoomRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(cfg, w, err)
			return
		}

		room, playerID, err := store.CreateRoom(req.PlayerName)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		logf(cfg, "GAMES: Room %s created by %q", room.Code, req.PlayerName)

		writeJSON(cfg, w, http.StatusOK, createRoomResponse{
			Code:     room.Code,
			PlayerID: playerID,
			Room:     room,
		})
	}
}

func serveJoinRoom(cfg *Config, store *Store, relay *Relay) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req joinRoomRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(cfg, w, err)
			return
		}

		code, err := validateRoomCode(req.Code)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		room, playerID, err := store.JoinRoom(code, req.PlayerName)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		logf(cfg, "GAMES: Player %q joined %s", req.PlayerName, code)

		relay.Broadcast(code, eventRoomUpdated, room)

		writeJSON(cfg, w, http.StatusOK, joinRoomResponse{
			PlayerID: playerID,
			Room:     room,
		})
	}
}

func serveStartGame(cfg *Config, store *Store, relay *Relay) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req roomCodeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(cfg, w, err)
			return
		}

		code, err := validateRoomCode(req.Code)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		room, err := store.StartGame(code)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		logf(cfg, "GAMES: Game started in %s with %d players", code, len(room.Players))

		relay.Broadcast(code, eventGameStarted, room)
		relay.Broadcast(code, eventRoomUpdated, room)

		writeJSON(cfg, w, http.StatusOK, successResponse{Success: true})
	}
}

func serveSubmitAnswer(cfg *Config, store *Store, relay *Relay) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req submitAnswerRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(cfg, w, err)
			return
		}

		code, err := validateRoomCode(req.RoomCode)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		room, allSubmitted, err := store.SubmitAnswer(code, req.PlayerID, req.QuestionIndex, req.Answer)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		relay.Broadcast(code, eventRoomUpdated, room)

		// The final submission of a round trips the flag; results are
		// generated immediately rather than waiting for a separate call.
		if allSubmitted {
			results, err := store.GenerateResults(code)
			if err != nil {
				writeError(cfg, w, err)
				return
			}

			logf(cfg, "GAMES: Results generated for %s", code)

			relay.Broadcast(code, eventResultsReady, results)
			relay.Broadcast(code, eventRoomUpdated, results)
		}

		writeJSON(cfg, w, http.StatusOK, successResponse{Success: true})
	}
}

func serveNewGame(cfg *Config, store *Store, relay *Relay) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req roomCodeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(cfg, w, err)
			return
		}

		code, err := validateRoomCode(req.Code)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		room, err := store.StartNewGame(code)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		logf(cfg, "GAMES: New game prepared in %s", code)

		relay.Broadcast(code, eventRoomUpdated, room)

		writeJSON(cfg, w, http.StatusOK, successResponse{Success: true})
	}
}

func serveGetRoom(cfg *Config, store *Store) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code, err := validateRoomCode(ps.ByName("code"))
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		room, err := store.GetRoom(code)
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, room)
	}
}

func serveQuestions(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(cfg, w, http.StatusOK, map[string][]string{"questions": questions})
	}
}

// QR handler: generates a PNG QR code linking to the room's join page.
func serveRoomQR(cfg *Config, store *Store) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code, err := validateRoomCode(ps.ByName("code"))
		if err != nil {
			writeError(cfg, w, err)
			return
		}

		if _, err := store.GetRoom(code); err != nil {
			writeError(cfg, w, err)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /stories/:code/qr; strip the trailing "/qr" to get
		// the room URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// registerStoriesGame sets up routes so that:
//   - /stories                → HTML client
//   - /stories/:code          → HTML client, pre-filled with the room code
//   - /stories/:code/qr       → PNG QR code linking to that room
//   - /api/...                → room operations
//   - /ws                     → websocket subscription into the relay
func registerStoriesGame(cfg *Config, store *Store, relay *Relay, mux *httprouter.Router) {
	mux.GET(cfg.prefix+"/stories", serveStoriesPage(cfg))
	mux.GET(cfg.prefix+"/stories/:code", serveStoriesPage(cfg))
	mux.GET(cfg.prefix+"/stories/:code/qr", serveRoomQR(cfg, store))

	mux.POST(cfg.prefix+"/api/rooms/create", serveCreateRoom(cfg, store))
	mux.POST(cfg.prefix+"/api/rooms/join", serveJoinRoom(cfg, store, relay))
	mux.POST(cfg.prefix+"/api/rooms/start", serveStartGame(cfg, store, relay))
	mux.POST(cfg.prefix+"/api/rooms/new-game", serveNewGame(cfg, store, relay))
	mux.POST(cfg.prefix+"/api/answers/submit", serveSubmitAnswer(cfg, store, relay))
	mux.GET(cfg.prefix+"/api/rooms/:code", serveGetRoom(cfg, store))
	mux.GET(cfg.prefix+"/api/questions", serveQuestions(cfg))

	mux.GET(cfg.prefix+"/ws", relay.serveWS())
}
