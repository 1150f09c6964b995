package main

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
)

func TestCreateRoomCodesAreUniqueUppercase(t *testing.T) {
	store := newStore()
	pattern := regexp.MustCompile(`^[A-Z]{6}$`)

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		room, playerID, err := store.CreateRoom("Anna")
		if err != nil {
			t.Fatalf("create room: %v", err)
		}
		if !pattern.MatchString(room.Code) {
			t.Fatalf("expected 6 uppercase letters, got %q", room.Code)
		}
		if _, dup := seen[room.Code]; dup {
			t.Fatalf("duplicate room code %q", room.Code)
		}
		seen[room.Code] = struct{}{}

		if room.GameState != stateLobby {
			t.Fatalf("expected new room in LOBBY, got %s", room.GameState)
		}
		if room.CreatorID != playerID {
			t.Fatalf("expected creator id %q, got %q", playerID, room.CreatorID)
		}
		if len(room.Players) != 1 || !room.Players[0].IsCreator {
			t.Fatalf("expected a single creator player, got %#v", room.Players)
		}
	}
}

func TestCreateRoomRejectsBadNames(t *testing.T) {
	store := newStore()

	for _, name := range []string{"", "   ", strings.Repeat("x", 51), strings.Repeat("ā", 51)} {
		if _, _, err := store.CreateRoom(name); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %q, got %v", name, err)
		}
	}
}

func TestLengthLimitsCountRunesNotBytes(t *testing.T) {
	store := newStore()

	// 50 diacritic characters are 100 bytes of UTF-8 but still a valid
	// name; the same goes for a 200-character answer.
	room, annaID, err := store.CreateRoom(strings.Repeat("ā", 50))
	if err != nil {
		t.Fatalf("expected 50-rune name accepted, got %v", err)
	}
	code := room.Code

	if _, _, err := store.JoinRoom(code, strings.Repeat("ē", 50)); err != nil {
		t.Fatalf("expected 50-rune join name accepted, got %v", err)
	}
	if _, err := store.StartGame(code); err != nil {
		t.Fatalf("start game: %v", err)
	}

	if _, _, err := store.SubmitAnswer(code, annaID, 0, strings.Repeat("ū", 200)); err != nil {
		t.Fatalf("expected 200-rune answer accepted, got %v", err)
	}
	if _, _, err := store.SubmitAnswer(code, annaID, 1, strings.Repeat("ū", 201)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for 201-rune answer, got %v", err)
	}
}

func TestJoinRoomPreservesOrderAndCreator(t *testing.T) {
	store := newStore()
	room, creatorID, err := store.CreateRoom("Anna")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	room, secondID, err := store.JoinRoom(room.Code, "Kārlis")
	if err != nil {
		t.Fatalf("join room: %v", err)
	}
	room, _, err = store.JoinRoom(room.Code, "Līga")
	if err != nil {
		t.Fatalf("join room: %v", err)
	}

	if len(room.Players) != 3 {
		t.Fatalf("expected 3 players, got %d", len(room.Players))
	}
	if room.Players[0].ID != creatorID || room.Players[1].ID != secondID {
		t.Fatalf("join order not preserved: %#v", room.Players)
	}
	if room.CreatorID != creatorID {
		t.Fatalf("creator changed on join: %q", room.CreatorID)
	}
	if room.Players[1].IsCreator || room.Players[2].IsCreator {
		t.Fatal("joined players must not be creators")
	}
}

func TestJoinRoomFailsOutsideLobby(t *testing.T) {
	store := newStore()
	room, _, _ := store.CreateRoom("Anna")
	code := room.Code
	if _, _, err := store.JoinRoom(code, "Kārlis"); err != nil {
		t.Fatalf("join room: %v", err)
	}

	if _, err := store.StartGame(code); err != nil {
		t.Fatalf("start game: %v", err)
	}
	if _, _, err := store.JoinRoom(code, "Līga"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected InvalidState joining a PLAYING room, got %v", err)
	}

	if _, err := store.GenerateResults(code); err != nil {
		t.Fatalf("generate results: %v", err)
	}
	if _, _, err := store.JoinRoom(code, "Līga"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected InvalidState joining a RESULTS room, got %v", err)
	}

	if _, _, err := store.JoinRoom("ZZZZZZ", "Līga"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected RoomNotFound, got %v", err)
	}
}

func TestStartGameGuards(t *testing.T) {
	store := newStore()
	room, _, _ := store.CreateRoom("Anna")
	code := room.Code

	if _, err := store.StartGame(code); !errors.Is(err, ErrInsufficientPlayers) {
		t.Fatalf("expected InsufficientPlayers with 1 player, got %v", err)
	}
	if _, err := store.StartGame("ZZZZZZ"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected RoomNotFound, got %v", err)
	}

	room, secondID, _ := store.JoinRoom(code, "Kārlis")
	if _, _, err := store.SubmitAnswer(code, secondID, 0, "stale"); err != nil {
		t.Fatalf("submit answer: %v", err)
	}

	room, err := store.StartGame(code)
	if err != nil {
		t.Fatalf("start game: %v", err)
	}
	if room.GameState != statePlaying {
		t.Fatalf("expected PLAYING, got %s", room.GameState)
	}
	if len(room.Answers) != 0 {
		t.Fatalf("expected answers cleared on start, got %d", len(room.Answers))
	}
	if room.CurrentQuestion == nil || *room.CurrentQuestion != 0 {
		t.Fatalf("expected current question 0, got %v", room.CurrentQuestion)
	}
	for _, p := range room.Players {
		if p.HasSubmitted {
			t.Fatalf("expected hasSubmitted reset for %q", p.Name)
		}
	}
}

func TestSubmitAnswerCompletionFlags(t *testing.T) {
	store := newStore()
	room, annaID, _ := store.CreateRoom("Anna")
	code := room.Code
	_, karlisID, _ := store.JoinRoom(code, "Kārlis")
	if _, err := store.StartGame(code); err != nil {
		t.Fatalf("start game: %v", err)
	}

	for q := range questions {
		room, all, err := store.SubmitAnswer(code, annaID, q, fmt.Sprintf("anna-%d", q))
		if err != nil {
			t.Fatalf("submit answer: %v", err)
		}
		if all {
			t.Fatalf("allSubmitted true before Kārlis answered (q=%d)", q)
		}
		if q == len(questions)-1 && !room.player(annaID).HasSubmitted {
			t.Fatal("expected Anna marked submitted after her final answer")
		}
	}

	for q := range questions {
		room, all, err := store.SubmitAnswer(code, karlisID, q, fmt.Sprintf("karlis-%d", q))
		if err != nil {
			t.Fatalf("submit answer: %v", err)
		}
		wantAll := q == len(questions)-1
		if all != wantAll {
			t.Fatalf("allSubmitted = %v at q=%d, want %v", all, q, wantAll)
		}
		if wantAll {
			for _, p := range room.Players {
				if !p.HasSubmitted {
					t.Fatalf("expected %q marked submitted", p.Name)
				}
			}
		}
	}
}

func TestSubmitAnswerOverwritesResubmission(t *testing.T) {
	store := newStore()
	room, annaID, _ := store.CreateRoom("Anna")
	code := room.Code
	_, karlisID, _ := store.JoinRoom(code, "Kārlis")
	if _, err := store.StartGame(code); err != nil {
		t.Fatalf("start game: %v", err)
	}

	if _, _, err := store.SubmitAnswer(code, annaID, 0, "first"); err != nil {
		t.Fatalf("submit answer: %v", err)
	}
	if _, _, err := store.SubmitAnswer(code, karlisID, 0, "second"); err != nil {
		t.Fatalf("submit answer: %v", err)
	}
	room, _, err := store.SubmitAnswer(code, annaID, 0, "revised")
	if err != nil {
		t.Fatalf("submit answer: %v", err)
	}

	if len(room.Answers) != 2 {
		t.Fatalf("expected 2 answer records after resubmission, got %d", len(room.Answers))
	}
	// The overwrite keeps Anna's original arrival position.
	if room.Answers[0].PlayerID != annaID || room.Answers[0].Answer != "revised" {
		t.Fatalf("expected Anna's record updated in place, got %#v", room.Answers)
	}
	if room.Answers[1].PlayerID != karlisID || room.Answers[1].Answer != "second" {
		t.Fatalf("expected Kārlis's record untouched, got %#v", room.Answers)
	}
}

func TestSubmitAnswerValidation(t *testing.T) {
	store := newStore()
	room, annaID, _ := store.CreateRoom("Anna")
	code := room.Code

	if _, _, err := store.SubmitAnswer(code, annaID, len(questions), "late"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for out-of-range index, got %v", err)
	}
	if _, _, err := store.SubmitAnswer(code, annaID, -1, "early"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for negative index, got %v", err)
	}
	if _, _, err := store.SubmitAnswer(code, annaID, 0, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for blank answer, got %v", err)
	}
	if _, _, err := store.SubmitAnswer(code, "player_nobody", 0, "hello"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown player, got %v", err)
	}
	if _, _, err := store.SubmitAnswer("ZZZZZZ", annaID, 0, "hello"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected RoomNotFound, got %v", err)
	}
}

func TestGenerateResultsCompleteAnswers(t *testing.T) {
	store := newStore()
	room, annaID, _ := store.CreateRoom("Anna")
	code := room.Code
	_, karlisID, _ := store.JoinRoom(code, "Kārlis")
	_, ligaID, _ := store.JoinRoom(code, "Līga")
	if _, err := store.StartGame(code); err != nil {
		t.Fatalf("start game: %v", err)
	}

	for i, id := range []string{annaID, karlisID, ligaID} {
		for q := range questions {
			if _, _, err := store.SubmitAnswer(code, id, q, fmt.Sprintf("p%d-q%d", i, q)); err != nil {
				t.Fatalf("submit answer: %v", err)
			}
		}
	}

	room, err := store.GenerateResults(code)
	if err != nil {
		t.Fatalf("generate results: %v", err)
	}
	if room.GameState != stateResults {
		t.Fatalf("expected RESULTS, got %s", room.GameState)
	}
	if len(room.MixedResults) != 3 {
		t.Fatalf("expected 3 story sets, got %d", len(room.MixedResults))
	}
	for s, set := range room.MixedResults {
		if len(set) != len(questions) {
			t.Fatalf("set %d has %d entries, want %d", s, len(set), len(questions))
		}
		for q, answer := range set {
			if answer == "???" {
				t.Fatalf("unexpected placeholder at set %d question %d", s, q)
			}
			want := fmt.Sprintf("p%d-q%d", (s+q)%3, q)
			if answer != want {
				t.Fatalf("set %d question %d: got %q, want %q", s, q, answer, want)
			}
		}
	}
	for i := range room.MixedResults {
		for j := i + 1; j < len(room.MixedResults); j++ {
			if equalStrings(room.MixedResults[i], room.MixedResults[j]) {
				t.Fatalf("story sets %d and %d are identical", i, j)
			}
		}
	}
}

func TestGenerateResultsMissingAnswerPlaceholder(t *testing.T) {
	store := newStore()
	room, annaID, _ := store.CreateRoom("Anna")
	code := room.Code
	_, karlisID, _ := store.JoinRoom(code, "Kārlis")
	if _, err := store.StartGame(code); err != nil {
		t.Fatalf("start game: %v", err)
	}

	const skipped = 3
	for q := range questions {
		if _, _, err := store.SubmitAnswer(code, annaID, q, fmt.Sprintf("anna-%d", q)); err != nil {
			t.Fatalf("submit answer: %v", err)
		}
		if q == skipped {
			continue
		}
		if _, _, err := store.SubmitAnswer(code, karlisID, q, fmt.Sprintf("karlis-%d", q)); err != nil {
			t.Fatalf("submit answer: %v", err)
		}
	}

	room, err := store.GenerateResults(code)
	if err != nil {
		t.Fatalf("generate results: %v", err)
	}

	// Question 3 has a single answer at arrival position 0, so the
	// placeholder lands exactly where (s+3) mod 2 == 1, i.e. set 0.
	for s, set := range room.MixedResults {
		for q, answer := range set {
			isPlaceholder := answer == "???"
			wantPlaceholder := q == skipped && (s+q)%2 == 1
			if isPlaceholder != wantPlaceholder {
				t.Fatalf("set %d question %d: placeholder=%v, want %v", s, q, isPlaceholder, wantPlaceholder)
			}
		}
	}
}

func TestRemovePlayerDestroysEmptyRoom(t *testing.T) {
	store := newStore()
	room, annaID, _ := store.CreateRoom("Anna")
	code := room.Code

	if got := store.RemovePlayer(code, annaID); got != nil {
		t.Fatalf("expected nil after removing sole player, got %#v", got)
	}
	if _, err := store.GetRoom(code); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected RoomNotFound after room destruction, got %v", err)
	}

	// Idempotent on unknown rooms and players.
	if got := store.RemovePlayer(code, annaID); got != nil {
		t.Fatalf("expected nil for destroyed room, got %#v", got)
	}
	if got := store.RemovePlayer("ZZZZZZ", "player_nobody"); got != nil {
		t.Fatalf("expected nil for unknown room, got %#v", got)
	}
}

func TestRemovePlayerReassignsCreator(t *testing.T) {
	store := newStore()
	room, annaID, _ := store.CreateRoom("Anna")
	code := room.Code
	_, karlisID, _ := store.JoinRoom(code, "Kārlis")
	_, _, _ = store.JoinRoom(code, "Līga")

	room = store.RemovePlayer(code, annaID)
	if room == nil {
		t.Fatal("expected room to survive with 2 players")
	}
	if room.CreatorID != karlisID {
		t.Fatalf("expected creator reassigned to earliest-joined player, got %q", room.CreatorID)
	}

	creators := 0
	for _, p := range room.Players {
		if p.IsCreator {
			creators++
		}
	}
	if creators != 1 {
		t.Fatalf("expected exactly one creator, got %d", creators)
	}

	// Removing a non-creator leaves the creator alone.
	room = store.RemovePlayer(code, room.Players[1].ID)
	if room == nil || room.CreatorID != karlisID {
		t.Fatalf("creator changed when a non-creator left: %#v", room)
	}
}

func TestStartNewGameResetsRound(t *testing.T) {
	store := newStore()
	room, annaID, _ := store.CreateRoom("Anna")
	code := room.Code
	_, karlisID, _ := store.JoinRoom(code, "Kārlis")
	if _, err := store.StartGame(code); err != nil {
		t.Fatalf("start game: %v", err)
	}
	for q := range questions {
		for _, id := range []string{annaID, karlisID} {
			if _, _, err := store.SubmitAnswer(code, id, q, "answer"); err != nil {
				t.Fatalf("submit answer: %v", err)
			}
		}
	}
	if _, err := store.GenerateResults(code); err != nil {
		t.Fatalf("generate results: %v", err)
	}

	room, err := store.StartNewGame(code)
	if err != nil {
		t.Fatalf("start new game: %v", err)
	}
	if room.GameState != stateLobby {
		t.Fatalf("expected LOBBY, got %s", room.GameState)
	}
	if len(room.Answers) != 0 || room.MixedResults != nil || room.CurrentQuestion != nil {
		t.Fatalf("expected round state cleared, got %#v", room)
	}
	if len(room.Players) != 2 || room.CreatorID != annaID {
		t.Fatalf("roster or creator changed: %#v", room)
	}
	for _, p := range room.Players {
		if p.HasSubmitted {
			t.Fatalf("expected hasSubmitted reset for %q", p.Name)
		}
	}
}

func TestFullGameScenario(t *testing.T) {
	store := newStore()
	room, annaID, err := store.CreateRoom("Anna")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	code := room.Code

	room, karlisID, err := store.JoinRoom(code, "Kārlis")
	if err != nil {
		t.Fatalf("join room: %v", err)
	}

	room, err = store.StartGame(code)
	if err != nil {
		t.Fatalf("start game: %v", err)
	}
	if room.GameState != statePlaying || len(room.Players) != 2 {
		t.Fatalf("unexpected room after start: %#v", room)
	}

	// Anna answers everything first, then Kārlis; arrival order per
	// question is therefore [Anna, Kārlis].
	submissions := 0
	var lastAll bool
	for _, id := range []string{annaID, karlisID} {
		for q := range questions {
			name := "anna"
			if id == karlisID {
				name = "karlis"
			}
			_, all, err := store.SubmitAnswer(code, id, q, fmt.Sprintf("%s-%d", name, q))
			if err != nil {
				t.Fatalf("submit answer: %v", err)
			}
			submissions++
			lastAll = all
			if all && submissions != 12 {
				t.Fatalf("allSubmitted tripped on submission %d", submissions)
			}
		}
	}
	if !lastAll {
		t.Fatal("expected allSubmitted after the 12th submission")
	}

	room, err = store.GenerateResults(code)
	if err != nil {
		t.Fatalf("generate results: %v", err)
	}
	if len(room.MixedResults) != 2 {
		t.Fatalf("expected 2 story sets, got %d", len(room.MixedResults))
	}
	names := []string{"anna", "karlis"}
	for s, set := range room.MixedResults {
		if len(set) != 6 {
			t.Fatalf("set %d has %d answers, want 6", s, len(set))
		}
		for q, answer := range set {
			want := fmt.Sprintf("%s-%d", names[(s+q)%2], q)
			if answer != want {
				t.Fatalf("set %d question %d: got %q, want %q", s, q, answer, want)
			}
		}
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	store := newStore()
	room, annaID, _ := store.CreateRoom("Anna")
	code := room.Code
	if _, err := store.StartGame(code); !errors.Is(err, ErrInsufficientPlayers) {
		t.Fatalf("expected InsufficientPlayers, got %v", err)
	}
	if _, _, err := store.SubmitAnswer(code, annaID, 0, "original"); err != nil {
		t.Fatalf("submit answer: %v", err)
	}

	// Mutating a returned snapshot must not touch the stored room.
	snap, err := store.GetRoom(code)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	snap.Players[0].Name = "Mallory"
	snap.Answers[0].Answer = "tampered"
	snap.CreatorID = "player_nobody"

	fresh, err := store.GetRoom(code)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if fresh.Players[0].Name != "Anna" {
		t.Fatalf("player mutation leaked into the store: %q", fresh.Players[0].Name)
	}
	if fresh.Answers[0].Answer != "original" {
		t.Fatalf("answer mutation leaked into the store: %q", fresh.Answers[0].Answer)
	}
	if fresh.CreatorID != annaID {
		t.Fatalf("creator mutation leaked into the store: %q", fresh.CreatorID)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
