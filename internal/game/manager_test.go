package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeQuizzes struct {
	quizzes map[string]*Quiz
}

func (f *fakeQuizzes) GetQuizWithQuestions(_ context.Context, quizID string) (*Quiz, error) {
	return f.quizzes[quizID], nil
}

type fakeStore struct {
	mu      sync.Mutex
	fail    bool
	records int
	scores  map[string]int // userID -> score
}

func (f *fakeStore) CreateGameRecord(_ context.Context, _, _ string, _ time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("store down")
	}
	f.records++
	return fmt.Sprintf("rec-%d", f.records), nil
}

func (f *fakeStore) RecordPlayerScore(_ context.Context, _, userID string, score int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("store down")
	}
	if f.scores == nil {
		f.scores = make(map[string]int)
	}
	f.scores[userID] = score
	return nil
}

func (f *fakeStore) recorded() (int, map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	scores := make(map[string]int, len(f.scores))
	for k, v := range f.scores {
		scores[k] = v
	}
	return f.records, scores
}

type castEvent struct {
	Room    string
	Conn    string
	Event   string
	Payload any
}

type fakeCast struct {
	mu     sync.Mutex
	events []castEvent
	signal chan castEvent
}

func newFakeCast() *fakeCast {
	return &fakeCast{signal: make(chan castEvent, 128)}
}

func (f *fakeCast) SendToRoom(roomCode, event string, payload any) {
	f.record(castEvent{Room: roomCode, Event: event, Payload: payload})
}

func (f *fakeCast) SendToConnection(connectionID, event string, payload any) {
	f.record(castEvent{Conn: connectionID, Event: event, Payload: payload})
}

func (f *fakeCast) record(e castEvent) {
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
	select {
	case f.signal <- e:
	default:
	}
}

func (f *fakeCast) roomEvents(room string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		if e.Room == room {
			out = append(out, e.Event)
		}
	}
	return out
}

func waitForEvent(t *testing.T, cast *fakeCast, event string) castEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-cast.signal:
			if e.Event == event {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

type managerFixture struct {
	manager *Manager
	store   *fakeStore
	cast    *fakeCast
}

func newFixture(window, pause time.Duration) *managerFixture {
	quizzes := &fakeQuizzes{quizzes: map[string]*Quiz{
		"quiz-1": twoQuestionQuiz(),
		"empty":  {ID: "empty", Name: "Empty"},
	}}
	store := &fakeStore{}
	cast := newFakeCast()
	m := NewManager(NewRegistry(), NewConnectionIndex(), quizzes, store, cast, window, pause)
	return &managerFixture{manager: m, store: store, cast: cast}
}

func (fx *managerFixture) createGame(t *testing.T) string {
	t.Helper()
	code, err := fx.manager.CreateGame(context.Background(), "quiz-1", "host-1", "Helga")
	if err != nil {
		t.Fatalf("creating game: %v", err)
	}
	return code
}

func TestCreateGame(t *testing.T) {
	fx := newFixture(time.Second, time.Millisecond)

	if _, err := fx.manager.CreateGame(context.Background(), "nope", "host-1", "Helga"); err != ErrQuizNotFound {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
	if _, err := fx.manager.CreateGame(context.Background(), "empty", "host-1", "Helga"); err != ErrQuizEmpty {
		t.Fatalf("expected ErrQuizEmpty, got %v", err)
	}

	code := fx.createGame(t)
	if len(code) != roomCodeLength {
		t.Fatalf("expected %d-char room code, got %q", roomCodeLength, code)
	}
	s, err := fx.manager.GetSession(code)
	if err != nil {
		t.Fatalf("created session should be registered: %v", err)
	}
	if s.QuizName != "Capitals and Numbers" {
		t.Fatalf("unexpected quiz name %q", s.QuizName)
	}
}

func TestStartGameAuthorization(t *testing.T) {
	fx := newFixture(time.Second, time.Millisecond)
	code := fx.createGame(t)

	if err := fx.manager.StartGame(code, "intruder"); err != ErrNotHost {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if err := fx.manager.StartGame("ZZZZZZ", "host-1"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := fx.manager.StartGame(code, "host-1"); err != nil {
		t.Fatalf("host should be able to start: %v", err)
	}
	waitForEvent(t, fx.cast, EventStarted)

	// Starting again is rejected even before the first question fires, and
	// the rejection must not re-announce the game.
	if err := fx.manager.StartGame(code, "host-1"); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	started := 0
	for _, e := range fx.cast.roomEvents(code) {
		if e == EventStarted {
			started++
		}
	}
	if started != 1 {
		t.Fatalf("expected a single start announcement, got %d", started)
	}
}

func TestTryAddPlayerToGame(t *testing.T) {
	fx := newFixture(time.Second, time.Millisecond)
	code := fx.createGame(t)

	if fx.manager.TryAddPlayerToGame("ZZZZZZ", "u1", "Alice", "conn-1") {
		t.Fatal("unknown room must reject join")
	}
	if !fx.manager.TryAddPlayerToGame(code, "u1", "Alice", "conn-1") {
		t.Fatal("fresh join should succeed")
	}
	if !fx.manager.TryAddPlayerToGame(code, "host-1", "Helga", "conn-h") {
		t.Fatal("host join should succeed")
	}
	s, _ := fx.manager.GetSession(code)
	if s.HostConnection() != "conn-h" {
		t.Fatalf("host connection not set, got %q", s.HostConnection())
	}
	if len(s.Roster()) != 1 {
		t.Fatalf("host must not be a roster entry, roster=%v", s.Roster())
	}

	// StartGame freezes the roster before the first question fires.
	if err := fx.manager.StartGame(code, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if fx.manager.TryAddPlayerToGame(code, "u2", "Bob", "conn-2") {
		t.Fatal("new player after start must be rejected")
	}
	if !fx.manager.TryAddPlayerToGame(code, "u1", "Alice", "conn-1b") {
		t.Fatal("reconnect after start must succeed")
	}
	if !fx.manager.TryAddPlayerToGame(code, "host-1", "Helga", "conn-h2") {
		t.Fatal("host reconnect after start must succeed")
	}

	// An open question freezes the roster too, start announcement or not.
	if _, _, err := s.AdvanceQuestion(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if fx.manager.TryAddPlayerToGame(code, "u3", "Carol", "conn-3") {
		t.Fatal("new player after the first question must be rejected")
	}
}

func TestRemovePlayer(t *testing.T) {
	fx := newFixture(time.Second, time.Millisecond)
	code := fx.createGame(t)
	fx.manager.TryAddPlayerToGame(code, "host-1", "Helga", "conn-h")
	fx.manager.TryAddPlayerToGame(code, "u1", "Alice", "conn-1")

	s, _ := fx.manager.GetSession(code)

	// Host disconnect keeps the roster, only the handle is cleared.
	fx.manager.RemovePlayer("conn-h")
	if s.HostConnection() != "" {
		t.Fatal("host connection should be cleared")
	}
	if len(s.Roster()) != 1 {
		t.Fatal("player roster must survive a host disconnect")
	}
	if _, err := fx.manager.GetSession(code); err != nil {
		t.Fatal("room with a remaining player must stay registered")
	}

	// Last player leaving abandons the room.
	fx.manager.RemovePlayer("conn-1")
	if _, err := fx.manager.GetSession(code); err != ErrSessionNotFound {
		t.Fatalf("abandoned room should be removed, got %v", err)
	}
}

func TestSkipQuestionRequiresHost(t *testing.T) {
	fx := newFixture(time.Second, time.Millisecond)
	code := fx.createGame(t)
	fx.manager.TryAddPlayerToGame(code, "u1", "Alice", "conn-1")

	if err := fx.manager.SkipQuestion(code, "u1"); err != ErrNotHost {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if err := fx.manager.SkipQuestion("ZZZZZZ", "host-1"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestTriggerRoundLoopGuards(t *testing.T) {
	fx := newFixture(10*time.Second, time.Millisecond)
	code := fx.createGame(t)
	defer fx.manager.Shutdown()

	if err := fx.manager.TriggerRoundLoop(context.Background(), code, "u1"); err != ErrNotHost {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if err := fx.manager.TriggerRoundLoop(context.Background(), code, "host-1"); err != nil {
		t.Fatalf("host trigger should succeed: %v", err)
	}
	if err := fx.manager.TriggerRoundLoop(context.Background(), code, "host-1"); err != ErrAlreadyStarted {
		t.Fatalf("duplicate trigger should be rejected, got %v", err)
	}
}

func TestRoundLoopRunsToCompletion(t *testing.T) {
	fx := newFixture(150*time.Millisecond, 10*time.Millisecond)
	code := fx.createGame(t)
	fx.manager.TryAddPlayerToGame(code, "u1", "Alice", "conn-1")
	fx.manager.TryAddPlayerToGame(code, "u2", "Bob", "conn-2")

	if err := fx.manager.TriggerRoundLoop(context.Background(), code, "host-1"); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	// Round 1: Alice is right (different casing), Bob is wrong.
	waitForEvent(t, fx.cast, EventQuestion)
	fx.manager.SubmitAnswer(code, "u1", "PARIS")
	fx.manager.SubmitAnswer(code, "u2", "London")
	res := waitForEvent(t, fx.cast, EventRoundResults).Payload.(RoundResultsPayload)
	if got := deltaMap(res.Deltas); got["u1"] != 1 || got["u2"] != 0 {
		t.Fatalf("round 1 deltas wrong: %v", res.Deltas)
	}
	if res.CorrectAnswer != "Paris" {
		t.Fatalf("round results must reveal the correct answer, got %q", res.CorrectAnswer)
	}

	// Round 2: only Alice answers.
	waitForEvent(t, fx.cast, EventQuestion)
	fx.manager.SubmitAnswer(code, "u1", "42")
	res = waitForEvent(t, fx.cast, EventRoundResults).Payload.(RoundResultsPayload)
	if got := deltaMap(res.Deltas); got["u1"] != 1 || got["u2"] != 0 {
		t.Fatalf("round 2 deltas wrong: %v", res.Deltas)
	}

	ended := waitForEvent(t, fx.cast, EventEnded).Payload.(EndedPayload)
	if len(ended.Standings) != 2 {
		t.Fatalf("expected 2 standings, got %v", ended.Standings)
	}
	if ended.Standings[0].UserID != "u1" || ended.Standings[0].Score != 2 {
		t.Fatalf("expected Alice on top with 2 points, got %v", ended.Standings[0])
	}

	records, scores := fx.store.recorded()
	if records != 1 {
		t.Fatalf("expected exactly one game record, got %d", records)
	}
	if scores["u1"] != 2 || scores["u2"] != 0 {
		t.Fatalf("persisted scores wrong: %v", scores)
	}

	if _, err := fx.manager.GetSession(code); err != ErrSessionNotFound {
		t.Fatalf("finished room should be deregistered, got %v", err)
	}

	events := fx.cast.roomEvents(code)
	want := []string{EventQuestion, EventRoundResults, EventQuestion, EventRoundResults, EventEnded}
	filtered := events[:0:0]
	for _, e := range events {
		if e != EventRoster {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) != len(want) {
		t.Fatalf("unexpected event sequence %v", filtered)
	}
	for i := range want {
		if filtered[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s (full: %v)", i, want[i], filtered[i], filtered)
		}
	}
}

func TestSkipShortensAnswerWindow(t *testing.T) {
	fx := newFixture(time.Hour, time.Millisecond)
	code := fx.createGame(t)
	fx.manager.TryAddPlayerToGame(code, "u1", "Alice", "conn-1")

	if err := fx.manager.TriggerRoundLoop(context.Background(), code, "host-1"); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	waitForEvent(t, fx.cast, EventQuestion)
	fx.manager.SubmitAnswer(code, "u1", "paris")
	if err := fx.manager.SkipQuestion(code, "host-1"); err != nil {
		t.Fatalf("skip: %v", err)
	}
	res := waitForEvent(t, fx.cast, EventRoundResults).Payload.(RoundResultsPayload)
	if got := deltaMap(res.Deltas); got["u1"] != 1 {
		t.Fatalf("answer submitted before skip must count, got %v", res.Deltas)
	}

	waitForEvent(t, fx.cast, EventQuestion)
	if err := fx.manager.SkipQuestion(code, "host-1"); err != nil {
		t.Fatalf("skip: %v", err)
	}
	waitForEvent(t, fx.cast, EventRoundResults)
	waitForEvent(t, fx.cast, EventEnded)
}

func TestPersistenceFailureStillCleansUp(t *testing.T) {
	fx := newFixture(20*time.Millisecond, time.Millisecond)
	fx.store.fail = true
	code := fx.createGame(t)
	fx.manager.TryAddPlayerToGame(code, "u1", "Alice", "conn-1")

	if err := fx.manager.TriggerRoundLoop(context.Background(), code, "host-1"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	waitForEvent(t, fx.cast, EventEnded)
	if _, err := fx.manager.GetSession(code); err != ErrSessionNotFound {
		t.Fatalf("room must be cleaned up even when persistence fails, got %v", err)
	}
}

func TestSubmitAnswerIsBestEffort(t *testing.T) {
	fx := newFixture(time.Second, time.Millisecond)
	code := fx.createGame(t)

	// Neither an unknown room nor an unknown player may panic or error.
	fx.manager.SubmitAnswer("ZZZZZZ", "u1", "Paris")
	fx.manager.SubmitAnswer(code, "ghost", "Paris")
}
