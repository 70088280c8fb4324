package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Manager composes the registry, the connection index and the three ports
// into the engine API the gateway calls. It also owns the background round
// loop of every active room.
type Manager struct {
	registry *Registry
	conns    *ConnectionIndex
	quizzes  QuizLookup
	store    Persistence
	cast     Broadcaster

	answerWindow time.Duration
	roundPause   time.Duration

	mu    sync.Mutex
	loops map[string]context.CancelFunc // roomCode -> round-loop cancel
}

func NewManager(registry *Registry, conns *ConnectionIndex, quizzes QuizLookup, store Persistence, cast Broadcaster, answerWindow, roundPause time.Duration) *Manager {
	return &Manager{
		registry:     registry,
		conns:        conns,
		quizzes:      quizzes,
		store:        store,
		cast:         cast,
		answerWindow: answerWindow,
		roundPause:   roundPause,
		loops:        make(map[string]context.CancelFunc),
	}
}

// CreateGame resolves the quiz, freezes its questions into a new session and
// registers it under a fresh room code.
func (m *Manager) CreateGame(ctx context.Context, quizID, hostUserID, hostUsername string) (string, error) {
	quiz, err := m.quizzes.GetQuizWithQuestions(ctx, quizID)
	if err != nil {
		return "", fmt.Errorf("loading quiz %s: %w", quizID, err)
	}
	if quiz == nil {
		return "", ErrQuizNotFound
	}
	if len(quiz.Questions) == 0 {
		return "", ErrQuizEmpty
	}
	s := m.registry.Create(func(code string) *Session {
		return NewSession(code, quiz, hostUserID, hostUsername)
	})
	log.Info().Str("code", s.RoomCode).Str("quizId", quizID).Str("host", hostUserID).Msg("game created")
	return s.RoomCode, nil
}

func (m *Manager) GetSession(roomCode string) (*Session, error) {
	return m.registry.Get(roomCode)
}

// StartGame freezes the roster and announces the game to the room. It does
// not fire the first question; the host's client triggers the round loop
// separately once it has navigated to the game view.
func (m *Manager) StartGame(roomCode, userID string) error {
	s, err := m.registry.Get(roomCode)
	if err != nil {
		return err
	}
	if !s.IsHost(userID) {
		return ErrNotHost
	}
	if err := s.Start(); err != nil {
		return err
	}
	m.cast.SendToRoom(s.RoomCode, EventStarted, StartedPayload{
		RoomCode:      s.RoomCode,
		QuestionCount: s.QuestionCount(),
	})
	log.Info().Str("code", s.RoomCode).Msg("game starting")
	return nil
}

// TriggerRoundLoop launches the room's round loop as a background task. The
// caller gets no completion signal beyond the broadcasts the loop emits.
func (m *Manager) TriggerRoundLoop(ctx context.Context, roomCode, userID string) error {
	s, err := m.registry.Get(roomCode)
	if err != nil {
		return err
	}
	if !s.IsHost(userID) {
		return ErrNotHost
	}

	m.mu.Lock()
	if _, running := m.loops[s.RoomCode]; running {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.loops[s.RoomCode] = cancel
	m.mu.Unlock()

	go m.runLoop(loopCtx, s)
	return nil
}

// runLoop drives one room from first question to final standings. It is the
// sole caller of AdvanceQuestion/EndQuestionRound for its room.
func (m *Manager) runLoop(ctx context.Context, s *Session) {
	defer m.dropLoop(s.RoomCode)

	for s.HasNextQuestion() {
		view, clock, err := s.AdvanceQuestion()
		if err != nil {
			log.Error().Err(err).Str("code", s.RoomCode).Msg("advance failed, abandoning round loop")
			return
		}
		m.cast.SendToRoom(s.RoomCode, EventQuestion, QuestionPayload{
			RoomCode:      s.RoomCode,
			Question:      view,
			WindowSeconds: int(m.answerWindow / time.Second),
		})
		log.Info().Str("code", s.RoomCode).Int("question", view.Index).Msg("question open")

		outcome := clock.Wait(ctx, m.answerWindow)
		if outcome == WaitAborted {
			log.Info().Str("code", s.RoomCode).Msg("round loop cancelled")
			return
		}

		correct, deltas, err := s.EndQuestionRound()
		if err != nil {
			log.Error().Err(err).Str("code", s.RoomCode).Msg("round close failed, abandoning round loop")
			return
		}
		m.cast.SendToRoom(s.RoomCode, EventRoundResults, RoundResultsPayload{
			RoomCode:      s.RoomCode,
			QuestionIndex: view.Index,
			CorrectAnswer: correct,
			Deltas:        deltas,
		})
		log.Info().Str("code", s.RoomCode).Int("question", view.Index).Bool("skipped", outcome == WaitSkipped).Msg("round closed")

		if s.HasNextQuestion() {
			select {
			case <-time.After(m.roundPause):
			case <-ctx.Done():
				return
			}
		}
	}

	m.finishGame(ctx, s)
}

func (m *Manager) finishGame(ctx context.Context, s *Session) {
	rec := s.EndGameAndGetFinalRecord()

	recordID, err := m.store.CreateGameRecord(ctx, rec.HostUserID, rec.QuizID, rec.CompletedAt)
	if err != nil {
		// A lost record is accepted; the engine is not durable.
		log.Error().Err(err).Str("code", s.RoomCode).Msg("persisting game record failed")
	} else {
		for userID, score := range rec.Scores {
			if err := m.store.RecordPlayerScore(ctx, recordID, userID, score); err != nil {
				log.Error().Err(err).Str("code", s.RoomCode).Str("userId", userID).Msg("persisting player score failed")
			}
		}
	}

	m.cast.SendToRoom(s.RoomCode, EventEnded, EndedPayload{
		RoomCode:    s.RoomCode,
		Standings:   Standings(rec),
		CompletedAt: rec.CompletedAt,
	})
	m.registry.Remove(s.RoomCode)
	log.Info().Str("code", s.RoomCode).Int("players", len(rec.Scores)).Msg("game finished")
}

// SubmitAnswer is best-effort: races with round end are expected, so a
// missing room or player is logged and dropped, never raised.
func (m *Manager) SubmitAnswer(roomCode, userID, answer string) {
	s, err := m.registry.Get(roomCode)
	if err != nil {
		log.Debug().Str("code", roomCode).Str("userId", userID).Msg("answer for unknown room dropped")
		return
	}
	if err := s.AnswerQuestionForPlayer(userID, answer); err != nil {
		log.Debug().Str("code", roomCode).Str("userId", userID).Err(err).Msg("answer dropped")
	}
}

// SkipQuestion cancels the in-flight answer window so the loop scores the
// round immediately. Host only. Racing a natural expiry is fine: whichever
// fires first releases the wait and the round closes exactly once.
func (m *Manager) SkipQuestion(roomCode, userID string) error {
	s, err := m.registry.Get(roomCode)
	if err != nil {
		return err
	}
	if !s.IsHost(userID) {
		return ErrNotHost
	}
	if s.CancelActiveRound() {
		log.Info().Str("code", roomCode).Msg("question skipped by host")
	}
	return nil
}

// TryAddPlayerToGame wires a connection into a room. New players are only
// admitted before the game starts; known players and the host may reconnect
// at any time. Returns false when the room is gone or closed to the caller.
func (m *Manager) TryAddPlayerToGame(roomCode, userID, username, connectionID string) bool {
	s, err := m.registry.Get(roomCode)
	if err != nil {
		return false
	}

	switch {
	case s.IsHost(userID):
		s.SetHostConnection(connectionID)
	case s.UpdatePlayerConnection(userID, connectionID):
		// reconnect, roster entry kept
	case !s.AcceptingNewPlayers():
		return false
	default:
		if err := s.RegisterPlayer(userID, username, connectionID); err != nil {
			log.Warn().Str("code", s.RoomCode).Str("userId", userID).Err(err).Msg("join rejected")
			return false
		}
	}

	m.conns.Bind(connectionID, s.RoomCode, userID)
	m.cast.SendToConnection(connectionID, EventLobbyDetails, LobbyDetailsPayload{
		RoomCode:     s.RoomCode,
		QuizName:     s.QuizName,
		HostUsername: s.HostUsername,
		Players:      s.Roster(),
	})
	m.cast.SendToRoom(s.RoomCode, EventRoster, RosterPayload{RoomCode: s.RoomCode, Players: s.Roster()})
	log.Info().Str("code", s.RoomCode).Str("userId", userID).Msg("player connected")
	return true
}

// RemovePlayer handles a dropped connection. The host only loses their
// connection handle; players lose their roster entry. An abandoned room is
// torn down on the spot.
func (m *Manager) RemovePlayer(connectionID string) {
	roomCode, userID, ok := m.conns.ResolveAndUnbind(connectionID)
	if !ok {
		return
	}
	s, err := m.registry.Get(roomCode)
	if err != nil {
		return
	}

	if s.IsHost(userID) {
		s.ClearHostConnection(connectionID)
	} else {
		s.RemovePlayerEntry(userID)
	}
	m.cast.SendToRoom(s.RoomCode, EventRoster, RosterPayload{RoomCode: s.RoomCode, Players: s.Roster()})
	log.Info().Str("code", s.RoomCode).Str("userId", userID).Msg("player disconnected")

	if s.IsAbandoned() {
		m.removeRoom(s.RoomCode)
		log.Info().Str("code", s.RoomCode).Msg("abandoned room removed")
	}
}

// Shutdown cancels every running round loop.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for code, cancel := range m.loops {
		cancel()
		delete(m.loops, code)
	}
}

func (m *Manager) removeRoom(roomCode string) {
	m.registry.Remove(roomCode)
	m.mu.Lock()
	if cancel, ok := m.loops[roomCode]; ok {
		cancel()
		delete(m.loops, roomCode)
	}
	m.mu.Unlock()
}

func (m *Manager) dropLoop(roomCode string) {
	m.mu.Lock()
	if cancel, ok := m.loops[roomCode]; ok {
		cancel()
		delete(m.loops, roomCode)
	}
	m.mu.Unlock()
}
