package game

import (
	"errors"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotHost           = errors.New("not host")
	ErrAlreadyStarted    = errors.New("game already started")
	ErrAlreadyRegistered = errors.New("player already registered")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrInvalidTransition = errors.New("invalid transition for current round state")
	ErrNoMoreQuestions   = errors.New("no more questions")
	ErrQuizNotFound      = errors.New("quiz not found")
	ErrQuizEmpty         = errors.New("quiz has no questions")
)

// Session is the per-room state machine. It owns the frozen question
// sequence, the player roster and the round state; it knows nothing about
// transports. All mutating calls go through the session mutex.
type Session struct {
	RoomCode     string
	QuizID       string
	QuizName     string
	HostUserID   string
	HostUsername string

	mu               sync.Mutex
	hostConnectionID string
	questions        []Question
	players          map[string]*Player
	currentIndex     int  // -1 before the first question
	started          bool // roster frozen; set by Start, before the first question fires
	status           Status
	clock            *RoundClock // non-nil only while ActiveQuestion
	finalRecord      *FinalRecord
}

func NewSession(roomCode string, quiz *Quiz, hostUserID, hostUsername string) *Session {
	return &Session{
		RoomCode:     roomCode,
		QuizID:       quiz.ID,
		QuizName:     quiz.Name,
		HostUserID:   hostUserID,
		HostUsername: hostUsername,
		questions:    quiz.Questions,
		players:      make(map[string]*Player),
		currentIndex: -1,
		status:       StatusPending,
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) QuestionCount() int {
	return len(s.questions)
}

// HasGameStarted reports whether the first question has fired. It is
// independent of the round status: a session between rounds has started too.
func (s *Session) HasGameStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentIndex >= 0
}

func (s *Session) IsHost(userID string) bool {
	return userID == s.HostUserID
}

// Start freezes the roster for new joins. The question index is untouched;
// the round loop fires the first question separately.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	return nil
}

// AcceptingNewPlayers reports whether a never-joined user may still enter:
// only before the game is started and before the first question fires.
// Known players reconnect past this gate.
func (s *Session) AcceptingNewPlayers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.started && s.currentIndex < 0
}

// RegisterPlayer adds a new roster entry. Reconnection is not a second
// registration; callers detect an existing entry and use
// UpdatePlayerConnection instead.
func (s *Session) RegisterPlayer(userID, username, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[userID]; ok {
		return ErrAlreadyRegistered
	}
	s.players[userID] = &Player{UserID: userID, Username: username, ConnectionID: connectionID}
	return nil
}

// UpdatePlayerConnection rebinds an existing player to a new connection id.
// Returns false if the user has no roster entry.
func (s *Session) UpdatePlayerConnection(userID, connectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[userID]
	if !ok {
		return false
	}
	p.ConnectionID = connectionID
	return true
}

// RemovePlayerEntry drops a player from the roster entirely, score included.
func (s *Session) RemovePlayerEntry(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.players, userID)
}

func (s *Session) SetHostConnection(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostConnectionID = connectionID
}

// ClearHostConnection marks the host as transiently disconnected if the
// dropping connection is still the one on record.
func (s *Session) ClearHostConnection(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hostConnectionID == connectionID {
		s.hostConnectionID = ""
	}
}

func (s *Session) HostConnection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostConnectionID
}

// IsAbandoned reports whether the host and every player have disconnected.
func (s *Session) IsAbandoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostConnectionID == "" && len(s.players) == 0
}

func (s *Session) HasNextQuestion() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusEnded {
		return false
	}
	return s.currentIndex+1 < len(s.questions)
}

// AdvanceQuestion opens the next round: bumps the index, shuffles the four
// answer options and hands back the player-facing view plus the clock
// bounding the round. The previous round must be closed first.
func (s *Session) AdvanceQuestion() (QuestionView, *RoundClock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusEnded || s.status == StatusActiveQuestion {
		return QuestionView{}, nil, ErrInvalidTransition
	}
	if s.currentIndex+1 >= len(s.questions) {
		return QuestionView{}, nil, ErrNoMoreQuestions
	}
	s.currentIndex++
	s.status = StatusActiveQuestion
	s.clock = NewRoundClock()

	q := s.questions[s.currentIndex]
	options := make([]string, 0, len(q.Distractors)+1)
	options = append(options, q.CorrectAnswer)
	options = append(options, q.Distractors...)
	rand.Shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })

	view := QuestionView{
		Index:   s.currentIndex,
		Total:   len(s.questions),
		Prompt:  q.Prompt,
		Options: options,
	}
	return view, s.clock, nil
}

// CancelActiveRound releases the current round's clock (host skip). Returns
// false when no round is open.
func (s *Session) CancelActiveRound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActiveQuestion || s.clock == nil {
		return false
	}
	s.clock.Cancel()
	return true
}

// AnswerQuestionForPlayer records an answer, overwriting any earlier one.
// Last write before round end wins; no round-state guard here, an answer
// landing after scoring sits in the next round's slot.
func (s *Session) AnswerQuestionForPlayer(userID, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[userID]
	if !ok {
		return ErrPlayerNotFound
	}
	p.currentAnswer = answer
	p.answered = true
	return nil
}

// EndQuestionRound closes the open round: scores every player against the
// correct answer (case-insensitive exact match, one point), clears all
// pending answers and returns the per-round deltas for broadcast.
func (s *Session) EndQuestionRound() (string, []PlayerDelta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActiveQuestion {
		return "", nil, ErrInvalidTransition
	}
	s.status = StatusPending
	s.clock = nil

	correct := s.questions[s.currentIndex].CorrectAnswer
	deltas := lo.MapToSlice(s.players, func(_ string, p *Player) PlayerDelta {
		points := 0
		if p.answered && strings.EqualFold(p.currentAnswer, correct) {
			points = 1
		}
		p.score += points
		p.currentAnswer = ""
		p.answered = false
		return PlayerDelta{UserID: p.UserID, Username: p.Username, Points: points}
	})
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Username < deltas[j].Username })
	return correct, deltas, nil
}

// EndGameAndGetFinalRecord seals the session and returns the final snapshot.
// Idempotent: a second call returns the same record without rescoring.
func (s *Session) EndGameAndGetFinalRecord() *FinalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalRecord != nil {
		return s.finalRecord
	}
	s.status = StatusEnded
	rec := &FinalRecord{
		RoomCode:    s.RoomCode,
		QuizID:      s.QuizID,
		HostUserID:  s.HostUserID,
		Scores:      make(map[string]int, len(s.players)),
		Usernames:   make(map[string]string, len(s.players)),
		CompletedAt: time.Now().UTC(),
	}
	for id, p := range s.players {
		rec.Scores[id] = p.score
		rec.Usernames[id] = p.Username
	}
	s.finalRecord = rec
	return rec
}

// Roster returns a stable, name-sorted copy of the current player list.
func (s *Session) Roster() []RosterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := lo.MapToSlice(s.players, func(_ string, p *Player) RosterEntry {
		return RosterEntry{UserID: p.UserID, Username: p.Username}
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Username < entries[j].Username })
	return entries
}

// Standings flattens a final record into a score-sorted leaderboard.
func Standings(rec *FinalRecord) []StandingEntry {
	entries := lo.MapToSlice(rec.Scores, func(id string, score int) StandingEntry {
		return StandingEntry{UserID: id, Username: rec.Usernames[id], Score: score}
	})
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Username < entries[j].Username
	})
	return entries
}
