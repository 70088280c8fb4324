package game

import (
	"time"
)

type Status string

const (
	StatusPending        Status = "Pending"
	StatusActiveQuestion Status = "ActiveQuestion"
	StatusEnded          Status = "Ended"
)

// Question is the internal form, correct answer included. It never leaves
// the engine; clients only ever see a QuestionView.
type Question struct {
	Prompt        string   `json:"prompt"`
	CorrectAnswer string   `json:"correctAnswer"`
	Distractors   []string `json:"distractors"`
}

// QuestionView is the player-facing question: all four options shuffled,
// nothing marking which one is correct.
type QuestionView struct {
	Index   int      `json:"index"`
	Total   int      `json:"total"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

type Quiz struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Questions []Question `json:"questions"`
}

// FinalRecord is the snapshot persisted and broadcast when a game ends.
type FinalRecord struct {
	RoomCode    string            `json:"roomCode"`
	QuizID      string            `json:"quizId"`
	HostUserID  string            `json:"hostUserId"`
	Scores      map[string]int    `json:"scores"` // userID -> cumulative points
	Usernames   map[string]string `json:"usernames"`
	CompletedAt time.Time         `json:"completedAt"`
}

// Broadcast event names pushed through the Broadcaster.
const (
	EventLobbyDetails = "game:lobby"
	EventRoster       = "game:roster"
	EventStarted      = "game:started"
	EventQuestion     = "game:question"
	EventRoundResults = "game:roundResults"
	EventEnded        = "game:ended"
	EventError        = "error"
)

type LobbyDetailsPayload struct {
	RoomCode     string        `json:"roomCode"`
	QuizName     string        `json:"quizName"`
	HostUsername string        `json:"hostUsername"`
	Players      []RosterEntry `json:"players"`
}

type RosterEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type RosterPayload struct {
	RoomCode string        `json:"roomCode"`
	Players  []RosterEntry `json:"players"`
}

type StartedPayload struct {
	RoomCode      string `json:"roomCode"`
	QuestionCount int    `json:"questionCount"`
}

type QuestionPayload struct {
	RoomCode      string       `json:"roomCode"`
	Question      QuestionView `json:"question"`
	WindowSeconds int          `json:"windowSeconds"`
}

type RoundResultsPayload struct {
	RoomCode      string        `json:"roomCode"`
	QuestionIndex int           `json:"questionIndex"`
	CorrectAnswer string        `json:"correctAnswer"`
	Deltas        []PlayerDelta `json:"deltas"`
}

// PlayerDelta is one player's outcome for a single round, not their total.
type PlayerDelta struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}

type EndedPayload struct {
	RoomCode    string          `json:"roomCode"`
	Standings   []StandingEntry `json:"standings"`
	CompletedAt time.Time       `json:"completedAt"`
}

type StandingEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
