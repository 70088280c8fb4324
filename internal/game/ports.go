package game

import (
	"context"
	"time"
)

// QuizLookup resolves quiz content at game creation. The returned question
// list is frozen at call time; later edits to the quiz do not reach a
// running game.
type QuizLookup interface {
	GetQuizWithQuestions(ctx context.Context, quizID string) (*Quiz, error)
}

// Persistence records completed games. CreateGameRecord is called once per
// game, then RecordPlayerScore once per player, sequentially.
type Persistence interface {
	CreateGameRecord(ctx context.Context, hostUserID, quizID string, completedAt time.Time) (recordID string, err error)
	RecordPlayerScore(ctx context.Context, recordID, userID string, score int) error
}

// Broadcaster is the grouped pub/sub the engine pushes events through. The
// engine never addresses transports directly; rooms and connections are the
// only addressing it knows.
type Broadcaster interface {
	SendToRoom(roomCode, event string, payload any)
	SendToConnection(connectionID, event string, payload any)
}
