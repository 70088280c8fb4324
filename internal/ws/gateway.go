package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/quizwire/quizwire/internal/game"
)

// ConnCtx is the per-connection context the gateway hangs on each socket.
type ConnCtx struct {
	Code   string
	UserID string
	Role   string // "host" | "player"
}

// Gateway turns inbound socket.io calls into engine calls and implements
// game.Broadcaster on top of socket.io rooms.
type Gateway struct {
	manager *game.Manager
	io      *socketio.Server
	baseCtx context.Context // outlives individual requests; round loops hang off it

	mu      sync.RWMutex
	members map[string]socketio.Conn // socketID -> Conn
}

func New(ctx context.Context) *Gateway {
	return &Gateway{baseCtx: ctx, members: make(map[string]socketio.Conn)}
}

// SetManager wires the engine in after construction; the manager needs the
// gateway as its Broadcaster first.
func (g *Gateway) SetManager(m *game.Manager) { g.manager = m }

// SendToRoom implements game.Broadcaster over socket.io room broadcast.
func (g *Gateway) SendToRoom(roomCode, event string, payload any) {
	if g.io == nil {
		return
	}
	g.io.BroadcastToRoom("/", roomCode, event, payload)
}

// SendToConnection implements the per-connection half of game.Broadcaster.
func (g *Gateway) SendToConnection(connectionID, event string, payload any) {
	g.mu.RLock()
	c := g.members[connectionID]
	g.mu.RUnlock()
	if c != nil {
		c.Emit(event, payload)
	}
}

// Mount attaches the Socket.IO server with all game handlers to the given
// Gin engine.
func (g *Gateway) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)
	g.io = io

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		g.addMember(s)
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	// game:create — host creates a room from a stored quiz and joins it.
	io.OnEvent("/", "game:create", func(s socketio.Conn, payload struct {
		QuizID   string `json:"quizId"`
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}) map[string]any {
		code, err := g.manager.CreateGame(g.baseCtx, payload.QuizID, payload.UserID, payload.Username)
		if err != nil {
			return g.err(s, errorCode(err), err.Error())
		}
		s.SetContext(&ConnCtx{Code: code, UserID: payload.UserID, Role: "host"})
		s.Join(code)
		g.manager.TryAddPlayerToGame(code, payload.UserID, payload.Username, s.ID())
		log.Info().Str("sid", s.ID()).Str("code", code).Msg("game:create")
		return map[string]any{"roomCode": code}
	})

	// game:join — player (or returning host) enters a room by code.
	io.OnEvent("/", "game:join", func(s socketio.Conn, payload struct {
		RoomCode string `json:"roomCode"`
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}) map[string]any {
		if !g.manager.TryAddPlayerToGame(payload.RoomCode, payload.UserID, payload.Username, s.ID()) {
			return g.err(s, "join_rejected", "Room not found or already started")
		}
		sess, err := g.manager.GetSession(payload.RoomCode)
		if err != nil {
			return g.err(s, "session_not_found", "Session not found")
		}
		role := "player"
		if sess.IsHost(payload.UserID) {
			role = "host"
		}
		s.SetContext(&ConnCtx{Code: sess.RoomCode, UserID: payload.UserID, Role: role})
		s.Join(sess.RoomCode)
		log.Info().Str("sid", s.ID()).Str("code", sess.RoomCode).Str("userId", payload.UserID).Msg("game:join")
		return map[string]any{"roomCode": sess.RoomCode, "role": role}
	})

	// game:start — host announces the game; clients navigate first, the
	// round loop fires separately via game:beginRounds.
	io.OnEvent("/", "game:start", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if err := g.manager.StartGame(ctx.Code, ctx.UserID); err != nil {
			return g.err(s, errorCode(err), err.Error())
		}
		log.Info().Str("code", ctx.Code).Msg("game:start")
		return map[string]any{"ok": true}
	})

	// game:beginRounds — host kicks off the background round loop.
	io.OnEvent("/", "game:beginRounds", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if err := g.manager.TriggerRoundLoop(g.baseCtx, ctx.Code, ctx.UserID); err != nil {
			return g.err(s, errorCode(err), err.Error())
		}
		log.Info().Str("code", ctx.Code).Msg("game:beginRounds")
		return map[string]any{"ok": true}
	})

	// game:answer — best effort, never errors back.
	io.OnEvent("/", "game:answer", func(s socketio.Conn, payload struct {
		Answer string `json:"answer"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		g.manager.SubmitAnswer(ctx.Code, ctx.UserID, payload.Answer)
		return map[string]any{"ok": true}
	})

	// game:skip — host shortens the current answer window.
	io.OnEvent("/", "game:skip", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if err := g.manager.SkipQuestion(ctx.Code, ctx.UserID); err != nil {
			return g.err(s, errorCode(err), err.Error())
		}
		return map[string]any{"ok": true}
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})

	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		g.removeMember(s)
		g.manager.RemovePlayer(s.ID())
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go io.Serve()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// Basic CORS preflight for Socket.IO POST
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

func (g *Gateway) addMember(c socketio.Conn) {
	g.mu.Lock()
	g.members[c.ID()] = c
	g.mu.Unlock()
}

func (g *Gateway) removeMember(c socketio.Conn) {
	g.mu.Lock()
	delete(g.members, c.ID())
	g.mu.Unlock()
}

func (g *Gateway) err(s socketio.Conn, code, message string) map[string]any {
	s.Emit(game.EventError, game.ErrorPayload{Code: code, Message: message})
	return map[string]any{"error": message}
}

// errorCode translates engine sentinels into client-facing error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, game.ErrQuizNotFound):
		return "quiz_not_found"
	case errors.Is(err, game.ErrQuizEmpty):
		return "quiz_empty"
	case errors.Is(err, game.ErrNotHost):
		return "forbidden"
	case errors.Is(err, game.ErrAlreadyStarted):
		return "already_started"
	case errors.Is(err, game.ErrInvalidTransition), errors.Is(err, game.ErrNoMoreQuestions):
		return "invalid_state"
	default:
		return "internal"
	}
}
