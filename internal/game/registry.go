package game

import (
	"math/rand"
	"strings"
	"sync"
)

const (
	roomCodeLength = 6
	// No 0/O/1/I, codes get read out loud across the room.
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Registry is the process-wide map of active rooms. It owns room-code
// generation and uniqueness; a code frees up the moment its room is removed.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create mints a fresh unique room code, builds the session through the
// given constructor and inserts it atomically.
func (r *Registry) Create(build func(roomCode string) *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	code := randomCode(roomCodeLength)
	for r.sessions[code] != nil {
		code = randomCode(roomCodeLength)
	}
	s := build(code)
	r.sessions[code] = s
	return s
}

// Get looks a room up by code, case-insensitively.
func (r *Registry) Get(roomCode string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.sessions[strings.ToUpper(roomCode)]
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (r *Registry) Remove(roomCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, strings.ToUpper(roomCode))
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func randomCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))]
	}
	return string(b)
}

type binding struct {
	RoomCode string
	UserID   string
}

// ConnectionIndex maps a live connection id to the (room, user) pair it
// serves, so the disconnect path can find the right session without the
// transport knowing session internals. Rebinding under a new connection id
// just inserts a new entry; stale ones die lazily on disconnect.
type ConnectionIndex struct {
	mu       sync.Mutex
	bindings map[string]binding
}

func NewConnectionIndex() *ConnectionIndex {
	return &ConnectionIndex{bindings: make(map[string]binding)}
}

func (ci *ConnectionIndex) Bind(connectionID, roomCode, userID string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.bindings[connectionID] = binding{RoomCode: roomCode, UserID: userID}
}

// ResolveAndUnbind removes and returns the binding for a connection, if any.
func (ci *ConnectionIndex) ResolveAndUnbind(connectionID string) (roomCode, userID string, ok bool) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	b, ok := ci.bindings[connectionID]
	if !ok {
		return "", "", false
	}
	delete(ci.bindings, connectionID)
	return b.RoomCode, b.UserID, true
}
