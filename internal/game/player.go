package game

// Player is the per-room state for one participant. UserID and Username are
// fixed for the room's lifetime; ConnectionID is overwritten on reconnect and
// left stale on disconnect so a returning player keeps their score.
type Player struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	ConnectionID string `json:"-"`

	currentAnswer string
	answered      bool
	score         int
}

func (p *Player) Score() int { return p.score }
