// Package race implements the real-time multiplayer race coordinator:
// room lifecycle and host authority, progress scoring, anti-cheat
// heuristics, modifier rules and the persistence handoff. Rooms are
// ephemeral and memory-resident; a room lives on exactly one process.
package race

import (
	"time"

	"golang.org/x/time/rate"
)

type Status string

const (
	StatusLobby   Status = "lobby"
	StatusRace    Status = "race"
	StatusResults Status = "results"
)

type Role string

const (
	RoleHost      Role = "host"
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

type Team string

const (
	TeamRed  Team = "red"
	TeamBlue Team = "blue"
	TeamNone Team = ""
)

type Modifier string

const (
	ModNoBackspace Modifier = "no-backspace"
	ModBlind       Modifier = "blind"
	ModZen         Modifier = "zen"
	ModSuddenDeath Modifier = "sudden-death"
	ModSprint      Modifier = "sprint"
	ModTeamMode    Modifier = "team-mode"
)

func validModifier(m Modifier) bool {
	switch m {
	case ModNoBackspace, ModBlind, ModZen, ModSuddenDeath, ModSprint, ModTeamMode:
		return true
	}
	return false
}

// SourceMode records how the prompt was derived, for rematch fidelity.
type SourceMode string

const (
	SourceDifficulty SourceMode = "difficulty"
	SourceWordCount  SourceMode = "words"
	SourceCustom     SourceMode = "custom"
)

type CheatStatus string

const (
	CheatVerified   CheatStatus = "verified"
	CheatSuspicious CheatStatus = "suspicious"
)

// Settings is the host-editable room configuration. Difficulty, word count
// and custom text are mutually exclusive prompt sources; custom wins if
// valid, then word count, then difficulty.
type Settings struct {
	Difficulty       string     `json:"difficulty"`
	WordCount        int        `json:"wordCount"`
	CustomText       string     `json:"customText"`
	TimeLimit        int        `json:"timeLimit"`
	Modifiers        []Modifier `json:"modifiers"`
	SuddenDeathLimit int        `json:"suddenDeathLimit"`
}

// Telemetry accompanies a progress update and feeds the anti-cheat
// heuristics. Keystroke timestamps are client wall-clock milliseconds.
type Telemetry struct {
	KeystrokeTimestamps []int64 `json:"keystrokeTimestamps"`
	PasteEvents         int     `json:"pasteEvents"`
}

type WPMSample struct {
	Seconds int `json:"time"`
	WPM     int `json:"wpm"`
}

type ChatMessage struct {
	From   string `json:"from"`
	Name   string `json:"name"`
	Text   string `json:"text"`
	At     int64  `json:"at"`
	System bool   `json:"system,omitempty"`
}

// Player is one connected participant. The connection id is its identity;
// the user id, when present, survives reconnection.
type Player struct {
	Conn string
	User string
	Name string
	Role Role
	Team Team

	Progress   int
	WPM        int
	Accuracy   int
	Finished   bool
	FinishedAt time.Time
	FinishTime float64
	History    []WPMSample

	CheatStatus CheatStatus
	Mistakes    int

	// limiter throttles progress recomputation; it lives on the player so
	// it is swept with the roster and cannot outlive the connection.
	limiter    *rate.Limiter
	lastSecond int
}

func (p *Player) resetForRace() {
	p.Progress = 0
	p.WPM = 0
	p.Accuracy = 0
	p.Finished = false
	p.FinishedAt = time.Time{}
	p.FinishTime = 0
	p.History = nil
	p.Mistakes = 0
	p.lastSecond = -1
}

// Room is one isolated race instance identified by a short code. All
// mutation happens on the coordinator loop; nothing here locks.
type Room struct {
	Code             string
	Prompt           string
	Source           SourceMode
	Difficulty       string
	WordCount        int
	CustomText       string
	TimeLimit        int
	Modifiers        []Modifier
	SuddenDeathLimit int
	Locked           bool
	Status           Status
	StartedAt        time.Time
	EndsAt           time.Time
	HostConn         string
	HostUser         string

	players map[string]*Player
	order   []string // join order, drives host migration
	chat    []ChatMessage
	typing  map[string]time.Time // conn -> indicator deadline

	// raceSeq increments on every start/rematch so stale deferred timers
	// can recognize they fired for a previous race.
	raceSeq int
}

const chatLogCap = 200

func (r *Room) Has(m Modifier) bool {
	for _, mod := range r.Modifiers {
		if mod == m {
			return true
		}
	}
	return false
}

func (r *Room) player(conn string) (*Player, bool) {
	p, ok := r.players[conn]
	return p, ok
}

// Players returns the roster in join order.
func (r *Room) Players() []*Player {
	out := make([]*Player, 0, len(r.order))
	for _, conn := range r.order {
		if p, ok := r.players[conn]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) racers() []*Player {
	var out []*Player
	for _, p := range r.Players() {
		if p.Role != RoleSpectator {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) addPlayer(p *Player) {
	r.players[p.Conn] = p
	r.order = append(r.order, p.Conn)
}

func (r *Room) removePlayer(conn string) {
	delete(r.players, conn)
	delete(r.typing, conn)
	for i, c := range r.order {
		if c == conn {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Room) appendChat(msg ChatMessage) {
	r.chat = append(r.chat, msg)
	if len(r.chat) > chatLogCap {
		r.chat = r.chat[len(r.chat)-chatLogCap:]
	}
}

func (r *Room) allRacersFinished() bool {
	racers := r.racers()
	if len(racers) == 0 {
		return false
	}
	for _, p := range racers {
		if !p.Finished {
			return false
		}
	}
	return true
}
