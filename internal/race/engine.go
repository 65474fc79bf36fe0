package race

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config carries the coordinator's tunables. Anti-cheat thresholds are
// heuristic constants kept configurable on purpose.
type Config struct {
	ProgressMinInterval time.Duration
	ClockTolerance      time.Duration
	HardStopSkew        time.Duration
	ResultsTTL          time.Duration
	TypingTTL           time.Duration
	MinFinishSeconds    float64
	DefaultTimeLimit    int
	MaxTimeLimit        int
	AntiCheat           AntiCheat
}

func DefaultConfig() Config {
	return Config{
		ProgressMinInterval: 100 * time.Millisecond,
		ClockTolerance:      2 * time.Second,
		HardStopSkew:        2 * time.Second,
		ResultsTTL:          5 * time.Minute,
		TypingTTL:           3 * time.Second,
		MinFinishSeconds:    3,
		DefaultTimeLimit:    60,
		MaxTimeLimit:        300,
		AntiCheat:           DefaultAntiCheat(),
	}
}

// zenHorizon stands in for "no time limit". Far enough out that nothing
// sane compares against it.
const zenHorizon = 365 * 24 * time.Hour

// Engine is the race coordinator. Every inbound event runs to completion
// on a single loop before the next is processed, so room state needs no
// locking; deferred work re-enters through the same loop.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	store   RoomStore
	bcast   Broadcaster
	sched   Scheduler
	results ResultStore

	ops   chan func()
	conns map[string]string // connection id -> room code
	rng   *rand.Rand
	now   func() time.Time
}

func NewEngine(cfg Config, logger *slog.Logger, store RoomStore, bcast Broadcaster, sched Scheduler, results ResultStore) *Engine {
	return &Engine{
		cfg:     cfg,
		log:     logger,
		store:   store,
		bcast:   bcast,
		sched:   sched,
		results: results,
		ops:     make(chan func(), 256),
		conns:   make(map[string]string),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:     time.Now,
	}
}

// Run drains the op channel until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-e.ops:
			fn()
		}
	}
}

// call posts fn onto the coordinator loop and waits for it to complete.
func (e *Engine) call(fn func()) {
	done := make(chan struct{})
	e.ops <- func() {
		fn()
		close(done)
	}
	<-done
}

// schedule defers fn back onto the coordinator loop. The callback owns its
// own staleness guards.
func (e *Engine) schedule(d time.Duration, fn func()) {
	e.sched.After(d, func() {
		e.ops <- fn
	})
}

// --- Lifecycle & host authority -------------------------------------------

func (e *Engine) CreateRoom(conn, user, name string, s Settings) (Snapshot, error) {
	var snap Snapshot
	var err error
	e.call(func() { snap, err = e.handleCreate(conn, user, name, s) })
	return snap, err
}

func (e *Engine) handleCreate(conn, user, name string, s Settings) (Snapshot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Snapshot{}, ErrInvalidInput
	}
	if err := validateSettings(&s, e.cfg); err != nil {
		return Snapshot{}, err
	}

	// A connection belongs to at most one room.
	if code, ok := e.conns[conn]; ok {
		if r, ok := e.store.Get(code); ok {
			e.removeAndRebalance(r, conn, false)
		}
		delete(e.conns, conn)
	}

	sprint := hasModifier(s.Modifiers, ModSprint)
	prompt, source := resolvePrompt(s, sprint, e.rng)

	r := &Room{
		Code:             newRoomCode(e.rng, e.store.Exists),
		Prompt:           prompt,
		Source:           source,
		Difficulty:       s.Difficulty,
		WordCount:        s.WordCount,
		CustomText:       s.CustomText,
		TimeLimit:        s.TimeLimit,
		Modifiers:        s.Modifiers,
		SuddenDeathLimit: s.SuddenDeathLimit,
		Status:           StatusLobby,
		HostConn:         conn,
		HostUser:         user,
		players:          make(map[string]*Player),
		typing:           make(map[string]time.Time),
	}
	r.addPlayer(e.newPlayer(conn, user, name, RoleHost))
	e.store.Put(r)
	e.conns[conn] = r.Code
	e.bcast.Subscribe(conn, r.Code)

	e.log.Info("room created", "code", r.Code, "host", conn, "source", source, "modifiers", r.Modifiers)
	e.broadcastState(r)
	return r.snapshot(), nil
}

func (e *Engine) Join(code, conn, user, name string, spectator bool) (Snapshot, error) {
	var snap Snapshot
	var err error
	e.call(func() { snap, err = e.handleJoin(code, conn, user, name, spectator) })
	return snap, err
}

func (e *Engine) handleJoin(code, conn, user, name string, spectator bool) (Snapshot, error) {
	r, ok := e.store.Get(strings.ToUpper(code))
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}
	if _, member := r.player(conn); member {
		return r.snapshot(), nil
	}

	// Host authority survives reconnection: the host slot matches either
	// the original connection or the host's stable user id.
	reclaimsHost := conn == r.HostConn || (user != "" && user == r.HostUser)

	if r.Locked && !reclaimsHost {
		return Snapshot{}, ErrRoomLocked
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return Snapshot{}, ErrInvalidInput
	}

	role := RolePlayer
	switch {
	case reclaimsHost:
		role = RoleHost
		// Demote whoever inherited the slot in the meantime.
		if prev, ok := r.player(r.HostConn); ok && prev.Conn != conn {
			prev.Role = RolePlayer
		}
		r.HostConn = conn
		r.HostUser = user
	case spectator || r.Status != StatusLobby:
		// Mid-race joins watch; they race from the next rematch.
		role = RoleSpectator
	}

	r.addPlayer(e.newPlayer(conn, user, name, role))
	e.conns[conn] = r.Code
	e.bcast.Subscribe(conn, r.Code)

	e.log.Info("player joined", "code", r.Code, "conn", conn, "role", role)
	e.broadcastState(r)
	return r.snapshot(), nil
}

func (e *Engine) newPlayer(conn, user, name string, role Role) *Player {
	return &Player{
		Conn:        conn,
		User:        user,
		Name:        name,
		Role:        role,
		CheatStatus: CheatVerified,
		limiter:     rate.NewLimiter(rate.Every(e.cfg.ProgressMinInterval), 1),
		lastSecond:  -1,
	}
}

func (e *Engine) Leave(code, conn string) error {
	var err error
	e.call(func() { err = e.handleLeave(code, conn) })
	return err
}

func (e *Engine) handleLeave(code, conn string) error {
	r, ok := e.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}
	if _, ok := r.player(conn); !ok {
		return ErrPlayerNotFound
	}
	e.removeAndRebalance(r, conn, true)
	return nil
}

// Disconnect is the implicit leave; unlike Leave it never reports errors.
func (e *Engine) Disconnect(conn string) {
	e.call(func() {
		code, ok := e.conns[conn]
		if !ok {
			return
		}
		if r, ok := e.store.Get(code); ok {
			e.removeAndRebalance(r, conn, true)
		} else {
			delete(e.conns, conn)
		}
	})
}

// removeAndRebalance removes a player and restores the room invariants:
// host migration to the first remaining non-spectator, deletion when the
// roster empties or no host candidate remains, and race completion if the
// departed player was the last one still typing.
func (e *Engine) removeAndRebalance(r *Room, conn string, broadcast bool) {
	wasHost := conn == r.HostConn
	r.removePlayer(conn)
	delete(e.conns, conn)
	e.bcast.Unsubscribe(conn)

	if len(r.players) == 0 {
		e.deleteRoom(r, false)
		return
	}

	if wasHost {
		migrated := false
		for _, p := range r.Players() {
			if p.Role != RoleSpectator {
				p.Role = RoleHost
				r.HostConn = p.Conn
				r.HostUser = p.User
				migrated = true
				e.log.Info("host migrated", "code", r.Code, "host", p.Conn)
				break
			}
		}
		if !migrated {
			// Only spectators left; nobody can hold authority.
			e.deleteRoom(r, true)
			return
		}
	}

	if broadcast {
		e.broadcastState(r)
	}
	if r.Status == StatusRace && r.allRacersFinished() {
		e.endRace(r, ReasonAllFinished)
	}
}

func (e *Engine) deleteRoom(r *Room, notify bool) {
	if notify {
		e.bcast.SendToRoom(r.Code, EventRoomClosed, map[string]string{"code": r.Code})
	}
	for _, p := range r.Players() {
		delete(e.conns, p.Conn)
		e.bcast.Unsubscribe(p.Conn)
	}
	e.store.Delete(r.Code)
	e.log.Info("room deleted", "code", r.Code)
}

func (e *Engine) UpdateSettings(code, conn string, s Settings) error {
	var err error
	e.call(func() { err = e.handleUpdateSettings(code, conn, s) })
	return err
}

func (e *Engine) handleUpdateSettings(code, conn string, s Settings) error {
	r, ok := e.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}
	if _, err := e.requireHost(r, conn); err != nil {
		return err
	}
	// Settings freeze once a race has started; rematch reuses them as-is.
	if !r.StartedAt.IsZero() {
		return ErrAlreadyStarted
	}
	if err := validateSettings(&s, e.cfg); err != nil {
		return err
	}

	r.Difficulty = s.Difficulty
	r.WordCount = s.WordCount
	r.CustomText = s.CustomText
	r.TimeLimit = s.TimeLimit
	r.Modifiers = s.Modifiers
	r.SuddenDeathLimit = s.SuddenDeathLimit
	r.Prompt, r.Source = resolvePrompt(s, r.Has(ModSprint), e.rng)

	e.broadcastState(r)
	return nil
}

func (e *Engine) SetLock(code, conn string, locked bool) error {
	var err error
	e.call(func() {
		r, ok := e.store.Get(code)
		if !ok {
			err = ErrRoomNotFound
			return
		}
		if _, err = e.requireHost(r, conn); err != nil {
			return
		}
		r.Locked = locked
		e.broadcastState(r)
	})
	return err
}

func (e *Engine) Kick(code, conn, target string) error {
	var err error
	e.call(func() { err = e.handleKick(code, conn, target) })
	return err
}

func (e *Engine) handleKick(code, conn, target string) error {
	r, ok := e.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}
	if _, err := e.requireHost(r, conn); err != nil {
		return err
	}
	if _, ok := r.player(target); !ok {
		return ErrPlayerNotFound
	}
	if target == r.HostConn {
		return ErrInvalidInput
	}
	e.bcast.SendToConnection(target, EventPlayerKicked, KickedPayload{Reason: "kicked"})
	e.removeAndRebalance(r, target, true)
	return nil
}

func (e *Engine) Promote(code, conn, target string) error {
	var err error
	e.call(func() { err = e.handlePromote(code, conn, target) })
	return err
}

func (e *Engine) handlePromote(code, conn, target string) error {
	r, ok := e.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}
	host, err := e.requireHost(r, conn)
	if err != nil {
		return err
	}
	p, ok := r.player(target)
	if !ok {
		return ErrPlayerNotFound
	}
	if target == r.HostConn || p.Role == RoleSpectator {
		return ErrInvalidInput
	}

	host.Role = RolePlayer
	p.Role = RoleHost
	r.HostConn = p.Conn
	r.HostUser = p.User
	e.broadcastState(r)
	return nil
}

func (e *Engine) SetTeam(code, conn, target string, team Team) error {
	var err error
	e.call(func() { err = e.handleSetTeam(code, conn, target, team) })
	return err
}

func (e *Engine) handleSetTeam(code, conn, target string, team Team) error {
	r, ok := e.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}
	if _, err := e.requireHost(r, conn); err != nil {
		return err
	}
	if !r.Has(ModTeamMode) {
		return ErrInvalidState
	}
	if team != TeamRed && team != TeamBlue {
		return ErrInvalidInput
	}
	p, ok := r.player(target)
	if !ok {
		return ErrPlayerNotFound
	}
	if p.Role == RoleSpectator {
		return ErrInvalidInput
	}
	p.Team = team
	e.broadcastState(r)
	return nil
}

func (e *Engine) SetSuddenDeathLimit(code, conn string, limit int) error {
	var err error
	e.call(func() {
		r, ok := e.store.Get(code)
		if !ok {
			err = ErrRoomNotFound
			return
		}
		if _, err = e.requireHost(r, conn); err != nil {
			return
		}
		if limit < 1 || limit > 10 {
			err = ErrInvalidInput
			return
		}
		r.SuddenDeathLimit = limit
		e.broadcastState(r)
	})
	return err
}

func (e *Engine) Invite(code, conn, friend string) error {
	var err error
	e.call(func() {
		r, ok := e.store.Get(code)
		if !ok {
			err = ErrRoomNotFound
			return
		}
		host, herr := e.requireHost(r, conn)
		if herr != nil {
			err = herr
			return
		}
		delivered := e.bcast.SendToConnection(friend, EventRoomInvite, InvitePayload{
			Code: r.Code,
			From: host.Name,
		})
		if !delivered {
			err = ErrTargetOffline
		}
	})
	return err
}

// --- Chat & typing indicators ---------------------------------------------

func (e *Engine) Chat(code, conn, text string) error {
	var err error
	e.call(func() { err = e.handleChat(code, conn, text) })
	return err
}

const chatMessageMax = 500

func (e *Engine) handleChat(code, conn, text string) error {
	r, ok := e.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}
	p, ok := r.player(conn)
	if !ok {
		return ErrPlayerNotFound
	}
	text = strings.TrimSpace(text)
	if text == "" || len(text) > chatMessageMax {
		return ErrInvalidInput
	}

	msg := ChatMessage{From: conn, Name: p.Name, Text: text, At: e.now().UnixMilli()}
	r.appendChat(msg)
	delete(r.typing, conn)
	e.bcast.SendToRoom(r.Code, EventChatMessage, msg)
	return nil
}

func (e *Engine) systemChat(r *Room, text string) {
	msg := ChatMessage{Name: "system", Text: text, At: e.now().UnixMilli(), System: true}
	r.appendChat(msg)
	e.bcast.SendToRoom(r.Code, EventChatMessage, msg)
}

// Typing marks the sender in the room's transient typing-indicator set and
// schedules its expiry.
func (e *Engine) Typing(code, conn string) {
	e.call(func() {
		r, ok := e.store.Get(code)
		if !ok {
			return
		}
		if _, ok := r.player(conn); !ok {
			return
		}
		deadline := e.now().Add(e.cfg.TypingTTL)
		r.typing[conn] = deadline
		e.broadcastState(r)
		e.schedule(e.cfg.TypingTTL, func() {
			r, ok := e.store.Get(code)
			if !ok {
				return
			}
			if d, ok := r.typing[conn]; ok && !e.now().Before(d) {
				delete(r.typing, conn)
				e.broadcastState(r)
			}
		})
	})
}

// --- Read-side queries ----------------------------------------------------

// RoomInfo is the REST-facing room summary.
type RoomInfo struct {
	Code      string     `json:"code"`
	Status    Status     `json:"status"`
	Locked    bool       `json:"locked"`
	Players   int        `json:"players"`
	TimeLimit int        `json:"timeLimit"`
	Modifiers []Modifier `json:"modifiers"`
}

// ListOpenRooms returns joinable rooms: in lobby and unlocked.
func (e *Engine) ListOpenRooms() []RoomInfo {
	var out []RoomInfo
	e.call(func() {
		for _, r := range e.store.List() {
			if r.Status != StatusLobby || r.Locked {
				continue
			}
			out = append(out, e.roomInfo(r))
		}
	})
	return out
}

func (e *Engine) LookupRoom(code string) (RoomInfo, bool) {
	var info RoomInfo
	var ok bool
	e.call(func() {
		var r *Room
		if r, ok = e.store.Get(code); ok {
			info = e.roomInfo(r)
		}
	})
	return info, ok
}

func (e *Engine) roomInfo(r *Room) RoomInfo {
	return RoomInfo{
		Code:      r.Code,
		Status:    r.Status,
		Locked:    r.Locked,
		Players:   len(r.players),
		TimeLimit: r.TimeLimit,
		Modifiers: r.Modifiers,
	}
}

// --- Shared helpers -------------------------------------------------------

func (e *Engine) requireHost(r *Room, conn string) (*Player, error) {
	p, ok := r.player(conn)
	if !ok {
		return nil, ErrPlayerNotFound
	}
	if conn != r.HostConn {
		return nil, ErrNotHost
	}
	return p, nil
}

func (e *Engine) broadcastState(r *Room) {
	e.bcast.SendToRoom(r.Code, EventRoomState, r.snapshot())
}

func hasModifier(mods []Modifier, m Modifier) bool {
	for _, mod := range mods {
		if mod == m {
			return true
		}
	}
	return false
}

func validateSettings(s *Settings, cfg Config) error {
	for _, m := range s.Modifiers {
		if !validModifier(m) {
			return ErrInvalidInput
		}
	}
	if s.TimeLimit == 0 {
		s.TimeLimit = cfg.DefaultTimeLimit
	}
	if s.TimeLimit < 0 || s.TimeLimit > cfg.MaxTimeLimit {
		return ErrInvalidInput
	}
	if s.SuddenDeathLimit == 0 {
		s.SuddenDeathLimit = 1
	}
	if s.SuddenDeathLimit < 1 || s.SuddenDeathLimit > 10 {
		return ErrInvalidInput
	}
	if s.Difficulty == "" {
		s.Difficulty = "medium"
	}
	if _, ok := wordPools[s.Difficulty]; !ok {
		return ErrInvalidInput
	}
	return nil
}
