package race

import (
	"context"
	"time"
)

// Broadcaster delivers events to connections. The engine depends only on
// this capability, never on a transport library. SendToConnection reports
// whether the target connection is currently online. Subscribe and
// Unsubscribe keep the transport's room fanout in step with the roster;
// the engine is the single source of truth for membership.
type Broadcaster interface {
	SendToRoom(code, event string, payload any)
	SendToConnection(conn, event string, payload any) bool
	Subscribe(conn, code string)
	Unsubscribe(conn string)
}

// Scheduler defers work. Production schedules back onto the coordinator
// loop; tests substitute a virtual clock. Callbacks must tolerate the room
// having been deleted or progressed past the expected state by the time
// they fire.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// TimerScheduler is the production Scheduler, backed by the runtime timer
// heap. Timers are not cancelled on shutdown; callbacks post onto the
// coordinator loop and go nowhere once it stops draining.
type TimerScheduler struct{}

func (TimerScheduler) After(d time.Duration, fn func()) { time.AfterFunc(d, fn) }

// RoomStore is the injectable registry of live rooms. The coordinator loop
// is the only caller, so implementations need no locking of their own.
type RoomStore interface {
	Get(code string) (*Room, bool)
	Put(r *Room)
	Delete(code string)
	List() []*Room
	Exists(code string) bool
}

// MemoryStore is the process-wide in-memory room registry.
type MemoryStore struct {
	rooms map[string]*Room
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*Room)}
}

func (s *MemoryStore) Get(code string) (*Room, bool) {
	r, ok := s.rooms[code]
	return r, ok
}

func (s *MemoryStore) Put(r *Room) { s.rooms[r.Code] = r }

func (s *MemoryStore) Delete(code string) { delete(s.rooms, code) }

func (s *MemoryStore) Exists(code string) bool {
	_, ok := s.rooms[code]
	return ok
}

func (s *MemoryStore) List() []*Room {
	out := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	return out
}

// MatchSummary is what survives a race: written once when the room enters
// results.
type MatchSummary struct {
	RoomCode   string
	Source     SourceMode
	Difficulty string
	TimeLimit  int
	Modifiers  []Modifier
	Reason     string
	StartedAt  time.Time
	EndedAt    time.Time
	Players    []PlayerResult
}

type LeaderboardEntry struct {
	UserID   string
	Name     string
	WPM      int
	Accuracy int
	Mode     string
}

type XPAward struct {
	UserID   string
	Rank     int
	WPM      int
	Accuracy int
}

// ResultStore is the durable boundary. Failures are logged and swallowed;
// the in-memory results transition never rolls back.
type ResultStore interface {
	SaveMatch(ctx context.Context, m MatchSummary) error
	SaveLeaderboard(ctx context.Context, entries []LeaderboardEntry) error
	AwardXP(ctx context.Context, awards []XPAward) error
}
