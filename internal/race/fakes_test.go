package race

import (
	"context"
	"sync"
	"time"
)

// recordedEvent captures one Broadcaster delivery for assertions.
type recordedEvent struct {
	Room    string // room code, empty for direct sends
	Conn    string // connection id, empty for room broadcasts
	Event   string
	Payload any
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	events  []recordedEvent
	offline map[string]bool
	members map[string]string // conn -> room code
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{
		offline: make(map[string]bool),
		members: make(map[string]string),
	}
}

func (b *fakeBroadcaster) Subscribe(conn, code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members[conn] = code
}

func (b *fakeBroadcaster) Unsubscribe(conn string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.members, conn)
}

func (b *fakeBroadcaster) SendToRoom(code, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{Room: code, Event: event, Payload: payload})
}

func (b *fakeBroadcaster) SendToConnection(conn, event string, payload any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.offline[conn] {
		return false
	}
	b.events = append(b.events, recordedEvent{Conn: conn, Event: event, Payload: payload})
	return true
}

func (b *fakeBroadcaster) byEvent(event string) []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedEvent
	for _, ev := range b.events {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

func (b *fakeBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// fakeScheduler records deferred work; tests fire entries by hand instead
// of waiting out real timers.
type schedEntry struct {
	Delay time.Duration
	Fn    func()
}

type fakeScheduler struct {
	mu      sync.Mutex
	entries []schedEntry
}

func (s *fakeScheduler) After(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, schedEntry{Delay: d, Fn: fn})
}

func (s *fakeScheduler) take() []schedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.entries
	s.entries = nil
	return out
}

// fakeResults records the persistence handoff; saves signal on done so
// tests can wait for the fire-and-forget goroutine.
type fakeResults struct {
	mu          sync.Mutex
	matches     []MatchSummary
	leaderboard []LeaderboardEntry
	awards      []XPAward
	done        chan struct{}
}

func newFakeResults() *fakeResults {
	return &fakeResults{done: make(chan struct{}, 8)}
}

func (f *fakeResults) SaveMatch(_ context.Context, m MatchSummary) error {
	f.mu.Lock()
	f.matches = append(f.matches, m)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeResults) SaveLeaderboard(_ context.Context, entries []LeaderboardEntry) error {
	f.mu.Lock()
	f.leaderboard = append(f.leaderboard, entries...)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeResults) AwardXP(_ context.Context, awards []XPAward) error {
	f.mu.Lock()
	f.awards = append(f.awards, awards...)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeResults) wait(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case <-f.done:
		case <-deadline:
			return false
		}
	}
	return true
}
