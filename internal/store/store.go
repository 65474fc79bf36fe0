// Package store persists finished races to SQLite. Writes happen off the
// coordinator loop; a failed write loses that record and nothing else.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/keyrace/api/internal/race"
)

type SQLiteStore struct {
	db *sql.DB
}

func New(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) SaveMatch(ctx context.Context, m race.MatchSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	mods := make([]string, len(m.Modifiers))
	for i, mod := range m.Modifiers {
		mods[i] = string(mod)
	}

	var matchID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO matches (room_code, source, difficulty, time_limit, modifiers, reason, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, m.RoomCode, string(m.Source), m.Difficulty, m.TimeLimit, strings.Join(mods, ","),
		m.Reason, m.StartedAt, m.EndedAt).Scan(&matchID)
	if err != nil {
		return fmt.Errorf("inserting match: %w", err)
	}

	for _, p := range m.Players {
		var finishTime any
		if p.Finished {
			finishTime = p.FinishTime
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO match_players (match_id, user_id, name, team, rank, wpm, accuracy, finished, finish_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, matchID, p.UserID, p.Name, string(p.Team), p.Rank, p.WPM, p.Accuracy, boolToInt(p.Finished), finishTime)
		if err != nil {
			return fmt.Errorf("inserting match player: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) SaveLeaderboard(ctx context.Context, entries []race.LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO leaderboard_entries (user_id, name, wpm, accuracy, mode)
			VALUES (?, ?, ?, ?, ?)
		`, e.UserID, e.Name, e.WPM, e.Accuracy, e.Mode)
		if err != nil {
			return fmt.Errorf("inserting leaderboard entry: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) AwardXP(ctx context.Context, awards []race.XPAward) error {
	if len(awards) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	for _, a := range awards {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO xp_awards (user_id, amount, rank)
			VALUES (?, ?, ?)
		`, a.UserID, xpFor(a), a.Rank)
		if err != nil {
			return fmt.Errorf("inserting xp award: %w", err)
		}
	}

	return tx.Commit()
}

// Top three placements earn a bonus on top of the per-race base.
func xpFor(a race.XPAward) int {
	xp := 50 + a.WPM/2
	switch a.Rank {
	case 1:
		xp += 100
	case 2:
		xp += 50
	case 3:
		xp += 25
	}
	return xp
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
