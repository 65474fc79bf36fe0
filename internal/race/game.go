package race

import (
	"context"
	"time"
)

// --- Start & rematch ------------------------------------------------------

func (e *Engine) StartGame(code, conn string) error {
	var err error
	e.call(func() { err = e.handleStart(code, conn) })
	return err
}

func (e *Engine) handleStart(code, conn string) error {
	r, ok := e.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}
	if _, err := e.requireHost(r, conn); err != nil {
		return err
	}
	if !r.StartedAt.IsZero() || r.Status != StatusLobby {
		return ErrAlreadyStarted
	}
	e.beginRace(r)
	return nil
}

func (e *Engine) Rematch(code, conn string) error {
	var err error
	e.call(func() { err = e.handleRematch(code, conn) })
	return err
}

func (e *Engine) handleRematch(code, conn string) error {
	r, ok := e.store.Get(code)
	if !ok {
		return ErrRoomNotFound
	}
	if _, err := e.requireHost(r, conn); err != nil {
		return err
	}
	if r.Status != StatusResults {
		return ErrInvalidState
	}

	// Re-derive the prompt from the stored source mode. Custom text is
	// reused verbatim; generated prompts are rolled fresh.
	r.Prompt, r.Source = resolvePrompt(Settings{
		Difficulty: r.Difficulty,
		WordCount:  r.WordCount,
		CustomText: r.CustomText,
	}, r.Has(ModSprint), e.rng)

	e.beginRace(r)
	return nil
}

// beginRace moves the room into the race state, resets every player's
// transient race fields and schedules the hard stop. Zen races get an
// effectively unbounded end and no hard stop at all.
func (e *Engine) beginRace(r *Room) {
	now := e.now()
	r.Status = StatusRace
	r.StartedAt = now
	if r.Has(ModZen) {
		r.EndsAt = now.Add(zenHorizon)
	} else {
		r.EndsAt = now.Add(time.Duration(r.TimeLimit) * time.Second)
	}
	r.raceSeq++
	seq := r.raceSeq

	for _, p := range r.Players() {
		p.resetForRace()
	}

	e.log.Info("race started", "code", r.Code, "ends_at", r.EndsAt, "modifiers", r.Modifiers)
	e.bcast.SendToRoom(r.Code, EventGameStarted, GameStartedPayload{
		StartedAt: r.StartedAt.UnixMilli(),
		EndsAt:    r.EndsAt.UnixMilli(),
		Text:      r.Prompt,
		Modifiers: r.Modifiers,
		TeamMode:  r.Has(ModTeamMode),
	})
	e.broadcastState(r)

	if r.Has(ModZen) {
		return
	}
	// Hard stop a little after the nominal limit; clients report their own
	// completion slightly late and all-finished should win the common case.
	stop := time.Duration(r.TimeLimit)*time.Second + e.cfg.HardStopSkew
	code := r.Code
	e.schedule(stop, func() {
		r, ok := e.store.Get(code)
		if !ok || r.Status != StatusRace || r.raceSeq != seq {
			return
		}
		e.endRace(r, ReasonTime)
	})
}

// --- Progress updates -----------------------------------------------------

// Progress processes one typed-text report. It is deliberately silent:
// missing rooms, unknown players, spectators and races that have not
// started are ignored rather than errored, and throttled updates are
// accepted without recomputation.
func (e *Engine) Progress(code, conn, typed string, clientElapsedMs int64, t Telemetry) {
	e.call(func() { e.handleProgress(code, conn, typed, clientElapsedMs, t) })
}

func (e *Engine) handleProgress(code, conn, typed string, clientElapsedMs int64, t Telemetry) {
	r, ok := e.store.Get(code)
	if !ok {
		return
	}
	p, ok := r.player(conn)
	if !ok || p.Role == RoleSpectator || r.Status != StatusRace {
		return
	}
	now := e.now()
	if !p.limiter.AllowN(now, 1) {
		return
	}

	// Server-anchored elapsed time: the client's clock only counts if it
	// agrees with ours within tolerance.
	elapsed := now.Sub(r.StartedAt)
	if client := time.Duration(clientElapsedMs) * time.Millisecond; absDuration(elapsed-client) <= e.cfg.ClockTolerance {
		elapsed = client
	}
	elapsedSeconds := elapsed.Seconds()

	if r.Has(ModSuddenDeath) {
		p.Mistakes = mistakeCount(typed, r.Prompt)
		if p.Mistakes >= r.SuddenDeathLimit {
			e.eliminate(r, p)
			return
		}
	}

	correct := correctChars(typed, r.Prompt)
	wpm := computeWPM(correct, elapsedSeconds)
	p.WPM = wpm
	p.Accuracy = computeAccuracy(correct, len(typed))
	if progress := computeProgress(len(typed), len(r.Prompt)); progress > p.Progress {
		p.Progress = progress
	}

	if !p.Finished && p.Progress >= 100 {
		p.Finished = true
		p.FinishedAt = now
		p.FinishTime = max(e.cfg.MinFinishSeconds, elapsedSeconds)
	}

	// One WPM-history point per distinct second, last writer wins.
	sec := int(elapsedSeconds)
	if n := len(p.History); n > 0 && p.History[n-1].Seconds == sec {
		p.History[n-1].WPM = wpm
	} else if sec != p.lastSecond {
		p.History = append(p.History, WPMSample{Seconds: sec, WPM: wpm})
	}
	p.lastSecond = sec

	if e.checkCheat(r, p, wpm, t) {
		return
	}

	e.bcast.SendToRoom(r.Code, EventWPMUpdate, WPMUpdatePayload{
		PlayerID: conn, WPM: wpm, TimeSeconds: sec,
	})
	e.broadcastState(r)

	if r.allRacersFinished() {
		e.endRace(r, ReasonAllFinished)
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// checkCheat runs the heuristics on an accepted update. Only the
// verified-to-suspicious transition is actionable, so repeat offenders are
// not ejected (or warned) twice. The host is flagged but never removed.
// Reports true when the player was removed from the room.
func (e *Engine) checkCheat(r *Room, p *Player, wpm int, t Telemetry) bool {
	if p.CheatStatus != CheatVerified || !e.cfg.AntiCheat.Suspicious(wpm, t) {
		return false
	}
	p.CheatStatus = CheatSuspicious
	e.log.Warn("cheat heuristic tripped", "code", r.Code, "conn", p.Conn, "wpm", wpm, "paste", t.PasteEvents)

	if p.Conn == r.HostConn {
		e.systemChat(r, p.Name+" triggered the anti-cheat check")
		e.broadcastState(r)
		return false
	}

	e.bcast.SendToConnection(p.Conn, EventPlayerKicked, KickedPayload{Reason: "suspected-cheating"})
	e.systemChat(r, p.Name+" was removed: suspected cheating")
	e.removeAndRebalance(r, p.Conn, true)
	return true
}

// eliminate ejects a player who hit the sudden-death mistake limit.
func (e *Engine) eliminate(r *Room, p *Player) {
	e.log.Info("player eliminated", "code", r.Code, "conn", p.Conn, "mistakes", p.Mistakes)
	e.bcast.SendToConnection(p.Conn, EventPlayerEliminated, KickedPayload{Reason: "sudden-death"})
	e.systemChat(r, p.Name+" was eliminated")
	e.removeAndRebalance(r, p.Conn, true)
}

// --- Race end & persistence handoff ---------------------------------------

func (e *Engine) endRace(r *Room, reason string) {
	if r.Status != StatusRace {
		return
	}
	r.Status = StatusResults
	endedAt := e.now()

	results := rankPlayers(r.Players())
	payload := GameEndedPayload{Reason: reason, Results: results}
	if len(results) > 0 {
		payload.Winner = results[0].ID
	}
	if r.Has(ModTeamMode) {
		payload.TeamResults, payload.WinningTeam = teamOutcome(results)
	}

	e.log.Info("race ended", "code", r.Code, "reason", reason, "players", len(results))
	e.bcast.SendToRoom(r.Code, EventGameEnded, payload)
	e.broadcastState(r)

	e.persistResults(r, reason, endedAt, results)

	// Results rooms expire; the guard lets a rematch win the timer.
	seq := r.raceSeq
	code := r.Code
	e.schedule(e.cfg.ResultsTTL, func() {
		r, ok := e.store.Get(code)
		if !ok || r.Status != StatusResults || r.raceSeq != seq {
			return
		}
		e.deleteRoom(r, true)
	})
}

// persistResults hands the finished match to the durable store without
// blocking the coordinator. Failures are logged, not retried, and never
// roll back the in-memory transition.
func (e *Engine) persistResults(r *Room, reason string, endedAt time.Time, results []PlayerResult) {
	if e.results == nil {
		return
	}

	summary := MatchSummary{
		RoomCode:   r.Code,
		Source:     r.Source,
		Difficulty: r.Difficulty,
		TimeLimit:  r.TimeLimit,
		Modifiers:  r.Modifiers,
		Reason:     reason,
		StartedAt:  r.StartedAt,
		EndedAt:    endedAt,
		Players:    results,
	}

	var entries []LeaderboardEntry
	var awards []XPAward
	for _, res := range results {
		if !res.Finished {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			UserID:   res.UserID,
			Name:     res.Name,
			WPM:      res.WPM,
			Accuracy: res.Accuracy,
			Mode:     "multiplayer",
		})
		awards = append(awards, XPAward{
			UserID:   res.UserID,
			Rank:     res.Rank,
			WPM:      res.WPM,
			Accuracy: res.Accuracy,
		})
	}

	store, logger, code := e.results, e.log, r.Code
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := store.SaveMatch(ctx, summary); err != nil {
			logger.Error("persisting match failed", "code", code, "error", err)
		}
		if err := store.SaveLeaderboard(ctx, entries); err != nil {
			logger.Error("persisting leaderboard failed", "code", code, "error", err)
		}
		if err := store.AwardXP(ctx, awards); err != nil {
			logger.Error("awarding xp failed", "code", code, "error", err)
		}
	}()
}
