package race

import (
	"math"
	"sort"
)

// correctChars counts positions where the typed text matches the prompt,
// up to the shorter of the two.
func correctChars(typed, prompt string) int {
	n := 0
	for i := 0; i < len(typed) && i < len(prompt); i++ {
		if typed[i] == prompt[i] {
			n++
		}
	}
	return n
}

// mistakeCount is the sudden-death metric: mismatched positions plus any
// overflow typed beyond the prompt.
func mistakeCount(typed, prompt string) int {
	n := 0
	for i := 0; i < len(typed) && i < len(prompt); i++ {
		if typed[i] != prompt[i] {
			n++
		}
	}
	if len(typed) > len(prompt) {
		n += len(typed) - len(prompt)
	}
	return n
}

// computeWPM uses the standard 5-chars-per-word convention.
func computeWPM(correct int, elapsedSeconds float64) int {
	if elapsedSeconds <= 0 {
		return 0
	}
	return int(math.Round((float64(correct) / 5) / (elapsedSeconds / 60)))
}

func computeAccuracy(correct, typedLen int) int {
	if typedLen < 1 {
		typedLen = 1
	}
	return int(math.Round(float64(correct) / float64(typedLen) * 100))
}

func computeProgress(typedLen, promptLen int) int {
	if promptLen == 0 {
		return 0
	}
	if typedLen > promptLen {
		typedLen = promptLen
	}
	p := int(math.Round(float64(typedLen) / float64(promptLen) * 100))
	if p > 100 {
		p = 100
	}
	return p
}

// rankPlayers orders non-spectator players by WPM desc, accuracy desc,
// finish time asc (unfinished rank last among ties) and assigns ranks
// starting at 1.
func rankPlayers(players []*Player) []PlayerResult {
	racers := make([]*Player, 0, len(players))
	for _, p := range players {
		if p.Role != RoleSpectator {
			racers = append(racers, p)
		}
	}

	sort.SliceStable(racers, func(i, j int) bool {
		a, b := racers[i], racers[j]
		if a.WPM != b.WPM {
			return a.WPM > b.WPM
		}
		if a.Accuracy != b.Accuracy {
			return a.Accuracy > b.Accuracy
		}
		return finishOrInf(a) < finishOrInf(b)
	})

	results := make([]PlayerResult, 0, len(racers))
	for i, p := range racers {
		results = append(results, PlayerResult{
			ID:         p.Conn,
			UserID:     p.User,
			Name:       p.Name,
			Team:       p.Team,
			WPM:        p.WPM,
			Accuracy:   p.Accuracy,
			Progress:   p.Progress,
			Finished:   p.Finished,
			FinishTime: p.FinishTime,
			Rank:       i + 1,
			History:    p.History,
		})
	}
	return results
}

func finishOrInf(p *Player) float64 {
	if !p.Finished {
		return math.Inf(1)
	}
	return p.FinishTime
}

// teamOutcome averages WPM and accuracy per team. The winning team is the
// one with the higher average WPM; accuracy is not a team-level tie-break,
// a simultaneous tie is reported as "tie".
func teamOutcome(results []PlayerResult) ([]TeamResult, string) {
	type agg struct {
		wpm, acc, n float64
	}
	aggs := map[Team]*agg{TeamRed: {}, TeamBlue: {}}
	for _, res := range results {
		a, ok := aggs[res.Team]
		if !ok {
			continue
		}
		a.wpm += float64(res.WPM)
		a.acc += float64(res.Accuracy)
		a.n++
	}

	out := make([]TeamResult, 0, 2)
	for _, team := range []Team{TeamRed, TeamBlue} {
		a := aggs[team]
		tr := TeamResult{Team: team}
		if a.n > 0 {
			tr.AvgWPM = a.wpm / a.n
			tr.AvgAccuracy = a.acc / a.n
		}
		out = append(out, tr)
	}

	switch {
	case out[0].AvgWPM > out[1].AvgWPM:
		return out, string(TeamRed)
	case out[1].AvgWPM > out[0].AvgWPM:
		return out, string(TeamBlue)
	default:
		return out, "tie"
	}
}
