package race

// Outbound event names. Every mutating operation broadcasts EventRoomState
// after succeeding; the rest are targeted or terminal notifications.
const (
	EventRoomState        = "room:state"
	EventRoomClosed       = "room:closed"
	EventRoomInvite       = "room:invite"
	EventGameStarted      = "game:started"
	EventWPMUpdate        = "wpmUpdate"
	EventGameEnded        = "game:ended"
	EventPlayerKicked     = "playerKicked"
	EventPlayerEliminated = "playerEliminated"
	EventChatMessage      = "chat:message"
)

// Race-end reasons.
const (
	ReasonAllFinished = "all-finished"
	ReasonTime        = "time"
)

type PlayerSnapshot struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId,omitempty"`
	Name        string      `json:"name"`
	Role        Role        `json:"role"`
	Team        Team        `json:"team,omitempty"`
	Progress    int         `json:"progress"`
	WPM         int         `json:"wpm"`
	Accuracy    int         `json:"accuracy"`
	Finished    bool        `json:"finished"`
	FinishTime  float64     `json:"finishTime,omitempty"`
	History     []WPMSample `json:"history,omitempty"`
	CheatStatus CheatStatus `json:"cheatStatus"`
	Mistakes    int         `json:"mistakes,omitempty"`
}

// Snapshot is the full serialized room state. Timestamps are Unix
// milliseconds; zero means unset.
type Snapshot struct {
	Code             string           `json:"code"`
	Text             string           `json:"text"`
	Source           SourceMode       `json:"source"`
	Difficulty       string           `json:"difficulty,omitempty"`
	WordCount        int              `json:"wordCount,omitempty"`
	TimeLimit        int              `json:"timeLimit"`
	Modifiers        []Modifier       `json:"modifiers"`
	SuddenDeathLimit int              `json:"suddenDeathLimit"`
	Locked           bool             `json:"locked"`
	Status           Status           `json:"status"`
	StartedAt        int64            `json:"startedAt,omitempty"`
	EndsAt           int64            `json:"endsAt,omitempty"`
	Host             string           `json:"host"`
	Players          []PlayerSnapshot `json:"players"`
	Typing           []string         `json:"typing,omitempty"`
	Chat             []ChatMessage    `json:"chat"`
}

func (r *Room) snapshot() Snapshot {
	s := Snapshot{
		Code:             r.Code,
		Text:             r.Prompt,
		Source:           r.Source,
		Difficulty:       r.Difficulty,
		WordCount:        r.WordCount,
		TimeLimit:        r.TimeLimit,
		Modifiers:        r.Modifiers,
		SuddenDeathLimit: r.SuddenDeathLimit,
		Locked:           r.Locked,
		Status:           r.Status,
		Host:             r.HostConn,
		Players:          make([]PlayerSnapshot, 0, len(r.players)),
		Chat:             r.chat,
	}
	if !r.StartedAt.IsZero() {
		s.StartedAt = r.StartedAt.UnixMilli()
	}
	if !r.EndsAt.IsZero() {
		s.EndsAt = r.EndsAt.UnixMilli()
	}
	for _, p := range r.Players() {
		s.Players = append(s.Players, PlayerSnapshot{
			ID:          p.Conn,
			UserID:      p.User,
			Name:        p.Name,
			Role:        p.Role,
			Team:        p.Team,
			Progress:    p.Progress,
			WPM:         p.WPM,
			Accuracy:    p.Accuracy,
			Finished:    p.Finished,
			FinishTime:  p.FinishTime,
			History:     p.History,
			CheatStatus: p.CheatStatus,
			Mistakes:    p.Mistakes,
		})
	}
	for conn := range r.typing {
		s.Typing = append(s.Typing, conn)
	}
	return s
}

type GameStartedPayload struct {
	StartedAt int64      `json:"startedAt"`
	EndsAt    int64      `json:"endsAt"`
	Text      string     `json:"text"`
	Modifiers []Modifier `json:"modifiers"`
	TeamMode  bool       `json:"teamMode"`
}

type WPMUpdatePayload struct {
	PlayerID    string `json:"playerId"`
	WPM         int    `json:"wpm"`
	TimeSeconds int    `json:"timeSeconds"`
}

type PlayerResult struct {
	ID         string      `json:"id"`
	UserID     string      `json:"userId,omitempty"`
	Name       string      `json:"name"`
	Team       Team        `json:"team,omitempty"`
	WPM        int         `json:"wpm"`
	Accuracy   int         `json:"accuracy"`
	Progress   int         `json:"progress"`
	Finished   bool        `json:"finished"`
	FinishTime float64     `json:"finishTime,omitempty"`
	Rank       int         `json:"rank"`
	History    []WPMSample `json:"history,omitempty"`
}

type TeamResult struct {
	Team        Team    `json:"team"`
	AvgWPM      float64 `json:"avgWpm"`
	AvgAccuracy float64 `json:"avgAccuracy"`
}

type GameEndedPayload struct {
	Reason      string         `json:"reason"`
	Winner      string         `json:"winner,omitempty"`
	Results     []PlayerResult `json:"results"`
	TeamResults []TeamResult   `json:"teamResults,omitempty"`
	WinningTeam string         `json:"winningTeam,omitempty"`
}

type KickedPayload struct {
	Reason string `json:"reason"`
}

type InvitePayload struct {
	Code string `json:"code"`
	From string `json:"from"`
}
