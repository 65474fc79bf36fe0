package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/keyrace/api/internal/race"
)

// Client-to-server event names. Server-to-client names live in the race
// package next to their payloads.
const (
	evRoomCreate     = "room:create"
	evRoomJoin       = "room:join"
	evRoomLeave      = "room:leave"
	evRoomSettings   = "room:updateSettings"
	evRoomLock       = "room:lock"
	evRoomKick       = "room:kick"
	evRoomPromote    = "room:promote"
	evRoomSetTeam    = "room:setTeam"
	evRoomSetSDLimit = "room:setSuddenDeathLimit"
	evRoomInvite     = "room:invite"
	evGameStart      = "game:start"
	evGameRematch    = "game:rematch"
	evGameProgress   = "game:progress"
	evChatSend       = "chat:send"
	evChatTyping     = "chat:typing"
)

// inboundEnvelope frames every client-to-server message. Seq is echoed
// back on the matching ack or error so clients can correlate replies.
type inboundEnvelope struct {
	Event string          `json:"event"`
	Seq   int64           `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ackPayload struct {
	OK    bool   `json:"ok"`
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type errorPayload struct {
	Event   string `json:"event,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// settingsFields are the host-editable knobs, flat on the wire. TeamMode
// is sugar for the team-mode modifier.
type settingsFields struct {
	Difficulty       string          `json:"difficulty"`
	WordCount        int             `json:"wordCount"`
	CustomText       string          `json:"customText"`
	TimeLimit        int             `json:"timeLimit"`
	Modifiers        []race.Modifier `json:"modifiers"`
	TeamMode         bool            `json:"teamMode"`
	SuddenDeathLimit int             `json:"suddenDeathLimit"`
}

func (f settingsFields) settings() race.Settings {
	s := race.Settings{
		Difficulty:       f.Difficulty,
		WordCount:        f.WordCount,
		CustomText:       f.CustomText,
		TimeLimit:        f.TimeLimit,
		Modifiers:        f.Modifiers,
		SuddenDeathLimit: f.SuddenDeathLimit,
	}
	if f.TeamMode && !hasModifier(s.Modifiers, race.ModTeamMode) {
		s.Modifiers = append(s.Modifiers, race.ModTeamMode)
	}
	return s
}

func hasModifier(mods []race.Modifier, m race.Modifier) bool {
	for _, mod := range mods {
		if mod == m {
			return true
		}
	}
	return false
}

type createRoomPayload struct {
	Name string `json:"hostName"`
	settingsFields
}

type joinRoomPayload struct {
	Code      string `json:"code"`
	Name      string `json:"displayName"`
	Spectator bool   `json:"spectator"`
}

type roomRefPayload struct {
	Code string `json:"code"`
}

type updateSettingsPayload struct {
	Code string `json:"code"`
	settingsFields
}

type lockPayload struct {
	Code   string `json:"code"`
	Locked bool   `json:"lock"`
}

type targetPayload struct {
	Code   string `json:"code"`
	Player string `json:"playerId"`
}

type setTeamPayload struct {
	Code   string `json:"code"`
	Player string `json:"playerId"`
	Team   string `json:"team"`
}

type sdLimitPayload struct {
	Code  string `json:"code"`
	Limit int    `json:"limit"`
}

type invitePayload struct {
	Code   string `json:"code"`
	Friend string `json:"friendId"`
}

type progressPayload struct {
	Code                string  `json:"code"`
	TypedText           string  `json:"typedText"`
	ElapsedMs           int64   `json:"elapsedMs"`
	KeystrokeTimestamps []int64 `json:"keystrokeTimestamps"`
	PasteEvents         int     `json:"pasteEvents"`
}

type chatPayload struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

// errorCode maps coordinator errors to stable wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, race.ErrRoomNotFound):
		return "RoomNotFound"
	case errors.Is(err, race.ErrRoomLocked):
		return "RoomLocked"
	case errors.Is(err, race.ErrNotHost):
		return "NotHost"
	case errors.Is(err, race.ErrAlreadyStarted):
		return "AlreadyStarted"
	case errors.Is(err, race.ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, race.ErrPlayerNotFound):
		return "PlayerNotFound"
	case errors.Is(err, race.ErrTargetOffline):
		return "TargetOffline"
	case errors.Is(err, race.ErrInvalidInput):
		return "InvalidInput"
	default:
		return "Internal"
	}
}

// session is one connection's identity for the lifetime of its socket.
type session struct {
	conn string
	user string
}

// dispatch decodes one inbound message and applies it to the engine.
// It returns the reply to write back, or nil for fire-and-forget events.
func (s *Server) dispatch(sess session, raw []byte) *outboundEnvelope {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errorReply(env, "", fmt.Errorf("malformed message: %w", err))
	}

	switch env.Event {
	case evRoomCreate:
		var p createRoomPayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		snap, err := s.engine.CreateRoom(sess.conn, sess.user, p.Name, p.settings())
		if err != nil {
			return errorReply(env, env.Event, err)
		}
		return ackReply(env, snap)

	case evRoomJoin:
		var p joinRoomPayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		snap, err := s.engine.Join(p.Code, sess.conn, sess.user, p.Name, p.Spectator)
		if err != nil {
			return errorReply(env, env.Event, err)
		}
		return ackReply(env, snap)

	case evRoomLeave:
		var p roomRefPayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		return replyFor(env, s.engine.Leave(p.Code, sess.conn))

	case evRoomSettings:
		var p updateSettingsPayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		return replyFor(env, s.engine.UpdateSettings(p.Code, sess.conn, p.settings()))

	case evRoomLock:
		var p lockPayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		return replyFor(env, s.engine.SetLock(p.Code, sess.conn, p.Locked))

	case evRoomKick:
		var p targetPayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		return replyFor(env, s.engine.Kick(p.Code, sess.conn, p.Player))

	case evRoomPromote:
		var p targetPayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		return replyFor(env, s.engine.Promote(p.Code, sess.conn, p.Player))

	case evRoomSetTeam:
		var p setTeamPayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		return replyFor(env, s.engine.SetTeam(p.Code, sess.conn, p.Player, race.Team(p.Team)))

	case evRoomSetSDLimit:
		var p sdLimitPayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		return replyFor(env, s.engine.SetSuddenDeathLimit(p.Code, sess.conn, p.Limit))

	case evRoomInvite:
		var p invitePayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		return replyFor(env, s.engine.Invite(p.Code, sess.conn, p.Friend))

	case evGameStart:
		var p roomRefPayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		return replyFor(env, s.engine.StartGame(p.Code, sess.conn))

	case evGameRematch:
		var p roomRefPayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		return replyFor(env, s.engine.Rematch(p.Code, sess.conn))

	case evGameProgress:
		var p progressPayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		s.engine.Progress(p.Code, sess.conn, p.TypedText, p.ElapsedMs, race.Telemetry{
			KeystrokeTimestamps: p.KeystrokeTimestamps,
			PasteEvents:         p.PasteEvents,
		})
		return nil

	case evChatSend:
		var p chatPayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		return replyFor(env, s.engine.Chat(p.Code, sess.conn, p.Text))

	case evChatTyping:
		var p roomRefPayload
		if err := decode(env.Data, &p); err != nil {
			return errorReply(env, env.Event, err)
		}
		s.engine.Typing(p.Code, sess.conn)
		return nil

	default:
		return errorReply(env, env.Event, fmt.Errorf("unknown event %q", env.Event))
	}
}

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, dst)
}

func ackReply(env inboundEnvelope, data any) *outboundEnvelope {
	return &outboundEnvelope{Event: "ack", Seq: env.Seq, Data: ackPayload{OK: true, Event: env.Event, Data: data}}
}

func replyFor(env inboundEnvelope, err error) *outboundEnvelope {
	if err != nil {
		return errorReply(env, env.Event, err)
	}
	return ackReply(env, nil)
}

func errorReply(env inboundEnvelope, event string, err error) *outboundEnvelope {
	code := "InvalidInput"
	if isRaceErr(err) {
		code = errorCode(err)
	}
	return &outboundEnvelope{Event: "error", Seq: env.Seq, Data: errorPayload{Event: event, Error: code, Message: err.Error()}}
}

func isRaceErr(err error) bool {
	for _, sentinel := range []error{
		race.ErrRoomNotFound, race.ErrRoomLocked, race.ErrNotHost,
		race.ErrAlreadyStarted, race.ErrInvalidState, race.ErrPlayerNotFound,
		race.ErrTargetOffline, race.ErrInvalidInput,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
