package race

import "errors"

// Request failures reported to the caller as {error: "..."}. They never
// crash the room or affect other players.
var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomLocked     = errors.New("room locked")
	ErrNotHost        = errors.New("not host")
	ErrAlreadyStarted = errors.New("already started")
	ErrInvalidState   = errors.New("invalid state")
	ErrPlayerNotFound = errors.New("player not found")
	ErrTargetOffline  = errors.New("target offline")
	ErrInvalidInput   = errors.New("invalid input")
)
