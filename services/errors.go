package services

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomExists       = errors.New("room already exists")
	ErrStoreUnavailable = errors.New("room store unavailable")
	ErrVersionConflict  = errors.New("room version conflict")
	ErrNotHost          = errors.New("only the host can do that")
	ErrUnknownGame      = errors.New("unknown game kind")
	ErrNotInRoom        = errors.New("not in a room")
	ErrWrongPhase       = errors.New("not allowed in the current phase")
	ErrBadRequest       = errors.New("malformed request")
)
