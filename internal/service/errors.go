package service

import "errors"

// Client input errors
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidPlayerID = errors.New("invalid player id")
	ErrUnknownGameMode = errors.New("unknown game mode")
	ErrInvalidRegion   = errors.New("invalid region")
)

// Queue errors
var (
	ErrAlreadyQueued = errors.New("player already queued")
	// ErrMatchPending 아직 조회하지 않은 매칭 결과가 있다
	ErrMatchPending = errors.New("unconsumed match result pending")
)

// Collaborator errors
var (
	ErrRatingUnavailable = errors.New("player rating unavailable")
	ErrAllocationFailed  = errors.New("session allocation failed")
)
