package engine

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/guess-lobby-backend/internal/lobby"
	"github.com/DoyleJ11/guess-lobby-backend/internal/partition"
	"github.com/DoyleJ11/guess-lobby-backend/internal/store"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindInvariant  Kind = "invariant"
)

// Error is returned by Apply for every rejected command.
type Error struct {
	Kind    Kind
	Command CommandType
	User    lobby.UserID
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of an error produced by Apply, or "" for anything
// else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func wrap(cmd Command, err error) *Error {
	e := &Error{Kind: classify(err), Err: err}
	if cmd != nil {
		e.Command = cmd.Type()
		e.User = cmd.Origin()
	}
	return e
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, partition.ErrNoSinkGroup),
		errors.Is(err, partition.ErrInvalidGroupSize):
		return KindInvariant
	case errors.Is(err, store.ErrDuplicateLobby),
		errors.Is(err, store.ErrDuplicateUsername),
		errors.Is(err, store.ErrAlreadyJoined):
		return KindConflict
	case errors.Is(err, store.ErrLobbyNotFound),
		errors.Is(err, store.ErrUserNotFound):
		return KindNotFound
	default:
		return KindValidation
	}
}
