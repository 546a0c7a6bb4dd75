package chupistica

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable identifier returned to clients in error responses.
type ErrorKind string

const (
	ErrInvalidGameCode        ErrorKind = "InvalidGameCode"
	ErrInvalidPlayerID        ErrorKind = "InvalidPlayerId"
	ErrInvalidCard            ErrorKind = "InvalidCard"
	ErrInvalidCardType        ErrorKind = "InvalidCardType"
	ErrGameNotFound           ErrorKind = "GameNotFound"
	ErrSessionFull            ErrorKind = "SessionFull"
	ErrPlayerAlreadyInSession ErrorKind = "PlayerAlreadyInSession"
	ErrPlayerNotInSession     ErrorKind = "PlayerNotInSession"
	ErrWrongState             ErrorKind = "WrongState"
	ErrNotYourTurn            ErrorKind = "NotYourTurn"
	ErrDeckEmpty              ErrorKind = "DeckEmpty"
	ErrNotHost                ErrorKind = "NotHost"
	ErrSavedCardNotFound      ErrorKind = "SavedCardNotFound"
	ErrSaveCapacity           ErrorKind = "SaveCapacity"
	ErrNoVenganzaAvailable    ErrorKind = "NoVenganzaAvailable"
	ErrInvalidTargetPlayer    ErrorKind = "InvalidTargetPlayer"
	ErrInvalidRules           ErrorKind = "InvalidRules"
	ErrCodeTaken              ErrorKind = "CodeTaken"
	ErrCodeSpaceExhausted     ErrorKind = "CodeSpaceExhausted"
	ErrCapacityExceeded       ErrorKind = "CapacityExceeded"
	ErrCancelled              ErrorKind = "Cancelled"
	ErrInvalidCommand         ErrorKind = "InvalidCommand"
	ErrInternal               ErrorKind = "Internal"
)

// GameError carries a stable kind plus a human-readable message.
type GameError struct {
	Kind    ErrorKind
	Message string
}

// NewGameError creates a GameError with the given kind and message.
func NewGameError(kind ErrorKind, message string) *GameError {
	return &GameError{Kind: kind, Message: message}
}

// Errorf creates a GameError with a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *GameError {
	return &GameError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface
func (e *GameError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf extracts the error kind from err. Unknown errors map to Internal so
// stack details never leak to clients.
func KindOf(err error) ErrorKind {
	var ge *GameError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ErrInternal
}

// MessageOf returns the client-safe message for err. Non-GameError values
// surface a generic message.
func MessageOf(err error) string {
	var ge *GameError
	if errors.As(err, &ge) {
		return ge.Message
	}
	return "internal server error"
}
