package room

import (
	"errors"
	"fmt"
	"strings"
)

// CodeLength is the number of decimal digits in a room code.
const CodeLength = 4

// ErrInvalidCode indicates that a room code is not exactly four ASCII digits.
var ErrInvalidCode = errors.New("room: invalid code")

// Code is a validated four digit room code. Codes are not globally unique;
// unrelated users picking the same digits share a room.
type Code string

// NewCode validates raw input and returns a Code.
func NewCode(rawInput string) (Code, error) {
	trimmed := strings.TrimSpace(rawInput)
	if len(trimmed) != CodeLength {
		return "", fmt.Errorf("%w: %q must have %d digits", ErrInvalidCode, rawInput, CodeLength)
	}
	for index := 0; index < len(trimmed); index++ {
		if trimmed[index] < '0' || trimmed[index] > '9' {
			return "", fmt.Errorf("%w: %q must contain only digits", ErrInvalidCode, rawInput)
		}
	}
	return Code(trimmed), nil
}

// String returns the underlying digits.
func (c Code) String() string {
	return string(c)
}
