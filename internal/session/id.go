package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidID is returned for session IDs that were not issued by NewID.
var ErrInvalidID = errors.New("invalid session id")

// NewID returns a new random session ID.
func NewID() string {
	return uuid.NewString()
}

// ValidateID checks that id is a canonical random (version 4) UUID.
func ValidateID(id string) error {
	u, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidID, id, err)
	}
	if u.Version() != 4 || u.String() != id {
		return fmt.Errorf("%w %q", ErrInvalidID, id)
	}
	return nil
}
