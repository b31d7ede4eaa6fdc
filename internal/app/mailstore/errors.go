package mailstore

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by store operations attempted
// before Connect succeeded or after Disconnect.
var ErrNotConnected = errors.New("mail store: not connected")

// ErrNoFolderSelected is returned by operations that require
// an active folder.
var ErrNoFolderSelected = errors.New("mail store: no folder selected")

// ConnectionError means the transport could not be established.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %s", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError means the server rejected the stored credentials.
type AuthError struct {
	Login string
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authenticate %q: %s", e.Login, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError wraps a single store command that did not complete
// with OK status.
type ProtocolError struct {
	Command string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// MoveStage identifies a step of the move transaction.
type MoveStage string

const (
	StageCopy    MoveStage = "copy"
	StageStore   MoveStage = "store"
	StageExpunge MoveStage = "expunge"
)

// MoveError reports the step at which a move stopped.
//
// Server-side state after each failing stage:
//   - copy:    nothing changed.
//   - store:   the message exists in both folders (Duplicated is true).
//   - expunge: the copy exists and the original carries \Deleted; the next
//     expunge by any client completes the removal.
type MoveError struct {
	Ref         string
	Destination string
	Stage       MoveStage
	Duplicated  bool
	Err         error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move %s to %q failed at %s: %s", e.Ref, e.Destination, e.Stage, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }
