package observer

import (
	"errors"
	"fmt"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
)

var (
	ErrAlreadyRegistered = errors.New("machine already registered")
	ErrNoIdentification  = errors.New("no identification component")
)

// ErrorKind classifies why a machine could not be added.
type ErrorKind uint8

const (
	// Transient failures are retried on the next discovery cycle.
	Transient ErrorKind = iota
	// Permanent failures are not retried while the machine stays in the
	// information model.
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// MachineInvalidError is returned by AddMachine when a machine cannot be
// bound. The registry is left untouched.
type MachineInvalidError struct {
	ID   infomodel.NodeID
	Name string
	Kind ErrorKind
	Err  error
}

func (e *MachineInvalidError) Error() string {
	return fmt.Sprintf("machine %s invalid (%s): %v", e.ID, e.Kind, e.Err)
}

func (e *MachineInvalidError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a permanent MachineInvalidError.
func IsPermanent(err error) bool {
	var invalid *MachineInvalidError
	return errors.As(err, &invalid) && invalid.Kind == Permanent
}

func classify(err error) ErrorKind {
	if errors.Is(err, infomodel.ErrUnknownType) {
		return Permanent
	}
	return Transient
}
