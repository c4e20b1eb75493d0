package requestengine

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotEntitled   = errors.New("user not entitled")
	ErrMachineNotCreated = errors.New("machine not created")
)

// UserNotEntitledError is returned when the authorising service denies the
// requestor. It matches ErrUserNotEntitled under errors.Is.
type UserNotEntitledError struct {
	Requestor  string
	MachineKey string
}

func (e *UserNotEntitledError) Error() string {
	return fmt.Sprintf("user %q is not entitled to request %s", e.Requestor, e.MachineKey)
}

func (e *UserNotEntitledError) Is(target error) bool { return target == ErrUserNotEntitled }

// MachineNotCreatedError is returned when the build service reports an empty
// build id. It matches ErrMachineNotCreated under errors.Is.
type MachineNotCreatedError struct {
	Requestor  string
	MachineKey string
}

func (e *MachineNotCreatedError) Error() string {
	return fmt.Sprintf("machine %s for %q was not created", e.MachineKey, e.Requestor)
}

func (e *MachineNotCreatedError) Is(target error) bool { return target == ErrMachineNotCreated }
