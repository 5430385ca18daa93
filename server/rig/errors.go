package rig

import (
	"errors"
	"fmt"
)

var ErrAlreadyStarted = errors.New("Rig has already been started")
var ErrPartialRegistration = errors.New("Failed to register every sensor")
var ErrNoFrames = errors.New("No frames to compose")
var ErrCompositeHeight = errors.New("Frames in a composite must all have the same height")

// PartialRegistrationError is returned by Start when one of the devices could not be
// spawned or attached. By the time it is returned, every device that was registered
// has been stopped and destroyed again.
type PartialRegistrationError struct {
	Device string // eg "rgb/visual"
	Stage  string // "spawn" or "listen"
	Err    error
}

func (e *PartialRegistrationError) Error() string {
	return fmt.Sprintf("%v: %v failed to %v: %v", ErrPartialRegistration, e.Device, e.Stage, e.Err)
}

func (e *PartialRegistrationError) Unwrap() []error {
	return []error{ErrPartialRegistration, e.Err}
}
