package controller

import "errors"

var (
	// ErrStopped is returned once the controller has been stopped.
	ErrStopped = errors.New("controller: stopped")

	// ErrNotRunning is returned by operations that need a running loop.
	ErrNotRunning = errors.New("controller: not running")

	// ErrEmergency is returned while the emergency latch is set.
	ErrEmergency = errors.New("controller: emergency stop latched")

	// ErrInvalidCommand is returned for malformed joint commands or gains.
	ErrInvalidCommand = errors.New("controller: invalid command")

	// ErrNoFeedback is returned by Start when the motors do not answer.
	ErrNoFeedback = errors.New("controller: no feedback from motors")
)
