package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrSpawn is returned when an external process could not be started.
	ErrSpawn = errors.New("could not spawn process")
	// ErrPrecondition is returned when a pipeline step precondition does not hold.
	ErrPrecondition = errors.New("precondition failed")
	// ErrTaskRunning is returned when a task is started while another one is running.
	ErrTaskRunning = errors.New("a task is already running")
	// ErrForegroundBusy is returned when a foreground process is already registered.
	ErrForegroundBusy = errors.New("foreground process slot is busy")
)
