package events

import "errors"

var (
	ErrBusAlreadyRunning = errors.New("event bus is already running")
	ErrBusNotRunning     = errors.New("event bus is not running")
	ErrQueueFull         = errors.New("event queue is full")
	ErrSubscribeRunning  = errors.New("cannot subscribe after the bus has started")
)
