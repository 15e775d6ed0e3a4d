package services

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"drivewatch/models"
)

// Connection status events
const (
	// EventRestart begins a new session
	EventRestart = "restart"
	// EventOpen is the push channel reporting a successful connection
	EventOpen = "open"
	// EventData is a valid reading arriving
	EventData = "data"
	// EventEmpty is an empty or all-null payload arriving
	EventEmpty = "empty"
	// EventDisconnect is a channel failure after the session was open
	EventDisconnect = "disconnect"
	// EventUnreachable is a channel failure before the session ever opened
	EventUnreachable = "unreachable"
	// EventTimeout is the connection timer expiring
	EventTimeout = "timeout"
)

// statusMachine tracks Connecting / Live / Fallback / Offline.
type statusMachine struct {
	*fsm.FSM
}

func newStatusMachine() *statusMachine {
	connecting := string(models.StatusConnecting)
	live := string(models.StatusLive)
	fallback := string(models.StatusFallback)
	offline := string(models.StatusOffline)
	all := []string{connecting, live, fallback, offline}

	events := fsm.Events{
		{Name: EventRestart, Src: all, Dst: connecting},
		{Name: EventOpen, Src: all, Dst: live},
		{Name: EventData, Src: all, Dst: live},
		{Name: EventEmpty, Src: all, Dst: fallback},
		{Name: EventDisconnect, Src: all, Dst: fallback},
		{Name: EventUnreachable, Src: all, Dst: offline},

		// A live channel is never demoted by a stale timer
		{Name: EventTimeout, Src: []string{connecting, fallback, offline}, Dst: fallback},
	}

	return &statusMachine{FSM: fsm.NewFSM(connecting, events, fsm.Callbacks{})}
}

// fire applies event and reports whether the status changed. Events that do
// not apply to the current status are ignored.
func (m *statusMachine) fire(event string) (changed bool, err error) {
	err = m.Event(context.Background(), event)
	if err == nil {
		return true, nil
	}

	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return false, nil
	}
	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return false, nil
	}
	return false, err
}

func (m *statusMachine) Status() models.ConnectionStatus {
	return models.ConnectionStatus(m.Current())
}
