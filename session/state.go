package session

import (
	"fmt"
	"time"

	"github.com/shimmeringbee/tuyadp/mapping"
)

type State int

const (
	Uninitialized State = iota
	Subscribing
	ReadingInitial
	Discovering
	Ready
	Degraded
)

var stateNames = map[State]string{
	Uninitialized:  "Uninitialized",
	Subscribing:    "Subscribing",
	ReadingInitial: "ReadingInitial",
	Discovering:    "Discovering",
	Ready:          "Ready",
	Degraded:       "Degraded",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// Status is a snapshot of a session.
type Status struct {
	State               State
	DeviceType          mapping.DeviceType
	RetryCount          int
	InitialDataReceived bool
	LastSeenAt          time.Time
}
