package tuyadp

import (
	"context"
	"fmt"

	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/tuyadp/mapping"
	"github.com/shimmeringbee/tuyadp/session"
)

// SessionAdded is raised when a device gains a session, before any of its
// state changes.
type SessionAdded struct {
	Session    *session.Session
	DeviceType mapping.DeviceType
	Info       DeviceInfo
}

type SessionStateChanged struct {
	Session *session.Session
	From    session.State
	To      session.State
}

// SessionRemoved is raised once a removed session has closed.
type SessionRemoved struct {
	Session *session.Session
}

// AddCallback registers fn for one of the session events, fn must be of the
// form func(context.Context, E) error. Events are delivered in the order they
// were raised, from a single goroutine, so callbacks may call back into the
// adapter and its sessions.
func (a *Adapter) AddCallback(fn any) {
	a.callbacks.Add(fn)
}

// raise queues an event for delivery, events raised after the adapter has
// closed are dropped.
func (a *Adapter) raise(e any) {
	a.eventLock.Lock()
	if a.eventsStopped {
		a.eventLock.Unlock()
		return
	}

	a.events = append(a.events, e)
	a.eventLock.Unlock()

	select {
	case a.eventWake <- struct{}{}:
	default:
	}
}

func (a *Adapter) dispatchEvents() {
	defer close(a.eventsDone)

	for {
		a.eventLock.Lock()
		pending := a.events
		a.events = nil
		stopped := a.eventsStopped
		a.eventLock.Unlock()

		for _, e := range pending {
			if err := a.callbacks.Call(context.Background(), e); err != nil {
				a.logger.Warn(context.Background(), "Session event callback failed.", logwrap.Datum("Event", fmt.Sprintf("%T", e)), logwrap.Err(err))
			}
		}

		if len(pending) > 0 {
			continue
		}

		if stopped {
			return
		}

		<-a.eventWake
	}
}

// stopEvents delivers the events already raised and stops the dispatcher.
func (a *Adapter) stopEvents(ctx context.Context) error {
	a.eventLock.Lock()
	a.eventsStopped = true
	a.eventLock.Unlock()

	select {
	case a.eventWake <- struct{}{}:
	default:
	}

	select {
	case <-a.eventsDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
