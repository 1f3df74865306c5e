package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/persistence"
	"github.com/shimmeringbee/tuyadp/datapoint"
	"github.com/shimmeringbee/tuyadp/mapping"
)

const eventBacklog = 64

type timerKind int

const (
	retryTimer timerKind = iota
	probeTimer
	refreshTimer
	timeSyncTimer
)

// Session drives a single device from subscription to Ready, and translates
// its datapoints to and from capabilities.
//
// All session state is owned by the loop goroutine, every other goroutine
// communicates with it by posting events.
type Session struct {
	device    da.Device
	table     *mapping.Table
	transport Transport
	sink      Sink
	section   persistence.Section
	opts      Options
	logger    *logwrap.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	events    chan func()
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	statusLock *sync.Mutex
	status     Status

	stateListener func(from State, to State)

	// Loop owned.
	state               State
	retryCount          int
	initialDataReceived bool
	lastSeenAt          time.Time
	subscription        Subscription
	timers              map[timerKind]*time.Timer
	discoveryStarted    bool
	probeIndex          int
	closing             bool
}

func New(d da.Device, table *mapping.Table, t Transport, sink Sink, s persistence.Section, opts Options, l logwrap.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	l.AddOptionsToLogger(logwrap.Datum("Identifier", d.Identifier().String()), logwrap.Datum("DeviceType", string(table.DeviceType())))

	sess := &Session{
		device:     d,
		table:      table,
		transport:  t,
		sink:       sink,
		section:    s,
		opts:       opts.normalised(),
		logger:     &l,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan func(), eventBacklog),
		done:       make(chan struct{}),
		statusLock: &sync.Mutex{},
		timers:     map[timerKind]*time.Timer{},
	}

	sess.status = Status{State: Uninitialized, DeviceType: table.DeviceType()}

	return sess
}

// OnStateChange registers fn to be told of every state transition, it must be
// called before Start. fn runs on the session loop and must not call back into
// the session synchronously.
func (s *Session) OnStateChange(fn func(from State, to State)) {
	s.stateListener = fn
}

func (s *Session) Device() da.Device {
	return s.device
}

// Start begins the session loop and initialisation. It does not wait for the
// session to become Ready.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.loop()
		s.post(s.subscribe)
	})
}

func (s *Session) loop() {
	defer close(s.done)

	for fn := range s.events {
		fn()

		if s.closing {
			return
		}
	}
}

// post queues fn for the loop, returning false if the session has stopped.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for it to complete.
func (s *Session) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})

	if !s.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrSessionClosed
	}

	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the session, it is safe to call after Close.
func (s *Session) Status() Status {
	s.statusLock.Lock()
	defer s.statusLock.Unlock()

	return s.status
}

func (s *Session) publishStatus() {
	s.statusLock.Lock()
	defer s.statusLock.Unlock()

	s.status = Status{
		State:               s.state,
		DeviceType:          s.table.DeviceType(),
		RetryCount:          s.retryCount,
		InitialDataReceived: s.initialDataReceived,
		LastSeenAt:          s.lastSeenAt,
	}
}

func (s *Session) transition(next State) {
	if s.state == next {
		return
	}

	s.logger.Info(s.ctx, "Session state changed.", logwrap.Datum("From", s.state.String()), logwrap.Datum("To", next.String()))

	from := s.state

	s.state = next
	s.persist()
	s.publishStatus()

	if s.stateListener != nil {
		s.stateListener(from, next)
	}
}

func (s *Session) subscribe() {
	s.transition(Subscribing)

	go func() {
		ctx, end := s.logger.Segment(s.ctx, "Subscribing to device reports.")
		defer end()

		sub, err := s.transport.Subscribe(ctx, s.onReport)

		var cfgErr error
		if err == nil {
			cfgErr = s.transport.ConfigureReporting(ctx)
		}

		accepted := make(chan struct{})
		posted := s.post(func() {
			close(accepted)
			s.subscribed(sub, err, cfgErr)
		})

		if sub == nil {
			return
		}

		if !posted {
			sub.Cancel()
			return
		}

		// The loop may stop with the result still queued behind Close.
		select {
		case <-accepted:
		case <-s.done:
			select {
			case <-accepted:
			default:
				sub.Cancel()
			}
		}
	}()
}

func (s *Session) onReport(r datapoint.Report) {
	s.post(func() { s.handleReport(r) })
}

func (s *Session) subscribed(sub Subscription, err error, cfgErr error) {
	if err != nil {
		s.degrade(&TransportError{Op: "subscribe", Err: err})
		return
	}

	s.subscription = sub

	if cfgErr != nil {
		s.logger.Warn(s.ctx, "Failed to configure reporting, continuing.", logwrap.Err(cfgErr))
	}

	// A report may have arrived before the subscription result.
	if s.state != Subscribing {
		return
	}

	s.transition(ReadingInitial)
	s.attemptRead()
}

func (s *Session) attemptRead() {
	s.retryCount++
	attempt := s.retryCount
	s.publishStatus()

	s.logger.Debug(s.ctx, "Reading initial datapoints.", logwrap.Datum("Attempt", attempt))

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.ReadTimeout)
		defer cancel()

		err := s.transport.Read(ctx)
		s.post(func() { s.initialReadResult(attempt, err) })
	}()
}

// initialReadResult runs after any answer to the read has been handled, the
// answer itself arrives through the subscription in arrival order.
func (s *Session) initialReadResult(attempt int, err error) {
	if s.state != ReadingInitial && s.state != Discovering {
		return
	}

	if errors.Is(err, ErrTransportClosed) {
		s.degrade(&TransportError{Op: "read", Err: err})
		return
	}

	if err == nil && s.initialDataReceived {
		return
	}

	if err != nil {
		s.logger.Warn(s.ctx, "Initial read failed.", logwrap.Datum("Attempt", attempt), logwrap.Err(&TransportError{Op: "read", Err: err}))
	} else {
		s.logger.Info(s.ctx, "Initial read returned no datapoints.", logwrap.Datum("Attempt", attempt))
	}

	if attempt >= 2 && s.opts.Discovery && !s.discoveryStarted {
		s.startDiscovery()
	}

	if attempt >= s.opts.RetryBudget {
		s.logger.Warn(s.ctx, "Retry budget exhausted, device will be Ready without initial data.", logwrap.Datum("Attempts", attempt))
		s.becomeReady()
		return
	}

	s.schedule(retryTimer, s.opts.RetryBase*time.Duration(attempt), s.attemptRead)
}

func (s *Session) becomeReady() {
	if s.state == Ready || s.state == Degraded {
		return
	}

	s.cancelTimer(retryTimer)
	s.transition(Ready)

	if s.opts.RefreshInterval > 0 {
		s.schedule(refreshTimer, s.opts.RefreshInterval, s.refresh)
	}

	if s.opts.TimeSync {
		s.syncTime()
	}
}

func (s *Session) degrade(err error) {
	s.logger.Error(s.ctx, "Session degraded.", logwrap.Err(err))

	s.cancelAllTimers()

	if s.subscription != nil {
		s.subscription.Cancel()
		s.subscription = nil
	}

	s.transition(Degraded)
}

func (s *Session) refresh() {
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.ReadTimeout)
		defer cancel()

		err := s.transport.Read(ctx)
		s.post(func() { s.refreshResult(err) })
	}()
}

func (s *Session) refreshResult(err error) {
	if s.state != Ready {
		return
	}

	if errors.Is(err, ErrTransportClosed) {
		s.degrade(&TransportError{Op: "read", Err: err})
		return
	}

	if err != nil {
		s.logger.Warn(s.ctx, "Periodic refresh failed.", logwrap.Err(&TransportError{Op: "read", Err: err}))
	}

	s.schedule(refreshTimer, s.opts.RefreshInterval, s.refresh)
}

func (s *Session) syncTime() {
	now := s.now()

	s.dispatchWrite(datapoint.Report{{ID: datapoint.TimeSyncID, Type: datapoint.WireRaw, Data: datapoint.TimePayload(now)}})
	s.schedule(timeSyncTimer, untilHour(now, s.opts.TimeSyncHour), s.syncTime)
}

// untilHour returns the duration until the next occurrence of hour:00 local.
func untilHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())

	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	return next.Sub(now)
}

// schedule runs fn on the loop after d, replacing any pending timer of the
// same kind.
func (s *Session) schedule(kind timerKind, d time.Duration, fn func()) {
	s.cancelTimer(kind)

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.post(func() {
			if s.timers[kind] != t {
				return
			}

			delete(s.timers, kind)
			fn()
		})
	})

	s.timers[kind] = t
}

func (s *Session) cancelTimer(kind timerKind) {
	if t, ok := s.timers[kind]; ok {
		t.Stop()
		delete(s.timers, kind)
	}
}

func (s *Session) cancelAllTimers() {
	for k := range s.timers {
		s.cancelTimer(k)
	}
}

// Close stops the session, cancelling timers, in flight reads and the
// subscription. Close may be called more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.startOnce.Do(func() {
			go s.loop()
		})

		s.post(func() {
			s.cancelAllTimers()

			if s.subscription != nil {
				s.subscription.Cancel()
				s.subscription = nil
			}

			s.cancel()
			s.persist()
			s.closing = true

			s.logger.Info(s.ctx, "Session closed.")
		})
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
