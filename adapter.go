package tuyadp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shimmeringbee/callbacks"
	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/logwrap/impl/discard"
	"github.com/shimmeringbee/persistence"
	"github.com/shimmeringbee/tuyadp/mapping"
	"github.com/shimmeringbee/tuyadp/rules"
	"github.com/shimmeringbee/tuyadp/session"
	"golang.org/x/sync/semaphore"
)

const (
	DiscoverySetting = "session.discovery"
	RetriesSetting   = "session.retries"
	RefreshSetting   = "session.refresh"
	TimeSyncSetting  = "session.time_sync"
)

// DefaultInitialReadConcurrency is the number of sessions which may read from
// their devices at once.
const DefaultInitialReadConcurrency = 4

var ErrDeviceExists = errors.New("device already has a session")
var ErrDeviceNotFound = errors.New("device has no session")

// DeviceInfo identifies a device's model, used to classify it into a device
// type.
type DeviceInfo struct {
	Model        string
	Manufacturer string
	Driver       string
}

type Option func(*Adapter)

// WithSessionOptions replaces the options every session starts from before
// rule settings are applied.
func WithSessionOptions(o session.Options) Option {
	return func(a *Adapter) {
		a.defaults = o
	}
}

func WithInitialReadConcurrency(n int64) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.readSem = semaphore.NewWeighted(n)
		}
	}
}

// Adapter owns the sessions of all Tuya devices, classifying each on Add and
// giving it the mapping table of its device type.
type Adapter struct {
	registry *mapping.Registry
	engine   *rules.Engine
	section  persistence.Section
	defaults session.Options
	logger   logwrap.Logger
	readSem  *semaphore.Weighted

	lock     *sync.RWMutex
	sessions map[string]*session.Session

	callbacks     callbacks.AdderCaller
	eventLock     *sync.Mutex
	events        []any
	eventsStopped bool
	eventWake     chan struct{}
	eventsDone    chan struct{}
}

func New(registry *mapping.Registry, engine *rules.Engine, s persistence.Section, opts ...Option) *Adapter {
	a := &Adapter{
		registry: registry,
		engine:   engine,
		section:  s,
		defaults: session.DefaultOptions(),
		logger:   logwrap.New(discard.Discard()),
		readSem:  semaphore.NewWeighted(DefaultInitialReadConcurrency),
		lock:     &sync.RWMutex{},
		sessions: map[string]*session.Session{},

		callbacks:  callbacks.Create(),
		eventLock:  &sync.Mutex{},
		eventWake:  make(chan struct{}, 1),
		eventsDone: make(chan struct{}),
	}

	for _, o := range opts {
		o(a)
	}

	go a.dispatchEvents()

	return a
}

// Add classifies the device, then creates and starts its session. The session
// is returned before it becomes Ready.
func (a *Adapter) Add(ctx context.Context, d da.Device, info DeviceInfo, t session.Transport, sink session.Sink) (*session.Session, error) {
	id := d.Identifier().String()

	a.lock.Lock()
	defer a.lock.Unlock()

	if _, found := a.sessions[id]; found {
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, id)
	}

	match, matched := a.engine.Detect(rules.Input{Model: info.Model, Manufacturer: info.Manufacturer, Driver: info.Driver})

	if !matched {
		a.logger.Info(ctx, "No rule matched device, using common datapoints.", logwrap.Datum("Identifier", id), logwrap.Datum("Model", info.Model), logwrap.Datum("Manufacturer", info.Manufacturer))
	} else if !a.registry.Has(match.DeviceType) {
		a.logger.Warn(ctx, "Rule matched device type without a mapping table, using common datapoints.", logwrap.Datum("Identifier", id), logwrap.Datum("DeviceType", string(match.DeviceType)), logwrap.Datum("Rule", match.Rule))
	}

	table := a.registry.Resolve(match.DeviceType)

	s := a.section.Section("Device", id)
	s.Set("Model", info.Model)
	s.Set("Manufacturer", info.Manufacturer)
	s.Set("Driver", info.Driver)
	s.Set("Rule", match.Rule)

	sess := session.New(d, table, &limitedTransport{Transport: t, sem: a.readSem}, sink, s.Section("Session"), a.sessionOptions(ctx, match.Settings), a.logger)
	a.sessions[id] = sess

	a.raise(SessionAdded{Session: sess, DeviceType: table.DeviceType(), Info: info})
	sess.OnStateChange(func(from session.State, to session.State) {
		a.raise(SessionStateChanged{Session: sess, From: from, To: to})
	})

	a.logger.Info(ctx, "Starting session for device.", logwrap.Datum("Identifier", id), logwrap.Datum("DeviceType", string(table.DeviceType())), logwrap.Datum("MappingVersion", a.registry.Version()))
	sess.Start()

	return sess, nil
}

func (a *Adapter) sessionOptions(ctx context.Context, s rules.Settings) session.Options {
	o := a.defaults
	o.Probes = append([]uint8(nil), a.defaults.Probes...)

	o.Discovery = s.BooleanOr(DiscoverySetting, o.Discovery)
	o.RetryBudget = s.IntOr(RetriesSetting, o.RetryBudget)
	o.TimeSync = s.BooleanOr(TimeSyncSetting, o.TimeSync)

	if v, found := s.String(RefreshSetting); found {
		if d, err := time.ParseDuration(v); err != nil {
			a.logger.Warn(ctx, "Ignoring invalid refresh interval in rule settings.", logwrap.Datum("Refresh", v), logwrap.Err(err))
		} else {
			o.RefreshInterval = d
		}
	}

	return o
}

func (a *Adapter) Get(d da.Device) (*session.Session, bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	s, found := a.sessions[d.Identifier().String()]
	return s, found
}

func (a *Adapter) Sessions() []*session.Session {
	a.lock.RLock()
	defer a.lock.RUnlock()

	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*session.Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.sessions[id])
	}

	return out
}

// Known returns the persisted identity of every device which has had a
// session, so that a host can add them again after a restart.
func (a *Adapter) Known() map[string]DeviceInfo {
	known := map[string]DeviceInfo{}

	devices := a.section.Section("Device")
	for _, id := range devices.Keys() {
		s := devices.Section(id)

		model, _ := s.String("Model")
		manufacturer, _ := s.String("Manufacturer")
		driver, _ := s.String("Driver")

		known[id] = DeviceInfo{Model: model, Manufacturer: manufacturer, Driver: driver}
	}

	return known
}

// Remove closes the device's session and deletes its persisted state. The
// transport is not closed, it belongs to the caller.
func (a *Adapter) Remove(ctx context.Context, d da.Device) error {
	id := d.Identifier().String()

	a.lock.Lock()
	sess, found := a.sessions[id]
	delete(a.sessions, id)
	a.lock.Unlock()

	if !found {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	err := sess.Close(ctx)
	a.section.Section("Device").Delete(id)

	a.logger.Info(ctx, "Removed session for device.", logwrap.Datum("Identifier", id))
	a.raise(SessionRemoved{Session: sess})

	return err
}

// Close closes every session, persisted state is kept. Events raised before
// Close are delivered before it returns.
func (a *Adapter) Close(ctx context.Context) error {
	a.lock.Lock()
	sessions := a.sessions
	a.sessions = map[string]*session.Session{}
	a.lock.Unlock()

	var errs []error

	for id, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", id, err))
		}
	}

	if err := a.stopEvents(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// limitedTransport bounds how many sessions read from their devices at once.
type limitedTransport struct {
	session.Transport
	sem *semaphore.Weighted
}

func (l *limitedTransport) Read(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	return l.Transport.Read(ctx)
}
