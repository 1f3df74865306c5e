package zcltransport

import (
	"context"
	"sync"
	"time"

	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/retry"
	"github.com/shimmeringbee/tuyadp/datapoint"
	"github.com/shimmeringbee/tuyadp/session"
	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zcl/commands/local/basic"
	"github.com/shimmeringbee/zcl/communicator"
	"github.com/shimmeringbee/zigbee"
)

const DefaultNetworkTimeout = 3000 * time.Millisecond
const DefaultNetworkRetries = 5

// TransmissionLookup returns the node address, local endpoint, whether APS
// acknowledgements are required and the next ZCL transaction sequence for a
// device.
type TransmissionLookup func(da.Device, zigbee.ProfileID) (zigbee.IEEEAddress, zigbee.Endpoint, bool, uint8)

type Config struct {
	RemoteEndpoint zigbee.Endpoint
	// KeepAlive additionally configures a Basic ZCLVersion report, for devices
	// which leave the network if not polled.
	KeepAlive bool
	Timeout   time.Duration
	Retries   int
}

func DefaultConfig() Config {
	return Config{
		RemoteEndpoint: 1,
		Timeout:        DefaultNetworkTimeout,
		Retries:        DefaultNetworkRetries,
	}
}

var _ session.Transport = (*Transport)(nil)

// Transport carries Tuya datapoint frames for a single device over the EF00
// cluster.
type Transport struct {
	zclCommunicator    communicator.Communicator
	nodeBinder         zigbee.NodeBinder
	transmissionLookup TransmissionLookup
	device             da.Device
	config             Config
	logger             *logwrap.Logger

	ieeeAddress   zigbee.IEEEAddress
	localEndpoint zigbee.Endpoint

	lock        *sync.Mutex
	match       *communicator.Match
	handlers    map[*subscription]session.ReportHandler
	waiters     []chan struct{}
	sequence    uint16
	closed      bool
	closeSignal chan struct{}
}

func New(zc communicator.Communicator, nb zigbee.NodeBinder, tl TransmissionLookup, d da.Device, c Config, l logwrap.Logger) *Transport {
	if c.Timeout <= 0 {
		c.Timeout = DefaultNetworkTimeout
	}

	if c.Retries <= 0 {
		c.Retries = DefaultNetworkRetries
	}

	ieee, localEndpoint, _, _ := tl(d, zigbee.ProfileHomeAutomation)

	l.AddOptionsToLogger(logwrap.Datum("IEEEAddress", ieee.String()), logwrap.Datum("RemoteEndpoint", c.RemoteEndpoint))

	return &Transport{
		zclCommunicator:    zc,
		nodeBinder:         nb,
		transmissionLookup: tl,
		device:             d,
		config:             c,
		logger:             &l,
		ieeeAddress:        ieee,
		localEndpoint:      localEndpoint,
		lock:               &sync.Mutex{},
		handlers:           map[*subscription]session.ReportHandler{},
		closeSignal:        make(chan struct{}),
	}
}

type subscription struct {
	t    *Transport
	once sync.Once
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.t.lock.Lock()
		defer s.t.lock.Unlock()

		delete(s.t.handlers, s)
	})
}

func (t *Transport) Subscribe(_ context.Context, handler session.ReportHandler) (session.Subscription, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return nil, session.ErrTransportClosed
	}

	t.ensureMatch()

	s := &subscription{t: t}
	t.handlers[s] = handler

	return s, nil
}

// ensureMatch registers the inbound match, lock must be held.
func (t *Transport) ensureMatch() {
	if t.match != nil {
		return
	}

	m := communicator.NewMatch(t.zclFilter, t.zclMessage)
	t.match = &m
	t.zclCommunicator.RegisterMatch(m)
}

func (t *Transport) zclFilter(a zigbee.IEEEAddress, _ zigbee.ApplicationMessage, m zcl.Message) bool {
	return a == t.ieeeAddress &&
		m.ClusterID == ClusterID &&
		m.SourceEndpoint == t.config.RemoteEndpoint &&
		m.DestinationEndpoint == t.localEndpoint &&
		m.Direction == zcl.ServerToClient
}

func (t *Transport) zclMessage(m communicator.MessageWithSource) {
	var payload []byte

	switch cmd := m.Message.Command.(type) {
	case *DataResponse:
		payload = cmd.Payload
	case *DataReport:
		payload = cmd.Payload
	default:
		return
	}

	report, err := datapoint.ParseRecords(payload)
	if err != nil {
		t.logger.Warn(context.Background(), "Malformed datapoint frame, delivering complete records only.", logwrap.Err(err), logwrap.Datum("Records", len(report)))
	}

	if len(report) == 0 {
		return
	}

	t.lock.Lock()

	handlers := make([]session.ReportHandler, 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}

	waiters := t.waiters
	t.waiters = nil

	t.lock.Unlock()

	for _, h := range handlers {
		h(report)
	}

	for _, w := range waiters {
		close(w)
	}
}

// ConfigureReporting binds the datapoint cluster to the controller so that
// reports are delivered.
func (t *Transport) ConfigureReporting(ctx context.Context) error {
	if t.isClosed() {
		return session.ErrTransportClosed
	}

	if err := retry.Retry(ctx, t.config.Timeout, t.config.Retries, func(ctx context.Context) error {
		return t.nodeBinder.BindNodeToController(ctx, t.ieeeAddress, t.localEndpoint, t.config.RemoteEndpoint, ClusterID)
	}); err != nil {
		return err
	}

	if !t.config.KeepAlive {
		return nil
	}

	return retry.Retry(ctx, t.config.Timeout, t.config.Retries, func(ctx context.Context) error {
		if err := t.nodeBinder.BindNodeToController(ctx, t.ieeeAddress, t.localEndpoint, t.config.RemoteEndpoint, zcl.BasicId); err != nil {
			return err
		}

		_, _, ack, seq := t.transmissionLookup(t.device, zigbee.ProfileHomeAutomation)
		return t.zclCommunicator.ConfigureReporting(ctx, t.ieeeAddress, ack, zcl.BasicId, zigbee.NoManufacturer, t.localEndpoint, t.config.RemoteEndpoint, seq, basic.ZCLVersion, zcl.TypeUnsignedInt8, uint16(60), uint16(240), uint(0))
	})
}

// Read queries the device for all datapoints and returns once the next frame
// it sends has been delivered to subscribers.
func (t *Transport) Read(ctx context.Context) error {
	w := make(chan struct{})

	t.lock.Lock()
	if t.closed {
		t.lock.Unlock()
		return session.ErrTransportClosed
	}

	t.ensureMatch()
	t.waiters = append(t.waiters, w)
	t.lock.Unlock()

	if err := t.request(ctx, DataQueryID, &DataQuery{}); err != nil {
		t.removeWaiter(w)
		return err
	}

	select {
	case <-w:
		return nil
	case <-t.closeSignal:
		return session.ErrTransportClosed
	case <-ctx.Done():
		t.removeWaiter(w)

		// A frame may have been delivered while removing.
		select {
		case <-w:
			return nil
		default:
			return ctx.Err()
		}
	}
}

func (t *Transport) removeWaiter(w chan struct{}) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for i, c := range t.waiters {
		if c == w {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			return
		}
	}
}

// Probe asks the device to report a single datapoint, the answer arrives
// through subscriptions.
func (t *Transport) Probe(ctx context.Context, id uint8) error {
	return t.request(ctx, DataQueryID, &DataQuery{Payload: []byte{id}})
}

func (t *Transport) Write(ctx context.Context, r datapoint.Report) error {
	return t.request(ctx, DataRequestID, &DataRequest{
		Sequence: t.nextSequence(),
		Payload:  datapoint.MarshalRecords(r),
	})
}

func (t *Transport) request(ctx context.Context, id zcl.CommandIdentifier, cmd interface{}) error {
	if t.isClosed() {
		return session.ErrTransportClosed
	}

	return retry.Retry(ctx, t.config.Timeout, t.config.Retries, func(ctx context.Context) error {
		ieee, localEndpoint, ack, seq := t.transmissionLookup(t.device, zigbee.ProfileHomeAutomation)

		return t.zclCommunicator.Request(ctx, ieee, ack, zcl.Message{
			FrameType:           zcl.FrameLocal,
			Direction:           zcl.ClientToServer,
			TransactionSequence: seq,
			Manufacturer:        zigbee.NoManufacturer,
			ClusterID:           ClusterID,
			SourceEndpoint:      localEndpoint,
			DestinationEndpoint: t.config.RemoteEndpoint,
			CommandIdentifier:   id,
			Command:             cmd,
		})
	})
}

// nextSequence returns the next Tuya frame sequence, wrapping at 16 bits.
func (t *Transport) nextSequence() uint16 {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.sequence++
	return t.sequence
}

func (t *Transport) isClosed() bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.closed
}

// Close unregisters from the communicator, pending and future operations fail
// with session.ErrTransportClosed.
func (t *Transport) Close() {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return
	}

	t.closed = true
	close(t.closeSignal)

	if t.match != nil {
		t.zclCommunicator.UnregisterMatch(*t.match)
		t.match = nil
	}

	t.handlers = map[*subscription]session.ReportHandler{}
	t.waiters = nil
}
