package tuyadp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shimmeringbee/da/mocks"
	"github.com/shimmeringbee/persistence/impl/memory"
	"github.com/shimmeringbee/tuyadp/datapoint"
	"github.com/shimmeringbee/tuyadp/mapping"
	"github.com/shimmeringbee/tuyadp/rules"
	"github.com/shimmeringbee/tuyadp/session"
	"github.com/shimmeringbee/zigbee"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testRules = `
name: test
rules:
  - name: button
    priority: 10
    type: button
    any: [button, scene]
    settings:
      session.retries: 2
      session.discovery: false
      session.refresh: 10m
  - name: orphan
    priority: 5
    type: kettle
    any: [kettle]
`

func testAdapter(t *testing.T) *Adapter {
	r, err := mapping.NewRegistry("test",
		mapping.TableSpec{
			DeviceType: mapping.Common,
			Definitions: []mapping.Definition{
				{ID: 1, Name: "alarm", DecodeAs: datapoint.Boolean, Capability: "alarm_generic"},
				{ID: 4, Name: "battery", DecodeAs: datapoint.ScaledInteger, Scale: 1, Capability: mapping.BatteryCapability},
			},
		},
		mapping.TableSpec{
			DeviceType: "button",
			Definitions: []mapping.Definition{
				{ID: 1, Name: "button_1", DecodeAs: datapoint.Enum, Role: mapping.Action, EnumValues: map[int64]string{0: "single"}},
				{ID: 2, Name: "button_2", DecodeAs: datapoint.Enum, Role: mapping.Action, EnumValues: map[int64]string{0: "single"}},
			},
		},
	)
	require.NoError(t, err)

	e := rules.New()
	require.NoError(t, e.LoadString(testRules))
	require.NoError(t, e.CompileRules())

	opts := session.DefaultOptions()
	opts.RetryBase = time.Millisecond
	opts.ProbeInterval = time.Millisecond

	a := New(r, e, memory.New(), WithSessionOptions(opts))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})

	return a
}

func testDevice() *mocks.MockDevice {
	d := &mocks.MockDevice{}
	d.On("Identifier").Return(zigbee.GenerateLocalAdministeredIEEEAddress())
	return d
}

func readyTransport(r datapoint.Report) (*session.MockTransport, *session.MockSubscription) {
	sub := &session.MockSubscription{}
	sub.On("Cancel").Maybe()

	var handler atomic.Value

	mt := &session.MockTransport{}
	mt.On("Subscribe", mock.Anything, mock.Anything).Return(sub, nil).Run(func(args mock.Arguments) {
		handler.Store(args.Get(1).(session.ReportHandler))
	})
	mt.On("ConfigureReporting", mock.Anything).Return(nil)
	mt.On("Read", mock.Anything).Return(nil).Run(func(mock.Arguments) {
		if len(r) > 0 {
			handler.Load().(session.ReportHandler)(r)
		}
	})
	mt.On("Probe", mock.Anything, mock.Anything).Return(nil).Maybe()

	return mt, sub
}

func TestAdapter_Add(t *testing.T) {
	t.Run("classifies the device and starts a session with its table", func(t *testing.T) {
		a := testAdapter(t)
		d := testDevice()

		mt, _ := readyTransport(datapoint.Report{{ID: 1, Type: datapoint.WireEnum, Data: []byte{0x00}}})

		sink := &session.MockSink{}
		sink.On("TriggerEvent", mock.Anything, "button_1", mock.Anything).Return(nil)

		s, err := a.Add(context.Background(), d, DeviceInfo{Model: "TS0041", Manufacturer: "_TZ3000_Button"}, mt, sink)
		require.NoError(t, err)

		assert.Eventually(t, func() bool { return s.Status().State == session.Ready }, time.Second, time.Millisecond)
		assert.Equal(t, mapping.DeviceType("button"), s.Status().DeviceType)

		got, found := a.Get(d)
		assert.True(t, found)
		assert.Same(t, s, got)
		assert.Len(t, a.Sessions(), 1)
	})

	t.Run("unmatched devices use the common table", func(t *testing.T) {
		a := testAdapter(t)
		mt, _ := readyTransport(datapoint.Report{{ID: 4, Type: datapoint.WireValue, Data: []byte{0, 0, 0, 50}}})

		sink := &session.MockSink{}
		sink.On("UpdateCapability", mock.Anything, mapping.BatteryCapability, datapoint.Number(50)).Return(nil)

		s, err := a.Add(context.Background(), testDevice(), DeviceInfo{Model: "TS0601"}, mt, sink)
		require.NoError(t, err)

		assert.Equal(t, mapping.Common, s.Status().DeviceType)
		assert.Eventually(t, func() bool { return s.Status().State == session.Ready }, time.Second, time.Millisecond)
	})

	t.Run("a matched type without a table falls back to common", func(t *testing.T) {
		a := testAdapter(t)
		mt, _ := readyTransport(nil)

		s, err := a.Add(context.Background(), testDevice(), DeviceInfo{Model: "Smart Kettle"}, mt, &session.MockSink{})
		require.NoError(t, err)

		assert.Equal(t, mapping.Common, s.Status().DeviceType)
	})

	t.Run("rejects a second session for the same device", func(t *testing.T) {
		a := testAdapter(t)
		d := testDevice()
		mt, _ := readyTransport(nil)

		_, err := a.Add(context.Background(), d, DeviceInfo{}, mt, &session.MockSink{})
		require.NoError(t, err)

		_, err = a.Add(context.Background(), d, DeviceInfo{}, mt, &session.MockSink{})
		assert.ErrorIs(t, err, ErrDeviceExists)
	})

	t.Run("persists the device identity", func(t *testing.T) {
		a := testAdapter(t)
		d := testDevice()
		mt, _ := readyTransport(nil)

		_, err := a.Add(context.Background(), d, DeviceInfo{Model: "TS0041", Manufacturer: "_TZ3000_a", Driver: "zigbee"}, mt, &session.MockSink{})
		require.NoError(t, err)

		assert.Equal(t, map[string]DeviceInfo{
			d.Identifier().String(): {Model: "TS0041", Manufacturer: "_TZ3000_a", Driver: "zigbee"},
		}, a.Known())
	})
}

func TestAdapter_sessionOptions(t *testing.T) {
	t.Run("rule settings override the defaults", func(t *testing.T) {
		a := testAdapter(t)

		o := a.sessionOptions(context.Background(), rules.Settings{
			RetriesSetting:   2,
			DiscoverySetting: false,
			RefreshSetting:   "10m",
			TimeSyncSetting:  true,
		})

		assert.Equal(t, 2, o.RetryBudget)
		assert.False(t, o.Discovery)
		assert.Equal(t, 10*time.Minute, o.RefreshInterval)
		assert.True(t, o.TimeSync)
	})

	t.Run("missing and invalid settings keep the defaults", func(t *testing.T) {
		a := testAdapter(t)

		o := a.sessionOptions(context.Background(), rules.Settings{RefreshSetting: "often"})

		assert.Equal(t, 5, o.RetryBudget)
		assert.True(t, o.Discovery)
		assert.Zero(t, o.RefreshInterval)
		assert.Equal(t, session.DefaultProbes, o.Probes)
	})
}

func TestAdapter_Remove(t *testing.T) {
	t.Run("closes the session and forgets the device", func(t *testing.T) {
		a := testAdapter(t)
		d := testDevice()
		mt, sub := readyTransport(datapoint.Report{{ID: 1, Type: datapoint.WireBool, Data: []byte{0x01}}})

		sink := &session.MockSink{}
		sink.On("UpdateCapability", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		s, err := a.Add(context.Background(), d, DeviceInfo{}, mt, sink)
		require.NoError(t, err)

		assert.Eventually(t, func() bool { return s.Status().State == session.Ready }, time.Second, time.Millisecond)

		require.NoError(t, a.Remove(context.Background(), d))

		sub.AssertCalled(t, "Cancel")

		_, found := a.Get(d)
		assert.False(t, found)
		assert.Empty(t, a.Known())

		assert.ErrorIs(t, s.SendCommand(context.Background(), 1, datapoint.Bool(true)), session.ErrSessionClosed)
	})

	t.Run("fails for an unknown device", func(t *testing.T) {
		a := testAdapter(t)
		assert.ErrorIs(t, a.Remove(context.Background(), testDevice()), ErrDeviceNotFound)
	})
}

func TestAdapter_Close(t *testing.T) {
	t.Run("closes every session and keeps persisted state", func(t *testing.T) {
		a := testAdapter(t)
		mt, _ := readyTransport(nil)

		s1, err := a.Add(context.Background(), testDevice(), DeviceInfo{}, mt, &session.MockSink{})
		require.NoError(t, err)

		s2, err := a.Add(context.Background(), testDevice(), DeviceInfo{}, mt, &session.MockSink{})
		require.NoError(t, err)

		require.NoError(t, a.Close(context.Background()))

		assert.Empty(t, a.Sessions())
		assert.Len(t, a.Known(), 2)

		assert.ErrorIs(t, s1.SendCommand(context.Background(), 1, datapoint.Bool(true)), session.ErrSessionClosed)
		assert.ErrorIs(t, s2.SendCommand(context.Background(), 1, datapoint.Bool(true)), session.ErrSessionClosed)
	})
}

func TestAdapter_AddCallback(t *testing.T) {
	t.Run("raises added, state change and removed events in order", func(t *testing.T) {
		a := testAdapter(t)
		d := testDevice()
		mt, _ := readyTransport(datapoint.Report{{ID: 1, Type: datapoint.WireEnum, Data: []byte{0x00}}})

		sink := &session.MockSink{}
		sink.On("TriggerEvent", mock.Anything, "button_1", mock.Anything).Return(nil)

		events := make(chan any, 64)
		a.AddCallback(func(_ context.Context, e SessionAdded) error {
			events <- e
			return nil
		})
		a.AddCallback(func(_ context.Context, e SessionStateChanged) error {
			events <- e
			return nil
		})
		a.AddCallback(func(_ context.Context, e SessionRemoved) error {
			events <- e
			return nil
		})

		s, err := a.Add(context.Background(), d, DeviceInfo{Model: "TS0041"}, mt, sink)
		require.NoError(t, err)

		assert.Eventually(t, func() bool { return s.Status().State == session.Ready }, time.Second, time.Millisecond)
		require.NoError(t, a.Remove(context.Background(), d))

		var got []any
		for {
			select {
			case e := <-events:
				got = append(got, e)
			case <-time.After(time.Second):
				t.Fatal("removal event not delivered")
			}

			if _, removed := got[len(got)-1].(SessionRemoved); removed {
				break
			}
		}

		require.GreaterOrEqual(t, len(got), 3)
		assert.Equal(t, SessionAdded{Session: s, DeviceType: "button", Info: DeviceInfo{Model: "TS0041"}}, got[0])
		assert.Equal(t, SessionRemoved{Session: s}, got[len(got)-1])

		var last session.State
		reachedReady := false
		for _, e := range got[1 : len(got)-1] {
			sc, ok := e.(SessionStateChanged)
			require.True(t, ok, "unexpected event %T", e)
			assert.Same(t, s, sc.Session)
			assert.Equal(t, last, sc.From)
			last = sc.To

			if sc.To == session.Ready {
				reachedReady = true
			}
		}
		assert.True(t, reachedReady)
	})

	t.Run("a failing callback does not stop later events", func(t *testing.T) {
		a := testAdapter(t)
		d := testDevice()
		mt, _ := readyTransport(nil)

		removed := make(chan struct{})
		a.AddCallback(func(context.Context, SessionAdded) error {
			return errors.New("busy")
		})
		a.AddCallback(func(context.Context, SessionRemoved) error {
			close(removed)
			return nil
		})

		_, err := a.Add(context.Background(), d, DeviceInfo{}, mt, &session.MockSink{})
		require.NoError(t, err)
		require.NoError(t, a.Remove(context.Background(), d))

		select {
		case <-removed:
		case <-time.After(time.Second):
			t.Fatal("removal event not delivered")
		}
	})
}

func Test_limitedTransport(t *testing.T) {
	t.Run("bounds concurrent reads", func(t *testing.T) {
		release := make(chan struct{})
		entered := make(chan struct{})

		mt := &session.MockTransport{}
		mt.On("Read", mock.Anything).Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).Return(nil).Once()

		a := New(nil, nil, memory.New(), WithInitialReadConcurrency(1))
		t.Cleanup(func() { _ = a.Close(context.Background()) })

		lt := &limitedTransport{Transport: mt, sem: a.readSem}

		go func() {
			_ = lt.Read(context.Background())
		}()

		<-entered

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		assert.ErrorIs(t, lt.Read(ctx), context.DeadlineExceeded)

		close(release)
		mt.AssertNumberOfCalls(t, "Read", 1)
	})
}
