package session

import (
	"context"

	"github.com/shimmeringbee/tuyadp/datapoint"
	"github.com/stretchr/testify/mock"
)

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Subscribe(ctx context.Context, handler ReportHandler) (Subscription, error) {
	args := m.Called(ctx, handler)

	if sub, ok := args.Get(0).(Subscription); ok {
		return sub, args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *MockTransport) ConfigureReporting(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockTransport) Read(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockTransport) Probe(ctx context.Context, id uint8) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockTransport) Write(ctx context.Context, report datapoint.Report) error {
	return m.Called(ctx, report).Error(0)
}

type MockSubscription struct {
	mock.Mock
}

func (m *MockSubscription) Cancel() {
	m.Called()
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) UpdateCapability(ctx context.Context, capability string, value datapoint.Value) error {
	return m.Called(ctx, capability, value).Error(0)
}

func (m *MockSink) TriggerEvent(ctx context.Context, name string, value datapoint.Value) error {
	return m.Called(ctx, name, value).Error(0)
}

var _ Transport = (*MockTransport)(nil)
var _ Subscription = (*MockSubscription)(nil)
var _ Sink = (*MockSink)(nil)
