package session

import (
	"context"

	"github.com/shimmeringbee/tuyadp/datapoint"
)

// ReportHandler receives inbound reports, in the order they arrived.
type ReportHandler func(datapoint.Report)

// Transport is the cluster endpoint of a single device.
type Transport interface {
	Subscribe(ctx context.Context, handler ReportHandler) (Subscription, error)
	ConfigureReporting(ctx context.Context) error
	// Read solicits the current datapoints from the device. Frames the device
	// sends in answer are delivered to subscription handlers like any other,
	// Read returns once the first of them has been handed to the handlers.
	Read(ctx context.Context) error
	Probe(ctx context.Context, id uint8) error
	Write(ctx context.Context, report datapoint.Report) error
}

type Subscription interface {
	Cancel()
}

// Sink receives the capability model produced by a session. Calls are made from
// the sessions loop and must not call back into the session synchronously.
type Sink interface {
	UpdateCapability(ctx context.Context, capability string, value datapoint.Value) error
	TriggerEvent(ctx context.Context, name string, value datapoint.Value) error
}
