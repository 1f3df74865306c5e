package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/tuyadp/datapoint"
	"github.com/shimmeringbee/tuyadp/mapping"
)

// CommandRequest is an outbound write of a single datapoint.
type CommandRequest struct {
	ID    uint8
	Value datapoint.Value
}

// Send is SendCommand for a CommandRequest.
func (s *Session) Send(ctx context.Context, req CommandRequest) error {
	return s.SendCommand(ctx, req.ID, req.Value)
}

// SendCommand encodes and writes datapoint id. The write is dispatched
// asynchronously, only errors raised before dispatch are returned.
func (s *Session) SendCommand(ctx context.Context, id uint8, value datapoint.Value) error {
	return s.send(ctx, func() (mapping.Definition, error) {
		if def, found := s.table.Lookup(id); found {
			return def, nil
		}

		return mapping.Definition{}, fmt.Errorf("%w: %d", ErrUnknownDatapoint, id)
	}, value)
}

// SetCapability writes the datapoint backing capability. Settings without a
// capability are addressed as "setting.<name>".
func (s *Session) SetCapability(ctx context.Context, capability string, value datapoint.Value) error {
	return s.send(ctx, func() (mapping.Definition, error) {
		if def, found := s.table.LookupCapability(capability); found {
			return def, nil
		}

		if name, ok := strings.CutPrefix(capability, SettingPrefix); ok {
			for _, def := range s.table.Definitions() {
				if def.Name == name && def.Role == mapping.Setting {
					return def, nil
				}
			}
		}

		return mapping.Definition{}, fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
	}, value)
}

func (s *Session) send(ctx context.Context, resolve func() (mapping.Definition, error), value datapoint.Value) error {
	var sendErr error

	if err := s.call(ctx, func() {
		if s.state != Ready {
			sendErr = ErrSessionNotInitialized
			return
		}

		def, err := resolve()
		if err != nil {
			sendErr = err
			return
		}

		rec, err := encode(def, value)
		if err != nil {
			sendErr = err
			return
		}

		s.logger.Debug(s.ctx, "Sending command.", logwrap.Datum("ID", rec.ID), logwrap.Datum("Name", def.Name), logwrap.Datum("Value", value.String()))

		s.dispatchWrite(datapoint.Report{rec})
	}); err != nil {
		return err
	}

	return sendErr
}

func encode(def mapping.Definition, value datapoint.Value) (datapoint.Record, error) {
	data, err := datapoint.Encode(def.ID, def.Encoding(), def.Untransform(value))
	if err != nil {
		return datapoint.Record{}, err
	}

	return datapoint.Record{ID: def.ID, Type: datapoint.WireTypeFor(def.DecodeAs), Data: data}, nil
}

// dispatchWrite hands report to the transport without waiting for delivery.
func (s *Session) dispatchWrite(report datapoint.Report) {
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.WriteTimeout)
		defer cancel()

		if err := s.transport.Write(ctx, report); err != nil {
			s.logger.Warn(s.ctx, "Failed to write datapoints.", logwrap.Err(&TransportError{Op: "write", Err: err}))

			if errors.Is(err, ErrTransportClosed) {
				s.post(func() { s.degrade(&TransportError{Op: "write", Err: err}) })
			}
		}
	}()
}
