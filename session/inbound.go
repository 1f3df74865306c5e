package session

import (
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/tuyadp/datapoint"
	"github.com/shimmeringbee/tuyadp/mapping"
)

// SettingPrefix prefixes the capability name of setting datapoints which have
// no capability of their own.
const SettingPrefix = "setting."

func (s *Session) handleReport(r datapoint.Report) {
	if s.state == Degraded {
		s.logger.Debug(s.ctx, "Dropping report received while degraded.")
		return
	}

	if len(r) == 0 {
		return
	}

	s.lastSeenAt = s.now()

	for _, rec := range r {
		s.processRecord(rec)
	}

	switch s.state {
	case Subscribing, ReadingInitial:
		s.initialDataReceived = true

		if s.sparse() && s.opts.Discovery && !s.discoveryStarted {
			s.startDiscovery()
		} else {
			s.becomeReady()
		}
	case Discovering:
		s.initialDataReceived = true
		s.becomeReady()
	}

	s.persist()
	s.publishStatus()
}

func (s *Session) sparse() bool {
	return s.table.OwnCount() < s.opts.SparseThreshold
}

func (s *Session) processRecord(rec datapoint.Record) {
	def, found := s.table.Lookup(rec.ID)
	if !found {
		s.logger.Debug(s.ctx, "Unknown datapoint received.", logwrap.Datum("ID", rec.ID), logwrap.Datum("Type", rec.Type.String()), logwrap.Datum("Length", len(rec.Data)))
		s.recordDiscovered(rec)
		return
	}

	v, err := datapoint.Decode(rec.ID, def.Encoding(), rec.Data)
	if err != nil {
		s.logger.Warn(s.ctx, "Failed to decode datapoint, skipping.", logwrap.Datum("ID", rec.ID), logwrap.Datum("Name", def.Name), logwrap.Err(err))
		return
	}

	v = def.Transform(v)

	if def.Role == mapping.Action {
		if err := s.sink.TriggerEvent(s.ctx, def.Name, v); err != nil {
			s.logger.Warn(s.ctx, "Sink rejected event.", logwrap.Datum("Event", def.Name), logwrap.Err(err))
		}
	}

	capability := def.Capability

	if capability == "" && def.Role == mapping.Setting {
		capability = SettingPrefix + def.Name
		s.storeSetting(def.Name, v)
	}

	if capability == "" {
		return
	}

	if err := s.sink.UpdateCapability(s.ctx, capability, v); err != nil {
		s.logger.Warn(s.ctx, "Sink rejected capability update.", logwrap.Datum("Capability", capability), logwrap.Err(err))
	}
}

func (s *Session) startDiscovery() {
	s.discoveryStarted = true
	s.probeIndex = 0
	s.transition(Discovering)

	s.logger.Info(s.ctx, "Starting datapoint discovery.", logwrap.Datum("Probes", len(s.opts.Probes)))

	s.sendNextProbe()
}

// sendNextProbe sends one probe per ProbeInterval. Probing continues after the
// session becomes Ready, any answers are handled as ordinary reports.
func (s *Session) sendNextProbe() {
	if s.state == Degraded {
		return
	}

	if s.probeIndex >= len(s.opts.Probes) {
		s.logger.Debug(s.ctx, "Datapoint discovery complete.")

		if s.state == Discovering && s.initialDataReceived {
			s.becomeReady()
		}

		return
	}

	id := s.opts.Probes[s.probeIndex]
	s.probeIndex++

	go func() {
		if err := s.transport.Probe(s.ctx, id); err != nil {
			s.logger.Debug(s.ctx, "Probe failed.", logwrap.Datum("ID", id), logwrap.Err(&TransportError{Op: "probe", Err: err}))
		}
	}()

	s.schedule(probeTimer, s.opts.ProbeInterval, s.sendNextProbe)
}
