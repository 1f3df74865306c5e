package session

import (
	"sort"
	"strconv"

	"github.com/shimmeringbee/tuyadp/datapoint"
)

const (
	StateKey               = "State"
	DeviceTypeKey          = "DeviceType"
	RetryCountKey          = "RetryCount"
	InitialDataReceivedKey = "InitialDataReceived"
	LastSeenKey            = "LastSeen"

	DiscoveredSection = "Discovered"
	SettingsSection   = "Settings"

	WireTypeKey = "WireType"
	LengthKey   = "Length"
)

func (s *Session) persist() {
	s.section.Set(StateKey, s.state.String())
	s.section.Set(DeviceTypeKey, string(s.table.DeviceType()))
	s.section.Set(RetryCountKey, s.retryCount)
	s.section.Set(InitialDataReceivedKey, s.initialDataReceived)

	if !s.lastSeenAt.IsZero() {
		s.section.Set(LastSeenKey, s.lastSeenAt.UnixMilli())
	}
}

func (s *Session) recordDiscovered(rec datapoint.Record) {
	ds := s.section.Section(DiscoveredSection, strconv.Itoa(int(rec.ID)))
	ds.Set(WireTypeKey, int(rec.Type))
	ds.Set(LengthKey, len(rec.Data))
	ds.Set(LastSeenKey, s.now().UnixMilli())
}

func (s *Session) storeSetting(name string, v datapoint.Value) {
	ss := s.section.Section(SettingsSection)

	switch tv := v.(type) {
	case datapoint.Bool:
		ss.Set(name, bool(tv))
	case datapoint.Number:
		ss.Set(name, float64(tv))
	default:
		ss.Set(name, tv.String())
	}
}

// Discovered lists the ids of datapoints the device sent that have no
// definition in its table, including those recorded by earlier sessions.
func (s *Session) Discovered() []uint8 {
	var ids []uint8

	for _, k := range s.section.Section(DiscoveredSection).Keys() {
		if id, err := strconv.ParseUint(k, 10, 8); err == nil {
			ids = append(ids, uint8(id))
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Setting returns the last stored value of a setting datapoint without a
// capability, as persisted.
func (s *Session) Setting(name string) (any, bool) {
	ss := s.section.Section(SettingsSection)

	if b, ok := ss.Bool(name); ok {
		return b, true
	}

	if f, ok := ss.Float(name); ok {
		return f, true
	}

	if str, ok := ss.String(name); ok {
		return str, true
	}

	return nil, false
}
