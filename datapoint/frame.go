package datapoint

import (
	"encoding/binary"
	"fmt"
	"time"
)

const recordHeaderLength = 4

// TimeSyncID is the datapoint used to push the gateway clock to a device.
const TimeSyncID uint8 = 0x24

// ParseRecords parses consecutive [id][type][length:2 BE][data] records. If the
// payload is truncated the records parsed so far are returned with the error.
func ParseRecords(payload []byte) (Report, error) {
	var report Report

	pos := 0
	for pos < len(payload) {
		if pos+recordHeaderLength > len(payload) {
			return report, fmt.Errorf("%w: truncated record header at offset %d", ErrMalformedPayload, pos)
		}

		id := payload[pos]
		wt := WireType(payload[pos+1])
		length := int(binary.BigEndian.Uint16(payload[pos+2 : pos+4]))
		pos += recordHeaderLength

		if pos+length > len(payload) {
			return report, fmt.Errorf("%w: datapoint %d needs %d bytes at offset %d, have %d", ErrMalformedPayload, id, length, pos, len(payload)-pos)
		}

		data := make([]byte, length)
		copy(data, payload[pos:pos+length])
		pos += length

		report = append(report, Record{ID: id, Type: wt, Data: data})
	}

	return report, nil
}

// MarshalRecords is the inverse of ParseRecords.
func MarshalRecords(report Report) []byte {
	size := 0
	for _, r := range report {
		size += recordHeaderLength + len(r.Data)
	}

	out := make([]byte, 0, size)
	for _, r := range report {
		out = append(out, r.ID, uint8(r.Type))
		out = binary.BigEndian.AppendUint16(out, uint16(len(r.Data)))
		out = append(out, r.Data...)
	}

	return out
}

// TimePayload formats t for the time synchronisation datapoint, weekdays count
// from Monday as zero.
func TimePayload(t time.Time) []byte {
	return []byte{
		uint8(t.Year() - 2000),
		uint8(t.Month()),
		uint8(t.Day()),
		uint8(t.Hour()),
		uint8(t.Minute()),
		uint8(t.Second()),
		uint8((int(t.Weekday()) + 6) % 7),
	}
}
