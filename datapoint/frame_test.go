package datapoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRecords(t *testing.T) {
	t.Run("parses consecutive records of all types", func(t *testing.T) {
		payload := []byte{
			0x01, 0x01, 0x00, 0x01, 0x01,
			0x02, 0x02, 0x00, 0x04, 0x00, 0x00, 0x00, 0xfa,
			0x0d, 0x03, 0x00, 0x05, 'h', 'e', 'l', 'l', 'o',
			0x0a, 0x00, 0x00, 0x00,
		}

		report, err := ParseRecords(payload)
		assert.NoError(t, err)
		assert.Equal(t, Report{
			{ID: 1, Type: WireBool, Data: []byte{0x01}},
			{ID: 2, Type: WireValue, Data: []byte{0x00, 0x00, 0x00, 0xfa}},
			{ID: 13, Type: WireString, Data: []byte("hello")},
			{ID: 10, Type: WireRaw, Data: []byte{}},
		}, report)
	})

	t.Run("empty payload yields no records", func(t *testing.T) {
		report, err := ParseRecords(nil)
		assert.NoError(t, err)
		assert.Empty(t, report)
	})

	t.Run("truncated data returns what was parsed and an error", func(t *testing.T) {
		payload := []byte{
			0x01, 0x01, 0x00, 0x01, 0x01,
			0x02, 0x02, 0x00, 0x04, 0x00, 0x00,
		}

		report, err := ParseRecords(payload)
		assert.ErrorIs(t, err, ErrMalformedPayload)
		assert.Len(t, report, 1)
	})

	t.Run("truncated header is an error", func(t *testing.T) {
		_, err := ParseRecords([]byte{0x01, 0x01})
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func TestMarshalRecords(t *testing.T) {
	t.Run("marshalled records parse back to the same report", func(t *testing.T) {
		report := Report{
			{ID: 1, Type: WireBool, Data: []byte{0x00}},
			{ID: 5, Type: WireString, Data: []byte("00b401f403e8")},
		}

		out, err := ParseRecords(MarshalRecords(report))
		assert.NoError(t, err)
		assert.Equal(t, report, out)
	})
}

func TestTimePayload(t *testing.T) {
	t.Run("formats the clock with monday as day zero", func(t *testing.T) {
		ts := time.Date(2024, time.March, 4, 13, 14, 15, 0, time.UTC)

		assert.Equal(t, []byte{24, 3, 4, 13, 14, 15, 0}, TimePayload(ts))
		assert.Equal(t, uint8(6), TimePayload(ts.AddDate(0, 0, 6))[6])
	})
}
