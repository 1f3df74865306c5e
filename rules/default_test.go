package rules

import (
	"testing"

	"github.com/shimmeringbee/tuyadp/mapping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Run("default rules can be loaded and pass compilation", func(t *testing.T) {
		e := New()

		err := e.LoadFS(Embedded)
		assert.NoError(t, err)

		err = e.CompileRules()
		assert.NoError(t, err)

		assert.Contains(t, e.RuleSets, "security")
	})

	t.Run("every default rule targets a shipped mapping table", func(t *testing.T) {
		e, err := Default()
		require.NoError(t, err)

		r, err := mapping.Default()
		require.NoError(t, err)

		for _, cr := range e.Rules {
			assert.True(t, r.Has(cr.DeviceType), "rule %s targets %s", cr.Name, cr.DeviceType)
		}
	})

	t.Run("radar presence outranks motion", func(t *testing.T) {
		e, err := Default()
		require.NoError(t, err)

		m, ok := e.Detect(Input{Driver: "presence_sensor_radar"})
		assert.True(t, ok)
		assert.Equal(t, mapping.DeviceType("radar-presence"), m.DeviceType)
		assert.False(t, m.Settings.BooleanOr("session.discovery", true))

		m, _ = e.Detect(Input{Driver: "motion_sensor"})
		assert.Equal(t, mapping.DeviceType("motion"), m.DeviceType)
	})

	t.Run("known radar manufacturers are matched by filter", func(t *testing.T) {
		e, err := Default()
		require.NoError(t, err)

		m, ok := e.Detect(Input{Model: "TS0601", Manufacturer: "_TZE200_ikvncluo"})
		assert.True(t, ok)
		assert.Equal(t, "radar-presence-known", m.Rule)
	})

	t.Run("combined motion and climate drivers are multi sensors", func(t *testing.T) {
		e, err := Default()
		require.NoError(t, err)

		m, _ := e.Detect(Input{Driver: "motion_temperature_sensor"})
		assert.Equal(t, mapping.DeviceType("multi-sensor"), m.DeviceType)
	})

	t.Run("window coverings are covers not contacts", func(t *testing.T) {
		e, err := Default()
		require.NoError(t, err)

		m, _ := e.Detect(Input{Driver: "window_covering"})
		assert.Equal(t, mapping.DeviceType("cover"), m.DeviceType)
	})
}
