package session

import "time"

// DefaultProbes are datapoint ids commonly used across device families, they
// are requested in this order during discovery.
var DefaultProbes = []uint8{1, 2, 3, 5, 9, 101, 102, 4, 14, 15}

type Options struct {
	// RetryBudget is the number of initial read attempts.
	RetryBudget int
	// RetryBase is multiplied by the attempt number to give the delay before
	// the next attempt.
	RetryBase     time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Discovery     bool
	Probes        []uint8
	ProbeInterval time.Duration
	// SparseThreshold triggers discovery after a successful initial read when
	// the device type table defines fewer rows of its own.
	SparseThreshold int
	// RefreshInterval re-reads Ready sessions periodically, zero disables.
	RefreshInterval time.Duration
	// TimeSync writes the local clock on Ready and daily at TimeSyncHour.
	TimeSync     bool
	TimeSyncHour int
}

func DefaultOptions() Options {
	return Options{
		RetryBudget:     5,
		RetryBase:       2 * time.Second,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		Discovery:       true,
		Probes:          append([]uint8(nil), DefaultProbes...),
		ProbeInterval:   500 * time.Millisecond,
		SparseThreshold: 2,
		TimeSyncHour:    3,
	}
}

func (o Options) normalised() Options {
	if o.RetryBudget < 1 {
		o.RetryBudget = 1
	}

	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 5 * time.Second
	}

	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}

	if o.TimeSyncHour < 0 || o.TimeSyncHour > 23 {
		o.TimeSyncHour = 3
	}

	o.Probes = append([]uint8(nil), o.Probes...)

	return o
}
