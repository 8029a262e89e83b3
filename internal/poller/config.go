package poller

import (
	"time"

	"github.com/kubev2v/doctrack/internal/progress"
	"github.com/lthibault/jitterbug/v2"
)

type Config struct {
	// Interval is the delay between polls while the renderer is visible.
	Interval time.Duration
	// HiddenInterval is used instead of Interval while the renderer is hidden.
	HiddenInterval time.Duration
	// RetryBackoff is the delay after a transport failure or a retryable status.
	RetryBackoff time.Duration
	// ResumeDelay is the near immediate refresh delay when the renderer becomes visible again.
	ResumeDelay    time.Duration
	RequestTimeout time.Duration
	// Jitter is the standard deviation added to the polling intervals.
	Jitter         time.Duration
	DwellThreshold int
	Dwell          time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:       2 * time.Second,
		HiddenInterval: 15 * time.Second,
		RetryBackoff:   3 * time.Second,
		ResumeDelay:    250 * time.Millisecond,
		RequestTimeout: 10 * time.Second,
		Jitter:         100 * time.Millisecond,
		DwellThreshold: progress.DefaultDwellThreshold,
		Dwell:          progress.DefaultDwell,
	}
}

// withDefaults fills unset durations. Jitter and Dwell may legitimately be zero.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.HiddenInterval <= 0 {
		c.HiddenInterval = d.HiddenInterval
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.ResumeDelay <= 0 {
		c.ResumeDelay = d.ResumeDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Dwell < 0 {
		c.Dwell = 0
	}
	return c
}

type jitterer interface {
	Jitter(time.Duration) time.Duration
}

type noJitter struct{}

func (noJitter) Jitter(d time.Duration) time.Duration {
	return d
}

func newJitterer(stdev time.Duration) jitterer {
	if stdev == 0 {
		return noJitter{}
	}
	return &jitterbug.Norm{Stdev: stdev, Mean: 0}
}
