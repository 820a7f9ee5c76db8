package session

import (
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// Options configures a Manager. Zero fields take the defaults in the struct tags.
type Options struct {
	// OperationTimeout is how long a write or subscription may wait for its native response.
	OperationTimeout time.Duration `default:"10s"`

	// SweepInterval is the period of the pending-operation timeout sweep.
	SweepInterval time.Duration `default:"1s"`

	// QueueSize bounds the serial queue; producers block while it is full.
	QueueSize int `default:"256"`

	Logger *logrus.Logger

	// Clock overrides time.Now for timeout bookkeeping
	Clock func() time.Time
}

// DefaultOptions returns options with every default applied
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

// withDefaults fills every zero field of o from DefaultOptions
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = d.OperationTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
