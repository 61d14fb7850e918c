// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rbmk-project/stacksock/deadline"
	"github.com/rbmk-project/stacksock/iovec"
)

// Config contains configuration shared by sockets.
//
// The zero value is ready to use.
type Config struct {
	// Logger is the OPTIONAL logger for structured logging.
	//
	// If nil, we do not emit logs.
	Logger *slog.Logger

	// TimeNow is the OPTIONAL function returning the current time.
	//
	// If nil, we use [time.Now]. Deadlines are computed using this
	// function, so it must return readings with a monotonic component.
	TimeNow func() time.Time

	// SchedLock is the OPTIONAL cooperative scheduling lock.
	//
	// When set, sockets hold it while processing the results of
	// blocking operations and release it while waiting for
	// readiness and while calling into the provider.
	SchedLock sync.Locker

	// MaxSegments is the OPTIONAL maximum number of buffers
	// accepted by vectored operations.
	//
	// If zero, we use [iovec.MaxSegments].
	MaxSegments int
}

// DefaultConfig is the default [*Config] used when nil is passed.
var DefaultConfig = &Config{}

// configOrDefault returns config or [DefaultConfig].
func configOrDefault(config *Config) *Config {
	if config == nil {
		return DefaultConfig
	}
	return config
}

// timeNow returns the current time using TimeNow or [time.Now].
func (c *Config) timeNow() time.Time {
	if c.TimeNow != nil {
		return c.TimeNow()
	}
	return time.Now()
}

// clock returns the [deadline.Clock] to use.
func (c *Config) clock() deadline.Clock {
	if c.TimeNow != nil {
		return deadline.ClockFunc(c.TimeNow)
	}
	return deadline.System
}

// maxSegments returns the segment limit to use.
func (c *Config) maxSegments() int {
	if c.MaxSegments > 0 {
		return c.MaxSegments
	}
	return iovec.MaxSegments
}
