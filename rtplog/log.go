// Package rtplog wires zerolog through rtpcore components and provides the
// one-shot warning helper used by the packetization/validator failure paths
// described in the transport core's error propagation policy.
package rtplog

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Base is the process-wide root logger. Components derive sub-loggers from
// it via Component instead of constructing their own.
var Base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// Component returns a logger tagged with the given component name, mirroring
// how diago's session types attach a "component" field to every log line.
func Component(name string) zerolog.Logger {
	return Base.With().Str("component", name).Logger()
}

// Once guards a log statement so it fires at most once, used for the
// "packetize while not Started" and "validator rejected compound RTCP"
// warnings that must not spam the log on every subsequent occurrence.
type Once struct {
	once sync.Once
}

// Warn logs msg through fn the first time Warn is called; subsequent calls
// are no-ops.
func (o *Once) Warn(fn func()) {
	o.once.Do(fn)
}

// Reset allows the guard to fire again, used by tests and by components that
// reset one-shot state on restart (e.g. RtpSession transitioning back to
// Started after a Stop/Start cycle).
func (o *Once) Reset() {
	o.once = sync.Once{}
}
