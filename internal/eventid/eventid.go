// Package eventid provides the process-wide monotonic event id source used
// to stamp push notifications. Ids are strictly increasing and unique for
// the lifetime of the process, under any number of concurrent callers.
//
// This counter is distinct from the per-session event counters kept by the
// session registry; the two id spaces must not be conflated.
package eventid

import (
	"strconv"
	"sync/atomic"
)

// Generator issues monotonically increasing event ids.
type Generator struct {
	counter atomic.Int64
}

// NewGenerator returns a Generator starting at zero.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns the next id as a decimal string.
func (g *Generator) Generate() string {
	return strconv.FormatInt(g.counter.Add(1), 10)
}

// GenerateScoped returns the next id prefixed with a scope, typically a
// session id, as "{scope}-{n}". The counter is shared with Generate, so ids
// remain globally ordered across scopes.
func (g *Generator) GenerateScoped(scope string) string {
	n := strconv.FormatInt(g.counter.Add(1), 10)
	if scope == "" {
		return n
	}
	return scope + "-" + n
}

// Reset zeroes the counter. It exists for test isolation only and must not
// be called from serving code.
func (g *Generator) Reset() {
	g.counter.Store(0)
}
