// Package buildinfo holds build-time metadata injected through -ldflags.
package buildinfo

import (
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// Set with -ldflags "-X github.com/ecoscout/ecoscout-go/internal/buildinfo.version=..."
var (
	version   string
	buildDate string
)

// Context contains build metadata and the identifier of this process. It is
// not part of the user configuration.
type Context struct {
	version   string
	buildDate string
	instance  string
}

// NewContext returns a Context with the given values. An empty instance
// gets a random identifier.
func NewContext(version, buildDate, instance string) *Context {
	if instance == "" {
		instance = uuid.NewString()
	}
	return &Context{version: version, buildDate: buildDate, instance: instance}
}

var (
	current     *Context
	currentOnce sync.Once
)

// Current returns the Context of the running binary. Without -ldflags the
// module version recorded by the Go toolchain is used when available.
func Current() *Context {
	currentOnce.Do(func() {
		v := version
		if v == "" {
			if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "(devel)" {
				v = info.Main.Version
			}
		}
		current = NewContext(v, buildDate, "")
	})
	return current
}

// Version returns the release version.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build timestamp.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// InstanceID identifies this process in logs and telemetry.
func (c *Context) InstanceID() string {
	if c == nil || c.instance == "" {
		return UnknownValue
	}
	return c.instance
}

// Release is the identifier sent with error telemetry.
func (c *Context) Release() string {
	return "ecoscout@" + c.Version()
}
