// Package version holds the symbolic version of the running code. It is
// overridden at build time with -ldflags "-X".
package version

// Version is the symbolic version of this build.
var Version = "v0.0.0-dev"
