// Package version holds the build-time version string reported by the
// control surface's identity endpoint and the CLI's version subcommand.
package version

// Version is overridden at build time via -ldflags "-X
// github.com/NodePath81/pswitch/internal/version.Version=...".
var Version = "dev"
