package runtime

// Version is the release version, stamped at build time via
// -ldflags "-X .../internal/runtime.Version=...". It shows up in the
// -version flag and in the telemetry resource.
var Version = "0.1.0-dev"
