package system

var (
	// Version is the semantic version, injected at build time via -ldflags.
	Version = "0.0.0-dev"
	// Commit is the git commit hash, injected at build time.
	Commit = ""
)
