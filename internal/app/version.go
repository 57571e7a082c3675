package app

// Version is the release version, overridden at build time.
var Version = "dev"

// BuildCommit is the VCS commit, overridden at build time.
var BuildCommit = "unknown"
