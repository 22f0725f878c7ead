package cmd

// Version is stamped at build time via
// -ldflags "-X github.com/tapsucode/stealthfleet/cmd.Version=v1.2.3".
var Version = "dev"
