// File: cmd/version.go
package cmd

// Version is the application version.
// Example: go build -ldflags "-X github.com/xkilldash9x/webpilot/cmd.Version=1.0.0"
var Version = "dev"
