// Package cmd implements the command-line interface of MemCon. It provides
// the publisher daemon and a diagnostic receiver.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a MemCon server that publishes a slot per tick to every connected receiver
//   - receive: Connects to a server as a receiver and logs the delivered slots
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as environment variable MEMCON_<FLAG> (e.g. MEMCON_LOG_LEVEL=debug),
// .env and .env.local files are loaded on start.
//
// See memcon -help for a list of all commands.
package cmd
