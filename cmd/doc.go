// Package cmd implements the command-line interface of dCache. It provides a
// hierarchical command structure for running the server and for working with
// the caches of a running server as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts and configures the dCache server
//   - cache: Client commands (get, put, find, release, identify, resolve)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as an environment variable DCACHE_<FLAG>, e.g.
// DCACHE_SHARED_BACKEND=pebble. Variables are read from .env and .env.local
// as well.
//
// See dcache -help for a list of all commands.
package cmd
