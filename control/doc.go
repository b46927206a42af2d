// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics and debug introspection for the daemon.
//
// Provides:
//   - YAML configuration loading and a reloadable snapshot store
//   - Prometheus collectors for the connection lifecycle
//   - Named debug probes dumped as JSON next to /metrics
package control
