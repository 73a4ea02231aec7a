// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime counters, configuration snapshots and debug introspection for the
// accept pipeline.
//
// Provides concurrent-safe state handling primitives including:
//   - Accept counters broken out by destination worker
//   - Immutable configuration snapshots with reload hooks
//   - Named debug probes, such as coroutine manager occupancy
package control
