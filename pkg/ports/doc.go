/*
Package ports defines the driving and driven ports (interfaces) of the interplay runtime.

These interfaces decouple the core (registry, instances, router, store) from concrete
implementations, so adapters for clocks, HTTP endpoints or persistence backends can be
swapped without touching the orchestration logic.

# Key Interfaces

  - Adapter: the behaviour behind a module type (configure, start, stop, handle inputs).
  - Emitter: handed to a running adapter so it can publish its declared outputs.
  - Reconfigurer: optional, lets an adapter apply config changes without a restart.
  - StateBackend: loads and saves the AppState document (file, redis, sqlite, memory).
  - EventPublisher: fan-out sink for status and output events.
  - Watchable: sources that notify about manifest changes for hot reload.

RunBackendContract verifies any StateBackend implementation; package ports/tests
holds the equivalent suite for adapters.
*/
package ports
