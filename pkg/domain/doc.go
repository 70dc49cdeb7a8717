/*
Package domain contains the core data model of the interplay module runtime.

It defines the entities the runtime moves around (manifests, instances, routes,
interactions and the persisted application state) plus the error taxonomy shared
by every layer. This package is kept pure and free of I/O, following Hexagonal
Architecture principles.

# Key Entities

  - Manifest: static declaration of what a module type can do (config schema and events).
  - InstanceSummary: the persisted view of one configured copy of a module type.
  - Route: a directed edge from one instance's output event to another instance's input.
  - Interaction: a saved graph of instances and routes, the unit of save/restore.
  - AppState: the single mutable root persisted by the state store.
  - Event: an emission flowing from an instance to the router and to subscribers.
*/
package domain
