/*
Package interplay is a module runtime for wiring interaction graphs: input
modules (clocks, frame counters, HTTP listeners) connected to output modules
(logs, HTTP endpoints, allow-listed commands) without writing code.

# Concept

A module type is described by a manifest (its config schema and the events it
consumes and produces) and backed by a compiled-in adapter. The Orchestrator
creates instances of module types, routes the output events of one instance to
the inputs of others and keeps the whole graph durable across restarts.

# Components

  - Registry and Loader (pkg/registry, pkg/loader): discover, validate and hot reload manifests.
  - Instance (pkg/instance): the lifecycle of one configured adapter.
  - Router (pkg/router): delivers emissions along routes, isolating failures per route.
  - Store (pkg/store): the persisted AppState, with file, redis, sqlite and memory backends.
  - Middleware (pkg/persistence/middleware): encryption at rest and redacted views over a backend.
  - DSL (pkg/dsl): a fluent builder for the interactions given to SaveInteractions.

# Usage

	ctx := context.Background()
	rt, err := interplay.New(ctx, file.New(".interplay/state.json"))
	if err != nil {
		log.Fatal(err)
	}
	defer rt.Shutdown(ctx)

	clockID, _ := rt.CreateInstance(ctx, "clock-input", domain.ModuleConfig{"targetTime": "14:30"})
	logID, _ := rt.CreateInstance(ctx, "log-output", nil)
	_, err = rt.CreateRoute(ctx, clockID, "trigger", logID, interplay.ToInput("log"))

Every output and lifecycle change is published to Subscribe.
*/
package interplay
