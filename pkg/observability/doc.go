/*
Package observability provides the Prometheus instrumentation of the interplay runtime.

Metrics are created per runtime and registered on a caller-supplied
prometheus.Registerer, so several runtimes (or tests) can coexist in one process.
Every method is safe to call on a nil *Metrics, which lets components treat
instrumentation as optional.
*/
package observability
