// Package metrics defines the Prometheus instrumentation of the poller.
//
// All collectors are registered with the default registry in init and
// exposed by Handler on /metrics.
package metrics
