// Package api exposes the service-mode HTTP interface: command submission and
// lookup backed by the task queue, the command journal, health and Prometheus
// metrics.
package api
