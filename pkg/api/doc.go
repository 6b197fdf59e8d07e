// Package api implements the operational HTTP endpoint (Gin-based) of the
// logmail daemon: Prometheus metrics, liveness and readiness probes and a
// JSON status document for the delivery stream.
package api
