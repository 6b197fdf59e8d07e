// Package metrics defines Prometheus metrics for logmail, covering ingested
// records, mail delivery outcomes, rejected writes and in-flight sends.
package metrics
