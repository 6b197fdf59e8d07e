// Package cli implements the logmail command tree (cobra): run, send-test and
// version.
package cli
