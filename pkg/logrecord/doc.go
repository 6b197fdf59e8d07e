// Package logrecord models bunyan-style structured log records and renders
// them into email subject lines and plain-text bodies.
package logrecord
