// Package stream implements the delivery stream: a sink that accepts parsed
// log records, turns each one into an email and hands it to a mail transport
// without blocking the writer.
//
// A stream starts open. End stops accepting records, waits for every pending
// send to resolve and then releases the transport. Close releases the
// transport immediately.
package stream
