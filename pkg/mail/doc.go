// Package mail defines the outbound message model and the Transport capability
// used to deliver notifications, together with the built-in transport kinds:
// SMTP relay, direct-to-MX delivery with optional DKIM signing, a local
// sendmail binary, the Resend API, a zap log transport and an in-memory stub.
package mail
