package mail

import "errors"

var (
	// ErrConfig marks invalid or unrecognised transport and message configuration.
	// It is only ever returned at construction time.
	ErrConfig = errors.New("invalid mail configuration")

	// ErrSend wraps every delivery failure reported by a transport.
	ErrSend = errors.New("mail send failed")

	// ErrTransportClosed is returned by Send once the transport has been closed.
	ErrTransportClosed = errors.New("mail transport is closed")

	// ErrNoRecipient indicates a message without any To, Cc or Bcc address.
	ErrNoRecipient = errors.New("message must have at least one recipient")
)
