// Package mail renders outbox entries and hands them to a delivery transport.
package mail

import "context"

// Attachment is a fully loaded file attached to an outgoing message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	To          string
	ToName      string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// Transport delivers one message. Implementations never retry; the
// dispatcher owns retry scheduling.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// AttachmentLoader fetches stored documents referenced by outbox entries.
type AttachmentLoader interface {
	Load(ctx context.Context, key string) ([]byte, error)
}
