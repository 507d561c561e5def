// Package transport is the chat boundary. Ingress normalizes whatever the
// underlying client delivers into Inbound messages; Egress is the only path
// back out.
package transport

import (
	"context"
	"time"
)

// Inbound is one normalized incoming chat message.
type Inbound struct {
	ConversationID string
	// Sender is the E.164 phone number, digits only.
	Sender    string
	Text      string
	MessageID string
	// QuotedID is the id of the message the user replied to, when the
	// transport carries one.
	QuotedID   string
	ReceivedAt time.Time
}

// Handler consumes one inbound message.
type Handler func(ctx context.Context, msg Inbound)

// Ingress receives messages from the transport. Implementations must deliver
// messages from the same sender in arrival order.
type Ingress interface {
	OnMessage(h Handler)
	Connect(ctx context.Context) error
	Disconnect()
}

// Egress sends messages and reactions. SendText returns the outbound message
// id when the transport provides one.
type Egress interface {
	SendText(ctx context.Context, recipient, text string) (string, error)
	React(ctx context.Context, recipient, messageID, emoji string) error
}
