package gateway

import "context"

// Messenger defines the interface for chat gateways that deliver run reports
// and accept commands.
type Messenger interface {
	// Start begins the message listening loop
	Start(ctx context.Context) error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Handler answers an incoming chat message.
type Handler interface {
	Handle(ctx context.Context, chatID string, text string) string
}
