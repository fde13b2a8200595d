package api

// Transport represents one live client connection bound to a single session.
// Implementations must be safe for concurrent WriteFrame calls.
type Transport interface {
	// WriteFrame delivers one frame to the client. An error means the
	// transport is no longer usable.
	WriteFrame(f Frame) error
	// Close tears down the underlying connection. Idempotent.
	Close() error
}

// Channel defines the standardized lifecycle interface for communication platforms.
type Channel interface {
	ID() string
	Start(ctx ChannelContext) error
	Stop() error
}

// ChannelContext provides the interface for a Channel implementation to
// communicate back with the gateway core.
type ChannelContext interface {
	// Attach registers a live transport for the session and runs the
	// connect hook (session creation). Fails with gateway.ErrSessionActive
	// when the session already has an open transport.
	Attach(sessionID, userID string, t Transport) error
	// Detach removes the session's transport and fires the disconnect hook
	// exactly once per registration. Idempotent.
	Detach(sessionID string)
	// OnMessage forwards one inbound user message into the core.
	OnMessage(sessionID, content string)
}

// MessageHandler defines the function signature for processing incoming messages.
type MessageHandler func(sessionID, content string)

// AgentEngine defines the interface for the core reasoning engine.
type AgentEngine interface {
	// Submit enqueues one user message for the session. Messages for the
	// same session are processed strictly in arrival order, one completion
	// cycle at a time.
	Submit(sessionID, content string)
	// CancelSession aborts the session's in-flight completion cycle, if any,
	// and releases its worker.
	CancelSession(sessionID string)
	// Shutdown stops all session workers and waits for in-flight cycles.
	Shutdown()
}
