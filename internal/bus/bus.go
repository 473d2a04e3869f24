// Package bus provides in-process agent-to-agent message exchange with
// per-recipient queues, correlation-ID request/response matching, and
// duplicate suppression.
//
// Delivery is at-least-once (callers may retry sends) but processing is
// exactly-once per correlation ID: a recipient never observes the same
// request twice.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"guardacademy.io/guardacademy/pkg/protocol"
)

// ProtocolTimeoutError reports that no response arrived within the
// deadline. It is recoverable: the caller should treat the target agent
// as unavailable and fall back.
type ProtocolTimeoutError struct {
	CorrelationID string
	Recipient     string
	Timeout       time.Duration
}

func (e *ProtocolTimeoutError) Error() string {
	return fmt.Sprintf("no response from %s within %s (correlation %s)", e.Recipient, e.Timeout, e.CorrelationID)
}

// Config holds bus configuration.
type Config struct {
	// QueueSize is the per-recipient inbox capacity
	QueueSize int

	// RequestTimeout is the default deadline for Request
	RequestTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:      64,
		RequestTimeout: 5 * time.Second,
	}
}

// Bus routes messages between agents.
type Bus struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	inboxes map[string]chan protocol.Message

	// seen tracks request correlation IDs already queued per recipient,
	// so duplicate deliveries are dropped before processing. Each entry
	// keeps its session ID so session_complete can prune the session's
	// state.
	seen map[string]map[string]string

	// waiters maps correlation IDs to response channels for Request.
	waiters map[string]chan protocol.Message
}

// New creates a message bus.
func New(cfg Config, logger zerolog.Logger) *Bus {
	return &Bus{
		cfg:     cfg,
		logger:  logger.With().Str("component", "bus").Logger(),
		inboxes: make(map[string]chan protocol.Message),
		seen:    make(map[string]map[string]string),
		waiters: make(map[string]chan protocol.Message),
	}
}

// Send queues a message for its recipient and returns immediately with the
// correlation ID. Responses are routed to a pending Request waiter and
// dropped when the waiter has already given up; duplicate requests for an
// already-seen correlation ID are acknowledged but dropped.
func (b *Bus) Send(msg protocol.Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", fmt.Errorf("invalid message: %w", err)
	}

	b.mu.Lock()

	if msg.IsResponse() {
		waiter, ok := b.waiters[msg.CorrelationID]
		if !ok {
			// The requester timed out and removed its waiter. Queueing the
			// response would leave it rotting in an inbox nobody drains.
			b.mu.Unlock()
			b.logger.Debug().
				Str("correlation_id", msg.CorrelationID).
				Str("sender", msg.Sender).
				Msg("Unmatched response dropped")
			return msg.CorrelationID, nil
		}
		delete(b.waiters, msg.CorrelationID)
		b.mu.Unlock()
		waiter <- msg
		return msg.CorrelationID, nil
	}

	recipientSeen, ok := b.seen[msg.Recipient]
	if !ok {
		recipientSeen = make(map[string]string)
		b.seen[msg.Recipient] = recipientSeen
	}
	if _, dup := recipientSeen[msg.CorrelationID]; dup {
		b.mu.Unlock()
		b.logger.Debug().
			Str("correlation_id", msg.CorrelationID).
			Str("recipient", msg.Recipient).
			Msg("Duplicate message dropped")
		return msg.CorrelationID, nil
	}
	recipientSeen[msg.CorrelationID] = msg.SessionID

	// Session end retires the session's dedupe entries so the map does
	// not grow across sessions. The teardown itself is idempotent on the
	// agent side, so its own entry can go too.
	if msg.Type == protocol.TypeSessionComplete && msg.SessionID != "" {
		for corr, sid := range recipientSeen {
			if sid == msg.SessionID {
				delete(recipientSeen, corr)
			}
		}
		if len(recipientSeen) == 0 {
			delete(b.seen, msg.Recipient)
		}
	}

	inbox := b.inbox(msg.Recipient)
	b.mu.Unlock()

	select {
	case inbox <- msg:
	default:
		return "", fmt.Errorf("inbox full for %s", msg.Recipient)
	}

	b.logger.Debug().
		Str("type", string(msg.Type)).
		Str("sender", msg.Sender).
		Str("recipient", msg.Recipient).
		Str("correlation_id", msg.CorrelationID).
		Msg("Message queued")

	return msg.CorrelationID, nil
}

// Receive blocks until a message arrives for the agent or the context
// expires.
func (b *Bus) Receive(ctx context.Context, agentID string) (protocol.Message, error) {
	b.mu.Lock()
	inbox := b.inbox(agentID)
	b.mu.Unlock()

	select {
	case msg := <-inbox:
		return msg, nil
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// Respond sends a reply carrying the original's correlation ID. The reply
// envelope must have been built with Message.Reply so the correlation ID
// is preserved.
func (b *Bus) Respond(original, reply protocol.Message) error {
	if reply.CorrelationID != original.CorrelationID {
		return fmt.Errorf("response correlation id %s does not match request %s",
			reply.CorrelationID, original.CorrelationID)
	}
	_, err := b.Send(reply)
	return err
}

// Request sends a message and blocks until the matching response arrives
// or the timeout elapses. A zero timeout uses the configured default. On
// timeout the returned error is a *ProtocolTimeoutError.
func (b *Bus) Request(ctx context.Context, msg protocol.Message, timeout time.Duration) (protocol.Message, error) {
	if timeout <= 0 {
		timeout = b.cfg.RequestTimeout
	}

	waiter := make(chan protocol.Message, 1)
	b.mu.Lock()
	b.waiters[msg.CorrelationID] = waiter
	b.mu.Unlock()

	if _, err := b.Send(msg); err != nil {
		b.removeWaiter(msg.CorrelationID)
		return protocol.Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-waiter:
		return resp, nil
	case <-timer.C:
		b.removeWaiter(msg.CorrelationID)
		return protocol.Message{}, &ProtocolTimeoutError{
			CorrelationID: msg.CorrelationID,
			Recipient:     msg.Recipient,
			Timeout:       timeout,
		}
	case <-ctx.Done():
		b.removeWaiter(msg.CorrelationID)
		return protocol.Message{}, ctx.Err()
	}
}

// inbox returns the recipient's queue, creating it on first use. Caller
// must hold b.mu.
func (b *Bus) inbox(agentID string) chan protocol.Message {
	inbox, ok := b.inboxes[agentID]
	if !ok {
		inbox = make(chan protocol.Message, b.cfg.QueueSize)
		b.inboxes[agentID] = inbox
	}
	return inbox
}

func (b *Bus) removeWaiter(correlationID string) {
	b.mu.Lock()
	delete(b.waiters, correlationID)
	b.mu.Unlock()
}
