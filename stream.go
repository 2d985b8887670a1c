package haven

// StreamEventType discriminates events on a chat stream.
type StreamEventType string

const (
	// StreamStart is emitted once, after the upstream connection is
	// established and before any content.
	StreamStart StreamEventType = "start"
	// StreamDelta carries one content fragment.
	StreamDelta StreamEventType = "delta"
	// StreamDone terminates a successful stream and carries the persisted
	// assistant message id.
	StreamDone StreamEventType = "done"
	// StreamError terminates a failed stream.
	StreamError StreamEventType = "error"
)

// StreamEvent is one event on a chat stream. Exactly one of the payload
// fields is meaningful for a given Type.
type StreamEvent struct {
	Type StreamEventType

	// Content is set on delta events.
	Content string
	// MessageID is set on the done event: the id of the stored assistant
	// message.
	MessageID string
	// Err is set on error events.
	Err error
}
