package ports

import "context"

// Well-known transport channels.
const (
	ChannelSchemaIntake  = "session-schema"
	ChannelMessages      = "graph:messages"
	ChannelSessionStatus = "sessions:session_status"
)

// UserInputChannel returns the per-session channel carrying wait-for-user
// replies.
func UserInputChannel(sessionID string) string {
	return "sessions:" + sessionID + ":user_input"
}

// Broker is the pub/sub transport. Channels are not durable: subscribers
// must tolerate reconnects, and implementations are expected to resubscribe
// to every channel after a connection loss.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel of raw payloads and a cancel function that
	// tears the subscription down. The payload channel is closed on cancel
	// or when the broker shuts down.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}
