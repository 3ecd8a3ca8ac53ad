package domain

import "time"

// MessageType categorizes the payload of an emitted message.
type MessageType string

const (
	MessageStart        MessageType = "start"
	MessageFinish       MessageType = "finish"
	MessageError        MessageType = "error"
	MessageCustom       MessageType = "custom"
	MessageGroupResult  MessageType = "condition_group_result"
	MessageManipulation MessageType = "condition_group_manipulation"
)

// MessageData is the per-type payload of an envelope. Only the fields
// relevant to the Type are populated.
type MessageData struct {
	Type MessageType `json:"type"`

	Input     map[string]any `json:"input,omitempty"`
	Output    any            `json:"output,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Error     string         `json:"error,omitempty"`

	// Decision-table fields.
	GroupName string `json:"group_name,omitempty"`
	Result    *bool  `json:"result,omitempty"`

	// Custom crew-hook payloads (agent steps, task results).
	Payload map[string]any `json:"payload,omitempty"`
}

// Envelope wraps every lifecycle/custom message published on the
// graph-messages channel and persisted as a GraphSessionMessage row.
type Envelope struct {
	SessionID      string      `json:"session_id"`
	Name           string      `json:"name"`
	ExecutionOrder int         `json:"execution_order"`
	Timestamp      time.Time   `json:"timestamp"`
	MessageData    MessageData `json:"message_data"`
}

// BoolPtr is a small helper for MessageData.Result.
func BoolPtr(b bool) *bool { return &b }
