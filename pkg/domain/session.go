package domain

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusPending     SessionStatus = "pending"
	StatusRun         SessionStatus = "run"
	StatusWaitForUser SessionStatus = "wait_for_user"
	StatusError       SessionStatus = "error"
	StatusEnd         SessionStatus = "end"
	StatusExpired     SessionStatus = "expired"
)

// Terminal reports whether the status ends the session's lifecycle.
func (s SessionStatus) Terminal() bool {
	return s == StatusEnd || s == StatusError || s == StatusExpired
}

// Active reports whether the session is still subject to TTL monitoring.
func (s SessionStatus) Active() bool {
	return s == StatusPending || s == StatusRun || s == StatusWaitForUser
}

// Session is the durable record of one graph run.
type Session struct {
	ID              string         `json:"id"`
	GraphName       string         `json:"graph_name"`
	Status          SessionStatus  `json:"status"`
	StatusUpdatedAt time.Time      `json:"status_updated_at"`
	TimeToLive      time.Duration  `json:"time_to_live"` // 0 disables timeout monitoring
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	StatusData      map[string]any `json:"status_data,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
	GraphSchema     map[string]any `json:"graph_schema,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// StatusUpdate is the payload published on the session-status channel.
type StatusUpdate struct {
	SessionID  string         `json:"session_id"`
	Status     SessionStatus  `json:"status"`
	StatusData map[string]any `json:"status_data,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// UserInput is the payload of a per-session user_input channel message.
// The (CrewID, NodeName, ExecutionOrder) triple disambiguates concurrent
// and looped executions waiting on the same session.
type UserInput struct {
	CrewID         string `json:"crew_id"`
	NodeName       string `json:"node_name"`
	ExecutionOrder int    `json:"execution_order"`
	Text           string `json:"text"`
}
