package domain

import (
	"time"
)

// Terminal job statuses. Any other status value reported by the agent is
// treated as still in progress, so unknown labels never abort polling.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// IsTerminalStatus reports whether a job status admits no further transitions.
func IsTerminalStatus(status string) bool {
	return status == StatusDone || status == StatusFailed
}

// IsSuccessStatus reports whether a terminal status is a success.
func IsSuccessStatus(status string) bool {
	return status == StatusDone
}

// OperationKind identifies the type of a tracked remote job.
type OperationKind string

const (
	// OperationAnalysis is a style/image analysis job.
	OperationAnalysis OperationKind = "analysis"
	// OperationFitting is a virtual garment fitting job.
	OperationFitting OperationKind = "fitting"
)

// PendingOperation tracks one in-flight remote job for a conversation.
// At most one may be active per conversation at any time; it is destroyed
// when polling reaches a terminal status or the conversation is reset.
type PendingOperation struct {
	Kind        OperationKind
	OperationID int64
	SessionID   string
	Blocking    bool
	StartedAt   time.Time
}

// RequestKind classifies the semantic type of a user request. The label only
// selects which progress caption set is shown; it never affects routing, so a
// misclassification is cosmetic rather than functional.
type RequestKind string

const (
	RequestIdle        RequestKind = "idle"
	RequestImageSearch RequestKind = "image_search"
	RequestTextSearch  RequestKind = "text_search"
	RequestFitting     RequestKind = "fitting"
	RequestCart        RequestKind = "cart"
	RequestOrder       RequestKind = "order"
)

// AgentState is the user-visible state of the assistant.
type AgentState string

const (
	StateIdle       AgentState = "idle"
	StateThinking   AgentState = "thinking"
	StateSearching  AgentState = "searching"
	StatePresenting AgentState = "presenting"
	StateSuccess    AgentState = "success"
	StateError      AgentState = "error"
)

// Busy reports whether the state represents an outstanding operation.
func (s AgentState) Busy() bool {
	return s == StateThinking || s == StateSearching
}

// Conversation is the persisted registry row binding a device/tab to the
// agent session id the remote service issued for it. Transcript content is
// never persisted; this is identity bookkeeping only.
type Conversation struct {
	UserID          string    `json:"user_id"`
	ClientSessionID string    `json:"client_session_id"`
	AgentSessionID  string    `json:"agent_session_id,omitempty"`
	TurnCount       int       `json:"turn_count"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
