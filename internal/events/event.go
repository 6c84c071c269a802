package events

import "time"

// Type is one of the typed messages the broadcaster fans out.
type Type string

const (
	TypeWorkOrderCreated         Type = "workorder:created"
	TypeWorkOrderUpdated         Type = "workorder:updated"
	TypeRunStarted               Type = "run_started"
	TypeRunCompleted             Type = "run_completed"
	TypeRunFailed                Type = "run_failed"
	TypeAgentToolCall             Type = "agent_tool_call"
	TypeAgentToolResult           Type = "agent_tool_result"
	TypeAgentOutput               Type = "agent_output"
	TypeFileChanged                Type = "file_changed"
	TypeProgressUpdate             Type = "progress_update"
	TypeSubscriptionConfirmed      Type = "subscription_confirmed"
	TypeUnsubscriptionConfirmed    Type = "unsubscription_confirmed"
	TypePong                       Type = "pong"
	TypeError                      Type = "error"
)

// Event is one published message, scoped to a single work order.
type Event struct {
	Type        Type           `json:"type"`
	WorkOrderID string         `json:"workOrderId"`
	RunID       string         `json:"runId,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	PublishedAt time.Time      `json:"publishedAt"`
}
