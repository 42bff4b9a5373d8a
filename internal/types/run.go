package types

import "time"

type RunStatus string

const (
	RunStatusPending         RunStatus = "PENDING"
	RunStatusRunning         RunStatus = "RUNNING"
	RunStatusWaitingApproval RunStatus = "WAITING_APPROVAL"
	RunStatusCompleted       RunStatus = "COMPLETED"
	RunStatusFailed          RunStatus = "FAILED"
	RunStatusCancelled       RunStatus = "CANCELLED"
)

var RunStatuses = []RunStatus{
	RunStatusPending,
	RunStatusRunning,
	RunStatusWaitingApproval,
	RunStatusCompleted,
	RunStatusFailed,
	RunStatusCancelled,
}

func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusCancelled
}

func (s RunStatus) Valid() bool {
	for _, candidate := range RunStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusSkipped   StepStatus = "SKIPPED"
)

// Checkpoint marks the last completed step of a run.
type Checkpoint struct {
	NextStep           int    `json:"nextStep"`
	LastCompletedStep  string `json:"lastCompletedStep,omitempty"`
	Context            Record `json:"context,omitempty"`
	PolicyCheckPending bool   `json:"policyCheckPending,omitempty"`
}

type Run struct {
	ID                string     `json:"id"`
	CorrelationID     string     `json:"correlationId"`
	WorkflowID        string     `json:"workflowId"`
	Status            RunStatus  `json:"status"`
	EventType         string     `json:"eventType"`
	ObjectType        string     `json:"objectType,omitempty"`
	ObjectID          string     `json:"objectId,omitempty"`
	AccountID         string     `json:"accountId,omitempty"`
	ContactID         string     `json:"contactId,omitempty"`
	DealID            string     `json:"dealId,omitempty"`
	CreatedByID       string     `json:"createdById,omitempty"`
	Payload           Record     `json:"payload,omitempty"`
	Checkpoint        Checkpoint `json:"checkpointData"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	CancelRequestedAt *time.Time `json:"cancelRequestedAt,omitempty"`
	CancelReason      string     `json:"cancelReason,omitempty"`
}

type RunStep struct {
	ID           string     `json:"id"`
	RunID        string     `json:"runId"`
	Seq          int        `json:"seq"`
	StepName     string     `json:"stepName"`
	Status       StepStatus `json:"status"`
	RetryCount   int        `json:"retryCount"`
	Input        Record     `json:"input,omitempty"`
	Output       Record     `json:"output,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// CancelRequest records cancel intent for a run that is mid-advance.
type CancelRequest struct {
	RunID       string    `json:"runId"`
	Reason      string    `json:"reason,omitempty"`
	RequestedBy string    `json:"requestedBy,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// EventEnvelope is the normalized intake form of a business event.
type EventEnvelope struct {
	Meta    EnvelopeMeta `json:"meta"`
	Payload Record       `json:"payload"`
}

type EnvelopeMeta struct {
	EventID       string    `json:"eventId"`
	Source        string    `json:"source"`
	EventType     string    `json:"eventType"`
	ObjectType    string    `json:"objectType"`
	ObjectID      string    `json:"objectId"`
	PropertyName  string    `json:"propertyName,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
	ReceivedAt    time.Time `json:"receivedAt"`
	CorrelationID string    `json:"correlationId"`
	WorkflowID    string    `json:"workflowId,omitempty"`
	AccountID     string    `json:"accountId,omitempty"`
	ContactID     string    `json:"contactId,omitempty"`
	DealID        string    `json:"dealId,omitempty"`
	Version       string    `json:"version,omitempty"`
}
