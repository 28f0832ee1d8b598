package protocol

import (
	"encoding/json"
	"time"
)

// OperationStatus represents the lifecycle state of an async operation.
type OperationStatus string

const (
	OperationCreated   OperationStatus = "Created"
	OperationCompleted OperationStatus = "Completed"
	OperationFailed    OperationStatus = "Failed"
)

// Terminal reports whether the status can no longer change.
func (s OperationStatus) Terminal() bool {
	return s == OperationCompleted || s == OperationFailed
}

// Operation tracks a conference running in the background.
type Operation struct {
	ID        string          `json:"operation_id"`
	MonitorID string          `json:"monitor_id"`
	Status    OperationStatus `json:"status"`
	Result    json.RawMessage `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a copy with its own result buffer.
func (o Operation) Clone() Operation {
	if o.Result != nil {
		o.Result = append(json.RawMessage(nil), o.Result...)
	}
	return o
}
