// Package events defines async operation lifecycle events and their publishers.
package events

// OperationEvent is emitted whenever an async operation changes status.
type OperationEvent struct {
	OperationID string  `json:"operationId"`
	CommandType string  `json:"commandType"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	Error       string  `json:"error,omitempty"`
	ErrorID     string  `json:"errorId,omitempty"`
	Timestamp   string  `json:"timestamp"`
}
