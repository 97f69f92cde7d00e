package models

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	// StatusFailed marks a single failed attempt in logs and API output.
	// It is never stored: a failed attempt either stays pending with a
	// retry scheduled, or the record moves to dead.
	StatusFailed Status = "failed"
	StatusDead   Status = "dead"
)

// Terminal reports whether a record in this status is done for good.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusDead
}

func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusDead:
		return true
	}
	return false
}

const DefaultMaxRetry = 3

// Message is a single outbound notification tracked through the delivery
// state machine. Destination and Content are opaque to the queue; only the
// handler registered for MessageType interprets them.
type Message struct {
	ID          int64     `json:"id"`
	MessageID   string    `json:"message_id"`
	MessageType string    `json:"message_type"`
	Destination string    `json:"destination"`
	Content     string    `json:"content"`
	Status      Status    `json:"status"`
	RetryCount  int       `json:"retry_count"`
	MaxRetry    int       `json:"max_retry"`
	NextRetryAt time.Time `json:"next_retry_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastError   string    `json:"last_error,omitempty"`
}

// NewMessage builds a pending record that is immediately due for delivery.
func NewMessage(messageType, destination, content string, maxRetry int) *Message {
	if maxRetry <= 0 {
		maxRetry = DefaultMaxRetry
	}
	now := time.Now().UTC()
	return &Message{
		MessageID:   NewMessageID(),
		MessageType: messageType,
		Destination: destination,
		Content:     content,
		Status:      StatusPending,
		RetryCount:  0,
		MaxRetry:    maxRetry,
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
