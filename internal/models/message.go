package models

import "time"

// Message represents a single transcript entry. The ID is assigned at creation and never reused, the
// role is fixed for the life of the message, and the content only grows while an assistant response
// is being streamed into it.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// Role represents the role of a transcript entry.
type Role string

const (
	// RoleUser represents a question typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents an answer from the remote agent, built up token by token.
	RoleAssistant Role = "assistant"
	// RoleError represents a failure recorded in the transcript.
	RoleError Role = "error"
	// RoleInfo represents a status notice, such as the thread being ready.
	RoleInfo Role = "info"
)
