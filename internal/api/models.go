// Package api serves the assistant's HTTP API: conversation host event
// ingress, read-only project inspection, health probes and metrics.
package api

import (
	"github.com/p-blackswan/project-assistant/internal/conversation"
	"github.com/p-blackswan/project-assistant/internal/project"
)

// ProblemDetail is an RFC 7807 error body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// --- conversations ---

// CreateConversationRequest is the body of POST /v1/conversations.
type CreateConversationRequest struct {
	ID       string         `json:"id,omitempty"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PostMessageRequest is the body of POST /v1/conversations/:id/messages.
type PostMessageRequest struct {
	SenderID   string                   `json:"sender_id"`
	SenderName string                   `json:"sender_name"`
	Content    string                   `json:"content"`
	Type       conversation.MessageType `json:"type,omitempty"`
	Metadata   map[string]any           `json:"metadata,omitempty"`
}

// ParticipantRequest is the body of POST /v1/conversations/:id/participants.
type ParticipantRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`   // user (default) | assistant
	Joined *bool  `json:"joined,omitempty"` // defaults to true
}

// MessagesResponse lists conversation messages.
type MessagesResponse struct {
	Messages []conversation.Message `json:"messages"`
}

// FileEventResponse acknowledges a file upload or deletion.
type FileEventResponse struct {
	Op       string `json:"op"`
	Filename string `json:"filename"`
}

// EventsResponse lists state events newer than the requested sequence.
type EventsResponse struct {
	Events []conversation.StateEvent `json:"events"`
	Seq    int64                     `json:"seq"`
}

// --- projects ---

// RequestsResponse lists a project's information requests.
type RequestsResponse struct {
	Requests []*project.InformationRequest `json:"requests"`
	Total    int                           `json:"total"`
}

// FilesResponse lists a project's shared files.
type FilesResponse struct {
	Files []project.ProjectFile `json:"files"`
}

// ReadinessResponse is the body of GET /readyz.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
