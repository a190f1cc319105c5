// Package conversation models the conversation host the assistant runs in:
// conversations, their messages, participants and files, plus the registry
// that ties each conversation to a project and role.
package conversation

import (
	"context"
	"time"
)

// MessageType classifies a conversation message.
type MessageType string

const (
	MessageTypeChat            MessageType = "chat"
	MessageTypeNotice          MessageType = "notice"
	MessageTypeCommand         MessageType = "command"
	MessageTypeCommandResponse MessageType = "command_response"
)

// Message is one message in a conversation.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	SenderName     string         `json:"sender_name"`
	FromAssistant  bool           `json:"from_assistant,omitempty"`
	Type           MessageType    `json:"type"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// StateEvent tells UIs watching a conversation that some state changed.
// It carries no chat text.
type StateEvent struct {
	Seq            int64          `json:"seq"`
	ConversationID string         `json:"conversation_id"`
	Name           string         `json:"name"`
	Data           map[string]any `json:"data,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Info describes a conversation.
type Info struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	AssistantID string         `json:"assistant_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Participant is a member of a conversation.
type Participant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Role     string    `json:"role"` // user | assistant
	Active   bool      `json:"active"`
	JoinedAt time.Time `json:"joined_at"`
}

// FileInfo describes a file attached to a conversation.
type FileInfo struct {
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MessageQuery filters GetMessages. Zero values mean no filter.
type MessageQuery struct {
	Before time.Time
	After  time.Time
	Types  []MessageType
	Limit  int
}

// RemoteConversation is the narrow capability used for cross-conversation
// calls: notices, UI refreshes and file pushes into another conversation.
type RemoteConversation interface {
	ConversationID() string
	SendMessages(ctx context.Context, msgs ...Message) error
	SendStateEvent(ctx context.Context, ev StateEvent) error
	GetConversation(ctx context.Context) (Info, error)
	WriteFile(ctx context.Context, name, contentType string, data []byte) error
	DeleteFile(ctx context.Context, name string) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	ListFiles(ctx context.Context) ([]FileInfo, error)
	FileExists(ctx context.Context, name string) (bool, error)
}

// ClientFactory builds remote clients keyed by (assistantID, conversationID).
type ClientFactory interface {
	Client(assistantID, conversationID string) RemoteConversation
}

// Host is the full conversation host surface.
type Host interface {
	ClientFactory
	CreateConversation(ctx context.Context, info Info) (Info, error)
	GetMessages(ctx context.Context, conversationID string, q MessageQuery) ([]Message, error)
	GetParticipants(ctx context.Context, conversationID string) ([]Participant, error)
	AppendMessage(ctx context.Context, conversationID string, msg Message) (Message, error)
	SetParticipant(ctx context.Context, conversationID string, p Participant) error
}
