package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/storage"
)

const (
	conversationFile = "conversation.json"
	messagesFile     = "messages.json"
	convFilesDir     = "files"
)

type conversationRecord struct {
	Info         Info                `json:"info"`
	Participants []Participant       `json:"participants"`
	Files        map[string]FileInfo `json:"files"`
}

// LocalHost is a Host kept on the local filesystem:
//
//	{root}/{conversation_id}/conversation.json
//	{root}/{conversation_id}/messages.json
//	{root}/{conversation_id}/files/{name}
//
// State events are held in memory by an EventFeed.
type LocalHost struct {
	root   string
	events *EventFeed
	locks  *storage.Locker
	now    func() time.Time
	logger zerolog.Logger
}

// NewLocalHost creates a host rooted at root.
func NewLocalHost(root string, events *EventFeed, logger zerolog.Logger) *LocalHost {
	if events == nil {
		events = NewEventFeed(0)
	}
	return &LocalHost{
		root:   root,
		events: events,
		locks:  storage.NewLocker(),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "conversation.local_host").Logger(),
	}
}

// Events returns the host's state event feed.
func (h *LocalHost) Events() *EventFeed { return h.events }

func (h *LocalHost) dir(conversationID string) (string, error) {
	if !storage.ValidName(conversationID) {
		return "", perrors.New(perrors.ErrInvalidInput, "Invalid conversation id %q.", conversationID)
	}
	return filepath.Join(h.root, conversationID), nil
}

func (h *LocalHost) load(conversationID string) (string, *conversationRecord, error) {
	dir, err := h.dir(conversationID)
	if err != nil {
		return "", nil, err
	}
	var rec conversationRecord
	found, err := storage.ReadJSONFile(filepath.Join(dir, conversationFile), &rec)
	if err != nil {
		return "", nil, err
	}
	if !found {
		return "", nil, perrors.New(perrors.ErrNotFound, "Conversation %s not found.", conversationID)
	}
	if rec.Files == nil {
		rec.Files = make(map[string]FileInfo)
	}
	return dir, &rec, nil
}

// CreateConversation creates a conversation. An empty ID is generated.
func (h *LocalHost) CreateConversation(ctx context.Context, info Info) (Info, error) {
	if info.ID == "" {
		info.ID = uuid.New().String()
	}
	dir, err := h.dir(info.ID)
	if err != nil {
		return Info{}, err
	}
	unlock := h.locks.Lock(info.ID)
	defer unlock()

	path := filepath.Join(dir, conversationFile)
	if _, err := os.Stat(path); err == nil {
		return Info{}, perrors.New(perrors.ErrInvalidInput, "Conversation %s already exists.", info.ID)
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = h.now()
	}
	rec := conversationRecord{Info: info, Files: map[string]FileInfo{}}
	if err := storage.WriteJSONFile(path, rec); err != nil {
		return Info{}, err
	}
	h.logger.Debug().Str("conversation_id", info.ID).Msg("conversation created")
	return info, nil
}

// GetConversation returns a conversation's info.
func (h *LocalHost) GetConversation(ctx context.Context, conversationID string) (Info, error) {
	_, rec, err := h.load(conversationID)
	if err != nil {
		return Info{}, err
	}
	return rec.Info, nil
}

// AppendMessage stores msg, filling in ID and timestamp when empty.
func (h *LocalHost) AppendMessage(ctx context.Context, conversationID string, msg Message) (Message, error) {
	dir, _, err := h.load(conversationID)
	if err != nil {
		return Message{}, err
	}
	unlock := h.locks.Lock(conversationID)
	defer unlock()

	path := filepath.Join(dir, messagesFile)
	var msgs []Message
	if _, err := storage.ReadJSONFile(path, &msgs); err != nil {
		return Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	if msg.Type == "" {
		msg.Type = MessageTypeChat
	}
	msg.ConversationID = conversationID
	msgs = append(msgs, msg)
	if err := storage.WriteJSONFile(path, msgs); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// GetMessages returns messages matching q in chronological order. Limit
// keeps the most recent matches.
func (h *LocalHost) GetMessages(ctx context.Context, conversationID string, q MessageQuery) ([]Message, error) {
	dir, _, err := h.load(conversationID)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if _, err := storage.ReadJSONFile(filepath.Join(dir, messagesFile), &msgs); err != nil {
		return nil, err
	}

	types := make(map[MessageType]bool, len(q.Types))
	for _, t := range q.Types {
		types[t] = true
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if !q.After.IsZero() && !m.Timestamp.After(q.After) {
			continue
		}
		if !q.Before.IsZero() && !m.Timestamp.Before(q.Before) {
			continue
		}
		if len(types) > 0 && !types[m.Type] {
			continue
		}
		out = append(out, m)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

// GetParticipants returns the conversation's participants.
func (h *LocalHost) GetParticipants(ctx context.Context, conversationID string) ([]Participant, error) {
	_, rec, err := h.load(conversationID)
	if err != nil {
		return nil, err
	}
	return rec.Participants, nil
}

// SetParticipant inserts or replaces a participant by ID.
func (h *LocalHost) SetParticipant(ctx context.Context, conversationID string, p Participant) error {
	return h.mutate(conversationID, func(rec *conversationRecord) error {
		if p.JoinedAt.IsZero() {
			p.JoinedAt = h.now()
		}
		for i, existing := range rec.Participants {
			if existing.ID == p.ID {
				if !existing.JoinedAt.IsZero() {
					p.JoinedAt = existing.JoinedAt
				}
				rec.Participants[i] = p
				return nil
			}
		}
		rec.Participants = append(rec.Participants, p)
		return nil
	})
}

func (h *LocalHost) mutate(conversationID string, fn func(rec *conversationRecord) error) error {
	unlock := h.locks.Lock(conversationID)
	defer unlock()

	dir, rec, err := h.load(conversationID)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	return storage.WriteJSONFile(filepath.Join(dir, conversationFile), rec)
}

// Client returns a remote client for conversationID. assistantID is the
// sender identity stamped on messages sent through it.
func (h *LocalHost) Client(assistantID, conversationID string) RemoteConversation {
	return &localClient{host: h, assistantID: assistantID, conversationID: conversationID}
}

type localClient struct {
	host           *LocalHost
	assistantID    string
	conversationID string
}

func (c *localClient) ConversationID() string { return c.conversationID }

func (c *localClient) SendMessages(ctx context.Context, msgs ...Message) error {
	for _, m := range msgs {
		m.SenderID = c.assistantID
		m.FromAssistant = true
		if _, err := c.host.AppendMessage(ctx, c.conversationID, m); err != nil {
			return err
		}
	}
	return nil
}

func (c *localClient) SendStateEvent(ctx context.Context, ev StateEvent) error {
	if _, _, err := c.host.load(c.conversationID); err != nil {
		return err
	}
	ev.ConversationID = c.conversationID
	c.host.events.Publish(ev)
	return nil
}

func (c *localClient) GetConversation(ctx context.Context) (Info, error) {
	return c.host.GetConversation(ctx, c.conversationID)
}

func (c *localClient) filePath(dir, name string) (string, error) {
	if !storage.ValidName(name) {
		return "", perrors.New(perrors.ErrInvalidInput, "Invalid filename %q.", name)
	}
	return filepath.Join(dir, convFilesDir, name), nil
}

func (c *localClient) WriteFile(ctx context.Context, name, contentType string, data []byte) error {
	return c.host.mutate(c.conversationID, func(rec *conversationRecord) error {
		dir, err := c.host.dir(c.conversationID)
		if err != nil {
			return err
		}
		path, err := c.filePath(dir, name)
		if err != nil {
			return err
		}
		if err := storage.WriteFileAtomic(path, data); err != nil {
			return err
		}
		rec.Files[name] = FileInfo{
			Name:        name,
			ContentType: contentType,
			Size:        int64(len(data)),
			UpdatedAt:   c.host.now(),
		}
		return nil
	})
}

func (c *localClient) DeleteFile(ctx context.Context, name string) error {
	return c.host.mutate(c.conversationID, func(rec *conversationRecord) error {
		dir, err := c.host.dir(c.conversationID)
		if err != nil {
			return err
		}
		path, err := c.filePath(dir, name)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("deleting %s: %w", name, err)
		}
		delete(rec.Files, name)
		return nil
	})
}

func (c *localClient) ReadFile(ctx context.Context, name string) ([]byte, error) {
	dir, _, err := c.host.load(c.conversationID)
	if err != nil {
		return nil, err
	}
	path, err := c.filePath(dir, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, perrors.New(perrors.ErrNotFound, "File %s not found.", name)
	}
	return data, err
}

func (c *localClient) ListFiles(ctx context.Context) ([]FileInfo, error) {
	_, rec, err := c.host.load(c.conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, len(rec.Files))
	for _, f := range rec.Files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *localClient) FileExists(ctx context.Context, name string) (bool, error) {
	_, rec, err := c.host.load(c.conversationID)
	if err != nil {
		return false, err
	}
	_, ok := rec.Files[name]
	return ok, nil
}
