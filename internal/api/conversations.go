package api

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	"github.com/p-blackswan/project-assistant/internal/filesync"
	"github.com/p-blackswan/project-assistant/internal/project"
)

// Headers identifying the user behind a file upload or deletion.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
)

// submit queues an event job for conversationID.
func (s *Server) submit(c *fiber.Ctx, conversationID, event string, fn func(ctx context.Context) error) error {
	err := s.deps.Queue.Submit(requestContext(c), conversationID, event, fn)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("conversation_id", conversationID).
			Str("event", event).
			Str("request_id", requestIDOf(c)).
			Msg("event not queued")
	}
	return err
}

// queueProblem reports a full or stopped queue. The host already holds the
// change; only the assistant's reaction is lost.
func queueProblem(c *fiber.Ctx, err error) error {
	return problemResponse(c, fiber.StatusServiceUnavailable,
		"queue_unavailable", "Service Unavailable",
		err.Error())
}

func (s *Server) remote(conversationID string) conversation.RemoteConversation {
	return s.deps.Host.Client(s.deps.AssistantID, conversationID)
}

// CreateConversation handles POST /v1/conversations.
func (s *Server) CreateConversation(c *fiber.Ctx) error {
	var req CreateConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	info, err := s.deps.Host.CreateConversation(requestContext(c), conversation.Info{
		ID:          req.ID,
		Title:       req.Title,
		AssistantID: s.deps.AssistantID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	if err := s.submit(c, info.ID, "conversation_created", func(ctx context.Context) error {
		return s.deps.Handler.OnConversationCreated(ctx, info)
	}); err != nil {
		return queueProblem(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(info)
}

// GetConversation handles GET /v1/conversations/:id.
func (s *Server) GetConversation(c *fiber.Ctx) error {
	info, err := s.remote(c.Params("id")).GetConversation(requestContext(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(info)
}

// PostMessage handles POST /v1/conversations/:id/messages. The message is
// stored right away; the assistant answers asynchronously.
func (s *Server) PostMessage(c *fiber.Ctx) error {
	var req PostMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.SenderID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_sender", "Bad Request",
			"sender_id is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_content", "Bad Request",
			"content is required")
	}
	switch req.Type {
	case "", conversation.MessageTypeChat, conversation.MessageTypeCommand:
	default:
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_type", "Bad Request",
			"type must be chat or command")
	}

	msg, err := s.deps.Host.AppendMessage(requestContext(c), c.Params("id"), conversation.Message{
		SenderID:   req.SenderID,
		SenderName: req.SenderName,
		Content:    req.Content,
		Type:       req.Type,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	if err := s.submit(c, msg.ConversationID, "message", func(ctx context.Context) error {
		return s.deps.Handler.OnMessage(ctx, msg)
	}); err != nil {
		return queueProblem(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(msg)
}

// ListMessages handles GET /v1/conversations/:id/messages.
func (s *Server) ListMessages(c *fiber.Ctx) error {
	q := conversation.MessageQuery{Limit: c.QueryInt("limit", 50)}
	if types := c.Query("type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				q.Types = append(q.Types, conversation.MessageType(t))
			}
		}
	}
	msgs, err := s.deps.Host.GetMessages(requestContext(c), c.Params("id"), q)
	if err != nil {
		return errorResponse(c, err)
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	return c.JSON(MessagesResponse{Messages: msgs})
}

// UpdateParticipant handles POST /v1/conversations/:id/participants.
func (s *Server) UpdateParticipant(c *fiber.Ctx) error {
	var req ParticipantRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.ID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_id", "Bad Request",
			"Participant id is required")
	}
	joined := req.Joined == nil || *req.Joined
	role := req.Role
	if role == "" {
		role = "user"
	}

	cid := c.Params("id")
	p := conversation.Participant{ID: req.ID, Name: req.Name, Role: role, Active: joined, JoinedAt: s.now()}
	if err := s.deps.Host.SetParticipant(requestContext(c), cid, p); err != nil {
		return errorResponse(c, err)
	}
	if err := s.submit(c, cid, "participant", func(ctx context.Context) error {
		return s.deps.Handler.OnParticipant(ctx, cid, p, joined)
	}); err != nil {
		return queueProblem(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(p)
}

func fileName(c *fiber.Ctx) (string, error) {
	name, err := url.PathUnescape(c.Params("name"))
	if err != nil || name == "" {
		return "", errors.New("invalid file name")
	}
	return name, nil
}

func callerFromHeaders(c *fiber.Ctx, conversationID string) project.Caller {
	return project.Caller{
		ConversationID: conversationID,
		UserID:         c.Get(HeaderUserID),
		UserName:       c.Get(HeaderUserName),
	}
}

// PutFile handles PUT /v1/conversations/:id/files/:name. The raw body is the
// file content.
func (s *Server) PutFile(c *fiber.Ctx) error {
	name, err := fileName(c)
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest, "invalid_name", "Bad Request", err.Error())
	}
	cid := c.Params("id")
	ctx := requestContext(c)
	rc := s.remote(cid)

	existed, err := rc.FileExists(ctx, name)
	if err != nil {
		return errorResponse(c, err)
	}
	contentType := c.Get(fiber.HeaderContentType)
	data := append([]byte(nil), c.Body()...)
	if err := rc.WriteFile(ctx, name, contentType, data); err != nil {
		return errorResponse(c, err)
	}

	ev := filesync.FileEvent{Op: filesync.OpCreated, Filename: name, ContentType: contentType}
	if existed {
		ev.Op = filesync.OpUpdated
	}
	caller := callerFromHeaders(c, cid)
	if err := s.submit(c, cid, "file", func(ctx context.Context) error {
		return s.deps.Handler.OnFileEvent(ctx, caller, ev)
	}); err != nil {
		return queueProblem(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(FileEventResponse{Op: string(ev.Op), Filename: name})
}

// DeleteFile handles DELETE /v1/conversations/:id/files/:name.
func (s *Server) DeleteFile(c *fiber.Ctx) error {
	name, err := fileName(c)
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest, "invalid_name", "Bad Request", err.Error())
	}
	cid := c.Params("id")
	if err := s.remote(cid).DeleteFile(requestContext(c), name); err != nil {
		return errorResponse(c, err)
	}

	ev := filesync.FileEvent{Op: filesync.OpDeleted, Filename: name}
	caller := callerFromHeaders(c, cid)
	if err := s.submit(c, cid, "file", func(ctx context.Context) error {
		return s.deps.Handler.OnFileEvent(ctx, caller, ev)
	}); err != nil {
		return queueProblem(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(FileEventResponse{Op: string(ev.Op), Filename: name})
}

// ListEvents handles GET /v1/conversations/:id/events?since=N. UIs poll it
// to learn when to re-read project state.
func (s *Server) ListEvents(c *fiber.Ctx) error {
	since := int64(c.QueryInt("since", 0))
	resp := EventsResponse{Events: []conversation.StateEvent{}, Seq: since}
	if s.deps.Events == nil {
		return c.JSON(resp)
	}
	if events := s.deps.Events.Since(c.Params("id"), since); len(events) > 0 {
		resp.Events = events
		resp.Seq = events[len(events)-1].Seq
	}
	return c.JSON(resp)
}
