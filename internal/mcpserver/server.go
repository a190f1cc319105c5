// Package mcpserver exposes the project tools over the Model Context
// Protocol. Every tool takes the calling conversation's ID next to its own
// arguments, so an external agent acts on behalf of that conversation.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-assistant/internal/config"
	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/llm"
	"github.com/p-blackswan/project-assistant/internal/project"
	"github.com/p-blackswan/project-assistant/internal/tools"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// Caller arguments added to every tool.
const (
	ArgConversationID = "conversation_id"
	ArgUserID         = "user_id"
	ArgUserName       = "user_name"
)

// Roles looks up a conversation's role.
type Roles interface {
	Role(conversationID string) (conversation.Role, bool)
}

const instructions = `Project Assistant tools. Every call needs the conversation_id of the
coordinator or team conversation you act for. Coordinators shape the brief,
resolve information requests and mark the project ready; team members report
progress and raise information requests.`

// Server wraps an MCP server over a tool registry.
type Server struct {
	mcp      *server.MCPServer
	registry *tools.Registry
	roles    Roles
	template config.Template
	logger   zerolog.Logger
}

// New creates an MCP server exposing every tool in registry. Calls from a
// conversation with a known role may only use the tools offered to it.
func New(registry *tools.Registry, roles Roles, tpl config.Template, logger zerolog.Logger) (*Server, error) {
	s := &Server{
		mcp: server.NewMCPServer(
			"project-assistant",
			Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
			server.WithInstructions(instructions),
		),
		registry: registry,
		roles:    roles,
		template: tpl,
		logger:   logger.With().Str("component", "mcpserver").Logger(),
	}
	for _, schema := range registry.Schemas() {
		def, err := definition(schema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", schema.Name, err)
		}
		s.mcp.AddTool(def, s.handler(schema.Name))
	}
	return s, nil
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio serves the protocol on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	s.logger.Info().Int("tools", len(s.registry.Schemas())).Msg("serving MCP over stdio")
	return server.ServeStdio(s.mcp)
}

// definition adds the caller arguments to a tool's input schema.
func definition(schema llm.ToolSchema) (mcp.Tool, error) {
	var in map[string]any
	if err := json.Unmarshal(schema.InputSchema, &in); err != nil {
		return mcp.Tool{}, err
	}
	props, _ := in["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	props[ArgConversationID] = map[string]any{"type": "string", "description": "ID of the conversation the call is made for"}
	props[ArgUserID] = map[string]any{"type": "string", "description": "ID of the user behind the call"}
	props[ArgUserName] = map[string]any{"type": "string", "description": "Display name of the user behind the call"}
	in["properties"] = props

	required := []any{ArgConversationID}
	if existing, ok := in["required"].([]any); ok {
		required = append(required, existing...)
	}
	in["required"] = required
	in["type"] = "object"

	raw, err := json.Marshal(in)
	if err != nil {
		return mcp.Tool{}, err
	}
	return mcp.NewToolWithRawSchema(schema.Name, schema.Description, raw), nil
}

func (s *Server) offered(name string, role conversation.Role) bool {
	for _, schema := range s.registry.ForRole(role, s.template) {
		if schema.Name == name {
			return true
		}
	}
	return false
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		caller := project.Caller{
			ConversationID: req.GetString(ArgConversationID, ""),
			UserID:         req.GetString(ArgUserID, ""),
			UserName:       req.GetString(ArgUserName, ""),
		}
		if caller.ConversationID == "" {
			return mcp.NewToolResultError(ArgConversationID + " is required."), nil
		}
		if role, ok := s.roles.Role(caller.ConversationID); ok && !s.offered(name, role) {
			return mcp.NewToolResultError(fmt.Sprintf("Tool %s is not available to a %s conversation.", name, role.Label())), nil
		}

		args := make(map[string]any, len(req.GetArguments()))
		for k, v := range req.GetArguments() {
			switch k {
			case ArgConversationID, ArgUserID, ArgUserName:
			default:
				args[k] = v
			}
		}
		input, err := json.Marshal(args)
		if err != nil {
			return mcp.NewToolResultError("Invalid arguments."), nil
		}

		out, err := s.registry.Execute(tools.WithCaller(ctx, caller), name, input)
		if err != nil {
			if !perrors.IsUserError(err) {
				s.logger.Error().Err(err).
					Str("tool", name).
					Str("conversation_id", caller.ConversationID).
					Msg("tool failed")
			}
			return mcp.NewToolResultError(perrors.Message(err)), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}
