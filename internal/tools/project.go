package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/llm"
	"github.com/p-blackswan/project-assistant/internal/project"
)

// Projects is the subset of the project manager the tools call.
type Projects interface {
	ProjectInfo(ctx context.Context, caller project.Caller) (*project.ProjectInfo, error)
	Summary(ctx context.Context, caller project.Caller) (string, error)
	Requests(ctx context.Context, caller project.Caller) ([]*project.InformationRequest, error)
	Log(ctx context.Context, caller project.Caller) (*project.ProjectLog, error)
	CoordinatorConversation(ctx context.Context, caller project.Caller) (*project.CoordinatorConversation, error)
	CreateProjectBrief(ctx context.Context, caller project.Caller, in project.BriefInput) (*project.ProjectBrief, error)
	AddProjectGoal(ctx context.Context, caller project.Caller, name, description string, criteria []string) (*project.ProjectBrief, error)
	MarkCriterionCompleted(ctx context.Context, caller project.Caller, goalIndex, criterionIndex int) (*project.CriterionResult, error)
	CreateInformationRequest(ctx context.Context, caller project.Caller, title, description, priority string) (*project.InformationRequest, error)
	UpdateInformationRequest(ctx context.Context, caller project.Caller, requestID, status, message string) (*project.InformationRequest, error)
	ResolveInformationRequest(ctx context.Context, caller project.Caller, requestID, resolution string) (*project.InformationRequest, error)
	DeleteInformationRequest(ctx context.Context, caller project.Caller, requestID string) (*project.InformationRequest, error)
	UpdateProjectState(ctx context.Context, caller project.Caller, u project.StatusUpdate) (*project.ProjectInfo, error)
	MarkProjectReadyForWorking(ctx context.Context, caller project.Caller) (*project.ProjectInfo, error)
	CompleteProject(ctx context.Context, caller project.Caller, summary string) (*project.ProjectInfo, error)
	AbortProject(ctx context.Context, caller project.Caller, reason string) (*project.ProjectInfo, error)
	UpdateWhiteboard(ctx context.Context, caller project.Caller, content string, isAuto, sendNotification bool) (*project.ProjectWhiteboard, error)
	LogCustom(ctx context.Context, caller project.Caller, message string, meta map[string]string) error
}

// projectTool adapts one manager operation to the Tool interface.
type projectTool struct {
	name         string
	description  string
	input        json.RawMessage
	roles        []conversation.Role
	progressOnly bool
	run          func(ctx context.Context, caller project.Caller, input json.RawMessage) (string, error)
	logger       zerolog.Logger
}

func (t *projectTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{Name: t.name, Description: t.description, InputSchema: t.input}
}

func (t *projectTool) Roles() []conversation.Role { return t.roles }

func (t *projectTool) TracksProgressOnly() bool { return t.progressOnly }

func (t *projectTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return "", fmt.Errorf("%s: no caller in context", t.name)
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	out, err := t.run(ctx, caller, input)
	if err != nil {
		t.logger.Debug().Err(err).Str("tool", t.name).Str("conversation_id", caller.ConversationID).Msg("tool failed")
		return "", err
	}
	return out, nil
}

func decode(name string, input json.RawMessage, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return perrors.New(perrors.ErrInvalidInput, "Invalid arguments for %s: %v", name, err)
	}
	return nil
}

func asJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(b), nil
}

var (
	coordinatorOnly = []conversation.Role{conversation.RoleCoordinator}
	teamOnly        = []conversation.Role{conversation.RoleTeam}
	bothRoles       = []conversation.Role{conversation.RoleCoordinator, conversation.RoleTeam}
)

// RegisterProjectTools registers every project tool backed by p.
func RegisterProjectTools(r *Registry, p Projects, logger zerolog.Logger) {
	logger = logger.With().Str("component", "tools.project").Logger()
	for _, t := range projectTools(p) {
		t.logger = logger
		r.Register(t)
	}
}

func projectTools(p Projects) []*projectTool {
	return []*projectTool{
		{
			name:        "get_project_info",
			description: "Get the project's identity and dashboard: state, progress, open requests and next actions.",
			input:       object(map[string]any{}),
			roles:       bothRoles,
			run: func(ctx context.Context, c project.Caller, _ json.RawMessage) (string, error) {
				info, err := p.ProjectInfo(ctx, c)
				if err != nil {
					return "", err
				}
				return asJSON(info)
			},
		},
		{
			name:        "get_project_summary",
			description: "Get a readable status digest of the project: brief, goals, open requests and whiteboard.",
			input:       object(map[string]any{}),
			roles:       bothRoles,
			run: func(ctx context.Context, c project.Caller, _ json.RawMessage) (string, error) {
				return p.Summary(ctx, c)
			},
		},
		{
			name:        "list_information_requests",
			description: "List the project's information requests, optionally filtered by status.",
			input: object(map[string]any{
				"status": enum("Only return requests with this status",
					string(project.RequestNew), string(project.RequestAcknowledged), string(project.RequestInProgress),
					string(project.RequestResolved), string(project.RequestDeferred)),
			}),
			roles: bothRoles,
			run: func(ctx context.Context, c project.Caller, input json.RawMessage) (string, error) {
				var in struct {
					Status string `json:"status"`
				}
				if err := decode("list_information_requests", input, &in); err != nil {
					return "", err
				}
				reqs, err := p.Requests(ctx, c)
				if err != nil {
					return "", err
				}
				out := make([]*project.InformationRequest, 0, len(reqs))
				for _, r := range reqs {
					if in.Status == "" || string(r.Status) == strings.ToLower(in.Status) {
						out = append(out, r)
					}
				}
				if len(out) == 0 {
					return "No information requests.", nil
				}
				return asJSON(out)
			},
		},
		{
			name:        "get_project_log",
			description: "Get the most recent entries of the project's activity log.",
			input:       object(map[string]any{"limit": num("Maximum number of entries, newest last (default 20)")}),
			roles:       bothRoles,
			run: func(ctx context.Context, c project.Caller, input json.RawMessage) (string, error) {
				var in struct {
					Limit int `json:"limit"`
				}
				if err := decode("get_project_log", input, &in); err != nil {
					return "", err
				}
				if in.Limit <= 0 {
					in.Limit = 20
				}
				log, err := p.Log(ctx, c)
				if err != nil {
					return "", err
				}
				entries := log.Entries
				if len(entries) > in.Limit {
					entries = entries[len(entries)-in.Limit:]
				}
				return asJSON(entries)
			},
		},
		{
			name:        "view_coordinator_conversation",
			description: "Read the recent messages of the Coordinator conversation.",
			input:       object(map[string]any{}),
			roles:       teamOnly,
			run: func(ctx context.Context, c project.Caller, _ json.RawMessage) (string, error) {
				conv, err := p.CoordinatorConversation(ctx, c)
				if err != nil {
					return "", err
				}
				if len(conv.Messages) == 0 {
					return "The Coordinator conversation has no messages yet.", nil
				}
				var b strings.Builder
				for _, m := range conv.Messages {
					fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04"), m.SenderName, m.Content)
				}
				return b.String(), nil
			},
		},
		{
			name:        "create_project_brief",
			description: "Create or replace the project brief. Goals given here replace the existing goals.",
			input: object(map[string]any{
				"project_name":        str("Name of the project"),
				"project_description": str("What the project is about"),
				"timeline":            str("Expected timeline"),
				"additional_context":  str("Anything else the team should know"),
				"goals": map[string]any{
					"type":        "array",
					"description": "Project goals with their success criteria",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name":             str("Goal name"),
							"description":      str("Goal description"),
							"success_criteria": strList("Measurable criteria"),
						},
						"required": []string{"name"},
					},
				},
			}, "project_name", "project_description"),
			roles: coordinatorOnly,
			run: func(ctx context.Context, c project.Caller, input json.RawMessage) (string, error) {
				var in project.BriefInput
				if err := decode("create_project_brief", input, &in); err != nil {
					return "", err
				}
				brief, err := p.CreateProjectBrief(ctx, c, in)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Brief %q saved with %d goal(s).", brief.ProjectName, len(brief.Goals)), nil
			},
		},
		{
			name:        "add_project_goal",
			description: "Add a goal with success criteria to the project brief.",
			input: object(map[string]any{
				"goal_name":        str("Goal name"),
				"goal_description": str("Goal description"),
				"success_criteria": strList("Measurable criteria for the goal"),
			}, "goal_name", "goal_description"),
			roles:        coordinatorOnly,
			progressOnly: true,
			run: func(ctx context.Context, c project.Caller, input json.RawMessage) (string, error) {
				var in struct {
					Name     string   `json:"goal_name"`
					Desc     string   `json:"goal_description"`
					Criteria []string `json:"success_criteria"`
				}
				if err := decode("add_project_goal", input, &in); err != nil {
					return "", err
				}
				brief, err := p.AddProjectGoal(ctx, c, in.Name, in.Desc, in.Criteria)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Goal %q added; the brief now has %d goal(s).", in.Name, len(brief.Goals)), nil
			},
		},
		{
			name:        "mark_criterion_completed",
			description: "Mark a success criterion as completed. Goals and criteria are addressed by zero-based index.",
			input: object(map[string]any{
				"goal_index":      num("Zero-based goal index"),
				"criterion_index": num("Zero-based criterion index within the goal"),
			}, "goal_index", "criterion_index"),
			roles:        teamOnly,
			progressOnly: true,
			run: func(ctx context.Context, c project.Caller, input json.RawMessage) (string, error) {
				var in struct {
					Goal      *int `json:"goal_index"`
					Criterion *int `json:"criterion_index"`
				}
				if err := decode("mark_criterion_completed", input, &in); err != nil {
					return "", err
				}
				if in.Goal == nil || in.Criterion == nil {
					return "", perrors.New(perrors.ErrInvalidInput, "Both goal_index and criterion_index are required.")
				}
				res, err := p.MarkCriterionCompleted(ctx, c, *in.Goal, *in.Criterion)
				if err != nil {
					return "", err
				}
				if res.AlreadyCompleted {
					return "That criterion was already completed.", nil
				}
				return fmt.Sprintf("Criterion completed. Progress: %d%% (%d/%d).",
					res.Info.ProgressPercentage, res.Info.CompletedCriteria, res.Info.TotalCriteria), nil
			},
		},
		{
			name:        "create_information_request",
			description: "Ask the Coordinator for information the team needs.",
			input: object(map[string]any{
				"title":       str("Short title"),
				"description": str("What is needed and why"),
				"priority": enum("How urgent the request is",
					string(project.PriorityLow), string(project.PriorityMedium), string(project.PriorityHigh), string(project.PriorityCritical)),
			}, "title", "description"),
			roles: teamOnly,
			run: func(ctx context.Context, c project.Caller, input json.RawMessage) (string, error) {
				var in struct {
					Title       string `json:"title"`
					Description string `json:"description"`
					Priority    string `json:"priority"`
				}
				if err := decode("create_information_request", input, &in); err != nil {
					return "", err
				}
				req, err := p.CreateInformationRequest(ctx, c, in.Title, in.Description, in.Priority)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Information request %q created (id %s, priority %s).", req.Title, req.RequestID, req.Priority), nil
			},
		},
		{
			name:        "update_information_request",
			description: "Add a comment to an information request. The Coordinator may also change its status.",
			input: object(map[string]any{
				"request_id": str("Request ID or an unambiguous prefix of it"),
				"status": enum("New status (Coordinator only)",
					string(project.RequestAcknowledged), string(project.RequestInProgress), string(project.RequestDeferred)),
				"message": str("Comment to add"),
			}, "request_id"),
			roles: bothRoles,
			run: func(ctx context.Context, c project.Caller, input json.RawMessage) (string, error) {
				var in struct {
					RequestID string `json:"request_id"`
					Status    string `json:"status"`
					Message   string `json:"message"`
				}
				if err := decode("update_information_request", input, &in); err != nil {
					return "", err
				}
				req, err := p.UpdateInformationRequest(ctx, c, in.RequestID, in.Status, in.Message)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Request %q updated; status is %s.", req.Title, req.Status), nil
			},
		},
		{
			name:        "resolve_information_request",
			description: "Resolve an information request with an answer for the team.",
			input: object(map[string]any{
				"request_id": str("Request ID or an unambiguous prefix of it"),
				"resolution": str("The answer"),
			}, "request_id", "resolution"),
			roles: coordinatorOnly,
			run: func(ctx context.Context, c project.Caller, input json.RawMessage) (string, error) {
				var in struct {
					RequestID  string `json:"request_id"`
					Resolution string `json:"resolution"`
				}
				if err := decode("resolve_information_request", input, &in); err != nil {
					return "", err
				}
				req, err := p.ResolveInformationRequest(ctx, c, in.RequestID, in.Resolution)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Request %q is resolved: %s", req.Title, req.Resolution), nil
			},
		},
		{
			name:        "delete_information_request",
			description: "Delete an information request this conversation created and that is not resolved yet. The Coordinator can only withdraw requests the assistant raised.",
			input:       object(map[string]any{"request_id": str("Request ID or an unambiguous prefix of it")}, "request_id"),
			roles:       bothRoles,
			run: func(ctx context.Context, c project.Caller, input json.RawMessage) (string, error) {
				var in struct {
					RequestID string `json:"request_id"`
				}
				if err := decode("delete_information_request", input, &in); err != nil {
					return "", err
				}
				req, err := p.DeleteInformationRequest(ctx, c, in.RequestID)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Request %q deleted.", req.Title), nil
			},
		},
		{
			name:        "update_project_status",
			description: "Update the project dashboard: state, status message, progress percentage or next actions.",
			input: object(map[string]any{
				"state": enum("New project state",
					string(project.StatePlanning), string(project.StateReadyForWorking), string(project.StateInProgress),
					string(project.StateCompleted), string(project.StateAborted)),
				"status_message":      str("Short status line"),
				"progress_percentage": num("Progress from 0 to 100"),
				"next_actions":        strList("Upcoming actions"),
			}),
			roles: bothRoles,
			run: func(ctx context.Context, c project.Caller, input json.RawMessage) (string, error) {
				var u project.StatusUpdate
				if err := decode("update_project_status", input, &u); err != nil {
					return "", err
				}
				if u.State != nil {
					s := project.ProjectState(strings.ToLower(string(*u.State)))
					u.State = &s
				}
				info, err := p.UpdateProjectState(ctx, c, u)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Project is %s, %d%% complete.", info.State, info.ProgressPercentage), nil
			},
		},
		{
			name:        "mark_project_ready_for_working",
			description: "Mark the project ready for the team once the brief, goals and whiteboard are in place.",
			input:       object(map[string]any{}),
			roles:       coordinatorOnly,
			run: func(ctx context.Context, c project.Caller, _ json.RawMessage) (string, error) {
				if _, err := p.MarkProjectReadyForWorking(ctx, c); err != nil {
					return "", err
				}
				return "The project is ready for working. The team has been notified.", nil
			},
		},
		{
			name:        "complete_project",
			description: "Mark the project completed with a summary.",
			input:       object(map[string]any{"summary": str("What was achieved")}),
			roles:       bothRoles,
			run: func(ctx context.Context, c project.Caller, input json.RawMessage) (string, error) {
				var in struct {
					Summary string `json:"summary"`
				}
				if err := decode("complete_project", input, &in); err != nil {
					return "", err
				}
				if _, err := p.CompleteProject(ctx, c, in.Summary); err != nil {
					return "", err
				}
				return "The project is completed.", nil
			},
		},
		{
			name:        "abort_project",
			description: "Abort the project. This cannot be undone.",
			input:       object(map[string]any{"reason": str("Why the project stops")}, "reason"),
			roles:       coordinatorOnly,
			run: func(ctx context.Context, c project.Caller, input json.RawMessage) (string, error) {
				var in struct {
					Reason string `json:"reason"`
				}
				if err := decode("abort_project", input, &in); err != nil {
					return "", err
				}
				if _, err := p.AbortProject(ctx, c, in.Reason); err != nil {
					return "", err
				}
				return "The project is aborted.", nil
			},
		},
		{
			name:        "update_whiteboard",
			description: "Replace the whiteboard with new markdown content and notify the team.",
			input:       object(map[string]any{"content": str("Full markdown content of the whiteboard")}, "content"),
			roles:       coordinatorOnly,
			run: func(ctx context.Context, c project.Caller, input json.RawMessage) (string, error) {
				var in struct {
					Content string `json:"content"`
				}
				if err := decode("update_whiteboard", input, &in); err != nil {
					return "", err
				}
				if _, err := p.UpdateWhiteboard(ctx, c, in.Content, false, true); err != nil {
					return "", err
				}
				return "Whiteboard updated.", nil
			},
		},
		{
			name:        "add_log_entry",
			description: "Record a noteworthy event in the project log.",
			input:       object(map[string]any{"message": str("What happened")}, "message"),
			roles:       bothRoles,
			run: func(ctx context.Context, c project.Caller, input json.RawMessage) (string, error) {
				var in struct {
					Message string `json:"message"`
				}
				if err := decode("add_log_entry", input, &in); err != nil {
					return "", err
				}
				if err := p.LogCustom(ctx, c, in.Message, nil); err != nil {
					return "", err
				}
				return "Logged.", nil
			},
		},
	}
}
