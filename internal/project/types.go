package project

import (
	"time"
)

// Caller identifies who invokes a manager operation and from which
// conversation.
type Caller struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
}

// Meta is the versioning envelope shared by every stored record.
type Meta struct {
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CreatedBy      string    `json:"created_by"`
	UpdatedBy      string    `json:"updated_by"`
	ConversationID string    `json:"conversation_id"`
}

func (m *Meta) init(c Caller, now time.Time) {
	m.Version = 1
	m.CreatedAt = now
	m.UpdatedAt = now
	m.CreatedBy = c.UserID
	m.UpdatedBy = c.UserID
	m.ConversationID = c.ConversationID
}

// touch records one more mutation. ConversationID keeps the author.
func (m *Meta) touch(c Caller, now time.Time) {
	m.Version++
	if now.Before(m.CreatedAt) {
		now = m.CreatedAt
	}
	m.UpdatedAt = now
	m.UpdatedBy = c.UserID
}

// Stamp initializes m on the first write of a record and records one more
// mutation afterwards.
func (m *Meta) Stamp(c Caller, now time.Time) {
	if m.Version == 0 {
		m.init(c, now)
		return
	}
	m.touch(c, now)
}

// ProjectState is the project lifecycle state.
type ProjectState string

const (
	StatePlanning        ProjectState = "planning"
	StateReadyForWorking ProjectState = "ready_for_working"
	StateInProgress      ProjectState = "in_progress"
	StateCompleted       ProjectState = "completed"
	StateAborted         ProjectState = "aborted"
)

// ProjectInfo is the identity record of a project merged with its live
// dashboard. Stored as project.json.
type ProjectInfo struct {
	Meta
	ProjectID                 string `json:"project_id"`
	Name                      string `json:"name"`
	Template                  string `json:"template"`
	CoordinatorConversationID string `json:"coordinator_conversation_id"`
	// TeamConversationID is the shareable template conversation used to mint
	// the share URL. It is not a team member's conversation.
	TeamConversationID string `json:"team_conversation_id,omitempty"`
	ShareURL           string `json:"share_url,omitempty"`

	State              ProjectState      `json:"state"`
	StatusMessage      string            `json:"status_message,omitempty"`
	ProgressPercentage int               `json:"progress_percentage"`
	CompletedCriteria  int               `json:"completed_criteria"`
	TotalCriteria      int               `json:"total_criteria"`
	ActiveRequests     []string          `json:"active_requests"`
	ActiveBlockers     []string          `json:"active_blockers"`
	NextActions        []string          `json:"next_actions"`
	Lifecycle          map[string]string `json:"lifecycle"`
}

// SuccessCriterion is one measurable condition of a goal. Completion is
// monotonic.
type SuccessCriterion struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
}

// ProjectGoal is a goal of the brief. Priority 1 is highest.
type ProjectGoal struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	Priority        int                `json:"priority"`
	SuccessCriteria []SuccessCriterion `json:"success_criteria"`
}

// Done reports whether the goal has criteria and all of them are completed.
func (g ProjectGoal) Done() bool {
	if len(g.SuccessCriteria) == 0 {
		return false
	}
	for _, c := range g.SuccessCriteria {
		if !c.Completed {
			return false
		}
	}
	return true
}

// ProjectBrief describes what the project is and what done looks like.
type ProjectBrief struct {
	Meta
	ProjectName        string        `json:"project_name"`
	ProjectDescription string        `json:"project_description"`
	Goals              []ProjectGoal `json:"goals"`
	Timeline           string        `json:"timeline,omitempty"`
	AdditionalContext  string        `json:"additional_context,omitempty"`
}

// CriteriaCounts returns completed and total success criteria.
func (b *ProjectBrief) CriteriaCounts() (completed, total int) {
	if b == nil {
		return 0, 0
	}
	for _, g := range b.Goals {
		for _, c := range g.SuccessCriteria {
			total++
			if c.Completed {
				completed++
			}
		}
	}
	return completed, total
}

// RequestPriority ranks information requests.
type RequestPriority string

const (
	PriorityLow      RequestPriority = "low"
	PriorityMedium   RequestPriority = "medium"
	PriorityHigh     RequestPriority = "high"
	PriorityCritical RequestPriority = "critical"
)

// Blocking reports whether requests of this priority count as blockers.
func (p RequestPriority) Blocking() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// RequestStatus is the information request lifecycle state.
type RequestStatus string

const (
	RequestNew          RequestStatus = "new"
	RequestAcknowledged RequestStatus = "acknowledged"
	RequestInProgress   RequestStatus = "in_progress"
	RequestResolved     RequestStatus = "resolved"
	RequestDeferred     RequestStatus = "deferred"
)

// RequestSource tells whether a user or the assistant raised a request.
type RequestSource string

const (
	SourceUser  RequestSource = "user"
	SourceAgent RequestSource = "agent"
)

// RequestUpdate is one entry of a request's append-only update log.
type RequestUpdate struct {
	Timestamp time.Time     `json:"timestamp"`
	UserID    string        `json:"user_id"`
	UserName  string        `json:"user_name"`
	Message   string        `json:"message"`
	Status    RequestStatus `json:"status,omitempty"`
}

// InformationRequest is a structured ask from the team to the coordinator.
// Stored as requests/{request_id}.json.
type InformationRequest struct {
	Meta
	RequestID   string          `json:"request_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    RequestPriority `json:"priority"`
	Status      RequestStatus   `json:"status"`
	Source      RequestSource   `json:"source"`
	Resolution  string          `json:"resolution,omitempty"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy  string          `json:"resolved_by,omitempty"`
	Updates     []RequestUpdate `json:"updates"`
}

// ProjectWhiteboard is a markdown scratchpad rewritten wholesale.
type ProjectWhiteboard struct {
	Meta
	Content         string `json:"content"`
	IsAutoGenerated bool   `json:"is_auto_generated"`
}

// LogEntryType classifies project log entries.
type LogEntryType string

const (
	LogBriefCreated       LogEntryType = "brief_created"
	LogBriefUpdated       LogEntryType = "brief_updated"
	LogRequestCreated     LogEntryType = "request_created"
	LogRequestUpdated     LogEntryType = "request_updated"
	LogRequestResolved    LogEntryType = "request_resolved"
	LogRequestDeleted     LogEntryType = "request_deleted"
	LogStatusChanged      LogEntryType = "status_changed"
	LogGoalCompleted      LogEntryType = "goal_completed"
	LogCriterionCompleted LogEntryType = "criterion_completed"
	LogParticipantJoined  LogEntryType = "participant_joined"
	LogParticipantLeft    LogEntryType = "participant_left"
	LogProjectStarted     LogEntryType = "project_started"
	LogProjectCompleted   LogEntryType = "project_completed"
	LogProjectAborted     LogEntryType = "project_aborted"
	LogMilestonePassed    LogEntryType = "milestone_passed"
	LogFileShared         LogEntryType = "file_shared"
	LogWhiteboardUpdated  LogEntryType = "whiteboard_updated"
	LogCustom             LogEntryType = "custom"
)

// LogEntry is one audit trail entry.
type LogEntry struct {
	ID              string            `json:"id"`
	EntryType       LogEntryType      `json:"entry_type"`
	Message         string            `json:"message"`
	UserID          string            `json:"user_id"`
	UserName        string            `json:"user_name"`
	ConversationID  string            `json:"conversation_id"`
	Timestamp       time.Time         `json:"timestamp"`
	RelatedEntityID string            `json:"related_entity_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// ProjectLog is the append-only audit trail of a project.
type ProjectLog struct {
	Meta
	Entries []LogEntry `json:"entries"`
}

// ProjectFile is metadata of a file shared through the project.
type ProjectFile struct {
	Filename          string    `json:"filename"`
	ContentType       string    `json:"content_type"`
	Size              int64     `json:"size"`
	CreatedBy         string    `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	IsCoordinatorFile bool      `json:"is_coordinator_file"`
}

// ProjectFileCollection is file metadata keyed by filename.
type ProjectFileCollection struct {
	Meta
	Files map[string]ProjectFile `json:"files"`
}

// CoordinatorMessageLimit caps the coordinator conversation mirror.
const CoordinatorMessageLimit = 50

// CoordinatorMessage is one mirrored coordinator chat message.
type CoordinatorMessage struct {
	MessageID  string    `json:"message_id"`
	Content    string    `json:"content"`
	SenderName string    `json:"sender_name"`
	IsUser     bool      `json:"is_user"`
	Timestamp  time.Time `json:"timestamp"`
}

// CoordinatorConversation mirrors the coordinator's recent chat so team
// conversations can see what was discussed.
type CoordinatorConversation struct {
	Meta
	Messages []CoordinatorMessage `json:"messages"`
}

// BriefInput holds the parameters of CreateProjectBrief. Goals, when set,
// replace the existing goals.
type BriefInput struct {
	ProjectName        string      `json:"project_name"`
	ProjectDescription string      `json:"project_description"`
	Timeline           string      `json:"timeline,omitempty"`
	AdditionalContext  string      `json:"additional_context,omitempty"`
	Goals              []GoalInput `json:"goals,omitempty"`
}

// GoalInput holds one goal of a brief.
type GoalInput struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	SuccessCriteria []string `json:"success_criteria"`
}

// StatusUpdate holds the parameters of UpdateProjectState. Nil fields are
// left unchanged.
type StatusUpdate struct {
	State              *ProjectState `json:"state,omitempty"`
	StatusMessage      *string       `json:"status_message,omitempty"`
	ProgressPercentage *int          `json:"progress_percentage,omitempty"`
	NextActions        []string      `json:"next_actions,omitempty"`
}

// HistoryMessage is one chat line fed to the whiteboard summarizer.
type HistoryMessage struct {
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	IsUser     bool      `json:"is_user"`
	Timestamp  time.Time `json:"timestamp"`
}
