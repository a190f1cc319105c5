package project

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/storage"
)

// CreateProjectBrief writes the project brief. Re-invoking it replaces the
// brief's goals with in.Goals (possibly none) instead of merging.
func (m *Manager) CreateProjectBrief(ctx context.Context, caller Caller, in BriefInput) (brief *ProjectBrief, err error) {
	defer m.record("create_project_brief", &err)

	pid, _, err := m.require(caller, "create or edit the project brief", conversation.RoleCoordinator)
	if err != nil {
		return nil, err
	}
	in.ProjectName = strings.TrimSpace(in.ProjectName)
	if in.ProjectName == "" {
		return nil, perrors.New(perrors.ErrInvalidInput, "The brief needs a project name.")
	}
	if len(in.Goals) > 0 && !m.policy.tracksProgress() {
		return nil, perrors.New(perrors.ErrUnsupported, "Goals are not tracked for this project template.")
	}
	goals, err := buildGoals(in.Goals, 0)
	if err != nil {
		return nil, err
	}

	created := false
	brief = &ProjectBrief{}
	err = m.store.Update(pid, storage.KindBrief, brief, func(found bool) error {
		now := m.now()
		if found {
			brief.touch(caller, now)
		} else {
			created = true
			brief.init(caller, now)
		}
		brief.ProjectName = in.ProjectName
		brief.ProjectDescription = strings.TrimSpace(in.ProjectDescription)
		brief.Timeline = in.Timeline
		brief.AdditionalContext = in.AdditionalContext
		brief.Goals = goals
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := m.syncProgress(pid, caller, brief, false); err != nil {
		m.logger.Warn().Err(err).Str("project_id", pid).Msg("failed to refresh progress after brief update")
	}

	typ, verb := LogBriefUpdated, "updated"
	if created {
		typ, verb = LogBriefCreated, "created"
	}
	m.logEvent(ctx, pid, caller, typ, fmt.Sprintf("Project brief %s: %s", verb, brief.ProjectName), pid, nil)
	m.announce(ctx, pid, caller, fmt.Sprintf("The project brief was %s: %s", verb, brief.ProjectName))
	return brief, nil
}

// AddProjectGoal appends a goal to the brief with priority len(goals)+1.
func (m *Manager) AddProjectGoal(ctx context.Context, caller Caller, name, description string, criteria []string) (brief *ProjectBrief, err error) {
	defer m.record("add_project_goal", &err)

	pid, _, err := m.require(caller, "add project goals", conversation.RoleCoordinator)
	if err != nil {
		return nil, err
	}
	if !m.policy.tracksProgress() {
		return nil, perrors.New(perrors.ErrUnsupported, "Goals are not tracked for this project template.")
	}
	goals, err := buildGoals([]GoalInput{{Name: name, Description: description, SuccessCriteria: criteria}}, 0)
	if err != nil {
		return nil, err
	}

	brief = &ProjectBrief{}
	err = m.store.Update(pid, storage.KindBrief, brief, func(found bool) error {
		if !found {
			return perrors.New(perrors.ErrPrecondition, "No project brief exists yet. Create a brief first, then add goals.")
		}
		goal := goals[0]
		goal.Priority = len(brief.Goals) + 1
		brief.Goals = append(brief.Goals, goal)
		brief.touch(caller, m.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := m.syncProgress(pid, caller, brief, false); err != nil {
		m.logger.Warn().Err(err).Str("project_id", pid).Msg("failed to refresh progress after goal added")
	}

	goal := brief.Goals[len(brief.Goals)-1]
	m.logEvent(ctx, pid, caller, LogBriefUpdated,
		fmt.Sprintf("Goal added: %s (%d success criteria)", goal.Name, len(goal.SuccessCriteria)), goal.ID, nil)
	m.announce(ctx, pid, caller, fmt.Sprintf("New project goal: %s", goal.Name))
	return brief, nil
}

func buildGoals(in []GoalInput, offset int) ([]ProjectGoal, error) {
	goals := make([]ProjectGoal, 0, len(in))
	for i, g := range in {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			return nil, perrors.New(perrors.ErrInvalidInput, "Every goal needs a name.")
		}
		goal := ProjectGoal{
			ID:              uuid.New().String(),
			Name:            name,
			Description:     strings.TrimSpace(g.Description),
			Priority:        offset + i + 1,
			SuccessCriteria: []SuccessCriterion{},
		}
		for _, c := range g.SuccessCriteria {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			goal.SuccessCriteria = append(goal.SuccessCriteria, SuccessCriterion{ID: uuid.New().String(), Description: c})
		}
		goals = append(goals, goal)
	}
	return goals, nil
}

// CriterionResult is returned by MarkCriterionCompleted.
type CriterionResult struct {
	Brief *ProjectBrief `json:"brief"`
	Info  *ProjectInfo  `json:"project"`
	// AlreadyCompleted is true when the criterion was completed before this
	// call; nothing was written.
	AlreadyCompleted bool `json:"already_completed"`
}

// MarkCriterionCompleted completes one success criterion, addressed by
// zero-based goal and criterion index, and recomputes progress. The first
// team progress on a ready_for_working project starts it; completing the
// last criterion of an in-progress project completes it.
func (m *Manager) MarkCriterionCompleted(ctx context.Context, caller Caller, goalIndex, criterionIndex int) (res *CriterionResult, err error) {
	defer m.record("mark_criterion_completed", &err)

	pid, _, err := m.require(caller, "mark success criteria completed", conversation.RoleTeam)
	if err != nil {
		return nil, err
	}
	if !m.policy.tracksProgress() {
		return nil, perrors.New(perrors.ErrUnsupported, "Success criteria are not tracked for this project template.")
	}
	info, err := m.readInfo(pid)
	if err != nil {
		return nil, err
	}
	if IsTerminal(info.State) {
		return nil, perrors.New(perrors.ErrInvalidState, "The project is %s; progress can no longer change.", stateLabel(info.State))
	}

	brief := &ProjectBrief{}
	already := false
	var goal ProjectGoal
	var criterion SuccessCriterion
	err = m.store.Update(pid, storage.KindBrief, brief, func(found bool) error {
		if !found {
			return perrors.New(perrors.ErrPrecondition, "No project brief exists yet. The Coordinator needs to create one first.")
		}
		if goalIndex < 0 || goalIndex >= len(brief.Goals) {
			return perrors.New(perrors.ErrInvalidInput, "Goal index %d is out of range (the brief has %d goals).", goalIndex, len(brief.Goals))
		}
		g := &brief.Goals[goalIndex]
		if criterionIndex < 0 || criterionIndex >= len(g.SuccessCriteria) {
			return perrors.New(perrors.ErrInvalidInput, "Criterion index %d is out of range (goal %q has %d criteria).",
				criterionIndex, g.Name, len(g.SuccessCriteria))
		}
		c := &g.SuccessCriteria[criterionIndex]
		if c.Completed {
			already = true
			goal, criterion = *g, *c
			return errNoWrite
		}
		now := m.now()
		c.Completed = true
		c.CompletedAt = &now
		c.CompletedBy = caller.UserID
		brief.touch(caller, now)
		goal, criterion = *g, *c
		return nil
	})
	if errors.Is(err, errNoWrite) {
		return &CriterionResult{Brief: brief, Info: info, AlreadyCompleted: already}, nil
	}
	if err != nil {
		return nil, err
	}

	from := info.State
	info, err = m.syncProgress(pid, caller, brief, true)
	if err != nil {
		return nil, err
	}

	m.logEvent(ctx, pid, caller, LogCriterionCompleted,
		fmt.Sprintf("Success criterion completed: %s", criterion.Description), criterion.ID,
		map[string]string{"goal": goal.Name})
	if goal.Done() {
		m.logEvent(ctx, pid, caller, LogGoalCompleted, fmt.Sprintf("Goal completed: %s", goal.Name), goal.ID, nil)
	}
	if info.State != from {
		m.logEvent(ctx, pid, caller, LogStatusChanged,
			fmt.Sprintf("Project state changed from %s to %s", stateLabel(from), stateLabel(info.State)), pid,
			map[string]string{"from": string(from), "to": string(info.State)})
		if info.State == StateCompleted {
			m.logEvent(ctx, pid, caller, LogProjectCompleted, "All success criteria completed", pid, nil)
		}
	}

	notice := fmt.Sprintf("%s completed a success criterion: %s (%d/%d, %d%%).",
		displayName(caller), criterion.Description, info.CompletedCriteria, info.TotalCriteria, info.ProgressPercentage)
	if info.State == StateCompleted {
		notice += " 🎉 All success criteria are done; the project is complete."
	}
	m.announce(ctx, pid, caller, notice)
	return &CriterionResult{Brief: brief, Info: info}, nil
}

// errNoWrite aborts a store update without surfacing an error.
var errNoWrite = errors.New("no write")

// syncProgress recomputes criteria counts and progress from brief. When
// teamProgress is set, the progress counts as a team update for lifecycle
// purposes.
func (m *Manager) syncProgress(projectID string, caller Caller, brief *ProjectBrief, teamProgress bool) (*ProjectInfo, error) {
	if !m.policy.tracksProgress() {
		return m.readInfo(projectID)
	}
	completed, total := brief.CriteriaCounts()
	return m.updateInfo(projectID, caller, func(info *ProjectInfo) error {
		info.CompletedCriteria = completed
		info.TotalCriteria = total
		if IsTerminal(info.State) {
			return nil
		}
		info.ProgressPercentage = progressPercentage(completed, total)
		if teamProgress && info.State == StateReadyForWorking {
			m.setState(info, StateInProgress)
		}
		m.inferCompletion(info)
		return nil
	})
}

// inferCompletion completes an in-progress project whose success criteria
// are all done. It reports whether the state changed.
func (m *Manager) inferCompletion(info *ProjectInfo) bool {
	if !m.policy.tracksProgress() || info.State != StateInProgress {
		return false
	}
	if info.TotalCriteria == 0 || info.CompletedCriteria < info.TotalCriteria {
		return false
	}
	m.setState(info, StateCompleted)
	info.ProgressPercentage = 100
	info.StatusMessage = "All success criteria completed"
	return true
}
