package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/project-assistant/internal/errors"
)

func TestCanTransitionState(t *testing.T) {
	tests := []struct {
		from, to ProjectState
		want     bool
	}{
		{StatePlanning, StateReadyForWorking, true},
		{StatePlanning, StateInProgress, false},
		{StatePlanning, StateAborted, true},
		{StateReadyForWorking, StateInProgress, true},
		{StateReadyForWorking, StateCompleted, false},
		{StateInProgress, StateCompleted, true},
		{StateInProgress, StatePlanning, false},
		{StateCompleted, StateAborted, false},
		{StateAborted, StatePlanning, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransitionState(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, IsTerminal(StateCompleted))
	assert.True(t, IsTerminal(StateAborted))
	assert.False(t, IsTerminal(StateInProgress))
}

func TestCanTransitionRequest(t *testing.T) {
	assert.True(t, CanTransitionRequest(RequestNew, RequestResolved))
	assert.True(t, CanTransitionRequest(RequestDeferred, RequestInProgress))
	assert.False(t, CanTransitionRequest(RequestDeferred, RequestAcknowledged))
	assert.False(t, CanTransitionRequest(RequestInProgress, RequestNew))
	for _, to := range []RequestStatus{RequestNew, RequestAcknowledged, RequestInProgress, RequestDeferred} {
		assert.False(t, CanTransitionRequest(RequestResolved, to), "resolved is terminal")
	}
}

func TestParsePriority(t *testing.T) {
	p, ok := ParsePriority("")
	assert.True(t, ok)
	assert.Equal(t, PriorityMedium, p)

	p, ok = ParsePriority("critical")
	assert.True(t, ok)
	assert.True(t, p.Blocking())

	_, ok = ParsePriority("urgent")
	assert.False(t, ok)
	assert.False(t, PriorityLow.Blocking())
}

func TestProgressPercentage(t *testing.T) {
	assert.Equal(t, 0, progressPercentage(0, 0))
	assert.Equal(t, 0, progressPercentage(3, 0))
	assert.Equal(t, 33, progressPercentage(1, 3))
	assert.Equal(t, 66, progressPercentage(2, 3))
	assert.Equal(t, 100, progressPercentage(3, 3))
	assert.Equal(t, 100, progressPercentage(5, 3))
}

func TestCriteriaCounts(t *testing.T) {
	var nilBrief *ProjectBrief
	c, tot := nilBrief.CriteriaCounts()
	assert.Zero(t, c)
	assert.Zero(t, tot)

	b := &ProjectBrief{Goals: []ProjectGoal{
		{SuccessCriteria: []SuccessCriterion{{Completed: true}, {}}},
		{SuccessCriteria: []SuccessCriterion{{Completed: true}}},
		{},
	}}
	c, tot = b.CriteriaCounts()
	assert.Equal(t, 2, c)
	assert.Equal(t, 3, tot)
	assert.False(t, b.Goals[0].Done())
	assert.True(t, b.Goals[1].Done())
	assert.False(t, b.Goals[2].Done(), "a goal without criteria is never done")
}

func TestMatchRequest(t *testing.T) {
	reqs := []*InformationRequest{
		{RequestID: "3f2b9c1e-7a4d-4e21-9b0a-5c6d7e8f9a01"},
		{RequestID: "3f2b9c1e-1111-4e21-9b0a-000000000002"},
		{RequestID: "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d"},
	}

	tests := []struct {
		name      string
		query     string
		wantID    string
		wantStage string
		wantErr   error
	}{
		{"exact", "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d", "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d", "exact", nil},
		{"case and quotes", "\"A1B2C3D4-E5F6-4A7B-8C9D-0E1F2A3B4C5D\"", "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d", "normalized", nil},
		{"hyphens dropped", "a1b2c3d4e5f64a7b8c9d0e1f2a3b4c5d", "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d", "normalized", nil},
		{"substring", "7a4d-4e21", "3f2b9c1e-7a4d-4e21-9b0a-5c6d7e8f9a01", "substring", nil},
		{"prefix", "a1b2c3d4-ffff", "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d", "prefix", nil},
		{"ambiguous prefix", "3f2b9c1e", "", "", perrors.ErrAmbiguous},
		{"too short", "a1b2", "", "", perrors.ErrNotFound},
		{"unknown", "deadbeef-0000", "", "", perrors.ErrNotFound},
		{"empty", "  ", "", "", perrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, stage, err := matchRequest(tt.query, reqs)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, got.RequestID)
			assert.Equal(t, tt.wantStage, stage)
		})
	}
}

func TestExtractWhiteboard(t *testing.T) {
	assert.Equal(t, "", extractWhiteboard("nothing here"))
	assert.Equal(t, "", extractWhiteboard("<WHITEBOARD>   </WHITEBOARD>"))
	assert.Equal(t, "b", extractWhiteboard("<WHITEBOARD>a</WHITEBOARD> then <WHITEBOARD>\nb\n</WHITEBOARD>"))
}
