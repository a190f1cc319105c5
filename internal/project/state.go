package project

// --- State machine for the project lifecycle ---
//
//	planning ──ready──▶ ready_for_working ──first progress──▶ in_progress ──all criteria──▶ completed
//	   └──────────────────────┴──────────────abort─────────────────┴──────────────────────▶ aborted
//
// Completed and aborted are terminal. The coordinator may force completion
// from any non-terminal state; see Manager.CompleteProject.

var stateTransitions = map[ProjectState][]ProjectState{
	StatePlanning:        {StateReadyForWorking, StateAborted},
	StateReadyForWorking: {StateInProgress, StateAborted},
	StateInProgress:      {StateCompleted, StateAborted},
}

// ValidState reports whether s is a known project state.
func ValidState(s ProjectState) bool {
	switch s {
	case StatePlanning, StateReadyForWorking, StateInProgress, StateCompleted, StateAborted:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s ProjectState) bool {
	return s == StateCompleted || s == StateAborted
}

// CanTransitionState reports whether from → to is a lifecycle edge.
func CanTransitionState(from, to ProjectState) bool {
	for _, next := range stateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// --- State machine for information requests ---
//
//	new ──▶ acknowledged ──▶ in_progress ──▶ resolved
//	 └──────────┴──────defer──────┴──▶ deferred ──resume──▶ in_progress
//
// Resolved is terminal; resolving again is a no-op handled by the manager.
// Any non-resolved request may be resolved directly.

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestNew:          {RequestAcknowledged, RequestInProgress, RequestDeferred, RequestResolved},
	RequestAcknowledged: {RequestInProgress, RequestDeferred, RequestResolved},
	RequestInProgress:   {RequestDeferred, RequestResolved},
	RequestDeferred:     {RequestInProgress, RequestResolved},
}

// ValidRequestStatus reports whether s is a known request status.
func ValidRequestStatus(s RequestStatus) bool {
	switch s {
	case RequestNew, RequestAcknowledged, RequestInProgress, RequestResolved, RequestDeferred:
		return true
	}
	return false
}

// CanTransitionRequest reports whether from → to is a request lifecycle edge.
func CanTransitionRequest(from, to RequestStatus) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParsePriority validates a priority, defaulting empty to medium.
func ParsePriority(s string) (RequestPriority, bool) {
	switch p := RequestPriority(s); p {
	case "":
		return PriorityMedium, true
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p, true
	}
	return "", false
}

// progressPercentage is floor(100*completed/total), clamped to 0..100.
func progressPercentage(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return 100 * completed / total
}
