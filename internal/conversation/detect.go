package conversation

// Metadata markers left on a conversation by whoever created it.
const (
	MarkerShareRedemption    = "share_redemption"
	MarkerProjectTemplate    = "project_template"
	MarkerProjectCoordinator = "project_coordinator"
)

// DetectRole infers an association for an unconfigured conversation from
// its metadata markers. Redemption wins over template, template over
// coordinator.
func DetectRole(info Info) (Association, bool) {
	checks := []struct {
		marker string
		role   Role
	}{
		{MarkerShareRedemption, RoleTeam},
		{MarkerProjectTemplate, RoleShareableTemplate},
		{MarkerProjectCoordinator, RoleCoordinator},
	}
	for _, c := range checks {
		if pid := markerProjectID(info.Metadata, c.marker); pid != "" {
			return Association{ProjectID: pid, Role: c.role}, true
		}
	}
	return Association{}, false
}

func markerProjectID(meta map[string]any, marker string) string {
	raw, ok := meta[marker]
	if !ok {
		return ""
	}
	switch v := raw.(type) {
	case map[string]any:
		pid, _ := v["project_id"].(string)
		return pid
	case map[string]string:
		return v["project_id"]
	}
	return ""
}
