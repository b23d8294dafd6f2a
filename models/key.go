package models

import "strings"

// String renders the composite key canonically as "agent_id" (single
// occurrence, main host implied by caller context) or
// "agent_id:occurrence_id:host_id" when either optional part is set. The
// colon separator is used (rather than hyphen, which the original Python
// implementation used) precisely so it never collides with hyphens that
// legitimately appear inside agent_id itself (spec §9 design note on
// string-based composite keys: "render canonically only at serialization
// boundaries").
func (k AgentKey) String() string {
	if k.OccurrenceID == "" && k.HostID == "" {
		return k.AgentID
	}
	return strings.Join([]string{k.AgentID, k.OccurrenceID, k.HostID}, ":")
}

// Equal reports whether two keys refer to the same composite identity.
func (k AgentKey) Equal(other AgentKey) bool {
	return k.AgentID == other.AgentID &&
		k.OccurrenceID == other.OccurrenceID &&
		k.HostID == other.HostID
}
