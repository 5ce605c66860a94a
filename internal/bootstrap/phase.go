package bootstrap

// Phase names a bootstrap state for one authenticated identity. The resolver
// walks these in order and re-enters from PhaseUnresolved on every relevant
// session event; a failed attempt is retried in full, never resumed partway.
type Phase int

const (
	PhaseUnresolved Phase = iota
	PhaseProfileMissing
	PhaseProfileCreating
	PhaseProfileReady
	PhaseRoleProfileMissing
	PhaseRoleProfileCreating
	PhaseRoleProfileReady
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhaseUnresolved:          "unresolved",
	PhaseProfileMissing:      "profile_missing",
	PhaseProfileCreating:     "profile_creating",
	PhaseProfileReady:        "profile_ready",
	PhaseRoleProfileMissing:  "role_profile_missing",
	PhaseRoleProfileCreating: "role_profile_creating",
	PhaseRoleProfileReady:    "role_profile_ready",
	PhaseFailed:              "failed",
}

// String returns the phase name.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the phase ends a bootstrap attempt. PhaseProfileReady
// is terminal only for admins, which carry no role profile; the resolver encodes
// that short-circuit in the outcome it publishes.
func (p Phase) Terminal() bool {
	return p == PhaseRoleProfileReady || p == PhaseFailed
}
