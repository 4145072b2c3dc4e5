package models

// MemberState is the externally visible state of a replica-set member.
type MemberState int

// Member states. The numeric values are part of the wire protocol; 4 is
// reserved and unused.
const (
	StateStartup    MemberState = 0
	StatePrimary    MemberState = 1
	StateSecondary  MemberState = 2
	StateRecovering MemberState = 3
	StateStartup2   MemberState = 5
	StateUnknown    MemberState = 6
	StateArbiter    MemberState = 7
	StateDown       MemberState = 8
	StateRollback   MemberState = 9
	StateRemoved    MemberState = 10
)

var stateNames = map[MemberState]string{
	StateStartup:    "STARTUP",
	StatePrimary:    "PRIMARY",
	StateSecondary:  "SECONDARY",
	StateRecovering: "RECOVERING",
	StateStartup2:   "STARTUP2",
	StateUnknown:    "UNKNOWN",
	StateArbiter:    "ARBITER",
	StateDown:       "DOWN",
	StateRollback:   "ROLLBACK",
	StateRemoved:    "REMOVED",
}

// String returns the canonical upper-case name of the state.
func (s MemberState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Primary reports whether s is PRIMARY.
func (s MemberState) Primary() bool { return s == StatePrimary }

// Secondary reports whether s is SECONDARY.
func (s MemberState) Secondary() bool { return s == StateSecondary }

// Readable reports whether a member in state s serves a usable copy of the
// log, i.e. it is PRIMARY or SECONDARY. Only readable members are eligible
// sync sources.
func (s MemberState) Readable() bool {
	return s == StatePrimary || s == StateSecondary
}
