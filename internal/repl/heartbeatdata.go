package repl

import (
	"time"

	"quorumd.io/server/models"
)

// MemberHeartbeatData is the mutable observed state this node keeps for one
// configured member, fed exclusively by heartbeat outcomes.
type MemberHeartbeatData struct {
	// Health is models.HealthUnknown until the first completed round,
	// then HealthUp or HealthDown.
	Health int

	// State is the member state carried by the last successful response,
	// UNKNOWN before any activity and DOWN after a hard failure.
	State models.MemberState

	// OpTime is the member's last reported applied log position.
	OpTime models.OpTime

	// ElectionTime is the member's reported election op-time, meaningful
	// while it claims PRIMARY.
	ElectionTime models.OpTime

	// LastHeartbeat is when this node last completed a round against the
	// member, successfully or not.
	LastHeartbeat time.Time

	// LastHeartbeatRecv is when the member last contacted this node.
	LastHeartbeatRecv time.Time

	// UpSince is when the member was last observed transitioning to up.
	UpSince time.Time

	// DownSince is when the member was last marked down.
	DownSince time.Time

	// LastHeartbeatMessage is the member's hbmsg from its last response,
	// or the failure reason after a hard failure.
	LastHeartbeatMessage string

	// SyncingTo is the member's reported sync source.
	SyncingTo models.HostPort

	// Authoritative reports whether State came from the member itself
	// rather than being locally synthesized.
	Authoritative bool
}

// newMemberHeartbeatData returns the pre-contact record for a member.
func newMemberHeartbeatData() MemberHeartbeatData {
	return MemberHeartbeatData{
		Health: models.HealthUnknown,
		State:  models.StateUnknown,
	}
}

// Up reports whether the member is currently considered reachable.
func (d *MemberHeartbeatData) Up() bool {
	return d.Health == models.HealthUp
}

// Unknown reports whether no round has completed against the member yet.
func (d *MemberHeartbeatData) Unknown() bool {
	return d.Health == models.HealthUnknown
}

// setUpValues folds a successful heartbeat response into the record.
func (d *MemberHeartbeatData) setUpValues(now time.Time, resp *models.HeartbeatResponse) {
	if !d.Up() {
		d.UpSince = now
	}
	d.Health = models.HealthUp
	d.State = resp.State
	d.OpTime = resp.OpTime
	d.ElectionTime = resp.ElectionTime
	d.LastHeartbeat = now
	d.LastHeartbeatMessage = resp.Hbmsg
	d.SyncingTo = resp.SyncingTo
	d.Authoritative = true
}

// setDownValues marks the member down after an exhausted heartbeat round.
func (d *MemberHeartbeatData) setDownValues(now time.Time, reason string) {
	d.Health = models.HealthDown
	d.State = models.StateDown
	d.OpTime = models.OpTime{}
	d.ElectionTime = models.OpTime{}
	d.LastHeartbeat = now
	d.DownSince = now
	d.UpSince = time.Time{}
	d.LastHeartbeatMessage = reason
	d.SyncingTo = models.HostPort{}
	d.Authoritative = false
}
