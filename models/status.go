package models

import "time"

// Member health values as reported in status documents.
const (
	HealthUnknown = -1
	HealthDown    = 0
	HealthUp      = 1
)

// MemberStatus is one entry of the status document's members array.
// Optional fields are omitted for members with no recorded heartbeat
// activity.
type MemberStatus struct {
	ID       int32  `json:"_id"`
	Name     string `json:"name"`
	Health   int    `json:"health"`
	State    int    `json:"state"`
	StateStr string `json:"stateStr"`

	Uptime               *int64     `json:"uptime,omitempty"`
	OpTime               *OpTime    `json:"optime,omitempty"`
	OpTimeDate           *time.Time `json:"optimeDate,omitempty"`
	LastHeartbeat        *time.Time `json:"lastHeartbeat,omitempty"`
	LastHeartbeatRecv    *time.Time `json:"lastHeartbeatRecv,omitempty"`
	LastHeartbeatMessage string     `json:"lastHeartbeatMessage,omitempty"`
	PingMs               *int64     `json:"pingMs,omitempty"`
	ElectionTime         *OpTime    `json:"electionTime,omitempty"`
	SyncingTo            string     `json:"syncingTo,omitempty"`
	Self                 bool       `json:"self,omitempty"`
}

// StatusResponse is the full replica-set status document.
type StatusResponse struct {
	Set     string         `json:"set"`
	Date    time.Time      `json:"date"`
	MyState int            `json:"myState"`
	Members []MemberStatus `json:"members"`
}

// SyncFromResponse acknowledges a sync-from request.
type SyncFromResponse struct {
	// SyncFromRequested echoes the requested target.
	SyncFromRequested string `json:"syncFromRequested,omitempty"`

	// PrevSyncTarget is the sync source that was replaced, if any.
	PrevSyncTarget string `json:"prevSyncTarget,omitempty"`

	// Warning flags a target that is far behind this node.
	Warning string `json:"warning,omitempty"`
}

// FreezeResponse acknowledges a freeze request.
type FreezeResponse struct {
	// Info is set when unfreezing.
	Info string `json:"info,omitempty"`

	// Warning is set for suspicious durations.
	Warning string `json:"warning,omitempty"`
}
