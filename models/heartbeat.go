package models

// HeartbeatProtocolVersion identifies the heartbeat wire format.
const HeartbeatProtocolVersion = 1

// HeartbeatArgs is the outbound heartbeat argument bundle built by
// the coordinator for the networking layer to deliver.
type HeartbeatArgs struct {
	// ProtocolVersion is HeartbeatProtocolVersion.
	ProtocolVersion int `json:"pv"`

	// SetName is the sender's replica-set name.
	SetName string `json:"replSetHeartbeat"`

	// SenderID is the sender's member id, or -1 when the sender holds no
	// configuration naming itself.
	SenderID int32 `json:"fromId"`

	// SenderHost is the sender's own address, when known.
	SenderHost HostPort `json:"from,omitempty"`

	// ConfigVersion is the sender's config version, or -2 when the sender
	// holds no configuration.
	ConfigVersion int64 `json:"v"`

	// HasData reports whether the sender has begun replicating.
	HasData bool `json:"hasData,omitempty"`
}

// HeartbeatResponse is a peer's reply to a heartbeat request.
type HeartbeatResponse struct {
	// Ok reports whether the peer processed the request.
	Ok bool `json:"ok"`

	// SetName is the peer's replica-set name.
	SetName string `json:"set,omitempty"`

	// State is the peer's member state.
	State MemberState `json:"state"`

	// ElectionTime is the op-time at which the peer won its election,
	// meaningful when State is PRIMARY.
	ElectionTime OpTime `json:"electionTime,omitempty"`

	// OpTime is the peer's last applied log position.
	OpTime OpTime `json:"opTime"`

	// ConfigVersion is the peer's config version.
	ConfigVersion int64 `json:"v"`

	// Config carries the peer's full configuration document when its
	// version exceeds the one named in the request.
	Config *ReplicaSetConfig `json:"config,omitempty"`

	// Electable reports whether the peer considers itself electable.
	Electable bool `json:"electable,omitempty"`

	// Hbmsg is the peer's current heartbeat message.
	Hbmsg string `json:"hbmsg,omitempty"`

	// SyncingTo is the peer's current sync source, when it has one.
	SyncingTo HostPort `json:"syncingTo,omitempty"`

	// Time is the peer's wall clock in seconds.
	Time int64 `json:"time,omitempty"`
}
