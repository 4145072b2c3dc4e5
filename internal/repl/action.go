package repl

import (
	"time"

	"quorumd.io/server/models"
)

// ActionKind enumerates the directives a heartbeat outcome can produce.
type ActionKind int

const (
	// NoAction: nothing to do beyond scheduling the next heartbeat.
	NoAction ActionKind = iota

	// ReconfigAction: a peer supplied a newer configuration; the runtime
	// must validate and install it.
	ReconfigAction

	// StartElectionAction: the primary is gone and this node should stand
	// for election.
	StartElectionAction

	// StepDownSelfAction: another primary with a newer election time
	// exists; this node must relinquish primaryship.
	StepDownSelfAction

	// StepDownRemotePrimaryAction: a remote primary with an older
	// election time exists; the runtime must instruct it to step down.
	StepDownRemotePrimaryAction
)

// String returns the directive name for logging.
func (k ActionKind) String() string {
	switch k {
	case NoAction:
		return "NoAction"
	case ReconfigAction:
		return "Reconfig"
	case StartElectionAction:
		return "StartElection"
	case StepDownSelfAction:
		return "StepDownSelf"
	case StepDownRemotePrimaryAction:
		return "StepDownRemotePrimary"
	default:
		return "Unknown"
	}
}

// HeartbeatResponseAction is the tagged directive returned to the runtime
// after folding a heartbeat response, together with the instant at which the
// next heartbeat attempt against the same target must start.
type HeartbeatResponseAction struct {
	// Kind is the directive.
	Kind ActionKind

	// PrimaryIndex identifies the member a step-down directive concerns:
	// the self index for StepDownSelf, the remote claimant's index for
	// StepDownRemotePrimary. -1 otherwise.
	PrimaryIndex int

	// NewConfig carries the configuration of a Reconfig directive.
	NewConfig *models.ReplicaSetConfig

	// NextHeartbeatStart is when the next attempt against the target
	// must begin.
	NextHeartbeatStart time.Time
}

func makeNoAction() HeartbeatResponseAction {
	return HeartbeatResponseAction{Kind: NoAction, PrimaryIndex: -1}
}

func makeReconfigAction(cfg *models.ReplicaSetConfig) HeartbeatResponseAction {
	return HeartbeatResponseAction{Kind: ReconfigAction, PrimaryIndex: -1, NewConfig: cfg}
}

func makeStartElectionAction() HeartbeatResponseAction {
	return HeartbeatResponseAction{Kind: StartElectionAction, PrimaryIndex: -1}
}

func makeStepDownSelfAction(selfIndex int) HeartbeatResponseAction {
	return HeartbeatResponseAction{Kind: StepDownSelfAction, PrimaryIndex: selfIndex}
}

func makeStepDownRemoteAction(remoteIndex int) HeartbeatResponseAction {
	return HeartbeatResponseAction{Kind: StepDownRemotePrimaryAction, PrimaryIndex: remoteIndex}
}
