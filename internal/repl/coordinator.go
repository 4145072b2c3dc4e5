// Package repl implements the topology coordinator of a quorumd replica
// set: a deterministic, time-driven state machine that tracks the liveness
// and progress of every configured member, selects the peer this node
// replicates from, adjudicates election votes, and issues directives to the
// surrounding cluster runtime.
//
// The coordinator owns no timer and performs no I/O; every operation takes
// the current wall-clock instant explicitly, which keeps it fully
// deterministic under test. The runtime serializes calls, so no internal
// locking is required.
package repl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quorumd.io/server/models"
)

const (
	// heartbeatInterval separates successful heartbeat rounds.
	heartbeatInterval = 2 * time.Second

	// DefaultMaxSyncSourceLag caps how far behind the freshest peer a
	// sync-source candidate may be.
	DefaultMaxSyncSourceLag = 30 * time.Second

	// DefaultElectLease is the cooldown between yea votes for different
	// candidates.
	DefaultElectLease = 30 * time.Second

	// syncSourceWarningLag triggers the sync-from "behind us" warning.
	syncSourceWarningLag = 10 // seconds
)

// lastVote records the most recent yea vote cast by this node.
type lastVote struct {
	whoID int32
	when  time.Time
}

// Options tune coordinator behavior. The zero value selects all defaults.
type Options struct {
	// MaxSyncSourceLag overrides DefaultMaxSyncSourceLag.
	MaxSyncSourceLag time.Duration

	// ElectLease overrides DefaultElectLease.
	ElectLease time.Duration
}

// Coordinator is the replica-set topology state machine.
type Coordinator struct {
	logger *zap.Logger

	maxSyncSourceLag time.Duration
	electLease       time.Duration

	cfg       *models.ReplicaSetConfig
	selfIndex int

	hbdata []MemberHeartbeatData
	pings  map[models.HostPort]*pingStats

	memberState         models.MemberState
	currentPrimaryIndex int
	electionTime        models.OpTime
	stepDownUntil       time.Time

	syncSource           models.HostPort
	forceSyncSourceIndex int
	blacklist            map[models.HostPort]time.Time

	lastVote lastVote

	// latestApplied is the most recent local applied op-time seen through
	// any operation; used for the outbound hasData flag.
	latestApplied models.OpTime

	// selfHeartbeatMessage is this node's own hbmsg slot, cleared when a
	// new remote primary is first observed.
	selfHeartbeatMessage string
}

// NewCoordinator creates a coordinator with no configuration installed.
func NewCoordinator(logger *zap.Logger, opts Options) *Coordinator {
	if opts.MaxSyncSourceLag <= 0 {
		opts.MaxSyncSourceLag = DefaultMaxSyncSourceLag
	}
	if opts.ElectLease <= 0 {
		opts.ElectLease = DefaultElectLease
	}
	return &Coordinator{
		logger:               logger,
		maxSyncSourceLag:     opts.MaxSyncSourceLag,
		electLease:           opts.ElectLease,
		selfIndex:            -1,
		pings:                make(map[models.HostPort]*pingStats),
		memberState:          models.StateStartup,
		currentPrimaryIndex:  -1,
		forceSyncSourceIndex: -1,
		blacklist:            make(map[models.HostPort]time.Time),
	}
}

// MemberState returns this node's current state.
func (tc *Coordinator) MemberState() models.MemberState {
	return tc.memberState
}

// CurrentPrimaryIndex returns the config index of the member this node
// believes to be primary, or -1 when none is known.
func (tc *Coordinator) CurrentPrimaryIndex() int {
	return tc.currentPrimaryIndex
}

// MemberHealth returns the observed health of the member at index, or
// HealthUnknown for an out-of-range index.
func (tc *Coordinator) MemberHealth(index int) int {
	if tc.cfg == nil || index < 0 || index >= len(tc.hbdata) {
		return models.HealthUnknown
	}
	return tc.hbdata[index].Health
}

// Config returns the installed configuration, or nil.
func (tc *Coordinator) Config() *models.ReplicaSetConfig {
	return tc.cfg
}

// SelfIndex returns this node's index in the installed configuration, or -1.
func (tc *Coordinator) SelfIndex() int {
	return tc.selfIndex
}

func (tc *Coordinator) iAmPrimary() bool {
	return tc.selfIndex >= 0 && tc.currentPrimaryIndex == tc.selfIndex
}

func (tc *Coordinator) selfConfig() *models.MemberConfig {
	return &tc.cfg.Members[tc.selfIndex]
}

func (tc *Coordinator) pingsFor(target models.HostPort) *pingStats {
	stats, ok := tc.pings[target]
	if !ok {
		stats = newPingStats()
		tc.pings[target] = stats
	}
	return stats
}

func (tc *Coordinator) heartbeatTimeout() time.Duration {
	if tc.cfg != nil {
		return tc.cfg.HeartbeatTimeout()
	}
	return models.DefaultHeartbeatTimeout
}

// UpdateConfig installs a validated configuration. selfIndex of -1 removes
// this node from the set. Heartbeat state is preserved for members retained
// by id; failure counters reset; election state resets when selfIndex
// changed.
func (tc *Coordinator) UpdateConfig(cfg *models.ReplicaSetConfig, selfIndex int, now time.Time, lastApplied models.OpTime) {
	oldCfg := tc.cfg
	oldSelfID := int32(-1)
	if oldCfg != nil && tc.selfIndex >= 0 {
		oldSelfID = oldCfg.Members[tc.selfIndex].ID
	}

	newData := make([]MemberHeartbeatData, len(cfg.Members))
	for i := range cfg.Members {
		newData[i] = newMemberHeartbeatData()
		if oldCfg != nil {
			if j := oldCfg.FindMemberIndexByID(cfg.Members[i].ID); j != -1 {
				newData[i] = tc.hbdata[j]
			}
		}
	}

	newPrimary := -1
	if oldCfg != nil && tc.currentPrimaryIndex != -1 {
		newPrimary = cfg.FindMemberIndexByID(oldCfg.Members[tc.currentPrimaryIndex].ID)
	}

	tc.cfg = cfg
	tc.selfIndex = selfIndex
	tc.hbdata = newData
	tc.currentPrimaryIndex = newPrimary
	tc.forceSyncSourceIndex = -1
	tc.latestApplied = models.MaxOpTime(tc.latestApplied, lastApplied)
	for _, stats := range tc.pings {
		stats.reset()
	}

	newSelfID := int32(-1)
	if selfIndex >= 0 {
		newSelfID = cfg.Members[selfIndex].ID
	}
	if newSelfID != oldSelfID {
		tc.electionTime = models.OpTime{}
		tc.stepDownUntil = time.Time{}
		tc.lastVote = lastVote{}
	}

	switch {
	case selfIndex < 0:
		tc.memberState = models.StateRemoved
	case cfg.Members[selfIndex].ArbiterOnly:
		tc.memberState = models.StateArbiter
	case tc.memberState == models.StateStartup ||
		tc.memberState == models.StateRemoved ||
		tc.memberState == models.StateArbiter:
		tc.memberState = models.StateStartup2
	}

	tc.logger.Info("new replica set config in effect",
		zap.String("set", cfg.Name),
		zap.Int64("version", cfg.Version),
		zap.Int("members", len(cfg.Members)),
		zap.Int("self_index", selfIndex),
	)
}

// PrepareHeartbeatRequest builds the outbound argument bundle for a
// heartbeat against target and returns the remaining timeout budget for
// this attempt. Retried attempts within a round receive the unconsumed
// remainder of the round's budget.
func (tc *Coordinator) PrepareHeartbeatRequest(now time.Time, setName string, target models.HostPort) (models.HeartbeatArgs, time.Duration) {
	stats := tc.pingsFor(target)
	timeout := tc.heartbeatTimeout()
	if !stats.started() || now.Sub(stats.roundStart) >= timeout {
		stats.start(now)
	}
	alreadyElapsed := now.Sub(stats.roundStart)

	args := models.HeartbeatArgs{
		ProtocolVersion: models.HeartbeatProtocolVersion,
		SenderID:        -1,
		HasData:         !tc.latestApplied.IsZero(),
	}
	if tc.cfg != nil {
		args.SetName = tc.cfg.Name
		args.ConfigVersion = tc.cfg.Version
		if tc.selfIndex >= 0 {
			args.SenderID = tc.selfConfig().ID
			args.SenderHost = tc.selfConfig().Host
		}
	} else {
		args.SetName = setName
		args.ConfigVersion = -2
	}

	remaining := timeout - alreadyElapsed
	if remaining < 0 {
		remaining = 0
	}
	return args, remaining
}

// ProcessHeartbeatResponse folds a completed heartbeat exchange into the
// target's record and returns the resulting directive. respErr non-nil
// means the exchange failed; a models.ErrExceededTimeLimit failure is a
// timeout and is never retried within the round.
func (tc *Coordinator) ProcessHeartbeatResponse(now time.Time, rtt time.Duration, target models.HostPort, resp *models.HeartbeatResponse, respErr error, lastApplied models.OpTime) HeartbeatResponseAction {
	stats := tc.pingsFor(target)
	timeout := tc.heartbeatTimeout()
	elapsed := timeout
	if stats.started() {
		elapsed = now.Sub(stats.roundStart)
	}
	tc.latestApplied = models.MaxOpTime(tc.latestApplied, lastApplied)

	isTimeout := errors.Is(respErr, models.ErrExceededTimeLimit)
	hard := false
	if respErr != nil {
		exhausted := stats.miss()
		hard = exhausted || isTimeout || elapsed >= timeout
	} else {
		stats.hit(rtt)
	}

	next := now.Add(heartbeatInterval)
	if respErr != nil && !hard {
		// Non-timeout failure with budget remaining: retry at once.
		next = now
	}
	if respErr == nil || hard {
		stats.endRound()
	}

	if respErr == nil && resp.Config != nil {
		currentVersion := int64(-2)
		if tc.cfg != nil {
			currentVersion = tc.cfg.Version
		}
		if resp.Config.Version > currentVersion {
			tc.logger.Info("heartbeat carried a newer config",
				zap.String("target", target.String()),
				zap.Int64("version", resp.Config.Version),
			)
			action := makeReconfigAction(resp.Config)
			action.NextHeartbeatStart = next
			return action
		}
	}

	if tc.cfg == nil {
		action := makeNoAction()
		action.NextHeartbeatStart = next
		return action
	}

	memberIndex := tc.cfg.FindMemberIndex(target)
	if memberIndex == -1 || memberIndex == tc.selfIndex {
		tc.logger.Warn("dropping heartbeat response from host not in config",
			zap.String("target", target.String()))
		action := makeNoAction()
		action.NextHeartbeatStart = next
		return action
	}

	hbd := &tc.hbdata[memberIndex]
	if respErr != nil {
		if !hard {
			// Retry pending; do not reclassify the member yet.
			action := makeNoAction()
			action.NextHeartbeatStart = next
			return action
		}
		tc.logger.Info("marking member down after exhausted heartbeat round",
			zap.String("target", target.String()),
			zap.Error(respErr),
		)
		hbd.setDownValues(now, respErr.Error())
	} else {
		hbd.setUpValues(now, resp)
	}

	action := tc.updateAfterHeartbeat(now)
	action.NextHeartbeatStart = next
	return action
}

// updateAfterHeartbeat reclassifies the group after a member's heartbeat
// record changed and decides whether any directive is warranted.
func (tc *Coordinator) updateAfterHeartbeat(now time.Time) HeartbeatResponseAction {
	// Track the freshest remote primary claim.
	remotePrimary := -1
	for i := range tc.hbdata {
		if i == tc.selfIndex {
			continue
		}
		d := &tc.hbdata[i]
		if d.Up() && d.State.Primary() {
			if remotePrimary == -1 || tc.hbdata[remotePrimary].ElectionTime.Less(d.ElectionTime) {
				remotePrimary = i
			}
		}
	}

	if remotePrimary != -1 {
		if remotePrimary == tc.currentPrimaryIndex {
			return makeNoAction()
		}
		// A new primary came into view.
		tc.selfHeartbeatMessage = ""
		if tc.memberState.Primary() {
			if tc.electionTime.Less(tc.hbdata[remotePrimary].ElectionTime) {
				tc.logger.Warn("another primary won a later election; stepping down",
					zap.String("remote", tc.cfg.Members[remotePrimary].Host.String()))
				return makeStepDownSelfAction(tc.selfIndex)
			}
			tc.logger.Warn("stale remote primary detected; requesting its step-down",
				zap.String("remote", tc.cfg.Members[remotePrimary].Host.String()))
			return makeStepDownRemoteAction(remotePrimary)
		}
		tc.currentPrimaryIndex = remotePrimary
		return makeNoAction()
	}

	// No remote member claims primaryship.
	if tc.currentPrimaryIndex != -1 && tc.currentPrimaryIndex != tc.selfIndex {
		d := &tc.hbdata[tc.currentPrimaryIndex]
		if !d.Up() || !d.State.Primary() {
			tc.logger.Info("lost contact with primary",
				zap.String("primary", tc.cfg.Members[tc.currentPrimaryIndex].Host.String()))
			tc.currentPrimaryIndex = -1
		}
	}

	if tc.currentPrimaryIndex == -1 && !tc.memberState.Primary() && tc.shouldStandForElection(now) {
		tc.logger.Info("no primary in view and a majority of voters is reachable; standing for election")
		return makeStartElectionAction()
	}
	return makeNoAction()
}

// shouldStandForElection reports whether this node may start an election:
// it must be an electable secondary with no step-down wait in effect and a
// majority of voters must be reachable.
func (tc *Coordinator) shouldStandForElection(now time.Time) bool {
	if tc.selfIndex < 0 {
		return false
	}
	self := tc.selfConfig()
	if self.ArbiterOnly || self.Priority <= 0 {
		return false
	}
	if !tc.memberState.Secondary() {
		return false
	}
	if now.Before(tc.stepDownUntil) {
		return false
	}

	votesUp := 0
	for i := range tc.cfg.Members {
		m := &tc.cfg.Members[i]
		if !m.IsVoter() {
			continue
		}
		if i == tc.selfIndex || tc.hbdata[i].Up() {
			votesUp += m.Votes
		}
	}
	return votesUp >= tc.cfg.MajorityVoteCount()
}

// SyncSourceAddress returns the current sync source, or the empty address.
func (tc *Coordinator) SyncSourceAddress() models.HostPort {
	return tc.syncSource
}

// SetForceSyncSourceIndex arms a one-shot override: the next
// ChooseNewSyncSource selects member i unconditionally.
func (tc *Coordinator) SetForceSyncSourceIndex(i int) {
	tc.forceSyncSourceIndex = i
}

// BlacklistSyncSource excludes host from sync-source selection until the
// given instant.
func (tc *Coordinator) BlacklistSyncSource(host models.HostPort, until time.Time) {
	tc.logger.Info("blacklisting sync source",
		zap.String("host", host.String()),
		zap.Time("until", until),
	)
	tc.blacklist[host] = until
}

// totalPings is the number of successful heartbeat exchanges recorded
// against current members.
func (tc *Coordinator) totalPings() int {
	total := 0
	for i := range tc.cfg.Members {
		if stats, ok := tc.pings[tc.cfg.Members[i].Host]; ok {
			total += stats.count
		}
	}
	return total
}

// ChooseNewSyncSource applies the selection algorithm and updates the
// internal sync-source address, returning the choice (possibly empty).
func (tc *Coordinator) ChooseNewSyncSource(now time.Time, lastApplied models.OpTime) models.HostPort {
	if tc.cfg == nil {
		tc.syncSource = models.HostPort{}
		return tc.syncSource
	}
	tc.latestApplied = models.MaxOpTime(tc.latestApplied, lastApplied)

	if tc.forceSyncSourceIndex != -1 {
		tc.syncSource = tc.cfg.Members[tc.forceSyncSourceIndex].Host
		tc.forceSyncSourceIndex = -1
		tc.logger.Info("choosing requested sync source",
			zap.String("sync_source", tc.syncSource.String()))
		return tc.syncSource
	}

	// Two full rounds of pings are required before the estimates are
	// trustworthy enough to pick by latency.
	if need := 2*(len(tc.cfg.Members)-1) - tc.totalPings(); need > 0 {
		tc.logger.Debug("waiting for more heartbeats before choosing a sync source",
			zap.Int("needed", need))
		tc.syncSource = models.HostPort{}
		return tc.syncSource
	}

	if !tc.cfg.ChainingAllowed() {
		if tc.currentPrimaryIndex == -1 || tc.currentPrimaryIndex == tc.selfIndex {
			tc.syncSource = models.HostPort{}
			return tc.syncSource
		}
		tc.syncSource = tc.cfg.Members[tc.currentPrimaryIndex].Host
		tc.logger.Info("chaining not allowed; syncing from primary",
			zap.String("sync_source", tc.syncSource.String()))
		return tc.syncSource
	}

	// The freshest op-time reported by any up peer anchors the staleness
	// window.
	var maxPeerOpTime models.OpTime
	for i := range tc.hbdata {
		if i == tc.selfIndex {
			continue
		}
		if tc.hbdata[i].Up() {
			maxPeerOpTime = models.MaxOpTime(maxPeerOpTime, tc.hbdata[i].OpTime)
		}
	}

	lagSecs := uint32(tc.maxSyncSourceLag / time.Second)
	best := -1
	for i := range tc.cfg.Members {
		if i == tc.selfIndex {
			continue
		}
		m := &tc.cfg.Members[i]
		d := &tc.hbdata[i]
		if !d.Up() || !d.State.Readable() {
			continue
		}
		// An arbiter that has reported an op-time carries a log and may
		// serve as a source; one without cannot.
		if m.ArbiterOnly && d.OpTime.IsZero() {
			continue
		}
		if !m.BuildIndexes {
			continue
		}
		if m.SlaveDelay > 0 && d.OpTime.Less(maxPeerOpTime) {
			continue
		}
		if !d.OpTime.After(lastApplied) {
			continue
		}
		if maxPeerOpTime.Secs > lagSecs && d.OpTime.Secs < maxPeerOpTime.Secs-lagSecs {
			continue
		}
		if until, ok := tc.blacklist[m.Host]; ok && now.Before(until) {
			continue
		}
		if best == -1 || tc.betterSyncCandidate(i, best) {
			best = i
		}
	}

	if best == -1 {
		tc.logger.Info("no eligible sync source")
		tc.syncSource = models.HostPort{}
		return tc.syncSource
	}
	tc.syncSource = tc.cfg.Members[best].Host
	tc.logger.Info("chose new sync source",
		zap.String("sync_source", tc.syncSource.String()),
		zap.String("optime", tc.hbdata[best].OpTime.String()),
	)
	return tc.syncSource
}

// betterSyncCandidate reports whether candidate i beats the incumbent:
// lower round trip wins; at equal latency the fresher op-time wins, then
// the lower member id.
func (tc *Coordinator) betterSyncCandidate(i, incumbent int) bool {
	pi := tc.pingValue(tc.cfg.Members[i].Host)
	pj := tc.pingValue(tc.cfg.Members[incumbent].Host)
	if pi != pj {
		return pi < pj
	}
	oi, oj := tc.hbdata[i].OpTime, tc.hbdata[incumbent].OpTime
	if oi != oj {
		return oj.Less(oi)
	}
	return tc.cfg.Members[i].ID < tc.cfg.Members[incumbent].ID
}

func (tc *Coordinator) pingValue(host models.HostPort) time.Duration {
	if stats, ok := tc.pings[host]; ok && stats.value >= 0 {
		return stats.value
	}
	return time.Duration(1<<63 - 1)
}

// latestKnownOpTime is the freshest op-time among this node's applied
// position and every up member's reported position.
func (tc *Coordinator) latestKnownOpTime(lastApplied models.OpTime) models.OpTime {
	latest := lastApplied
	for i := range tc.hbdata {
		if i == tc.selfIndex {
			continue
		}
		if tc.hbdata[i].Up() {
			latest = models.MaxOpTime(latest, tc.hbdata[i].OpTime)
		}
	}
	return latest
}

// unelectableReason explains why the member at index cannot become primary
// in this node's view, or returns "" when no objection exists.
func (tc *Coordinator) unelectableReason(index int) string {
	m := &tc.cfg.Members[index]
	if m.ArbiterOnly {
		return "member is an arbiter"
	}
	if m.Priority <= 0 {
		return "member has zero priority"
	}
	if index == tc.selfIndex {
		if !tc.memberState.Secondary() {
			return "member is not currently a secondary"
		}
		return ""
	}
	if !tc.hbdata[index].State.Secondary() {
		return "member is not currently a secondary"
	}
	return ""
}

// highestPriorityElectableIndex returns the index of the electable peer
// with the highest priority, or -1. Self is excluded: its candidacy is
// adjudicated by its own fresh/elect exchange.
func (tc *Coordinator) highestPriorityElectableIndex() int {
	best := -1
	for i := range tc.cfg.Members {
		if i == tc.selfIndex {
			continue
		}
		if tc.unelectableReason(i) != "" {
			continue
		}
		if best == -1 || tc.cfg.Members[i].Priority > tc.cfg.Members[best].Priority {
			best = i
		}
	}
	return best
}

// shouldVetoMember decides whether this node vetoes the candidacy described
// by args, returning the veto with its human-readable reason.
func (tc *Coordinator) shouldVetoMember(args models.FreshArgs, lastApplied models.OpTime) (bool, string) {
	hopefulIndex := tc.cfg.FindMemberIndexByID(args.ID)
	if hopefulIndex == -1 {
		return true, fmt.Sprintf("replSet couldn't find member with id %d", args.ID)
	}
	who := args.Who.String()

	if tc.iAmPrimary() && lastApplied.AtLeast(tc.hbdata[hopefulIndex].OpTime) {
		return true, fmt.Sprintf(
			"I am already primary, %s can try again once I've stepped down", who)
	}

	if tc.currentPrimaryIndex != -1 && tc.currentPrimaryIndex != hopefulIndex &&
		tc.hbdata[tc.currentPrimaryIndex].OpTime.AtLeast(tc.hbdata[hopefulIndex].OpTime) {
		return true, fmt.Sprintf(
			"%s is trying to elect itself but %s is already primary and more up-to-date",
			who, tc.cfg.Members[tc.currentPrimaryIndex].Host.String())
	}

	if highest := tc.highestPriorityElectableIndex(); highest != -1 && highest != hopefulIndex {
		hopeful := &tc.cfg.Members[hopefulIndex]
		other := &tc.cfg.Members[highest]
		if other.Priority > hopeful.Priority &&
			tc.hbdata[highest].OpTime.AtLeast(tc.hbdata[hopefulIndex].OpTime) {
			return true, fmt.Sprintf(
				"%s has lower priority of %g than %s which has a priority of %g",
				who, hopeful.Priority, other.Host.String(), other.Priority)
		}
	}

	if reason := tc.unelectableReason(hopefulIndex); reason != "" {
		return true, fmt.Sprintf("I don't think %s is electable because the %s", who, reason)
	}
	return false, ""
}

// PrepareFreshResponse adjudicates a freshness probe. A cancelled context
// yields ErrShutdownInProgress with no state change.
func (tc *Coordinator) PrepareFreshResponse(ctx context.Context, args models.FreshArgs, lastApplied models.OpTime) (*models.FreshResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.ErrShutdownInProgress
	}
	if tc.cfg == nil {
		return nil, fmt.Errorf("%w: no replica set configuration installed", models.ErrReplicaSetNotFound)
	}
	if args.SetName != tc.cfg.Name {
		return nil, fmt.Errorf(
			"%w: received a fresh command for set %q but our set name is %q",
			models.ErrReplicaSetNotFound, args.SetName, tc.cfg.Name)
	}

	resp := &models.FreshResponse{OpTime: lastApplied}
	if tc.cfg.Version > args.ConfigVersion {
		tc.logger.Info("member is not yet aware its config version is stale",
			zap.Int32("candidate_id", args.ID),
			zap.Int64("candidate_version", args.ConfigVersion),
		)
		resp.Info = "config version stale"
		resp.Fresher = true
	} else {
		resp.Fresher = tc.latestKnownOpTime(lastApplied).After(args.OpTime)
	}

	veto, errmsg := tc.shouldVetoMember(args, lastApplied)
	resp.Veto = veto
	if veto {
		resp.Errmsg = errmsg
		tc.logger.Info("vetoing election candidacy",
			zap.Int32("candidate_id", args.ID),
			zap.String("reason", errmsg),
		)
	}
	return resp, nil
}

// PrepareElectResponse adjudicates an election vote request. A cancelled
// context yields ErrShutdownInProgress with no state change.
func (tc *Coordinator) PrepareElectResponse(ctx context.Context, args models.ElectArgs, now time.Time) (*models.ElectResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.ErrShutdownInProgress
	}
	resp := &models.ElectResponse{Round: args.Round}
	if tc.cfg == nil {
		tc.logger.Info("received an elect request but no configuration is installed")
		return resp, nil
	}

	hopefulIndex := tc.cfg.FindMemberIndexByID(args.WhoID)
	hopefulHost := ""
	if hopefulIndex != -1 {
		hopefulHost = tc.cfg.Members[hopefulIndex].Host.String()
	}

	switch {
	case args.SetName != tc.cfg.Name:
		tc.logger.Warn("received an elect request for another set",
			zap.String("their_set", args.SetName),
			zap.String("our_set", tc.cfg.Name),
		)

	case tc.cfg.Version < args.ConfigVersion:
		tc.logger.Info("not voting because our config version is stale",
			zap.Int64("our_version", tc.cfg.Version),
			zap.Int64("their_version", args.ConfigVersion),
		)

	case tc.cfg.Version > args.ConfigVersion:
		resp.Vote = models.VetoVote
		tc.logger.Info("received stale config version during election",
			zap.Int64("their_version", args.ConfigVersion))

	case hopefulIndex == -1:
		resp.Vote = models.VetoVote
		tc.logger.Warn("couldn't find member during election",
			zap.Int32("whoid", args.WhoID))

	case tc.iAmPrimary():
		resp.Vote = models.VetoVote
		tc.logger.Info("I am already primary; vetoing candidate",
			zap.String("candidate", hopefulHost))

	case tc.currentPrimaryIndex != -1:
		resp.Vote = models.VetoVote
		tc.logger.Info("another member is already primary; vetoing candidate",
			zap.String("primary", tc.cfg.Members[tc.currentPrimaryIndex].Host.String()),
			zap.String("candidate", hopefulHost),
		)

	case tc.vetoedByHigherPriority(hopefulIndex):
		resp.Vote = models.VetoVote
		tc.logger.Info("candidate has lower priority than an electable member",
			zap.String("candidate", hopefulHost),
			zap.String("preferred", tc.cfg.Members[tc.highestPriorityElectableIndex()].Host.String()),
		)

	case !tc.lastVote.when.IsZero() && now.Sub(tc.lastVote.when) < tc.electLease &&
		tc.lastVote.whoID != args.WhoID:
		votedFor := tc.memberHostByID(tc.lastVote.whoID)
		secsAgo := int64(now.Sub(tc.lastVote.when) / time.Second)
		tc.logger.Info(fmt.Sprintf("voting no; a yea vote was cast too recently: voted for %s %d secs ago",
			votedFor, secsAgo),
			zap.String("candidate", hopefulHost),
			zap.String("voted_for", votedFor),
			zap.Int64("secs_ago", secsAgo),
		)

	default:
		tc.lastVote = lastVote{whoID: args.WhoID, when: now}
		resp.Vote = 1
		tc.logger.Info("voting yea",
			zap.String("candidate", hopefulHost),
			zap.Int32("whoid", args.WhoID),
		)
	}
	return resp, nil
}

func (tc *Coordinator) vetoedByHigherPriority(hopefulIndex int) bool {
	highest := tc.highestPriorityElectableIndex()
	return highest != -1 && highest != hopefulIndex &&
		tc.cfg.Members[highest].Priority > tc.cfg.Members[hopefulIndex].Priority
}

func (tc *Coordinator) memberHostByID(id int32) string {
	if i := tc.cfg.FindMemberIndexByID(id); i != -1 {
		return tc.cfg.Members[i].Host.String()
	}
	return fmt.Sprintf("member %d", id)
}

// PrepareFreezeResponse handles a freeze request: zero unfreezes, one
// second draws a warning without any state change, and longer durations
// set the step-down deadline unless this node is primary.
func (tc *Coordinator) PrepareFreezeResponse(ctx context.Context, now time.Time, secs int) (*models.FreezeResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.ErrShutdownInProgress
	}
	resp := &models.FreezeResponse{}
	if secs == 0 {
		tc.stepDownUntil = time.Time{}
		tc.logger.Info("replSet info 'unfreezing'")
		resp.Info = "unfreezing"
		return resp, nil
	}
	if secs == 1 {
		resp.Warning = "you really want to freeze for only 1 second?"
	}
	if tc.iAmPrimary() {
		tc.logger.Info("received freeze command but we are primary",
			zap.Int("secs", secs))
		return resp, nil
	}
	if secs > 1 {
		tc.stepDownUntil = now.Add(time.Duration(secs) * time.Second)
		tc.logger.Info("replSet info 'freezing'", zap.Int("secs", secs))
	}
	return resp, nil
}

// PrepareSyncFromResponse validates an operator's sync-from request and, on
// success, redirects replication to the target. A partially populated
// response may accompany an error.
func (tc *Coordinator) PrepareSyncFromResponse(ctx context.Context, target models.HostPort, lastApplied models.OpTime) (*models.SyncFromResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.ErrShutdownInProgress
	}
	if tc.cfg == nil || tc.selfIndex < 0 {
		return nil, fmt.Errorf("%w: no replica set configuration installed", models.ErrReplicaSetNotFound)
	}
	resp := &models.SyncFromResponse{}

	if tc.selfConfig().ArbiterOnly {
		return nil, fmt.Errorf("%w: arbiters don't sync", models.ErrNotSecondary)
	}
	if tc.iAmPrimary() {
		resp.SyncFromRequested = target.String()
		return resp, fmt.Errorf("%w: primaries don't sync", models.ErrNotSecondary)
	}

	targetIndex := tc.cfg.FindMemberIndex(target)
	if targetIndex == -1 {
		return nil, fmt.Errorf("%w: Could not find member %q in replica set",
			models.ErrNodeNotFound, target.String())
	}
	if targetIndex == tc.selfIndex {
		return nil, fmt.Errorf("%w: I cannot sync from myself", models.ErrInvalidOptions)
	}
	targetConfig := &tc.cfg.Members[targetIndex]
	if targetConfig.ArbiterOnly {
		return nil, fmt.Errorf("%w: Cannot sync from %q because it is an arbiter",
			models.ErrInvalidOptions, target.String())
	}
	if !targetConfig.BuildIndexes {
		return nil, fmt.Errorf("%w: Cannot sync from %q because it does not build indexes",
			models.ErrInvalidOptions, target.String())
	}
	hbd := &tc.hbdata[targetIndex]
	if hbd.Health == models.HealthDown {
		return nil, fmt.Errorf("%w: I cannot reach the requested member: %s",
			models.ErrHostUnreachable, target.String())
	}

	resp.SyncFromRequested = target.String()
	if !tc.syncSource.IsZero() {
		resp.PrevSyncTarget = tc.syncSource.String()
	}
	if hbd.OpTime.Secs+syncSourceWarningLag < lastApplied.Secs {
		resp.Warning = fmt.Sprintf(
			"requested member %q is more than %d seconds behind us",
			target.String(), syncSourceWarningLag)
	}
	tc.syncSource = target
	tc.forceSyncSourceIndex = targetIndex
	tc.logger.Info("sync source changed by request",
		zap.String("sync_source", target.String()))
	return resp, nil
}

// PrepareStatusResponse assembles the replica-set status document. Self's
// uptime and op-time come from the call arguments; peers' entries come
// from their heartbeat records.
func (tc *Coordinator) PrepareStatusResponse(ctx context.Context, now time.Time, selfUptime time.Duration, lastApplied models.OpTime) (*models.StatusResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.ErrShutdownInProgress
	}
	if tc.cfg == nil {
		return nil, fmt.Errorf("%w: no replica set configuration installed", models.ErrReplicaSetNotFound)
	}

	members := make([]models.MemberStatus, 0, len(tc.cfg.Members))
	for i := range tc.cfg.Members {
		m := &tc.cfg.Members[i]
		if i == tc.selfIndex {
			members = append(members, tc.selfStatusEntry(m, selfUptime, lastApplied))
			continue
		}
		members = append(members, tc.peerStatusEntry(now, i, m))
	}

	return &models.StatusResponse{
		Set:     tc.cfg.Name,
		Date:    now,
		MyState: int(tc.memberState),
		Members: members,
	}, nil
}

func (tc *Coordinator) selfStatusEntry(m *models.MemberConfig, selfUptime time.Duration, lastApplied models.OpTime) models.MemberStatus {
	uptime := int64(selfUptime / time.Second)
	optime := lastApplied
	optimeDate := lastApplied.Date()
	entry := models.MemberStatus{
		ID:                   m.ID,
		Name:                 m.Host.String(),
		Health:               models.HealthUp,
		State:                int(tc.memberState),
		StateStr:             tc.memberState.String(),
		Uptime:               &uptime,
		OpTime:               &optime,
		OpTimeDate:           &optimeDate,
		LastHeartbeatMessage: tc.selfHeartbeatMessage,
		Self:                 true,
	}
	if tc.memberState.Primary() {
		electionTime := tc.electionTime
		entry.ElectionTime = &electionTime
	}
	if !tc.syncSource.IsZero() {
		entry.SyncingTo = tc.syncSource.String()
	}
	return entry
}

func (tc *Coordinator) peerStatusEntry(now time.Time, index int, m *models.MemberConfig) models.MemberStatus {
	d := &tc.hbdata[index]
	entry := models.MemberStatus{
		ID:       m.ID,
		Name:     m.Host.String(),
		Health:   d.Health,
		State:    int(d.State),
		StateStr: d.State.String(),
	}
	if d.Unknown() {
		// No heartbeat activity yet: the minimal entry only.
		return entry
	}
	if d.State == models.StateDown {
		entry.StateStr = "(not reachable/healthy)"
	}

	uptime := int64(0)
	if d.Up() && !d.UpSince.IsZero() {
		uptime = int64(now.Sub(d.UpSince) / time.Second)
	}
	entry.Uptime = &uptime

	optime := d.OpTime
	optimeDate := d.OpTime.Date()
	entry.OpTime = &optime
	entry.OpTimeDate = &optimeDate

	if !d.LastHeartbeat.IsZero() {
		lastHeartbeat := d.LastHeartbeat
		entry.LastHeartbeat = &lastHeartbeat
	}
	if !d.LastHeartbeatRecv.IsZero() {
		lastRecv := d.LastHeartbeatRecv
		entry.LastHeartbeatRecv = &lastRecv
	}
	entry.LastHeartbeatMessage = d.LastHeartbeatMessage
	if stats, ok := tc.pings[m.Host]; ok && stats.value >= 0 {
		ping := stats.value.Milliseconds()
		entry.PingMs = &ping
	}
	if d.State.Primary() {
		electionTime := d.ElectionTime
		entry.ElectionTime = &electionTime
	}
	if !d.SyncingTo.IsZero() {
		entry.SyncingTo = d.SyncingTo.String()
	}
	return entry
}

// PrepareHeartbeatResponse answers an inbound heartbeat from a peer,
// recording when the peer last contacted this node and attaching the local
// configuration when the sender's is stale.
func (tc *Coordinator) PrepareHeartbeatResponse(ctx context.Context, now time.Time, args models.HeartbeatArgs, lastApplied models.OpTime) (*models.HeartbeatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.ErrShutdownInProgress
	}
	if tc.cfg != nil && args.SetName != tc.cfg.Name {
		return nil, fmt.Errorf(
			"%w: received a heartbeat for set %q but our set name is %q",
			models.ErrReplicaSetNotFound, args.SetName, tc.cfg.Name)
	}
	tc.latestApplied = models.MaxOpTime(tc.latestApplied, lastApplied)

	resp := &models.HeartbeatResponse{
		Ok:     true,
		State:  tc.memberState,
		OpTime: lastApplied,
		Hbmsg:  tc.selfHeartbeatMessage,
		Time:   now.Unix(),
	}
	if tc.memberState.Primary() {
		resp.ElectionTime = tc.electionTime
	}
	if !tc.syncSource.IsZero() {
		resp.SyncingTo = tc.syncSource
	}
	if tc.cfg == nil {
		resp.ConfigVersion = -2
		return resp, nil
	}

	resp.SetName = tc.cfg.Name
	resp.ConfigVersion = tc.cfg.Version
	if args.ConfigVersion < tc.cfg.Version {
		resp.Config = tc.cfg
	}
	if !args.SenderHost.IsZero() {
		if i := tc.cfg.FindMemberIndex(args.SenderHost); i != -1 && i != tc.selfIndex {
			tc.hbdata[i].LastHeartbeatRecv = now
		}
	}
	return resp, nil
}

// SetFollowerMode moves this node between follower states (SECONDARY,
// RECOVERING, ROLLBACK, STARTUP2) at the runtime's direction.
func (tc *Coordinator) SetFollowerMode(state models.MemberState) {
	tc.logger.Info("member state change",
		zap.String("from", tc.memberState.String()),
		zap.String("to", state.String()),
	)
	tc.memberState = state
	if tc.currentPrimaryIndex == tc.selfIndex {
		tc.currentPrimaryIndex = -1
	}
}

// ProcessWinElection transitions this node to primary after the runtime
// completed a successful election at the given op-time.
func (tc *Coordinator) ProcessWinElection(now time.Time, electionOpTime models.OpTime) {
	tc.logger.Info("election won; transitioning to primary",
		zap.String("election_optime", electionOpTime.String()))
	tc.memberState = models.StatePrimary
	tc.currentPrimaryIndex = tc.selfIndex
	tc.electionTime = electionOpTime
	tc.syncSource = models.HostPort{}
}

// StepDownSelf relinquishes primaryship and refuses to stand again until
// now+wait has passed.
func (tc *Coordinator) StepDownSelf(now time.Time, wait time.Duration) {
	tc.logger.Info("stepping down", zap.Duration("wait", wait))
	tc.memberState = models.StateSecondary
	if tc.currentPrimaryIndex == tc.selfIndex {
		tc.currentPrimaryIndex = -1
	}
	tc.electionTime = models.OpTime{}
	tc.stepDownUntil = now.Add(wait)
}

// SetMyHeartbeatMessage sets this node's own hbmsg slot, surfaced to peers
// in heartbeat responses and in the status document.
func (tc *Coordinator) SetMyHeartbeatMessage(msg string) {
	tc.selfHeartbeatMessage = msg
}
