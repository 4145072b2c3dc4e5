// Package cluster runs the replication runtime around the topology
// coordinator: per-peer heartbeat loops, directive execution (reconfig,
// elections, step-downs), and persistence of votes and progress.
//
// The coordinator is single-threaded by contract; the manager owns the
// mutex that serializes every call into it.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"quorumd.io/server/internal/metrics"
	"quorumd.io/server/internal/repl"
	"quorumd.io/server/internal/storage"
	"quorumd.io/server/models"
)

// DefaultStepDownWait is how long a stepped-down primary refuses to stand
// for election again.
const DefaultStepDownWait = 60 * time.Second

// Transport delivers replication RPCs to peers. Implementations own all
// networking; the manager never opens a socket itself.
type Transport interface {
	// SendHeartbeat performs one heartbeat exchange and reports the
	// response and round-trip time. A deadline error must be returned as
	// (or wrapped around) models.ErrExceededTimeLimit.
	SendHeartbeat(ctx context.Context, target models.HostPort, args models.HeartbeatArgs) (*models.HeartbeatResponse, time.Duration, error)

	// SendFresh asks target for its freshness verdict on our candidacy.
	SendFresh(ctx context.Context, target models.HostPort, args models.FreshArgs) (*models.FreshResponse, error)

	// SendElect asks target for its vote in our election round.
	SendElect(ctx context.Context, target models.HostPort, args models.ElectArgs) (*models.ElectResponse, error)

	// RequestStepDown instructs a stale remote primary to step down.
	RequestStepDown(ctx context.Context, target models.HostPort) error
}

// Config holds configuration for the cluster manager.
type Config struct {
	// InstanceID is this process's UUID, used in logs.
	InstanceID string

	// SetName is the replica set this node participates in.
	SetName string

	// SelfHost is this node's own member address.
	SelfHost models.HostPort

	// StepDownWait is how long to refuse candidacy after stepping down.
	StepDownWait time.Duration
}

// Manager owns the coordinator and drives it from wall-clock time and
// transport outcomes.
type Manager struct {
	config    *Config
	coord     *repl.Coordinator
	store     *storage.Store
	transport Transport
	logger    *zap.Logger

	mu      sync.Mutex
	applied models.OpTime

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// loopCancel stops the current generation of heartbeat loops.
	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup

	// For testing - allow overriding the clock.
	now func() time.Time
}

// NewManager creates a cluster manager.
//
// Parameters:
//   - config: Cluster configuration
//   - coord: The topology coordinator to drive
//   - store: Persistence for votes, progress, and configs
//   - transport: RPC transport to peers
//   - logger: Zap logger
//
// Returns:
//   - Configured Manager
func NewManager(config *Config, coord *repl.Coordinator, store *storage.Store, transport Transport, logger *zap.Logger) *Manager {
	if config.StepDownWait <= 0 {
		config.StepDownWait = DefaultStepDownWait
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:    config,
		coord:     coord,
		store:     store,
		transport: transport,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// Start restores persisted state and begins heartbeating any configured
// peers.
func (m *Manager) Start() error {
	applied, err := m.store.AppliedOpTime()
	if err != nil {
		return fmt.Errorf("failed to restore applied optime: %w", err)
	}
	m.mu.Lock()
	m.applied = applied
	m.mu.Unlock()

	cfg, ok, err := m.store.CurrentConfig()
	if err != nil {
		return fmt.Errorf("failed to restore config: %w", err)
	}
	if ok {
		if err := m.InstallConfig(cfg); err != nil {
			return fmt.Errorf("failed to install restored config: %w", err)
		}
	}

	m.logger.Info("cluster manager started",
		zap.String("instance_id", m.config.InstanceID),
		zap.String("set", m.config.SetName),
		zap.String("self", m.config.SelfHost.String()),
		zap.Bool("configured", ok),
	)
	return nil
}

// Stop cancels all heartbeat loops and waits for them to finish.
func (m *Manager) Stop() {
	m.logger.Info("stopping cluster manager", zap.String("instance_id", m.config.InstanceID))
	m.cancel()
	m.mu.Lock()
	if m.loopCancel != nil {
		m.loopCancel()
	}
	m.mu.Unlock()
	m.loopWG.Wait()
	m.wg.Wait()
	m.logger.Info("cluster manager stopped")
}

// InstallConfig validates, persists, and installs a configuration, then
// restarts the heartbeat loops against the new membership.
func (m *Manager) InstallConfig(cfg *models.ReplicaSetConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Name != m.config.SetName {
		return fmt.Errorf("%w: config names set %q, expected %q",
			models.ErrBadValue, cfg.Name, m.config.SetName)
	}
	if err := m.store.SaveConfig(cfg); err != nil {
		return err
	}

	selfIndex := cfg.FindMemberIndex(m.config.SelfHost)

	m.mu.Lock()
	before := m.coord.MemberState()
	m.coord.UpdateConfig(cfg, selfIndex, m.now(), m.applied)
	recordStateTransition(before, m.coord.MemberState())
	if m.loopCancel != nil {
		m.loopCancel()
	}
	loopCtx, loopCancel := context.WithCancel(m.ctx)
	m.loopCancel = loopCancel
	stillPrimary := m.coord.MemberState() == models.StatePrimary
	m.mu.Unlock()

	// Superseded loops drain on their cancelled context; new ones start
	// against the new membership right away.
	for i := range cfg.Members {
		if i == selfIndex {
			continue
		}
		target := cfg.Members[i].Host
		m.loopWG.Add(1)
		go m.heartbeatLoop(loopCtx, target)
	}
	if stillPrimary {
		metrics.IsPrimary.Set(1)
	} else {
		metrics.IsPrimary.Set(0)
	}
	return nil
}

// SetAppliedOpTime records local replication progress from the log-apply
// layer.
func (m *Manager) SetAppliedOpTime(opTime models.OpTime) error {
	m.mu.Lock()
	m.applied = models.MaxOpTime(m.applied, opTime)
	m.mu.Unlock()
	return m.store.SaveAppliedOpTime(opTime)
}

// AppliedOpTime returns the last known local applied log position.
func (m *Manager) AppliedOpTime() models.OpTime {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied
}

// heartbeatLoop drives one peer: prepare, exchange, fold, act, and sleep
// until the coordinator's scheduled next attempt.
func (m *Manager) heartbeatLoop(ctx context.Context, target models.HostPort) {
	defer m.loopWG.Done()
	m.logger.Info("heartbeat loop started", zap.String("target", target.String()))

	for {
		if ctx.Err() != nil {
			m.logger.Info("heartbeat loop stopped", zap.String("target", target.String()))
			return
		}

		m.mu.Lock()
		args, timeout := m.coord.PrepareHeartbeatRequest(m.now(), m.config.SetName, target)
		m.mu.Unlock()

		sendCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			sendCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		resp, rtt, err := m.transport.SendHeartbeat(sendCtx, target, args)
		if cancel != nil {
			cancel()
		}
		if ctx.Err() != nil {
			m.logger.Info("heartbeat loop stopped", zap.String("target", target.String()))
			return
		}

		m.mu.Lock()
		action := m.coord.ProcessHeartbeatResponse(m.now(), rtt, target, resp, err, m.applied)
		m.mu.Unlock()

		m.recordHeartbeatOutcome(target, rtt, err)
		m.executeAction(ctx, action)

		wait := action.NextHeartbeatStart.Sub(m.now())
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				m.logger.Info("heartbeat loop stopped", zap.String("target", target.String()))
				return
			}
		}
	}
}

// recordStateTransition counts a self-state change, if one happened.
func recordStateTransition(from, to models.MemberState) {
	if from == to {
		return
	}
	metrics.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Manager) recordHeartbeatOutcome(target models.HostPort, rtt time.Duration, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, models.ErrExceededTimeLimit):
		outcome = "timeout"
	case err != nil:
		outcome = "failure"
	}
	metrics.HeartbeatsTotal.WithLabelValues(target.String(), outcome).Inc()
	if err == nil {
		metrics.HeartbeatRTT.Observe(rtt.Seconds())
	}

	m.mu.Lock()
	cfg := m.coord.Config()
	if cfg != nil {
		if i := cfg.FindMemberIndex(target); i != -1 {
			// The gauge follows the coordinator's view, not the raw
			// outcome: a retried failure leaves the member up.
			metrics.MemberHealth.WithLabelValues(target.String()).Set(float64(m.coord.MemberHealth(i)))
		}
	}
	m.mu.Unlock()
}

// executeAction carries out a directive returned by the coordinator.
func (m *Manager) executeAction(ctx context.Context, action repl.HeartbeatResponseAction) {
	switch action.Kind {
	case repl.NoAction:

	case repl.ReconfigAction:
		m.logger.Info("applying configuration learned from heartbeat",
			zap.Int64("version", action.NewConfig.Version))
		if err := m.InstallConfig(action.NewConfig); err != nil {
			m.logger.Error("failed to install config from heartbeat", zap.Error(err))
		}

	case repl.StartElectionAction:
		metrics.ElectionsStarted.Inc()
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.standForElection(ctx)
		}()

	case repl.StepDownSelfAction:
		m.mu.Lock()
		before := m.coord.MemberState()
		m.coord.StepDownSelf(m.now(), m.config.StepDownWait)
		recordStateTransition(before, m.coord.MemberState())
		m.mu.Unlock()
		metrics.IsPrimary.Set(0)

	case repl.StepDownRemotePrimaryAction:
		m.mu.Lock()
		cfg := m.coord.Config()
		var target models.HostPort
		if cfg != nil && action.PrimaryIndex >= 0 && action.PrimaryIndex < len(cfg.Members) {
			target = cfg.Members[action.PrimaryIndex].Host
		}
		m.mu.Unlock()
		if target.IsZero() {
			return
		}
		m.logger.Warn("requesting step-down of stale remote primary",
			zap.String("target", target.String()))
		if err := m.transport.RequestStepDown(ctx, target); err != nil {
			m.logger.Error("step-down request failed",
				zap.String("target", target.String()),
				zap.Error(err))
		}
	}
}

// standForElection runs the candidate side of an election: probe every
// peer's freshness verdict, then solicit votes, and assume primaryship on
// a majority.
func (m *Manager) standForElection(ctx context.Context) {
	m.mu.Lock()
	cfg := m.coord.Config()
	selfIndex := m.coord.SelfIndex()
	applied := m.applied
	m.mu.Unlock()
	if cfg == nil || selfIndex < 0 {
		return
	}
	self := cfg.Members[selfIndex]

	freshArgs := models.FreshArgs{
		SetName:       cfg.Name,
		ConfigVersion: cfg.Version,
		ID:            self.ID,
		Who:           self.Host,
		OpTime:        applied,
	}
	for i := range cfg.Members {
		if i == selfIndex {
			continue
		}
		resp, err := m.transport.SendFresh(ctx, cfg.Members[i].Host, freshArgs)
		if err != nil {
			continue
		}
		if resp.Veto || resp.Fresher {
			m.logger.Info("abandoning candidacy",
				zap.String("peer", cfg.Members[i].Host.String()),
				zap.Bool("veto", resp.Veto),
				zap.Bool("fresher", resp.Fresher),
				zap.String("errmsg", resp.Errmsg),
			)
			return
		}
	}

	electArgs := models.ElectArgs{
		SetName:       cfg.Name,
		Round:         models.NewRound(),
		ConfigVersion: cfg.Version,
		WhoID:         self.ID,
	}
	votes := self.Votes
	for i := range cfg.Members {
		if i == selfIndex || !cfg.Members[i].IsVoter() {
			continue
		}
		resp, err := m.transport.SendElect(ctx, cfg.Members[i].Host, electArgs)
		if err != nil {
			continue
		}
		votes += resp.Vote
	}
	if votes*2 <= cfg.TotalVotes() {
		m.logger.Info("election lost", zap.Int("votes", votes), zap.Int("total", cfg.TotalVotes()))
		return
	}

	m.mu.Lock()
	now := m.now()
	electionOpTime := models.OpTime{Secs: uint32(now.Unix()), Counter: 0}
	before := m.coord.MemberState()
	m.coord.ProcessWinElection(now, electionOpTime)
	recordStateTransition(before, m.coord.MemberState())
	m.mu.Unlock()
	metrics.IsPrimary.Set(1)
	m.logger.Info("election won", zap.Int("votes", votes))
}

// HandleHeartbeat answers an inbound heartbeat from a peer.
func (m *Manager) HandleHeartbeat(ctx context.Context, args models.HeartbeatArgs) (*models.HeartbeatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coord.PrepareHeartbeatResponse(ctx, m.now(), args, m.applied)
}

// HandleFresh answers an inbound freshness probe.
func (m *Manager) HandleFresh(ctx context.Context, args models.FreshArgs) (*models.FreshResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coord.PrepareFreshResponse(ctx, args, m.applied)
}

// HandleElect answers an inbound vote request and persists yea votes.
func (m *Manager) HandleElect(ctx context.Context, args models.ElectArgs) (*models.ElectResponse, error) {
	m.mu.Lock()
	now := m.now()
	resp, err := m.coord.PrepareElectResponse(ctx, args, now)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	metrics.ElectionVotes.WithLabelValues(metrics.VoteKind(resp.Vote)).Inc()
	if resp.Vote == 1 {
		if err := m.store.SaveLastVote(args.WhoID, now); err != nil {
			m.logger.Error("failed to persist vote", zap.Error(err))
		}
	}
	return resp, nil
}

// HandleFreeze answers an inbound freeze command.
func (m *Manager) HandleFreeze(ctx context.Context, secs int) (*models.FreezeResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coord.PrepareFreezeResponse(ctx, m.now(), secs)
}

// HandleSyncFrom answers an operator's sync-from request.
func (m *Manager) HandleSyncFrom(ctx context.Context, target models.HostPort) (*models.SyncFromResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, err := m.coord.PrepareSyncFromResponse(ctx, target, m.applied)
	if err == nil {
		metrics.SyncSourceChanges.Inc()
	}
	return resp, err
}

// HandleStepDown forces this node to step down, as when a fresher primary
// requested it over the wire.
func (m *Manager) HandleStepDown(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return models.ErrShutdownInProgress
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.coord.MemberState() != models.StatePrimary {
		return fmt.Errorf("%w: not primary", models.ErrNotSecondary)
	}
	m.coord.StepDownSelf(m.now(), m.config.StepDownWait)
	recordStateTransition(models.StatePrimary, m.coord.MemberState())
	metrics.IsPrimary.Set(0)
	return nil
}

// Status assembles the replica-set status document.
func (m *Manager) Status(ctx context.Context, uptime time.Duration) (*models.StatusResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coord.PrepareStatusResponse(ctx, m.now(), uptime, m.applied)
}

// ChooseNewSyncSource reselects the sync source and returns the choice.
func (m *Manager) ChooseNewSyncSource() models.HostPort {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coord.ChooseNewSyncSource(m.now(), m.applied)
}

// BlacklistSyncSource temporarily excludes a host from selection.
func (m *Manager) BlacklistSyncSource(host models.HostPort, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coord.BlacklistSyncSource(host, until)
}

// MemberState returns this node's current state.
func (m *Manager) MemberState() models.MemberState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coord.MemberState()
}
