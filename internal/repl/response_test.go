package repl

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"quorumd.io/server/models"
)

func TestPrepareSyncFromResponse(t *testing.T) {
	f := newTopoFixture(t, Options{})

	// An arbiter never syncs.
	f.updateConfig(rsConfig("rs0", 1, nil,
		member(0, "hself", asArbiter()),
		member(1, "h1"),
	), 0)

	staleOpTime := opTime(1, 1)
	ourOpTime := opTime(staleOpTime.Secs+11, 1)

	_, err := f.tc.PrepareSyncFromResponse(context.Background(), models.MustHostPort("h1"), ourOpTime)
	if !errors.Is(err, models.ErrNotSecondary) {
		t.Fatalf("err = %v, want ErrNotSecondary", err)
	}
	if !strings.Contains(err.Error(), "arbiters don't sync") {
		t.Fatalf("err = %v, want arbiters don't sync", err)
	}

	// Reconfigure for the remaining cases.
	f.updateConfig(rsConfig("rs0", 2, nil,
		member(0, "hself"),
		member(1, "h1", asArbiter()),
		member(2, "h2", withoutIndexes()),
		member(3, "h3"),
		member(4, "h4"),
		member(5, "h5"),
		member(6, "h6"),
	), 0)

	// While primary.
	f.makeSelfPrimary(opTime(0, 0))
	resp, err := f.tc.PrepareSyncFromResponse(context.Background(), models.MustHostPort("h3"), ourOpTime)
	if !errors.Is(err, models.ErrNotSecondary) {
		t.Fatalf("err = %v, want ErrNotSecondary", err)
	}
	if !strings.Contains(err.Error(), "primaries don't sync") {
		t.Fatalf("err = %v, want primaries don't sync", err)
	}
	if resp == nil || resp.SyncFromRequested != "h3:7217" {
		t.Fatalf("syncFromRequested = %+v, want h3:7217", resp)
	}

	// Non-existent member.
	f.setSelfMemberState(models.StateSecondary)
	_, err = f.tc.PrepareSyncFromResponse(context.Background(), models.MustHostPort("fakemember"), ourOpTime)
	if !errors.Is(err, models.ErrNodeNotFound) {
		t.Fatalf("err = %v, want ErrNodeNotFound", err)
	}
	if !strings.Contains(err.Error(), `Could not find member "fakemember:7217" in replica set`) {
		t.Fatalf("err = %v", err)
	}

	// Self.
	_, err = f.tc.PrepareSyncFromResponse(context.Background(), models.MustHostPort("hself"), ourOpTime)
	if !errors.Is(err, models.ErrInvalidOptions) {
		t.Fatalf("err = %v, want ErrInvalidOptions", err)
	}
	if !strings.Contains(err.Error(), "I cannot sync from myself") {
		t.Fatalf("err = %v", err)
	}

	// An arbiter target.
	_, err = f.tc.PrepareSyncFromResponse(context.Background(), models.MustHostPort("h1"), ourOpTime)
	if !errors.Is(err, models.ErrInvalidOptions) {
		t.Fatalf("err = %v, want ErrInvalidOptions", err)
	}
	if !strings.Contains(err.Error(), `Cannot sync from "h1:7217" because it is an arbiter`) {
		t.Fatalf("err = %v", err)
	}

	// A target that does not build indexes.
	_, err = f.tc.PrepareSyncFromResponse(context.Background(), models.MustHostPort("h2"), ourOpTime)
	if !errors.Is(err, models.ErrInvalidOptions) {
		t.Fatalf("err = %v, want ErrInvalidOptions", err)
	}
	if !strings.Contains(err.Error(), `Cannot sync from "h2:7217" because it does not build indexes`) {
		t.Fatalf("err = %v", err)
	}

	// A target that is down.
	f.downMember("h4")
	_, err = f.tc.PrepareSyncFromResponse(context.Background(), models.MustHostPort("h4"), ourOpTime)
	if !errors.Is(err, models.ErrHostUnreachable) {
		t.Fatalf("err = %v, want ErrHostUnreachable", err)
	}
	if !strings.Contains(err.Error(), "I cannot reach the requested member: h4:7217") {
		t.Fatalf("err = %v", err)
	}

	// A stale target succeeds but draws a warning.
	f.heartbeatFromMember("h5", models.StateSecondary, staleOpTime, 100*time.Millisecond)
	resp, err = f.tc.PrepareSyncFromResponse(context.Background(), models.MustHostPort("h5"), ourOpTime)
	if err != nil {
		t.Fatalf("sync from h5 failed: %v", err)
	}
	want := `requested member "h5:7217" is more than 10 seconds behind us`
	if resp.Warning != want {
		t.Fatalf("warning = %q, want %q", resp.Warning, want)
	}
	f.tc.ChooseNewSyncSource(f.next(), ourOpTime)
	if got := f.syncSource(); got != "h5:7217" {
		t.Fatalf("sync source = %q, want h5:7217", got)
	}

	// An up-to-date target succeeds silently and reports the previous
	// target.
	f.heartbeatFromMember("h6", models.StateSecondary, ourOpTime, 100*time.Millisecond)
	resp, err = f.tc.PrepareSyncFromResponse(context.Background(), models.MustHostPort("h6"), ourOpTime)
	if err != nil {
		t.Fatalf("sync from h6 failed: %v", err)
	}
	if resp.Warning != "" {
		t.Fatalf("warning = %q, want empty", resp.Warning)
	}
	if resp.PrevSyncTarget != "h5:7217" {
		t.Fatalf("prevSyncTarget = %q, want h5:7217", resp.PrevSyncTarget)
	}
	f.tc.ChooseNewSyncSource(f.next(), ourOpTime)
	if got := f.syncSource(); got != "h6:7217" {
		t.Fatalf("sync source = %q, want h6:7217", got)
	}
}

func TestPrepareStatusResponse(t *testing.T) {
	// Four members in distinct states: one down, one secondary, one never
	// heard from, and ourself as primary.
	f := newTopoFixture(t, Options{})
	f.updateConfig(rsConfig("mySet", 1, nil,
		member(0, "test0:1234"),
		member(1, "test1:1234"),
		member(2, "test2:1234"),
		member(3, "test3:1234"),
	), 3)

	electionTime := opTime(1, 2)
	oplogProgress := opTime(3, 4)
	uptime := 10 * time.Second

	// Node 0 goes down.
	f.downMember("test0:1234")
	heartbeatTime := f.now

	// Node 1 is a healthy secondary.
	target := models.MustHostPort("test1:1234")
	f.tc.PrepareHeartbeatRequest(f.next(), "mySet", target)
	hbNow := f.next()
	f.tc.ProcessHeartbeatResponse(hbNow, 4*time.Second, target, &models.HeartbeatResponse{
		Ok:     true,
		State:  models.StateSecondary,
		OpTime: oplogProgress,
		Hbmsg:  "READY",
	}, nil, models.OpTime{})

	f.makeSelfPrimary(electionTime)

	curTime := f.advance(uptime)
	status, err := f.tc.PrepareStatusResponse(context.Background(), curTime, uptime, oplogProgress)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	if status.Set != "mySet" {
		t.Fatalf("set = %q, want mySet", status.Set)
	}
	if !status.Date.Equal(curTime) {
		t.Fatalf("date = %v, want %v", status.Date, curTime)
	}
	if status.MyState != int(models.StatePrimary) {
		t.Fatalf("myState = %d, want PRIMARY", status.MyState)
	}
	if len(status.Members) != 4 {
		t.Fatalf("members = %d, want 4", len(status.Members))
	}

	// Member 0: down.
	m0 := status.Members[0]
	if m0.ID != 0 || m0.Name != "test0:1234" {
		t.Fatalf("member 0 identity: %+v", m0)
	}
	if m0.Health != models.HealthDown {
		t.Fatalf("member 0 health = %d, want 0", m0.Health)
	}
	if m0.State != int(models.StateDown) {
		t.Fatalf("member 0 state = %d, want DOWN", m0.State)
	}
	if m0.StateStr != "(not reachable/healthy)" {
		t.Fatalf("member 0 stateStr = %q", m0.StateStr)
	}
	if m0.Uptime == nil || *m0.Uptime != 0 {
		t.Fatalf("member 0 uptime = %v, want 0", m0.Uptime)
	}
	if m0.OpTime == nil || !m0.OpTime.IsZero() {
		t.Fatalf("member 0 optime = %v, want zero", m0.OpTime)
	}
	if m0.LastHeartbeat == nil || !m0.LastHeartbeat.Equal(heartbeatTime) {
		t.Fatalf("member 0 lastHeartbeat = %v, want %v", m0.LastHeartbeat, heartbeatTime)
	}

	// Member 1: secondary.
	m1 := status.Members[1]
	if m1.Health != models.HealthUp {
		t.Fatalf("member 1 health = %d, want 1", m1.Health)
	}
	if m1.State != int(models.StateSecondary) || m1.StateStr != "SECONDARY" {
		t.Fatalf("member 1 state: %+v", m1)
	}
	if m1.Uptime == nil || *m1.Uptime != int64(uptime/time.Second) {
		t.Fatalf("member 1 uptime = %v, want %d", m1.Uptime, int64(uptime/time.Second))
	}
	if m1.OpTime == nil || *m1.OpTime != oplogProgress {
		t.Fatalf("member 1 optime = %v, want %v", m1.OpTime, oplogProgress)
	}
	if m1.OpTimeDate == nil || !m1.OpTimeDate.Equal(oplogProgress.Date()) {
		t.Fatalf("member 1 optimeDate = %v", m1.OpTimeDate)
	}
	if m1.LastHeartbeat == nil || !m1.LastHeartbeat.Equal(hbNow) {
		t.Fatalf("member 1 lastHeartbeat = %v, want %v", m1.LastHeartbeat, hbNow)
	}
	if m1.LastHeartbeatMessage != "READY" {
		t.Fatalf("member 1 lastHeartbeatMessage = %q, want READY", m1.LastHeartbeatMessage)
	}
	if m1.PingMs == nil || *m1.PingMs != 4000 {
		t.Fatalf("member 1 pingMs = %v, want 4000", m1.PingMs)
	}

	// Member 2: never heard from; only the minimal fields appear.
	m2 := status.Members[2]
	if m2.Health != models.HealthUnknown {
		t.Fatalf("member 2 health = %d, want -1", m2.Health)
	}
	if m2.State != int(models.StateUnknown) || m2.StateStr != "UNKNOWN" {
		t.Fatalf("member 2 state: %+v", m2)
	}
	if m2.Uptime != nil || m2.OpTime != nil || m2.OpTimeDate != nil ||
		m2.LastHeartbeat != nil || m2.LastHeartbeatRecv != nil {
		t.Fatalf("member 2 should carry only minimal fields: %+v", m2)
	}

	// Member 3: ourself, primary.
	self := status.Members[3]
	if !self.Self {
		t.Fatal("self entry should set self:true")
	}
	if self.ID != 3 || self.Name != "test3:1234" {
		t.Fatalf("self identity: %+v", self)
	}
	if self.Health != models.HealthUp {
		t.Fatalf("self health = %d, want 1", self.Health)
	}
	if self.State != int(models.StatePrimary) || self.StateStr != "PRIMARY" {
		t.Fatalf("self state: %+v", self)
	}
	if self.Uptime == nil || *self.Uptime != int64(uptime/time.Second) {
		t.Fatalf("self uptime = %v", self.Uptime)
	}
	if self.OpTime == nil || *self.OpTime != oplogProgress {
		t.Fatalf("self optime = %v", self.OpTime)
	}
	if self.ElectionTime == nil || *self.ElectionTime != electionTime {
		t.Fatalf("self electionTime = %v, want %v", self.ElectionTime, electionTime)
	}
}

func TestPrepareHeartbeatResponse(t *testing.T) {
	f := heartbeatFixture(t)
	f.setSelfMemberState(models.StateSecondary)
	lastApplied := opTime(7, 0)

	// A sender with a stale config receives ours.
	args := models.HeartbeatArgs{
		ProtocolVersion: models.HeartbeatProtocolVersion,
		SetName:         "rs0",
		SenderID:        1,
		SenderHost:      models.MustHostPort("host2:27017"),
		ConfigVersion:   3,
	}
	now := f.next()
	resp, err := f.tc.PrepareHeartbeatResponse(context.Background(), now, args, lastApplied)
	if err != nil {
		t.Fatalf("heartbeat response failed: %v", err)
	}
	if !resp.Ok || resp.SetName != "rs0" {
		t.Fatalf("response header: %+v", resp)
	}
	if resp.State != models.StateSecondary {
		t.Fatalf("state = %v, want SECONDARY", resp.State)
	}
	if resp.OpTime != lastApplied {
		t.Fatalf("opTime = %v, want %v", resp.OpTime, lastApplied)
	}
	if resp.Config == nil || resp.Config.Version != 5 {
		t.Fatal("a stale sender should receive our config")
	}
	if !f.tc.hbdata[1].LastHeartbeatRecv.Equal(now) {
		t.Fatal("sender's lastHeartbeatRecv should be recorded")
	}

	// An up-to-date sender gets no config attached.
	args.ConfigVersion = 5
	resp, err = f.tc.PrepareHeartbeatResponse(context.Background(), f.next(), args, lastApplied)
	if err != nil {
		t.Fatalf("heartbeat response failed: %v", err)
	}
	if resp.Config != nil {
		t.Fatal("an up-to-date sender should not receive a config")
	}

	// A mismatched set name is rejected.
	args.SetName = "other"
	if _, err = f.tc.PrepareHeartbeatResponse(context.Background(), f.next(), args, lastApplied); !errors.Is(err, models.ErrReplicaSetNotFound) {
		t.Fatalf("err = %v, want ErrReplicaSetNotFound", err)
	}
}

func TestShutdownInProgress(t *testing.T) {
	f := heartbeatFixture(t)
	ctx := cancelledContext()

	if _, err := f.tc.PrepareSyncFromResponse(ctx, models.MustHostPort("host2:27017"), opTime(0, 0)); !errors.Is(err, models.ErrShutdownInProgress) {
		t.Fatalf("syncFrom err = %v, want ErrShutdownInProgress", err)
	}
	if _, err := f.tc.PrepareFreshResponse(ctx, models.FreshArgs{}, opTime(0, 0)); !errors.Is(err, models.ErrShutdownInProgress) {
		t.Fatalf("fresh err = %v, want ErrShutdownInProgress", err)
	}
	if _, err := f.tc.PrepareElectResponse(ctx, models.ElectArgs{}, f.next()); !errors.Is(err, models.ErrShutdownInProgress) {
		t.Fatalf("elect err = %v, want ErrShutdownInProgress", err)
	}
	if _, err := f.tc.PrepareFreezeResponse(ctx, f.next(), 20); !errors.Is(err, models.ErrShutdownInProgress) {
		t.Fatalf("freeze err = %v, want ErrShutdownInProgress", err)
	}
	if _, err := f.tc.PrepareStatusResponse(ctx, f.next(), 0, opTime(0, 0)); !errors.Is(err, models.ErrShutdownInProgress) {
		t.Fatalf("status err = %v, want ErrShutdownInProgress", err)
	}
	if _, err := f.tc.PrepareHeartbeatResponse(ctx, f.next(), models.HeartbeatArgs{}, opTime(0, 0)); !errors.Is(err, models.ErrShutdownInProgress) {
		t.Fatalf("heartbeat err = %v, want ErrShutdownInProgress", err)
	}

	// No state leaked from the cancelled calls.
	if !f.tc.stepDownUntil.IsZero() {
		t.Fatal("cancelled freeze must not set the step-down deadline")
	}
	if !f.tc.lastVote.when.IsZero() {
		t.Fatal("cancelled elect must not record a vote")
	}
}
