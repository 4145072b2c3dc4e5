package repl

import (
	"testing"
	"time"

	"quorumd.io/server/models"
)

func boolPtr(b bool) *bool { return &b }

func TestChooseSyncSourceBasic(t *testing.T) {
	f := newTopoFixture(t, Options{})
	f.updateConfig(rsConfig("rs0", 1, nil,
		member(10, "hself"),
		member(20, "h2"),
		member(30, "h3"),
	), 0)
	f.setSelfMemberState(models.StateSecondary)

	// Member h2 is the furthest ahead.
	f.heartbeatFromMember("h2", models.StateSecondary, opTime(1, 0), 0)
	f.heartbeatFromMember("h3", models.StateSecondary, opTime(0, 0), 0)

	// We start with no sync source.
	if got := f.syncSource(); got != "" {
		t.Fatalf("initial sync source = %q, want empty", got)
	}

	// Fail due to insufficient number of pings.
	f.tc.ChooseNewSyncSource(f.next(), opTime(0, 0))
	if got := f.syncSource(); got != "" {
		t.Fatalf("sync source after one round = %q, want empty", got)
	}

	// A second round of pings allows choosing; all members equidistant.
	f.heartbeatFromMember("h2", models.StateSecondary, opTime(1, 0), 0)
	f.heartbeatFromMember("h3", models.StateSecondary, opTime(0, 0), 0)

	// Should choose h2, since it is furthest ahead.
	f.tc.ChooseNewSyncSource(f.next(), opTime(0, 0))
	if got := f.syncSource(); got != "h2:7217" {
		t.Fatalf("sync source = %q, want h2:7217", got)
	}

	// h3 pulls ahead, so it should be chosen.
	f.heartbeatFromMember("h3", models.StateSecondary, opTime(2, 0), 0)
	f.tc.ChooseNewSyncSource(f.next(), opTime(0, 0))
	if got := f.syncSource(); got != "h3:7217" {
		t.Fatalf("sync source = %q, want h3:7217", got)
	}

	// h3 stops being a valid candidate; back to h2.
	f.heartbeatFromMember("h3", models.StateRecovering, opTime(2, 0), 0)
	f.tc.ChooseNewSyncSource(f.next(), opTime(0, 0))
	if got := f.syncSource(); got != "h2:7217" {
		t.Fatalf("sync source = %q, want h2:7217", got)
	}

	// h3 goes down.
	f.downMember("h3")
	f.tc.ChooseNewSyncSource(f.next(), opTime(0, 0))
	if got := f.syncSource(); got != "h2:7217" {
		t.Fatalf("sync source = %q, want h2:7217", got)
	}

	// h3 back up and ahead.
	f.heartbeatFromMember("h3", models.StateSecondary, opTime(2, 0), 0)
	f.tc.ChooseNewSyncSource(f.next(), opTime(0, 0))
	if got := f.syncSource(); got != "h3:7217" {
		t.Fatalf("sync source = %q, want h3:7217", got)
	}
}

func TestChooseSyncSourceCandidates(t *testing.T) {
	f := newTopoFixture(t, Options{})
	f.updateConfig(rsConfig("rs0", 1, nil,
		member(1, "hself"),
		member(10, "h1"),
		member(20, "h2", withoutIndexes()),
		member(30, "h3", withSlaveDelay(time.Second)),
		member(40, "h4", asArbiter()),
		member(50, "h5"),
		member(60, "h6"),
		member(70, "hprimary"),
	), 0)
	f.setSelfMemberState(models.StateSecondary)
	lastApplied := opTime(100, 0)

	beatAll := func() {
		f.heartbeatFromMember("h1", models.StateSecondary, opTime(501, 0), 700*time.Millisecond)
		f.heartbeatFromMember("h2", models.StateSecondary, opTime(501, 0), 600*time.Millisecond)
		f.heartbeatFromMember("h3", models.StateSecondary, opTime(501, 0), 500*time.Millisecond)
		f.heartbeatFromMember("h4", models.StateSecondary, opTime(501, 0), 400*time.Millisecond)
		f.heartbeatFromMember("h5", models.StateSecondary, opTime(501, 0), 300*time.Millisecond)
		// This node is lagged further than the staleness cap allows.
		f.heartbeatFromMember("h6", models.StateSecondary, opTime(469, 0), 200*time.Millisecond)
		f.heartbeatFromMember("hprimary", models.StatePrimary, opTime(501, 0), 100*time.Millisecond)
	}
	// Two rounds of pings to allow choosing a sync source.
	beatAll()
	beatAll()

	// Should choose the primary first; it's closest.
	f.tc.ChooseNewSyncSource(f.next(), lastApplied)
	if got := f.syncSource(); got != "hprimary:7217" {
		t.Fatalf("sync source = %q, want hprimary:7217", got)
	}

	// Primary latency degrades badly.
	f.heartbeatFromMember("hprimary", models.StatePrimary, opTime(501, 0), 100000*time.Second)

	// Should choose h5, the closest of the remaining candidates: h6 is
	// outside the staleness window, h2 does not build indexes, and the
	// arbiter h4 is slower than h5.
	f.tc.ChooseNewSyncSource(f.next(), lastApplied)
	if got := f.syncSource(); got != "h5:7217" {
		t.Fatalf("sync source = %q, want h5:7217", got)
	}

	// h5 goes down; the arbiter h4 has reported an op-time, so it carries
	// a log and is next closest.
	f.downMember("h5")
	f.tc.ChooseNewSyncSource(f.next(), lastApplied)
	if got := f.syncSource(); got != "h4:7217" {
		t.Fatalf("sync source = %q, want h4:7217", got)
	}

	// h4 goes down; h3 is delayed but current, so it remains eligible.
	f.downMember("h4")
	f.tc.ChooseNewSyncSource(f.next(), lastApplied)
	if got := f.syncSource(); got != "h3:7217" {
		t.Fatalf("sync source = %q, want h3:7217", got)
	}

	// h3 and h1 go down; only the distant primary remains.
	f.downMember("h3")
	f.downMember("h1")
	f.tc.ChooseNewSyncSource(f.next(), lastApplied)
	if got := f.syncSource(); got != "hprimary:7217" {
		t.Fatalf("sync source = %q, want hprimary:7217", got)
	}

	// With the primary and h6 down too, no candidate remains: h2, the
	// only member still up, does not build indexes.
	f.downMember("hprimary")
	f.downMember("h6")
	f.tc.ChooseNewSyncSource(f.next(), lastApplied)
	if got := f.syncSource(); got != "" {
		t.Fatalf("sync source = %q, want empty", got)
	}
}

func TestChooseSyncSourceChainingNotAllowed(t *testing.T) {
	f := newTopoFixture(t, Options{})
	f.updateConfig(rsConfig("rs0", 1,
		&models.ReplicaSetSettings{ChainingAllowed: boolPtr(false)},
		member(10, "hself"),
		member(20, "h2"),
		member(30, "h3"),
	), 0)
	f.setSelfMemberState(models.StateSecondary)

	f.heartbeatFromMember("h2", models.StateSecondary, opTime(1, 0), 100*time.Millisecond)
	f.heartbeatFromMember("h2", models.StateSecondary, opTime(1, 0), 100*time.Millisecond)
	f.heartbeatFromMember("h3", models.StateSecondary, opTime(0, 0), 300*time.Millisecond)
	f.heartbeatFromMember("h3", models.StateSecondary, opTime(0, 0), 300*time.Millisecond)

	// No primary in view: no sync source.
	f.tc.ChooseNewSyncSource(f.next(), opTime(0, 0))
	if got := f.syncSource(); got != "" {
		t.Fatalf("sync source = %q, want empty", got)
	}

	// h3 becomes primary and must be chosen despite its higher latency.
	f.heartbeatFromMember("h3", models.StatePrimary, opTime(0, 0), 300*time.Millisecond)
	f.tc.ChooseNewSyncSource(f.next(), opTime(0, 0))
	if got := f.syncSource(); got != "h3:7217" {
		t.Fatalf("sync source = %q, want h3:7217", got)
	}
}

func TestForceSyncSource(t *testing.T) {
	f := newTopoFixture(t, Options{})
	f.updateConfig(rsConfig("rs0", 1, nil,
		member(10, "hself"),
		member(20, "h2"),
		member(30, "h3"),
	), 0)
	f.setSelfMemberState(models.StateSecondary)

	f.heartbeatFromMember("h2", models.StateSecondary, opTime(1, 0), 300*time.Millisecond)
	f.heartbeatFromMember("h2", models.StateSecondary, opTime(1, 0), 300*time.Millisecond)
	f.heartbeatFromMember("h3", models.StateSecondary, opTime(2, 0), 100*time.Millisecond)
	f.heartbeatFromMember("h3", models.StateSecondary, opTime(2, 0), 100*time.Millisecond)

	f.tc.ChooseNewSyncSource(f.next(), opTime(0, 0))
	if got := f.syncSource(); got != "h3:7217" {
		t.Fatalf("sync source = %q, want h3:7217", got)
	}

	// The force flag wins once, even over a better candidate.
	f.tc.SetForceSyncSourceIndex(1)
	f.tc.ChooseNewSyncSource(f.next(), opTime(0, 0))
	if got := f.syncSource(); got != "h2:7217" {
		t.Fatalf("forced sync source = %q, want h2:7217", got)
	}

	// And is cleared afterwards.
	f.tc.ChooseNewSyncSource(f.next(), opTime(0, 0))
	if got := f.syncSource(); got != "h3:7217" {
		t.Fatalf("sync source after force consumed = %q, want h3:7217", got)
	}
}

func TestBlacklistSyncSource(t *testing.T) {
	f := newTopoFixture(t, Options{})
	f.updateConfig(rsConfig("rs0", 1, nil,
		member(10, "hself"),
		member(20, "h2"),
		member(30, "h3"),
	), 0)
	f.setSelfMemberState(models.StateSecondary)

	f.heartbeatFromMember("h2", models.StateSecondary, opTime(1, 0), 300*time.Millisecond)
	f.heartbeatFromMember("h2", models.StateSecondary, opTime(1, 0), 300*time.Millisecond)
	f.heartbeatFromMember("h3", models.StateSecondary, opTime(2, 0), 100*time.Millisecond)
	f.heartbeatFromMember("h3", models.StateSecondary, opTime(2, 0), 100*time.Millisecond)

	f.tc.ChooseNewSyncSource(f.next(), opTime(0, 0))
	if got := f.syncSource(); got != "h3:7217" {
		t.Fatalf("sync source = %q, want h3:7217", got)
	}

	expireTime := f.now.Add(time.Minute)
	f.tc.BlacklistSyncSource(models.MustHostPort("h3"), expireTime)
	f.tc.ChooseNewSyncSource(f.next(), opTime(0, 0))
	if got := f.syncSource(); got != "h2:7217" {
		t.Fatalf("sync source with h3 blacklisted = %q, want h2:7217", got)
	}

	// After the blacklist expires, the original choice returns.
	f.tc.ChooseNewSyncSource(expireTime, opTime(0, 0))
	if got := f.syncSource(); got != "h3:7217" {
		t.Fatalf("sync source after expiry = %q, want h3:7217", got)
	}
}

func TestChooseSyncSourceIdempotent(t *testing.T) {
	f := newTopoFixture(t, Options{})
	f.updateConfig(rsConfig("rs0", 1, nil,
		member(10, "hself"),
		member(20, "h2"),
		member(30, "h3"),
	), 0)
	f.setSelfMemberState(models.StateSecondary)

	f.heartbeatFromMember("h2", models.StateSecondary, opTime(1, 0), 100*time.Millisecond)
	f.heartbeatFromMember("h2", models.StateSecondary, opTime(1, 0), 100*time.Millisecond)
	f.heartbeatFromMember("h3", models.StateSecondary, opTime(1, 0), 200*time.Millisecond)
	f.heartbeatFromMember("h3", models.StateSecondary, opTime(1, 0), 200*time.Millisecond)

	now := f.next()
	first := f.tc.ChooseNewSyncSource(now, opTime(0, 0))
	second := f.tc.ChooseNewSyncSource(now, opTime(0, 0))
	if first != second {
		t.Fatalf("selection not idempotent: %q then %q", first, second)
	}
}
