package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := Init(); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
}

func TestReplMetricsRegistered(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	HeartbeatsTotal.WithLabelValues("peer:7217", "success").Inc()
	if got := testutil.ToFloat64(HeartbeatsTotal.WithLabelValues("peer:7217", "success")); got != 1 {
		t.Fatalf("heartbeats counter = %v, want 1", got)
	}

	IsPrimary.Set(1)
	if got := testutil.ToFloat64(IsPrimary); got != 1 {
		t.Fatalf("is_primary gauge = %v, want 1", got)
	}

	MemberHealth.WithLabelValues("peer:7217").Set(-1)
	if got := testutil.ToFloat64(MemberHealth.WithLabelValues("peer:7217")); got != -1 {
		t.Fatalf("member_health gauge = %v, want -1", got)
	}
}

func TestVoteKind(t *testing.T) {
	cases := map[int]string{
		1:      "yea",
		0:      "nay",
		-10000: "veto",
	}
	for vote, want := range cases {
		if got := VoteKind(vote); got != want {
			t.Fatalf("VoteKind(%d) = %q, want %q", vote, got, want)
		}
	}
}
