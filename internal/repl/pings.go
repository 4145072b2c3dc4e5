package repl

import "time"

// maxHeartbeatRetries caps the number of immediate retries after a failed
// heartbeat attempt within a single round.
const maxHeartbeatRetries = 2

// pingStats tracks heartbeat round state and the round-trip estimate for one
// target, keyed by address so the estimate survives reconfigurations.
type pingStats struct {
	// count is the number of completed successful exchanges.
	count int

	// value is the smoothed round-trip estimate; -1 before any sample.
	value time.Duration

	// roundStart is when the current heartbeat round began; the per-round
	// timeout budget is measured from here.
	roundStart time.Time

	// failuresSinceStart counts consecutive failed attempts in the
	// current round. Always 0, 1, or 2; a would-be third failure ends
	// the round and resets it.
	failuresSinceStart int
}

func newPingStats() *pingStats {
	return &pingStats{value: -1}
}

// start begins a new heartbeat round at now.
func (p *pingStats) start(now time.Time) {
	p.roundStart = now
	p.failuresSinceStart = 0
}

// started reports whether a round has ever begun.
func (p *pingStats) started() bool {
	return !p.roundStart.IsZero()
}

// hit folds a successful exchange with the given round trip into the
// estimate and ends the failure streak.
func (p *pingStats) hit(rtt time.Duration) {
	p.count++
	p.failuresSinceStart = 0
	if p.value < 0 {
		p.value = rtt
	} else {
		p.value = (p.value*4 + rtt) / 5
	}
}

// miss records a failed attempt and reports whether the round is exhausted
// (the failure streak would exceed the retry cap).
func (p *pingStats) miss() bool {
	if p.failuresSinceStart >= maxHeartbeatRetries {
		p.failuresSinceStart = 0
		return true
	}
	p.failuresSinceStart++
	return false
}

// endRound closes the current round; the next prepared request starts a
// fresh one with the full timeout budget.
func (p *pingStats) endRound() {
	p.roundStart = time.Time{}
	p.failuresSinceStart = 0
}

// reset clears the failure streak, as on acceptance of a new configuration.
func (p *pingStats) reset() {
	p.failuresSinceStart = 0
}
