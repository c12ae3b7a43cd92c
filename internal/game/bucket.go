package game

// tokenBucket rate-limits one connection's movement input. Capacity and
// refill rate are both the configured input rate in Hz, so a client gets a
// full burst at connect and sustained input at the configured rate after.
type tokenBucket struct {
	tokens float64
	lastMs int64
}

// newTokenBucket returns a full bucket anchored at nowMs.
func newTokenBucket(nowMs int64, rateHz float64) tokenBucket {
	return tokenBucket{tokens: rateHz, lastMs: nowMs}
}

// allow refills by elapsed wall time and consumes one token. Denied calls
// still advance the refill anchor.
func (b *tokenBucket) allow(nowMs int64, rateHz float64) bool {
	dtMs := nowMs - b.lastMs
	if dtMs < 0 {
		dtMs = 0
	}
	b.lastMs = nowMs

	b.tokens += float64(dtMs) * rateHz / 1000.0
	if b.tokens > rateHz {
		b.tokens = rateHz
	}
	if b.tokens < 1.0 {
		return false
	}
	b.tokens -= 1.0
	return true
}
