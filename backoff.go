package eventfully

import (
	"math/rand"
	"time"
)

const (
	defaultBackoffBase    = 5 * time.Second
	defaultBackoffCeiling = 15 * time.Minute
)

// BackoffPolicy computes the delay before the next delivery attempt of a
// failed message. The default is exponential with full-base jitter:
//
//	delay(tryCount) = min(Base << tryCount, Ceiling) + jitter, jitter in [0, Base)
//
// so a message with Base=5s is retried roughly after 5s, 10s, 20s, 40s, ...
// capped at Ceiling.
type BackoffPolicy struct {
	Base    time.Duration
	Ceiling time.Duration
	// rand is overridable for deterministic tests; nil uses math/rand.
	rand func(n int64) int64
}

func (p BackoffPolicy) withDefaults() BackoffPolicy {
	if p.Base <= 0 {
		p.Base = defaultBackoffBase
	}
	if p.Ceiling <= 0 {
		p.Ceiling = defaultBackoffCeiling
	}
	if p.rand == nil {
		p.rand = rand.Int63n
	}

	return p
}

// Next returns the delay before attempt tryCount+1.
func (p BackoffPolicy) Next(tryCount int) time.Duration {
	p = p.withDefaults()

	delay := p.Base
	for i := 0; i < tryCount; i++ {
		delay *= 2
		if delay >= p.Ceiling {
			delay = p.Ceiling

			break
		}
	}

	return delay + time.Duration(p.rand(int64(p.Base)))
}
