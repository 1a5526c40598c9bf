package checkout

import "time"

// Policy bounds retries and the processing resolution.
type Policy struct {
	// MaxAttempts counts every confirmation, the first one included.
	MaxAttempts int
	// PollInterval and PollAttempts bound how long a processing payment is
	// polled before it is optimistically treated as success.
	PollInterval time.Duration
	PollAttempts int
	// ConfirmTimeout is the hard budget of a single confirmation call.
	ConfirmTimeout time.Duration
}

var DefaultPolicy = Policy{
	MaxAttempts:    3,
	PollInterval:   3 * time.Second,
	PollAttempts:   20,
	ConfirmTimeout: 60 * time.Second,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPolicy.PollInterval
	}
	if p.PollAttempts <= 0 {
		p.PollAttempts = DefaultPolicy.PollAttempts
	}
	if p.ConfirmTimeout <= 0 {
		p.ConfirmTimeout = DefaultPolicy.ConfirmTimeout
	}
	return p
}
