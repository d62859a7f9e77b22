// Package retry is the bounded-attempts, fixed-backoff combinator shared by
// every retry site.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/rs/zerolog/log"
)

type Policy struct {
	Attempts int
	Backoff  time.Duration
	// Permanent reasons fail immediately without further attempts.
	Permanent map[domain.Reason]bool
}

func NewPolicy(attempts int, wait time.Duration, permanent []string) Policy {
	p := Policy{Attempts: attempts, Backoff: wait, Permanent: make(map[domain.Reason]bool, len(permanent))}
	for _, r := range permanent {
		p.Permanent[domain.Reason(r)] = true
	}
	return p
}

func (p Policy) IsPermanent(err error) bool {
	return p.Permanent[domain.ReasonOf(err)]
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. attempt counts from 1.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context, attempt int) error) error {
	attempts := max(p.Attempts, 1)
	n := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		n++
		err := op(ctx, n)
		if err == nil {
			return struct{}{}, nil
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if p.IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Backoff)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn().Err(err).Str("module", "retry").Str("op", name).
				Int("attempt", n).Dur("wait", wait).Msg("attempt failed, retrying")
		}),
	)
	return err
}
